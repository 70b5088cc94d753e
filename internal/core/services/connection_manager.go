package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/pkg/validation"
)

// ConnectionManager is the single entry point the handler layer talks
// to. It composes the pool, recovery engine, health monitor, quality
// manager and streaming manager, and owns their background loops.
type ConnectionManager struct {
	pool      *ConnectionPool
	recovery  *RecoveryEngine
	monitor   *HealthMonitor
	collector *MetricsCollector
	quality   *QualityManager
	streaming *StreamingManager
	bus       ports.EventBus
	logger    *zap.SugaredLogger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      sync.WaitGroup
}

// NewConnectionManager wires the subsystem facade.
func NewConnectionManager(
	pool *ConnectionPool,
	recovery *RecoveryEngine,
	monitor *HealthMonitor,
	collector *MetricsCollector,
	quality *QualityManager,
	streaming *StreamingManager,
	bus ports.EventBus,
	logger *zap.SugaredLogger,
) *ConnectionManager {
	return &ConnectionManager{
		pool:      pool,
		recovery:  recovery,
		monitor:   monitor,
		collector: collector,
		quality:   quality,
		streaming: streaming,
		bus:       bus,
		logger:    logger,
	}
}

// Start launches the background loops and feeds the bus into the health
// monitor. Safe to call once; subsequent calls are no-ops.
func (c *ConnectionManager) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)

		if err := c.bus.Subscribe("health-monitor", domain.DefaultFilter(), c.monitor.HandleEvent); err != nil {
			c.logger.Warnw("health monitor subscription failed", "error", err)
		}
		if err := c.bus.Subscribe("stream-incidents", domain.DefaultFilter(), c.handleStreamIncident); err != nil {
			c.logger.Warnw("stream incident subscription failed", "error", err)
		}

		// Every health check hands its derived metrics to the quality
		// machine as a network sample.
		c.monitor.SetNetworkFeed(c.quality.UpdateNetworkMetrics)

		c.streaming.SetNotifier(func(guildID domain.GuildID, session domain.StreamingSession) {
			// Low stream health feeds the quality machine as a stability
			// signal rather than forcing a reconnect here.
			c.quality.UpdateQualityMetrics(guildID, domain.QualityMetrics{
				BufferHealth:        100 - float64(session.BufferUnderruns)*10,
				EncodingPerformance: 100,
				StreamStability:     session.HealthScore,
				AverageQualityScore: session.HealthScore,
			})
		})

		loops := []func(context.Context){
			c.pool.StartCleanupLoop,
			c.monitor.Start,
			c.quality.Start,
			c.streaming.Start,
		}
		for _, loop := range loops {
			loop := loop
			c.done.Add(1)
			go func() {
				defer c.done.Done()
				loop(ctx)
			}()
		}

		c.logger.Infow("connection manager started")
	})
}

// handleStreamIncident maps connection and gateway events onto the
// active stream's incident counters.
func (c *ConnectionManager) handleStreamIncident(e domain.Event) {
	switch e.Type {
	case domain.EventConnectionClosed, domain.EventGatewayHeartbeatLost:
		c.streaming.RecordConnectionDrop(e.GuildID)
	case domain.EventConnectionEstablished, domain.EventGatewayResumed:
		c.streaming.MarkPlaying(e.GuildID)
	case domain.EventJitterHigh:
		// Jitter past the playout buffer surfaces as underruns.
		c.streaming.RecordBufferUnderrun(e.GuildID)
	}
}

// VoiceServerUpdate handles new voice credentials for a guild: it dials
// (or reuses) the pooled connection and puts the guild under health and
// quality management.
func (c *ConnectionManager) VoiceServerUpdate(ctx context.Context, guildID domain.GuildID, channelID, userID string, info domain.VoiceServerInfo) error {
	if err := validation.ValidateGuildID(guildID.String()); err != nil {
		return err
	}

	handle, err := c.pool.GetConnection(ctx, guildID, channelID, userID, info)
	if err != nil {
		return err
	}

	c.monitor.Register(guildID, handle.Transport())
	c.quality.Register(guildID)
	return nil
}

// Disconnect tears down everything the guild holds: stream, pooled
// connection, monitoring and quality state. Idempotent.
func (c *ConnectionManager) Disconnect(ctx context.Context, guildID domain.GuildID) error {
	if err := c.streaming.StopStream(ctx, guildID); err != nil && err != domain.ErrNoActiveStream {
		c.logger.Warnw("stream stop during disconnect failed", "guild_id", guildID, "error", err)
	}

	err := c.pool.RemoveConnection(ctx, guildID)

	c.monitor.Unregister(guildID)
	c.quality.Unregister(guildID)
	c.collector.Reset(guildID)
	return err
}

// Play starts a stream on the guild's connection.
func (c *ConnectionManager) Play(ctx context.Context, guildID domain.GuildID, trackURI string) (domain.StreamingSession, error) {
	if _, ok := c.pool.GetHandle(guildID); !ok {
		return domain.StreamingSession{}, domain.ErrGuildNotFound
	}
	return c.streaming.StartStream(ctx, guildID, trackURI)
}

// Stop ends the guild's stream, keeping the connection.
func (c *ConnectionManager) Stop(ctx context.Context, guildID domain.GuildID) error {
	return c.streaming.StopStream(ctx, guildID)
}

// Queries. Thin passthroughs so handlers depend on one type.

func (c *ConnectionManager) GetConnectionInfo(guildID domain.GuildID) (domain.ConnectionInfo, bool) {
	return c.pool.GetConnectionInfo(guildID)
}

func (c *ConnectionManager) GetPoolMetrics() domain.PoolMetrics {
	return c.pool.GetMetrics()
}

func (c *ConnectionManager) ActiveGuilds() []domain.GuildID {
	return c.pool.ActiveGuilds()
}

func (c *ConnectionManager) GetRecoveryState(guildID domain.GuildID) (domain.RecoveryState, bool) {
	return c.recovery.GetRecoveryState(guildID)
}

func (c *ConnectionManager) ForceCloseCircuitBreaker(guildID domain.GuildID) {
	c.recovery.ForceCloseCircuitBreaker(guildID)
}

func (c *ConnectionManager) ResetRecoveryState(guildID domain.GuildID) {
	c.recovery.ResetRecoveryState(guildID)
}

func (c *ConnectionManager) GetHealthStatus(guildID domain.GuildID) (domain.HealthCheckResult, bool) {
	return c.monitor.GetHealthStatus(guildID)
}

func (c *ConnectionManager) GetAllHealthStatus() map[domain.GuildID]domain.HealthCheckResult {
	return c.monitor.GetAllHealthStatus()
}

func (c *ConnectionManager) GetMonitoringSummary() domain.MonitoringSummary {
	return c.monitor.GetMonitoringSummary()
}

func (c *ConnectionManager) GetAlerts() []domain.MonitoringAlert {
	return c.monitor.GetAlerts()
}

func (c *ConnectionManager) AcknowledgeAlert(alertID string) error {
	return c.monitor.AcknowledgeAlert(alertID)
}

func (c *ConnectionManager) GetPerformanceMetrics(guildID domain.GuildID) domain.ConnectionPerformanceMetrics {
	return c.collector.Generate(guildID)
}

func (c *ConnectionManager) GetQualityState(guildID domain.GuildID) (QualityState, bool) {
	return c.quality.GetQualityState(guildID)
}

func (c *ConnectionManager) ApplyQualityPreset(guildID domain.GuildID, preset domain.QualityPreset) error {
	return c.quality.ApplyPreset(guildID, preset)
}

func (c *ConnectionManager) GenerateQualityReport() QualityReport {
	return c.quality.GenerateQualityReport()
}

func (c *ConnectionManager) GetStream(guildID domain.GuildID) (domain.StreamingSession, bool) {
	return c.streaming.GetStream(guildID)
}

func (c *ConnectionManager) ActiveStreams() []domain.StreamingSession {
	return c.streaming.ActiveStreams()
}

// Shutdown stops background loops and closes everything.
func (c *ConnectionManager) Shutdown(ctx context.Context) {
	if c.cancel != nil {
		c.cancel()
	}

	c.streaming.Shutdown(ctx)
	c.pool.Shutdown(ctx)
	c.bus.Unsubscribe("health-monitor")
	c.bus.Unsubscribe("stream-incidents")
	c.done.Wait()

	c.logger.Infow("connection manager stopped")
}

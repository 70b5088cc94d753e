package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	apperrors "voicelink/pkg/errors"
	"voicelink/pkg/idgen"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxConnections  int
	MaxIdleTime     time.Duration
	CleanupInterval time.Duration
}

// DefaultPoolConfig returns production defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:  100,
		MaxIdleTime:     10 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// ConnectionHandle is the opaque per-guild handle returned to callers.
// Beyond identity, callers can only ask whether it is open.
type ConnectionHandle struct {
	guildID   domain.GuildID
	transport ports.VoiceTransport
}

func (h *ConnectionHandle) GuildID() domain.GuildID {
	return h.guildID
}

func (h *ConnectionHandle) IsOpen() bool {
	return h.transport != nil && h.transport.IsOpen()
}

// Transport exposes the underlying capability to the health monitor's
// ping probe. Other callers should stick to IsOpen.
func (h *ConnectionHandle) Transport() ports.VoiceTransport {
	return h.transport
}

type pooledConnection struct {
	transport ports.VoiceTransport
	info      domain.ConnectionInfo
	dialing   bool
}

// ConnectionPool bounds total concurrent voice connections, reuses live
// ones by guild key and evicts idle ones. It is the sole authority for
// admission control.
type ConnectionPool struct {
	cfg      PoolConfig
	recovery *RecoveryEngine
	factory  ports.TransportFactory
	events   ports.EventPublisher
	ids      idgen.Generator
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	conns   map[domain.GuildID]*pooledConnection
	metrics domain.PoolMetrics
}

// NewConnectionPool creates a bounded pool.
func NewConnectionPool(cfg PoolConfig, recovery *RecoveryEngine, factory ports.TransportFactory, events ports.EventPublisher, ids idgen.Generator, logger *zap.SugaredLogger) *ConnectionPool {
	return &ConnectionPool{
		cfg:      cfg,
		recovery: recovery,
		factory:  factory,
		events:   events,
		ids:      ids,
		logger:   logger,
		conns:    make(map[domain.GuildID]*pooledConnection),
	}
}

// GetConnection returns the guild's live connection, refreshing its
// last-used time, or dials a new one through the recovery engine. The
// pool lock is never held across the dial.
func (p *ConnectionPool) GetConnection(ctx context.Context, guildID domain.GuildID, channelID, userID string, info domain.VoiceServerInfo) (*ConnectionHandle, error) {
	p.mu.Lock()
	if conn, ok := p.conns[guildID]; ok && !conn.dialing {
		if conn.info.IsActive && conn.transport.IsOpen() {
			conn.info.LastUsed = time.Now()
			p.mu.Unlock()
			p.publish(guildID, domain.EventConnectionReused, nil)
			return &ConnectionHandle{guildID: guildID, transport: conn.transport}, nil
		}
		// Dead connection still in the map: replace it below.
		delete(p.conns, guildID)
		p.metrics.ActiveConnections--
	}

	if len(p.conns) >= p.cfg.MaxConnections {
		active := len(p.conns)
		p.mu.Unlock()
		p.publish(guildID, domain.EventPoolExhausted, domain.PoolData{
			ActiveConnections: active,
			MaxConnections:    p.cfg.MaxConnections,
		})
		return nil, &apperrors.PoolExhaustedError{Active: active, Max: p.cfg.MaxConnections}
	}

	// Reserve the slot so concurrent callers respect the bound while we
	// dial without holding the pool lock.
	placeholder := &pooledConnection{dialing: true}
	p.conns[guildID] = placeholder
	p.mu.Unlock()

	p.publish(guildID, domain.EventConnectionRequested, nil)

	transport := p.factory.NewTransport(guildID)
	start := time.Now()
	err := p.recovery.Connect(ctx, guildID, transport, info)
	elapsed := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		delete(p.conns, guildID)
		p.metrics.FailedConnections++
		p.publish(guildID, domain.EventConnectionFailed, domain.ConnectionFailedData{
			Classification: apperrors.Classify(err).String(),
			Error:          err.Error(),
		})
		return nil, err
	}

	now := time.Now()
	placeholder.dialing = false
	placeholder.transport = transport
	placeholder.info = domain.ConnectionInfo{
		GuildID:            guildID,
		ChannelID:          channelID,
		UserID:             userID,
		CreatedAt:          now,
		LastUsed:           now,
		ConnectionAttempts: 1,
		IsActive:           true,
		IsHealthy:          true,
	}

	p.metrics.TotalConnections++
	p.metrics.SuccessfulConnections++
	p.metrics.ActiveConnections++
	// Incremental mean keeps the average without storing samples.
	p.metrics.AvgConnectTimeMs += (float64(elapsed.Milliseconds()) - p.metrics.AvgConnectTimeMs) / float64(p.metrics.SuccessfulConnections)

	p.logger.Infow("voice connection established",
		"guild_id", guildID,
		"connect_time_ms", elapsed.Milliseconds(),
		"active_connections", p.metrics.ActiveConnections,
	)
	p.publish(guildID, domain.EventPoolConnectionAdded, domain.PoolData{
		ActiveConnections: p.metrics.ActiveConnections,
		MaxConnections:    p.cfg.MaxConnections,
	})
	p.publish(guildID, domain.EventConnectionEstablished, nil)

	return &ConnectionHandle{guildID: guildID, transport: transport}, nil
}

// GetHandle returns the live handle for a guild without dialing.
func (p *ConnectionPool) GetHandle(guildID domain.GuildID) (*ConnectionHandle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.conns[guildID]
	if !ok || conn.dialing {
		return nil, false
	}
	return &ConnectionHandle{guildID: guildID, transport: conn.transport}, true
}

// RemoveConnection disconnects and forgets a guild's connection.
// Idempotent: removing an absent guild is a no-op.
func (p *ConnectionPool) RemoveConnection(ctx context.Context, guildID domain.GuildID) error {
	p.mu.Lock()
	conn, ok := p.conns[guildID]
	if ok {
		delete(p.conns, guildID)
		if !conn.dialing {
			p.metrics.ActiveConnections--
		}
	}
	p.mu.Unlock()

	if !ok || conn.dialing {
		return nil
	}

	err := conn.transport.Disconnect(ctx)
	if err != nil {
		p.logger.Warnw("transport disconnect failed", "guild_id", guildID, "error", err)
	}

	p.publish(guildID, domain.EventPoolConnectionRemoved, nil)
	p.publish(guildID, domain.EventConnectionClosed, nil)
	return err
}

// CleanupIdleConnections evicts exactly the connections idle beyond
// MaxIdleTime and returns how many were removed. Intended to run on a
// timer, not the hot path.
func (p *ConnectionPool) CleanupIdleConnections(ctx context.Context) int {
	p.mu.Lock()
	var idle []domain.GuildID
	for guildID, conn := range p.conns {
		if conn.dialing {
			continue
		}
		if time.Since(conn.info.LastUsed) > p.cfg.MaxIdleTime {
			idle = append(idle, guildID)
		}
	}
	p.mu.Unlock()

	for _, guildID := range idle {
		if err := p.RemoveConnection(ctx, guildID); err == nil {
			p.publish(guildID, domain.EventPoolIdleEvicted, nil)
		}
	}

	if len(idle) > 0 {
		p.mu.Lock()
		p.metrics.IdleEvictions += len(idle)
		p.mu.Unlock()
		p.logger.Infow("evicted idle voice connections", "count", len(idle))
	}
	return len(idle)
}

// StartCleanupLoop runs idle eviction until the context is done.
func (p *ConnectionPool) StartCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CleanupIdleConnections(ctx)
		}
	}
}

// GetMetrics returns a snapshot of pool-wide counters.
func (p *ConnectionPool) GetMetrics() domain.PoolMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

// GetConnectionInfo returns bookkeeping for one guild.
func (p *ConnectionPool) GetConnectionInfo(guildID domain.GuildID) (domain.ConnectionInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.conns[guildID]
	if !ok || conn.dialing {
		return domain.ConnectionInfo{}, false
	}
	return conn.info, true
}

// ActiveGuilds lists guilds with pooled connections.
func (p *ConnectionPool) ActiveGuilds() []domain.GuildID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	guilds := make([]domain.GuildID, 0, len(p.conns))
	for guildID, conn := range p.conns {
		if !conn.dialing {
			guilds = append(guilds, guildID)
		}
	}
	return guilds
}

// Shutdown disconnects every pooled connection.
func (p *ConnectionPool) Shutdown(ctx context.Context) {
	for _, guildID := range p.ActiveGuilds() {
		_ = p.RemoveConnection(ctx, guildID)
	}
}

func (p *ConnectionPool) publish(guildID domain.GuildID, t domain.EventType, data interface{}) {
	if p.events == nil {
		return
	}
	p.events.Publish(domain.Event{
		ID:        p.ids.NewID(),
		Type:      t,
		GuildID:   guildID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

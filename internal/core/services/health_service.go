package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/pkg/idgen"
)

// MonitoringConfig tunes the health monitor.
type MonitoringConfig struct {
	HealthCheckInterval        time.Duration
	PingTimeout                time.Duration
	LatencyDegradedMs          float64
	LatencyUnhealthyMs         float64
	PacketLossDegradedPercent  float64
	PacketLossUnhealthyPercent float64
	HistoryLimit               int
}

// DefaultMonitoringConfig returns production defaults.
func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		HealthCheckInterval:        30 * time.Second,
		PingTimeout:                5 * time.Second,
		LatencyDegradedMs:          150,
		LatencyUnhealthyMs:         300,
		PacketLossDegradedPercent:  2,
		PacketLossUnhealthyPercent: 5,
		HistoryLimit:               100,
	}
}

const (
	acknowledgedAlertTTL = time.Hour
	maxRetainedAlerts    = 200
)

// HealthMonitor periodically classifies every monitored guild from the
// metrics collector's derived output, keeps rolling history, and raises
// alerts on transitions into Unhealthy or Critical. It is best-effort:
// nothing here ever propagates a failure into the connection path.
type HealthMonitor struct {
	cfg       MonitoringConfig
	collector *MetricsCollector
	events    ports.EventPublisher
	ids       idgen.Generator
	logger    *zap.SugaredLogger

	mu        sync.RWMutex
	monitored map[domain.GuildID]ports.VoiceTransport
	results   map[domain.GuildID]domain.HealthCheckResult
	history   map[domain.GuildID][]domain.HealthCheckResult
	feed      NetworkFeed

	alertMu sync.Mutex
	alerts  []domain.MonitoringAlert
	sinks   []ports.AlertSink
}

// NewHealthMonitor creates a monitor over the given collector.
func NewHealthMonitor(cfg MonitoringConfig, collector *MetricsCollector, events ports.EventPublisher, ids idgen.Generator, logger *zap.SugaredLogger) *HealthMonitor {
	return &HealthMonitor{
		cfg:       cfg,
		collector: collector,
		events:    events,
		ids:       ids,
		logger:    logger,
		monitored: make(map[domain.GuildID]ports.VoiceTransport),
		results:   make(map[domain.GuildID]domain.HealthCheckResult),
		history:   make(map[domain.GuildID][]domain.HealthCheckResult),
	}
}

// NetworkFeed receives the collector's derived metrics translated into
// a network sample, once per evaluation that carries real data.
type NetworkFeed func(guildID domain.GuildID, m domain.NetworkMetrics)

// SetNetworkFeed wires the per-check sample consumer. The health loop
// is the production source of network samples for the quality machine.
func (h *HealthMonitor) SetNetworkFeed(feed NetworkFeed) {
	h.mu.Lock()
	h.feed = feed
	h.mu.Unlock()
}

// Register puts a guild's transport under monitoring. Idempotent.
func (h *HealthMonitor) Register(guildID domain.GuildID, transport ports.VoiceTransport) {
	h.mu.Lock()
	h.monitored[guildID] = transport
	h.mu.Unlock()
}

// Unregister stops monitoring a guild. Idempotent; history and the last
// result are kept for later inspection.
func (h *HealthMonitor) Unregister(guildID domain.GuildID) {
	h.mu.Lock()
	delete(h.monitored, guildID)
	h.mu.Unlock()
}

// RegisterAlertSink adds an alert observer.
func (h *HealthMonitor) RegisterAlertSink(sink ports.AlertSink) {
	h.alertMu.Lock()
	h.sinks = append(h.sinks, sink)
	h.alertMu.Unlock()
}

// Start runs the periodic check loop until the context is done.
func (h *HealthMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckAll(ctx)
			h.expireAlerts()
		}
	}
}

// CheckAll snapshots the monitored set and checks every guild in its
// own goroutine so one slow transport cannot stall the others.
func (h *HealthMonitor) CheckAll(ctx context.Context) {
	h.mu.RLock()
	guilds := make([]domain.GuildID, 0, len(h.monitored))
	for guildID := range h.monitored {
		guilds = append(guilds, guildID)
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, guildID := range guilds {
		wg.Add(1)
		go func(g domain.GuildID) {
			defer wg.Done()
			h.checkGuild(ctx, g)
		}(guildID)
	}
	wg.Wait()
}

func (h *HealthMonitor) checkGuild(ctx context.Context, guildID domain.GuildID) {
	metrics := h.collector.Generate(guildID)
	h.evaluate(guildID, metrics)
}

// evaluate classifies a metrics snapshot, stores the result and raises
// alerts on transitions into Unhealthy/Critical.
func (h *HealthMonitor) evaluate(guildID domain.GuildID, metrics domain.ConnectionPerformanceMetrics) {
	status, issues, recommendations := h.classify(metrics)

	result := domain.HealthCheckResult{
		GuildID:         guildID,
		Status:          status,
		Metrics:         metrics,
		LastCheck:       time.Now(),
		Issues:          issues,
		Recommendations: recommendations,
	}

	h.mu.Lock()
	previous, hadPrevious := h.results[guildID]
	h.results[guildID] = result
	hist := append(h.history[guildID], result)
	if len(hist) > h.cfg.HistoryLimit {
		hist = hist[len(hist)-h.cfg.HistoryLimit:]
	}
	h.history[guildID] = hist
	feed := h.feed
	h.mu.Unlock()

	if feed != nil && status != domain.HealthUnknown {
		feed(guildID, domain.NetworkMetrics{
			PacketLossPercent: metrics.PacketLossPercent,
			RTTMs:             metrics.AvgLatencyMs,
			JitterMs:          metrics.JitterMs,
			Timestamp:         result.LastCheck,
		})
	}

	h.publish(guildID, domain.EventHealthCheckCompleted, domain.HealthData{
		Status: status,
		Score:  metrics.AudioQualityScore,
	})

	wasBad := hadPrevious && (previous.Status == domain.HealthUnhealthy || previous.Status == domain.HealthCritical)
	isBad := status == domain.HealthUnhealthy || status == domain.HealthCritical

	switch {
	case isBad && !wasBad:
		h.publish(guildID, domain.EventHealthDegraded, domain.HealthData{Status: status, Score: metrics.AudioQualityScore})
		h.raiseAlert(guildID, status, issues, recommendations)
	case !isBad && wasBad && status == domain.HealthHealthy:
		h.publish(guildID, domain.EventHealthRecovered, domain.HealthData{Status: status, Score: metrics.AudioQualityScore})
	}
}

// classify applies the fixed thresholds. Critical triggers at twice the
// unhealthy thresholds.
func (h *HealthMonitor) classify(m domain.ConnectionPerformanceMetrics) (domain.HealthStatus, []string, []string) {
	if m.AvgLatencyMs == 0 && m.UptimeSeconds == 0 && m.ReconnectionCount == 0 {
		return domain.HealthUnknown, nil, nil
	}

	var issues, recommendations []string
	status := domain.HealthHealthy

	switch {
	case m.AvgLatencyMs >= 2*h.cfg.LatencyUnhealthyMs:
		status = domain.HealthCritical
		issues = append(issues, fmt.Sprintf("latency critical: %.0fms", m.AvgLatencyMs))
		recommendations = append(recommendations, "check the route to the voice endpoint or move the guild region")
	case m.AvgLatencyMs >= h.cfg.LatencyUnhealthyMs:
		status = domain.HealthUnhealthy
		issues = append(issues, fmt.Sprintf("latency unhealthy: %.0fms", m.AvgLatencyMs))
		recommendations = append(recommendations, "consider lowering the quality preset")
	case m.AvgLatencyMs >= h.cfg.LatencyDegradedMs:
		status = domain.HealthDegraded
		issues = append(issues, fmt.Sprintf("latency degraded: %.0fms", m.AvgLatencyMs))
	}

	switch {
	case m.PacketLossPercent >= 2*h.cfg.PacketLossUnhealthyPercent:
		status = domain.HealthCritical
		issues = append(issues, fmt.Sprintf("packet loss critical: %.1f%%", m.PacketLossPercent))
		recommendations = append(recommendations, "force a reconnect or drop to the voice preset")
	case m.PacketLossPercent >= h.cfg.PacketLossUnhealthyPercent:
		if status != domain.HealthCritical {
			status = domain.HealthUnhealthy
		}
		issues = append(issues, fmt.Sprintf("packet loss unhealthy: %.1f%%", m.PacketLossPercent))
		recommendations = append(recommendations, "consider lowering the quality preset")
	case m.PacketLossPercent >= h.cfg.PacketLossDegradedPercent:
		if status == domain.HealthHealthy {
			status = domain.HealthDegraded
		}
		issues = append(issues, fmt.Sprintf("packet loss degraded: %.1f%%", m.PacketLossPercent))
	}

	return status, issues, recommendations
}

func (h *HealthMonitor) raiseAlert(guildID domain.GuildID, status domain.HealthStatus, issues, recommendations []string) {
	severity := domain.SeverityError
	if status == domain.HealthCritical {
		severity = domain.SeverityCritical
	}

	message := fmt.Sprintf("guild %s is %s", guildID, status)
	if len(issues) > 0 {
		message = fmt.Sprintf("%s: %s", message, issues[0])
	}

	alert := domain.MonitoringAlert{
		ID:               h.ids.NewID(),
		GuildID:          guildID,
		Severity:         severity,
		Message:          message,
		CreatedAt:        time.Now(),
		SuggestedActions: recommendations,
	}

	h.alertMu.Lock()
	h.alerts = append(h.alerts, alert)
	if len(h.alerts) > maxRetainedAlerts {
		h.alerts = h.alerts[len(h.alerts)-maxRetainedAlerts:]
	}
	sinks := make([]ports.AlertSink, len(h.sinks))
	copy(sinks, h.sinks)
	h.alertMu.Unlock()

	h.logger.Warnw("monitoring alert raised",
		"guild_id", guildID,
		"severity", severity.String(),
		"message", alert.Message,
	)
	h.publish(guildID, domain.EventAlertRaised, domain.AlertData{
		AlertID:  alert.ID,
		Severity: severity,
		Message:  alert.Message,
	})

	for _, sink := range sinks {
		sink.OnAlert(alert)
	}
}

// AcknowledgeAlert marks an alert acknowledged.
func (h *HealthMonitor) AcknowledgeAlert(alertID string) error {
	h.alertMu.Lock()
	defer h.alertMu.Unlock()

	for i := range h.alerts {
		if h.alerts[i].ID == alertID {
			if !h.alerts[i].Acknowledged {
				h.alerts[i].Acknowledged = true
				h.alerts[i].AcknowledgedAt = time.Now()
				h.publish(h.alerts[i].GuildID, domain.EventAlertAcknowledged, domain.AlertData{
					AlertID:  alertID,
					Severity: h.alerts[i].Severity,
				})
			}
			return nil
		}
	}
	return domain.ErrAlertNotFound
}

// expireAlerts ages out acknowledged alerts.
func (h *HealthMonitor) expireAlerts() {
	h.alertMu.Lock()
	defer h.alertMu.Unlock()

	kept := h.alerts[:0]
	for _, a := range h.alerts {
		if a.Acknowledged && time.Since(a.AcknowledgedAt) > acknowledgedAlertTTL {
			continue
		}
		kept = append(kept, a)
	}
	h.alerts = kept
}

// GetAlerts returns a snapshot of retained alerts.
func (h *HealthMonitor) GetAlerts() []domain.MonitoringAlert {
	h.alertMu.Lock()
	defer h.alertMu.Unlock()
	out := make([]domain.MonitoringAlert, len(h.alerts))
	copy(out, h.alerts)
	return out
}

// HandleEvent feeds bus events into the sample window and fires the
// opportunistic ping probe on gateway ready. Never blocks the emission
// path: probes run in their own goroutine under a short timeout.
func (h *HealthMonitor) HandleEvent(e domain.Event) {
	h.collector.RecordEvent(e.GuildID, e.Type)

	if e.Type != domain.EventGatewayReady {
		return
	}

	h.mu.RLock()
	transport, ok := h.monitored[e.GuildID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	pinger, ok := transport.(ports.Pinger)
	if !ok {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.PingTimeout)
		defer cancel()

		rtt, err := pinger.Ping(ctx)
		if err != nil {
			h.logger.Debugw("health ping failed", "guild_id", e.GuildID, "error", err)
			return
		}
		latencyMs := float64(rtt.Microseconds()) / 1000
		h.collector.RecordPing(e.GuildID, latencyMs)
		h.publish(e.GuildID, domain.EventPingRecorded, domain.PingData{LatencyMs: latencyMs})
	}()
}

// GetHealthStatus returns the guild's most recent check result.
func (h *HealthMonitor) GetHealthStatus(guildID domain.GuildID) (domain.HealthCheckResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result, ok := h.results[guildID]
	return result, ok
}

// GetAllHealthStatus returns every guild's most recent check result.
func (h *HealthMonitor) GetAllHealthStatus() map[domain.GuildID]domain.HealthCheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[domain.GuildID]domain.HealthCheckResult, len(h.results))
	for g, r := range h.results {
		out[g] = r
	}
	return out
}

// GetHistory returns the rolling check history for a guild.
func (h *HealthMonitor) GetHistory(guildID domain.GuildID) []domain.HealthCheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hist := h.history[guildID]
	out := make([]domain.HealthCheckResult, len(hist))
	copy(out, hist)
	return out
}

// GetMonitoringSummary aggregates current health across all guilds.
func (h *HealthMonitor) GetMonitoringSummary() domain.MonitoringSummary {
	h.mu.RLock()
	summary := domain.MonitoringSummary{
		MonitoredGuilds: len(h.monitored),
		StatusCounts:    make(map[domain.HealthStatus]int),
		GeneratedAt:     time.Now(),
	}
	var scoreSum float64
	for _, r := range h.results {
		summary.StatusCounts[r.Status]++
		scoreSum += float64(r.Metrics.AudioQualityScore)
	}
	if len(h.results) > 0 {
		summary.AvgQualityScore = scoreSum / float64(len(h.results))
	}
	h.mu.RUnlock()

	for _, a := range h.GetAlerts() {
		if !a.Acknowledged {
			summary.ActiveAlerts++
		}
	}
	return summary
}

func (h *HealthMonitor) publish(guildID domain.GuildID, t domain.EventType, data interface{}) {
	if h.events == nil {
		return
	}
	h.events.Publish(domain.Event{
		ID:        h.ids.NewID(),
		Type:      t,
		GuildID:   guildID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

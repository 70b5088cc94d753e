package services

import (
	"math"
	"sync"
	"time"

	"voicelink/internal/core/domain"
)

const (
	latencySampleWindow = 10
	eventLogCap         = 100
	lossLookback        = time.Minute
)

type sampleKind int

const (
	sampleConnected sampleKind = iota
	sampleDisconnected
	sampleError
)

type loggedEvent struct {
	at   time.Time
	kind sampleKind
}

// guildMetrics is one guild's raw sample window.
type guildMetrics struct {
	mu          sync.Mutex
	latencies   []float64
	events      []loggedEvent
	reconnects  int
	lastPing    time.Time
	connectedAt time.Time
}

// MetricsCollector keeps per-guild real-time samples and derives
// performance metrics from them on demand.
type MetricsCollector struct {
	mu     sync.RWMutex
	guilds map[domain.GuildID]*guildMetrics
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{guilds: make(map[domain.GuildID]*guildMetrics)}
}

func (m *MetricsCollector) guild(guildID domain.GuildID) *guildMetrics {
	m.mu.RLock()
	g, ok := m.guilds[guildID]
	m.mu.RUnlock()
	if ok {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.guilds[guildID]; ok {
		return g
	}
	g = &guildMetrics{}
	m.guilds[guildID] = g
	return g
}

// RecordLatency appends a latency sample, dropping the oldest beyond
// the window.
func (m *MetricsCollector) RecordLatency(guildID domain.GuildID, latencyMs float64) {
	g := m.guild(guildID)
	g.mu.Lock()
	defer g.mu.Unlock()

	g.latencies = append(g.latencies, latencyMs)
	if len(g.latencies) > latencySampleWindow {
		g.latencies = g.latencies[len(g.latencies)-latencySampleWindow:]
	}
}

// RecordPing notes a successful ping and its latency.
func (m *MetricsCollector) RecordPing(guildID domain.GuildID, latencyMs float64) {
	g := m.guild(guildID)
	g.mu.Lock()
	g.lastPing = time.Now()
	g.mu.Unlock()

	m.RecordLatency(guildID, latencyMs)
}

// RecordEvent feeds a lifecycle event into the sample log. Connected
// events start the uptime clock and bump the reconnection counter;
// Disconnected events clear it; error events feed the loss estimate.
func (m *MetricsCollector) RecordEvent(guildID domain.GuildID, eventType domain.EventType) {
	var kind sampleKind
	switch eventType {
	case domain.EventConnectionEstablished, domain.EventGatewayReady, domain.EventGatewayResumed:
		kind = sampleConnected
	case domain.EventConnectionClosed, domain.EventGatewayClosed:
		kind = sampleDisconnected
	case domain.EventConnectionFailed, domain.EventGatewayHeartbeatLost, domain.EventAudioStreamError, domain.EventErrorOccurred:
		kind = sampleError
	default:
		return
	}

	g := m.guild(guildID)
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.events = append(g.events, loggedEvent{at: now, kind: kind})
	if len(g.events) > eventLogCap {
		g.events = g.events[len(g.events)-eventLogCap:]
	}

	switch kind {
	case sampleConnected:
		if g.connectedAt.IsZero() {
			g.connectedAt = now
		}
		g.reconnects++
	case sampleDisconnected:
		g.connectedAt = time.Time{}
	}
}

// Generate derives ConnectionPerformanceMetrics from the current sample
// window. Pure with respect to the samples: calling it never mutates
// anything.
func (m *MetricsCollector) Generate(guildID domain.GuildID) domain.ConnectionPerformanceMetrics {
	m.mu.RLock()
	g, ok := m.guilds[guildID]
	m.mu.RUnlock()
	if !ok {
		return domain.ConnectionPerformanceMetrics{AudioQualityScore: 100}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	metrics := domain.ConnectionPerformanceMetrics{
		ReconnectionCount: g.reconnects,
		LastPing:          g.lastPing,
	}

	if n := len(g.latencies); n > 0 {
		var sum float64
		for _, l := range g.latencies {
			sum += l
		}
		metrics.AvgLatencyMs = sum / float64(n)

		// Sample standard deviation; undefined below 2 samples.
		if n >= 2 {
			var sq float64
			for _, l := range g.latencies {
				d := l - metrics.AvgLatencyMs
				sq += d * d
			}
			metrics.JitterMs = math.Sqrt(sq / float64(n-1))
		}
	}

	if !g.connectedAt.IsZero() {
		metrics.UptimeSeconds = now.Sub(g.connectedAt).Seconds()
	}

	var recentErrors, recentDisconnects int
	cutoff := now.Add(-lossLookback)
	for _, e := range g.events {
		if e.at.Before(cutoff) {
			continue
		}
		switch e.kind {
		case sampleError:
			recentErrors++
		case sampleDisconnected:
			recentDisconnects++
		}
	}

	// Estimated loss from error-event density. A stand-in for real RTP
	// receiver statistics, which the transport does not expose.
	metrics.PacketLossPercent = math.Min(100, 10*float64(recentErrors)/60)

	metrics.AudioQualityScore = qualityScore(metrics, recentDisconnects)
	return metrics
}

// qualityScore starts at 100 and applies independent saturating
// penalties, floored at 0.
func qualityScore(m domain.ConnectionPerformanceMetrics, recentDisconnects int) int {
	score := 100.0

	if m.AvgLatencyMs > 50 {
		score -= math.Min(40, (m.AvgLatencyMs-50)/5)
	}
	score -= math.Min(40, m.PacketLossPercent*2)
	if m.JitterMs > 10 {
		score -= math.Min(20, (m.JitterMs-10)/2)
	}
	score -= math.Min(20, float64(recentDisconnects)*10)

	if score < 0 {
		score = 0
	}
	return int(score)
}

// Reset drops all samples for a guild.
func (m *MetricsCollector) Reset(guildID domain.GuildID) {
	m.mu.Lock()
	delete(m.guilds, guildID)
	m.mu.Unlock()
}

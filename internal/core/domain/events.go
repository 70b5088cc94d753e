package domain

import "time"

// EventType enumerates every lifecycle, recovery, health and quality
// transition published on the bus. The set is closed: adding a variant
// requires adding it to the category and severity tables below, which
// are reviewed together so the three never drift.
type EventType string

const (
	// Connection
	EventConnectionRequested   EventType = "connection.requested"
	EventConnectionEstablished EventType = "connection.established"
	EventConnectionReused      EventType = "connection.reused"
	EventConnectionClosed      EventType = "connection.closed"
	EventConnectionFailed      EventType = "connection.failed"

	// Gateway
	EventGatewayConnecting    EventType = "gateway.connecting"
	EventGatewayReady         EventType = "gateway.ready"
	EventGatewayClosed        EventType = "gateway.closed"
	EventGatewayHeartbeatLost EventType = "gateway.heartbeat_lost"
	EventGatewayResumed       EventType = "gateway.resumed"

	// Audio
	EventAudioStreamStarted   EventType = "audio.stream_started"
	EventAudioStreamBuffering EventType = "audio.stream_buffering"
	EventAudioStreamEnded     EventType = "audio.stream_ended"
	EventAudioStreamError     EventType = "audio.stream_error"
	EventAudioInputCreated    EventType = "audio.input_created"

	// Performance
	EventLatencySpike   EventType = "performance.latency_spike"
	EventJitterHigh     EventType = "performance.jitter_high"
	EventPacketLossHigh EventType = "performance.packet_loss_high"
	EventPingRecorded   EventType = "performance.ping_recorded"

	// Recovery
	EventRecoveryStarted    EventType = "recovery.started"
	EventRetryScheduled     EventType = "recovery.retry_scheduled"
	EventRecoverySucceeded  EventType = "recovery.succeeded"
	EventRecoveryFailed     EventType = "recovery.failed"
	EventRecoveryStateReset EventType = "recovery.state_reset"

	// Circuit breaker
	EventCircuitOpened   EventType = "circuit_breaker.opened"
	EventCircuitHalfOpen EventType = "circuit_breaker.half_open"
	EventCircuitClosed   EventType = "circuit_breaker.closed"
	EventCircuitRejected EventType = "circuit_breaker.rejected"

	// Pool
	EventPoolConnectionAdded   EventType = "pool.connection_added"
	EventPoolConnectionRemoved EventType = "pool.connection_removed"
	EventPoolIdleEvicted       EventType = "pool.idle_evicted"
	EventPoolExhausted         EventType = "pool.exhausted"

	// Health
	EventHealthCheckCompleted EventType = "health.check_completed"
	EventHealthDegraded       EventType = "health.degraded"
	EventHealthRecovered      EventType = "health.recovered"
	EventAlertRaised          EventType = "health.alert_raised"
	EventAlertAcknowledged    EventType = "health.alert_acknowledged"

	// Quality
	EventQualityAdjusted      EventType = "quality.adjusted"
	EventQualityPhaseChanged  EventType = "quality.phase_changed"
	EventQualityPresetApplied EventType = "quality.preset_applied"
	EventQualityEmergency     EventType = "quality.emergency"

	// Error
	EventErrorOccurred EventType = "error.occurred"
)

// EventCategory groups event types for filtering.
type EventCategory string

const (
	CategoryConnection     EventCategory = "connection"
	CategoryGateway        EventCategory = "gateway"
	CategoryAudio          EventCategory = "audio"
	CategoryPerformance    EventCategory = "performance"
	CategoryRecovery       EventCategory = "recovery"
	CategoryCircuitBreaker EventCategory = "circuit_breaker"
	CategoryPool           EventCategory = "pool"
	CategoryHealth         EventCategory = "health"
	CategoryQuality        EventCategory = "quality"
	CategoryError          EventCategory = "error"
)

// eventCategories is the static event -> category table.
var eventCategories = map[EventType]EventCategory{
	EventConnectionRequested:   CategoryConnection,
	EventConnectionEstablished: CategoryConnection,
	EventConnectionReused:      CategoryConnection,
	EventConnectionClosed:      CategoryConnection,
	EventConnectionFailed:      CategoryConnection,

	EventGatewayConnecting:    CategoryGateway,
	EventGatewayReady:         CategoryGateway,
	EventGatewayClosed:        CategoryGateway,
	EventGatewayHeartbeatLost: CategoryGateway,
	EventGatewayResumed:       CategoryGateway,

	EventAudioStreamStarted:   CategoryAudio,
	EventAudioStreamBuffering: CategoryAudio,
	EventAudioStreamEnded:     CategoryAudio,
	EventAudioStreamError:     CategoryAudio,
	EventAudioInputCreated:    CategoryAudio,

	EventLatencySpike:   CategoryPerformance,
	EventJitterHigh:     CategoryPerformance,
	EventPacketLossHigh: CategoryPerformance,
	EventPingRecorded:   CategoryPerformance,

	EventRecoveryStarted:    CategoryRecovery,
	EventRetryScheduled:     CategoryRecovery,
	EventRecoverySucceeded:  CategoryRecovery,
	EventRecoveryFailed:     CategoryRecovery,
	EventRecoveryStateReset: CategoryRecovery,

	EventCircuitOpened:   CategoryCircuitBreaker,
	EventCircuitHalfOpen: CategoryCircuitBreaker,
	EventCircuitClosed:   CategoryCircuitBreaker,
	EventCircuitRejected: CategoryCircuitBreaker,

	EventPoolConnectionAdded:   CategoryPool,
	EventPoolConnectionRemoved: CategoryPool,
	EventPoolIdleEvicted:       CategoryPool,
	EventPoolExhausted:         CategoryPool,

	EventHealthCheckCompleted: CategoryHealth,
	EventHealthDegraded:       CategoryHealth,
	EventHealthRecovered:      CategoryHealth,
	EventAlertRaised:          CategoryHealth,
	EventAlertAcknowledged:    CategoryHealth,

	EventQualityAdjusted:      CategoryQuality,
	EventQualityPhaseChanged:  CategoryQuality,
	EventQualityPresetApplied: CategoryQuality,
	EventQualityEmergency:     CategoryQuality,

	EventErrorOccurred: CategoryError,
}

// eventSeverities is the static event -> severity table.
var eventSeverities = map[EventType]AlertSeverity{
	EventConnectionRequested:   SeverityInfo,
	EventConnectionEstablished: SeverityInfo,
	EventConnectionReused:      SeverityInfo,
	EventConnectionClosed:      SeverityInfo,
	EventConnectionFailed:      SeverityError,

	EventGatewayConnecting:    SeverityInfo,
	EventGatewayReady:         SeverityInfo,
	EventGatewayClosed:        SeverityWarning,
	EventGatewayHeartbeatLost: SeverityError,
	EventGatewayResumed:       SeverityInfo,

	EventAudioStreamStarted:   SeverityInfo,
	EventAudioStreamBuffering: SeverityInfo,
	EventAudioStreamEnded:     SeverityInfo,
	EventAudioStreamError:     SeverityError,
	EventAudioInputCreated:    SeverityInfo,

	EventLatencySpike:   SeverityWarning,
	EventJitterHigh:     SeverityWarning,
	EventPacketLossHigh: SeverityWarning,
	EventPingRecorded:   SeverityInfo,

	EventRecoveryStarted:    SeverityInfo,
	EventRetryScheduled:     SeverityInfo,
	EventRecoverySucceeded:  SeverityInfo,
	EventRecoveryFailed:     SeverityError,
	EventRecoveryStateReset: SeverityInfo,

	EventCircuitOpened:   SeverityError,
	EventCircuitHalfOpen: SeverityWarning,
	EventCircuitClosed:   SeverityInfo,
	EventCircuitRejected: SeverityWarning,

	EventPoolConnectionAdded:   SeverityInfo,
	EventPoolConnectionRemoved: SeverityInfo,
	EventPoolIdleEvicted:       SeverityInfo,
	EventPoolExhausted:         SeverityError,

	EventHealthCheckCompleted: SeverityInfo,
	EventHealthDegraded:       SeverityWarning,
	EventHealthRecovered:      SeverityInfo,
	EventAlertRaised:          SeverityError,
	EventAlertAcknowledged:    SeverityInfo,

	EventQualityAdjusted:      SeverityInfo,
	EventQualityPhaseChanged:  SeverityInfo,
	EventQualityPresetApplied: SeverityInfo,
	EventQualityEmergency:     SeverityCritical,

	EventErrorOccurred: SeverityError,
}

// Category returns the event's category from the static table.
func (t EventType) Category() EventCategory {
	if c, ok := eventCategories[t]; ok {
		return c
	}
	return CategoryError
}

// Severity returns the event's severity from the static table.
func (t EventType) Severity() AlertSeverity {
	if s, ok := eventSeverities[t]; ok {
		return s
	}
	return SeverityInfo
}

// Event is one published transition. Data holds the variant payload
// (one of the *Data structs below) and is immutable once constructed.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	GuildID   GuildID     `json:"guildId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Payloads. Each variant carries only the fields needed to reconstruct
// the transition.

type GatewayReadyData struct {
	SSRC uint32 `json:"ssrc"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

type RetryScheduledData struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

type RecoveryResultData struct {
	TotalAttempts int    `json:"totalAttempts"`
	Error         string `json:"error,omitempty"`
}

type CircuitRejectedData struct {
	ConsecutiveFailures int `json:"consecutiveFailures"`
}

type ConnectionFailedData struct {
	Classification string `json:"classification"`
	Error          string `json:"error"`
}

type PoolData struct {
	ActiveConnections int `json:"activeConnections"`
	MaxConnections    int `json:"maxConnections"`
}

type HealthData struct {
	Status HealthStatus `json:"status"`
	Score  int          `json:"score"`
}

type AlertData struct {
	AlertID  string        `json:"alertId"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

type QualityChangeData struct {
	FromPreset QualityPreset `json:"fromPreset"`
	ToPreset   QualityPreset `json:"toPreset"`
	Score      float64       `json:"score"`
}

type PhaseChangeData struct {
	FromPhase QualityPhase `json:"fromPhase"`
	ToPhase   QualityPhase `json:"toPhase"`
	Score     float64      `json:"score"`
}

type PingData struct {
	LatencyMs float64 `json:"latencyMs"`
}

type StreamData struct {
	TrackURI string `json:"trackUri"`
	State    string `json:"state"`
	Error    string `json:"error,omitempty"`
}

// EventFilter selects which events a subscription receives. Nil slices
// mean "allow all". Include flags default to true via DefaultFilter.
type EventFilter struct {
	GuildIDs           []GuildID       `json:"guildIds,omitempty"`
	Categories         []EventCategory `json:"categories,omitempty"`
	MinSeverity        AlertSeverity   `json:"minSeverity"`
	IncludeRecovery    bool            `json:"includeRecovery"`
	IncludePerformance bool            `json:"includePerformance"`
	IncludeHealth      bool            `json:"includeHealth"`
}

// DefaultFilter matches every event.
func DefaultFilter() EventFilter {
	return EventFilter{
		MinSeverity:        SeverityInfo,
		IncludeRecovery:    true,
		IncludePerformance: true,
		IncludeHealth:      true,
	}
}

// Matches applies the filter to an event.
func (f EventFilter) Matches(e Event) bool {
	if len(f.GuildIDs) > 0 {
		found := false
		for _, g := range f.GuildIDs {
			if g == e.GuildID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	category := e.Type.Category()

	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if c == category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if e.Type.Severity() < f.MinSeverity {
		return false
	}

	switch category {
	case CategoryRecovery, CategoryCircuitBreaker:
		if !f.IncludeRecovery {
			return false
		}
	case CategoryPerformance:
		if !f.IncludePerformance {
			return false
		}
	case CategoryHealth:
		if !f.IncludeHealth {
			return false
		}
	}

	return true
}

package domain

import "time"

// HealthStatus is a classification, not a metric; there is no total
// order between the variants.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthCritical  HealthStatus = "critical"
	HealthUnknown   HealthStatus = "unknown"
)

// HealthCheckResult is the current per-guild classification, overwritten
// each check cycle.
type HealthCheckResult struct {
	GuildID         GuildID                      `json:"guildId"`
	Status          HealthStatus                 `json:"status"`
	Metrics         ConnectionPerformanceMetrics `json:"metrics"`
	LastCheck       time.Time                    `json:"lastCheck"`
	Issues          []string                     `json:"issues,omitempty"`
	Recommendations []string                     `json:"recommendations,omitempty"`
}

// AlertSeverity orders alerts from informational to critical.
type AlertSeverity int

const (
	SeverityInfo AlertSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a severity name to its level, reporting whether it
// is known.
func ParseSeverity(s string) (AlertSeverity, bool) {
	switch s {
	case "info":
		return SeverityInfo, true
	case "warning":
		return SeverityWarning, true
	case "error":
		return SeverityError, true
	case "critical":
		return SeverityCritical, true
	}
	return SeverityInfo, false
}

// MonitoringAlert is raised on a transition into Unhealthy or Critical
// and retained until acknowledged and aged out.
type MonitoringAlert struct {
	ID               string        `json:"id"`
	GuildID          GuildID       `json:"guildId"`
	Severity         AlertSeverity `json:"severity"`
	Message          string        `json:"message"`
	CreatedAt        time.Time     `json:"createdAt"`
	Acknowledged     bool          `json:"acknowledged"`
	AcknowledgedAt   time.Time     `json:"acknowledgedAt,omitempty"`
	SuggestedActions []string      `json:"suggestedActions,omitempty"`
}

// MonitoringSummary aggregates health across all monitored guilds.
type MonitoringSummary struct {
	MonitoredGuilds int                  `json:"monitoredGuilds"`
	StatusCounts    map[HealthStatus]int `json:"statusCounts"`
	ActiveAlerts    int                  `json:"activeAlerts"`
	AvgQualityScore float64              `json:"avgQualityScore"`
	GeneratedAt     time.Time            `json:"generatedAt"`
}

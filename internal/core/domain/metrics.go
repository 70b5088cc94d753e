package domain

import "time"

// ConnectionPerformanceMetrics is a pure derivation from the rolling
// sample window; it is regenerated per health check, never mutated.
type ConnectionPerformanceMetrics struct {
	AvgLatencyMs      float64   `json:"avgLatencyMs"`
	PacketLossPercent float64   `json:"packetLossPercent"`
	JitterMs          float64   `json:"jitterMs"`
	UptimeSeconds     float64   `json:"uptimeSeconds"`
	ReconnectionCount int       `json:"reconnectionCount"`
	LastPing          time.Time `json:"lastPing,omitempty"`
	AudioQualityScore int       `json:"audioQualityScore"` // 0-100
}

// NetworkMetrics is the live telemetry fed to the quality manager.
type NetworkMetrics struct {
	PacketLossPercent float64   `json:"packetLossPercent"`
	RTTMs             float64   `json:"rttMs"`
	JitterMs          float64   `json:"jitterMs"`
	BandwidthKbps     float64   `json:"bandwidthKbps"`
	Timestamp         time.Time `json:"timestamp"`
}

// QualityMetrics describes the stream's own health, each field 0-100.
type QualityMetrics struct {
	BufferHealth        float64 `json:"bufferHealth"`
	EncodingPerformance float64 `json:"encodingPerformance"`
	StreamStability     float64 `json:"streamStability"`
	AverageQualityScore float64 `json:"averageQualityScore"`
}

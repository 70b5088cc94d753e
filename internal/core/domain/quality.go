package domain

import "time"

// QualityPreset names a bundle of audio parameters. The automatic
// presets form a fixed total order Voice < Low < Medium < High < Maximum;
// Custom is exempt from automatic adjustment.
type QualityPreset string

const (
	PresetVoice   QualityPreset = "voice"
	PresetLow     QualityPreset = "low"
	PresetMedium  QualityPreset = "medium"
	PresetHigh    QualityPreset = "high"
	PresetMaximum QualityPreset = "maximum"
	PresetCustom  QualityPreset = "custom"
)

var presetOrder = []QualityPreset{PresetVoice, PresetLow, PresetMedium, PresetHigh, PresetMaximum}

// Rank returns the preset's position in the upgrade order, or -1 for
// Custom and unknown presets.
func (p QualityPreset) Rank() int {
	for i, preset := range presetOrder {
		if preset == p {
			return i
		}
	}
	return -1
}

// StepUp returns the next higher preset; Maximum steps to itself.
func (p QualityPreset) StepUp() QualityPreset {
	r := p.Rank()
	if r < 0 || r >= len(presetOrder)-1 {
		return p
	}
	return presetOrder[r+1]
}

// StepDown returns the next lower preset; Voice steps to itself.
func (p QualityPreset) StepDown() QualityPreset {
	r := p.Rank()
	if r <= 0 {
		return p
	}
	return presetOrder[r-1]
}

// ParsePreset maps a string to a preset, reporting whether it is known.
func ParsePreset(s string) (QualityPreset, bool) {
	switch QualityPreset(s) {
	case PresetVoice, PresetLow, PresetMedium, PresetHigh, PresetMaximum, PresetCustom:
		return QualityPreset(s), true
	}
	return "", false
}

// AudioQualityConfig is the concrete parameter bundle for a preset.
type AudioQualityConfig struct {
	Preset          QualityPreset `json:"preset"`
	BitrateKbps     int           `json:"bitrateKbps"`
	SampleRate      int           `json:"sampleRate"`
	Channels        int           `json:"channels"`
	OpusQuality     int           `json:"opusQuality"` // 0-10
	BufferSizeMs    int           `json:"bufferSizeMs"`
	AdaptiveQuality bool          `json:"adaptiveQuality"`
}

// presetConfigs is the fixed preset table. Opus always runs at 48 kHz
// toward Discord; sample rate differences only affect the resampler.
var presetConfigs = map[QualityPreset]AudioQualityConfig{
	PresetVoice: {
		Preset: PresetVoice, BitrateKbps: 32, SampleRate: 48000, Channels: 1,
		OpusQuality: 3, BufferSizeMs: 400, AdaptiveQuality: true,
	},
	PresetLow: {
		Preset: PresetLow, BitrateKbps: 64, SampleRate: 48000, Channels: 2,
		OpusQuality: 5, BufferSizeMs: 300, AdaptiveQuality: true,
	},
	PresetMedium: {
		Preset: PresetMedium, BitrateKbps: 96, SampleRate: 48000, Channels: 2,
		OpusQuality: 7, BufferSizeMs: 250, AdaptiveQuality: true,
	},
	PresetHigh: {
		Preset: PresetHigh, BitrateKbps: 128, SampleRate: 48000, Channels: 2,
		OpusQuality: 9, BufferSizeMs: 200, AdaptiveQuality: true,
	},
	PresetMaximum: {
		Preset: PresetMaximum, BitrateKbps: 192, SampleRate: 48000, Channels: 2,
		OpusQuality: 10, BufferSizeMs: 150, AdaptiveQuality: true,
	},
}

// ConfigForPreset returns the fixed config for a non-Custom preset.
func ConfigForPreset(p QualityPreset) (AudioQualityConfig, bool) {
	cfg, ok := presetConfigs[p]
	return cfg, ok
}

// QualityPhase is the adjustment state machine's phase.
type QualityPhase string

const (
	PhaseStable     QualityPhase = "stable"
	PhaseDegrading  QualityPhase = "degrading"
	PhaseRecovering QualityPhase = "recovering"
	PhaseEmergency  QualityPhase = "emergency"
)

// QualityAdjustment records one preset move.
type QualityAdjustment struct {
	Timestamp  time.Time     `json:"timestamp"`
	FromPreset QualityPreset `json:"fromPreset"`
	ToPreset   QualityPreset `json:"toPreset"`
	Reason     string        `json:"reason"`
}

const maxRecentAdjustments = 10

// QualityAdjustmentState is owned by the quality manager and mutated
// only by its own evaluation.
type QualityAdjustmentState struct {
	CurrentPhase      QualityPhase        `json:"currentPhase"`
	StableSince       time.Time           `json:"stableSince,omitempty"`
	AdjustmentStreak  int                 `json:"adjustmentStreak"`
	RecentAdjustments []QualityAdjustment `json:"recentAdjustments,omitempty"`
}

// RecordAdjustment appends to the bounded ring of recent adjustments.
func (s *QualityAdjustmentState) RecordAdjustment(adj QualityAdjustment) {
	s.RecentAdjustments = append(s.RecentAdjustments, adj)
	if len(s.RecentAdjustments) > maxRecentAdjustments {
		s.RecentAdjustments = s.RecentAdjustments[len(s.RecentAdjustments)-maxRecentAdjustments:]
	}
}

package services

import (
	"math"
	"sync"
	"testing"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/pkg/idgen"
	"voicelink/pkg/logger"
)

func newTestQualityManager(cfg QualityConfig) (*QualityManager, *eventRecorder) {
	rec := &eventRecorder{}
	q := NewQualityManager(cfg, rec, idgen.NewSequenceGenerator("evt"), logger.NewNop())
	return q, rec
}

func instantQualityConfig() QualityConfig {
	cfg := DefaultQualityConfig()
	cfg.InitialPreset = domain.PresetHigh
	cfg.UpgradeStabilityPeriod = time.Millisecond
	cfg.GradualTransitions = false
	cfg.HysteresisWindow = time.Millisecond
	return cfg
}

func goodNetwork() domain.NetworkMetrics {
	return domain.NetworkMetrics{PacketLossPercent: 0, RTTMs: 30, JitterMs: 2, BandwidthKbps: 1000}
}

func badNetwork() domain.NetworkMetrics {
	return domain.NetworkMetrics{PacketLossPercent: 6, RTTMs: 150, JitterMs: 20}
}

func awfulNetwork() domain.NetworkMetrics {
	return domain.NetworkMetrics{PacketLossPercent: 30, RTTMs: 600, JitterMs: 80}
}

func TestNetworkScoreWeights(t *testing.T) {
	// Perfect conditions: loss 0 (40), rtt <= 50 (30), jitter 0 (20),
	// neutral bandwidth (5) = 95.
	score := networkScore(domain.NetworkMetrics{RTTMs: 50}, 128)
	if math.Abs(score-95) > 1e-9 {
		t.Fatalf("score = %v, want 95", score)
	}

	// 10% loss zeroes the loss term.
	score = networkScore(domain.NetworkMetrics{PacketLossPercent: 10, RTTMs: 50}, 128)
	if math.Abs(score-55) > 1e-9 {
		t.Fatalf("score with full loss = %v, want 55", score)
	}

	// Triple headroom maxes the bandwidth term.
	score = networkScore(domain.NetworkMetrics{RTTMs: 50, BandwidthKbps: 384}, 128)
	if math.Abs(score-100) > 1e-9 {
		t.Fatalf("score with headroom = %v, want 100", score)
	}
}

func TestEmergencyJumpsDirectlyToVoice(t *testing.T) {
	q, rec := newTestQualityManager(instantQualityConfig())
	q.Register(testGuild)

	q.UpdateNetworkMetrics(testGuild, awfulNetwork())

	state, _ := q.GetQualityState(testGuild)
	if state.Phase != domain.PhaseEmergency {
		t.Fatalf("phase = %s, want emergency", state.Phase)
	}
	if state.Preset != domain.PresetVoice {
		t.Fatalf("preset = %s, want voice (direct jump)", state.Preset)
	}
	if rec.count(domain.EventQualityEmergency) != 1 {
		t.Fatal("expected quality.emergency event")
	}
}

func TestDegradationStepsDownOneLevel(t *testing.T) {
	q, _ := newTestQualityManager(instantQualityConfig())
	q.Register(testGuild)

	q.UpdateNetworkMetrics(testGuild, badNetwork())

	state, _ := q.GetQualityState(testGuild)
	if state.Phase != domain.PhaseDegrading {
		t.Fatalf("phase = %s, want degrading", state.Phase)
	}
	if state.Preset != domain.PresetMedium {
		t.Fatalf("preset = %s, want medium (one step below high)", state.Preset)
	}
}

func TestRecoveryUpgradesAfterStability(t *testing.T) {
	cfg := instantQualityConfig()
	q, _ := newTestQualityManager(cfg)
	q.Register(testGuild)

	q.UpdateNetworkMetrics(testGuild, badNetwork())
	if state, _ := q.GetQualityState(testGuild); state.Preset != domain.PresetMedium {
		t.Fatalf("setup preset = %s", state.Preset)
	}

	// First good sample starts the stability clock.
	q.UpdateNetworkMetrics(testGuild, goodNetwork())
	if state, _ := q.GetQualityState(testGuild); state.Phase != domain.PhaseRecovering {
		t.Fatalf("phase = %s, want recovering", state.Phase)
	}

	time.Sleep(5 * time.Millisecond)
	q.UpdateNetworkMetrics(testGuild, goodNetwork())

	state, _ := q.GetQualityState(testGuild)
	if state.Preset != domain.PresetHigh {
		t.Fatalf("preset = %s, want high after stability period", state.Preset)
	}

	// Back at the target preset the phase settles to stable.
	q.UpdateNetworkMetrics(testGuild, goodNetwork())
	state, _ = q.GetQualityState(testGuild)
	if state.Phase != domain.PhaseStable {
		t.Fatalf("phase = %s, want stable", state.Phase)
	}
}

func TestUpgradeCapsAtInitialPreset(t *testing.T) {
	cfg := instantQualityConfig()
	cfg.InitialPreset = domain.PresetMedium
	q, _ := newTestQualityManager(cfg)
	q.Register(testGuild)

	for i := 0; i < 10; i++ {
		time.Sleep(2 * time.Millisecond)
		q.UpdateNetworkMetrics(testGuild, goodNetwork())
	}

	state, _ := q.GetQualityState(testGuild)
	if state.Preset != domain.PresetMedium {
		t.Fatalf("preset = %s, want medium (configured cap)", state.Preset)
	}
}

func TestHysteresisSuppressesFlapping(t *testing.T) {
	cfg := instantQualityConfig()
	cfg.HysteresisWindow = time.Minute
	cfg.UpgradeStabilityPeriod = time.Nanosecond
	q, _ := newTestQualityManager(cfg)
	q.Register(testGuild)

	// Step down once.
	q.UpdateNetworkMetrics(testGuild, badNetwork())
	if state, _ := q.GetQualityState(testGuild); state.Preset != domain.PresetMedium {
		t.Fatalf("setup preset = %s", state.Preset)
	}

	// A borderline-good score (inside the margin) wants to upgrade, but
	// the recent downgrade suppresses the reversal.
	borderline := domain.NetworkMetrics{PacketLossPercent: 1, RTTMs: 196, JitterMs: 25}
	q.UpdateNetworkMetrics(testGuild, borderline)

	state, _ := q.GetQualityState(testGuild)
	if score := state.OverallScore; score < 50 || score > 60 {
		t.Fatalf("borderline score = %v, expected inside [50, 60]", score)
	}

	time.Sleep(2 * time.Millisecond)
	q.UpdateNetworkMetrics(testGuild, borderline)
	state, _ = q.GetQualityState(testGuild)
	if state.Preset != domain.PresetMedium {
		t.Fatalf("preset = %s, hysteresis should have held medium", state.Preset)
	}
}

func TestStableDowngradeRequiresPacketLoss(t *testing.T) {
	q, _ := newTestQualityManager(instantQualityConfig())
	q.Register(testGuild)

	// Lossless but slow link: the score sits below the degradation
	// threshold, yet stable holds the preset because there is no loss.
	// Lowering the bitrate would not move the score.
	q.UpdateNetworkMetrics(testGuild, domain.NetworkMetrics{RTTMs: 600, JitterMs: 60})

	state, _ := q.GetQualityState(testGuild)
	if score := state.OverallScore; score >= 50 || score < 25 {
		t.Fatalf("score = %v, expected inside [25, 50)", score)
	}
	if state.Phase != domain.PhaseStable {
		t.Fatalf("phase = %s, want stable", state.Phase)
	}
	if state.Preset != domain.PresetHigh {
		t.Fatalf("preset = %s, a lossless link must not be downgraded", state.Preset)
	}

	// A comparable score with real loss does step down.
	q.UpdateNetworkMetrics(testGuild, badNetwork())
	state, _ = q.GetQualityState(testGuild)
	if state.Preset != domain.PresetMedium || state.Phase != domain.PhaseDegrading {
		t.Fatalf("state = %s/%s, want medium/degrading", state.Preset, state.Phase)
	}
}

func TestEmergencyHoldsFloorUntilScoreClears(t *testing.T) {
	q, _ := newTestQualityManager(instantQualityConfig())
	q.Register(testGuild)

	q.UpdateNetworkMetrics(testGuild, awfulNetwork())
	if state, _ := q.GetQualityState(testGuild); state.Phase != domain.PhaseEmergency {
		t.Fatalf("setup phase = %s", state.Phase)
	}

	// Score back above the emergency threshold but inside the exit
	// margin: the floor preset holds.
	middling := domain.NetworkMetrics{PacketLossPercent: 4, RTTMs: 300, JitterMs: 40}
	q.UpdateNetworkMetrics(testGuild, middling)

	state, _ := q.GetQualityState(testGuild)
	if score := state.OverallScore; score <= 25 || score >= 45 {
		t.Fatalf("score = %v, expected inside (25, 45)", score)
	}
	if state.Phase != domain.PhaseEmergency || state.Preset != domain.PresetVoice {
		t.Fatalf("state = %s/%s, want voice/emergency", state.Preset, state.Phase)
	}

	// Clearing the margin releases the floor one step, into recovery.
	q.UpdateNetworkMetrics(testGuild, goodNetwork())
	state, _ = q.GetQualityState(testGuild)
	if state.Preset != domain.PresetLow {
		t.Fatalf("preset = %s, want low after emergency exit", state.Preset)
	}
	if state.Phase != domain.PhaseRecovering {
		t.Fatalf("phase = %s, want recovering", state.Phase)
	}
}

func TestRecoveringUpgradeNeedsLowLoss(t *testing.T) {
	q, _ := newTestQualityManager(instantQualityConfig())
	q.Register(testGuild)

	q.UpdateNetworkMetrics(testGuild, badNetwork())
	if state, _ := q.GetQualityState(testGuild); state.Preset != domain.PresetMedium {
		t.Fatalf("setup preset = %s", state.Preset)
	}

	// A decent score with residual loss starts recovery, but upgrades
	// stay gated until loss drops.
	lossy := domain.NetworkMetrics{PacketLossPercent: 4, RTTMs: 80, JitterMs: 10}
	for i := 0; i < 4; i++ {
		q.UpdateNetworkMetrics(testGuild, lossy)
		time.Sleep(2 * time.Millisecond)
	}

	state, _ := q.GetQualityState(testGuild)
	if state.Phase != domain.PhaseRecovering {
		t.Fatalf("phase = %s, want recovering", state.Phase)
	}
	if state.Preset != domain.PresetMedium {
		t.Fatalf("preset = %s, residual loss must block the upgrade", state.Preset)
	}

	q.UpdateNetworkMetrics(testGuild, goodNetwork())
	if state, _ := q.GetQualityState(testGuild); state.Preset != domain.PresetHigh {
		t.Fatalf("preset = %s, want high once loss clears", state.Preset)
	}
}

func TestUpgradeBlockedWithoutBandwidthHeadroom(t *testing.T) {
	q, _ := newTestQualityManager(instantQualityConfig())
	q.Register(testGuild)

	q.UpdateNetworkMetrics(testGuild, badNetwork())

	// Clean link, but measured bandwidth under twice the bitrate target.
	cramped := domain.NetworkMetrics{RTTMs: 30, JitterMs: 2, BandwidthKbps: 150}
	for i := 0; i < 4; i++ {
		q.UpdateNetworkMetrics(testGuild, cramped)
		time.Sleep(2 * time.Millisecond)
	}
	if state, _ := q.GetQualityState(testGuild); state.Preset != domain.PresetMedium {
		t.Fatalf("preset = %s, want medium while bandwidth is cramped", state.Preset)
	}

	q.UpdateNetworkMetrics(testGuild, goodNetwork())
	if state, _ := q.GetQualityState(testGuild); state.Preset != domain.PresetHigh {
		t.Fatalf("preset = %s, want high once bandwidth clears", state.Preset)
	}
}

func TestStableUpgradeNeedsFullHeadroom(t *testing.T) {
	q, _ := newTestQualityManager(instantQualityConfig())
	q.Register(testGuild)

	// An operator-pinned low preset leaves the guild in the stable
	// phase below the upgrade ceiling.
	if err := q.ApplyPreset(testGuild, domain.PresetLow); err != nil {
		t.Fatal(err)
	}

	// Good but not near-perfect: stable does not upgrade.
	decent := domain.NetworkMetrics{RTTMs: 150, JitterMs: 10, BandwidthKbps: 1000}
	time.Sleep(2 * time.Millisecond)
	q.UpdateNetworkMetrics(testGuild, decent)
	state, _ := q.GetQualityState(testGuild)
	if state.Phase != domain.PhaseStable || state.Preset != domain.PresetLow {
		t.Fatalf("state = %s/%s, want low/stable", state.Preset, state.Phase)
	}

	// Near-perfect conditions with triple bandwidth headroom: one step.
	time.Sleep(2 * time.Millisecond)
	q.UpdateNetworkMetrics(testGuild, goodNetwork())
	state, _ = q.GetQualityState(testGuild)
	if state.Preset != domain.PresetMedium {
		t.Fatalf("preset = %s, want a single step to medium", state.Preset)
	}
}

func TestHysteresisCentersOnNeutralScore(t *testing.T) {
	cfg := instantQualityConfig()
	cfg.EmergencyThreshold = 10
	cfg.DegradationThreshold = 30
	cfg.HysteresisWindow = time.Minute
	cfg.UpgradeStabilityPeriod = time.Nanosecond
	q, _ := newTestQualityManager(cfg)
	q.Register(testGuild)

	// Step down once.
	q.UpdateNetworkMetrics(testGuild, domain.NetworkMetrics{PacketLossPercent: 8, RTTMs: 250, JitterMs: 30})
	if state, _ := q.GetQualityState(testGuild); state.Preset != domain.PresetMedium {
		t.Fatalf("setup preset = %s", state.Preset)
	}

	// The band is anchored at the neutral midpoint, not the configured
	// threshold: a reversal at a mid-range score is still suppressed.
	borderline := domain.NetworkMetrics{PacketLossPercent: 1, RTTMs: 196, JitterMs: 25}
	q.UpdateNetworkMetrics(testGuild, borderline)
	time.Sleep(2 * time.Millisecond)
	q.UpdateNetworkMetrics(testGuild, borderline)

	state, _ := q.GetQualityState(testGuild)
	if score := state.OverallScore; score < 40 || score > 60 {
		t.Fatalf("score = %v, expected inside the neutral band", score)
	}
	if state.Preset != domain.PresetMedium {
		t.Fatalf("preset = %s, reversal inside the band must be suppressed", state.Preset)
	}
}

func TestAdaptiveQualityScenario(t *testing.T) {
	q, _ := newTestQualityManager(instantQualityConfig())
	q.Register(testGuild)

	steps := []struct {
		name   string
		m      domain.NetworkMetrics
		preset domain.QualityPreset
		phase  domain.QualityPhase
	}{
		{"clean link holds the initial preset", goodNetwork(), domain.PresetHigh, domain.PhaseStable},
		{"poor score without loss stays stable", domain.NetworkMetrics{RTTMs: 600, JitterMs: 60}, domain.PresetHigh, domain.PhaseStable},
		{"loss pushes one step down", badNetwork(), domain.PresetMedium, domain.PhaseDegrading},
		{"continued poor score keeps stepping down", badNetwork(), domain.PresetLow, domain.PhaseDegrading},
		{"collapse jumps straight to the floor", awfulNetwork(), domain.PresetVoice, domain.PhaseEmergency},
		{"partial recovery holds the floor", domain.NetworkMetrics{PacketLossPercent: 4, RTTMs: 300, JitterMs: 40}, domain.PresetVoice, domain.PhaseEmergency},
		{"clear recovery steps up to low", goodNetwork(), domain.PresetLow, domain.PhaseRecovering},
	}
	for _, step := range steps {
		time.Sleep(2 * time.Millisecond)
		q.UpdateNetworkMetrics(testGuild, step.m)
		state, _ := q.GetQualityState(testGuild)
		if state.Preset != step.preset || state.Phase != step.phase {
			t.Fatalf("%s: state = %s/%s, want %s/%s",
				step.name, state.Preset, state.Phase, step.preset, step.phase)
		}
	}

	// Sustained good samples walk the preset back to the target.
	for i := 0; i < 4; i++ {
		time.Sleep(2 * time.Millisecond)
		q.UpdateNetworkMetrics(testGuild, goodNetwork())
	}
	state, _ := q.GetQualityState(testGuild)
	if state.Preset != domain.PresetHigh || state.Phase != domain.PhaseStable {
		t.Fatalf("final state = %s/%s, want high/stable", state.Preset, state.Phase)
	}
}

func TestCustomPresetExemptFromAutoAdjustment(t *testing.T) {
	q, _ := newTestQualityManager(instantQualityConfig())
	q.Register(testGuild)

	custom := domain.AudioQualityConfig{BitrateKbps: 256, SampleRate: 48000, Channels: 2, OpusQuality: 10, BufferSizeMs: 100}
	if err := q.ApplyCustomConfig(testGuild, custom); err != nil {
		t.Fatalf("ApplyCustomConfig() = %v", err)
	}

	q.UpdateNetworkMetrics(testGuild, awfulNetwork())

	state, _ := q.GetQualityState(testGuild)
	if state.Preset != domain.PresetCustom {
		t.Fatalf("preset = %s, custom must not be auto-adjusted", state.Preset)
	}
	if state.Config.BitrateKbps != 256 {
		t.Fatalf("bitrate = %d, want 256", state.Config.BitrateKbps)
	}
}

func TestApplyPresetValidation(t *testing.T) {
	q, _ := newTestQualityManager(instantQualityConfig())
	q.Register(testGuild)

	if err := q.ApplyPreset(testGuild, domain.QualityPreset("ultra")); err != domain.ErrUnknownPreset {
		t.Fatalf("ApplyPreset(ultra) = %v, want ErrUnknownPreset", err)
	}
	if err := q.ApplyPreset(domain.GuildID("999999999999999999"), domain.PresetLow); err != domain.ErrGuildNotFound {
		t.Fatalf("ApplyPreset(unknown guild) = %v, want ErrGuildNotFound", err)
	}

	if err := q.ApplyPreset(testGuild, domain.PresetLow); err != nil {
		t.Fatalf("ApplyPreset(low) = %v", err)
	}
	state, _ := q.GetQualityState(testGuild)
	if state.Preset != domain.PresetLow {
		t.Fatalf("preset = %s, want low", state.Preset)
	}
}

func TestGradualApplyWalksIntermediateSteps(t *testing.T) {
	cfg := instantQualityConfig()
	cfg.GradualTransitions = true
	cfg.GradualStepDelay = time.Millisecond
	cfg.InitialPreset = domain.PresetVoice
	q, _ := newTestQualityManager(cfg)
	q.Register(testGuild)

	var mu sync.Mutex
	var seen []domain.QualityPreset
	q.RegisterObserver(func(_ domain.GuildID, c domain.AudioQualityConfig) {
		mu.Lock()
		seen = append(seen, c.Preset)
		mu.Unlock()
	})

	if err := q.ApplyPreset(testGuild, domain.PresetHigh); err != nil {
		t.Fatalf("ApplyPreset() = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		state, _ := q.GetQualityState(testGuild)
		if state.Preset == domain.PresetHigh {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("gradual transition never reached high, at %s", state.Preset)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []domain.QualityPreset{domain.PresetLow, domain.PresetMedium, domain.PresetHigh}
	if len(seen) != len(want) {
		t.Fatalf("observer saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("observer saw %v, want %v", seen, want)
		}
	}
}

func TestPresetPath(t *testing.T) {
	path := presetPath(domain.PresetVoice, domain.PresetHigh)
	want := []domain.QualityPreset{domain.PresetLow, domain.PresetMedium, domain.PresetHigh}
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %v", path, want)
	}

	down := presetPath(domain.PresetHigh, domain.PresetLow)
	if len(down) != 2 || down[1] != domain.PresetLow {
		t.Fatalf("down path = %v", down)
	}
}

func TestQualityReportAggregation(t *testing.T) {
	q, _ := newTestQualityManager(instantQualityConfig())

	guilds := []domain.GuildID{"111111111111111111", "222222222222222222"}
	for _, g := range guilds {
		q.Register(g)
		q.UpdateNetworkMetrics(g, goodNetwork())
	}

	report := q.GenerateQualityReport()
	if len(report.Guilds) != 2 {
		t.Fatalf("report guilds = %d, want 2", len(report.Guilds))
	}
	if report.PresetCounts[domain.PresetHigh] != 2 {
		t.Fatalf("preset counts = %+v", report.PresetCounts)
	}
	if report.AvgOverallScore <= 0 {
		t.Fatalf("avg score = %v", report.AvgOverallScore)
	}
}

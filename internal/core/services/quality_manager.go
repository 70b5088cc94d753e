package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/pkg/idgen"
)

// Fixed gates of the phase transition rules. The emergency and
// degradation cut-offs are configurable; these are not.
const (
	// neutralScore anchors the hysteresis band.
	neutralScore = 50.0
	// emergencyExitMargin is how far above the emergency threshold the
	// score must climb before the floor preset is released.
	emergencyExitMargin = 20.0
	// stableDowngradeLoss is the packet loss a stable guild must see,
	// on top of a poor score, before it loses a preset step.
	stableDowngradeLoss = 5.0
	// Stable upgrades need near-perfect conditions on every axis.
	stableUpgradeScore    = 85.0
	stableUpgradeLoss     = 1.0
	stableUpgradeHeadroom = 3.0
	// Recovering upgrades tolerate a little residual loss.
	recoveringLoss     = 2.0
	recoveringHeadroom = 2.0
)

// QualityConfig tunes the adaptive quality state machine.
type QualityConfig struct {
	// InitialPreset is both the preset a guild starts at and the
	// ceiling for automatic upgrades; operators can still pin a higher
	// preset through ApplyPreset.
	InitialPreset          domain.QualityPreset
	EmergencyThreshold     float64
	DegradationThreshold   float64
	UpgradeStabilityPeriod time.Duration
	HysteresisMargin       float64
	HysteresisWindow       time.Duration
	GradualTransitions     bool
	GradualStepDelay       time.Duration
	EvaluationInterval     time.Duration
}

// DefaultQualityConfig returns production defaults.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		InitialPreset:          domain.PresetHigh,
		EmergencyThreshold:     25,
		DegradationThreshold:   50,
		UpgradeStabilityPeriod: 2 * time.Minute,
		HysteresisMargin:       10,
		HysteresisWindow:       30 * time.Second,
		GradualTransitions:     true,
		GradualStepDelay:       500 * time.Millisecond,
		EvaluationInterval:     15 * time.Second,
	}
}

// QualityState is a read snapshot of one guild's quality machine.
type QualityState struct {
	GuildID       domain.GuildID                `json:"guildId"`
	Preset        domain.QualityPreset          `json:"preset"`
	Config        domain.AudioQualityConfig     `json:"config"`
	Phase         domain.QualityPhase           `json:"phase"`
	OverallScore  float64                       `json:"overallScore"`
	NetworkScore  float64                       `json:"networkScore"`
	QualityScore  float64                       `json:"qualityScore"`
	Adjustment    domain.QualityAdjustmentState `json:"adjustment"`
	LastEvaluated time.Time                     `json:"lastEvaluated"`
}

// QualityReport aggregates quality state across all guilds.
type QualityReport struct {
	Guilds           []QualityState               `json:"guilds"`
	PhaseCounts      map[domain.QualityPhase]int  `json:"phaseCounts"`
	PresetCounts     map[domain.QualityPreset]int `json:"presetCounts"`
	AvgOverallScore  float64                      `json:"avgOverallScore"`
	TotalAdjustments int                          `json:"totalAdjustments"`
	GeneratedAt      time.Time                    `json:"generatedAt"`
}

// QualityObserver is notified after a guild's effective config changes.
type QualityObserver func(guildID domain.GuildID, cfg domain.AudioQualityConfig)

// guildQuality holds one guild's quality machine behind its own lock.
type guildQuality struct {
	mu sync.Mutex

	preset domain.QualityPreset
	config domain.AudioQualityConfig
	state  domain.QualityAdjustmentState

	network    domain.NetworkMetrics
	quality    domain.QualityMetrics
	hasNetwork bool
	hasQuality bool

	overallScore  float64
	networkScore  float64
	qualityScore  float64
	lastEvaluated time.Time

	goodSince        time.Time
	lastAdjustedAt   time.Time
	lastAdjustedDown bool

	lossFlagged   bool
	jitterFlagged bool
	rttFlagged    bool
}

// QualityManager runs the per-guild adaptive quality state machine:
// Stable, Degrading, Recovering and Emergency phases driven by a
// weighted network/quality score, with hysteresis against flapping and
// gradual preset transitions.
type QualityManager struct {
	cfg    QualityConfig
	events ports.EventPublisher
	ids    idgen.Generator
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	guilds map[domain.GuildID]*guildQuality

	obsMu     sync.RWMutex
	observers []QualityObserver
}

// NewQualityManager creates a quality manager.
func NewQualityManager(cfg QualityConfig, events ports.EventPublisher, ids idgen.Generator, logger *zap.SugaredLogger) *QualityManager {
	return &QualityManager{
		cfg:    cfg,
		events: events,
		ids:    ids,
		logger: logger,
		guilds: make(map[domain.GuildID]*guildQuality),
	}
}

// RegisterObserver adds a callback invoked after every effective config
// change. Observers must not block.
func (q *QualityManager) RegisterObserver(obs QualityObserver) {
	q.obsMu.Lock()
	q.observers = append(q.observers, obs)
	q.obsMu.Unlock()
}

// Register starts managing a guild at the configured initial preset.
// Idempotent.
func (q *QualityManager) Register(guildID domain.GuildID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.guilds[guildID]; ok {
		return
	}

	preset := q.cfg.InitialPreset
	cfg, ok := domain.ConfigForPreset(preset)
	if !ok {
		preset = domain.PresetHigh
		cfg, _ = domain.ConfigForPreset(preset)
	}
	q.guilds[guildID] = &guildQuality{
		preset: preset,
		config: cfg,
		state:  domain.QualityAdjustmentState{CurrentPhase: domain.PhaseStable, StableSince: time.Now()},
	}
}

// Unregister drops a guild's quality state. Idempotent.
func (q *QualityManager) Unregister(guildID domain.GuildID) {
	q.mu.Lock()
	delete(q.guilds, guildID)
	q.mu.Unlock()
}

func (q *QualityManager) guild(guildID domain.GuildID) (*guildQuality, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	g, ok := q.guilds[guildID]
	return g, ok
}

// UpdateNetworkMetrics ingests a network sample and re-evaluates the
// guild immediately so emergencies react within one sample.
func (q *QualityManager) UpdateNetworkMetrics(guildID domain.GuildID, m domain.NetworkMetrics) {
	g, ok := q.guild(guildID)
	if !ok {
		return
	}

	g.mu.Lock()
	g.network = m
	g.hasNetwork = true
	q.flagNetworkConditionsLocked(guildID, g, m)
	q.evaluateLocked(guildID, g)
	g.mu.Unlock()
}

// UpdateQualityMetrics ingests a stream quality sample.
func (q *QualityManager) UpdateQualityMetrics(guildID domain.GuildID, m domain.QualityMetrics) {
	g, ok := q.guild(guildID)
	if !ok {
		return
	}

	g.mu.Lock()
	g.quality = m
	g.hasQuality = true
	q.evaluateLocked(guildID, g)
	g.mu.Unlock()
}

// flagNetworkConditionsLocked publishes edge-triggered performance
// events when a metric crosses its alarm level.
func (q *QualityManager) flagNetworkConditionsLocked(guildID domain.GuildID, g *guildQuality, m domain.NetworkMetrics) {
	lossHigh := m.PacketLossPercent >= 5
	if lossHigh != g.lossFlagged {
		g.lossFlagged = lossHigh
		if lossHigh {
			q.publish(guildID, domain.EventPacketLossHigh, nil)
		}
	}

	jitterHigh := m.JitterMs >= 30
	if jitterHigh != g.jitterFlagged {
		g.jitterFlagged = jitterHigh
		if jitterHigh {
			q.publish(guildID, domain.EventJitterHigh, nil)
		}
	}

	rttHigh := m.RTTMs >= 250
	if rttHigh != g.rttFlagged {
		g.rttFlagged = rttHigh
		if rttHigh {
			q.publish(guildID, domain.EventLatencySpike, nil)
		}
	}
}

// Start runs the periodic evaluation loop. Upgrades depend on elapsed
// stability, so they need the ticker even when no new samples arrive.
func (q *QualityManager) Start(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.EvaluateAll()
		}
	}
}

// EvaluateAll re-evaluates every managed guild.
func (q *QualityManager) EvaluateAll() {
	q.mu.RLock()
	guilds := make(map[domain.GuildID]*guildQuality, len(q.guilds))
	for id, g := range q.guilds {
		guilds[id] = g
	}
	q.mu.RUnlock()

	for id, g := range guilds {
		g.mu.Lock()
		q.evaluateLocked(id, g)
		g.mu.Unlock()
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// networkScore weighs packet loss heaviest, then round-trip time,
// jitter, and bandwidth headroom over the current bitrate target.
func networkScore(m domain.NetworkMetrics, targetKbps int) float64 {
	lossScore := clampScore(100 - m.PacketLossPercent*10)
	rttScore := clampScore(100 - (m.RTTMs-50)*0.5)
	jitterScore := clampScore(100 - m.JitterMs*2)

	// Unknown bandwidth counts as neutral rather than as zero headroom.
	headroomScore := 50.0
	if m.BandwidthKbps > 0 && targetKbps > 0 {
		headroomScore = clampScore(50 * (m.BandwidthKbps/float64(targetKbps) - 1))
	}

	return 0.4*lossScore + 0.3*rttScore + 0.2*jitterScore + 0.1*headroomScore
}

func streamQualityScore(m domain.QualityMetrics) float64 {
	return clampScore((m.BufferHealth + m.EncodingPerformance + m.StreamStability + m.AverageQualityScore) / 4)
}

// evaluateLocked recomputes scores and drives the phase machine.
// Caller holds the guild lock.
func (q *QualityManager) evaluateLocked(guildID domain.GuildID, g *guildQuality) {
	if !g.hasNetwork {
		return
	}

	g.networkScore = networkScore(g.network, g.config.BitrateKbps)
	if g.hasQuality {
		g.qualityScore = streamQualityScore(g.quality)
	} else {
		// No stream samples yet: score on network alone.
		g.qualityScore = g.networkScore
	}
	g.overallScore = 0.6*g.networkScore + 0.4*g.qualityScore
	g.lastEvaluated = time.Now()

	if !g.config.AdaptiveQuality || g.preset == domain.PresetCustom {
		return
	}

	// An emergency score preempts whatever phase the guild is in.
	if g.overallScore < q.cfg.EmergencyThreshold {
		q.enterEmergencyLocked(guildID, g)
		return
	}

	switch g.state.CurrentPhase {
	case domain.PhaseEmergency:
		q.exitEmergencyLocked(guildID, g)
	case domain.PhaseDegrading:
		q.continueDegradingLocked(guildID, g)
	case domain.PhaseRecovering:
		q.continueRecoveringLocked(guildID, g)
	default:
		q.evaluateStableLocked(guildID, g)
	}
}

// enterEmergencyLocked jumps straight to the lowest preset. Emergency
// bypasses gradual transitions and hysteresis.
func (q *QualityManager) enterEmergencyLocked(guildID domain.GuildID, g *guildQuality) {
	g.goodSince = time.Time{}
	q.setPhaseLocked(guildID, g, domain.PhaseEmergency)

	if g.preset == domain.PresetVoice {
		return
	}
	from := g.preset
	q.applyPresetLocked(guildID, g, domain.PresetVoice, "emergency: overall score below threshold", true)

	q.logger.Warnw("quality emergency",
		"guild_id", guildID,
		"from_preset", from,
		"overall_score", g.overallScore,
	)
	q.publish(guildID, domain.EventQualityEmergency, domain.QualityChangeData{
		FromPreset: from,
		ToPreset:   domain.PresetVoice,
		Score:      g.overallScore,
	})
}

// exitEmergencyLocked holds the floor preset until the score clears the
// emergency threshold by the exit margin, then steps up to low and
// rejoins normal evaluation through the recovering phase.
func (q *QualityManager) exitEmergencyLocked(guildID domain.GuildID, g *guildQuality) {
	if g.overallScore <= q.cfg.EmergencyThreshold+emergencyExitMargin {
		return
	}
	q.setPhaseLocked(guildID, g, domain.PhaseRecovering)
	g.goodSince = time.Now()
	if g.preset.Rank() < domain.PresetLow.Rank() {
		q.applyPresetLocked(guildID, g, domain.PresetLow, "emergency cleared", true)
	}
}

// evaluateStableLocked runs the stable-phase rules: a downgrade needs
// both a poor score and real packet loss, an upgrade needs sustained
// headroom on every gate.
func (q *QualityManager) evaluateStableLocked(guildID domain.GuildID, g *guildQuality) {
	if g.overallScore < q.cfg.DegradationThreshold {
		if g.network.PacketLossPercent <= stableDowngradeLoss {
			// A poor score without loss (a high-RTT link, say) stays
			// stable; lowering the bitrate would not move the score.
			return
		}
		q.setPhaseLocked(guildID, g, domain.PhaseDegrading)
		if g.preset == domain.PresetVoice {
			return
		}
		if q.suppressedByHysteresisLocked(g, true) {
			return
		}
		q.applyPresetLocked(guildID, g, g.preset.StepDown(), "low score with packet loss", true)
		return
	}

	if g.preset.Rank() >= q.cfg.InitialPreset.Rank() {
		return
	}
	now := time.Now()
	if now.Sub(g.state.StableSince) < q.cfg.UpgradeStabilityPeriod {
		return
	}
	if g.overallScore <= stableUpgradeScore {
		return
	}
	if g.network.PacketLossPercent >= stableUpgradeLoss {
		return
	}
	if !q.bandwidthClearsLocked(g, stableUpgradeHeadroom) {
		return
	}
	if q.suppressedByHysteresisLocked(g, false) {
		return
	}
	q.applyPresetLocked(guildID, g, g.preset.StepUp(), "sustained headroom", true)
	// Each step earns its own stability period.
	g.state.StableSince = now
}

// continueDegradingLocked keeps stepping down while the score stays
// below the degradation threshold, and hands the guild to recovery once
// the score climbs back.
func (q *QualityManager) continueDegradingLocked(guildID domain.GuildID, g *guildQuality) {
	if g.overallScore < q.cfg.DegradationThreshold {
		g.goodSince = time.Time{}
		if g.preset == domain.PresetVoice {
			return
		}
		if q.suppressedByHysteresisLocked(g, true) {
			return
		}
		q.applyPresetLocked(guildID, g, g.preset.StepDown(), "score below degradation threshold", true)
		return
	}
	q.beginRecoveryLocked(guildID, g)
}

// beginRecoveryLocked moves a guild whose score recovered into the
// recovering phase, or straight to stable when no preset step was lost.
func (q *QualityManager) beginRecoveryLocked(guildID domain.GuildID, g *guildQuality) {
	if g.preset.Rank() >= q.cfg.InitialPreset.Rank() {
		g.goodSince = time.Time{}
		q.setPhaseLocked(guildID, g, domain.PhaseStable)
		return
	}
	q.setPhaseLocked(guildID, g, domain.PhaseRecovering)
	g.goodSince = time.Now()
}

// continueRecoveringLocked steps the preset back up while the score
// holds, loss stays low and measured bandwidth leaves headroom. A score
// relapse drops the guild back to degrading.
func (q *QualityManager) continueRecoveringLocked(guildID domain.GuildID, g *guildQuality) {
	if g.overallScore < q.cfg.DegradationThreshold {
		g.goodSince = time.Time{}
		q.setPhaseLocked(guildID, g, domain.PhaseDegrading)
		return
	}
	if g.preset.Rank() >= q.cfg.InitialPreset.Rank() {
		g.goodSince = time.Time{}
		q.setPhaseLocked(guildID, g, domain.PhaseStable)
		return
	}

	now := time.Now()
	if g.goodSince.IsZero() {
		g.goodSince = now
		return
	}
	if now.Sub(g.goodSince) < q.cfg.UpgradeStabilityPeriod {
		return
	}
	if g.network.PacketLossPercent >= recoveringLoss {
		return
	}
	if !q.bandwidthClearsLocked(g, recoveringHeadroom) {
		return
	}
	if q.suppressedByHysteresisLocked(g, false) {
		return
	}
	q.applyPresetLocked(guildID, g, g.preset.StepUp(), "score holding with low loss", true)
	// Each upgrade step earns its own stability period.
	g.goodSince = now
}

// bandwidthClearsLocked reports whether measured bandwidth exceeds the
// given multiple of the current bitrate target. Bandwidth is often
// unmeasured; an unknown value never blocks an upgrade on its own.
func (q *QualityManager) bandwidthClearsLocked(g *guildQuality, multiple float64) bool {
	if g.network.BandwidthKbps <= 0 || g.config.BitrateKbps <= 0 {
		return true
	}
	return g.network.BandwidthKbps > multiple*float64(g.config.BitrateKbps)
}

// suppressedByHysteresisLocked blocks a direction reversal while the
// score sits inside the margin around the neutral midpoint and the
// previous adjustment is still inside the window.
func (q *QualityManager) suppressedByHysteresisLocked(g *guildQuality, down bool) bool {
	if g.lastAdjustedAt.IsZero() || g.lastAdjustedDown == down {
		return false
	}
	if time.Since(g.lastAdjustedAt) > q.cfg.HysteresisWindow {
		return false
	}
	lower := neutralScore - q.cfg.HysteresisMargin
	upper := neutralScore + q.cfg.HysteresisMargin
	return g.overallScore >= lower && g.overallScore <= upper
}

func (q *QualityManager) setPhaseLocked(guildID domain.GuildID, g *guildQuality, phase domain.QualityPhase) {
	if g.state.CurrentPhase == phase {
		return
	}
	from := g.state.CurrentPhase
	g.state.CurrentPhase = phase
	if phase == domain.PhaseStable {
		g.state.StableSince = time.Now()
		g.state.AdjustmentStreak = 0
	}

	q.logger.Infow("quality phase changed",
		"guild_id", guildID,
		"from", from,
		"to", phase,
		"overall_score", g.overallScore,
	)
	q.publish(guildID, domain.EventQualityPhaseChanged, domain.PhaseChangeData{
		FromPhase: from,
		ToPhase:   phase,
		Score:     g.overallScore,
	})
}

// applyPresetLocked moves the guild to a preset, records the adjustment
// and notifies observers. Automatic moves are always single steps, so
// gradual pacing only matters for manual multi-step applies.
func (q *QualityManager) applyPresetLocked(guildID domain.GuildID, g *guildQuality, to domain.QualityPreset, reason string, automatic bool) {
	if to == g.preset {
		return
	}
	cfg, ok := domain.ConfigForPreset(to)
	if !ok {
		return
	}

	from := g.preset
	g.preset = to
	g.config = cfg
	g.lastAdjustedAt = time.Now()
	g.lastAdjustedDown = to.Rank() < from.Rank()
	if automatic {
		g.state.AdjustmentStreak++
	}
	g.state.RecordAdjustment(domain.QualityAdjustment{
		Timestamp:  g.lastAdjustedAt,
		FromPreset: from,
		ToPreset:   to,
		Reason:     reason,
	})

	q.logger.Infow("quality preset adjusted",
		"guild_id", guildID,
		"from", from,
		"to", to,
		"reason", reason,
		"overall_score", g.overallScore,
	)
	q.publish(guildID, domain.EventQualityAdjusted, domain.QualityChangeData{
		FromPreset: from,
		ToPreset:   to,
		Score:      g.overallScore,
	})
	q.notifyObservers(guildID, cfg)
}

func (q *QualityManager) notifyObservers(guildID domain.GuildID, cfg domain.AudioQualityConfig) {
	q.obsMu.RLock()
	observers := make([]QualityObserver, len(q.observers))
	copy(observers, q.observers)
	q.obsMu.RUnlock()

	for _, obs := range observers {
		obs(guildID, cfg)
	}
}

// ApplyPreset is the operator override. It pins the guild to the given
// preset and, when gradual transitions are enabled, walks intermediate
// presets one step at a time.
func (q *QualityManager) ApplyPreset(guildID domain.GuildID, preset domain.QualityPreset) error {
	if _, ok := domain.ConfigForPreset(preset); !ok {
		return domain.ErrUnknownPreset
	}

	g, found := q.guild(guildID)
	if !found {
		return domain.ErrGuildNotFound
	}

	g.mu.Lock()
	from := g.preset
	steps := presetPath(from, preset)
	g.mu.Unlock()

	q.publish(guildID, domain.EventQualityPresetApplied, domain.QualityChangeData{
		FromPreset: from,
		ToPreset:   preset,
	})

	if !q.cfg.GradualTransitions || len(steps) <= 1 {
		g.mu.Lock()
		q.applyPresetLocked(guildID, g, preset, "operator override", false)
		g.mu.Unlock()
		return nil
	}

	go func() {
		for i, step := range steps {
			if i > 0 {
				time.Sleep(q.cfg.GradualStepDelay)
			}
			g.mu.Lock()
			q.applyPresetLocked(guildID, g, step, "operator override (gradual)", false)
			g.mu.Unlock()
		}
	}()
	return nil
}

// ApplyCustomConfig pins a guild to an explicit parameter bundle,
// exempting it from automatic adjustment until a preset is re-applied.
func (q *QualityManager) ApplyCustomConfig(guildID domain.GuildID, cfg domain.AudioQualityConfig) error {
	g, found := q.guild(guildID)
	if !found {
		return domain.ErrGuildNotFound
	}

	g.mu.Lock()
	from := g.preset
	cfg.Preset = domain.PresetCustom
	g.preset = domain.PresetCustom
	g.config = cfg
	g.state.RecordAdjustment(domain.QualityAdjustment{
		Timestamp:  time.Now(),
		FromPreset: from,
		ToPreset:   domain.PresetCustom,
		Reason:     "operator custom config",
	})
	g.mu.Unlock()

	q.publish(guildID, domain.EventQualityPresetApplied, domain.QualityChangeData{
		FromPreset: from,
		ToPreset:   domain.PresetCustom,
	})
	q.notifyObservers(guildID, cfg)
	return nil
}

// presetPath lists the presets from just after `from` up to and
// including `to`, one rank at a time.
func presetPath(from, to domain.QualityPreset) []domain.QualityPreset {
	fr, tr := from.Rank(), to.Rank()
	if fr < 0 || tr < 0 || fr == tr {
		return []domain.QualityPreset{to}
	}

	var steps []domain.QualityPreset
	cur := from
	for cur != to {
		if tr > cur.Rank() {
			cur = cur.StepUp()
		} else {
			cur = cur.StepDown()
		}
		steps = append(steps, cur)
	}
	return steps
}

// GetQualityState returns a snapshot of one guild's quality machine.
func (q *QualityManager) GetQualityState(guildID domain.GuildID) (QualityState, bool) {
	g, ok := q.guild(guildID)
	if !ok {
		return QualityState{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return q.snapshotLocked(guildID, g), true
}

func (q *QualityManager) snapshotLocked(guildID domain.GuildID, g *guildQuality) QualityState {
	state := g.state
	state.RecentAdjustments = append([]domain.QualityAdjustment(nil), g.state.RecentAdjustments...)
	return QualityState{
		GuildID:       guildID,
		Preset:        g.preset,
		Config:        g.config,
		Phase:         g.state.CurrentPhase,
		OverallScore:  g.overallScore,
		NetworkScore:  g.networkScore,
		QualityScore:  g.qualityScore,
		Adjustment:    state,
		LastEvaluated: g.lastEvaluated,
	}
}

// GetEffectiveConfig returns the guild's current parameter bundle.
func (q *QualityManager) GetEffectiveConfig(guildID domain.GuildID) (domain.AudioQualityConfig, bool) {
	g, ok := q.guild(guildID)
	if !ok {
		return domain.AudioQualityConfig{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.config, true
}

// GenerateQualityReport aggregates quality state across all guilds.
func (q *QualityManager) GenerateQualityReport() QualityReport {
	q.mu.RLock()
	guilds := make(map[domain.GuildID]*guildQuality, len(q.guilds))
	for id, g := range q.guilds {
		guilds[id] = g
	}
	q.mu.RUnlock()

	report := QualityReport{
		PhaseCounts:  make(map[domain.QualityPhase]int),
		PresetCounts: make(map[domain.QualityPreset]int),
		GeneratedAt:  time.Now(),
	}

	var scoreSum float64
	for id, g := range guilds {
		g.mu.Lock()
		snap := q.snapshotLocked(id, g)
		report.TotalAdjustments += g.state.AdjustmentStreak
		g.mu.Unlock()

		report.Guilds = append(report.Guilds, snap)
		report.PhaseCounts[snap.Phase]++
		report.PresetCounts[snap.Preset]++
		scoreSum += snap.OverallScore
	}
	if len(report.Guilds) > 0 {
		report.AvgOverallScore = scoreSum / float64(len(report.Guilds))
	}
	return report
}

func (q *QualityManager) publish(guildID domain.GuildID, t domain.EventType, data interface{}) {
	if q.events == nil {
		return
	}
	q.events.Publish(domain.Event{
		ID:        q.ids.NewID(),
		Type:      t,
		GuildID:   guildID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

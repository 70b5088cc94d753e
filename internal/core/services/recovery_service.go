package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	apperrors "voicelink/pkg/errors"
	"voicelink/pkg/idgen"
	"voicelink/pkg/retry"
	"voicelink/pkg/validation"
)

// RecoveryConfig tunes the per-guild retry loop and circuit breaker.
type RecoveryConfig struct {
	MaxRetries                 int
	InitialBackoff             time.Duration
	MaxBackoff                 time.Duration
	Multiplier                 float64
	JitterFactor               float64
	CircuitBreakerThreshold    int
	CircuitBreakerResetTimeout time.Duration
}

// DefaultRecoveryConfig returns production defaults.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxRetries:                 5,
		InitialBackoff:             500 * time.Millisecond,
		MaxBackoff:                 30 * time.Second,
		Multiplier:                 2.0,
		JitterFactor:               0.25,
		CircuitBreakerThreshold:    5,
		CircuitBreakerResetTimeout: 60 * time.Second,
	}
}

func (c RecoveryConfig) retryConfig() retry.Config {
	return retry.Config{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		Multiplier:     c.Multiplier,
		JitterFactor:   c.JitterFactor,
	}
}

// guildRecovery holds one guild's state behind its own lock so that
// guilds progress fully independently.
type guildRecovery struct {
	mu    sync.Mutex
	state domain.RecoveryState
}

// RecoveryEngine owns per-guild RecoveryState, the retry/backoff policy
// and the circuit-breaker transition. It never second-guesses pool
// admission; it only governs retries once admitted.
type RecoveryEngine struct {
	cfg    RecoveryConfig
	events ports.EventPublisher
	ids    idgen.Generator
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	guilds map[domain.GuildID]*guildRecovery
}

// NewRecoveryEngine creates a recovery engine.
func NewRecoveryEngine(cfg RecoveryConfig, events ports.EventPublisher, ids idgen.Generator, logger *zap.SugaredLogger) *RecoveryEngine {
	return &RecoveryEngine{
		cfg:    cfg,
		events: events,
		ids:    ids,
		logger: logger,
		guilds: make(map[domain.GuildID]*guildRecovery),
	}
}

func (r *RecoveryEngine) guild(guildID domain.GuildID) *guildRecovery {
	r.mu.RLock()
	g, ok := r.guilds[guildID]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.guilds[guildID]; ok {
		return g
	}
	g = &guildRecovery{}
	r.guilds[guildID] = g
	return g
}

// Connect drives a transport connect for one guild: validation
// fast-fail, circuit-breaker admission, then up to MaxRetries classified
// attempts with exponential backoff. The guild's lock is held for the
// whole call, which is what linearizes concurrent connects per guild.
func (r *RecoveryEngine) Connect(ctx context.Context, guildID domain.GuildID, transport ports.VoiceTransport, info domain.VoiceServerInfo) error {
	if err := validation.ValidateVoiceCredentials(info.Token, info.Endpoint, info.SessionID); err != nil {
		return err
	}

	g := r.guild(guildID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.CircuitBreakerOpen {
		elapsed := time.Since(g.state.CircuitBreakerOpenAt)
		if elapsed < r.cfg.CircuitBreakerResetTimeout {
			r.publish(guildID, domain.EventCircuitRejected, domain.CircuitRejectedData{
				ConsecutiveFailures: g.state.ConsecutiveFailures,
			})
			return &apperrors.CircuitOpenError{
				GuildID:             guildID.String(),
				ConsecutiveFailures: g.state.ConsecutiveFailures,
				RetryAfter:          r.cfg.CircuitBreakerResetTimeout - elapsed,
			}
		}
		// Reset timeout elapsed: this call is the half-open probe.
		r.logger.Infow("circuit breaker half-open, probing", "guild_id", guildID)
		r.publish(guildID, domain.EventCircuitHalfOpen, nil)
	}

	r.publish(guildID, domain.EventRecoveryStarted, nil)

	retryCfg := r.cfg.retryConfig()
	// Jitter-free view of the schedule, so the published delay is the
	// nominal backoff rather than one random draw.
	nominal := retryCfg
	nominal.JitterFactor = 0
	var attempts int

	err := retry.Do(ctx, retryCfg, apperrors.IsRetryable, func(attempt int) error {
		attempts = attempt
		if attempt > 1 {
			r.publish(guildID, domain.EventRetryScheduled, domain.RetryScheduledData{
				Attempt: attempt,
				Delay:   nominal.BackoffFor(attempt),
			})
		}

		err := transport.Connect(ctx, info)
		if err == nil {
			return nil
		}

		classification := apperrors.Classify(err)
		r.logger.Warnw("voice connect attempt failed",
			"guild_id", guildID,
			"attempt", attempt,
			"classification", classification.String(),
			"error", err,
		)
		r.recordFailureLocked(guildID, g)

		if g.state.CircuitBreakerOpen {
			// The breaker tripped mid-loop; stop dialing immediately.
			return apperrors.NewVoiceError(apperrors.Permanent, "connect", err)
		}
		return err
	})

	if err != nil {
		r.publish(guildID, domain.EventRecoveryFailed, domain.RecoveryResultData{
			TotalAttempts: attempts,
			Error:         err.Error(),
		})
		return fmt.Errorf("voice connect for guild %s failed: %w", guildID, err)
	}

	r.recordSuccessLocked(guildID, g)
	if attempts > 1 {
		r.publish(guildID, domain.EventRecoverySucceeded, domain.RecoveryResultData{TotalAttempts: attempts})
		r.logger.Infow("voice connect recovered",
			"guild_id", guildID,
			"total_attempts", attempts,
		)
	}
	return nil
}

// recordFailureLocked updates RecoveryState after a failed attempt.
// Caller holds the guild lock.
func (r *RecoveryEngine) recordFailureLocked(guildID domain.GuildID, g *guildRecovery) {
	wasOpen := g.state.CircuitBreakerOpen

	g.state.ConsecutiveFailures++
	g.state.LastFailure = time.Now()
	g.state.TotalRetries++

	if wasOpen {
		// Half-open probe failed: the breaker re-opens with a fresh window.
		g.state.CircuitBreakerOpenAt = time.Now()
		r.publish(guildID, domain.EventCircuitOpened, domain.CircuitRejectedData{
			ConsecutiveFailures: g.state.ConsecutiveFailures,
		})
		return
	}

	if g.state.ConsecutiveFailures >= r.cfg.CircuitBreakerThreshold {
		g.state.CircuitBreakerOpen = true
		g.state.CircuitBreakerOpenAt = time.Now()
		r.logger.Warnw("circuit breaker opened",
			"guild_id", guildID,
			"consecutive_failures", g.state.ConsecutiveFailures,
		)
		r.publish(guildID, domain.EventCircuitOpened, domain.CircuitRejectedData{
			ConsecutiveFailures: g.state.ConsecutiveFailures,
		})
	}
}

// recordSuccessLocked resets failure tracking and closes the breaker.
// Caller holds the guild lock.
func (r *RecoveryEngine) recordSuccessLocked(guildID domain.GuildID, g *guildRecovery) {
	wasOpen := g.state.CircuitBreakerOpen
	g.state.ConsecutiveFailures = 0
	g.state.CircuitBreakerOpen = false
	g.state.CircuitBreakerOpenAt = time.Time{}
	if wasOpen {
		r.logger.Infow("circuit breaker closed", "guild_id", guildID)
		r.publish(guildID, domain.EventCircuitClosed, nil)
	}
}

// GetRecoveryState returns a snapshot of the guild's recovery state.
func (r *RecoveryEngine) GetRecoveryState(guildID domain.GuildID) (domain.RecoveryState, bool) {
	r.mu.RLock()
	g, ok := r.guilds[guildID]
	r.mu.RUnlock()
	if !ok {
		return domain.RecoveryState{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, true
}

// ForceCloseCircuitBreaker resets a guild's breaker and counters
// unconditionally. Manual operator override.
func (r *RecoveryEngine) ForceCloseCircuitBreaker(guildID domain.GuildID) {
	g := r.guild(guildID)
	g.mu.Lock()
	wasOpen := g.state.CircuitBreakerOpen
	g.state.ConsecutiveFailures = 0
	g.state.CircuitBreakerOpen = false
	g.state.CircuitBreakerOpenAt = time.Time{}
	g.mu.Unlock()

	r.logger.Infow("circuit breaker force-closed", "guild_id", guildID, "was_open", wasOpen)
	if wasOpen {
		r.publish(guildID, domain.EventCircuitClosed, nil)
	}
}

// ResetRecoveryState zeroes all recovery bookkeeping for a guild.
func (r *RecoveryEngine) ResetRecoveryState(guildID domain.GuildID) {
	g := r.guild(guildID)
	g.mu.Lock()
	g.state = domain.RecoveryState{}
	g.mu.Unlock()

	r.publish(guildID, domain.EventRecoveryStateReset, nil)
}

func (r *RecoveryEngine) publish(guildID domain.GuildID, t domain.EventType, data interface{}) {
	if r.events == nil {
		return
	}
	r.events.Publish(domain.Event{
		ID:        r.ids.NewID(),
		Type:      t,
		GuildID:   guildID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"voicelink/internal/core/domain"
	apperrors "voicelink/pkg/errors"
	"voicelink/pkg/idgen"
	"voicelink/pkg/logger"
)

func newTestEngine(cfg RecoveryConfig) (*RecoveryEngine, *eventRecorder) {
	rec := &eventRecorder{}
	engine := NewRecoveryEngine(cfg, rec, idgen.NewSequenceGenerator("evt"), logger.NewNop())
	return engine, rec
}

func TestConnectSucceedsAfterTransientFailures(t *testing.T) {
	engine, rec := newTestEngine(fastRecoveryConfig())
	transport := &fakeTransport{
		failBeforeSuccess: 2,
		failWith:          apperrors.NewVoiceError(apperrors.Temporary, "connect", errors.New("reset")),
	}

	if err := engine.Connect(context.Background(), testGuild, transport, validInfo()); err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}
	if got := transport.calls(); got != 3 {
		t.Fatalf("connect calls = %d, want 3", got)
	}

	state, ok := engine.GetRecoveryState(testGuild)
	if !ok {
		t.Fatal("no recovery state after connect")
	}
	if state.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive failures = %d, want 0", state.ConsecutiveFailures)
	}
	if state.TotalRetries != 2 {
		t.Fatalf("total retries = %d, want 2", state.TotalRetries)
	}
	if rec.count(domain.EventRecoverySucceeded) != 1 {
		t.Fatal("expected one recovery.succeeded event")
	}

	// Each scheduled retry carries its nominal backoff delay.
	scheduled := rec.ofType(domain.EventRetryScheduled)
	if len(scheduled) != 2 {
		t.Fatalf("retry_scheduled events = %d, want 2", len(scheduled))
	}
	for _, e := range scheduled {
		data, ok := e.Data.(domain.RetryScheduledData)
		if !ok {
			t.Fatalf("retry_scheduled data = %T", e.Data)
		}
		if data.Delay != time.Millisecond {
			t.Fatalf("attempt %d delay = %v, want 1ms", data.Attempt, data.Delay)
		}
	}
}

func TestConnectFailsValidationWithoutTouchingTransport(t *testing.T) {
	engine, _ := newTestEngine(fastRecoveryConfig())
	transport := &fakeTransport{}

	info := validInfo()
	info.Token = ""
	err := engine.Connect(context.Background(), testGuild, transport, info)
	if err == nil {
		t.Fatal("Connect() = nil, want validation error")
	}
	if !apperrors.IsValidation(err) {
		t.Fatalf("error is %T, want ValidationError", err)
	}
	if got := transport.calls(); got != 0 {
		t.Fatalf("connect calls = %d, want 0", got)
	}
}

func TestConnectDoesNotRetryPermanentErrors(t *testing.T) {
	engine, _ := newTestEngine(fastRecoveryConfig())
	transport := &fakeTransport{
		failBeforeSuccess: 10,
		failWith:          apperrors.NewVoiceError(apperrors.Authentication, "identify", errors.New("bad token")),
	}

	err := engine.Connect(context.Background(), testGuild, transport, validInfo())
	if err == nil {
		t.Fatal("Connect() = nil, want error")
	}
	if got := transport.calls(); got != 1 {
		t.Fatalf("connect calls = %d, want 1", got)
	}
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cfg := fastRecoveryConfig()
	cfg.MaxRetries = 1
	cfg.CircuitBreakerThreshold = 2
	engine, rec := newTestEngine(cfg)

	transport := &fakeTransport{
		failBeforeSuccess: 100,
		failWith:          apperrors.NewVoiceError(apperrors.Temporary, "connect", errors.New("reset")),
	}

	for i := 0; i < 2; i++ {
		if err := engine.Connect(context.Background(), testGuild, transport, validInfo()); err == nil {
			t.Fatal("Connect() = nil, want error")
		}
	}

	state, _ := engine.GetRecoveryState(testGuild)
	if !state.CircuitBreakerOpen {
		t.Fatal("breaker not open after threshold failures")
	}
	if rec.count(domain.EventCircuitOpened) != 1 {
		t.Fatalf("circuit_breaker.opened events = %d, want 1", rec.count(domain.EventCircuitOpened))
	}

	// Third call must be rejected without touching the transport.
	before := transport.calls()
	err := engine.Connect(context.Background(), testGuild, transport, validInfo())
	if !apperrors.IsCircuitOpen(err) {
		t.Fatalf("error = %v, want CircuitOpenError", err)
	}
	if transport.calls() != before {
		t.Fatal("transport dialed while breaker open")
	}
	if rec.count(domain.EventCircuitRejected) != 1 {
		t.Fatal("expected one circuit_breaker.rejected event")
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cfg := fastRecoveryConfig()
	cfg.MaxRetries = 1
	cfg.CircuitBreakerThreshold = 1
	cfg.CircuitBreakerResetTimeout = 10 * time.Millisecond
	engine, rec := newTestEngine(cfg)

	failing := &fakeTransport{
		failBeforeSuccess: 1,
		failWith:          apperrors.NewVoiceError(apperrors.Temporary, "connect", errors.New("reset")),
	}
	if err := engine.Connect(context.Background(), testGuild, failing, validInfo()); err == nil {
		t.Fatal("expected failure")
	}
	if state, _ := engine.GetRecoveryState(testGuild); !state.CircuitBreakerOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)

	// Probe succeeds: breaker closes.
	if err := engine.Connect(context.Background(), testGuild, failing, validInfo()); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	state, _ := engine.GetRecoveryState(testGuild)
	if state.CircuitBreakerOpen {
		t.Fatal("breaker still open after successful probe")
	}
	if rec.count(domain.EventCircuitHalfOpen) != 1 {
		t.Fatal("expected one circuit_breaker.half_open event")
	}
	if rec.count(domain.EventCircuitClosed) != 1 {
		t.Fatal("expected one circuit_breaker.closed event")
	}
}

func TestHalfOpenProbeFailureReopensBreaker(t *testing.T) {
	cfg := fastRecoveryConfig()
	cfg.MaxRetries = 3
	cfg.CircuitBreakerThreshold = 1
	cfg.CircuitBreakerResetTimeout = 5 * time.Millisecond
	engine, rec := newTestEngine(cfg)

	transport := &fakeTransport{
		failBeforeSuccess: 100,
		failWith:          apperrors.NewVoiceError(apperrors.Temporary, "connect", errors.New("reset")),
	}

	cfg2 := validInfo()
	if err := engine.Connect(context.Background(), testGuild, transport, cfg2); err == nil {
		t.Fatal("expected failure")
	}
	openEvents := rec.count(domain.EventCircuitOpened)

	time.Sleep(10 * time.Millisecond)

	// Half-open probe: the single failed attempt re-opens the breaker and
	// aborts the retry loop instead of dialing again.
	before := transport.calls()
	if err := engine.Connect(context.Background(), testGuild, transport, cfg2); err == nil {
		t.Fatal("expected probe failure")
	}
	if got := transport.calls() - before; got != 1 {
		t.Fatalf("probe dialed %d times, want 1", got)
	}
	state, _ := engine.GetRecoveryState(testGuild)
	if !state.CircuitBreakerOpen {
		t.Fatal("breaker should re-open after failed probe")
	}
	if rec.count(domain.EventCircuitOpened) != openEvents+1 {
		t.Fatal("expected a fresh circuit_breaker.opened event")
	}
}

func TestGuildsAreIsolated(t *testing.T) {
	cfg := fastRecoveryConfig()
	cfg.MaxRetries = 1
	cfg.CircuitBreakerThreshold = 1
	engine, _ := newTestEngine(cfg)

	guildA := domain.GuildID("111111111111111111")
	guildB := domain.GuildID("222222222222222222")

	failing := &fakeTransport{
		failBeforeSuccess: 100,
		failWith:          apperrors.NewVoiceError(apperrors.Temporary, "connect", errors.New("reset")),
	}
	if err := engine.Connect(context.Background(), guildA, failing, validInfo()); err == nil {
		t.Fatal("expected failure for guild A")
	}
	if state, _ := engine.GetRecoveryState(guildA); !state.CircuitBreakerOpen {
		t.Fatal("guild A breaker should be open")
	}

	// Guild B is untouched by guild A's breaker.
	healthy := &fakeTransport{}
	if err := engine.Connect(context.Background(), guildB, healthy, validInfo()); err != nil {
		t.Fatalf("guild B connect failed: %v", err)
	}
	if _, ok := engine.GetRecoveryState(guildB); !ok {
		t.Fatal("guild B has no state")
	}
}

func TestForceCloseCircuitBreaker(t *testing.T) {
	cfg := fastRecoveryConfig()
	cfg.MaxRetries = 1
	cfg.CircuitBreakerThreshold = 1
	engine, rec := newTestEngine(cfg)

	failing := &fakeTransport{
		failBeforeSuccess: 100,
		failWith:          apperrors.NewVoiceError(apperrors.Temporary, "connect", errors.New("reset")),
	}
	_ = engine.Connect(context.Background(), testGuild, failing, validInfo())

	engine.ForceCloseCircuitBreaker(testGuild)
	state, _ := engine.GetRecoveryState(testGuild)
	if state.CircuitBreakerOpen || state.ConsecutiveFailures != 0 {
		t.Fatalf("state after force close = %+v", state)
	}
	if rec.count(domain.EventCircuitClosed) != 1 {
		t.Fatal("expected circuit_breaker.closed event")
	}
}

func TestResetRecoveryState(t *testing.T) {
	engine, rec := newTestEngine(fastRecoveryConfig())
	transport := &fakeTransport{
		failBeforeSuccess: 1,
		failWith:          apperrors.NewVoiceError(apperrors.Temporary, "connect", errors.New("reset")),
	}
	_ = engine.Connect(context.Background(), testGuild, transport, validInfo())

	engine.ResetRecoveryState(testGuild)
	state, _ := engine.GetRecoveryState(testGuild)
	if state != (domain.RecoveryState{}) {
		t.Fatalf("state after reset = %+v, want zero", state)
	}
	if rec.count(domain.EventRecoveryStateReset) != 1 {
		t.Fatal("expected recovery.state_reset event")
	}
}

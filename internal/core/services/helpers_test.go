package services

import (
	"context"
	"sync"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
)

// fakeTransport fails its first failBeforeSuccess connects, then stays
// open until disconnected.
type fakeTransport struct {
	mu                sync.Mutex
	connectCalls      int
	disconnectCalls   int
	failBeforeSuccess int
	failWith          error
	open              bool
	pingRTT           time.Duration
}

func (f *fakeTransport) Connect(ctx context.Context, info domain.VoiceServerInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectCalls <= f.failBeforeSuccess {
		return f.failWith
	}
	f.open = true
	return nil
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	f.open = false
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Ping(ctx context.Context) (time.Duration, error) {
	if !f.IsOpen() {
		return 0, domain.ErrTransportClosed
	}
	return f.pingRTT, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// fakeFactory hands out a fixed transport per guild.
type fakeFactory struct {
	mu         sync.Mutex
	transports map[domain.GuildID]*fakeTransport
	next       func() *fakeTransport
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		transports: make(map[domain.GuildID]*fakeTransport),
		next:       func() *fakeTransport { return &fakeTransport{} },
	}
}

func (f *fakeFactory) NewTransport(guildID domain.GuildID) ports.VoiceTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.next()
	f.transports[guildID] = t
	return t
}

func (f *fakeFactory) transport(guildID domain.GuildID) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[guildID]
}

// eventRecorder captures published events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

var _ ports.EventPublisher = (*eventRecorder)(nil)

func (r *eventRecorder) Publish(e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) count(t domain.EventType) int {
	return len(r.ofType(t))
}

// fastRecoveryConfig keeps retry sleeps negligible in tests.
func fastRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxRetries:                 3,
		InitialBackoff:             time.Millisecond,
		MaxBackoff:                 2 * time.Millisecond,
		Multiplier:                 1.0,
		JitterFactor:               0,
		CircuitBreakerThreshold:    5,
		CircuitBreakerResetTimeout: time.Minute,
	}
}

func validInfo() domain.VoiceServerInfo {
	return domain.VoiceServerInfo{
		Token:     "token",
		Endpoint:  "voice.example.com:443",
		SessionID: "session",
	}
}

const testGuild = domain.GuildID("123456789012345678")

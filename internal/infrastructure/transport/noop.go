package transport

import (
	"context"
	"sync/atomic"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
)

// NoopTransport connects instantly and stays open until disconnected.
// Used when the node runs without a real voice gateway, and as the
// default for local development.
type NoopTransport struct {
	open atomic.Bool
}

var (
	_ ports.VoiceTransport = (*NoopTransport)(nil)
	_ ports.Pinger         = (*NoopTransport)(nil)
)

func NewNoopTransport() *NoopTransport {
	return &NoopTransport{}
}

func (t *NoopTransport) Connect(ctx context.Context, info domain.VoiceServerInfo) error {
	t.open.Store(true)
	return nil
}

func (t *NoopTransport) Disconnect(ctx context.Context) error {
	t.open.Store(false)
	return nil
}

func (t *NoopTransport) IsOpen() bool {
	return t.open.Load()
}

func (t *NoopTransport) Ping(ctx context.Context) (time.Duration, error) {
	if !t.open.Load() {
		return 0, domain.ErrTransportClosed
	}
	return time.Millisecond, nil
}

package ports

import (
	"context"

	"voicelink/internal/core/domain"
)

// EventPublisher is the write side of the event bus.
type EventPublisher interface {
	Publish(event domain.Event)
}

// EventBus adds subscription management and bounded history replay.
// Callbacks run synchronously on the emission path and must not block.
type EventBus interface {
	EventPublisher
	Subscribe(id string, filter domain.EventFilter, fn func(domain.Event)) error
	Unsubscribe(id string) bool
	History(filter domain.EventFilter, limit int) []domain.Event
}

// AlertSink receives monitoring alerts. Multiple sinks can be
// registered; delivery is best-effort.
type AlertSink interface {
	OnAlert(alert domain.MonitoringAlert)
}

// AlertSinkFunc adapts a function to the AlertSink interface.
type AlertSinkFunc func(alert domain.MonitoringAlert)

func (f AlertSinkFunc) OnAlert(alert domain.MonitoringAlert) {
	f(alert)
}

// AudioInput is an opened, streamable audio source.
type AudioInput interface {
	URI() string
	ContentType() string
	Close() error
}

// AudioInputFactory produces an audio input for a validated URI.
// Creation failures are retryable.
type AudioInputFactory interface {
	CreateInput(ctx context.Context, uri string) (AudioInput, error)
}

// SessionRepository stores control-API sessions for resume support.
type SessionRepository interface {
	Save(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Session, error)
}

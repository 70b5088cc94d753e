package events

import (
	"sync"

	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
)

const defaultHistoryLimit = 1000

type subscription struct {
	id     string
	filter domain.EventFilter
	fn     func(domain.Event)
}

// Bus is the in-process event bus. Delivery is synchronous and in
// publish order per publisher; subscribers must not block. A bounded
// ring of recent events backs history replay for late subscribers.
type Bus struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	subs    []*subscription
	history []domain.Event
	limit   int
}

var _ ports.EventBus = (*Bus)(nil)

// NewBus creates a bus with the default history capacity.
func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{logger: logger, limit: defaultHistoryLimit}
}

// Publish delivers the event to every matching subscriber and appends
// it to the history ring.
func (b *Bus) Publish(event domain.Event) {
	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.limit {
		b.history = b.history[len(b.history)-b.limit:]
	}
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.filter.Matches(event) {
			b.deliver(sub, event)
		}
	}
}

// deliver shields the bus from a panicking subscriber.
func (b *Bus) deliver(sub *subscription, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("event subscriber panicked",
				"subscription_id", sub.id,
				"event_type", event.Type,
				"panic", r,
			)
		}
	}()
	sub.fn(event)
}

// Subscribe registers a callback under a unique id.
func (b *Bus) Subscribe(id string, filter domain.EventFilter, fn func(domain.Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.id == id {
			return domain.ErrDuplicateSubscription
		}
	}
	b.subs = append(b.subs, &subscription{id: id, filter: filter, fn: fn})
	return nil
}

// Unsubscribe removes a subscription, reporting whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// History returns up to limit most recent events matching the filter,
// oldest first. limit <= 0 means no cap beyond the ring size.
func (b *Bus) History(filter domain.EventFilter, limit int) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []domain.Event
	for _, e := range b.history {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

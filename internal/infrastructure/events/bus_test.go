package events

import (
	"fmt"
	"testing"

	"voicelink/internal/core/domain"
	"voicelink/pkg/logger"
)

const testGuild = domain.GuildID("123456789012345678")

func event(id string, t domain.EventType, guildID domain.GuildID) domain.Event {
	return domain.Event{ID: id, Type: t, GuildID: guildID}
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus(logger.NewNop())

	var got []string
	if err := bus.Subscribe("sub", domain.DefaultFilter(), func(e domain.Event) {
		got = append(got, e.ID)
	}); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}

	for i := 0; i < 5; i++ {
		bus.Publish(event(fmt.Sprintf("e%d", i), domain.EventConnectionEstablished, testGuild))
	}

	if len(got) != 5 {
		t.Fatalf("delivered = %d, want 5", len(got))
	}
	for i, id := range got {
		if id != fmt.Sprintf("e%d", i) {
			t.Fatalf("delivery order = %v", got)
		}
	}
}

func TestGuildFilter(t *testing.T) {
	bus := NewBus(logger.NewNop())

	filter := domain.DefaultFilter()
	filter.GuildIDs = []domain.GuildID{testGuild}

	var got []string
	_ = bus.Subscribe("sub", filter, func(e domain.Event) { got = append(got, e.ID) })

	bus.Publish(event("mine", domain.EventConnectionEstablished, testGuild))
	bus.Publish(event("other", domain.EventConnectionEstablished, domain.GuildID("999999999999999999")))

	if len(got) != 1 || got[0] != "mine" {
		t.Fatalf("delivered = %v, want [mine]", got)
	}
}

func TestCategoryAndSeverityFilter(t *testing.T) {
	bus := NewBus(logger.NewNop())

	filter := domain.DefaultFilter()
	filter.Categories = []domain.EventCategory{domain.CategoryHealth}
	filter.MinSeverity = domain.SeverityWarning

	var got []domain.EventType
	_ = bus.Subscribe("sub", filter, func(e domain.Event) { got = append(got, e.Type) })

	// Health warning passes; health info and non-health events do not.
	bus.Publish(event("a", domain.EventHealthDegraded, testGuild))
	bus.Publish(event("b", domain.EventHealthCheckCompleted, testGuild))
	bus.Publish(event("c", domain.EventCircuitOpened, testGuild))

	if len(got) != 1 || got[0] != domain.EventHealthDegraded {
		t.Fatalf("delivered = %v, want [health.degraded]", got)
	}
}

func TestIncludeFlagsSuppressCategories(t *testing.T) {
	bus := NewBus(logger.NewNop())

	filter := domain.DefaultFilter()
	filter.IncludeRecovery = false
	filter.IncludePerformance = false

	var got []domain.EventType
	_ = bus.Subscribe("sub", filter, func(e domain.Event) { got = append(got, e.Type) })

	bus.Publish(event("a", domain.EventRecoveryStarted, testGuild))
	bus.Publish(event("b", domain.EventCircuitOpened, testGuild))
	bus.Publish(event("c", domain.EventLatencySpike, testGuild))
	bus.Publish(event("d", domain.EventConnectionEstablished, testGuild))

	if len(got) != 1 || got[0] != domain.EventConnectionEstablished {
		t.Fatalf("delivered = %v, want connection event only", got)
	}
}

func TestDuplicateSubscriptionRejected(t *testing.T) {
	bus := NewBus(logger.NewNop())

	if err := bus.Subscribe("sub", domain.DefaultFilter(), func(domain.Event) {}); err != nil {
		t.Fatalf("first Subscribe() = %v", err)
	}
	if err := bus.Subscribe("sub", domain.DefaultFilter(), func(domain.Event) {}); err != domain.ErrDuplicateSubscription {
		t.Fatalf("second Subscribe() = %v, want ErrDuplicateSubscription", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(logger.NewNop())

	var count int
	_ = bus.Subscribe("sub", domain.DefaultFilter(), func(domain.Event) { count++ })

	bus.Publish(event("a", domain.EventConnectionEstablished, testGuild))
	if !bus.Unsubscribe("sub") {
		t.Fatal("Unsubscribe() = false, want true")
	}
	bus.Publish(event("b", domain.EventConnectionEstablished, testGuild))

	if count != 1 {
		t.Fatalf("delivered = %d, want 1", count)
	}
	if bus.Unsubscribe("sub") {
		t.Fatal("second Unsubscribe() = true, want false")
	}
}

func TestHistoryReturnsOldestFirstWithinLimit(t *testing.T) {
	bus := NewBus(logger.NewNop())

	for i := 0; i < 10; i++ {
		bus.Publish(event(fmt.Sprintf("e%d", i), domain.EventConnectionEstablished, testGuild))
	}

	got := bus.History(domain.DefaultFilter(), 3)
	if len(got) != 3 {
		t.Fatalf("history = %d events, want 3", len(got))
	}
	// Most recent three, oldest first.
	want := []string{"e7", "e8", "e9"}
	for i, e := range got {
		if e.ID != want[i] {
			t.Fatalf("history ids = %v, want %v", got, want)
		}
	}
}

func TestHistoryRingIsBounded(t *testing.T) {
	bus := NewBus(logger.NewNop())
	bus.limit = 5

	for i := 0; i < 8; i++ {
		bus.Publish(event(fmt.Sprintf("e%d", i), domain.EventConnectionEstablished, testGuild))
	}

	got := bus.History(domain.DefaultFilter(), 0)
	if len(got) != 5 {
		t.Fatalf("history = %d events, want 5", len(got))
	}
	if got[0].ID != "e3" {
		t.Fatalf("oldest retained = %s, want e3", got[0].ID)
	}
}

func TestPanickingSubscriberDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(logger.NewNop())

	_ = bus.Subscribe("bad", domain.DefaultFilter(), func(domain.Event) { panic("boom") })

	var count int
	_ = bus.Subscribe("good", domain.DefaultFilter(), func(domain.Event) { count++ })

	bus.Publish(event("a", domain.EventConnectionEstablished, testGuild))
	if count != 1 {
		t.Fatalf("good subscriber delivered = %d, want 1", count)
	}
}

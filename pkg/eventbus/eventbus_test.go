package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var received []string

	for i := 0; i < 3; i++ {
		bus.Subscribe(func(e Event) {
			mu.Lock()
			received = append(received, e.Type)
			mu.Unlock()
		})
	}

	bus.Publish(Event{Type: SessionCreated, SessionID: "s1"})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(received))
	}
	for _, typ := range received {
		if typ != SessionCreated {
			t.Errorf("expected %s, got %s", SessionCreated, typ)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()

	count := 0
	sub := bus.Subscribe(func(e Event) { count++ })
	bus.Publish(Event{Type: ErrorEvent})
	sub.Unsubscribe()
	bus.Publish(Event{Type: ErrorEvent})

	if count != 1 {
		t.Errorf("expected 1 delivery before unsubscribe, got %d", count)
	}
}

func TestPublishIsolatesPanickingSubscriber(t *testing.T) {
	bus := New()

	called := false
	bus.Subscribe(func(e Event) { panic("boom") })
	bus.Subscribe(func(e Event) { called = true })

	bus.Publish(Event{Type: ErrorEvent})

	if !called {
		t.Error("expected second subscriber to still be invoked despite first panicking")
	}
}

func TestPublishSetsTimestampWhenZero(t *testing.T) {
	bus := New()

	var got Event
	bus.Subscribe(func(e Event) { got = e })
	bus.Publish(Event{Type: SessionCreated})

	if got.Timestamp.IsZero() {
		t.Error("expected Publish to stamp a non-zero timestamp")
	}
}

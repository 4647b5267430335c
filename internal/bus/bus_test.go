package bus

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func TestSubscribeAndPublish(t *testing.T) {
	b := NewWithClock(fixedClock())

	var got []Event
	ok := b.Subscribe("test_event", func(e Event) error {
		got = append(got, e)
		return nil
	})
	if !ok {
		t.Fatal("Subscribe returned false")
	}

	b.Publish("test_event", map[string]any{"value": 42})

	if len(got) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(got))
	}
	if got[0].Type != "test_event" {
		t.Errorf("expected type test_event, got %s", got[0].Type)
	}
	if got[0].Payload["value"] != 42 {
		t.Errorf("expected payload value 42, got %v", got[0].Payload["value"])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	stats := b.Stats()
	if stats.Processed != 1 {
		t.Errorf("expected 1 processed, got %d", stats.Processed)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	b := New()
	if b.Subscribe("test_event", nil) {
		t.Error("Subscribe accepted a nil handler")
	}
}

func TestSubscriberCap(t *testing.T) {
	b := New()

	for i := 0; i < MaxSubscribers; i++ {
		if !b.Subscribe("capped", func(Event) error { return nil }) {
			t.Fatalf("subscriber %d rejected below cap", i)
		}
	}
	if b.Subscribe("capped", func(Event) error { return nil }) {
		t.Error("subscriber accepted beyond cap")
	}
	if b.SubscriberCount("capped") != MaxSubscribers {
		t.Errorf("expected %d subscribers, got %d", MaxSubscribers, b.SubscriberCount("capped"))
	}

	// The cap is per event type, not global
	if !b.Subscribe("other", func(Event) error { return nil }) {
		t.Error("subscription to a different type rejected")
	}
}

func TestDeliveryOrder(t *testing.T) {
	b := New()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe("ordered", func(Event) error {
			order = append(order, i)
			return nil
		})
	}

	b.Publish("ordered", nil)

	if len(order) != 5 {
		t.Fatalf("expected 5 deliveries, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("position %d: expected handler %d, got %d", i, i, v)
		}
	}
}

func TestHandlerErrorContinuesDelivery(t *testing.T) {
	b := New()

	var delivered []string
	b.Subscribe("mixed", func(Event) error {
		delivered = append(delivered, "first")
		return errors.New("first handler failed")
	})
	b.Subscribe("mixed", func(Event) error {
		delivered = append(delivered, "second")
		return nil
	})

	b.Publish("mixed", nil)

	if len(delivered) != 2 {
		t.Fatalf("expected both handlers to run, got %v", delivered)
	}
	stats := b.Stats()
	if stats.Errors != 1 {
		t.Errorf("expected 1 error counted, got %d", stats.Errors)
	}
	if stats.Processed != 1 {
		t.Errorf("expected 1 processed, got %d", stats.Processed)
	}
}

func TestHandlerPanicContinuesDelivery(t *testing.T) {
	b := New()

	secondRan := false
	b.Subscribe("panicky", func(Event) error {
		panic("boom")
	})
	b.Subscribe("panicky", func(Event) error {
		secondRan = true
		return nil
	})

	b.Publish("panicky", nil)

	if !secondRan {
		t.Error("second handler did not run after panic in first")
	}
	if b.Stats().Errors != 1 {
		t.Errorf("expected 1 error counted, got %d", b.Stats().Errors)
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	b := New()

	b.Publish("nobody_home", map[string]any{"temp": 70.0})

	stats := b.Stats()
	if stats.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", stats.Dropped)
	}
	if stats.Processed != 0 {
		t.Errorf("expected 0 processed, got %d", stats.Processed)
	}
}

func TestReentrantPublish(t *testing.T) {
	b := New()

	var got []string
	b.Subscribe("outer", func(Event) error {
		got = append(got, "outer")
		b.Publish("inner", nil)
		return nil
	})
	b.Subscribe("inner", func(Event) error {
		got = append(got, "inner")
		return nil
	})

	b.Publish("outer", nil)

	if len(got) != 2 || got[0] != "outer" || got[1] != "inner" {
		t.Errorf("expected [outer inner], got %v", got)
	}
}

func TestHistoryRetainsRecentEvents(t *testing.T) {
	b := NewWithClock(fixedClock())

	for i := 0; i < HistorySize+5; i++ {
		b.Publish(fmt.Sprintf("event_%d", i), nil)
	}

	history := b.History()
	if len(history) != HistorySize {
		t.Fatalf("expected history of %d, got %d", HistorySize, len(history))
	}
	// Oldest retained event is the one just past the overwritten prefix
	if history[0].Type != "event_5" {
		t.Errorf("expected oldest event_5, got %s", history[0].Type)
	}
	if history[len(history)-1].Type != fmt.Sprintf("event_%d", HistorySize+4) {
		t.Errorf("unexpected newest event %s", history[len(history)-1].Type)
	}
}

package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	bus := NewBus()
	received := make(chan Event, 1)

	bus.Subscribe(EventTradeOpened, func(e Event) { received <- e })
	bus.Publish(Event{Type: EventTradeOpened, UserID: "user-1"})

	select {
	case e := <-received:
		if e.UserID != "user-1" {
			t.Errorf("wrong event delivered: %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Error("publish must stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestSubscribeIgnoresOtherTypes(t *testing.T) {
	bus := NewBus()
	received := make(chan Event, 1)

	bus.Subscribe(EventTradeOpened, func(e Event) { received <- e })
	bus.Publish(Event{Type: EventTradeSettled})

	select {
	case e := <-received:
		t.Fatalf("subscriber received a foreign event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()
	received := make(chan Event, 2)

	bus.SubscribeAll(func(e Event) { received <- e })
	bus.Publish(Event{Type: EventTradeOpened})
	bus.Publish(Event{Type: EventGlobalPause})

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-received:
			seen[e.Type] = true
		case <-time.After(time.Second):
			t.Fatal("wildcard subscriber missed an event")
		}
	}
	if !seen[EventTradeOpened] || !seen[EventGlobalPause] {
		t.Errorf("wildcard subscriber saw %v", seen)
	}
}

func TestPublishKeepsExplicitTimestamp(t *testing.T) {
	bus := NewBus()
	received := make(chan Event, 1)
	stamp := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	bus.SubscribeAll(func(e Event) { received <- e })
	bus.Publish(Event{Type: EventError, Timestamp: stamp})

	select {
	case e := <-received:
		if !e.Timestamp.Equal(stamp) {
			t.Errorf("explicit timestamp overwritten: %s", e.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

package events

import (
	"sync"
	"time"
)

// EventType represents different types of engine events
type EventType string

const (
	EventSessionStarted  EventType = "SESSION_STARTED"
	EventSessionStopped  EventType = "SESSION_STOPPED"
	EventCycleCompleted  EventType = "CYCLE_COMPLETED"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventSignalBlocked   EventType = "SIGNAL_BLOCKED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeSettled    EventType = "TRADE_SETTLED"
	EventBreakerTripped  EventType = "BREAKER_TRIPPED"
	EventDailyLimitHit   EventType = "DAILY_LIMIT_HIT"
	EventGlobalPause     EventType = "GLOBAL_PAUSE"
	EventGlobalResume    EventType = "GLOBAL_RESUME"
	EventConnectionLost  EventType = "CONNECTION_LOST"
	EventAccountSwitched EventType = "ACCOUNT_SWITCHED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	UserID    string                 `json:"user_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish delivers an event to all matching subscribers. Delivery is
// asynchronous so a slow subscriber cannot stall a trading cycle.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.allSubs))
	subs = append(subs, b.subscribers[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		go sub(event)
	}
}

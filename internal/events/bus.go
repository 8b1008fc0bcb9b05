// Package events provides the in-process event bus used to broadcast
// cycle lifecycle and recovery transitions to subscribers (SSE stream,
// logging listeners).
package events

import (
	"sync"
	"time"
)

// EventType identifies a kind of system event.
type EventType string

const (
	CycleStarted      EventType = "CYCLE_STARTED"
	CycleCompleted    EventType = "CYCLE_COMPLETED"
	CycleFailed       EventType = "CYCLE_FAILED"
	CycleSkipped      EventType = "CYCLE_SKIPPED"
	TradeExecuted     EventType = "TRADE_EXECUTED"
	EmergencyEntered  EventType = "EMERGENCY_ENTERED"
	EmergencyCleared  EventType = "EMERGENCY_CLEARED"
	RecoveryTestRun   EventType = "RECOVERY_TEST_RUN"
	ShutdownTriggered EventType = "SHUTDOWN_TRIGGERED"
)

// Event is a single published event.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data,omitempty"`
}

// Handler receives published events.
type Handler func(event *Event)

// Bus is a simple synchronous publish/subscribe bus. Handlers run on
// the publisher's goroutine and must not block.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType]map[int]Handler
	all      map[int]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType]map[int]Handler),
		all:      make(map[int]Handler),
	}
}

// Subscribe registers a handler for one event type and returns an
// unsubscribe function.
func (b *Bus) Subscribe(t EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[t] == nil {
		b.handlers[t] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[t][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[t], id)
	}
}

// SubscribeAll registers a handler for every event type and returns an
// unsubscribe function.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.all[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish delivers an event to all matching handlers.
func (b *Bus) Publish(t EventType, data EventData) {
	event := &Event{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[t])+len(b.all))
	for _, h := range b.handlers[t] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

package device

import (
	"log/slog"
	"sync"
)

// Event types emitted by the session.
const (
	// EventStateUpdate fires when a recognized control ID changed a
	// named state field. Data: map with "property", "value".
	EventStateUpdate = "state_update"
	// EventFrame fires for every frame drained from the pipeline,
	// recognized or not. Data: map with "raw", "control_id", "value".
	EventFrame = "frame"
	// EventConnection fires on lifecycle transitions. Data: "connected"
	// or "disconnected".
	EventConnection = "connection"
)

// Event is one session event.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus fans session events out to the MQTT bridge, web socket hub
// and automation scripts.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]EventHandler
	all      map[uint64]EventHandler
	nextID   uint64
	logger   *slog.Logger
}

// NewEventBus creates an event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string]map[uint64]EventHandler),
		all:      make(map[uint64]EventHandler),
		logger:   logger,
	}
}

// On registers a handler for one event type and returns an unsubscribe
// function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler for every event type and returns an
// unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.all[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.all, id)
	}
}

// Emit delivers an event to all matching handlers, synchronously, in
// the caller's goroutine. A panicking handler is recovered so one bad
// subscriber cannot kill the notification pipeline.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.all))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.all {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "err", r)
				}
			}()
			h(event)
		}()
	}
}

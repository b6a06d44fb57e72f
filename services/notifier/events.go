package notifier

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Lyrics engine events, forwarded to listeners
	EventLyricsState    EventType = "lyrics_state"
	EventLyricsPrefetch EventType = "lyrics_prefetch"

	// Critical events
	EventCircuitBreakerOpen EventType = "circuit_breaker_open"
	EventCacheUnavailable   EventType = "cache_unavailable"

	// Warning events
	EventHighFailureRate EventType = "high_failure_rate"

	// Info events
	EventCircuitBreakerRecovered EventType = "circuit_breaker_recovered"
	EventServerStarted           EventType = "server_started"
)

// Severity represents the severity level of an event
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Payload   interface{}            `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, severity Severity, message string) *Event {
	return &Event{
		Type:      eventType,
		Severity:  severity,
		Message:   message,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithData adds data to the event (chainable)
func (e *Event) WithData(key string, value interface{}) *Event {
	e.Data[key] = value
	return e
}

// WithPayload attaches a structured body, such as a lyrics state (chainable)
func (e *Event) WithPayload(payload interface{}) *Event {
	e.Payload = payload
	return e
}

// EventHandler is a function that handles events. Handlers run on the
// publisher's goroutine and must not block.
type EventHandler func(event *Event)

// EventBus manages event publishing and subscription
type EventBus struct {
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler // handlers that receive all events
	mu          sync.RWMutex
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers:    make(map[EventType][]EventHandler),
		allHandlers: make([]EventHandler, 0),
	}
}

// Subscribe adds a handler for a specific event type
func (b *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll adds a handler that receives all events
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

// Publish delivers an event to all subscribed handlers, in subscription
// order. Events from one publisher reach a handler in publish order.
// A nil bus drops the event.
func (b *EventBus) Publish(event *Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	specific := b.handlers[event.Type]
	all := b.allHandlers
	b.mu.RUnlock()

	for _, handler := range specific {
		handler(event)
	}
	for _, handler := range all {
		handler(event)
	}
}

// Helper functions for publishing common events

// PublishCircuitBreakerOpen publishes a circuit breaker open event
func (b *EventBus) PublishCircuitBreakerOpen(name string, failures int, cooldown time.Duration) {
	b.Publish(NewEvent(EventCircuitBreakerOpen, SeverityCritical,
		"Circuit breaker has opened due to consecutive failures").
		WithData("name", name).
		WithData("failures", failures).
		WithData("cooldown", cooldown.String()))
}

// PublishCircuitBreakerRecovered publishes a circuit breaker recovery event
func (b *EventBus) PublishCircuitBreakerRecovered(name string) {
	b.Publish(NewEvent(EventCircuitBreakerRecovered, SeverityInfo,
		"Circuit breaker has recovered and is operational").
		WithData("name", name))
}

// PublishHighFailureRate publishes a high failure rate warning
func (b *EventBus) PublishHighFailureRate(name string, failures, threshold int) {
	b.Publish(NewEvent(EventHighFailureRate, SeverityWarning,
		"High failure rate detected, circuit breaker may trip soon").
		WithData("name", name).
		WithData("failures", failures).
		WithData("threshold", threshold))
}

// PublishCacheUnavailable publishes when the lyrics store cannot be opened
func (b *EventBus) PublishCacheUnavailable(path string, err error) {
	b.Publish(NewEvent(EventCacheUnavailable, SeverityCritical,
		"Lyrics cache could not be opened, running without persistence").
		WithData("path", path).
		WithData("error", err.Error()))
}

// PublishServerStarted publishes when server starts successfully
func (b *EventBus) PublishServerStarted(port string, cacheEnabled bool) {
	b.Publish(NewEvent(EventServerStarted, SeverityInfo,
		"Server started successfully").
		WithData("port", port).
		WithData("cache_enabled", cacheEnabled))
}

// PublishLyricsState broadcasts a resolution state change
func (b *EventBus) PublishLyricsState(status string, state interface{}) {
	b.Publish(NewEvent(EventLyricsState, SeverityInfo, "Lyrics state changed").
		WithData("status", status).
		WithPayload(state))
}

// PublishLyricsPrefetch broadcasts prefetch progress
func (b *EventBus) PublishLyricsPrefetch(status string, progress interface{}) {
	b.Publish(NewEvent(EventLyricsPrefetch, SeverityInfo, "Lyrics prefetch "+status).
		WithData("status", status).
		WithPayload(progress))
}

package events

import (
	"context"
	"sync"
	"time"

	"giftwise-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventReminderSent is emitted after a reminder email was accepted by the sender
	EventReminderSent EventType = "notification.reminder_sent"
	// EventNudgeSent is emitted after a nudge email was accepted by the sender
	EventNudgeSent EventType = "notification.nudge_sent"
	// EventNotificationFailed is emitted when a send or marker write fails
	EventNotificationFailed EventType = "notification.failed"
	// EventRunCompleted is emitted at the end of every dispatcher pass
	EventRunCompleted EventType = "notification.run_completed"
	// EventSuggestionGenerated is emitted when the generator was actually called
	EventSuggestionGenerated EventType = "suggestion.generated"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// NotificationData describes a single reminder or nudge.
type NotificationData struct {
	RunID      string
	UserID     string
	OccasionID string
	Kind       string
	Date       string
	Err        error
}

// RunCompletedData carries the summary of a finished pass.
type RunCompletedData struct {
	Summary models.RunSummary
}

// SuggestionGeneratedData describes a generator call.
type SuggestionGeneratedData struct {
	Fingerprint string
	Count       int
	Forced      bool
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing. A nil *Manager drops every event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	onError  func(Event, error)
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// OnError installs a callback for handler errors.
func (m *Manager) OnError(fn func(Event, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
// Handlers run asynchronously on a context detached from the caller's cancellation.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if m == nil {
		return
	}

	m.mu.RLock()
	enabled := m.enabled
	handlers := m.handlers[eventType]
	onError := m.onError
	m.mu.RUnlock()

	if !enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(ctx, event); err != nil && onError != nil {
				onError(event, err)
			}
		}(handler)
	}
}

// PublishNotification publishes a sent or failed notification event.
func (m *Manager) PublishNotification(ctx context.Context, eventType EventType, data NotificationData) {
	m.Publish(ctx, eventType, data)
}

// PublishRunCompleted publishes the summary of a finished pass.
func (m *Manager) PublishRunCompleted(ctx context.Context, summary models.RunSummary) {
	m.Publish(ctx, EventRunCompleted, RunCompletedData{Summary: summary})
}

// PublishSuggestionGenerated publishes a generator call.
func (m *Manager) PublishSuggestionGenerated(ctx context.Context, fingerprint string, count int, forced bool) {
	m.Publish(ctx, EventSuggestionGenerated, SuggestionGeneratedData{
		Fingerprint: fingerprint,
		Count:       count,
		Forced:      forced,
	})
}

// Wait blocks until every in-flight handler has returned.
func (m *Manager) Wait() {
	if m == nil {
		return
	}
	m.wg.Wait()
}

// Shutdown waits for in-flight handlers and drops all subscriptions.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}

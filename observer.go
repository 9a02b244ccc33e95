package modlife

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer is implemented by anything that wants to be notified of lifecycle
// events. Observers register with a Subject and are invoked for every event
// matching their subscribed event types.
type Observer interface {
	// OnEvent is called when a matching event occurs. Observers should
	// return quickly to avoid delaying other observers.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier used for registration
	// tracking and debugging.
	ObserverID() string
}

// Subject is implemented by event emitters. The Registry, Loader and Monitor
// all publish through a Subject; the EventBus in this package is the standard
// implementation.
type Subject interface {
	// RegisterObserver adds an observer, optionally filtered by event
	// types. An empty eventTypes list subscribes to all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers sends an event to all interested observers without
	// blocking the caller on observer execution.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// Observers returns information about currently registered observers.
	Observers() []ObserverInfo
}

// ObserverInfo describes a registered observer for debugging and monitoring.
type ObserverInfo struct {
	// ID is the unique identifier of the observer
	ID string `json:"id"`

	// EventTypes are the event types this observer is subscribed to.
	// Empty means all events.
	EventTypes []string `json:"eventTypes"`

	// RegisteredAt indicates when the observer was registered
	RegisteredAt time.Time `json:"registeredAt"`
}

// FunctionalObserver creates observers from plain functions, useful when a
// full struct is overkill.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that delegates to handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements Observer by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer by returning the configured ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

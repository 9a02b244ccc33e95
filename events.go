package modlife

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// Event type constants for the lifecycle channels. Following the CloudEvents
// specification, these use reverse domain notation. Observers subscribe to
// one or more of these via Subject.RegisterObserver.
const (
	// Registry status-transition events (the "module-event" channel)
	EventTypeModuleRegistered  = "com.modlife.module.registered"
	EventTypeModuleLoaded      = "com.modlife.module.loaded"
	EventTypeModuleActivated   = "com.modlife.module.activated"
	EventTypeModuleDeactivated = "com.modlife.module.deactivated"
	EventTypeModuleUnloaded    = "com.modlife.module.unloaded"
	EventTypeModuleError       = "com.modlife.module.error"

	// Loader notification events
	EventTypeLoaderLoaded   = "com.modlife.loader.loaded"
	EventTypeLoaderUnloaded = "com.modlife.loader.unloaded"
	EventTypeLoaderReloaded = "com.modlife.loader.reloaded"

	// Monitor events
	EventTypeHealthCheck = "com.modlife.monitor.health-check"
	EventTypeHealthAlert = "com.modlife.monitor.health-alert"
)

// RegistryEventTypes lists every event the Registry emits on status
// transitions, for observers that want the whole module-event channel.
func RegistryEventTypes() []string {
	return []string{
		EventTypeModuleRegistered,
		EventTypeModuleLoaded,
		EventTypeModuleActivated,
		EventTypeModuleDeactivated,
		EventTypeModuleUnloaded,
		EventTypeModuleError,
	}
}

// statusEventTypes maps a new status to the event emitted for the
// transition. Transitional states (loading, unloading) emit no event.
var statusEventTypes = map[ModuleStatus]string{
	StatusLoaded:   EventTypeModuleLoaded,
	StatusActive:   EventTypeModuleActivated,
	StatusInactive: EventTypeModuleDeactivated,
	StatusUnloaded: EventTypeModuleUnloaded,
	StatusError:    EventTypeModuleError,
}

// NewModuleEvent creates a CloudEvent for the given module with the subject
// set to the module id and optional structured data.
func NewModuleEvent(eventType, source, moduleID string, data interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetSubject(moduleID)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// generateEventID generates a unique identifier using UUIDv7, which embeds a
// timestamp for time-ordered uniqueness. Falls back to v4 on failure.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent validates an event against the CloudEvents
// specification before it is published.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

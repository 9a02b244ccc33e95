package modlife

import (
	"context"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// testLogger routes component logs through the test log.
type testLogger struct {
	t *testing.T
}

func (l *testLogger) Debug(msg string, args ...any) { l.t.Logf("DEBUG %s %v", msg, args) }
func (l *testLogger) Info(msg string, args ...any)  { l.t.Logf("INFO  %s %v", msg, args) }
func (l *testLogger) Warn(msg string, args ...any)  { l.t.Logf("WARN  %s %v", msg, args) }
func (l *testLogger) Error(msg string, args ...any) { l.t.Logf("ERROR %s %v", msg, args) }

// recordingObserver buffers received events for assertions.
type recordingObserver struct {
	id     string
	events chan cloudevents.Event
}

func newRecordingObserver(id string) *recordingObserver {
	return &recordingObserver{id: id, events: make(chan cloudevents.Event, 64)}
}

func (o *recordingObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	o.events <- event
	return nil
}

func (o *recordingObserver) ObserverID() string { return o.id }

// waitForEvent blocks until an event of the given type arrives or the
// timeout elapses.
func (o *recordingObserver) waitForEvent(t *testing.T, eventType string, timeout time.Duration) cloudevents.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case event := <-o.events:
			if event.Type() == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", eventType)
			return cloudevents.Event{}
		}
	}
}

// descriptor builds a minimal valid descriptor for tests.
func testDescriptor(id, version string) *ModuleDescriptor {
	return &ModuleDescriptor{
		ID:      id,
		Name:    id,
		Version: version,
	}
}

// stubHandle is a ModuleHandle recording which hooks ran.
type stubHandle struct {
	initialized bool
	activated   bool
	deactivated bool
	cleaned     bool

	initErr     error
	activateErr error
	cleanupErr  error
}

func (h *stubHandle) Initialize(ctx context.Context) error {
	h.initialized = true
	return h.initErr
}

func (h *stubHandle) Activate(ctx context.Context) error {
	h.activated = true
	return h.activateErr
}

func (h *stubHandle) Deactivate(ctx context.Context) error {
	h.deactivated = true
	return nil
}

func (h *stubHandle) Cleanup(ctx context.Context) error {
	h.cleaned = true
	return h.cleanupErr
}

// stubSource is an in-test ArtifactSource returning a fresh stubHandle per
// fetch, with settable modification times for watcher tests.
type stubSource struct {
	mu         sync.Mutex
	fetches    int
	fetchedIDs []string
	lastFetch  *stubHandle
	fetchErr   error
	modTime    time.Time
	modErr     error
	onFetch    func(handle *stubHandle)
}

func (s *stubSource) FetchImplementation(ctx context.Context, moduleID string) (ModuleHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	s.fetches++
	s.fetchedIDs = append(s.fetchedIDs, moduleID)
	handle := &stubHandle{}
	if s.onFetch != nil {
		s.onFetch(handle)
	}
	s.lastFetch = handle
	return handle, nil
}

func (s *stubSource) LastModified(ctx context.Context, moduleID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modErr != nil {
		return time.Time{}, s.modErr
	}
	return s.modTime, nil
}

func (s *stubSource) setModTime(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modTime = at
}

func (s *stubSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *stubSource) lastHandle() *stubHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetch
}

func (s *stubSource) fetchOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetchedIDs...)
}

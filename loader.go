package modlife

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// LoaderOptions configures loading behavior.
type LoaderOptions struct {
	// ParallelLoad makes LoadMany load modules concurrently instead of
	// sequentially.
	ParallelLoad bool

	// HotReload starts a watch loop for every successfully loaded module.
	HotReload bool

	// WatchInterval is the hot-reload poll interval. Defaults to 10s.
	WatchInterval time.Duration
}

// Loader orchestrates dependency-ordered load, unload, activation and
// hot-reload of modules. Every load is validated first; required
// dependencies are loaded recursively before the dependent's implementation
// is fetched. A per-module in-flight guard serializes watcher-triggered
// reloads against manual operations on the same module.
type Loader struct {
	registry  *Registry
	validator *Validator
	source    ArtifactSource
	subject   Subject
	logger    Logger
	options   LoaderOptions

	instances map[string]ModuleHandle
	watchers  map[string]*watcher
	inflight  map[string]bool
	mu        sync.Mutex
}

// NewLoader wires a loader to its collaborators. The artifact source is
// required; subject and logger may be nil.
func NewLoader(registry *Registry, validator *Validator, source ArtifactSource, subject Subject, logger Logger, options LoaderOptions) *Loader {
	if options.WatchInterval <= 0 {
		options.WatchInterval = 10 * time.Second
	}
	return &Loader{
		registry:  registry,
		validator: validator,
		source:    source,
		subject:   subject,
		logger:    ensureLogger(logger),
		options:   options,
		instances: make(map[string]ModuleHandle),
		watchers:  make(map[string]*watcher),
		inflight:  make(map[string]bool),
	}
}

// tryBeginOp claims the per-module in-flight flag. Returns false when
// another lifecycle operation on the same module is already running.
func (l *Loader) tryBeginOp(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[id] {
		return false
	}
	l.inflight[id] = true
	return true
}

func (l *Loader) endOp(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, id)
}

// Load validates and loads one module, recursively loading its required
// dependencies first, and activates it when Config.Enabled is set.
func (l *Loader) Load(ctx context.Context, id string) error {
	if !l.tryBeginOp(id) {
		return fmt.Errorf("%w: %s", ErrOperationInFlight, id)
	}
	defer l.endOp(id)
	return l.doLoad(ctx, id)
}

func (l *Loader) doLoad(ctx context.Context, id string) error {
	descriptor, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	if l.source == nil {
		return ErrNilArtifactSource
	}

	switch descriptor.Status {
	case StatusLoaded, StatusActive, StatusInactive:
		// Already loaded; diamond dependencies land here.
		return nil
	case StatusLoading:
		return nil
	}

	if err := l.registry.UpdateStatus(id, StatusLoading); err != nil {
		return err
	}

	result := l.validator.Validate(descriptor)
	for _, warning := range result.Warnings {
		l.logger.Warn("Validation warning", "module", id, "type", warning.Type, "message", warning.Message)
	}
	if !result.Valid {
		l.fail(id, nil)
		return &ValidationFailedError{ModuleID: id, Errors: result.Errors}
	}

	if err := l.loadDependencies(ctx, descriptor); err != nil {
		l.fail(id, err)
		return err
	}

	handle, err := l.source.FetchImplementation(ctx, id)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s: %v", ErrLoadFailed, id, err)
		l.fail(id, wrapped)
		return wrapped
	}

	if initializer, ok := handle.(Initializer); ok {
		if err := initializer.Initialize(ctx); err != nil {
			wrapped := fmt.Errorf("%w: initialize hook for %s: %v", ErrLoadFailed, id, err)
			l.fail(id, wrapped)
			return wrapped
		}
	}

	l.mu.Lock()
	l.instances[id] = handle
	l.mu.Unlock()

	if err := l.registry.UpdateStatus(id, StatusLoaded); err != nil {
		l.fail(id, err)
		return err
	}

	if descriptor.Config != nil && descriptor.Config.Enabled {
		if err := l.doActivate(ctx, id); err != nil {
			return err
		}
	}

	if l.options.HotReload {
		l.startWatch(id)
	}

	l.logger.Info("Module loaded", "module", id, "version", descriptor.Version)
	l.emit(EventTypeLoaderLoaded, id, map[string]interface{}{"version": descriptor.Version})
	return nil
}

// loadDependencies loads every required dependency not yet loaded or active.
// Optional missing dependencies were already surfaced as validator warnings
// and are skipped.
func (l *Loader) loadDependencies(ctx context.Context, descriptor *ModuleDescriptor) error {
	for _, dependency := range descriptor.Dependencies {
		if !dependency.Required {
			continue
		}
		target, err := l.registry.Get(dependency.ModuleID)
		if err != nil {
			return fmt.Errorf("dependency %q of %q: %w", dependency.ModuleID, descriptor.ID, err)
		}
		switch target.Status {
		case StatusLoaded, StatusActive, StatusInactive:
			continue
		}
		if err := l.doLoad(ctx, dependency.ModuleID); err != nil {
			return fmt.Errorf("dependency %q of %q failed to load: %w", dependency.ModuleID, descriptor.ID, err)
		}
	}
	return nil
}

// LoadMany loads the given modules, concurrently when ParallelLoad is set.
// All errors are collected; a failing module never aborts the others.
func (l *Loader) LoadMany(ctx context.Context, ids []string) error {
	if !l.options.ParallelLoad {
		var errs []error
		for _, id := range ids {
			if err := l.Load(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = l.Load(ctx, id)
		}(i, id)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// LoadAll loads every registered module whose config does not opt out of
// auto-loading, highest priority first.
func (l *Loader) LoadAll(ctx context.Context) error {
	descriptors := l.registry.GetAll()

	candidates := make([]*ModuleDescriptor, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Config.AutoLoadEnabled() {
			candidates = append(candidates, descriptor)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return priorityOf(candidates[i]) > priorityOf(candidates[j])
	})

	ids := make([]string, len(candidates))
	for i, descriptor := range candidates {
		ids[i] = descriptor.ID
	}
	return l.LoadMany(ctx, ids)
}

func priorityOf(descriptor *ModuleDescriptor) int {
	if descriptor.Config == nil {
		return 0
	}
	return descriptor.Config.Priority
}

// Unload tears a module down: deactivates it when active, stops its watch,
// runs the cleanup hook and discards the cached handle. Hook failures
// during teardown are logged but never leave the module stuck mid-teardown.
func (l *Loader) Unload(ctx context.Context, id string) error {
	if !l.tryBeginOp(id) {
		return fmt.Errorf("%w: %s", ErrOperationInFlight, id)
	}
	defer l.endOp(id)
	return l.doUnload(ctx, id)
}

func (l *Loader) doUnload(ctx context.Context, id string) error {
	descriptor, err := l.registry.Get(id)
	if err != nil {
		return err
	}

	if descriptor.Status == StatusActive {
		if err := l.doDeactivate(ctx, id); err != nil {
			l.logger.Error("Deactivate during unload failed", "module", id, "error", err)
		}
	}

	if err := l.registry.UpdateStatus(id, StatusUnloading); err != nil {
		return err
	}

	l.stopWatch(id)

	l.mu.Lock()
	handle := l.instances[id]
	delete(l.instances, id)
	l.mu.Unlock()

	if cleaner, ok := handle.(Cleaner); ok {
		if err := cleaner.Cleanup(ctx); err != nil {
			l.logger.Error("Cleanup hook failed", "module", id, "error", err)
		}
	}

	if err := l.registry.UpdateStatus(id, StatusUnloaded); err != nil {
		return err
	}

	l.logger.Info("Module unloaded", "module", id)
	l.emit(EventTypeLoaderUnloaded, id, nil)
	return nil
}

// Reload unloads then loads a module under a single in-flight claim. This is
// also what a detected hot-reload change triggers.
func (l *Loader) Reload(ctx context.Context, id string) error {
	if !l.tryBeginOp(id) {
		return fmt.Errorf("%w: %s", ErrOperationInFlight, id)
	}
	defer l.endOp(id)

	if err := l.doUnload(ctx, id); err != nil {
		return err
	}
	if err := l.doLoad(ctx, id); err != nil {
		return err
	}

	l.logger.Info("Module reloaded", "module", id)
	l.emit(EventTypeLoaderReloaded, id, nil)
	return nil
}

// Activate transitions a loaded or inactive module to active, invoking the
// activation hook when present. A hook failure puts the module in error.
func (l *Loader) Activate(ctx context.Context, id string) error {
	if !l.tryBeginOp(id) {
		return fmt.Errorf("%w: %s", ErrOperationInFlight, id)
	}
	defer l.endOp(id)
	return l.doActivate(ctx, id)
}

func (l *Loader) doActivate(ctx context.Context, id string) error {
	descriptor, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	if descriptor.Status != StatusLoaded && descriptor.Status != StatusInactive {
		return fmt.Errorf("%w: cannot activate module %s in status %s", ErrInvalidStateTransition, id, descriptor.Status)
	}

	l.mu.Lock()
	handle := l.instances[id]
	l.mu.Unlock()

	if activator, ok := handle.(Activator); ok {
		if err := activator.Activate(ctx); err != nil {
			l.fail(id, err)
			return fmt.Errorf("activate hook for %s: %w", id, err)
		}
	}

	if err := l.registry.UpdateStatus(id, StatusActive); err != nil {
		return err
	}
	l.logger.Info("Module activated", "module", id)
	return nil
}

// Deactivate transitions an active module to inactive. Hook failures are
// logged but do not prevent the transition (teardown must not get stuck).
func (l *Loader) Deactivate(ctx context.Context, id string) error {
	if !l.tryBeginOp(id) {
		return fmt.Errorf("%w: %s", ErrOperationInFlight, id)
	}
	defer l.endOp(id)
	return l.doDeactivate(ctx, id)
}

func (l *Loader) doDeactivate(ctx context.Context, id string) error {
	descriptor, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	if descriptor.Status != StatusActive {
		return fmt.Errorf("%w: cannot deactivate module %s in status %s", ErrInvalidStateTransition, id, descriptor.Status)
	}

	l.mu.Lock()
	handle := l.instances[id]
	l.mu.Unlock()

	if deactivator, ok := handle.(Deactivator); ok {
		if err := deactivator.Deactivate(ctx); err != nil {
			l.logger.Error("Deactivate hook failed", "module", id, "error", err)
		}
	}

	if err := l.registry.UpdateStatus(id, StatusInactive); err != nil {
		return err
	}
	l.logger.Info("Module deactivated", "module", id)
	return nil
}

// Instance returns the cached implementation handle for a loaded module.
func (l *Loader) Instance(id string) (ModuleHandle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	handle, ok := l.instances[id]
	return handle, ok
}

// Stop halts every hot-reload watch loop. Loaded modules stay loaded; this
// is the process-shutdown path, not an unload.
func (l *Loader) Stop() {
	l.mu.Lock()
	watchers := make([]*watcher, 0, len(l.watchers))
	for id, w := range l.watchers {
		watchers = append(watchers, w)
		delete(l.watchers, id)
	}
	l.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
}

// fail records an ERROR transition, tolerating state-machine rejections so
// the original failure is what the caller sees.
func (l *Loader) fail(id string, cause error) {
	if err := l.registry.UpdateStatus(id, StatusError); err != nil {
		l.logger.Error("Failed to record error status", "module", id, "error", err)
	}
	if cause != nil {
		l.logger.Error("Module operation failed", "module", id, "error", cause)
	}
}

// emit publishes a loader event when a subject is configured.
func (l *Loader) emit(eventType, moduleID string, data map[string]interface{}) {
	if l.subject == nil {
		return
	}
	event := NewModuleEvent(eventType, "loader", moduleID, data)
	if err := l.subject.NotifyObservers(context.Background(), event); err != nil {
		l.logger.Error("Failed to notify observers", "event", eventType, "module", moduleID, "error", err)
	}
}

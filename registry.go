package modlife

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// versionPattern is the semantic version shape accepted at registration
// time: MAJOR.MINOR.PATCH with optional pre-release and build metadata.
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?$`)

// Registry is the authoritative in-memory catalog of module descriptors.
// It owns every status transition and emits a CloudEvent for each mapped
// transition. All other components read and mutate descriptors exclusively
// through Registry operations.
type Registry struct {
	modules map[string]*ModuleDescriptor
	byName  map[string][]string // display name -> module ids
	mu      sync.RWMutex
	subject Subject
	logger  Logger
}

// NewRegistry creates a registry publishing events through subject. Both
// arguments may be nil; a nil subject disables event emission.
func NewRegistry(subject Subject, logger Logger) *Registry {
	return &Registry{
		modules: make(map[string]*ModuleDescriptor),
		byName:  make(map[string][]string),
		subject: subject,
		logger:  ensureLogger(logger),
	}
}

// Register adds a descriptor to the catalog. The id must be unique; id, name
// and version are required and the version must be semantic. On success the
// module enters StatusRegistered, LoadedAt is stamped and a registered event
// is emitted.
func (r *Registry) Register(descriptor *ModuleDescriptor) error {
	if descriptor == nil {
		return fmt.Errorf("%w: descriptor is nil", ErrInvalidModule)
	}
	if descriptor.ID == "" || descriptor.Name == "" || descriptor.Version == "" {
		return fmt.Errorf("%w: id, name and version are required", ErrInvalidModule)
	}
	if !versionPattern.MatchString(descriptor.Version) {
		return fmt.Errorf("%w: version %q is not a semantic version", ErrInvalidModule, descriptor.Version)
	}

	r.mu.Lock()
	if _, exists := r.modules[descriptor.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModuleAlreadyRegistered, descriptor.ID)
	}

	stored := descriptor.clone()
	stored.Status = StatusRegistered
	stored.LoadedAt = time.Now()

	r.modules[stored.ID] = stored
	r.byName[stored.Name] = append(r.byName[stored.Name], stored.ID)
	r.mu.Unlock()

	r.logger.Info("Module registered", "module", stored.ID, "version", stored.Version)
	r.emit(EventTypeModuleRegistered, stored.ID, map[string]interface{}{
		"name":    stored.Name,
		"version": stored.Version,
	})
	return nil
}

// Unregister removes a module from the catalog and the name index.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	descriptor, exists := r.modules[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}

	delete(r.modules, id)

	ids := r.byName[descriptor.Name]
	for i, candidate := range ids {
		if candidate == id {
			r.byName[descriptor.Name] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byName[descriptor.Name]) == 0 {
		delete(r.byName, descriptor.Name)
	}

	r.logger.Info("Module unregistered", "module", id)
	return nil
}

// Get returns a copy of the descriptor for id.
func (r *Registry) Get(id string) (*ModuleDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptor, exists := r.modules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return descriptor.clone(), nil
}

// Has reports whether a module with the given id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.modules[id]
	return exists
}

// GetByName returns all modules registered under a display name. Names are
// not unique, so multiple descriptors may be returned.
func (r *Registry) GetByName(name string) []*ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byName[name]
	result := make([]*ModuleDescriptor, 0, len(ids))
	for _, id := range ids {
		if descriptor, exists := r.modules[id]; exists {
			result = append(result, descriptor.clone())
		}
	}
	return result
}

// GetAll returns copies of every registered descriptor.
func (r *Registry) GetAll() []*ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ModuleDescriptor, 0, len(r.modules))
	for _, descriptor := range r.modules {
		result = append(result, descriptor.clone())
	}
	return result
}

// GetByStatus returns every module currently in the given status.
func (r *Registry) GetByStatus(status ModuleStatus) []*ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*ModuleDescriptor
	for _, descriptor := range r.modules {
		if descriptor.Status == status {
			result = append(result, descriptor.clone())
		}
	}
	return result
}

// SearchQuery filters modules; all provided filters must match.
type SearchQuery struct {
	Name     string
	Status   ModuleStatus
	Category string
	Tag      string
}

// Search returns modules matching every provided filter conjunctively.
func (r *Registry) Search(query SearchQuery) []*ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*ModuleDescriptor
	for _, descriptor := range r.modules {
		if query.Name != "" && descriptor.Name != query.Name {
			continue
		}
		if query.Status != "" && descriptor.Status != query.Status {
			continue
		}
		if query.Category != "" {
			if descriptor.Metadata == nil || descriptor.Metadata.Category != query.Category {
				continue
			}
		}
		if query.Tag != "" {
			if descriptor.Metadata == nil || !containsString(descriptor.Metadata.Tags, query.Tag) {
				continue
			}
		}
		result = append(result, descriptor.clone())
	}
	return result
}

// UpdateStatus transitions a module to newStatus, enforcing the lifecycle
// state machine, and emits the event mapped from the new status.
// Transitional states (loading, unloading) update the field silently.
func (r *Registry) UpdateStatus(id string, newStatus ModuleStatus) error {
	r.mu.Lock()
	descriptor, exists := r.modules[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}

	oldStatus := descriptor.Status
	if !oldStatus.CanTransition(newStatus) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s for module %s", ErrInvalidStateTransition, oldStatus, newStatus, id)
	}
	descriptor.Status = newStatus
	r.mu.Unlock()

	r.logger.Debug("Module status changed", "module", id, "from", oldStatus, "to", newStatus)

	if eventType, mapped := statusEventTypes[newStatus]; mapped {
		r.emit(eventType, id, map[string]interface{}{
			"previousStatus": oldStatus.String(),
			"status":         newStatus.String(),
		})
	}
	return nil
}

// ModuleConfigPatch is a partial config; nil fields are left untouched by
// UpdateConfig.
type ModuleConfigPatch struct {
	Enabled     *bool
	AutoLoad    *bool
	Priority    *int
	Environment *string
}

// UpdateConfig shallow-merges patch into the module's config, creating the
// config if the module had none.
func (r *Registry) UpdateConfig(id string, patch ModuleConfigPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	descriptor, exists := r.modules[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}

	if descriptor.Config == nil {
		descriptor.Config = &ModuleConfig{}
	}
	if patch.Enabled != nil {
		descriptor.Config.Enabled = *patch.Enabled
	}
	if patch.AutoLoad != nil {
		autoLoad := *patch.AutoLoad
		descriptor.Config.AutoLoad = &autoLoad
	}
	if patch.Priority != nil {
		descriptor.Config.Priority = *patch.Priority
	}
	if patch.Environment != nil {
		descriptor.Config.Environment = *patch.Environment
	}
	return nil
}

// MarkHealthChecked stamps the module's LastHealthCheck time. Used by the
// Monitor so descriptors stay owned by the Registry.
func (r *Registry) MarkHealthChecked(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	descriptor, exists := r.modules[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	descriptor.LastHealthCheck = at
	return nil
}

// RegistryStats summarizes the catalog.
type RegistryStats struct {
	TotalModules int                  `json:"totalModules"`
	ByStatus     map[ModuleStatus]int `json:"byStatus"`
	UniqueNames  int                  `json:"uniqueNames"`
}

// Stats returns the total module count, a count-by-status breakdown and the
// number of unique display names.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		TotalModules: len(r.modules),
		ByStatus:     make(map[ModuleStatus]int),
		UniqueNames:  len(r.byName),
	}
	for _, descriptor := range r.modules {
		stats.ByStatus[descriptor.Status]++
	}
	return stats
}

// emit publishes a registry event when a subject is configured.
func (r *Registry) emit(eventType, moduleID string, data map[string]interface{}) {
	if r.subject == nil {
		return
	}
	event := NewModuleEvent(eventType, "registry", moduleID, data)
	if err := r.subject.NotifyObservers(context.Background(), event); err != nil {
		r.logger.Error("Failed to notify observers", "event", eventType, "module", moduleID, "error", err)
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

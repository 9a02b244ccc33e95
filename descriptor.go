// Package modlife provides a runtime lifecycle manager for pluggable feature
// modules. It is built from four cooperating components:
//
//   - Registry: the authoritative in-memory catalog of module descriptors,
//     owning status transitions and emitting lifecycle events.
//   - Validator: structural, dependency, configuration and API-contract
//     validation, including cycle detection over the live dependency graph.
//   - Loader: dependency-ordered load/unload/activate/deactivate with
//     hot-reload watching against an external artifact source.
//   - Monitor: per-module runtime metrics, threshold evaluation and
//     health/alert event emission.
//
// The components are plain structs wired together by the composing
// application:
//
//	bus := modlife.NewEventBus(logger)
//	registry := modlife.NewRegistry(bus, logger)
//	validator := modlife.NewValidator(registry)
//	loader := modlife.NewLoader(registry, validator, source, bus, logger, modlife.LoaderOptions{})
//	monitor := modlife.NewMonitor(registry, bus, logger, modlife.MonitorOptions{})
//
// All events are CloudEvents published through the Subject interface, so any
// observer can subscribe to the lifecycle channels it cares about.
package modlife

import "time"

// ModuleStatus represents the lifecycle state of a registered module.
type ModuleStatus string

const (
	// StatusRegistered is the initial state assigned by the Registry.
	StatusRegistered ModuleStatus = "registered"

	// StatusLoading indicates a load operation is in progress.
	StatusLoading ModuleStatus = "loading"

	// StatusLoaded indicates the implementation has been fetched and
	// initialized but not activated.
	StatusLoaded ModuleStatus = "loaded"

	// StatusActive indicates the module is activated and serving.
	StatusActive ModuleStatus = "active"

	// StatusInactive indicates the module is loaded but deactivated.
	StatusInactive ModuleStatus = "inactive"

	// StatusUnloading indicates an unload operation is in progress.
	StatusUnloading ModuleStatus = "unloading"

	// StatusUnloaded is terminal for a lifecycle pass; the module may be
	// loaded again from this state.
	StatusUnloaded ModuleStatus = "unloaded"

	// StatusError indicates the last lifecycle operation failed.
	StatusError ModuleStatus = "error"
)

// String returns the string representation of the module status.
func (s ModuleStatus) String() string {
	return string(s)
}

// statusTransitions enumerates the permitted edges of the lifecycle state
// machine. UpdateStatus rejects any transition not listed here.
// ERROR -> LOADING allows a caller-initiated retry; automatic retry is
// never performed by this package.
var statusTransitions = map[ModuleStatus][]ModuleStatus{
	StatusRegistered: {StatusLoading},
	StatusLoading:    {StatusLoaded, StatusError},
	StatusLoaded:     {StatusActive, StatusUnloading, StatusError},
	StatusActive:     {StatusInactive, StatusError},
	StatusInactive:   {StatusActive, StatusUnloading, StatusError},
	StatusUnloading:  {StatusUnloaded},
	StatusUnloaded:   {StatusLoading},
	StatusError:      {StatusLoading, StatusUnloading},
}

// CanTransition reports whether the state machine permits moving from s to
// next.
func (s ModuleStatus) CanTransition(next ModuleStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Dependency declares that a module requires (or optionally uses) another
// registered module at a compatible version.
type Dependency struct {
	// ModuleID is the id of the module depended upon.
	ModuleID string `json:"moduleId" yaml:"moduleId" toml:"moduleId"`

	// VersionRange constrains acceptable versions of the dependency.
	// Supported forms: "^1.2.3", "~1.2.3", ">=1.2.3", ">1.2.3",
	// "1.0.0 - 2.0.0", alternation with "||", or an exact version.
	VersionRange string `json:"versionRange" yaml:"versionRange" toml:"versionRange"`

	// Required dependencies must be present and loadable; optional ones
	// produce validation warnings when absent.
	Required bool `json:"required" yaml:"required" toml:"required"`
}

// ModuleConfig holds per-module operational settings.
type ModuleConfig struct {
	// Enabled causes the Loader to activate the module immediately after a
	// successful load.
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`

	// AutoLoad includes the module in LoadAll. Nil is treated as true.
	AutoLoad *bool `json:"autoLoad,omitempty" yaml:"autoLoad,omitempty" toml:"autoLoad,omitempty"`

	// Priority orders LoadAll, highest first. Valid range is 0-100.
	Priority int `json:"priority" yaml:"priority" toml:"priority"`

	// Environment names the deployment environment this configuration
	// targets (e.g. "development", "staging", "production").
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty" toml:"environment,omitempty"`
}

// AutoLoadEnabled reports whether the module participates in LoadAll.
func (c *ModuleConfig) AutoLoadEnabled() bool {
	if c == nil || c.AutoLoad == nil {
		return true
	}
	return *c.AutoLoad
}

// Parameter describes a single endpoint parameter.
type Parameter struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	Type     string `json:"type" yaml:"type" toml:"type"`
	Required bool   `json:"required" yaml:"required" toml:"required"`
}

// Endpoint describes a single callable entry point of a module API.
type Endpoint struct {
	// Path must begin with "/".
	Path string `json:"path" yaml:"path" toml:"path"`

	// Method is the invocation method (e.g. GET, POST).
	Method string `json:"method" yaml:"method" toml:"method"`

	// HandlerRef names the handler inside the module implementation.
	HandlerRef string `json:"handlerRef" yaml:"handlerRef" toml:"handlerRef"`

	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty" toml:"parameters,omitempty"`
}

// APIDescriptor describes one API contract a module exposes.
type APIDescriptor struct {
	Name      string     `json:"name" yaml:"name" toml:"name"`
	Version   string     `json:"version" yaml:"version" toml:"version"`
	Endpoints []Endpoint `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
}

// ModuleMetadata carries descriptive, non-operational information.
type ModuleMetadata struct {
	Category string   `json:"category,omitempty" yaml:"category,omitempty" toml:"category,omitempty"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags,omitempty"`
}

// ModuleDescriptor is the registered metadata record for one pluggable
// module. Descriptors are owned exclusively by the Registry; the Loader and
// Monitor mutate them only through Registry operations.
type ModuleDescriptor struct {
	// ID is the immutable unique identifier. Lowercase alphanumerics and
	// hyphens only.
	ID string `json:"id" yaml:"id" toml:"id"`

	// Name is a human-readable display name, at most 100 characters. Not
	// required to be unique.
	Name string `json:"name" yaml:"name" toml:"name"`

	// Version is a semantic version string.
	Version string `json:"version" yaml:"version" toml:"version"`

	Status ModuleStatus `json:"status" yaml:"status" toml:"status"`

	Dependencies []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies,omitempty"`

	Config *ModuleConfig `json:"config,omitempty" yaml:"config,omitempty" toml:"config,omitempty"`

	APIs []APIDescriptor `json:"apis,omitempty" yaml:"apis,omitempty" toml:"apis,omitempty"`

	Metadata *ModuleMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty" toml:"metadata,omitempty"`

	// LoadedAt is set by the Registry at registration time.
	LoadedAt time.Time `json:"loadedAt" yaml:"loadedAt" toml:"loadedAt"`

	// LastHealthCheck is updated by the Monitor on each health evaluation.
	LastHealthCheck time.Time `json:"lastHealthCheck,omitempty" yaml:"lastHealthCheck,omitempty" toml:"lastHealthCheck,omitempty"`
}

// clone returns a copy of the descriptor so callers never hold a reference
// into the Registry's map. Slices and nested structs are copied shallowly
// enough that mutating the copy cannot affect the stored descriptor.
func (d *ModuleDescriptor) clone() *ModuleDescriptor {
	cp := *d
	if d.Dependencies != nil {
		cp.Dependencies = append([]Dependency(nil), d.Dependencies...)
	}
	if d.Config != nil {
		cfg := *d.Config
		cp.Config = &cfg
	}
	if d.APIs != nil {
		cp.APIs = append([]APIDescriptor(nil), d.APIs...)
	}
	if d.Metadata != nil {
		md := *d.Metadata
		if d.Metadata.Tags != nil {
			md.Tags = append([]string(nil), d.Metadata.Tags...)
		}
		cp.Metadata = &md
	}
	return &cp
}

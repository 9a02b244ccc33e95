package modlife

import (
	"context"
	"time"
)

// ModuleHandle is the runnable implementation of a module as returned by an
// ArtifactSource. Lifecycle hooks are optional interfaces discovered at
// runtime; a handle may implement any subset of Initializer, Activator,
// Deactivator and Cleaner.
type ModuleHandle interface{}

// Initializer is implemented by handles that need setup after fetch,
// before the module is considered loaded.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Activator is implemented by handles that need to react to activation.
type Activator interface {
	Activate(ctx context.Context) error
}

// Deactivator is implemented by handles that need to react to deactivation.
type Deactivator interface {
	Deactivate(ctx context.Context) error
}

// Cleaner is implemented by handles that need teardown during unload.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// ArtifactSource provides module implementations and their modification
// timestamps. Implementations live outside this package; see the artifact
// subpackage for ready-made sources.
//
// FetchImplementation must return a fresh handle on every call so that a
// reload observes new behavior; the Loader discards any previously cached
// handle before reassigning.
type ArtifactSource interface {
	// FetchImplementation returns the runnable implementation for a
	// module id.
	FetchImplementation(ctx context.Context, moduleID string) (ModuleHandle, error)

	// LastModified returns the artifact's last modification time, used by
	// the hot-reload watch loop.
	LastModified(ctx context.Context, moduleID string) (time.Time, error)
}

// Package artifact provides ready-made ArtifactSource implementations for
// the lifecycle manager: an in-memory factory source for embedding and
// tests, and a manifest-directory source with fsnotify-backed change
// detection for hot reload.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modlife"
)

// Artifact source errors
var (
	ErrUnknownModule = errors.New("no artifact registered for module")
	ErrUnknownKind   = errors.New("no factory registered for manifest kind")
)

// Factory builds a fresh module handle. Sources call the factory on every
// fetch so reloads always observe a new handle.
type Factory func(ctx context.Context) (modlife.ModuleHandle, error)

// FactorySource is an in-memory ArtifactSource backed by per-module
// factories. Modification times are settable, which makes it convenient for
// embedding modules into the host binary and for exercising the hot-reload
// watch loop in tests.
type FactorySource struct {
	factories map[string]Factory
	modTimes  map[string]time.Time
	mu        sync.RWMutex
}

// NewFactorySource creates an empty factory source.
func NewFactorySource() *FactorySource {
	return &FactorySource{
		factories: make(map[string]Factory),
		modTimes:  make(map[string]time.Time),
	}
}

// Register associates a factory with a module id and stamps its
// modification time.
func (s *FactorySource) Register(moduleID string, factory Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[moduleID] = factory
	s.modTimes[moduleID] = time.Now()
}

// Touch advances a module's modification time, simulating an artifact
// change for the watch loop.
func (s *FactorySource) Touch(moduleID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modTimes[moduleID] = at
}

// FetchImplementation invokes the module's factory, returning a fresh
// handle each call.
func (s *FactorySource) FetchImplementation(ctx context.Context, moduleID string) (modlife.ModuleHandle, error) {
	s.mu.RLock()
	factory, exists := s.factories[moduleID]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, moduleID)
	}
	return factory(ctx)
}

// LastModified returns the module's recorded modification time.
func (s *FactorySource) LastModified(ctx context.Context, moduleID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	modTime, exists := s.modTimes[moduleID]
	if !exists {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownModule, moduleID)
	}
	return modTime, nil
}

// Manifest is the on-disk description of a module artifact for DirSource:
// one YAML file per module id, naming the handle kind and its settings.
type Manifest struct {
	Kind     string         `yaml:"kind"`
	Settings map[string]any `yaml:"settings"`
}

// KindFactory builds a handle from a parsed manifest.
type KindFactory func(ctx context.Context, manifest Manifest) (modlife.ModuleHandle, error)

// DirSource is an ArtifactSource reading one manifest file per module id
// ("<dir>/<id>.yaml") and building handles through factories registered by
// manifest kind. An fsnotify watcher keeps a modification-time cache warm;
// os.Stat is the fallback when no event has been seen yet.
type DirSource struct {
	dir       string
	kinds     map[string]KindFactory
	modTimes  map[string]time.Time
	mu        sync.RWMutex
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewDirSource creates a directory source watching dir for manifest
// changes. Call Close to release the filesystem watcher.
func NewDirSource(dir string) (*DirSource, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s := &DirSource{
		dir:       dir,
		kinds:     make(map[string]KindFactory),
		modTimes:  make(map[string]time.Time),
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
	}
	go s.watchEvents()
	return s, nil
}

// RegisterKind associates a factory with a manifest kind.
func (s *DirSource) RegisterKind(kind string, factory KindFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds[kind] = factory
}

// Close stops the filesystem watcher.
func (s *DirSource) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.fsWatcher.Close()
}

func (s *DirSource) watchEvents() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			moduleID := moduleIDFromPath(event.Name)
			if moduleID == "" {
				continue
			}
			s.mu.Lock()
			s.modTimes[moduleID] = time.Now()
			s.mu.Unlock()
		case _, ok := <-s.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// moduleIDFromPath maps a manifest path back to a module id.
func moduleIDFromPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ".yaml" && ext != ".yml" {
		return ""
	}
	return base[:len(base)-len(ext)]
}

func (s *DirSource) manifestPath(moduleID string) string {
	return filepath.Join(s.dir, moduleID+".yaml")
}

// FetchImplementation parses the module's manifest and builds a fresh
// handle through the factory for its kind.
func (s *DirSource) FetchImplementation(ctx context.Context, moduleID string) (modlife.ModuleHandle, error) {
	data, err := os.ReadFile(s.manifestPath(moduleID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, moduleID)
		}
		return nil, fmt.Errorf("failed to read manifest for %s: %w", moduleID, err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest for %s: %w", moduleID, err)
	}

	s.mu.RLock()
	factory, exists := s.kinds[manifest.Kind]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %q (module %s)", ErrUnknownKind, manifest.Kind, moduleID)
	}
	return factory(ctx, manifest)
}

// LastModified returns the manifest's modification time, preferring the
// fsnotify-fed cache over a stat call.
func (s *DirSource) LastModified(ctx context.Context, moduleID string) (time.Time, error) {
	s.mu.RLock()
	cached, exists := s.modTimes[moduleID]
	s.mu.RUnlock()
	if exists {
		return cached, nil
	}

	info, err := os.Stat(s.manifestPath(moduleID))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownModule, moduleID)
		}
		return time.Time{}, fmt.Errorf("failed to stat manifest for %s: %w", moduleID, err)
	}
	return info.ModTime(), nil
}

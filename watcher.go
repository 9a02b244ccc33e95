package modlife

import (
	"context"
	"errors"
	"time"
)

// watcher polls the artifact source's last-modified timestamp for one module
// and triggers a reload when it advances. The first poll only records a
// baseline. Poll errors are logged and never stop the loop.
type watcher struct {
	moduleID string
	interval time.Duration
	loader   *Loader
	done     chan struct{}
	baseline time.Time
}

// startWatch begins the hot-reload watch loop for a module. Starting a watch
// that already exists is a no-op.
func (l *Loader) startWatch(id string) {
	l.mu.Lock()
	if _, exists := l.watchers[id]; exists {
		l.mu.Unlock()
		return
	}
	w := &watcher{
		moduleID: id,
		interval: l.options.WatchInterval,
		loader:   l,
		done:     make(chan struct{}),
	}
	l.watchers[id] = w
	l.mu.Unlock()

	go w.run()
	l.logger.Debug("Hot-reload watch started", "module", id, "interval", w.interval)
}

// stopWatch stops the watch loop for a module if one is running.
func (l *Loader) stopWatch(id string) {
	l.mu.Lock()
	w, exists := l.watchers[id]
	if exists {
		delete(l.watchers, id)
	}
	l.mu.Unlock()

	if exists {
		w.stop()
		l.logger.Debug("Hot-reload watch stopped", "module", id)
	}
}

func (w *watcher) stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

func (w *watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *watcher) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	lastModified, err := w.loader.source.LastModified(ctx, w.moduleID)
	if err != nil {
		w.loader.logger.Warn("Hot-reload poll failed", "module", w.moduleID, "error", err)
		return
	}

	if w.baseline.IsZero() {
		w.baseline = lastModified
		return
	}
	if !lastModified.After(w.baseline) {
		return
	}
	w.baseline = lastModified

	w.loader.logger.Info("Artifact change detected", "module", w.moduleID, "modified", lastModified)
	if err := w.loader.Reload(context.Background(), w.moduleID); err != nil {
		// A manual operation holding the in-flight claim wins; skip
		// this cycle instead of queueing behind it.
		if errors.Is(err, ErrOperationInFlight) {
			w.loader.logger.Debug("Skipping hot reload, operation in flight", "module", w.moduleID)
			return
		}
		w.loader.logger.Error("Hot reload failed", "module", w.moduleID, "error", err)
	}
}

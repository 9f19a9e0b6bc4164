// Package watcher reloads the served index when its snapshot file changes.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/vecindex"
)

// Event names passed to the event callback.
const (
	EventWatching = "watching"
	EventReloaded = "reloaded"
	EventFailed   = "failed"
)

// Watcher watches a snapshot file and swaps a freshly loaded index into a
// Live whenever the file settles after a change.
type Watcher struct {
	path      string
	live      *vecindex.Live
	shardSize int

	// pending is set by file events and cleared by a reload
	pending      bool
	lastEvent    time.Time
	debounceMu   sync.Mutex
	debounceTime time.Duration

	// callback for status updates
	onEvent func(event string, path string)
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounceTime sets how long the snapshot must be quiet before reloading.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceTime = d
	}
}

// WithShardSize sets the scan shard size applied to reloaded indexes.
func WithShardSize(n int) Option {
	return func(w *Watcher) {
		w.shardSize = n
	}
}

// WithEventCallback sets a callback for watcher events.
func WithEventCallback(fn func(event string, path string)) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// New creates a watcher for the snapshot at path. Reloaded snapshots must
// match the dimension and metric of the index live currently serves.
func New(path string, live *vecindex.Live, opts ...Option) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:         absPath,
		live:         live,
		debounceTime: 500 * time.Millisecond,
		onEvent:      func(string, string) {}, // noop default
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching. Blocks until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Snapshots are replaced by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	log.Info("Watching index snapshot", "path", w.path)
	w.onEvent(EventWatching, w.path)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.processDebounced(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// handleEvent marks the snapshot dirty when the event concerns it.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	log.Debug("Snapshot changed", "op", event.Op.String())

	w.debounceMu.Lock()
	w.pending = true
	w.lastEvent = time.Now()
	w.debounceMu.Unlock()
}

// processDebounced reloads the snapshot once events stop arriving.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(max(w.debounceTime/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.debounceMu.Lock()
			ready := w.pending && time.Since(w.lastEvent) >= w.debounceTime
			if ready {
				w.pending = false
			}
			w.debounceMu.Unlock()

			if ready {
				_ = w.Reload()
			}
		}
	}
}

// Reload loads the snapshot and swaps it in. On failure the current index
// keeps serving.
func (w *Watcher) Reload() error {
	start := time.Now()
	flat, err := vecindex.LoadFile(w.path, w.live.Dimension())
	if err == nil && flat.Metric() != w.live.Metric() {
		err = fmt.Errorf("%w: snapshot %s uses metric %s, serving %s",
			errdefs.ErrIndexLoad, w.path, flat.Metric(), w.live.Metric())
	}
	if err != nil {
		log.Error("Failed to reload index, keeping current", "path", w.path, "error", err)
		w.onEvent(EventFailed, w.path)
		return err
	}
	flat.SetShardSize(w.shardSize)

	old := w.live.Swap(flat)
	log.Info("Reloaded index",
		"vectors", flat.Len(),
		"previous", old.Len(),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	w.onEvent(EventReloaded, w.path)
	return nil
}

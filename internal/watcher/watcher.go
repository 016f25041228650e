// Package watcher polls the last discovered pallet tree and re-runs
// discovery when one of its files changes.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/DeusData/pallet-audit/internal/discover"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

type rootState struct {
	snapshot map[string]fileSnapshot
	interval time.Duration
	nextPoll time.Time
}

// RediscoverFunc re-runs discovery for root.
type RediscoverFunc func(ctx context.Context, root string) error

// Watcher polls one root at a time. Watch switches roots; polling itself
// happens only on the Run goroutine.
type Watcher struct {
	rediscover RediscoverFunc
	opts       discover.Options

	mu    sync.Mutex
	root  string
	state *rootState
}

// New creates a Watcher. fn is called when the watched tree changes; opts
// must match the discovery run so both see the same files.
func New(fn RediscoverFunc, opts discover.Options) *Watcher {
	return &Watcher{rediscover: fn, opts: opts}
}

// Watch makes root the watched tree. Watching the current root again keeps
// its baseline.
func (w *Watcher) Watch(root string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if root == w.root {
		return
	}
	w.root = root
	w.state = &rootState{}
	slog.Debug("watcher.watch", "path", root)
}

// Root returns the watched root, empty when nothing is watched.
func (w *Watcher) Root() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root
}

// Run blocks until ctx is cancelled. Ticks at baseInterval, polling the
// root only when its adaptive interval has elapsed.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	w.mu.Lock()
	root, state := w.root, w.state
	w.mu.Unlock()
	if root == "" || time.Now().Before(state.nextPoll) {
		return
	}
	w.pollRoot(ctx, root, state)
}

// pollRoot captures a snapshot of the tree and compares with the previous one.
// First poll: captures baseline without rediscovery.
// Subsequent polls: calls rediscover if any file changed.
func (w *Watcher) pollRoot(ctx context.Context, root string, state *rootState) {
	if _, err := os.Stat(root); err != nil {
		slog.Warn("watcher.root_gone", "path", root)
		state.nextPoll = time.Now().Add(maxInterval)
		return
	}

	snap, err := w.captureSnapshot(ctx, root)
	if err != nil {
		slog.Warn("watcher.snapshot", "path", root, "err", err)
		state.nextPoll = time.Now().Add(state.interval)
		return
	}

	interval := pollInterval(len(snap))

	if state.snapshot == nil {
		slog.Debug("watcher.baseline", "path", root, "files", len(snap))
		state.snapshot = snap
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	if snapshotsEqual(state.snapshot, snap) {
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	slog.Info("watcher.changed", "path", root, "files", len(snap))
	if err := w.rediscover(ctx, root); err != nil {
		slog.Warn("watcher.rediscover", "path", root, "err", err)
		// Keep old snapshot so we retry next cycle
		state.nextPoll = time.Now().Add(interval)
		return
	}

	state.snapshot = snap
	state.interval = interval
	state.nextPoll = time.Now().Add(interval)
}

// captureSnapshot records mtime and size of every file discovery would see.
func (w *Watcher) captureSnapshot(ctx context.Context, root string) (map[string]fileSnapshot, error) {
	opts := w.opts
	files, err := discover.Discover(ctx, root, &opts)
	if err != nil {
		return nil, err
	}

	snap := make(map[string]fileSnapshot, len(files))
	for _, f := range files {
		info, statErr := os.Stat(f.Path)
		if statErr != nil {
			continue
		}
		snap[f.RelPath] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
		}
	}
	return snap, nil
}

func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}

// pollInterval computes the adaptive interval from file count.
// 1s base + 1s per 500 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	return min(time.Duration(1000+(fileCount/500)*1000)*time.Millisecond, maxInterval)
}

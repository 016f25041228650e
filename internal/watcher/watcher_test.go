package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DeusData/pallet-audit/internal/discover"
)

func TestSnapshotsEqual(t *testing.T) {
	now := time.Now()
	base := map[string]fileSnapshot{
		"src/lib.rs": {modTime: now, size: 100},
		"Cargo.toml": {modTime: now, size: 200},
	}

	tests := []struct {
		name  string
		other map[string]fileSnapshot
		equal bool
	}{
		{"identical", map[string]fileSnapshot{
			"src/lib.rs": {modTime: now, size: 100},
			"Cargo.toml": {modTime: now, size: 200},
		}, true},
		{"size", map[string]fileSnapshot{
			"src/lib.rs": {modTime: now, size: 101},
			"Cargo.toml": {modTime: now, size: 200},
		}, false},
		{"mtime", map[string]fileSnapshot{
			"src/lib.rs": {modTime: now.Add(time.Second), size: 100},
			"Cargo.toml": {modTime: now, size: 200},
		}, false},
		{"missing file", map[string]fileSnapshot{
			"src/lib.rs": {modTime: now, size: 100},
		}, false},
		{"renamed file", map[string]fileSnapshot{
			"src/lib.rs":   {modTime: now, size: 100},
			"src/other.rs": {modTime: now, size: 200},
		}, false},
	}
	for _, tt := range tests {
		if got := snapshotsEqual(base, tt.other); got != tt.equal {
			t.Errorf("%s: snapshotsEqual = %v, want %v", tt.name, got, tt.equal)
		}
	}
	if !snapshotsEqual(map[string]fileSnapshot{}, map[string]fileSnapshot{}) {
		t.Error("both empty should be equal")
	}
}

func TestPollInterval(t *testing.T) {
	tests := []struct {
		files    int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{499, 1 * time.Second},
		{500, 2 * time.Second},
		{2000, 5 * time.Second},
		{50000, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := pollInterval(tt.files); got != tt.expected {
			t.Errorf("pollInterval(%d) = %v, want %v", tt.files, got, tt.expected)
		}
	}
}

func writeCrate(t *testing.T) (root, lib string) {
	t.Helper()
	root = t.TempDir()
	lib = filepath.Join(root, "src", "lib.rs")
	if err := os.MkdirAll(filepath.Dir(lib), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lib, []byte("pub fn transfer() {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("docs\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return root, lib
}

func TestCaptureSnapshotSeesOnlySources(t *testing.T) {
	root, _ := writeCrate(t)
	w := New(nil, discover.Options{})

	snap, err := w.captureSnapshot(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 1 {
		t.Fatalf("snapshot = %v, want only src/lib.rs", snap)
	}
	s, ok := snap[filepath.Join("src", "lib.rs")]
	if !ok || s.size == 0 || s.modTime.IsZero() {
		t.Errorf("lib.rs snapshot = %+v, %v", s, ok)
	}
}

func TestWatcherTriggersOnChange(t *testing.T) {
	root, lib := writeCrate(t)
	ctx := context.Background()

	var calls atomic.Int32
	w := New(func(_ context.Context, got string) error {
		if got != root {
			t.Errorf("rediscover(%q), want %q", got, root)
		}
		calls.Add(1)
		return nil
	}, discover.Options{})
	w.Watch(root)

	w.poll(ctx)
	if calls.Load() != 0 {
		t.Errorf("baseline poll should not rediscover, got %d", calls.Load())
	}

	w.state.nextPoll = time.Time{}
	w.poll(ctx)
	if calls.Load() != 0 {
		t.Errorf("no-change poll should not rediscover, got %d", calls.Load())
	}

	now := time.Now().Add(time.Second)
	if err := os.Chtimes(lib, now, now); err != nil {
		t.Fatal(err)
	}
	// Not due yet.
	w.poll(ctx)
	if calls.Load() != 0 {
		t.Errorf("poll before nextPoll should be skipped, got %d", calls.Load())
	}

	w.state.nextPoll = time.Time{}
	w.poll(ctx)
	if calls.Load() != 1 {
		t.Errorf("changed file should rediscover, got %d", calls.Load())
	}

	// README changes are invisible to discovery.
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("more docs\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	w.state.nextPoll = time.Time{}
	w.poll(ctx)
	if calls.Load() != 1 {
		t.Errorf("non-source change should not rediscover, got %d", calls.Load())
	}
}

func TestWatchSwitchesRoot(t *testing.T) {
	a, _ := writeCrate(t)
	b, _ := writeCrate(t)
	w := New(func(context.Context, string) error { return nil }, discover.Options{})

	if w.Root() != "" {
		t.Errorf("Root = %q before Watch", w.Root())
	}
	w.Watch(a)
	w.poll(context.Background())
	first := w.state
	if first.snapshot == nil {
		t.Fatal("baseline not captured")
	}

	w.Watch(a)
	if w.state != first {
		t.Error("re-watching the same root reset its baseline")
	}
	w.Watch(b)
	if w.Root() != b || w.state.snapshot != nil {
		t.Error("switching roots should start a fresh baseline")
	}
}

func TestWatcherSkipsMissingRoot(t *testing.T) {
	var calls atomic.Int32
	w := New(func(context.Context, string) error {
		calls.Add(1)
		return nil
	}, discover.Options{})
	w.Watch(filepath.Join(t.TempDir(), "gone"))

	w.poll(context.Background())
	if calls.Load() != 0 {
		t.Errorf("should not rediscover a missing root, got %d", calls.Load())
	}
	if time.Until(w.state.nextPoll) < maxInterval-time.Second {
		t.Errorf("missing root should back off to maxInterval, next poll in %v", time.Until(w.state.nextPoll))
	}
}

func TestWatcherCancellation(t *testing.T) {
	w := New(func(context.Context, string) error { return nil }, discover.Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

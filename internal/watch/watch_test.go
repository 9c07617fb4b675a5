package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, cfg Config) *Watcher {
	t.Helper()
	if cfg.Debounce == 0 {
		cfg.Debounce = 20 * time.Millisecond
	}
	w, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return w
}

// waitFor collects events until one for path arrives.
func waitFor(t *testing.T, w *Watcher, path string) []Event {
	t.Helper()
	var seen []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-w.Events():
			require.True(t, ok, "events channel closed")
			seen = append(seen, evt)
			if evt.Path == path {
				return seen
			}
		case <-deadline:
			t.Fatalf("no event for %s; saw %v", path, seen)
		}
	}
}

func TestWatcher_ReportsWrites(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	w := startWatcher(t, Config{Root: root})

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o600))
	events := waitFor(t, w, "a.txt")
	last := events[len(events)-1]
	assert.True(t, last.Op.Has(Create) || last.Op.Has(Write), last.Op.String())
}

func TestWatcher_SkipsHiddenEntries(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".trx-1234"), 0o700))
	w := startWatcher(t, Config{Root: root})

	require.NoError(t, os.WriteFile(filepath.Join(root, ".trx-1234", "staged.json"), []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".tmp-abc"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible"), []byte("x"), 0o600))

	for _, evt := range waitFor(t, w, "visible") {
		assert.False(t, strings.HasPrefix(evt.Path, "."), evt.Path)
	}
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	w := startWatcher(t, Config{Root: root})

	require.NoError(t, os.Mkdir(filepath.Join(root, "ko"), 0o700))
	waitFor(t, w, "ko")

	require.NoError(t, os.WriteFile(filepath.Join(root, "ko", "metadata.json"), []byte("{}"), 0o600))
	waitFor(t, w, "ko/metadata.json")
}

func TestWatcher_IgnorePatterns(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	w := startWatcher(t, Config{Root: root, Ignore: []string{"**/*.log"}})

	require.NoError(t, os.WriteFile(filepath.Join(root, "debug.log"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.txt"), []byte("x"), 0o600))

	for _, evt := range waitFor(t, w, "kept.txt") {
		assert.NotEqual(t, "debug.log", evt.Path)
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Root: t.TempDir(), Ignore: []string{"[unclosed"}})
	require.Error(t, err)
}

func TestRun_OnlyOnce(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	require.Error(t, w.Run(ctx))

	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestOp_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NONE", Op(0).String())
	assert.Equal(t, "CREATE|WRITE", (Create | Write).String())
	assert.True(t, (Create | Remove).Has(Remove))
	assert.False(t, Write.Has(Create|Write))
}

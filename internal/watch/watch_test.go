package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForEvent(t *testing.T, w *Watcher, timeout time.Duration) *Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return &ev
	case err := <-w.Errors():
		t.Fatalf("unexpected watcher error: %v", err)
	case <-time.After(timeout):
		return nil
	}
	return nil
}

func TestWatcherEmitsAddedForNewFile(t *testing.T) {
	root := t.TempDir()
	w, err := New([]string{root}, 50*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(root, "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	ev := waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, path, ev.Path)
	assert.Equal(t, Added, ev.Op)
}

func TestWatcherIgnoresVCSAndNodeModules(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	w, err := New([]string{root}, 50*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "x.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "x.txt"), []byte("x"), 0o644))

	ev := waitForEvent(t, w, 500*time.Millisecond)
	assert.Nil(t, ev)
}

func TestWatcherHonorsCustomIgnore(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(out, 0o755))

	w, err := New([]string{root}, 50*time.Millisecond, func(path string) bool {
		return filepath.Dir(path) == out || path == out
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(out, "x.txt"), []byte("x"), 0o644))

	ev := waitForEvent(t, w, 500*time.Millisecond)
	assert.Nil(t, ev)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "burst.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w, err := New([]string{root}, 150*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	ev := waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)

	second := waitForEvent(t, w, 300*time.Millisecond)
	assert.Nil(t, second)
}

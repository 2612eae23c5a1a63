package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widgetrt/internal/widget"
)

func TestWatcherRecompilesOnSourceChange(t *testing.T) {
	root := t.TempDir()
	src := writeWidget(t, root, "clock", "Clock")
	h := newHarness(t, root, withWatch)
	h.start()
	h.waitFinished(1)

	// A burst of saves compiles once.
	for i := 0; i < 5; i++ {
		writeFile(t, src, "Clock\n// edit\n")
	}
	h.waitFinished(2)
	assert.Never(t, func() bool { return h.tc.calls.Load() > 2 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, int32(2), h.tc.calls.Load())
}

func TestWatcherIgnoresArtifacts(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")
	h := newHarness(t, root, withWatch)
	h.start()
	h.waitFinished(1)

	writeFile(t, filepath.Join(root, "clock", OutDir, "stray"+fakeArtifactExt), "Clock\n")
	writeFile(t, filepath.Join(root, "clock", "notes.txt"), "not a source")
	assert.Never(t, func() bool { return h.tc.calls.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root, withWatch)
	h.start()

	writeWidget(t, root, "cover", "Cover")
	require.Eventually(t, func() bool { return h.env.Registry.ByName("Cover") != nil },
		5*time.Second, 10*time.Millisecond)

	// Files inside the new directory are watched too.
	writeFile(t, filepath.Join(root, "cover", "cover"+fakeSourceExt), "Cover\n// v2\n")
	require.Eventually(t, func() bool { return h.tc.calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcherDisposesDeletedDirectories(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")
	h := newHarness(t, root, withWatch)
	h.start()
	h.waitFinished(1)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "clock")))
	require.Eventually(t, func() bool { return h.env.Registry.ByName("Clock") == nil },
		5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := h.p.Directory("clock")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcherReappliesResources(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")
	h := newHarness(t, root, withWatch)
	h.start()
	h.waitFinished(1)

	var w *fakeWidget
	h.call(func() {
		c := h.env.Registry.ByName("Clock").Create(h.env)
		_, err := c.Load()
		assert.NoError(t, err)
		w, _ = c.Behavior().(*fakeWidget)
	})
	require.NotNil(t, w)

	writeFile(t, filepath.Join(root, "clock", "clock.css"), "label { color: red; }")
	require.Eventually(t, func() bool { return len(w.reloaded()) > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, w.reloaded(), "clock.css")
	assert.Equal(t, int32(1), h.tc.calls.Load(), "resources do not recompile")

	h.call(func() {
		for _, c := range h.env.Instances.ByFactory("Clock") {
			assert.Equal(t, widget.StateLoaded, c.State())
		}
	})
}

func TestWatcherIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, func(fsnotify.Event) {})
	require.NoError(t, err)
	defer w.Stop()

	tests := map[string]bool{
		root:                                         false,
		filepath.Join(root, "clock"):                 false,
		filepath.Join(root, "clock", "clock.go"):     false,
		filepath.Join(root, "clock", OutDir):         true,
		filepath.Join(root, "clock", OutDir, "a.so"): true,
		filepath.Join(root, ".git", "HEAD"):          true,
		filepath.Join(root, "clock", LibDir, "x.go"): false,
	}
	for path, want := range tests {
		assert.Equal(t, want, w.ignored(path), path)
	}
}

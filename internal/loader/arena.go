// Package loader opens compiled widget artifacts in isolated load contexts.
//
// Every successful compile produces a new artifact, and every artifact is
// opened through a new Handle: a Go plugin loaded under a unique plugin path,
// or a fresh yaegi interpreter. Handles are never reused. The Arena tracks
// live handles per widget directory and reference counts them; the last
// Release retires the handle.
//
// Go plugins cannot be unloaded from a process. Retiring a plugin handle
// drops every reference the runtime holds to it so nothing new is built from
// it; its code stays mapped until exit.
package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"widgetrt/internal/logging"
	"widgetrt/pkg/behavior"
)

var (
	// ErrUnknownArtifact is returned for an artifact no opener handles.
	ErrUnknownArtifact = errors.New("loader: no opener for artifact")
	// ErrMissingSymbol is returned when an entry point is not exported.
	ErrMissingSymbol = errors.New("loader: missing entry point")
	// ErrBadSignature is returned when an entry point has the wrong type.
	ErrBadSignature = errors.New("loader: entry point has wrong signature")
	// ErrReleased is returned by a handle after its last reference is gone.
	ErrReleased = errors.New("loader: handle released")
)

// Library is an opened artifact.
type Library interface {
	Manifest() behavior.Manifest
	New() (behavior.Behavior, error)
}

// Opener opens one kind of artifact.
type Opener interface {
	// Kind names the artifact kind for logs ("plugin", "script").
	Kind() string
	// Open loads artifact into a new load context.
	Open(artifact string) (Library, error)
}

// Arena owns every live Handle.
type Arena struct {
	mu      sync.Mutex
	openers map[string]Opener // by artifact extension
	byDir   map[string][]*Handle
	nextID  atomic.Uint64
}

// NewArena creates an arena with no openers.
func NewArena() *Arena {
	return &Arena{
		openers: make(map[string]Opener),
		byDir:   make(map[string][]*Handle),
	}
}

// DefaultArena returns an arena with the plugin and script openers installed.
func DefaultArena() *Arena {
	a := NewArena()
	a.Register(PluginExt, PluginOpener{})
	a.Register(ScriptExt, ScriptOpener{})
	return a
}

// Register installs opener for artifacts ending in ext.
func (a *Arena) Register(ext string, opener Opener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.openers[ext] = opener
}

func (a *Arena) openerFor(artifact string) (Opener, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ext := filepath.Ext(strings.TrimRight(artifact, `/\`))
	o, ok := a.openers[ext]
	return o, ok
}

// Load opens artifact for the widget directory dir in a new load context.
// The returned handle holds one reference.
func (a *Arena) Load(dir, artifact string) (h *Handle, err error) {
	opener, ok := a.openerFor(artifact)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArtifact, artifact)
	}

	timer := logging.StartTimer(logging.CategoryLoader, "open "+filepath.Base(artifact))
	defer timer.Stop()

	defer func() {
		if r := recover(); r != nil {
			logging.LoaderError("Panic opening %s: %v\n%s", artifact, r, debug.Stack())
			h, err = nil, fmt.Errorf("loader: panic opening %s: %v", artifact, r)
		}
	}()

	lib, err := opener.Open(artifact)
	if err != nil {
		logging.LoaderError("Failed to open %s artifact %s: %v", opener.Kind(), artifact, err)
		return nil, err
	}

	h = &Handle{
		id:       a.nextID.Add(1),
		arena:    a,
		dir:      dir,
		artifact: artifact,
		kind:     opener.Kind(),
		lib:      lib,
		manifest: lib.Manifest(),
	}
	h.refs.Store(1)

	a.mu.Lock()
	a.byDir[dir] = append(a.byDir[dir], h)
	live := len(a.byDir[dir])
	a.mu.Unlock()

	logging.Loader("Opened %s #%d for %s (%s), %d live for directory",
		h.kind, h.id, h.manifest.Name, filepath.Base(artifact), live)
	return h, nil
}

// Handles returns the live handles for dir, oldest first.
func (a *Arena) Handles(dir string) []*Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Handle(nil), a.byDir[dir]...)
}

// Live returns the number of live handles across all directories.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, hs := range a.byDir {
		n += len(hs)
	}
	return n
}

// Dirs returns the directories with live handles, sorted.
func (a *Arena) Dirs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	dirs := make([]string, 0, len(a.byDir))
	for d := range a.byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func (a *Arena) retire(h *Handle) {
	a.mu.Lock()
	hs := a.byDir[h.dir]
	for i, x := range hs {
		if x == h {
			hs = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(hs) == 0 {
		delete(a.byDir, h.dir)
	} else {
		a.byDir[h.dir] = hs
	}
	a.mu.Unlock()
	logging.Loader("Retired %s #%d (%s)", h.kind, h.id, filepath.Base(h.artifact))
}

// Handle is one isolated load context scoped to exactly one artifact.
type Handle struct {
	id       uint64
	arena    *Arena
	dir      string
	artifact string
	kind     string
	lib      Library
	manifest behavior.Manifest
	refs     atomic.Int32
}

// ID is unique within the arena.
func (h *Handle) ID() uint64 { return h.id }

// Dir returns the widget directory the artifact was built from.
func (h *Handle) Dir() string { return h.dir }

// Artifact returns the artifact path.
func (h *Handle) Artifact() string { return h.artifact }

// Kind returns the opener kind.
func (h *Handle) Kind() string { return h.kind }

// Manifest returns the manifest read when the artifact was opened.
func (h *Handle) Manifest() behavior.Manifest { return h.manifest }

// Refs returns the current reference count.
func (h *Handle) Refs() int { return int(h.refs.Load()) }

// Released reports whether the last reference is gone.
func (h *Handle) Released() bool { return h.refs.Load() <= 0 }

// Acquire adds a reference. Acquiring a released handle fails.
func (h *Handle) Acquire() error {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference; the last one retires the handle.
func (h *Handle) Release() {
	n := h.refs.Add(-1)
	if n == 0 {
		h.arena.retire(h)
	}
	if n < 0 {
		logging.Get(logging.CategoryLoader).Warn("Release of already released handle #%d", h.id)
	}
}

// New instantiates a fresh behavior from the artifact. Panics in widget code
// are returned as errors.
func (h *Handle) New() (b behavior.Behavior, err error) {
	if h.Released() {
		return nil, ErrReleased
	}
	defer func() {
		if r := recover(); r != nil {
			logging.LoaderError("Panic in %s constructor: %v", h.manifest.Name, r)
			b, err = nil, fmt.Errorf("loader: %s constructor panicked: %v", h.manifest.Name, r)
		}
	}()
	b, err = h.lib.New()
	if err == nil && b == nil {
		err = fmt.Errorf("loader: %s constructor returned nil behavior", h.manifest.Name)
	}
	return b, err
}

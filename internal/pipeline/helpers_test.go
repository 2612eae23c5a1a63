package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"widgetrt/internal/binding"
	"widgetrt/internal/loader"
	"widgetrt/internal/mainloop"
	"widgetrt/internal/widget"
	"widgetrt/pkg/behavior"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/fsnotify/fsnotify.(*inotify).readEvents"))
}

const (
	fakeSourceExt   = ".fk"
	fakeArtifactExt = ".fkart"
	badLoad         = "BADLOAD"
)

// fakeToolchain "compiles" .fk sources by copying the first one into an
// artifact. The first line of the source is the widget name.
type fakeToolchain struct {
	calls   atomic.Int32
	started chan struct{} // receives once per compile, if set
	block   chan struct{} // compiles wait on it, if set

	mu     sync.Mutex
	fail   bool
	output string
}

func (*fakeToolchain) Language() string    { return "fake" }
func (*fakeToolchain) SourceExt() string   { return fakeSourceExt }
func (*fakeToolchain) ArtifactExt() string { return fakeArtifactExt }

func (f *fakeToolchain) setFail(fail bool, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail, f.output = fail, output
}

func (f *fakeToolchain) Compile(ctx context.Context, req Request) (string, []byte, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	f.mu.Lock()
	fail, output := f.fail, f.output
	f.mu.Unlock()
	if fail {
		return "", []byte(output), errors.New("exit status 1")
	}

	data, err := os.ReadFile(req.Sources[0])
	if err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(req.OutDir, 0755); err != nil {
		return "", nil, err
	}
	artifact := req.ArtifactPath(fakeArtifactExt)
	return artifact, nil, os.WriteFile(artifact, data, 0644)
}

// fakeOpener loads fake artifacts. Every version builds a root naming its
// artifact so tests can tell versions apart.
type fakeOpener struct{}

func (fakeOpener) Kind() string { return "fake" }

func (fakeOpener) Open(artifact string) (loader.Library, error) {
	data, err := os.ReadFile(artifact)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	if name == badLoad {
		return nil, loader.ErrMissingSymbol
	}
	return fakeLibrary{name: name, artifact: filepath.Base(artifact)}, nil
}

type fakeLibrary struct {
	name     string
	artifact string
}

func (l fakeLibrary) Manifest() behavior.Manifest {
	return behavior.Manifest{Name: l.name, Features: []string{behavior.FeatureTextDisplay}}
}

func (l fakeLibrary) New() (behavior.Behavior, error) {
	return &fakeWidget{root: l.name + "@" + l.artifact}, nil
}

type fakeWidget struct {
	root string

	mu        sync.Mutex
	resources []string
}

func (w *fakeWidget) Build() (behavior.Root, error) { return w.root, nil }

func (w *fakeWidget) ReloadResource(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resources = append(w.resources, filepath.Base(path))
	return nil
}

func (w *fakeWidget) reloaded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.resources...)
}

// recordingSink records compile notifications.
type recordingSink struct {
	mu       sync.Mutex
	started  []string
	finished []finishedCompile
}

type finishedCompile struct {
	dir string
	err error
}

func (s *recordingSink) CompileStarted(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, dir)
}

func (s *recordingSink) CompileFinished(dir string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, finishedCompile{dir, err})
}

func (s *recordingSink) finishedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finished)
}

func (s *recordingSink) last() finishedCompile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.finished) == 0 {
		return finishedCompile{}
	}
	return s.finished[len(s.finished)-1]
}

// slot is a one-child container.
type slot struct {
	child *widget.Component
}

func (s *slot) ReplaceChild(old, new *widget.Component) bool {
	if s.child != old {
		return false
	}
	s.child = new
	return true
}

func (s *slot) RemoveChild(c *widget.Component) {
	if s.child == c {
		s.child = nil
	}
}

type harness struct {
	t     *testing.T
	root  string
	env   *widget.Env
	loop  *mainloop.Loop
	arena *loader.Arena
	tc    *fakeToolchain
	sink  *recordingSink
	p     *Pipeline
}

type harnessOption func(*Options)

func newHarness(t *testing.T, root string, opts ...harnessOption) *harness {
	t.Helper()
	loop := mainloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	resolver := binding.NewResolver(loop, time.Hour)
	env := widget.NewEnv(resolver, t.TempDir())

	arena := loader.NewArena()
	arena.Register(fakeArtifactExt, fakeOpener{})
	arena.Register(loader.ScriptExt, loader.ScriptOpener{})

	h := &harness{
		t:     t,
		root:  root,
		env:   env,
		loop:  loop,
		arena: arena,
		tc:    &fakeToolchain{},
		sink:  &recordingSink{},
	}
	o := Options{
		Root:        root,
		UserDataDir: env.UserDataDir,
		Debounce:    20 * time.Millisecond,
		Workers:     2,
		Toolchains:  []Toolchain{h.tc},
		Arena:       arena,
		Executor:    loop,
		Sink:        h.sink,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h.p = New(env, o)

	t.Cleanup(func() {
		h.p.Stop()
		resolver.Stop()
		cancel()
		<-done
	})
	return h
}

func withWatch(o *Options) { o.Watch = true }

func withToolchains(tcs ...Toolchain) harnessOption {
	return func(o *Options) { o.Toolchains = tcs }
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.p.Start(context.Background()))
}

// call runs fn on the main loop and waits for it.
func (h *harness) call(fn func()) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.loop.Call(ctx, fn))
}

func (h *harness) waitFinished(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.sink.finishedCount() >= n }, 5*time.Second, 5*time.Millisecond,
		"waiting for %d finished compiles", n)
	// Let the finishing post run to completion.
	h.call(func() {})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// writeWidget creates root/dir/<dir>.fk naming the widget.
func writeWidget(t *testing.T, root, dir, name string) string {
	t.Helper()
	path := filepath.Join(root, dir, dir+fakeSourceExt)
	writeFile(t, path, name+"\n")
	return path
}

// bumpMTime moves path's mtime forward so it is newer than any artifact.
func bumpMTime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
}

// Package pipeline turns widget source directories into registered
// factories and keeps them current: it scans the components root, watches it
// for changes, compiles changed directories on a bounded pool, loads each
// artifact into a fresh load context and migrates open instances to the new
// factory.
//
// Compilation runs on worker goroutines. Loading, publication and migration
// run on the main loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"widgetrt/internal/debounce"
	"widgetrt/internal/loader"
	"widgetrt/internal/logging"
	"widgetrt/internal/mainloop"
	"widgetrt/internal/widget"
)

// DefaultDebounce is the source-change debounce window.
const DefaultDebounce = 300 * time.Millisecond

// Options configures a Pipeline.
type Options struct {
	Root           string        // components root, one subdirectory per widget
	UserDataDir    string        // per-widget user data root
	Debounce       time.Duration // source-change debounce window
	Workers        int           // compile pool size; 0 = max(1, NumCPU/4)
	CompileTimeout time.Duration // 0 = no timeout
	Toolchains     []Toolchain
	Arena          *loader.Arena
	Executor       mainloop.Executor // main loop; nil = run inline
	Sink           Sink
	Watch          bool // watch the root for changes after the initial scan
}

// Pipeline is the hot-reload compilation pipeline.
type Pipeline struct {
	opts  Options
	env   *widget.Env
	arena *loader.Arena
	exec  mainloop.Executor
	sink  Sink
	sem   *semaphore.Weighted

	mu      sync.Mutex
	dirs    map[string]*Directory
	watcher *Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool

	wg sync.WaitGroup
}

// New returns a pipeline publishing into env.
func New(env *widget.Env, opts Options) *Pipeline {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Workers <= 0 {
		opts.Workers = max(1, runtime.NumCPU()/4)
	}
	if opts.Arena == nil {
		opts.Arena = loader.DefaultArena()
	}
	if opts.Executor == nil {
		opts.Executor = mainloop.Immediate{}
	}
	if opts.Sink == nil {
		opts.Sink = LogSink{}
	}
	if len(opts.Toolchains) == 0 {
		opts.Toolchains = []Toolchain{GoPluginToolchain{}, ScriptToolchain{}}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		opts:   opts,
		env:    env,
		arena:  opts.Arena,
		exec:   opts.Executor,
		sink:   opts.Sink,
		sem:    semaphore.NewWeighted(int64(opts.Workers)),
		dirs:   make(map[string]*Directory),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Root returns the components root.
func (p *Pipeline) Root() string { return p.opts.Root }

// Start scans the components root, loading up-to-date artifacts and
// compiling stale directories, then starts watching when configured. A
// missing root is logged and returned; the runtime continues without
// external widgets.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.cancel()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryPipeline, "initial scan")
	defer timer.Stop()

	names, err := widgetDirs(p.opts.Root)
	if err != nil {
		logging.PipelineError("Discovery failed: %v", err)
		return err
	}

	plans := make([]scanPlan, len(names))
	g, gctx := errgroup.WithContext(p.ctx)
	g.SetLimit(max(4, p.opts.Workers))
	for i, name := range names {
		g.Go(func() error {
			plans[i] = p.plan(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	for _, pl := range plans {
		p.dispatch(pl)
	}
	logging.Pipeline("Scanned %s: %d widget directories", p.opts.Root, len(names))

	if p.opts.Watch {
		w, err := NewWatcher(p.opts.Root, p.handleEvent)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := w.Start(p.ctx); err != nil {
			w.Stop()
			return fmt.Errorf("failed to watch %s: %w", p.opts.Root, err)
		}
		p.mu.Lock()
		p.watcher = w
		p.mu.Unlock()
	}
	return nil
}

// scanPlan is what the initial scan decided for one directory.
type scanPlan struct {
	name     string
	language string
	artifact string // up-to-date artifact to load without compiling
	err      error
}

func (p *Pipeline) plan(ctx context.Context, name string) scanPlan {
	pl := scanPlan{name: name}
	if ctx.Err() != nil {
		pl.err = ctx.Err()
		return pl
	}
	dir := filepath.Join(p.opts.Root, name)
	tc, sources, err := detectLanguage(dir, p.opts.Toolchains)
	if err != nil {
		pl.err = err
		return pl
	}
	pl.language = tc.Language()
	if artifact, ok := upToDate(dir, tc, sources); ok {
		pl.artifact = artifact
	}
	return pl
}

func (p *Pipeline) dispatch(pl scanPlan) {
	d := p.track(pl.name)
	if d == nil {
		return
	}
	switch {
	case errors.Is(pl.err, ErrNoSources):
		logging.PipelineDebug("Directory %s has no sources yet", pl.name)
	case pl.artifact != "":
		p.mu.Lock()
		d.gen++
		gen := d.gen
		d.language = pl.language
		d.setState(StateLoading)
		p.mu.Unlock()
		logging.Audit(logging.AuditEvent{EventType: logging.AuditCompileSkip, Target: pl.name, Success: true, Message: filepath.Base(pl.artifact)})
		p.exec.Post(func() {
			p.finish(d, gen, result{language: pl.language, artifact: pl.artifact, skipped: true}, false)
		})
	default:
		// Stale or broken: compile. Mixed languages surface as a compile error.
		p.trigger(pl.name, true)
	}
}

// track returns the directory for name, creating it if needed. Returns nil
// once the pipeline is stopped.
func (p *Pipeline) track(name string) *Directory {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	if d, ok := p.dirs[name]; ok {
		return d
	}
	d := &Directory{name: name, path: filepath.Join(p.opts.Root, name)}
	d.debouncer = debounce.New(p.opts.Debounce, func(struct{}) { p.trigger(name, false) },
		debounce.WithExecutor(p.exec.Post))
	p.dirs[name] = d
	logging.PipelineDebug("Tracking %s", d.path)
	return d
}

// touch records a source change and re-arms the directory's debounce.
func (p *Pipeline) touch(name string) {
	if _, err := os.Stat(filepath.Join(p.opts.Root, name)); err != nil {
		return
	}
	d := p.track(name)
	if d == nil {
		return
	}
	p.mu.Lock()
	if !d.busy() && !d.disposed {
		d.setState(StateSourceChanged)
	}
	p.mu.Unlock()
	d.debouncer.Fire(struct{}{})
}

// handleEvent routes a watcher event. It runs on the watcher goroutine and
// only enqueues work.
func (p *Pipeline) handleEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(p.opts.Root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	name := parts[0]

	if len(parts) == 1 {
		switch {
		case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
			if _, err := os.Stat(ev.Name); err != nil {
				p.exec.Post(func() { p.Dispose(name) })
			}
		case ev.Has(fsnotify.Create):
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				logging.Pipeline("New widget directory %s", name)
				p.touch(name)
			}
		}
		return
	}

	file := parts[len(parts)-1]
	switch {
	case parts[1] == OutDir:
		return
	case parts[1] == LibDir:
		p.touch(name)
	case len(parts) == 2 && isResource(file):
		if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			return
		}
		path := ev.Name
		p.exec.Post(func() { p.reapplyResource(name, path) })
	case len(parts) == 2 && isSource(file, p.opts.Toolchains):
		p.touch(name)
	}
}

// Recompile compiles one directory, bypassing the staleness check.
func (p *Pipeline) Recompile(name string) error {
	if p.track(name) == nil {
		return ErrDisposed
	}
	p.trigger(name, true)
	return nil
}

// RecompileAll compiles every tracked directory, bypassing the staleness
// check.
func (p *Pipeline) RecompileAll() {
	p.mu.Lock()
	names := make([]string, 0, len(p.dirs))
	for name := range p.dirs {
		names = append(names, name)
	}
	p.mu.Unlock()

	logging.Pipeline("Recompiling %d widget directories", len(names))
	for _, name := range names {
		p.trigger(name, true)
	}
}

// trigger starts a compile of name unless one is in flight, in which case it
// is re-run when the current one finishes.
func (p *Pipeline) trigger(name string, force bool) {
	p.mu.Lock()
	d := p.dirs[name]
	if d == nil || d.disposed || p.stopped {
		p.mu.Unlock()
		return
	}
	if d.busy() {
		d.rerun = true
		d.force = d.force || force
		p.mu.Unlock()
		logging.PipelineDebug("Compile of %s in flight, re-run queued", name)
		return
	}
	d.gen++
	gen := d.gen
	ctx, cancel := context.WithCancel(p.ctx)
	d.cancel = cancel
	d.setState(StateCompiling)
	p.wg.Add(1)
	p.mu.Unlock()

	p.exec.Post(func() { p.sink.CompileStarted(name) })
	go p.compile(ctx, d, gen, force)
}

// result is the outcome of one worker run.
type result struct {
	language string
	artifact string
	output   string
	skipped  bool
	err      error
}

func (p *Pipeline) compile(ctx context.Context, d *Directory, gen uint64, force bool) {
	defer p.wg.Done()

	var res result
	if err := p.sem.Acquire(ctx, 1); err != nil {
		res.err = &CompileError{Dir: d.name, Err: err}
	} else {
		res = p.runToolchain(ctx, d, force)
		p.sem.Release(1)
	}
	p.exec.Post(func() { p.finish(d, gen, res, true) })
}

// runToolchain compiles d on the calling worker goroutine.
func (p *Pipeline) runToolchain(ctx context.Context, d *Directory, force bool) result {
	start := time.Now()
	tc, sources, err := detectLanguage(d.path, p.opts.Toolchains)
	if err != nil {
		logging.Audit(logging.AuditEvent{EventType: logging.AuditCompileError, Target: d.name, Error: err.Error()})
		return result{err: &CompileError{Dir: d.name, Err: err}}
	}
	res := result{language: tc.Language()}

	if !force {
		if artifact, ok := upToDate(d.path, tc, sources); ok {
			logging.Audit(logging.AuditEvent{EventType: logging.AuditCompileSkip, Target: d.name, Success: true, Message: filepath.Base(artifact)})
			res.artifact, res.skipped = artifact, true
			return res
		}
	}

	req := Request{
		Name:    d.name,
		Dir:     d.path,
		Sources: sources,
		OutDir:  filepath.Join(d.path, OutDir),
		LibDir:  filepath.Join(d.path, LibDir),
		Stamp:   newStamp(),
	}
	if p.opts.CompileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.CompileTimeout)
		defer cancel()
	}

	logging.Audit(logging.AuditEvent{EventType: logging.AuditCompileStart, Target: d.name, Message: tc.Language()})
	logging.Compile("Compiling %s (%s, %d sources)", d.name, tc.Language(), len(sources))

	artifact, out, err := tc.Compile(ctx, req)
	res.output = string(out)
	elapsed := time.Since(start)
	if err != nil {
		res.err = &CompileError{Dir: d.name, Language: tc.Language(), Output: res.output, Err: err}
		logging.CompileError("Compile of %s failed after %v: %v", d.name, elapsed, err)
		logging.Audit(logging.AuditEvent{EventType: logging.AuditCompileError, Target: d.name, DurationMs: elapsed.Milliseconds(), Error: err.Error(), Message: tc.Language()})
		return res
	}
	res.artifact = artifact
	logging.Compile("Compiled %s in %v -> %s", d.name, elapsed, filepath.Base(artifact))
	logging.Audit(logging.AuditEvent{EventType: logging.AuditCompileOK, Target: d.name, Success: true, DurationMs: elapsed.Milliseconds(), Message: filepath.Base(artifact)})
	return res
}

// finish handles a worker result on the main loop. reported says whether
// CompileStarted was sent for this run.
func (p *Pipeline) finish(d *Directory, gen uint64, res result, reported bool) {
	p.mu.Lock()
	if d.disposed || gen != d.gen {
		p.mu.Unlock()
		logging.PipelineDebug("Discarding result for %s (disposed=%v)", d.name, d.disposed)
		if reported {
			p.sink.CompileFinished(d.name, &CompileError{Dir: d.name, Language: res.language, Err: ErrDisposed})
		}
		return
	}
	d.cancel = nil
	if res.language != "" {
		d.language = res.language
	}
	if res.err != nil {
		d.setState(StateCompileError)
		d.lastErr = res.err
		d.setState(StateIdle)
		p.mu.Unlock()
		p.sink.CompileFinished(d.name, res.err)
		p.rerunIfQueued(d)
		return
	}
	if d.state == StateCompiling {
		d.setState(StateCompileOK)
		d.setState(StateLoading)
	}
	p.mu.Unlock()

	err := p.publish(d, res)

	p.mu.Lock()
	if err != nil {
		d.setState(StateCompileError)
	} else {
		d.setState(StateRegistered)
	}
	d.lastErr = err
	d.setState(StateIdle)
	p.mu.Unlock()

	// Startup loads of up-to-date artifacts only report failures.
	if reported || err != nil {
		p.sink.CompileFinished(d.name, err)
	}
	p.rerunIfQueued(d)
}

func (p *Pipeline) rerunIfQueued(d *Directory) {
	p.mu.Lock()
	if !d.rerun || d.disposed {
		p.mu.Unlock()
		return
	}
	force := d.force
	d.rerun, d.force = false, false
	p.mu.Unlock()

	if force {
		p.trigger(d.name, true)
		return
	}
	d.debouncer.Fire(struct{}{})
}

// publish loads the artifact into a fresh load context, registers the
// factory and migrates open instances. Runs on the main loop.
func (p *Pipeline) publish(d *Directory, res result) error {
	h, err := p.arena.Load(d.path, res.artifact)
	if err != nil {
		return &CompileError{Dir: d.name, Language: res.language, Err: err}
	}

	f := widget.NewCompiledFactory(h, p.opts.UserDataDir)
	p.mu.Lock()
	prev := d.factory
	d.factory = f
	d.artifact = res.artifact
	p.mu.Unlock()

	if prev != nil && prev.Name() != f.Name() {
		p.env.Registry.Unregister(prev)
	}
	p.env.Registry.Register(f)
	logging.Audit(logging.AuditEvent{EventType: logging.AuditFactoryPublish, Target: f.Name(), Success: true, Message: f.Describe()})

	migrated, kept := p.migrate(f)
	if !res.skipped {
		if n := pruneArtifacts(filepath.Join(d.path, OutDir), filepath.Ext(res.artifact), res.artifact); n > 0 {
			logging.PipelineDebug("Pruned %d old artifacts of %s", n, d.name)
		}
	}
	logging.Pipeline("Published %s: %d instances migrated, %d left on the previous version", f.Describe(), migrated, kept)
	return nil
}

// migrate moves open instances of f's identity name onto f. Instances
// without a container keep running on the previous factory.
func (p *Pipeline) migrate(f *widget.Factory) (migrated, kept int) {
	for _, c := range p.env.Instances.ByFactory(f.Name()) {
		if c.Factory() == f {
			continue
		}
		if c.IsMissingFactory() {
			if err := c.Retry(); err != nil {
				logging.PipelineWarn("Retry of %s failed: %v", c.OwnerID(), err)
				continue
			}
			migrated++
			continue
		}
		_, err := widget.Migrate(c, f)
		switch {
		case errors.Is(err, widget.ErrNotContained):
			logging.PipelineDebug("Instance %s has no container, left on previous version", c.OwnerID())
			kept++
		case err != nil:
			logging.PipelineWarn("Migration of %s failed: %v", c.OwnerID(), err)
			kept++
		default:
			migrated++
		}
	}
	return migrated, kept
}

func (p *Pipeline) reapplyResource(name, path string) {
	p.mu.Lock()
	d := p.dirs[name]
	var f *widget.Factory
	if d != nil {
		f = d.factory
	}
	p.mu.Unlock()
	if f == nil {
		return
	}
	n := 0
	for _, c := range p.env.Instances.ByFactory(f.Name()) {
		c.ReapplyResource(path)
		n++
	}
	logging.PipelineDebug("Resource %s re-applied to %d instances", filepath.Base(path), n)
}

// Dispose stops tracking name: an in-flight compile is cancelled, late
// results are discarded and the factory is unregistered. Idempotent.
func (p *Pipeline) Dispose(name string) {
	p.mu.Lock()
	d := p.dirs[name]
	if d == nil {
		p.mu.Unlock()
		return
	}
	delete(p.dirs, name)
	d.disposed = true
	d.setState(StateDisposed)
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	f := d.factory
	d.factory = nil
	p.mu.Unlock()

	d.debouncer.Stop()
	if f != nil {
		p.env.Registry.Unregister(f)
		logging.Audit(logging.AuditEvent{EventType: logging.AuditFactoryRemove, Target: f.Name(), Success: true})
	}
	logging.Pipeline("Disposed widget directory %s", name)
}

// Directories returns a snapshot of every tracked directory, sorted by name.
func (p *Pipeline) Directories() []DirectoryInfo {
	p.mu.Lock()
	out := make([]DirectoryInfo, 0, len(p.dirs))
	for _, d := range p.dirs {
		out = append(out, d.info())
	}
	p.mu.Unlock()
	sortInfos(out)
	return out
}

// Directory returns a snapshot of one directory.
func (p *Pipeline) Directory(name string) (DirectoryInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.dirs[name]
	if !ok {
		return DirectoryInfo{}, false
	}
	return d.info(), true
}

// Wait blocks until no compile worker is running. Their results may still be
// queued on the main loop.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Stop cancels in-flight compiles, stops watching and waits for workers.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	w := p.watcher
	p.watcher = nil
	dirs := make([]*Directory, 0, len(p.dirs))
	for _, d := range p.dirs {
		dirs = append(dirs, d)
	}
	p.cancel()
	p.mu.Unlock()

	for _, d := range dirs {
		d.debouncer.Stop()
	}
	if w != nil {
		w.Stop()
	}
	p.wg.Wait()
	logging.Pipeline("Pipeline stopped")
}

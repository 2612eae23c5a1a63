// Package system wires the widget runtime together: configuration, logging,
// the main loop, the binding resolver, the factory registry, the compilation
// pipeline, persistence and the selection policy. A Runtime owns all of them
// for the lifetime of the process.
package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"widgetrt/internal/binding"
	"widgetrt/internal/config"
	"widgetrt/internal/loader"
	"widgetrt/internal/logging"
	"widgetrt/internal/mainloop"
	"widgetrt/internal/pipeline"
	"widgetrt/internal/selection"
	"widgetrt/internal/store"
	"widgetrt/internal/widget"
)

// Runtime is a fully wired widget runtime.
type Runtime struct {
	Config    *config.Config
	Workspace string

	Loop      *mainloop.Loop
	Resolver  *binding.Resolver
	Env       *widget.Env
	Arena     *loader.Arena
	Pipeline  *pipeline.Pipeline
	Progress  *pipeline.Progress
	Store     store.PropertyStore
	Selector  *selection.Selector
	Layouts   []*widget.Factory
	ownsStore bool
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// BootConfig holds the inputs of BootRuntime. Overrides replace the
// component normally built from Config.
type BootConfig struct {
	Workspace string         // base for relative paths; default working directory
	Config    *config.Config // default config.DefaultConfig()
	Watch     bool           // watch the components root after the initial scan

	ToolchainsOverride []pipeline.Toolchain
	ArenaOverride      *loader.Arena
	StoreOverride      store.PropertyStore
	SinkOverride       pipeline.Sink
	FallbackFactory    *widget.Factory
}

// BootRuntime builds every component and starts the main loop. Call Start to
// scan the components root and Close to release everything.
func BootRuntime(ctx context.Context, cfg BootConfig) (*Runtime, error) {
	workspace := cfg.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	conf := cfg.Config
	if conf == nil {
		conf = config.DefaultConfig()
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	stateDir := resolve(workspace, conf.Components.StateDir)
	if err := logging.Initialize(stateDir, conf.Logging.Options()); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	if err := logging.InitAudit(); err != nil {
		logging.BootWarn("Audit log unavailable: %v", err)
	}
	logging.Boot("Booting widget runtime in %s", workspace)

	// 1. Main loop
	loopCtx, cancel := context.WithCancel(ctx)
	loop := mainloop.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(loopCtx)
	}()

	// 2. Binding resolver and component environment
	resolver := binding.NewResolver(loop, conf.GetBindingDebounce())
	userData := resolve(workspace, conf.Components.UserDataDir)
	env := widget.NewEnv(resolver, userData)
	for _, name := range conf.Selection.Preferred {
		env.Registry.SetPreferred(name, true)
	}
	for _, name := range conf.Selection.Ignored {
		env.Registry.SetIgnored(name, true)
	}

	rt := &Runtime{
		Config:    conf,
		Workspace: workspace,
		Loop:      loop,
		Resolver:  resolver,
		Env:       env,
		cancel:    cancel,
		done:      done,
	}

	// 3. Persistence. A broken database is not fatal; state is then kept in
	// memory for this run.
	rt.Store = cfg.StoreOverride
	if rt.Store == nil {
		rt.Store, rt.ownsStore = openStore(resolve(workspace, conf.Store.DatabasePath)), true
	}

	// 4. Pipeline
	rt.Arena = cfg.ArenaOverride
	if rt.Arena == nil {
		rt.Arena = loader.DefaultArena()
	}
	toolchains := cfg.ToolchainsOverride
	if len(toolchains) == 0 {
		toolchains = Toolchains(conf, workspace)
	}
	var next pipeline.Sink = pipeline.LogSink{}
	if cfg.SinkOverride != nil {
		next = cfg.SinkOverride
	}
	rt.Progress = pipeline.NewProgress(next)
	rt.Pipeline = pipeline.New(env, pipeline.Options{
		Root:           resolve(workspace, conf.Components.Dir),
		UserDataDir:    userData,
		Debounce:       conf.GetPipelineDebounce(),
		Workers:        conf.GetWorkers(),
		CompileTimeout: conf.GetCompileTimeout(),
		Toolchains:     toolchains,
		Arena:          rt.Arena,
		Executor:       loop,
		Sink:           rt.Progress,
		Watch:          cfg.Watch,
	})

	// 5. Layouts and selection
	layouts, err := RegisterLayouts(env.Registry, resolve(workspace, conf.Components.LayoutsDir))
	if err != nil {
		logging.BootWarn("Layouts not registered: %v", err)
	}
	rt.Layouts = layouts

	var opts []selection.Option
	if cfg.FallbackFactory != nil {
		env.Registry.Register(cfg.FallbackFactory)
		opts = append(opts, selection.WithFallback(cfg.FallbackFactory))
	}
	rt.Selector = selection.New(env, opts...)

	logging.Boot("Runtime wired: root=%s workers=%d toolchains=%d layouts=%d",
		rt.Pipeline.Root(), conf.GetWorkers(), len(toolchains), len(layouts))
	return rt, nil
}

// Start runs the initial scan of the components root. A missing root is
// logged and the runtime carries on without external widgets.
func (rt *Runtime) Start(ctx context.Context) error {
	err := rt.Pipeline.Start(ctx)
	if errors.Is(err, pipeline.ErrRootMissing) {
		logging.BootWarn("No components root, continuing without external widgets: %v", err)
		return nil
	}
	return err
}

// Toolchains builds the compile toolchains enabled in conf.
func Toolchains(conf *config.Config, workspace string) []pipeline.Toolchain {
	g := conf.Pipeline.Go
	goTC := pipeline.GoPluginToolchain{
		Binary:     g.Binary,
		HostModule: g.HostModule,
		BuildFlags: g.BuildFlags,
		Env:        g.Env,
	}
	if g.HostModuleRoot != "" {
		goTC.HostModuleRoot = resolve(workspace, g.HostModuleRoot)
	}
	tcs := []pipeline.Toolchain{goTC}
	if conf.Pipeline.Script.Enabled {
		tcs = append(tcs, pipeline.ScriptToolchain{})
	}
	return tcs
}

// RegisterLayouts registers a layout factory for every persisted layout file
// in dir. A missing dir registers nothing.
func RegisterLayouts(reg *widget.Registry, dir string) ([]*widget.Factory, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+widget.LayoutExt))
	if err != nil {
		return nil, err
	}
	var out []*widget.Factory
	for _, path := range matches {
		f := widget.NewLayoutFactory(widget.Descriptor{Dir: dir}, path)
		reg.Register(f)
		out = append(out, f)
	}
	if len(out) > 0 {
		logging.Boot("Registered %d layouts from %s", len(out), dir)
	}
	return out, nil
}

func openStore(path string) store.PropertyStore {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logging.BootWarn("Property store directory unavailable, using memory: %v", err)
		return store.NewMemoryStore()
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		logging.BootWarn("Property store %s unavailable, using memory: %v", path, err)
		return store.NewMemoryStore()
	}
	return s
}

func resolve(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}

package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widgetrt/internal/loader"
	"widgetrt/internal/widget"
)

func TestStartCompilesAndRegisters(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")
	h := newHarness(t, root)

	h.start()
	h.waitFinished(1)

	assert.Equal(t, int32(1), h.tc.calls.Load())
	last := h.sink.last()
	assert.Equal(t, "clock", last.dir)
	assert.NoError(t, last.err)

	f := h.env.Registry.ByName("Clock")
	require.NotNil(t, f)
	assert.Equal(t, widget.KindCompiled, f.Kind())

	info, ok := h.p.Directory("clock")
	require.True(t, ok)
	assert.Equal(t, StateIdle, info.State)
	assert.Equal(t, "Clock", info.Factory)
	assert.Equal(t, "fake", info.Language)
	assert.FileExists(t, info.Artifact)
	assert.NoError(t, info.Err)
}

func TestStartSkipsUpToDateArtifact(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")

	first := newHarness(t, root)
	first.start()
	first.waitFinished(1)
	first.p.Stop()

	second := newHarness(t, root)
	second.start()
	require.Eventually(t, func() bool { return second.env.Registry.ByName("Clock") != nil },
		5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), second.tc.calls.Load(), "up-to-date artifact loads without compiling")

	// Forced recompiles bypass the staleness check.
	require.NoError(t, second.p.Recompile("clock"))
	second.waitFinished(1)
	assert.Equal(t, int32(1), second.tc.calls.Load())
}

func TestStartRecompilesStaleArtifact(t *testing.T) {
	root := t.TempDir()
	src := writeWidget(t, root, "clock", "Clock")

	first := newHarness(t, root)
	first.start()
	first.waitFinished(1)
	first.p.Stop()

	bumpMTime(t, src)
	second := newHarness(t, root)
	second.start()
	second.waitFinished(1)
	assert.Equal(t, int32(1), second.tc.calls.Load())
}

func TestMixedLanguagesIsCompileError(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")
	writeFile(t, filepath.Join(root, "clock", "extra"+loader.ScriptSourceExt), "package main\n")

	h := newHarness(t, root, withToolchains(&fakeToolchain{}, ScriptToolchain{}))
	h.start()
	h.waitFinished(1)

	err := h.sink.last().err
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMixedLanguages)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "clock", ce.Dir)
	assert.Nil(t, h.env.Registry.ByName("Clock"))
}

func TestEmptyDirectoryIsTrackedButNotCompiled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pending"), 0755))
	h := newHarness(t, root)
	h.start()

	info, ok := h.p.Directory("pending")
	require.True(t, ok)
	assert.Equal(t, StateIdle, info.State)
	assert.Equal(t, int32(0), h.tc.calls.Load())
}

func TestMissingRootIsReported(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "nope"))
	err := h.p.Start(t.Context())
	assert.ErrorIs(t, err, ErrRootMissing)
	assert.Empty(t, h.p.Directories())
}

func TestCompileErrorKeepsPreviousFactory(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")
	h := newHarness(t, root)
	h.start()
	h.waitFinished(1)
	f1 := h.env.Registry.ByName("Clock")
	require.NotNil(t, f1)

	h.tc.setFail(true, "clock.fk:3: undefined: tick")
	require.NoError(t, h.p.Recompile("clock"))
	h.waitFinished(2)

	err := h.sink.last().err
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "fake", ce.Language)
	assert.Contains(t, ce.Output, "undefined: tick")
	assert.Contains(t, err.Error(), "undefined: tick")

	assert.Same(t, f1, h.env.Registry.ByName("Clock"), "previous factory stays registered")
	info, _ := h.p.Directory("clock")
	assert.Equal(t, StateIdle, info.State)
	assert.Error(t, info.Err)
}

func TestLoadFailureIsCompileError(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "broken", badLoad)
	h := newHarness(t, root)
	h.start()
	h.waitFinished(1)

	err := h.sink.last().err
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, loader.ErrMissingSymbol)
	assert.Empty(t, h.env.Registry.All())
	assert.Zero(t, h.arena.Live())
}

func TestRecompileMigratesContainedInstances(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")
	h := newHarness(t, root)
	h.start()
	h.waitFinished(1)
	f1 := h.env.Registry.ByName("Clock")
	require.NotNil(t, f1)

	var (
		contained, loose *widget.Component
		holder           = &slot{}
		oldRoot          any
	)
	h.call(func() {
		contained = f1.Create(h.env)
		contained.SetCustomName("kitchen")
		holder.child = contained
		contained.SetContainer(holder, false)
		oldRoot, _ = contained.Load()

		loose = f1.Create(h.env)
		_, _ = loose.Load()
	})

	require.NoError(t, h.p.Recompile("clock"))
	h.waitFinished(2)
	f2 := h.env.Registry.ByName("Clock")
	require.NotSame(t, f1, f2)

	h.call(func() {
		nw := holder.child
		if !assert.NotNil(t, nw) {
			return
		}
		assert.NotSame(t, contained, nw)
		assert.Equal(t, contained.ID(), nw.ID(), "identity survives migration")
		assert.Equal(t, "kitchen", nw.CustomName())
		assert.Same(t, f2, nw.Factory())
		assert.NotEqual(t, oldRoot, nw.Root())
		assert.Equal(t, widget.StateClosed, contained.State())

		assert.Equal(t, widget.StateLoaded, loose.State(), "uncontained instance keeps running")
		assert.Same(t, f1, loose.Factory())
	})

	assert.False(t, f1.Handle().Released(), "loose instance holds the old context")
	h.call(func() { assert.NoError(t, loose.Close()) })
	assert.True(t, f1.Handle().Released())
}

func TestPublishRetriesMissingFactoryInstances(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)

	var c *widget.Component
	h.call(func() {
		c = widget.NewDetached(h.env, uuid.New(), "Clock")
		_, err := c.Load()
		assert.NoError(t, err)
	})
	h.call(func() { assert.True(t, c.IsMissingFactory()) })

	writeWidget(t, root, "clock", "Clock")
	h.start()
	h.waitFinished(1)

	h.call(func() {
		assert.False(t, c.IsPlaceholder())
		assert.Same(t, h.env.Registry.ByName("Clock"), c.Factory())
	})
}

func TestRecompileAllRecompilesEveryDirectory(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")
	writeWidget(t, root, "cover", "Cover")
	h := newHarness(t, root)
	h.start()
	h.waitFinished(2)

	h.p.RecompileAll()
	h.waitFinished(4)
	assert.Equal(t, int32(4), h.tc.calls.Load())
	assert.Len(t, h.p.Directories(), 2)
}

func TestChangeDuringCompileIsQueued(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")
	h := newHarness(t, root)
	h.tc.started = make(chan struct{}, 4)
	h.tc.block = make(chan struct{})

	h.start()
	<-h.tc.started

	// A second request while compiling does not start a concurrent compile.
	require.NoError(t, h.p.Recompile("clock"))
	assert.Equal(t, int32(1), h.tc.calls.Load())

	close(h.tc.block)
	h.waitFinished(2)
	assert.Equal(t, int32(2), h.tc.calls.Load())
}

func TestDisposeCancelsAndUnregisters(t *testing.T) {
	root := t.TempDir()
	writeWidget(t, root, "clock", "Clock")
	h := newHarness(t, root)
	h.start()
	h.waitFinished(1)
	require.NotNil(t, h.env.Registry.ByName("Clock"))

	h.tc.started = make(chan struct{}, 1)
	h.tc.block = make(chan struct{})
	defer close(h.tc.block)
	require.NoError(t, h.p.Recompile("clock"))
	<-h.tc.started

	h.call(func() {
		h.p.Dispose("clock")
		h.p.Dispose("clock")
	})
	h.waitFinished(2)

	assert.ErrorIs(t, h.sink.last().err, ErrDisposed)
	assert.Nil(t, h.env.Registry.ByName("Clock"))
	_, ok := h.p.Directory("clock")
	assert.False(t, ok)
}

func TestScriptWidgetEndToEnd(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "clock", "clock"+loader.ScriptSourceExt), clockScript)
	writeFile(t, filepath.Join(root, "clock", LibDir, "fmtx", "fmtx.go"), fmtxLibrary)

	h := newHarness(t, root, withToolchains(ScriptToolchain{}))
	h.start()
	h.waitFinished(1)
	require.NoError(t, h.sink.last().err)

	f := h.env.Registry.ByName("Clock")
	require.NotNil(t, f)
	assert.Equal(t, "script", f.Handle().Kind())

	h.call(func() {
		c := f.Create(h.env)
		root, err := c.Load()
		assert.NoError(t, err)
		assert.False(t, c.IsPlaceholder(), "load error: %v", c.LoadError())
		assert.Equal(t, "[12:00]", root)
	})
}

func TestScriptWidgetSyntaxError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "clock", "clock"+loader.ScriptSourceExt), "package main\nfunc broken( {\n")

	h := newHarness(t, root, withToolchains(ScriptToolchain{}))
	h.start()
	h.waitFinished(1)

	var ce *CompileError
	require.ErrorAs(t, h.sink.last().err, &ce)
	assert.Equal(t, "script", ce.Language)
	assert.True(t, strings.Contains(ce.Output, "clock.gox"), ce.Output)
	assert.Nil(t, h.env.Registry.ByName("Clock"))
}

const clockScript = `package main

import (
	"fmtx"

	"widgetrt/pkg/behavior"
)

func Manifest() behavior.Manifest {
	return behavior.Manifest{Name: "Clock", Features: []string{behavior.FeatureTextDisplay}}
}

func New() behavior.Funcs {
	return behavior.Funcs{
		Build: func() (any, error) { return fmtx.Bracket("12:00"), nil },
	}
}
`

const fmtxLibrary = `package fmtx

func Bracket(s string) string { return "[" + s + "]" }
`

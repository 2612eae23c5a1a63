package widget

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widgetrt/internal/binding"
	"widgetrt/pkg/behavior"
)

func TestLayoutSaveAndCreateRoundTrip(t *testing.T) {
	env := testEnv(t)
	programmatic(env, "Clock", func() behavior.Behavior { return newFake("clock") })
	programmatic(env, "Cover", func() behavior.Behavior { return newFake("cover") })

	group := NewLayoutComponent(env, "main")
	l, ok := LayoutOf(group)
	require.True(t, ok)

	clock := env.Registry.ByName("Clock").Create(env)
	clock.SetCustomName("Big clock")
	clock.SetLocked(true)
	clock.SetFill(true, false)
	clock.SetProperty(ConfigPrefix+"font", "Mono 12")
	l.Add(clock)

	inner := NewLayoutComponent(env, "side")
	innerLayout, _ := LayoutOf(inner)
	cover := env.Registry.ByName("Cover").Create(env)
	innerLayout.Add(cover)
	l.Add(inner)

	root, err := group.Load()
	require.NoError(t, err)
	require.IsType(t, LayoutRoot{}, root)
	assert.Len(t, root.(LayoutRoot).Children, 2)

	path := filepath.Join(t.TempDir(), "layouts", "main"+LayoutExt)
	require.NoError(t, SaveLayout(path, group))
	require.NoError(t, group.Close())
	assert.Equal(t, StateClosed, clock.State())
	assert.Equal(t, StateClosed, cover.State())

	f := NewLayoutFactory(Descriptor{}, path)
	env.Registry.Register(f)
	restored := f.Create(env)
	require.True(t, restored.IsLayout())
	assert.Same(t, f, restored.Factory())

	rl, _ := LayoutOf(restored)
	children := rl.Children()
	require.Len(t, children, 2)

	c0 := children[0]
	assert.Equal(t, clock.ID(), c0.ID())
	assert.Equal(t, "Clock", c0.FactoryName())
	assert.Equal(t, "Big clock", c0.CustomName())
	assert.True(t, c0.Locked())
	assert.True(t, c0.FillWidth())
	assert.False(t, c0.FillHeight())
	assert.True(t, c0.InLayout())
	assert.Same(t, rl, c0.Container())

	c1 := children[1]
	assert.True(t, c1.IsLayout())
	nested, _ := LayoutOf(c1)
	require.Len(t, nested.Children(), 1)
	assert.Equal(t, cover.ID(), nested.Children()[0].ID())

	_, err = restored.Load()
	require.NoError(t, err)
	fb, ok := c0.Behavior().(*fakeBehavior)
	require.True(t, ok)
	assert.Equal(t, "Mono 12", fb.config["font"])
	assert.Equal(t, StateLoaded, nested.Children()[0].State())
}

func TestLayoutDecodeFailureYieldsPlaceholder(t *testing.T) {
	env := testEnv(t)
	dir := t.TempDir()

	cases := map[string]string{
		"garbage":    "{not json",
		"no version": `{"root":{"factory":"Clock"}}`,
		"future":     `{"version":99,"root":{"factory":"Clock"}}`,
		"empty root": `{"version":1,"root":{}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+LayoutExt)
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			c := NewLayoutFactory(Descriptor{}, path).Create(env)
			_, err := c.Load()
			require.NoError(t, err)
			assert.True(t, c.IsPlaceholder())
			assert.ErrorIs(t, c.LoadError(), ErrInvalidLayout)
		})
	}
}

func TestLayoutMissingFile(t *testing.T) {
	env := testEnv(t)
	c := NewLayoutFactory(Descriptor{}, filepath.Join(t.TempDir(), "gone"+LayoutExt)).Create(env)
	_, err := c.Load()
	require.NoError(t, err)
	assert.ErrorIs(t, c.LoadError(), ErrInvalidLayout)
}

func TestLayoutSingleWidgetIsWrapped(t *testing.T) {
	env := testEnv(t)
	programmatic(env, "Clock", func() behavior.Behavior { return newFake("clock") })

	path := filepath.Join(t.TempDir(), "solo"+LayoutExt)
	data := `{"version":1,"root":{"id":"6f1c1f3e-9a43-4a77-9a5e-0d7f4a1b2c3d","factory":"Clock"}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	f := NewLayoutFactory(Descriptor{}, path)
	c := f.Create(env)
	require.True(t, c.IsLayout())
	assert.Equal(t, "solo", c.FactoryName())

	l, _ := LayoutOf(c)
	require.Len(t, l.Children(), 1)
	child := l.Children()[0]
	assert.Equal(t, "6f1c1f3e-9a43-4a77-9a5e-0d7f4a1b2c3d", child.OwnerID())
	assert.Equal(t, "Clock", child.FactoryName())
	assert.Same(t, env.Registry.ByName("Clock"), child.Factory())
}

func TestLayoutOpenedTwiceGetsFreshIDs(t *testing.T) {
	env := testEnv(t)
	programmatic(env, "Clock", func() behavior.Behavior {
		fb := newFake("clock")
		fb.outputs = []string{"time"}
		return fb
	})

	const stored = "6f1c1f3e-9a43-4a77-9a5e-0d7f4a1b2c3d"
	path := filepath.Join(t.TempDir(), "main"+LayoutExt)
	data := `{"version":1,"root":{"factory":"layout","children":[{"id":"` + stored + `","factory":"Clock"}]}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	f := NewLayoutFactory(Descriptor{}, path)

	first := f.Create(env)
	_, err := first.Load()
	require.NoError(t, err)
	second := f.Create(env)
	_, err = second.Load()
	require.NoError(t, err)

	l1, _ := LayoutOf(first)
	l2, _ := LayoutOf(second)
	a, b := l1.Children()[0], l2.Children()[0]
	assert.Equal(t, stored, a.OwnerID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Same(t, a, env.Instances.Get(a.ID()))
	assert.Same(t, b, env.Instances.Get(b.ID()))

	_, ok := env.Resolver.Output(binding.OutputID(a.OwnerID(), "time"))
	assert.True(t, ok)
	_, ok = env.Resolver.Output(binding.OutputID(b.OwnerID(), "time"))
	assert.True(t, ok)

	// Once the first copy is closed the stored id is free again.
	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
	third := f.Create(env)
	l3, _ := LayoutOf(third)
	assert.Equal(t, stored, l3.Children()[0].OwnerID())
}

func TestLayoutUnknownWidgetLoadsNoFactory(t *testing.T) {
	env := testEnv(t)
	path := filepath.Join(t.TempDir(), "main"+LayoutExt)
	data := `{"version":1,"root":{"factory":"layout","children":[{"factory":"Missing"}]}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	c := NewLayoutFactory(Descriptor{}, path).Create(env)
	_, err := c.Load()
	require.NoError(t, err)
	assert.False(t, c.IsPlaceholder())

	l, _ := LayoutOf(c)
	child := l.Children()[0]
	assert.True(t, child.IsMissingFactory())

	programmatic(env, "Missing", func() behavior.Behavior { return newFake("late") })
	require.NoError(t, child.Retry())
	assert.False(t, child.IsPlaceholder())
}

func TestEncodeLayoutCapturesTree(t *testing.T) {
	env := testEnv(t)
	programmatic(env, "Clock", func() behavior.Behavior { return newFake("clock") })

	group := NewLayoutComponent(env, "main")
	l, _ := LayoutOf(group)
	clock := env.Registry.ByName("Clock").Create(env)
	clock.SetWindowKey("w1")
	l.Add(clock)

	lf := EncodeLayout(group, "main")
	want := LayoutFile{
		Version: LayoutVersion,
		Name:    "main",
		Root: LayoutNode{
			ID:         group.OwnerID(),
			Factory:    LayoutFactoryName,
			CustomName: "main",
			LoadType:   string(LoadAuto),
			Children: []LayoutNode{{
				ID:        clock.OwnerID(),
				Factory:   "Clock",
				LoadType:  string(LoadAuto),
				WindowKey: "w1",
			}},
		},
	}
	if diff := cmp.Diff(want, lf); diff != "" {
		t.Errorf("EncodeLayout mismatch (-want +got):\n%s", diff)
	}
}

func TestLayoutMigrateChild(t *testing.T) {
	env := testEnv(t)
	f := programmatic(env, "Clock", func() behavior.Behavior { return newFake("v1") })

	group := NewLayoutComponent(env, "main")
	l, _ := LayoutOf(group)
	old := f.Create(env)
	l.Add(old)
	_, err := group.Load()
	require.NoError(t, err)

	v2 := programmatic(env, "Clock", func() behavior.Behavior { return newFake("v2") })
	nw, err := Migrate(old, v2)
	require.NoError(t, err)

	require.Len(t, l.Children(), 1)
	assert.Same(t, nw, l.Children()[0])
	assert.Equal(t, old.ID(), nw.ID())
	assert.True(t, nw.InLayout())
	assert.Equal(t, "root:v2", nw.Root())
}

package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widgetrt/pkg/behavior"
)

type stubBehavior struct{ root string }

func (s stubBehavior) Build() (behavior.Root, error) { return s.root, nil }

func staticArena(libs map[string]StaticLibrary) *Arena {
	a := NewArena()
	a.Register(".static", StaticOpener{Libraries: libs})
	return a
}

func TestArenaLoadAndRelease(t *testing.T) {
	a := staticArena(map[string]StaticLibrary{
		"clock-1.static": {
			Manifest: behavior.Manifest{Name: "Clock", DisplayName: "Clock"},
			New:      func() (behavior.Behavior, error) { return stubBehavior{root: "v1"}, nil },
		},
		"clock-2.static": {
			Manifest: behavior.Manifest{Name: "Clock", DisplayName: "Clock"},
			New:      func() (behavior.Behavior, error) { return stubBehavior{root: "v2"}, nil },
		},
	})

	h1, err := a.Load("widgets/clock", "clock-1.static")
	require.NoError(t, err)
	h2, err := a.Load("widgets/clock", "clock-2.static")
	require.NoError(t, err)

	assert.NotEqual(t, h1.ID(), h2.ID())
	assert.Equal(t, "Clock", h1.Manifest().Name)
	assert.Len(t, a.Handles("widgets/clock"), 2)
	assert.Equal(t, []string{"widgets/clock"}, a.Dirs())

	b, err := h2.New()
	require.NoError(t, err)
	root, _ := b.Build()
	assert.Equal(t, "v2", root)

	require.NoError(t, h1.Acquire())
	h1.Release()
	assert.False(t, h1.Released())
	h1.Release()
	assert.True(t, h1.Released())
	assert.ErrorIs(t, h1.Acquire(), ErrReleased)
	_, err = h1.New()
	assert.ErrorIs(t, err, ErrReleased)

	assert.Equal(t, 1, a.Live())
	h2.Release()
	assert.Equal(t, 0, a.Live())
	assert.Empty(t, a.Dirs())
}

func TestArenaUnknownArtifact(t *testing.T) {
	a := staticArena(nil)
	_, err := a.Load("widgets/x", "x.unknown")
	assert.ErrorIs(t, err, ErrUnknownArtifact)
}

func TestHandleNewRecoversPanics(t *testing.T) {
	a := staticArena(map[string]StaticLibrary{
		"bad.static": {
			Manifest: behavior.Manifest{Name: "Bad"},
			New:      func() (behavior.Behavior, error) { panic("constructor exploded") },
		},
		"nil.static": {
			Manifest: behavior.Manifest{Name: "Nil"},
			New:      func() (behavior.Behavior, error) { return nil, nil },
		},
		"err.static": {
			Manifest: behavior.Manifest{Name: "Err"},
			New:      func() (behavior.Behavior, error) { return nil, errors.New("no device") },
		},
	})

	for _, artifact := range []string{"bad.static", "nil.static", "err.static"} {
		t.Run(artifact, func(t *testing.T) {
			h, err := a.Load("widgets/"+artifact, artifact)
			require.NoError(t, err)
			defer h.Release()
			_, err = h.New()
			assert.Error(t, err)
		})
	}
}

func TestStaticOpenerMissingConstructor(t *testing.T) {
	a := staticArena(map[string]StaticLibrary{"m.static": {Manifest: behavior.Manifest{Name: "M"}}})
	_, err := a.Load("widgets/m", "m.static")
	assert.ErrorIs(t, err, ErrMissingSymbol)
}

func TestPluginOpenerRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.so")
	require.NoError(t, os.WriteFile(path, []byte("not an elf file"), 0644))

	a := DefaultArena()
	_, err := a.Load(filepath.Dir(path), path)
	assert.Error(t, err)
	assert.Equal(t, 0, a.Live())
}

const clockScript = `package main

import "widgetrt/pkg/behavior"

func Manifest() behavior.Manifest {
	return behavior.Manifest{
		Name:        "Clock",
		DisplayName: "Clock",
		Features:    []string{behavior.FeatureTextDisplay},
	}
}

func New() behavior.Funcs {
	return behavior.Funcs{
		Build: func() (any, error) { return "clock-root", nil },
	}
}
`

func writeScriptArtifact(t *testing.T, files map[string]string) string {
	t.Helper()
	artifact := filepath.Join(t.TempDir(), "out", "Clock-1"+ScriptExt)
	mainDir := filepath.Join(artifact, ScriptMainDir)
	require.NoError(t, os.MkdirAll(mainDir, 0755))
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(mainDir, name), []byte(src), 0644))
	}
	return artifact
}

func TestScriptOpenerLoadsWidget(t *testing.T) {
	artifact := writeScriptArtifact(t, map[string]string{"clock.gox": clockScript})

	a := DefaultArena()
	h, err := a.Load("widgets/clock", artifact)
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, "script", h.Kind())
	assert.Equal(t, "Clock", h.Manifest().Name)
	assert.True(t, h.Manifest().HasFeature(behavior.FeatureTextDisplay))

	b, err := h.New()
	require.NoError(t, err)
	root, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "clock-root", root)
}

func TestScriptOpenerIsolatesInterpreters(t *testing.T) {
	a := DefaultArena()
	h1, err := a.Load("widgets/clock", writeScriptArtifact(t, map[string]string{"clock.gox": clockScript}))
	require.NoError(t, err)
	defer h1.Release()
	h2, err := a.Load("widgets/clock", writeScriptArtifact(t, map[string]string{"clock.gox": clockScript}))
	require.NoError(t, err)
	defer h2.Release()

	assert.Len(t, a.Handles("widgets/clock"), 2)
}

func TestScriptOpenerErrors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  error
	}{
		{
			name:  "no sources",
			files: map[string]string{"README.txt": "nothing"},
		},
		{
			name:  "syntax error",
			files: map[string]string{"clock.gox": "package main\nfunc broken( {"},
		},
		{
			name: "missing New",
			files: map[string]string{"clock.gox": `package main

import "widgetrt/pkg/behavior"

func Manifest() behavior.Manifest { return behavior.Manifest{Name: "Clock"} }
`},
			want: ErrMissingSymbol,
		},
		{
			name: "wrong New signature",
			files: map[string]string{"clock.gox": `package main

import "widgetrt/pkg/behavior"

func Manifest() behavior.Manifest { return behavior.Manifest{Name: "Clock"} }

func New() string { return "nope" }
`},
			want: ErrBadSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DefaultArena()
			_, err := a.Load("widgets/clock", writeScriptArtifact(t, tt.files))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, 0, a.Live())
		})
	}
}

package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"widgetrt/pkg/behavior"
)

// Script artifact layout. A script artifact is a directory snapshot:
//
//	<name>-<stamp>.goxpkg/
//	    main/*.gox      widget sources, package main
//	    src/<module>/   private libraries, resolved as a GOPATH
const (
	ScriptExt        = ".goxpkg"
	ScriptSourceExt  = ".gox"
	ScriptMainDir    = "main"
	ScriptLibraryDir = "src"
)

// ScriptOpener evaluates interpreted widgets. Every Open creates a new
// interpreter, so two versions of a widget never share state.
type ScriptOpener struct {
	// Unrestricted exposes os/exec and syscall-level symbols to scripts.
	Unrestricted bool
}

// Kind implements Opener.
func (ScriptOpener) Kind() string { return "script" }

// Open implements Opener.
func (s ScriptOpener) Open(artifact string) (Library, error) {
	files, err := ScriptSources(filepath.Join(artifact, ScriptMainDir))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("loader: no %s sources in %s", ScriptSourceExt, artifact)
	}

	i := interp.New(interp.Options{
		GoPath:       artifact,
		Unrestricted: s.Unrestricted,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loader: failed to load stdlib: %w", err)
	}
	if err := i.Use(behavior.Symbols); err != nil {
		return nil, fmt.Errorf("loader: failed to load behavior symbols: %w", err)
	}

	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("loader: read %s: %w", f, err)
		}
		if _, err := i.Eval(string(src)); err != nil {
			return nil, fmt.Errorf("loader: evaluate %s: %w", filepath.Base(f), err)
		}
	}

	mval, err := i.Eval("main." + behavior.ManifestSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingSymbol, behavior.ManifestSymbol, err)
	}
	manifest, ok := mval.Interface().(func() behavior.Manifest)
	if !ok {
		return nil, fmt.Errorf("%w: %s, want func() behavior.Manifest", ErrBadSignature, behavior.ManifestSymbol)
	}

	nval, err := i.Eval("main." + behavior.NewSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingSymbol, behavior.NewSymbol, err)
	}
	newFuncs, ok := nval.Interface().(func() behavior.Funcs)
	if !ok {
		return nil, fmt.Errorf("%w: %s, want func() behavior.Funcs", ErrBadSignature, behavior.NewSymbol)
	}

	return &funcLibrary{
		manifest: manifest(),
		ctor: func() (behavior.Behavior, error) {
			return newFuncs().Behavior(), nil
		},
	}, nil
}

// ScriptSources lists the script sources in dir, sorted by name.
func ScriptSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ScriptSourceExt {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

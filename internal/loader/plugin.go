package loader

import (
	"fmt"
	"plugin"

	"widgetrt/pkg/behavior"
)

// PluginExt is the artifact extension of compiled widgets.
const PluginExt = ".so"

// PluginOpener opens Go plugins built with -buildmode=plugin. Each artifact
// must have been built under a unique -pluginpath, otherwise the runtime
// refuses to load a second version of the same widget.
type PluginOpener struct{}

// Kind implements Opener.
func (PluginOpener) Kind() string { return "plugin" }

// Open implements Opener.
func (PluginOpener) Open(artifact string) (Library, error) {
	p, err := plugin.Open(artifact)
	if err != nil {
		return nil, fmt.Errorf("loader: open plugin %s: %w", artifact, err)
	}

	msym, err := p.Lookup(behavior.ManifestSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissingSymbol, behavior.ManifestSymbol, artifact)
	}
	manifest, ok := msym.(func() behavior.Manifest)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want func() behavior.Manifest", ErrBadSignature, behavior.ManifestSymbol, msym)
	}

	nsym, err := p.Lookup(behavior.NewSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissingSymbol, behavior.NewSymbol, artifact)
	}
	ctor, ok := nsym.(func() (behavior.Behavior, error))
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want func() (behavior.Behavior, error)", ErrBadSignature, behavior.NewSymbol, nsym)
	}

	return &funcLibrary{manifest: manifest(), ctor: ctor}, nil
}

// funcLibrary is a Library over plain functions.
type funcLibrary struct {
	manifest behavior.Manifest
	ctor     behavior.Constructor
}

func (l *funcLibrary) Manifest() behavior.Manifest { return l.manifest }

func (l *funcLibrary) New() (behavior.Behavior, error) { return l.ctor() }

// StaticOpener opens in-process libraries registered by artifact path. It is
// used for widgets linked into the host binary and by tests.
type StaticOpener struct {
	Name      string
	Libraries map[string]StaticLibrary
}

// StaticLibrary describes a widget linked into the host.
type StaticLibrary struct {
	Manifest behavior.Manifest
	New      behavior.Constructor
}

// Kind implements Opener.
func (s StaticOpener) Kind() string {
	if s.Name == "" {
		return "static"
	}
	return s.Name
}

// Open implements Opener.
func (s StaticOpener) Open(artifact string) (Library, error) {
	lib, ok := s.Libraries[artifact]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArtifact, artifact)
	}
	if lib.New == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissingSymbol, behavior.NewSymbol, artifact)
	}
	return &funcLibrary{manifest: lib.Manifest, ctor: lib.New}, nil
}

// Package widget holds the component model: factories and their registry,
// component instances and their lifecycle, placeholders, the open-instance
// set and persisted layouts.
//
// Component methods are not safe for concurrent use; they are called from the
// main loop. Registry and Instances are safe for concurrent use.
package widget

import (
	"fmt"
	"path/filepath"
	"runtime/debug"
	"slices"

	"github.com/google/uuid"

	"widgetrt/internal/binding"
	"widgetrt/internal/loader"
	"widgetrt/internal/logging"
	"widgetrt/pkg/behavior"
)

// Descriptor is a factory's metadata.
type Descriptor struct {
	Name        string   `json:"name"`         // identity name, unique in the registry
	DisplayName string   `json:"display_name"` // not unique
	Author      string   `json:"author,omitempty"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Year        string   `json:"year,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Group       string   `json:"group,omitempty"`
	Dir         string   `json:"dir,omitempty"`           // source directory
	UserDataDir string   `json:"user_data_dir,omitempty"` // per-widget user data
	Features    []string `json:"features,omitempty"`
}

// DescriptorFromManifest builds a descriptor for a widget compiled from dir.
func DescriptorFromManifest(m behavior.Manifest, dir, userDataRoot string) Descriptor {
	d := Descriptor{
		Name:        m.Name,
		DisplayName: m.DisplayName,
		Author:      m.Author,
		Version:     m.Version,
		Description: m.Description,
		Year:        m.Year,
		Notes:       m.Notes,
		Group:       m.Group,
		Dir:         dir,
		Features:    slices.Clone(m.Features),
	}
	if d.Name == "" {
		d.Name = filepath.Base(dir)
	}
	if d.DisplayName == "" {
		d.DisplayName = d.Name
	}
	if userDataRoot != "" {
		d.UserDataDir = filepath.Join(userDataRoot, d.Name)
	}
	return d
}

// HasFeature reports whether the descriptor declares tag.
func (d Descriptor) HasFeature(tag string) bool {
	return slices.Contains(d.Features, tag)
}

// Kind discriminates factory variants.
type Kind int

const (
	// KindCompiled factories build behaviors from a loaded artifact.
	KindCompiled Kind = iota
	// KindProgrammatic factories call a supplier function.
	KindProgrammatic
	// KindLayout factories decode a persisted component graph.
	KindLayout
)

func (k Kind) String() string {
	switch k {
	case KindCompiled:
		return "compiled"
	case KindProgrammatic:
		return "programmatic"
	case KindLayout:
		return "layout"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Supplier builds a behavior for a programmatic factory.
type Supplier func() behavior.Behavior

// Factory produces components. Exactly one variant field is set, matching Kind.
type Factory struct {
	kind Kind
	desc Descriptor

	handle     *loader.Handle // KindCompiled
	supplier   Supplier       // KindProgrammatic
	layoutPath string         // KindLayout
}

// NewCompiledFactory wraps a loaded artifact. The factory takes over the
// handle reference returned by the arena.
func NewCompiledFactory(h *loader.Handle, userDataRoot string) *Factory {
	return &Factory{
		kind:   KindCompiled,
		desc:   DescriptorFromManifest(h.Manifest(), h.Dir(), userDataRoot),
		handle: h,
	}
}

// NewProgrammaticFactory wraps a supplier.
func NewProgrammaticFactory(desc Descriptor, fn Supplier) *Factory {
	if desc.DisplayName == "" {
		desc.DisplayName = desc.Name
	}
	return &Factory{kind: KindProgrammatic, desc: desc, supplier: fn}
}

// NewLayoutFactory wraps a persisted layout file.
func NewLayoutFactory(desc Descriptor, path string) *Factory {
	if desc.Name == "" {
		desc.Name = LayoutName(path)
	}
	if desc.DisplayName == "" {
		desc.DisplayName = desc.Name
	}
	return &Factory{kind: KindLayout, desc: desc, layoutPath: path}
}

// Kind returns the variant.
func (f *Factory) Kind() Kind { return f.kind }

// Descriptor returns a copy of the metadata.
func (f *Factory) Descriptor() Descriptor {
	d := f.desc
	d.Features = slices.Clone(f.desc.Features)
	return d
}

// Name returns the identity name.
func (f *Factory) Name() string { return f.desc.Name }

// DisplayName returns the display name.
func (f *Factory) DisplayName() string { return f.desc.DisplayName }

// Handle returns the load context of a compiled factory, or nil.
func (f *Factory) Handle() *loader.Handle { return f.handle }

// LayoutPath returns the file of a layout factory, or "".
func (f *Factory) LayoutPath() string { return f.layoutPath }

// Describe returns a one-line description of the factory.
func (f *Factory) Describe() string {
	switch f.kind {
	case KindCompiled:
		return fmt.Sprintf("%s (compiled %s #%d from %s)", f.desc.Name, f.handle.Kind(), f.handle.ID(), filepath.Base(f.handle.Artifact()))
	case KindProgrammatic:
		return fmt.Sprintf("%s (programmatic)", f.desc.Name)
	case KindLayout:
		return fmt.Sprintf("%s (layout %s)", f.desc.Name, f.layoutPath)
	default:
		panic(fmt.Sprintf("widget: unknown factory kind %v", f.kind))
	}
}

// Create returns a new, unloaded component. A layout factory decodes its
// file here; decode failure yields an error placeholder component rather
// than an error.
func (f *Factory) Create(env *Env) *Component {
	return f.createAs(env, uuid.New())
}

func (f *Factory) createAs(env *Env, id uuid.UUID) *Component {
	switch f.kind {
	case KindCompiled, KindProgrammatic:
		return newComponent(env, id, f, f.desc.Name)
	case KindLayout:
		c, err := decodeLayoutFile(env, f, f.layoutPath)
		if err != nil {
			logging.LifecycleError("Layout %s failed to decode: %v", f.layoutPath, err)
			c = newComponent(env, id, f, f.desc.Name)
			c.preset = &ErrorPlaceholder{FactoryName: f.desc.Name, Err: err}
		}
		return c
	default:
		panic(fmt.Sprintf("widget: unknown factory kind %v", f.kind))
	}
}

// instantiate builds a fresh behavior. Panics are returned as errors.
func (f *Factory) instantiate() (b behavior.Behavior, release func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.LifecycleError("Panic instantiating %s: %v\n%s", f.desc.Name, r, debug.Stack())
			b, release, err = nil, nil, fmt.Errorf("instantiate %s: panic: %v", f.desc.Name, r)
		}
	}()

	switch f.kind {
	case KindCompiled:
		if err := f.handle.Acquire(); err != nil {
			return nil, nil, fmt.Errorf("instantiate %s: %w", f.desc.Name, err)
		}
		b, err := f.handle.New()
		if err != nil {
			f.handle.Release()
			return nil, nil, err
		}
		return b, f.handle.Release, nil
	case KindProgrammatic:
		b := f.supplier()
		if b == nil {
			return nil, nil, fmt.Errorf("instantiate %s: supplier returned nil", f.desc.Name)
		}
		return b, nil, nil
	case KindLayout:
		return nil, nil, fmt.Errorf("instantiate %s: layouts are decoded at creation", f.desc.Name)
	default:
		panic(fmt.Sprintf("widget: unknown factory kind %v", f.kind))
	}
}

// release drops the registry's reference to the factory's load context.
func (f *Factory) release() {
	if f.kind == KindCompiled && f.handle != nil && !f.handle.Released() {
		f.handle.Release()
	}
}

// Env is what components need from the surrounding runtime.
type Env struct {
	Registry    *Registry
	Resolver    *binding.Resolver
	Instances   *Instances
	UserDataDir string
}

// NewEnv returns an Env with a fresh registry and instance set.
func NewEnv(resolver *binding.Resolver, userDataDir string) *Env {
	return &Env{
		Registry:    NewRegistry(),
		Resolver:    resolver,
		Instances:   NewInstances(),
		UserDataDir: userDataDir,
	}
}

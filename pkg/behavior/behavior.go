// Package behavior is the contract every widget implementation is built against.
//
// Compiled widgets (Go plugins) and interpreted widgets (.gox sources evaluated
// by yaegi) both import this package. The runtime only ever talks to a widget
// through the interfaces declared here; a widget's concrete types never leak
// into the host.
//
// A compiled widget exports two functions:
//
//	func Manifest() behavior.Manifest
//	func New() (behavior.Behavior, error)
//
// An interpreted widget declares, in package main:
//
//	func Manifest() behavior.Manifest
//	func New() behavior.Funcs
package behavior

import "slices"

// Entry point symbol names looked up in a loaded artifact.
const (
	ManifestSymbol = "Manifest"
	NewSymbol      = "New"
)

// Well-known capability tags. Tags are opaque strings; widgets may declare
// their own.
const (
	FeatureTextDisplay  = "text-display"
	FeatureImageDisplay = "image-display"
	FeatureSongReader   = "song-reader"
	FeatureSongWriter   = "song-writer"
	FeaturePlaylist     = "playlist"
	FeatureContainer    = "container"
)

// Root is the opaque graphical root a behavior materializes. The runtime never
// inspects it; it is handed to the host's rendering layer.
type Root any

// Behavior is the minimal widget contract.
type Behavior interface {
	// Build materializes the widget's graphical root.
	Build() (Root, error)
}

// Manifest is the static metadata a widget declares about itself. It is read
// without instantiating the widget.
type Manifest struct {
	Name        string   `json:"name" yaml:"name"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Author      string   `json:"author,omitempty" yaml:"author,omitempty"`
	Version     string   `json:"version,omitempty" yaml:"version,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Year        string   `json:"year,omitempty" yaml:"year,omitempty"`
	Notes       string   `json:"notes,omitempty" yaml:"notes,omitempty"`
	Group       string   `json:"group,omitempty" yaml:"group,omitempty"`
	Features    []string `json:"features,omitempty" yaml:"features,omitempty"`
}

// HasFeature reports whether the manifest declares the capability tag.
func (m Manifest) HasFeature(tag string) bool {
	return slices.Contains(m.Features, tag)
}

// Configurable widgets expose their configuration as string key/value pairs.
type Configurable interface {
	// Config returns the current values.
	Config() map[string]string
	// Defaults returns the compiled-in default values.
	Defaults() map[string]string
	// ApplyConfig applies values; unknown keys are ignored.
	ApplyConfig(values map[string]string) error
}

// Legacy widgets restore persisted field-level configuration after their root
// has been built instead of before.
type Legacy interface {
	RestoreFields(values map[string]string) error
}

// Closer is implemented by widgets holding resources.
type Closer interface {
	Close() error
}

// ResourceReloader is notified when a non-source resource (style sheet,
// properties) in the widget's directory changes.
type ResourceReloader interface {
	ReloadResource(path string) error
}

// Output is a named value producer owned by a widget instance.
type Output interface {
	ID() string
	Set(value any)
	Value() any
}

// Ports lets a widget declare its outputs and inputs once it is loaded.
type Ports interface {
	Output(name string) Output
	Input(name string, apply func(value any))
}

// IODeclarer widgets declare cross-widget inputs and outputs.
type IODeclarer interface {
	DeclareIO(p Ports)
}

// Constructor is the signature of a compiled widget's New symbol.
type Constructor func() (Behavior, error)

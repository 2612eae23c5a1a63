package widget

import (
	"fmt"

	"widgetrt/pkg/behavior"
)

// PlaceholderRoot is the root of a placeholder behavior.
type PlaceholderRoot struct {
	Title   string
	Message string
}

// NoFactory stands in for a component whose factory is not registered. The
// component keeps its property bag so nothing is lost until the factory
// reappears and the component is retried.
type NoFactory struct {
	FactoryName string
}

// Build implements behavior.Behavior.
func (p *NoFactory) Build() (behavior.Root, error) {
	return PlaceholderRoot{
		Title:   p.FactoryName,
		Message: fmt.Sprintf("Widget %q is not available.", p.FactoryName),
	}, nil
}

// ErrorPlaceholder stands in for a component that failed to instantiate,
// configure or build.
type ErrorPlaceholder struct {
	FactoryName string
	Err         error
}

// Build implements behavior.Behavior.
func (p *ErrorPlaceholder) Build() (behavior.Root, error) {
	return PlaceholderRoot{
		Title:   p.FactoryName,
		Message: fmt.Sprintf("Widget %q failed to load: %v", p.FactoryName, p.Err),
	}, nil
}

// Unwrap returns the load error.
func (p *ErrorPlaceholder) Unwrap() error { return p.Err }

func isPlaceholder(b behavior.Behavior) bool {
	switch b.(type) {
	case *NoFactory, *ErrorPlaceholder:
		return true
	}
	return false
}

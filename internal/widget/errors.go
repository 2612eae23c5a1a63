package widget

import "errors"

var (
	// ErrClosed is returned when operating on a closed component.
	ErrClosed = errors.New("widget: component closed")

	// ErrNoFactory is returned when a component's factory cannot be resolved.
	ErrNoFactory = errors.New("widget: no factory")

	// ErrNotLoaded is returned by operations that need a loaded component.
	ErrNotLoaded = errors.New("widget: component not loaded")

	// ErrNotConfigurable is returned when exporting defaults of a widget
	// without configuration.
	ErrNotConfigurable = errors.New("widget: behavior is not configurable")

	// ErrNotContained is returned when migrating a component that has no
	// container position to swap into.
	ErrNotContained = errors.New("widget: component has no container")

	// ErrReplaceRefused is returned when a container refuses a child swap.
	ErrReplaceRefused = errors.New("widget: container refused replacement")

	// ErrInvalidLayout is returned when a layout file cannot be decoded.
	ErrInvalidLayout = errors.New("widget: invalid layout")
)

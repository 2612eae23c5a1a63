package widget

import (
	"maps"
	"sort"
	"strings"

	"github.com/google/uuid"

	"widgetrt/internal/binding"
	"widgetrt/pkg/behavior"
)

// Property bag key prefixes.
const (
	ConfigPrefix = "cfg."
	IOPrefix     = "io."
	MetaPrefix   = "meta."
)

// State is a component lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LoadType records how a component came to be open.
type LoadType string

const (
	LoadAuto   LoadType = "auto"
	LoadManual LoadType = "manual"
)

// Container is a host-provided position holding components.
type Container interface {
	// ReplaceChild swaps old for new in place. Returns false if old is not a
	// child.
	ReplaceChild(old, new *Component) bool
	// RemoveChild detaches c.
	RemoveChild(c *Component)
}

// Component is one widget instance.
type Component struct {
	id          uuid.UUID
	env         *Env
	factory     *Factory
	factoryName string

	props      map[string]string
	customName string
	loadType   LoadType
	locked     bool
	preferred  bool
	forbidUse  bool
	fillWidth  bool
	fillHeight bool

	windowKey string
	focused   bool
	container Container
	inLayout  bool

	state    State
	preset   behavior.Behavior // set by layout decoding
	behavior behavior.Behavior
	root     behavior.Root
	release  func()
	ports    *binding.Ports
	loadErr  error

	onClose []func(*Component)
}

func newComponent(env *Env, id uuid.UUID, f *Factory, factoryName string) *Component {
	return &Component{
		id:          id,
		env:         env,
		factory:     f,
		factoryName: factoryName,
		props:       map[string]string{},
		loadType:    LoadAuto,
	}
}

// NewDetached returns a component for a factory identity name that is not
// (or no longer) registered. Loading resolves the factory by name.
func NewDetached(env *Env, id uuid.UUID, factoryName string) *Component {
	return newComponent(env, id, nil, factoryName)
}

// ID returns the stable instance id.
func (c *Component) ID() uuid.UUID { return c.id }

// OwnerID returns the id used to address the component's outputs.
func (c *Component) OwnerID() string { return c.id.String() }

// Factory returns the producing factory; nil while unresolved.
func (c *Component) Factory() *Factory { return c.factory }

// FactoryName returns the identity name of the producing factory.
func (c *Component) FactoryName() string { return c.factoryName }

// DisplayName returns the factory display name, or the identity name when the
// factory is unresolved.
func (c *Component) DisplayName() string {
	if c.factory != nil {
		return c.factory.DisplayName()
	}
	return c.factoryName
}

// State returns the lifecycle state.
func (c *Component) State() State { return c.state }

// Behavior returns the live behavior, or nil when not loaded.
func (c *Component) Behavior() behavior.Behavior { return c.behavior }

// Root returns the built root, or nil when not loaded.
func (c *Component) Root() behavior.Root { return c.root }

// LoadError returns why the component is showing an error placeholder.
func (c *Component) LoadError() error { return c.loadErr }

// IsPlaceholder reports whether a placeholder stands in for the behavior.
func (c *Component) IsPlaceholder() bool { return isPlaceholder(c.behavior) }

// IsMissingFactory reports whether the component is waiting for its factory.
func (c *Component) IsMissingFactory() bool {
	_, ok := c.behavior.(*NoFactory)
	return ok
}

// IsLayout reports whether the component is a layout group.
func (c *Component) IsLayout() bool {
	_, ok := c.preset.(*Layout)
	return ok
}

// Property returns a bag value.
func (c *Component) Property(key string) (string, bool) {
	v, ok := c.props[key]
	return v, ok
}

// SetProperty sets a bag value.
func (c *Component) SetProperty(key, value string) { c.props[key] = value }

// Properties returns a copy of the bag.
func (c *Component) Properties() map[string]string { return maps.Clone(c.props) }

// ConfigValues returns the cfg.* entries of the bag without their prefix.
func (c *Component) ConfigValues() map[string]string {
	return stripPrefix(c.props, ConfigPrefix)
}

// InputBindings returns the io.* entries of the bag as input name to output ids.
func (c *Component) InputBindings() map[string][]string {
	out := map[string][]string{}
	for name, v := range stripPrefix(c.props, IOPrefix) {
		if ids := splitIDs(v); len(ids) > 0 {
			out[name] = ids
		}
	}
	return out
}

func (c *Component) CustomName() string     { return c.customName }
func (c *Component) SetCustomName(n string) { c.customName = n }
func (c *Component) LoadType() LoadType     { return c.loadType }
func (c *Component) SetLoadType(t LoadType) { c.loadType = t }
func (c *Component) Locked() bool           { return c.locked }
func (c *Component) SetLocked(v bool)       { c.locked = v }
func (c *Component) Preferred() bool        { return c.preferred }
func (c *Component) SetPreferred(v bool)    { c.preferred = v }
func (c *Component) ForbidUse() bool        { return c.forbidUse }
func (c *Component) SetForbidUse(v bool)    { c.forbidUse = v }
func (c *Component) FillWidth() bool        { return c.fillWidth }
func (c *Component) FillHeight() bool       { return c.fillHeight }
func (c *Component) WindowKey() string      { return c.windowKey }
func (c *Component) SetWindowKey(k string)  { c.windowKey = k }
func (c *Component) Focused() bool          { return c.focused }
func (c *Component) Container() Container   { return c.container }
func (c *Component) InLayout() bool         { return c.inLayout }
func (c *Component) SetFill(width, height bool) {
	c.fillWidth, c.fillHeight = width, height
}

// SetContainer records the component's position. inLayout marks positions
// inside a persisted layout.
func (c *Component) SetContainer(cont Container, inLayout bool) {
	c.container = cont
	c.inLayout = inLayout
}

// OnClose registers fn to run once when the component closes.
func (c *Component) OnClose(fn func(*Component)) {
	c.onClose = append(c.onClose, fn)
}

func stripPrefix(m map[string]string, prefix string) map[string]string {
	out := map[string]string{}
	for k, v := range m {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

func splitIDs(v string) []string {
	var ids []string
	for _, id := range strings.Split(v, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

package widget

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"widgetrt/internal/logging"
	"widgetrt/pkg/behavior"
)

// LayoutExt is the file extension of persisted layouts.
const LayoutExt = ".layout.json"

// LayoutVersion is the current layout file format.
const LayoutVersion = 1

// LayoutFactoryName is the factory name recorded for nested layout groups.
const LayoutFactoryName = "layout"

// LayoutName derives a layout's name from its file path.
func LayoutName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), LayoutExt)
}

// LayoutFile is the on-disk form of a component graph.
type LayoutFile struct {
	Version int        `json:"version"`
	Name    string     `json:"name,omitempty"`
	Root    LayoutNode `json:"root"`
}

// LayoutNode is one component in a layout file.
type LayoutNode struct {
	ID         string            `json:"id"`
	Factory    string            `json:"factory"`
	CustomName string            `json:"custom_name,omitempty"`
	LoadType   string            `json:"load_type,omitempty"`
	Locked     bool              `json:"locked,omitempty"`
	Preferred  bool              `json:"preferred,omitempty"`
	ForbidUse  bool              `json:"forbid_use,omitempty"`
	FillWidth  bool              `json:"fill_width,omitempty"`
	FillHeight bool              `json:"fill_height,omitempty"`
	WindowKey  string            `json:"window_key,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Children   []LayoutNode      `json:"children,omitempty"`
}

// Layout is a container behavior holding child components in order.
type Layout struct {
	children []*Component
}

// LayoutRoot is the root a Layout builds: its children's roots in order.
type LayoutRoot struct {
	Children []behavior.Root
}

// NewLayoutComponent returns an empty, unloaded layout group.
func NewLayoutComponent(env *Env, name string) *Component {
	c := newComponent(env, uuid.New(), nil, LayoutFactoryName)
	c.customName = name
	c.preset = &Layout{}
	return c
}

// LayoutOf returns the Layout behind a layout component.
func LayoutOf(c *Component) (*Layout, bool) {
	l, ok := c.preset.(*Layout)
	return l, ok
}

// Build loads every child and collects their roots.
func (l *Layout) Build() (behavior.Root, error) {
	roots := make([]behavior.Root, 0, len(l.children))
	for _, child := range l.Children() {
		root, err := child.Load()
		if err != nil {
			continue
		}
		roots = append(roots, root)
	}
	return LayoutRoot{Children: roots}, nil
}

// Close closes every child.
func (l *Layout) Close() error {
	for _, child := range l.Children() {
		if err := child.Close(); err != nil {
			logging.LifecycleWarn("Closing layout child %s: %v", child.OwnerID(), err)
		}
	}
	return nil
}

// Children returns the children in order.
func (l *Layout) Children() []*Component {
	return append([]*Component(nil), l.children...)
}

// Add appends c and makes the layout its container.
func (l *Layout) Add(c *Component) {
	l.children = append(l.children, c)
	c.SetContainer(l, true)
}

// ReplaceChild implements Container.
func (l *Layout) ReplaceChild(old, new *Component) bool {
	for i, c := range l.children {
		if c == old {
			l.children[i] = new
			return true
		}
	}
	return false
}

// RemoveChild implements Container.
func (l *Layout) RemoveChild(c *Component) {
	for i, x := range l.children {
		if x == c {
			l.children = append(l.children[:i], l.children[i+1:]...)
			return
		}
	}
}

// DecodeLayout parses a layout file.
func DecodeLayout(data []byte) (*LayoutFile, error) {
	var lf LayoutFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	if lf.Version == 0 || lf.Version > LayoutVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidLayout, lf.Version)
	}
	if lf.Root.Factory == "" && len(lf.Root.Children) == 0 {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidLayout)
	}
	return &lf, nil
}

func decodeLayoutFile(env *Env, f *Factory, path string) (*Component, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	lf, err := DecodeLayout(data)
	if err != nil {
		return nil, err
	}

	root := buildLayoutNode(env, lf.Root, true)
	if root.preset == nil {
		// A single-widget layout: wrap it so the root is always a group.
		group := &Layout{}
		group.Add(root)
		root = newComponent(env, uuid.New(), nil, "")
		root.preset = group
	}
	root.factory = f
	root.factoryName = f.Name()
	return root, nil
}

// buildLayoutNode creates the component for n and its children. A stored id
// that belongs to an open instance, as when the same layout is opened twice,
// is replaced by a fresh one.
func buildLayoutNode(env *Env, n LayoutNode, isRoot bool) *Component {
	id, err := uuid.Parse(n.ID)
	if err != nil {
		id = uuid.New()
	} else if env != nil && env.Instances != nil && env.Instances.Get(id) != nil {
		logging.LifecycleDebug("Layout node %s is already open, using a new id", id)
		id = uuid.New()
	}

	var c *Component
	if len(n.Children) > 0 || n.Factory == LayoutFactoryName || isRoot && n.Factory == "" {
		c = newComponent(env, id, nil, LayoutFactoryName)
		group := &Layout{}
		for _, child := range n.Children {
			group.Add(buildLayoutNode(env, child, false))
		}
		c.preset = group
	} else {
		var f *Factory
		if env != nil && env.Registry != nil {
			f = env.Registry.ByName(n.Factory)
		}
		c = newComponent(env, id, f, n.Factory)
	}

	c.customName = n.CustomName
	if n.LoadType != "" {
		c.loadType = LoadType(n.LoadType)
	}
	c.locked = n.Locked
	c.preferred = n.Preferred
	c.forbidUse = n.ForbidUse
	c.fillWidth = n.FillWidth
	c.fillHeight = n.FillHeight
	c.windowKey = n.WindowKey
	if n.Properties != nil {
		c.props = maps.Clone(n.Properties)
	}
	return c
}

// EncodeLayout captures c and, for layout groups, its children.
func EncodeLayout(c *Component, name string) LayoutFile {
	return LayoutFile{Version: LayoutVersion, Name: name, Root: encodeNode(c)}
}

func encodeNode(c *Component) LayoutNode {
	c.serialize()
	n := LayoutNode{
		ID:         c.OwnerID(),
		Factory:    c.factoryName,
		CustomName: c.customName,
		LoadType:   string(c.loadType),
		Locked:     c.locked,
		Preferred:  c.preferred,
		ForbidUse:  c.forbidUse,
		FillWidth:  c.fillWidth,
		FillHeight: c.fillHeight,
		WindowKey:  c.windowKey,
	}
	if len(c.props) > 0 {
		n.Properties = maps.Clone(c.props)
	}
	if l, ok := LayoutOf(c); ok {
		n.Factory = LayoutFactoryName
		for _, child := range l.Children() {
			n.Children = append(n.Children, encodeNode(child))
		}
	}
	return n
}

// SaveLayout writes c's graph to path.
func SaveLayout(path string, c *Component) error {
	lf := EncodeLayout(c, LayoutName(path))
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode layout: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create layout directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write layout: %w", err)
	}
	logging.LifecycleDebug("Saved layout %s", path)
	return nil
}

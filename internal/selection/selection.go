// Package selection finds a widget instance able to serve a capability,
// creating one on demand when the caller allows it.
package selection

import (
	"fmt"
	"sort"

	"widgetrt/internal/logging"
	"widgetrt/internal/widget"
)

// Use says which instances a search may return and whether it may create one.
type Use int

const (
	// UseOpen considers every open instance and never creates.
	UseOpen Use = iota
	// UseOpenStandalone considers open instances outside layouts and never
	// creates.
	UseOpenStandalone
	// UseNone considers no instances and never creates.
	UseNone
	// UseAny considers every open instance and creates one if none qualifies.
	UseAny
	// UseNew always creates.
	UseNew
)

func (u Use) String() string {
	switch u {
	case UseOpen:
		return "open"
	case UseOpenStandalone:
		return "open-standalone"
	case UseNone:
		return "none"
	case UseAny:
		return "any"
	case UseNew:
		return "new"
	default:
		return fmt.Sprintf("Use(%d)", int(u))
	}
}

// ParseUse parses the String form of a Use.
func ParseUse(s string) (Use, error) {
	for u := UseOpen; u <= UseNew; u++ {
		if u.String() == s {
			return u, nil
		}
	}
	return 0, fmt.Errorf("selection: unknown use %q", s)
}

func (u Use) searchesOpen() bool {
	return u == UseOpen || u == UseOpenStandalone || u == UseAny
}

func (u Use) creates() bool {
	return u == UseAny || u == UseNew
}

// Predicate matches factory descriptors. Instances match through the
// descriptor of their factory.
type Predicate func(widget.Descriptor) bool

// HasFeature matches descriptors declaring a capability tag.
func HasFeature(tag string) Predicate {
	return func(d widget.Descriptor) bool { return d.HasFeature(tag) }
}

// Named matches a factory by identity or display name.
func Named(name string) Predicate {
	return func(d widget.Descriptor) bool { return d.Name == name || d.DisplayName == name }
}

// All matches descriptors matching every predicate.
func All(preds ...Predicate) Predicate {
	return func(d widget.Descriptor) bool {
		for _, p := range preds {
			if !p(d) {
				return false
			}
		}
		return true
	}
}

// Any matches every descriptor.
func Any() Predicate {
	return func(widget.Descriptor) bool { return true }
}

// Place positions a freshly created instance, typically in a window or
// layout container. It runs before the instance is loaded.
type Place func(*widget.Component)

// Selector answers Find queries against an Env. Find runs on the main loop.
type Selector struct {
	env      *widget.Env
	fallback *widget.Factory
}

// Option configures a Selector.
type Option func(*Selector)

// WithFallback sets the factory used when a search may create an instance but
// no registered factory matches, e.g. an "empty" widget.
func WithFallback(f *widget.Factory) Option {
	return func(s *Selector) { s.fallback = f }
}

// New returns a Selector over env.
func New(env *widget.Env, opts ...Option) *Selector {
	s := &Selector{env: env}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Find returns the best open instance matching pred, or, when use allows
// it, a new instance from the best matching factory. Returns nil when
// nothing qualifies.
func (s *Selector) Find(pred Predicate, use Use, place Place) *widget.Component {
	if pred == nil {
		pred = Any()
	}
	log := logging.Get(logging.CategorySelection).With("use", use.String())

	var candidates []*widget.Component
	if use.searchesOpen() {
		candidates = s.openCandidates(pred, use == UseOpenStandalone)
	}

	// Computed lazily: only needed when there is something to restrict.
	if len(candidates) > 0 {
		if pf := s.preferredFactory(pred); pf != nil {
			candidates = restrictTo(candidates, pf.DisplayName())
			log.Debug("Restricted to preferred factory %s: %d candidates", pf.DisplayName(), len(candidates))
		}
	}

	if c := pick(candidates); c != nil {
		log.Debug("Found open instance %s (%s)", c.OwnerID(), c.FactoryName())
		return c
	}
	if !use.creates() {
		return nil
	}

	f := s.bestFactory(pred)
	if f == nil {
		f = s.fallback
	}
	if f == nil {
		log.Debug("No factory matches and no fallback is set")
		return nil
	}

	c := f.Create(s.env)
	c.SetLoadType(widget.LoadAuto)
	if place != nil {
		place(c)
	}
	if _, err := c.Load(); err != nil {
		logging.Get(logging.CategorySelection).Warn("Created instance %s could not load: %v", c.OwnerID(), err)
		return nil
	}
	logging.Selection("Created %s from %s", c.OwnerID(), f.Describe())
	return c
}

// openCandidates returns the open, usable instances matching pred in load
// order.
func (s *Selector) openCandidates(pred Predicate, standalone bool) []*widget.Component {
	var out []*widget.Component
	for _, c := range s.env.Instances.All() {
		switch {
		case c.ForbidUse(), c.IsLayout(), c.IsPlaceholder():
			continue
		case c.State() != widget.StateLoaded:
			continue
		case standalone && c.InLayout():
			continue
		}
		f := c.Factory()
		if f == nil || !pred(f.Descriptor()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// matchingFactories returns the registered, non-ignored widget factories
// matching pred, preferred ones first, then by identity name.
func (s *Selector) matchingFactories(pred Predicate) []*widget.Factory {
	reg := s.env.Registry
	var out []*widget.Factory
	for _, f := range reg.All() {
		if f.Kind() == widget.KindLayout || reg.IsIgnored(f) || !pred(f.Descriptor()) {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return reg.IsPreferred(out[i]) && !reg.IsPreferred(out[j])
	})
	return out
}

func (s *Selector) preferredFactory(pred Predicate) *widget.Factory {
	for _, f := range s.matchingFactories(pred) {
		if s.env.Registry.IsPreferred(f) {
			return f
		}
	}
	return nil
}

func (s *Selector) bestFactory(pred Predicate) *widget.Factory {
	fs := s.matchingFactories(pred)
	if len(fs) == 0 {
		return nil
	}
	return fs[0]
}

func restrictTo(cs []*widget.Component, displayName string) []*widget.Component {
	var out []*widget.Component
	for _, c := range cs {
		if c.DisplayName() == displayName {
			out = append(out, c)
		}
	}
	return out
}

func pick(cs []*widget.Component) *widget.Component {
	for _, c := range cs {
		if c.Preferred() {
			return c
		}
	}
	if len(cs) > 0 {
		return cs[0]
	}
	return nil
}

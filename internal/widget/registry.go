package widget

import (
	"sort"
	"sync"

	"widgetrt/internal/logging"
)

// EventType identifies a registry change.
type EventType int

const (
	EventRegistered EventType = iota
	EventReplaced
	EventUnregistered
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "registered"
	case EventReplaced:
		return "replaced"
	case EventUnregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}

// Event describes a registry change. Previous is set for EventReplaced.
type Event struct {
	Type     EventType
	Factory  *Factory
	Previous *Factory
}

// Registry maps identity names to factories.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*Factory
	byDisplay map[string]*Factory
	preferred map[string]bool // by display name
	ignored   map[string]bool // by display name

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*Factory),
		byDisplay: make(map[string]*Factory),
		preferred: make(map[string]bool),
		ignored:   make(map[string]bool),
		subs:      make(map[int]func(Event)),
	}
}

// Register inserts f, replacing any factory with the same identity name.
// A replaced compiled factory is evicted: the registry drops its reference
// to the old load context. Components built from it keep their own.
func (r *Registry) Register(f *Factory) {
	r.mu.Lock()
	prev := r.byName[f.Name()]
	r.byName[f.Name()] = f
	if prev != nil && prev.DisplayName() != f.DisplayName() && r.byDisplay[prev.DisplayName()] == prev {
		r.reindexDisplayLocked(prev.DisplayName(), prev)
	}
	r.byDisplay[f.DisplayName()] = f
	r.mu.Unlock()

	ev := Event{Type: EventRegistered, Factory: f}
	if prev != nil && prev != f {
		ev = Event{Type: EventReplaced, Factory: f, Previous: prev}
		prev.release()
		logging.Registry("Replaced factory %s", f.Describe())
	} else {
		logging.Registry("Registered factory %s", f.Describe())
	}
	r.emit(ev)
}

// Unregister removes f by identity name. No-op if f is not the registered
// factory for its name.
func (r *Registry) Unregister(f *Factory) {
	r.mu.Lock()
	cur, ok := r.byName[f.Name()]
	if !ok || cur != f {
		r.mu.Unlock()
		return
	}
	delete(r.byName, f.Name())
	if r.byDisplay[f.DisplayName()] == f {
		r.reindexDisplayLocked(f.DisplayName(), f)
	}
	r.mu.Unlock()

	f.release()
	logging.Registry("Unregistered factory %s", f.Name())
	r.emit(Event{Type: EventUnregistered, Factory: f})
}

// reindexDisplayLocked points the display index for name at another factory
// with that display name, or removes it.
func (r *Registry) reindexDisplayLocked(name string, gone *Factory) {
	delete(r.byDisplay, name)
	var best *Factory
	for _, f := range r.byName {
		if f != gone && f.DisplayName() == name && (best == nil || f.Name() < best.Name()) {
			best = f
		}
	}
	if best != nil {
		r.byDisplay[name] = best
	}
}

// ByName returns the factory registered under identity name.
func (r *Registry) ByName(name string) *Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// ByDisplayName returns the most recently registered factory with the
// display name.
func (r *Registry) ByDisplayName(name string) *Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byDisplay[name]
}

// WithCapability returns the compiled factories declaring tag, sorted by
// identity name. No widget is instantiated.
func (r *Registry) WithCapability(tag string) []*Factory {
	r.mu.RLock()
	var out []*Factory
	for _, f := range r.byName {
		if f.Kind() == KindCompiled && f.desc.HasFeature(tag) {
			out = append(out, f)
		}
	}
	r.mu.RUnlock()
	sortFactories(out)
	return out
}

// All returns every factory sorted by identity name.
func (r *Registry) All() []*Factory {
	r.mu.RLock()
	out := make([]*Factory, 0, len(r.byName))
	for _, f := range r.byName {
		out = append(out, f)
	}
	r.mu.RUnlock()
	sortFactories(out)
	return out
}

// Len returns the number of registered factories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Subscribe registers fn for registry events and returns a func that
// removes it. fn runs on the goroutine that changed the registry.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) emit(ev Event) {
	r.subMu.Lock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id])
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// SetPreferred marks a display name as preferred during selection.
func (r *Registry) SetPreferred(displayName string, preferred bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if preferred {
		r.preferred[displayName] = true
	} else {
		delete(r.preferred, displayName)
	}
}

// SetIgnored marks a display name as never selected automatically.
func (r *Registry) SetIgnored(displayName string, ignored bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ignored {
		r.ignored[displayName] = true
	} else {
		delete(r.ignored, displayName)
	}
}

// IsPreferred reports whether the factory's display name is preferred.
func (r *Registry) IsPreferred(f *Factory) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preferred[f.DisplayName()]
}

// IsIgnored reports whether the factory's display name is ignored.
func (r *Registry) IsIgnored(f *Factory) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ignored[f.DisplayName()]
}

func sortFactories(fs []*Factory) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].Name() < fs[j].Name() })
}

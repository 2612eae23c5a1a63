// Package binding wires widget outputs to widget inputs across instances.
//
// Outputs are addressed by a stable id "<ownerID>:<name>". Inputs subscribe to
// any number of outputs; Output.Set pushes the value to every bound input.
// Bindings that cannot be made yet (the producer is not loaded, or has not
// been compiled) are kept as pending requests and retried by Reconcile.
package binding

import (
	"sort"
	"strings"
	"sync"
)

// OutputID returns the stable id of an owner's named output.
func OutputID(ownerID, name string) string {
	return ownerID + ":" + name
}

// SplitOutputID splits an output id into owner and name.
func SplitOutputID(id string) (ownerID, name string, ok bool) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// Output is a named value producer.
type Output struct {
	id    string
	owner string
	name  string

	mu          sync.Mutex
	value       any
	subscribers []*Input
}

// NewOutput creates an output owned by ownerID.
func NewOutput(ownerID, name string) *Output {
	return &Output{id: OutputID(ownerID, name), owner: ownerID, name: name}
}

// ID returns "<ownerID>:<name>".
func (o *Output) ID() string { return o.id }

// Owner returns the owning instance id.
func (o *Output) Owner() string { return o.owner }

// Name returns the output name.
func (o *Output) Name() string { return o.name }

// Value returns the last value set.
func (o *Output) Value() any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set stores v and pushes it to every bound input.
func (o *Output) Set(v any) {
	o.mu.Lock()
	o.value = v
	subs := append([]*Input(nil), o.subscribers...)
	o.mu.Unlock()

	for _, in := range subs {
		in.deliver(v)
	}
}

func (o *Output) subscribe(in *Input) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.subscribers {
		if s == in {
			return
		}
	}
	o.subscribers = append(o.subscribers, in)
}

func (o *Output) unsubscribe(in *Input) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.subscribers {
		if s == in {
			o.subscribers = append(o.subscribers[:i], o.subscribers[i+1:]...)
			return
		}
	}
}

// detach drops every subscriber, unbinding them from o.
func (o *Output) detach() {
	o.mu.Lock()
	subs := o.subscribers
	o.subscribers = nil
	o.mu.Unlock()
	for _, in := range subs {
		in.forget(o)
	}
}

// Input is a named value consumer.
type Input struct {
	owner string
	name  string
	apply func(any)

	mu      sync.Mutex
	sources map[string]*Output
}

// NewInput creates an input owned by ownerID. apply may be nil.
func NewInput(ownerID, name string, apply func(any)) *Input {
	return &Input{owner: ownerID, name: name, apply: apply, sources: make(map[string]*Output)}
}

// Owner returns the owning instance id.
func (in *Input) Owner() string { return in.owner }

// Name returns the input name.
func (in *Input) Name() string { return in.name }

// Bind subscribes in to o and delivers o's current value when it has one.
// Binding an already bound output is a no-op.
func (in *Input) Bind(o *Output) {
	in.mu.Lock()
	if _, ok := in.sources[o.id]; ok {
		in.mu.Unlock()
		return
	}
	in.sources[o.id] = o
	in.mu.Unlock()

	o.subscribe(in)
	if v := o.Value(); v != nil {
		in.deliver(v)
	}
}

// Unbind removes the binding to the output with id.
func (in *Input) Unbind(id string) {
	in.mu.Lock()
	o, ok := in.sources[id]
	delete(in.sources, id)
	in.mu.Unlock()
	if ok {
		o.unsubscribe(in)
	}
}

// UnbindAll removes every binding.
func (in *Input) UnbindAll() {
	in.mu.Lock()
	srcs := in.sources
	in.sources = make(map[string]*Output)
	in.mu.Unlock()
	for _, o := range srcs {
		o.unsubscribe(in)
	}
}

// Sources returns the bound output ids, sorted.
func (in *Input) Sources() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	ids := make([]string, 0, len(in.sources))
	for id := range in.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (in *Input) forget(o *Output) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if cur, ok := in.sources[o.id]; ok && cur == o {
		delete(in.sources, o.id)
	}
}

func (in *Input) deliver(v any) {
	if in.apply != nil {
		in.apply(v)
	}
}

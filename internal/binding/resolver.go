package binding

import (
	"sort"
	"sync"
	"time"

	"widgetrt/internal/debounce"
	"widgetrt/internal/logging"
	"widgetrt/internal/mainloop"
)

// DefaultDebounce is the reconciliation debounce window.
const DefaultDebounce = 100 * time.Millisecond

// Request asks for an input to be bound to a list of outputs.
type Request struct {
	ConsumerID string
	Input      string
	OutputIDs  []string
}

type requestKey struct {
	consumer string
	input    string
}

type registration struct {
	outputs map[string]*Output
	inputs  map[string]*Input
}

// Resolver tracks registered outputs and inputs and resolves pending binding
// requests. Reconciliation passes are debounced and run on the executor.
type Resolver struct {
	mu      sync.Mutex
	owners  map[string]*registration
	globals map[string]*Output
	pending map[requestKey]Request

	exec      mainloop.Executor
	debouncer *debounce.Debouncer[struct{}]
	onPass    func(completed int)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPassHook registers fn to be called after every debounced pass.
func WithPassHook(fn func(completed int)) Option {
	return func(r *Resolver) { r.onPass = fn }
}

// NewResolver creates a resolver whose debounced passes run on exec.
// A non-positive window uses DefaultDebounce.
func NewResolver(exec mainloop.Executor, window time.Duration, opts ...Option) *Resolver {
	if exec == nil {
		exec = mainloop.Immediate{}
	}
	if window <= 0 {
		window = DefaultDebounce
	}
	r := &Resolver{
		owners:  make(map[string]*registration),
		globals: make(map[string]*Output),
		pending: make(map[requestKey]Request),
		exec:    exec,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.debouncer = debounce.New(window, func(struct{}) {
		n := r.Reconcile()
		if r.onPass != nil {
			r.onPass(n)
		}
	}, debounce.WithExecutor(exec.Post))
	return r
}

// Register records the outputs and inputs of an owner, replacing any previous
// registration of that owner.
func (r *Resolver) Register(ownerID string, outputs []*Output, inputs []*Input) {
	r.Unregister(ownerID)

	reg := &registration{
		outputs: make(map[string]*Output, len(outputs)),
		inputs:  make(map[string]*Input, len(inputs)),
	}
	for _, o := range outputs {
		reg.outputs[o.ID()] = o
	}
	for _, in := range inputs {
		reg.inputs[in.Name()] = in
	}

	r.mu.Lock()
	r.owners[ownerID] = reg
	r.mu.Unlock()

	logging.BindingDebug("Registered %s: %d outputs, %d inputs", ownerID, len(outputs), len(inputs))
}

// Unregister removes an owner's outputs and inputs and drops its pending
// requests. Inputs of other owners that were bound to its outputs get a
// pending request for the same output id, so a successor that registers the
// same id is rebound on the next pass.
func (r *Resolver) Unregister(ownerID string) {
	r.mu.Lock()
	reg, ok := r.owners[ownerID]
	if !ok {
		for k := range r.pending {
			if k.consumer == ownerID {
				delete(r.pending, k)
			}
		}
		r.mu.Unlock()
		return
	}
	delete(r.owners, ownerID)
	for k := range r.pending {
		if k.consumer == ownerID {
			delete(r.pending, k)
		}
	}

	type orphan struct {
		in *Input
		id string
	}
	var orphans []orphan
	for id, o := range reg.outputs {
		o.mu.Lock()
		for _, in := range o.subscribers {
			if in.owner != ownerID {
				orphans = append(orphans, orphan{in: in, id: id})
			}
		}
		o.mu.Unlock()
	}
	for _, orph := range orphans {
		key := requestKey{consumer: orph.in.owner, input: orph.in.name}
		req, exists := r.pending[key]
		if !exists {
			req = Request{ConsumerID: key.consumer, Input: key.input}
		}
		if !containsID(req.OutputIDs, orph.id) {
			req.OutputIDs = append(req.OutputIDs, orph.id)
		}
		r.pending[key] = req
	}
	r.mu.Unlock()

	for _, o := range reg.outputs {
		o.detach()
	}
	for _, in := range reg.inputs {
		in.UnbindAll()
	}
	logging.BindingDebug("Unregistered %s (%d consumers orphaned)", ownerID, len(orphans))
}

// AddGlobal makes an output always available for binding.
func (r *Resolver) AddGlobal(o *Output) {
	r.mu.Lock()
	r.globals[o.ID()] = o
	r.mu.Unlock()
}

// Request adds or replaces the pending request for (consumer, input).
func (r *Resolver) Request(req Request) {
	key := requestKey{consumer: req.ConsumerID, input: req.Input}
	req.OutputIDs = append([]string(nil), req.OutputIDs...)

	r.mu.Lock()
	if len(req.OutputIDs) == 0 {
		delete(r.pending, key)
	} else {
		r.pending[key] = req
	}
	r.mu.Unlock()
}

// RequestReconciliation schedules a debounced Reconcile on the executor.
func (r *Resolver) RequestReconciliation() {
	r.debouncer.Fire(struct{}{})
}

// Stop cancels any scheduled pass.
func (r *Resolver) Stop() {
	r.debouncer.Stop()
}

// Reconcile binds every pending request whose outputs are available and
// removes the requests that were satisfied completely. Requests with missing
// outputs, or whose consumer input is not registered, stay pending. Returns
// the number of requests completed.
func (r *Resolver) Reconcile() int {
	type bind struct {
		in  *Input
		out *Output
	}
	var binds []bind
	completed := 0

	r.mu.Lock()
	available := make(map[string]*Output, len(r.globals))
	for id, o := range r.globals {
		available[id] = o
	}
	for _, reg := range r.owners {
		for id, o := range reg.outputs {
			available[id] = o
		}
	}

	for key, req := range r.pending {
		reg, ok := r.owners[key.consumer]
		if !ok {
			continue
		}
		in, ok := reg.inputs[key.input]
		if !ok {
			continue
		}
		all := true
		for _, id := range req.OutputIDs {
			if o, ok := available[id]; ok {
				binds = append(binds, bind{in: in, out: o})
			} else {
				all = false
			}
		}
		if all {
			delete(r.pending, key)
			completed++
		}
	}
	remaining := len(r.pending)
	r.mu.Unlock()

	for _, b := range binds {
		b.in.Bind(b.out)
	}

	if completed > 0 || len(binds) > 0 {
		logging.Binding("Reconciled: %d bindings, %d requests completed, %d pending", len(binds), completed, remaining)
		logging.Audit(logging.AuditEvent{
			EventType: logging.AuditBindingDone,
			Success:   remaining == 0,
			Message:   "binding pass",
			Fields:    map[string]interface{}{"bound": len(binds), "completed": completed, "pending": remaining},
		})
	}
	return completed
}

// Pending returns a snapshot of pending requests, ordered by consumer then input.
func (r *Resolver) Pending() []Request {
	r.mu.Lock()
	out := make([]Request, 0, len(r.pending))
	for _, req := range r.pending {
		req.OutputIDs = append([]string(nil), req.OutputIDs...)
		out = append(out, req)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConsumerID != out[j].ConsumerID {
			return out[i].ConsumerID < out[j].ConsumerID
		}
		return out[i].Input < out[j].Input
	})
	return out
}

// Output returns the registered or global output with id.
func (r *Resolver) Output(id string) (*Output, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.globals[id]; ok {
		return o, true
	}
	if owner, _, ok := SplitOutputID(id); ok {
		if reg, ok := r.owners[owner]; ok {
			o, ok := reg.outputs[id]
			return o, ok
		}
	}
	return nil, false
}

// Input returns a registered input.
func (r *Resolver) Input(ownerID, name string) (*Input, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.owners[ownerID]
	if !ok {
		return nil, false
	}
	in, ok := reg.inputs[name]
	return in, ok
}

// Sources returns every output id an input is bound to or waiting for,
// sorted. This is what gets persisted for the input.
func (r *Resolver) Sources(ownerID, input string) []string {
	seen := map[string]struct{}{}
	if in, ok := r.Input(ownerID, input); ok {
		for _, id := range in.Sources() {
			seen[id] = struct{}{}
		}
	}
	r.mu.Lock()
	if req, ok := r.pending[requestKey{consumer: ownerID, input: input}]; ok {
		for _, id := range req.OutputIDs {
			seen[id] = struct{}{}
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

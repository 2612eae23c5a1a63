package binding

import (
	"sort"

	"widgetrt/pkg/behavior"
)

// Ports collects the outputs and inputs a widget declares while loading.
// It implements behavior.Ports.
type Ports struct {
	owner   string
	outputs map[string]*Output
	inputs  map[string]*Input
}

var _ behavior.Ports = (*Ports)(nil)
var _ behavior.Output = (*Output)(nil)

// NewPorts returns an empty collector for ownerID.
func NewPorts(ownerID string) *Ports {
	return &Ports{
		owner:   ownerID,
		outputs: make(map[string]*Output),
		inputs:  make(map[string]*Input),
	}
}

// Output declares (or returns the already declared) output called name.
func (p *Ports) Output(name string) behavior.Output {
	if o, ok := p.outputs[name]; ok {
		return o
	}
	o := NewOutput(p.owner, name)
	p.outputs[name] = o
	return o
}

// Input declares an input called name. Declaring it again replaces apply.
func (p *Ports) Input(name string, apply func(value any)) {
	p.inputs[name] = NewInput(p.owner, name, apply)
}

// Outputs returns the declared outputs ordered by name.
func (p *Ports) Outputs() []*Output {
	out := make([]*Output, 0, len(p.outputs))
	for _, o := range p.outputs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Inputs returns the declared inputs ordered by name.
func (p *Ports) Inputs() []*Input {
	in := make([]*Input, 0, len(p.inputs))
	for _, x := range p.inputs {
		in = append(in, x)
	}
	sort.Slice(in, func(i, j int) bool { return in[i].name < in[j].name })
	return in
}

// InputNames returns the declared input names, sorted.
func (p *Ports) InputNames() []string {
	names := make([]string, 0, len(p.inputs))
	for n := range p.inputs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

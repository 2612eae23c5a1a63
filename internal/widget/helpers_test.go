package widget

import (
	"errors"
	"maps"
	"testing"
	"time"

	"widgetrt/internal/binding"
	"widgetrt/internal/mainloop"
	"widgetrt/pkg/behavior"
)

// fakeBehavior records the order of lifecycle calls.
type fakeBehavior struct {
	name     string
	calls    []string
	config   map[string]string
	defaults map[string]string
	buildErr error
	panicIn  string
	closed   int
	outputs  []string
	inputs   []string
	received map[string][]any
	ports    behavior.Ports
}

func newFake(name string) *fakeBehavior {
	return &fakeBehavior{
		name:     name,
		config:   map[string]string{"font": "Sans 10", "color": "black"},
		defaults: map[string]string{"font": "Sans 10", "color": "black"},
		received: map[string][]any{},
	}
}

func (f *fakeBehavior) Build() (behavior.Root, error) {
	f.calls = append(f.calls, "build")
	if f.panicIn == "build" {
		panic("build exploded")
	}
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return "root:" + f.name, nil
}

func (f *fakeBehavior) Config() map[string]string   { return maps.Clone(f.config) }
func (f *fakeBehavior) Defaults() map[string]string { return maps.Clone(f.defaults) }

func (f *fakeBehavior) ApplyConfig(values map[string]string) error {
	f.calls = append(f.calls, "apply")
	if f.panicIn == "apply" {
		panic("apply exploded")
	}
	for k, v := range values {
		if _, known := f.defaults[k]; known {
			f.config[k] = v
		}
	}
	return nil
}

func (f *fakeBehavior) Close() error {
	f.closed++
	return nil
}

func (f *fakeBehavior) DeclareIO(p behavior.Ports) {
	f.ports = p
	for _, o := range f.outputs {
		p.Output(o)
	}
	for _, in := range f.inputs {
		name := in
		p.Input(name, func(v any) { f.received[name] = append(f.received[name], v) })
	}
}

// legacyBehavior restores fields after Build.
type legacyBehavior struct {
	fakeBehavior
}

func (l *legacyBehavior) RestoreFields(values map[string]string) error {
	l.calls = append(l.calls, "restore")
	maps.Copy(l.config, values)
	return nil
}

// plainBehavior implements only Build.
type plainBehavior struct{}

func (plainBehavior) Build() (behavior.Root, error) { return "plain", nil }

// slot is a one-child container.
type slot struct {
	child *Component
}

func (s *slot) ReplaceChild(old, new *Component) bool {
	if s.child != old {
		return false
	}
	s.child = new
	return true
}

func (s *slot) RemoveChild(c *Component) {
	if s.child == c {
		s.child = nil
	}
}

func testEnv(t *testing.T) *Env {
	t.Helper()
	// Passes are driven by calling Reconcile; the debounce never fires.
	r := binding.NewResolver(mainloop.Immediate{}, time.Hour)
	t.Cleanup(r.Stop)
	return NewEnv(r, t.TempDir())
}

// programmatic registers a factory handing out the fakes produced by mk.
func programmatic(env *Env, name string, mk func() behavior.Behavior, features ...string) *Factory {
	f := NewProgrammaticFactory(Descriptor{Name: name, DisplayName: name, Features: features}, Supplier(mk))
	env.Registry.Register(f)
	return f
}

var errBuild = errors.New("no audio device")

package widget

import (
	"sync"

	"github.com/google/uuid"
)

// Instances is the set of open (loaded) components, in load order.
type Instances struct {
	mu   sync.RWMutex
	list []*Component
}

// NewInstances returns an empty set.
func NewInstances() *Instances {
	return &Instances{}
}

func (s *Instances) add(c *Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.list {
		if x == c {
			return
		}
	}
	s.list = append(s.list, c)
}

func (s *Instances) remove(c *Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.list {
		if x == c {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return
		}
	}
}

// All returns the open components in load order.
func (s *Instances) All() []*Component {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Component(nil), s.list...)
}

// Len returns the number of open components.
func (s *Instances) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// Get returns the open component with id.
func (s *Instances) Get(id uuid.UUID) *Component {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.list {
		if c.id == id {
			return c
		}
	}
	return nil
}

// ByFactory returns the open components whose factory identity name is name.
func (s *Instances) ByFactory(name string) []*Component {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Component
	for _, c := range s.list {
		if c.factoryName == name {
			out = append(out, c)
		}
	}
	return out
}

// Focus marks c focused and clears the focus of every other component with
// the same window key.
func (s *Instances) Focus(c *Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.list {
		if x != c && x.windowKey == c.windowKey {
			x.focused = false
		}
	}
	c.focused = true
}

// Focused returns the focused component for a window key.
func (s *Instances) Focused(windowKey string) *Component {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.list {
		if c.windowKey == windowKey && c.focused {
			return c
		}
	}
	return nil
}

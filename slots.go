package mlt

import "strings"

// DefaultSlot is the name under which a component's un-named body content is
// registered.
const DefaultSlot = "slot"

// Slot is a deferred content producer. The producer runs against the scope
// that was active where the slot was defined, not where it is rendered, and
// its output is cached after the first render.
type Slot struct {
	name    string
	produce func() (string, error)
	done    bool
	content string
}

// NewSlot creates a named slot backed by a producer.
func NewSlot(name string, produce func() (string, error)) *Slot {
	return &Slot{name: name, produce: produce}
}

// Name returns the slot name.
func (s *Slot) Name() string {
	return s.name
}

// Render produces the slot content, invoking the producer at most once.
func (s *Slot) Render() (string, error) {
	if s.done {
		return s.content, nil
	}
	out, err := s.produce()
	if err != nil {
		return "", err
	}
	s.content = out
	s.done = true
	return out, nil
}

// SlotMap maps slot names to producers for one component invocation.
type SlotMap struct {
	slots map[string]*Slot
}

// NewSlotMap creates an empty slot map.
func NewSlotMap() *SlotMap {
	return &SlotMap{slots: map[string]*Slot{}}
}

// Add registers a producer under a name, replacing any existing slot.
func (m *SlotMap) Add(name string, produce func() (string, error)) {
	m.slots[name] = NewSlot(name, produce)
}

// Get returns the named slot, or nil when absent.
func (m *SlotMap) Get(name string) *Slot {
	return m.slots[name]
}

// Default returns the default (body) slot, or nil when absent.
func (m *SlotMap) Default() *Slot {
	return m.slots[DefaultSlot]
}

// Has reports whether the named slot exists and produces non-whitespace
// content. A producer error counts as no content.
func (m *SlotMap) Has(name string) bool {
	s := m.slots[name]
	if s == nil {
		return false
	}
	out, err := s.Render()
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

// Names returns the registered slot names.
func (m *SlotMap) Names() []string {
	out := make([]string, 0, len(m.slots))
	for name := range m.slots {
		out = append(out, name)
	}
	return out
}

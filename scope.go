package mlt

// Frame is a single level of template variable bindings.
type Frame map[string]any

// Scope is a stack of variable frames. Only the top frame is visible to
// expression evaluation; entering a component or include pushes a new frame
// and leaving pops it, so sibling units never observe each other's bindings.
//
// A Scope is created per render call and threaded through execution; it is
// never shared between concurrent renders.
type Scope struct {
	frames []Frame
}

// NewScope creates a scope whose root frame holds the caller-supplied data.
func NewScope(root map[string]any) *Scope {
	base := Frame{}
	for k, v := range root {
		base[k] = v
	}
	return &Scope{frames: []Frame{base}}
}

// PushIsolated pushes a frame containing exactly the declared defaults
// overridden by explicitly supplied values. Presence decides the override:
// an explicit empty string or false still replaces a default. Nothing from
// the current frame leaks in.
func (s *Scope) PushIsolated(explicit map[string]any, defaults map[string]any) {
	frame := Frame{}
	for k, v := range defaults {
		frame[k] = v
	}
	for k, v := range explicit {
		frame[k] = v
	}
	s.frames = append(s.frames, frame)
}

// PushInherited pushes a frame seeded from the current frame's bindings,
// overridden by the supplied values. Used for simple includes.
func (s *Scope) PushInherited(extra map[string]any) {
	frame := Frame{}
	for k, v := range s.Current() {
		frame[k] = v
	}
	for k, v := range extra {
		frame[k] = v
	}
	s.frames = append(s.frames, frame)
}

// Pop removes the top frame. Popping the root frame is a no-op.
func (s *Scope) Pop() {
	if len(s.frames) > 1 {
		s.frames = s.frames[:len(s.frames)-1]
	}
}

// Current returns the top frame.
func (s *Scope) Current() Frame {
	return s.frames[len(s.frames)-1]
}

// Get returns the named binding from the top frame, or def if absent.
func (s *Scope) Get(name string, def any) any {
	if v, ok := s.Current()[name]; ok {
		return v
	}
	return def
}

// Lookup returns the named binding from the top frame.
func (s *Scope) Lookup(name string) (any, bool) {
	v, ok := s.Current()[name]
	return v, ok
}

// Set writes a binding into the top frame.
func (s *Scope) Set(name string, v any) {
	s.Current()[name] = v
}

// Has reports whether the top frame holds the named binding.
func (s *Scope) Has(name string) bool {
	_, ok := s.Current()[name]
	return ok
}

// Reset discards every frame above the root.
func (s *Scope) Reset() {
	s.frames = s.frames[:1]
}

// Depth returns the number of frames on the stack.
func (s *Scope) Depth() int {
	return len(s.frames)
}

// Capture returns a detached copy of the scope with the top frame cloned.
// Slot producers capture their definition scope this way, so later writes in
// sibling scopes do not show through when the slot is finally rendered.
func (s *Scope) Capture() *Scope {
	top := Frame{}
	for k, v := range s.Current() {
		top[k] = v
	}
	return &Scope{frames: []Frame{top}}
}

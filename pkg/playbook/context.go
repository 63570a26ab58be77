package playbook

import "strings"

// ContextStack tracks the naming context of the currently executing task
// or hook. It is used for error messages and templating and is mutated
// only by the single task or hook executing at any time; the engine
// supports one playbook run per instance.
type ContextStack struct {
	names []string
}

// NewContextStack creates an empty context stack.
func NewContextStack() *ContextStack {
	return &ContextStack{}
}

// Push adds a naming context to the top of the stack.
func (s *ContextStack) Push(name string) {
	s.names = append(s.names, name)
}

// Pop removes the top naming context. Popping an empty stack is a no-op.
func (s *ContextStack) Pop() {
	if len(s.names) == 0 {
		return
	}
	s.names = s.names[:len(s.names)-1]
}

// Current returns the top naming context, or an empty string when no
// context is active.
func (s *ContextStack) Current() string {
	if len(s.names) == 0 {
		return ""
	}
	return s.names[len(s.names)-1]
}

// Path returns the full context path from outermost to innermost,
// joined with "/".
func (s *ContextStack) Path() string {
	return strings.Join(s.names, "/")
}

// Depth returns the number of active contexts.
func (s *ContextStack) Depth() int {
	return len(s.names)
}

// In pushes name, runs fn, and restores the previous top on every exit
// path, including when fn returns an error or panics.
func (s *ContextStack) In(name string, fn func() error) error {
	s.Push(name)
	defer s.Pop()
	return fn()
}

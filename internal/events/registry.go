package events

import (
	"slices"
	"sync"
)

// Registry holds in-process handlers grouped by event name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]HandlerFunc)}
}

// Register adds a handler for event.
func (r *Registry) Register(event string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], handler)
}

// Events returns the event names that have handlers, sorted.
func (r *Registry) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for ev := range r.handlers {
		out = append(out, ev)
	}
	slices.Sort(out)
	return out
}

// HandlersFor returns the handlers registered for event.
func (r *Registry) HandlersFor(event string) []HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.handlers[event])
}

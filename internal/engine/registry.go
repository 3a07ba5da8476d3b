package engine

import (
	"context"
	"fmt"
	"sync"

	"courier-go/internal/domain"
)

// Handler processes the body of one inbound message. The header
// accumulator lets it shape the compensating message; a non-nil result
// becomes that message's body. Handlers must tolerate duplicate
// invocations for the same message id.
type Handler func(ctx context.Context, body []byte, header *domain.CallbackHeader) ([]byte, error)

// Registry maps message names to their subscribers. It is populated at
// startup and safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Subscribe registers a handler for a message name.
// Registering the same name twice is a configuration error.
func (r *Registry) Subscribe(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("subscribe: empty message name")
	}
	if h == nil {
		return fmt.Errorf("subscribe: nil handler for %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("subscribe: handler already registered for %q", name)
	}
	r.handlers[name] = h

	return nil
}

// Lookup resolves the handler for a message name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered message names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// Router dispatches each request to the sender registered for its Type.
type Router struct {
	mu       sync.RWMutex
	senders  map[string]Sender
	fallback Sender
}

// NewRouter creates an empty router. Requests whose type has no sender go
// to fallback; with a nil fallback they fail.
func NewRouter(fallback Sender) *Router {
	return &Router{
		senders:  make(map[string]Sender),
		fallback: fallback,
	}
}

// Register adds a sender under its Name.
func (r *Router) Register(s Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.senders[name]; exists {
		return fmt.Errorf("sender %q already registered", name)
	}
	r.senders[name] = s
	return nil
}

// Get returns the sender registered for a type.
func (r *Router) Get(name string) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.senders[name]
	if !ok {
		return nil, fmt.Errorf("sender %q not found", name)
	}
	return s, nil
}

// List returns the registered types, sorted.
func (r *Router) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.senders))
	for name := range r.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers req through the sender for req.Type.
func (r *Router) Send(ctx context.Context, req model.NotificationRequest) error {
	s, err := r.Get(req.Type)
	if err != nil {
		if r.fallback == nil {
			return fmt.Errorf("route notification %s: %w", req.ID, err)
		}
		s = r.fallback
	}
	return s.Send(ctx, req)
}

package jobs

import (
	"context"
	"sort"
	"sync"

	"handoverphotos/internal/stage"
)

// Registry maps job types to the handlers that execute them.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]stage.Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]stage.Handler)}
}

// Register installs handler for jobType, replacing any previous handler.
func (r *Registry) Register(jobType string, handler stage.Handler) {
	if r == nil || jobType == "" || handler == nil {
		return
	}
	r.mu.Lock()
	r.handlers[jobType] = handler
	r.mu.Unlock()
}

// Lookup returns the handler for jobType.
func (r *Registry) Lookup(jobType string) (stage.Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists registered job types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Health runs every handler's health check.
func (r *Registry) Health(ctx context.Context) map[string]stage.Health {
	out := make(map[string]stage.Health)
	for _, jobType := range r.Types() {
		h, ok := r.Lookup(jobType)
		if !ok {
			continue
		}
		out[jobType] = h.HealthCheck(ctx).Named(jobType)
	}
	return out
}

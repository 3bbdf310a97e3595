package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry maps queue names to backends. It is built once at startup and
// passed to the subscriber and the worker pool.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend under name. Names are unique.
func (r *Registry) Register(name string, b Backend) error {
	if name == "" || b == nil {
		return fmt.Errorf("register queue %q: invalid arguments", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("register queue %q: already registered", name)
	}
	r.backends[name] = b
	return nil
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return b, nil
}

// Enqueue adds a job to the named queue.
func (r *Registry) Enqueue(ctx context.Context, queueName, jobName string, payload Payload, opts Options) (string, error) {
	b, err := r.Get(queueName)
	if err != nil {
		return "", err
	}
	return b.Enqueue(ctx, jobName, payload, opts)
}

// Names returns registered queue names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// WatchDepth calls report with the counts of every queue each interval
// until ctx is done.
func (r *Registry) WatchDepth(ctx context.Context, interval time.Duration, report func(name string, c Counts, err error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, name := range r.Names() {
			b, err := r.Get(name)
			if err != nil {
				continue
			}
			c, err := b.Counts(ctx)
			report(name, c, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var _ Enqueuer = (*Registry)(nil)

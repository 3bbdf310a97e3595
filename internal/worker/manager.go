package worker

import (
	"fmt"
	"sync"
	"time"
)

// QueueSpec describes consumers for one queue.
type QueueSpec struct {
	Name        string
	Process     ProcessFunc
	Concurrency int
	Lease       time.Duration
}

// ManagerOptions configures the pool built by Manager.Init.
type ManagerOptions struct {
	Pool   PoolOptions
	Queues []QueueSpec
}

// Manager owns the process-wide worker pool.
type Manager struct {
	mu   sync.Mutex
	pool *Pool
}

// Init builds and starts the pool on the first call. Later calls return the
// same pool and ignore opts.
func (m *Manager) Init(opts ManagerOptions) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pool != nil {
		return m.pool, nil
	}

	pool := NewPool(opts.Pool)
	for _, spec := range opts.Queues {
		if err := pool.Register(spec.Name, spec.Process, spec.Concurrency, spec.Lease); err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("init worker pool: %w", err)
		}
	}

	m.pool = pool
	return pool, nil
}

// Pool returns the initialized pool, or nil.
func (m *Manager) Pool() *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool
}

// Close closes the pool if it was initialized.
func (m *Manager) Close() error {
	m.mu.Lock()
	pool := m.pool
	m.mu.Unlock()

	if pool == nil {
		return nil
	}
	return pool.Close()
}

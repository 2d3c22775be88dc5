// Package coordinator serializes test sessions that share a server address, a data store
// and a browser endpoint. Only one session may hold the lease at any time.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	defaultOnce        sync.Once
	defaultCoordinator *Coordinator
)

// Default returns the process-wide coordinator.
func Default() *Coordinator {
	defaultOnce.Do(func() {
		defaultCoordinator = New()
	})
	return defaultCoordinator
}

// Coordinator hands out a single lease at a time. Waiters are served in FIFO order.
type Coordinator struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	holder   string
	acquired time.Time
}

// New creates a coordinator. Most callers should use Default so that all harnesses in a
// test binary share one gate.
func New() *Coordinator {
	return &Coordinator{
		sem: semaphore.NewWeighted(1),
	}
}

// Acquire blocks until no other session holds the lease or ctx is done.
// The returned lease must be released, typically with defer.
func (c *Coordinator) Acquire(ctx context.Context, name string) (*Lease, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for execution slot for %s: %w", name, err)
	}

	c.mu.Lock()
	c.holder = name
	c.acquired = time.Now()
	c.mu.Unlock()

	return &Lease{coordinator: c, name: name}, nil
}

// Holder returns the name of the session currently holding the lease.
func (c *Coordinator) Holder() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder, c.holder != ""
}

// HeldFor returns for how long the current lease has been held, or 0 if it is free.
func (c *Coordinator) HeldFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holder == "" {
		return 0
	}
	return time.Since(c.acquired)
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.holder = ""
	c.acquired = time.Time{}
	c.mu.Unlock()

	c.sem.Release(1)
}

// Lease is the right to run one session.
type Lease struct {
	coordinator *Coordinator
	name        string
	once        sync.Once
}

// Name returns the session name the lease was acquired for.
func (l *Lease) Name() string {
	return l.name
}

// Release frees the lease. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(l.coordinator.release)
}

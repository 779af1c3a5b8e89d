// Package lock provides mutually-exclusive, TTL-bounded execution of a
// callback keyed by an arbitrary string. It carries no business knowledge:
// callers pick the key granularity (e.g. one key per buyer/target pair).
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when the key cannot be acquired within the
// configured acquisition timeout. Callers should treat it as retryable.
var ErrTimeout = errors.New("lock acquisition timed out")

type entry struct {
	sem  chan struct{}
	refs int
}

// Manager serializes callbacks per key. Entries are reference-counted and
// removed once the last waiter is gone, so the key space stays bounded.
type Manager struct {
	mu             sync.Mutex
	entries        map[string]*entry
	acquireTimeout time.Duration
	holdCeiling    time.Duration
}

// NewManager builds a Manager. acquireTimeout bounds the wait for the key;
// holdCeiling, when positive, is applied as a deadline on the context handed
// to the callback so that nothing inside the lock can block indefinitely.
func NewManager(acquireTimeout, holdCeiling time.Duration) *Manager {
	return &Manager{
		entries:        make(map[string]*entry),
		acquireTimeout: acquireTimeout,
		holdCeiling:    holdCeiling,
	}
}

func (m *Manager) checkout(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Manager) checkin(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// WithLock runs fn while holding the key. The lock is released on every exit
// path, including a panic inside fn. Acquisition failure after the timeout
// yields ErrTimeout without fn ever running.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := m.checkout(key)
	defer m.checkin(key, e)

	timer := time.NewTimer(m.acquireTimeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()

	if m.holdCeiling > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.holdCeiling)
		defer cancel()
	}

	return fn(ctx)
}

// Package locking provides named mutual exclusion with bounded waits.
//
// A Manager hands out one lock per resource name. Waiters park on a
// channel rather than polling, and give up after the configured timeout
// with a LOCK_TIMEOUT fault so a stuck holder cannot wedge every caller
// behind it.
package locking

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// DefaultTimeout bounds lock acquisition when the Manager is built with
// a non-positive timeout.
const DefaultTimeout = 5 * time.Second

// Manager coordinates access to named resources. The zero value is not
// usable; construct with NewManager.
type Manager struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	timeout time.Duration
}

// NewManager creates a Manager whose Acquire calls wait at most timeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		slots:   make(map[string]chan struct{}),
		timeout: timeout,
	}
}

// Timeout reports the configured acquisition bound.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

func (m *Manager) slot(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.slots[name]
	if !ok {
		ch = make(chan struct{}, 1)
		m.slots[name] = ch
	}
	return ch
}

// Acquire takes the lock for name, waiting until the holder releases,
// the timeout elapses, or ctx is cancelled. On success the returned
// function releases the lock; it is safe to call more than once.
func (m *Manager) Acquire(ctx context.Context, name string) (func(), error) {
	ch := m.slot(name)

	select {
	case ch <- struct{}{}:
	default:
		// Contended; park with a deadline.
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		select {
		case ch <- struct{}{}:
		case <-timer.C:
			return nil, fault.New(fault.CodeLockTimeout, "locking.Acquire",
				"lock %q not acquired within %s", name, m.timeout)
		case <-ctx.Done():
			return nil, fault.Wrap(fault.CodeLockTimeout, "locking.Acquire", ctx.Err())
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() { <-ch })
	}
	return release, nil
}

// TryAcquire takes the lock for name only if it is free.
func (m *Manager) TryAcquire(name string) (func(), bool) {
	ch := m.slot(name)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, true
	default:
		return nil, false
	}
}

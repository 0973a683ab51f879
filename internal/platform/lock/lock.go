// Package lock serializes runs of a named critical section across instances.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned when another owner currently holds the lock.
var ErrHeld = errors.New("lock held by another owner")

// Locker hands out exclusive leases on a key. Acquire never blocks waiting
// for the current holder.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is one successful acquisition.
type Lease interface {
	Release(ctx context.Context) error
}

// Local is an in-process Locker used when redis is not configured.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an empty in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(_ context.Context, key string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}
	return &localLease{owner: l, key: key}, nil
}

type localLease struct {
	owner *Local
	key   string
	once  sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.key)
		l.owner.mu.Unlock()
	})
	return nil
}

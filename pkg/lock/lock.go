// Package lock provides session-scoped mutual exclusion. LocalLocker serializes
// callers inside one process; RedisLocker extends that to every instance that
// shares a Redis.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clubsched/internal/shared/apperrors"
	"clubsched/internal/shared/metrics"
)

// Unlock releases a lock obtained from a Locker. It is safe to call once.
type Unlock func()

// Locker hands out exclusive locks keyed by an arbitrary string.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Key builds the lock key for a scope and identifier, e.g. "waitlist:lock:<id>".
func Key(scope, id string) string {
	return scope + ":lock:" + id
}

type keyedMutex struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process keyed mutex. Entries are reference counted and
// dropped once no caller holds or waits on them.
type LocalLocker struct {
	mu      sync.Mutex
	keys    map[string]*keyedMutex
	wait    time.Duration
	metrics *metrics.Metrics
}

// NewLocalLocker creates a LocalLocker. wait bounds how long Lock blocks when the
// caller's context carries no deadline; zero means wait on the context only.
func NewLocalLocker(wait time.Duration, m *metrics.Metrics) *LocalLocker {
	return &LocalLocker{
		keys:    make(map[string]*keyedMutex),
		wait:    wait,
		metrics: m,
	}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	start := time.Now()

	l.mu.Lock()
	km, ok := l.keys[key]
	if !ok {
		km = &keyedMutex{ch: make(chan struct{}, 1)}
		l.keys[key] = km
	}
	km.refs++
	l.mu.Unlock()

	if l.wait > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.wait)
			defer cancel()
		}
	}

	select {
	case km.ch <- struct{}{}:
		l.metrics.ObserveLockWait("local", time.Since(start))
		var once sync.Once
		return func() {
			once.Do(func() {
				<-km.ch
				l.release(key, km)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, km)
		return nil, fmt.Errorf("%w: %s", apperrors.ErrLockTimeout, key)
	}
}

func (l *LocalLocker) release(key string, km *keyedMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	km.refs--
	if km.refs == 0 {
		delete(l.keys, key)
	}
}

// size reports the number of tracked keys.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

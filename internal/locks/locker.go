// Package locks provides per-integration sync leases so that a manual
// trigger and a scheduled run never reconcile the same integration at once.
package locks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockHeld is returned when another holder owns the lease.
var ErrLockHeld = errors.New("lock already held")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out non-blocking leases.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// LocalLocker keeps leases in process memory. It suits single-instance
// deployments. Held leases are renewed every ttl/3 until released.
type LocalLocker struct {
	mu     sync.Mutex
	held   map[string]localEntry
	nextID uint64
	now    func() time.Time
}

type localEntry struct {
	id        uint64
	expiresAt time.Time
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: make(map[string]localEntry),
		now:  time.Now,
	}
}

// TryAcquire takes the lease for key unless a live lease exists.
func (l *LocalLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.held[key]; ok && now.Before(entry.expiresAt) {
		return nil, ErrLockHeld
	}

	l.nextID++
	l.held[key] = localEntry{id: l.nextID, expiresAt: now.Add(ttl)}

	lease := &localLease{locker: l, key: key, id: l.nextID, stop: make(chan struct{})}
	go lease.renew(ttl)
	return lease, nil
}

// extend pushes the expiry of a live lease forward. It reports false once
// the lease has expired or changed hands.
func (l *LocalLocker) extend(key string, id uint64, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.held[key]
	if !ok || entry.id != id || !now.Before(entry.expiresAt) {
		return false
	}
	entry.expiresAt = now.Add(ttl)
	l.held[key] = entry
	return true
}

type localLease struct {
	locker *LocalLocker
	key    string
	id     uint64
	stop   chan struct{}
	once   sync.Once
}

func (l *localLease) renew(ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if !l.locker.extend(l.key, l.id, ttl) {
				return
			}
		}
	}
}

func (l *localLease) Key() string {
	return l.key
}

// Release drops the lease if it is still the current holder.
func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		close(l.stop)
		l.locker.mu.Lock()
		defer l.locker.mu.Unlock()
		if entry, ok := l.locker.held[l.key]; ok && entry.id == l.id {
			delete(l.locker.held, l.key)
		}
	})
	return nil
}

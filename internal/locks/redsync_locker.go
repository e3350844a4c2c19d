package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	apperrors "github.com/availability-sync/backend/internal/errors"
	"github.com/availability-sync/backend/internal/logging"
)

// RedsyncLocker implements Locker with the Redlock algorithm so leases hold
// across several server instances sharing one Redis.
type RedsyncLocker struct {
	redsync *redsync.Redsync
	logger  logging.Logger
}

// NewRedsyncLocker creates a locker backed by client.
func NewRedsyncLocker(client *redis.Client) (*RedsyncLocker, error) {
	if client == nil {
		return nil, apperrors.ConfigError("redis client is required")
	}

	return &RedsyncLocker{
		redsync: redsync.New(goredis.NewPool(client)),
		logger:  logging.WithFields(logging.String("component", "locks")),
	}, nil
}

// TryAcquire makes a single attempt to take the lease. The lease is
// extended every ttl/3 until released.
func (r *RedsyncLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	mutex := r.redsync.NewMutex(fmt.Sprintf("lock:%s", key), redsync.WithExpiry(ttl))

	if err := mutex.TryLockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockHeld, err)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	lease := &redsyncLease{
		mutex:  mutex,
		key:    key,
		cancel: cancel,
		logger: r.logger,
	}
	go lease.renew(renewCtx, ttl)

	return lease, nil
}

type redsyncLease struct {
	mutex  *redsync.Mutex
	key    string
	cancel context.CancelFunc
	logger logging.Logger
	once   sync.Once
}

func (l *redsyncLease) Key() string {
	return l.key
}

func (l *redsyncLease) renew(ctx context.Context, ttl time.Duration) {
	interval := ttl / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ectx, cancel := context.WithTimeout(ctx, 5*time.Second)
			ok, err := l.mutex.ExtendContext(ectx)
			cancel()
			if err != nil || !ok {
				if ctx.Err() == nil {
					l.logger.Warn("Lost sync lease", logging.String("key", l.key), logging.Any("error", err))
				}
				return
			}
		}
	}
}

// Release stops renewal and unlocks the mutex.
func (l *redsyncLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		l.cancel()
		if _, uerr := l.mutex.UnlockContext(ctx); uerr != nil {
			err = fmt.Errorf("releasing lease %s: %w", l.key, uerr)
		}
	})
	return err
}

package lock

import (
	"context"
	"sync"
	"time"

	"github.com/simaogato/obligations-backend/internal/domain"
)

// LocalLocker is an in-process Locker for single-instance deployments and
// tests. Obtain waits for the key until the context ends.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

// Obtain acquires key. ttl is ignored: the holder always releases.
func (l *LocalLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return &localLock{owner: l, key: key, done: done}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, domain.E("lock.Obtain", domain.ErrBusy, "key %s: %v", key, ctx.Err())
		}
	}
}

type localLock struct {
	owner *LocalLocker
	key   string
	done  chan struct{}
	once  sync.Once
}

func (l *localLock) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.key)
		l.owner.mu.Unlock()
		close(l.done)
	})
	return nil
}

var (
	_ domain.Locker = (*LocalLocker)(nil)
	_ domain.Locker = (*RedisLocker)(nil)
)

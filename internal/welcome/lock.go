package welcome

import (
	"context"
	"sync"
)

// Locker guards generation per (creator, customer) pair.
type Locker interface {
	// Acquire takes the lock for key. It returns ErrGenerationInFlight when
	// the lock is held. The returned release func is safe to call once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LockKey is the lock key for a creator's customer.
func LockKey(creatorID, customerID string) string {
	return "welcome:" + creatorID + ":" + customerID
}

// MemoryLock is an in-process Locker.
type MemoryLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Locker = (*MemoryLock)(nil)

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]struct{})}
}

func (l *MemoryLock) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrGenerationInFlight
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

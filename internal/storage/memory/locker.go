package memory

import (
	"context"
	"sync"
	"time"
)

type keyLock struct {
	ch   chan struct{}
	refs int
}

// Locker is a keyed mutex for a single process. The ttl argument is ignored:
// holders always release through the returned func.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *Locker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

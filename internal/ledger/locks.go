package ledger

import (
	"context"
	"sync"
)

// keyedLocks is a lazily populated registry of exclusive locks. Entries are
// dropped once nobody holds or waits on them, so unrelated keys never
// contend and the map does not grow with every guild ever seen.
type keyedLocks[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks[K comparable]() *keyedLocks[K] {
	return &keyedLocks[K]{locks: make(map[K]*keyedLock)}
}

// acquire blocks until the lock for key is held or ctx is done. The
// returned release must be called exactly once.
func (k *keyedLocks[K]) acquire(ctx context.Context, key K) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.unref(key, l)
		})
	}, nil
}

func (k *keyedLocks[K]) unref(key K, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// size is the number of live entries.
func (k *keyedLocks[K]) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

type memberKey struct {
	guildID int64
	userID  int64
}

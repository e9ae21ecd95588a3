package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocksExclusive(t *testing.T) {
	locks := newKeyedLocks[int64]()

	var (
		wg      sync.WaitGroup
		holders int32
		maxSeen int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.acquire(context.Background(), 1)
			if err != nil {
				return
			}
			n := atomic.AddInt32(&holders, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Zero(t, locks.size())
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	locks := newKeyedLocks[memberKey]()

	release, err := locks.acquire(context.Background(), memberKey{guildID: 1, userID: 10})
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := locks.acquire(ctx, memberKey{guildID: 1, userID: 20})
	require.NoError(t, err)
	other()

	assert.Equal(t, 1, locks.size())
}

func TestKeyedLocksContextCancel(t *testing.T) {
	locks := newKeyedLocks[int64]()

	release, err := locks.acquire(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.Zero(t, locks.size())
}

func TestKeyedLocksReleaseIsIdempotent(t *testing.T) {
	locks := newKeyedLocks[int64]()

	release, err := locks.acquire(context.Background(), 1)
	require.NoError(t, err)
	release()
	release()

	again, err := locks.acquire(context.Background(), 1)
	require.NoError(t, err)
	again()
	assert.Zero(t, locks.size())
}

package bot

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterHandlerAfterShutdown(t *testing.T) {
	b := &Bot{shutdownCh: make(chan struct{})}

	require.True(t, b.enterHandler())
	b.wg.Done()

	assert.True(t, b.beginShutdown())
	assert.False(t, b.beginShutdown())
	assert.False(t, b.enterHandler())

	select {
	case <-b.shutdownCh:
	default:
		t.Fatal("shutdown channel not closed")
	}
}

func TestShutdownWaitsForEnteredHandlers(t *testing.T) {
	b := &Bot{shutdownCh: make(chan struct{})}

	var (
		wg                sync.WaitGroup
		entered, finished atomic.Int32
	)
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !b.enterHandler() {
				return
			}
			entered.Add(1)
			time.Sleep(time.Millisecond)
			finished.Add(1)
			b.wg.Done()
		}()
	}

	b.beginShutdown()
	b.wg.Wait()
	// nothing can enter after beginShutdown, so every entered handler is done
	assert.Equal(t, entered.Load(), finished.Load())

	wg.Wait()
	assert.Equal(t, entered.Load(), finished.Load())
	assert.False(t, b.enterHandler())
}

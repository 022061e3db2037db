package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLock_FIFO(t *testing.T) {
	l := newKeyLock()
	unlock := l.Lock("k")

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := l.Lock("k")
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			u()
		}(i)
		// wait until goroutine i holds its ticket before starting the next
		require.Eventually(t, func() bool { return l.pending("k") == i+1 }, time.Second, time.Millisecond)
	}

	unlock()
	unlock() // second call is a no-op
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
	assert.Zero(t, l.pending("k"))
}

func TestKeyLock_IndependentKeys(t *testing.T) {
	l := newKeyLock()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		l.Lock("b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key b waited on key a")
	}
}

package player

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PutIfAbsentKeepsFirst(t *testing.T) {
	r := NewRegistry()
	first := New("g1", nil)
	got, ok := r.PutIfAbsent(first)
	require.True(t, ok)
	assert.Same(t, first, got)

	got, ok = r.PutIfAbsent(New("g1", nil))
	assert.False(t, ok)
	assert.Same(t, first, got)

	live, _ := r.Get("g1")
	assert.Same(t, first, live)
}

func TestRegistry_PutIfAbsentConcurrent(t *testing.T) {
	r := NewRegistry()
	const n = 16
	winners := make(chan *Player, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _ := r.PutIfAbsent(New("g1", nil))
			winners <- p
		}()
	}
	wg.Wait()
	close(winners)

	live, ok := r.Get("g1")
	require.True(t, ok)
	for p := range winners {
		assert.Same(t, live, p, "every caller sees the registered player")
	}
}

func TestRegistry_PutAndRemove(t *testing.T) {
	r := NewRegistry()
	r.Put(New("g1", nil))
	replacement := New("g1", nil)
	r.Put(replacement)

	removed, ok := r.Remove("g1")
	require.True(t, ok)
	assert.Same(t, replacement, removed)

	_, ok = r.Remove("g1")
	assert.False(t, ok)
	_, ok = r.Get("g1")
	assert.False(t, ok)
}

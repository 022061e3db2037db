package jobmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_Fires(t *testing.T) {
	m := NewManager(nil)
	done := make(chan struct{})

	m.Schedule("idle:1", 5*time.Millisecond, func(ctx context.Context) error {
		close(done)
		return nil
	})
	assert.True(t, m.Pending("idle:1"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not fire")
	}
	require.Eventually(t, func() bool { return !m.Pending("idle:1") }, time.Second, time.Millisecond)
}

func TestSchedule_CancelBeforeFire(t *testing.T) {
	m := NewManager(nil)
	var fired atomic.Int32

	m.Schedule("idle:1", 20*time.Millisecond, func(ctx context.Context) error {
		fired.Add(1)
		return nil
	})
	assert.True(t, m.Cancel("idle:1"))
	assert.False(t, m.Cancel("idle:1"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.Empty(t, m.List())
}

func TestSchedule_ReplaceKeepsOnlyNewest(t *testing.T) {
	m := NewManager(nil)
	var first, second atomic.Int32

	assert.False(t, m.Schedule("idle:1", 10*time.Millisecond, func(context.Context) error {
		first.Add(1)
		return nil
	}))
	assert.True(t, m.Schedule("idle:1", 10*time.Millisecond, func(context.Context) error {
		second.Add(1)
		return nil
	}))

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestStartAsync_UniqueNames(t *testing.T) {
	var mu sync.Mutex
	var events []string
	m := NewManager(func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	})

	release := make(chan struct{})
	require.NoError(t, m.StartAsync("resume:a", func(ctx context.Context) error {
		<-release
		return errors.New("node gone")
	}))
	assert.Error(t, m.StartAsync("resume:a", func(context.Context) error { return nil }))
	assert.Equal(t, []string{"resume:a"}, m.List())

	close(release)
	require.Eventually(t, func() bool { return !m.Pending("resume:a") }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "error:resume:a:node gone" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestShutdown_CancelsRunning(t *testing.T) {
	m := NewManager(nil)
	stopped := make(chan struct{})

	require.NoError(t, m.StartAsync("loop", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}))
	m.Schedule("later", time.Hour, func(context.Context) error { return nil })

	m.Shutdown()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("running job not cancelled")
	}
	assert.Empty(t, m.List())
}

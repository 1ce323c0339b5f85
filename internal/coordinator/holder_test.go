package coordinator

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

func TestAcquireSupersedesPrevious(t *testing.T) {
	h := New[ActorKey]()
	key := ActorKey{GuildID: "g", UserID: "u"}

	first := h.Acquire(key)
	assert.False(t, first.Cancelled())
	assert.NoError(t, first.Err())

	second := h.Acquire(key)
	assert.True(t, first.Cancelled())
	assert.ErrorIs(t, first.Err(), ErrSuperseded)
	assert.False(t, second.Cancelled())
	assert.NotEqual(t, first.ID(), second.ID())

	select {
	case <-first.Done():
	default:
		t.Fatal("superseded handle should be done")
	}

	live, ok := h.Live(key)
	require.True(t, ok)
	assert.Same(t, second, live)
}

func TestDistinctKeysIndependent(t *testing.T) {
	h := New[ActorKey]()
	a := h.Acquire(ActorKey{GuildID: "g", UserID: "a"})
	b := h.Acquire(ActorKey{GuildID: "g", UserID: "b"})
	c := h.Acquire(ActorKey{GuildID: "other", UserID: "a"})

	assert.False(t, a.Cancelled())
	assert.False(t, b.Cancelled())
	assert.False(t, c.Cancelled())
	assert.Len(t, h.Keys(), 3)
}

func TestReleaseOnlyDropsOwnTicket(t *testing.T) {
	h := New[string]()
	old := h.Acquire("k")
	cur := h.Acquire("k")

	assert.False(t, h.Release("k", old))
	_, ok := h.Live("k")
	assert.True(t, ok)

	assert.True(t, h.Release("k", cur))
	_, ok = h.Live("k")
	assert.False(t, ok)
	assert.False(t, cur.Cancelled())
}

func TestCancel(t *testing.T) {
	h := New[string]()
	assert.False(t, h.Cancel("missing"))

	handle := h.Acquire("k")
	assert.True(t, h.Cancel("k"))
	assert.ErrorIs(t, handle.Err(), ErrCancelled)
	assert.Equal(t, "No pending actions.", h.Status())
}

func TestOnSupersedeCallback(t *testing.T) {
	h := New[string]()
	var got *Handle
	h.OnSupersede = func(_ string, old *Handle) { got = old }

	first := h.Acquire("k")
	h.Acquire("k")
	assert.Same(t, first, got)
}

func TestConcurrentAcquireLeavesExactlyOneLive(t *testing.T) {
	h := New[string]()
	const n = 64

	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handles[i] = h.Acquire("k")
		}(i)
	}
	close(start)
	wg.Wait()

	live, ok := h.Live("k")
	require.True(t, ok)

	alive := 0
	for _, hd := range handles {
		if !hd.Cancelled() {
			alive++
			assert.Same(t, live, hd)
		}
	}
	assert.Equal(t, 1, alive)
}

func TestGoRunsAndReleases(t *testing.T) {
	h := New[string]()
	var errs atomic.Int32
	done := make(chan struct{})

	handle := h.Go("k", func(ctx context.Context) error {
		defer close(done)
		return errors.New("boom")
	}, func(error) { errs.Add(1) })

	<-done
	assert.Eventually(t, func() bool {
		_, ok := h.Live("k")
		return !ok && errs.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, handle.Cancelled())
}

func TestGoSupersededWorkStops(t *testing.T) {
	h := New[string]()
	var errs atomic.Int32
	stopped := make(chan error, 1)

	h.Go("k", func(ctx context.Context) error {
		<-ctx.Done()
		stopped <- context.Cause(ctx)
		return ctx.Err()
	}, func(error) { errs.Add(1) })

	next := h.Acquire("k")

	select {
	case cause := <-stopped:
		assert.ErrorIs(t, cause, ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("first action was not cancelled")
	}

	// The finished first action must not release the newer ticket.
	assert.Never(t, func() bool {
		_, ok := h.Live("k")
		return !ok
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.False(t, next.Cancelled())
	assert.Zero(t, errs.Load())
}

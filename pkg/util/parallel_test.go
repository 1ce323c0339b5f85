package util

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelRunsAll(t *testing.T) {
	var sum atomic.Int64
	err := Parallel(context.Background(), []int{1, 2, 3, 4, 5}, 2, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), sum.Load())
}

func TestParallelStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	err := Parallel(context.Background(), make([]int, 100), 1, func(context.Context, int) error {
		calls.Add(1)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestParallelHonoursParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Parallel(ctx, []int{1, 2, 3}, 3, func(ctx context.Context, _ int) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
}

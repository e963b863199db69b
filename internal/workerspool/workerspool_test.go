package workerspool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumRange(t *testing.T, pool *Pool, n, minChunk int) int64 {
	t.Helper()
	var total atomic.Int64
	covered := make([]atomic.Bool, n)
	pool.ParallelFor(n, minChunk, func(start, end int) {
		assert.LessOrEqual(t, 0, start)
		assert.Less(t, start, end)
		assert.LessOrEqual(t, end, n)
		var local int64
		for i := start; i < end; i++ {
			assert.False(t, covered[i].Swap(true), "index %d visited twice", i)
			local += int64(i)
		}
		total.Add(local)
	})
	for i := range covered {
		require.True(t, covered[i].Load(), "index %d never visited", i)
	}
	return total.Load()
}

func TestParallelFor(t *testing.T) {
	pool := New()
	require.True(t, pool.IsEnabled())

	const n = 10_000
	want := int64(n*(n-1)) / 2
	assert.Equal(t, want, sumRange(t, pool, n, 1))
	assert.Equal(t, want, sumRange(t, pool, n, 1024))

	// Range smaller than one chunk runs inline.
	assert.Equal(t, int64(3), sumRange(t, pool, 3, 1024))

	// Empty range: fn never called.
	pool.ParallelFor(0, 16, func(start, end int) {
		t.Fatal("fn called for empty range")
	})
}

func TestParallelForDisabled(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(0)
	require.False(t, pool.IsEnabled())

	calls := 0
	pool.ParallelFor(100, 1, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 100, end)
	})
	assert.Equal(t, 1, calls)
}

func TestParallelForPanics(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(4)

	require.PanicsWithValue(t, "boom", func() {
		pool.ParallelFor(1000, 10, func(start, end int) {
			if start == 0 {
				panic("boom")
			}
		})
	})

	// Inline path panics too.
	require.PanicsWithValue(t, "boom", func() {
		pool.ParallelFor(5, 10, func(start, end int) {
			panic("boom")
		})
	})
}

func TestParallelForUnlimited(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(-1)
	require.Equal(t, -1, pool.MaxParallelism())

	const n, minChunk = 1000, 100
	var spans atomic.Int32
	pool.ParallelFor(n, minChunk, func(start, end int) {
		spans.Add(1)
		assert.LessOrEqual(t, end-start, minChunk)
	})
	assert.Equal(t, int32(n/minChunk), spans.Load())
}

// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool provides the pool of workers the vecgo backend uses to
// parallelize element-wise kernels over chunks and matrix products over rows.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool runs loop spans across a bounded number of goroutines.
//
// The zero Pool is not usable: create one with New.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
}

// New returns a new Pool of workers with the default parallelism
// (runtime.NumCPU()).
func New() *Pool {
	return &Pool{maxParallelism: runtime.NumCPU()}
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0).
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// MaxParallelism is a soft-target for parallelism.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited: one goroutine per chunk.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism while no work is running. If changed
// during an execution the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// ParallelFor splits the range [0, n) into contiguous spans of at least
// minChunk elements and runs fn(start, end) for each, concurrently across the
// pool's workers. It returns when every span completed.
//
// A range too small to be worth splitting (n <= minChunk), a single worker or
// disabled parallelism all degenerate to one inline fn(0, n) call, so callers
// don't special-case small work. minChunk must be >= 1.
//
// If fn panics in a worker, the first panic value is re-raised on the
// caller's goroutine after all spans finish, so callers can recover from
// ParallelFor the same way they recover from a plain loop.
func (w *Pool) ParallelFor(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if minChunk < 1 {
		minChunk = 1
	}
	numSpans := (n + minChunk - 1) / minChunk
	if w.maxParallelism >= 0 && numSpans > w.maxParallelism {
		numSpans = w.maxParallelism
	}
	if numSpans <= 1 {
		fn(0, n)
		return
	}

	spanSize := (n + numSpans - 1) / numSpans
	var wg sync.WaitGroup
	var panicOnce sync.Once
	var panicValue any
	for start := 0; start < n; start += spanSize {
		end := min(start+spanSize, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicValue = r })
				}
			}()
			fn(start, end)
		}()
	}
	wg.Wait()
	if panicValue != nil {
		panic(panicValue)
	}
}

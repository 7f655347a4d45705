// Package parallel splits index ranges over a fixed number of goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Workers normalises a worker-count hint: values below 1 mean one worker per
// available CPU.
func Workers(hint int) int {
	if hint < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return hint
}

// For splits [0, n) into at most workers contiguous chunks and runs fn on each
// chunk in its own goroutine. Chunk k always covers the same range for a given
// (n, workers), so per-chunk partial results can be merged deterministically.
// For returns when every chunk has finished.
func For(n, workers int, fn func(chunk, lo, hi int)) {
	if n <= 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if workers == 1 {
		fn(0, 0, n)
		return
	}
	chunkSize := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for c := 0; c < workers; c++ {
		lo := c * chunkSize
		if lo >= n {
			break
		}
		hi := lo + chunkSize
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(chunk, lo, hi int) {
			defer wg.Done()
			fn(chunk, lo, hi)
		}(c, lo, hi)
	}
	wg.Wait()
}

// Chunks returns how many chunks For will use for (n, workers).
func Chunks(n, workers int) int {
	if n <= 0 {
		return 0
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	chunkSize := (n + workers - 1) / workers
	return (n + chunkSize - 1) / chunkSize
}

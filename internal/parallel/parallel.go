// Package parallel runs independent entailment queries with bounded
// concurrency. Every task owns its forest, so nothing here synchronizes
// solver state; the package only caps how many queries run at once.
package parallel

import (
	"context"
	"runtime"
	"sync"
)

// ForEach invokes fn(i) for every i in [0, n), running at most workers
// invocations concurrently; workers <= 0 means one per CPU. A canceled
// context stops the dispatch of further indexes, and invocations
// already started run to completion before ForEach returns. The
// context's error is returned when dispatch stopped early, nil when
// every index was dispatched.
func ForEach(ctx context.Context, workers, n int, fn func(int)) error {
	if n <= 0 {
		return ctx.Err()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				fn(i)
			}
		}()
	}

	var err error
	for i := 0; i < n; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case indexes <- i:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			break
		}
	}
	close(indexes)
	wg.Wait()
	return err
}

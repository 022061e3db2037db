package util

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// ParallelCollect runs fn for every input on at most workerLimit goroutines
// and returns one error per input, in input order (nil on success). A failing
// or panicking item never stops the others; only ctx cancellation does, in
// which case items that never started report ctx.Err().
func ParallelCollect[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) []error {
	errs := make([]error, len(inputs))
	if len(inputs) == 0 {
		return errs
	}
	if workerLimit <= 0 {
		workerLimit = 1
	}
	workerLimit = min(workerLimit, len(inputs))

	tasks := make(chan int)
	var wg sync.WaitGroup
	for range workerLimit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				errs[i] = safeCall(ctx, inputs[i], fn)
			}
		}()
	}

	fed := 0
feed:
	for ; fed < len(inputs); fed++ {
		select {
		case <-ctx.Done():
			break feed
		case tasks <- fed:
		}
	}
	close(tasks)
	wg.Wait()

	for i := fed; i < len(inputs); i++ {
		errs[i] = ctx.Err()
	}
	return errs
}

func safeCall[T any](ctx context.Context, in T, fn func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, in)
}

package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// WorkerPool bounds how many per-application fetches run at once.
type WorkerPool struct {
	workers int
}

// NewWorkerPool creates a pool with the given number of workers (minimum 1).
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{workers: workers}
}

// Workers returns the pool size.
func (p *WorkerPool) Workers() int {
	if p == nil {
		return 1
	}
	return p.workers
}

type job[T any] struct {
	index int
	item  T
}

// Map applies fn to every item using the pool's workers. Results are returned
// in input order. The first error cancels the remaining work and is returned;
// a panicking fn is reported as an error.
func Map[T, R any](ctx context.Context, p *WorkerPool, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := p.Workers()
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan job[T])
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					continue
				}
				r, err := runJob(ctx, id, j.item, fn)
				if err != nil {
					fail(err)
					continue
				}
				results[j.index] = r
			}
		}(i)
	}

feed:
	for i, item := range items {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- job[T]{index: i, item: item}:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if ctx.Err() != nil {
		// Parent cancellation without a worker error.
		return nil, ctx.Err()
	}
	return results, nil
}

func runJob[T, R any](ctx context.Context, id int, item T, fn func(context.Context, T) (R, error)) (r R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("worker panic recovered",
				slog.Int("worker_id", id),
				slog.String("panic", fmt.Sprint(rec)),
			)
			err = fmt.Errorf("worker panic: %v", rec)
		}
	}()
	return fn(ctx, item)
}

// Package dispatcher manages coordinator fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
	"github.com/fetchpipe/fetchpipe/internal/worker"
)

// Dispatcher fans out queued tasks to a pool of pipeline coordinators.
type Dispatcher struct {
	queue   pipeline.Queue
	workers int
	coord   *worker.Coordinator
}

// New creates a Dispatcher running the given number of coordinator
// goroutines over the queue.
func New(queue pipeline.Queue, coord *worker.Coordinator, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		coord:   coord,
	}
}

// Run starts all workers and blocks until every worker exits, either
// because the context finished or because the queue was closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.coord.Run(ctx, d.queue)
		}()
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task pipeline.FetchTask) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Package dispatcher runs the worker pool that drains the crawl job queue.
package dispatcher

import (
	"context"
	"sync"
)

// Runner is a long-lived consumer; worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher starts a fixed set of workers.
type Dispatcher struct {
	workers []Runner
}

// New creates a Dispatcher.
func New(workers ...Runner) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts every worker and blocks until all of them return, which happens
// when ctx ends or the queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Package worker runs a batch of independent tasks with bounded concurrency.
package worker

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/forcedeck/pkg/logger"
	"github.com/okian/forcedeck/pkg/metrics"
)

// defaultWorkerMultiplier scales runtime.NumCPU() when no size is given.
const defaultWorkerMultiplier = 4

// Task is one unit of work.
type Task[T any] func(ctx context.Context) (T, error)

// Outcome is the result of the task at Index.
type Outcome[T any] struct {
	Index    int
	Value    T
	Err      error
	Duration time.Duration
}

// Pool bounds how many tasks run at once.
type Pool struct {
	size     int
	name     string
	logger   logger.Logger
	inFlight atomic.Int64
}

// NewPool creates a pool running at most size tasks at a time.
func NewPool(size int, opts ...Option) *Pool {
	if size < 1 {
		size = runtime.NumCPU() * defaultWorkerMultiplier
	}
	p := &Pool{
		size:   size,
		name:   "worker-pool",
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named(p.name)
	return p
}

// Size returns the concurrency limit.
func (p *Pool) Size() int { return p.size }

// Run executes every task and waits for all of them. Outcomes are returned
// in task order. A failing task never cancels its siblings; once ctx is done
// tasks not yet started fail with ctx.Err() without running.
func Run[T any](ctx context.Context, p *Pool, tasks []Task[T]) []Outcome[T] {
	out := make([]Outcome[T], len(tasks))
	var g errgroup.Group
	g.SetLimit(p.size)

	for i, task := range tasks {
		g.Go(func() error {
			out[i].Index = i
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			metrics.UpdateInFlight(int(p.inFlight.Add(1)))
			defer func() { metrics.UpdateInFlight(int(p.inFlight.Add(-1))) }()

			start := time.Now()
			out[i].Value, out[i].Err = task(ctx)
			out[i].Duration = time.Since(start)
			if out[i].Err != nil {
				p.logger.Debug(ctx, "task failed", logger.Int("index", i), logger.Error(out[i].Err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

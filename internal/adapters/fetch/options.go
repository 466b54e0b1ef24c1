package fetch

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/forcedeck/pkg/logger"
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithName labels logs and metrics, usually with the pipeline name.
func WithName(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.name = name
		}
	}
}

// WithConcurrency sets the batch size, which is also the number of requests
// in flight at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithBatchPause sets the fixed pause between batches.
func WithBatchPause(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.pause = d
		}
	}
}

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRateLimit caps requests per second across a run with a token bucket.
// A non-positive rps leaves requests unpaced within a batch.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *Orchestrator) {
		if rps <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithSleep replaces the pause implementation, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithStateHook is called on every state transition.
func WithStateHook(hook func(State)) Option {
	return func(o *Orchestrator) {
		o.hook = hook
	}
}

// WithLogger sets a custom logger for the orchestrator.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// Package fetch retrieves trial results for many tests in paced batches of
// concurrent requests.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/forcedeck/internal/adapters/auth"
	"github.com/okian/forcedeck/internal/adapters/retry"
	"github.com/okian/forcedeck/internal/adapters/vald"
	"github.com/okian/forcedeck/internal/adapters/worker"
	"github.com/okian/forcedeck/internal/domain/dedupe"
	"github.com/okian/forcedeck/internal/domain/model"
	"github.com/okian/forcedeck/pkg/logger"
	"github.com/okian/forcedeck/pkg/metrics"
)

// Defaults mirror the service's published rate limits.
const (
	DefaultConcurrency    = 10
	DefaultBatchPause     = 2 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Drop reasons reported to metrics.
const (
	ReasonTimeout   = "timeout"
	ReasonDataShape = "data_shape"
	ReasonTransport = "transport"
	ReasonCanceled  = "canceled"
)

// Fetcher retrieves the measurements of one test.
type Fetcher interface {
	Trials(ctx context.Context, testID string) ([]model.Measurement, error)
}

// Result is the outcome for one test id. Err is set when the test was
// dropped; Measurements are then nil.
type Result struct {
	TestID       string
	Batch        int
	Measurements []model.Measurement
	Err          error
}

// Orchestrator runs fetches in sequential batches. Within a batch up to
// concurrency requests are in flight; between batches it pauses.
type Orchestrator struct {
	fetcher Fetcher
	tokens  auth.Provider

	name        string
	concurrency int
	pause       time.Duration
	timeout     time.Duration
	limiter     *rate.Limiter
	sleep       func(ctx context.Context, d time.Duration) error
	hook        func(State)
	logger      logger.Logger
}

// New returns an orchestrator fetching through fetcher with tokens from tokens.
func New(fetcher Fetcher, tokens auth.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:     fetcher,
		tokens:      tokens,
		name:        "fetch",
		concurrency: DefaultConcurrency,
		pause:       DefaultBatchPause,
		timeout:     DefaultRequestTimeout,
		sleep:       sleepCtx,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run fetches every distinct id in testIDs and calls yield once per id, on
// the calling goroutine, after the batch holding it completes. Dropped tests
// are yielded with Err set and do not stop the run.
//
// Run returns an error only when no further progress is possible: the
// credentials were refused or ctx was canceled. Batches already yielded stay
// yielded.
func (o *Orchestrator) Run(ctx context.Context, testIDs []string, yield func(Result)) error {
	o.set(StateIdle)
	seen := dedupe.NewInMemoryDeduper()
	ids := dedupe.Unique(ctx, seen, testIDs)
	for range len(testIDs) - seen.Size() {
		metrics.RecordTestDeduplicated()
	}

	pool := worker.NewPool(o.concurrency, worker.WithName(o.name), worker.WithLogger(o.logger))
	batches := (len(ids) + o.concurrency - 1) / o.concurrency
	for b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		lo, hi := b*o.concurrency, min((b+1)*o.concurrency, len(ids))
		if err := o.runBatch(ctx, pool, b+1, batches, ids[lo:hi], yield); err != nil {
			return err
		}
		if b+1 < batches {
			o.logger.Info(ctx, "batch complete, pausing",
				logger.Int("batch", b+1), logger.Int("batches", batches), logger.Duration("pause", o.pause))
			if err := o.sleep(ctx, o.pause); err != nil {
				return err
			}
		}
	}
	o.set(StateDone)
	return nil
}

func (o *Orchestrator) runBatch(ctx context.Context, pool *worker.Pool, batch, batches int, ids []string, yield func(Result)) error {
	// Read the token before every batch so an expired one is replaced
	// before requests start failing with 401.
	if _, err := o.tokens.Token(ctx); err != nil {
		return fmt.Errorf("acquire token for batch %d: %w", batch, err)
	}
	o.set(StateTokenAcquired)

	tasks := make([]worker.Task[[]model.Measurement], len(ids))
	for i, id := range ids {
		tasks[i] = func(ctx context.Context) ([]model.Measurement, error) { return o.fetchOne(ctx, id) }
	}

	o.set(StateBatchInFlight)
	start := time.Now()
	outcomes := worker.Run(ctx, pool, tasks)
	metrics.RecordBatch(float64(time.Since(start).Milliseconds()))
	o.set(StateBatchComplete)

	var fatal error
	for _, out := range outcomes {
		id := ids[out.Index]
		if out.Err != nil {
			if errors.Is(out.Err, auth.ErrAuthFailed) {
				fatal = out.Err
			}
			reason := DropReason(out.Err)
			metrics.RecordTestDropped(o.name, reason)
			o.logger.Warn(ctx, "test dropped",
				logger.String("test_id", id), logger.String("reason", reason), logger.Error(out.Err))
		}
		yield(Result{TestID: id, Batch: batch, Measurements: out.Value, Err: out.Err})
	}
	o.logger.Debug(ctx, "batch finished",
		logger.Int("batch", batch), logger.Int("batches", batches), logger.Int("tests", len(ids)),
		logger.Duration("elapsed", time.Since(start)))
	if fatal != nil {
		return fatal
	}
	return ctx.Err()
}

// fetchOne bounds a single request by the request timeout. The timeout
// context is private to the request so siblings keep running.
func (o *Orchestrator) fetchOne(ctx context.Context, id string) ([]model.Measurement, error) {
	if o.limiter != nil {
		start := time.Now()
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		metrics.RecordRateLimitWait(float64(time.Since(start).Milliseconds()))
	}
	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.fetcher.Trials(reqCtx, id)
}

func (o *Orchestrator) set(s State) {
	if o.hook != nil {
		o.hook(s)
	}
}

// DropReason classifies why a test was dropped.
func DropReason(err error) string {
	var se *retry.StatusError
	switch {
	case errors.As(err, &se):
		return "status_" + strconv.Itoa(se.Status)
	case errors.Is(err, vald.ErrDataShape):
		return ReasonDataShape
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonTransport
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

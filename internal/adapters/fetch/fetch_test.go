package fetch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/forcedeck/internal/adapters/auth"
	"github.com/okian/forcedeck/internal/adapters/fetch"
	"github.com/okian/forcedeck/internal/adapters/retry"
	"github.com/okian/forcedeck/internal/adapters/vald"
	"github.com/okian/forcedeck/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type tokens struct {
	calls atomic.Int32
	err   error
}

func (f *tokens) Token(context.Context) (string, error) {
	f.calls.Add(1)
	return "tok", f.err
}

func (f *tokens) ForceRefresh(context.Context, string) (string, error) { return "tok2", f.err }

// fetcher answers per test id, tracking concurrency.
type fetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	cur    atomic.Int32
	peak   atomic.Int32
	delay  time.Duration
	answer func(ctx context.Context, id string) ([]model.Measurement, error)
}

func (f *fetcher) Trials(ctx context.Context, id string) ([]model.Measurement, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[id]++
	f.mu.Unlock()

	n := f.cur.Add(1)
	defer f.cur.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(f.delay)
	if f.answer != nil {
		return f.answer(ctx, id)
	}
	return []model.Measurement{{Value: 1, Limb: model.LimbTrial, Definition: model.Definition{Result: id}}}, nil
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("t%02d", i)
	}
	return out
}

func TestOrchestratorBatches(t *testing.T) {
	ctx := context.Background()

	Convey("Given 25 tests and a concurrency of 10", t, func() {
		f := &fetcher{delay: 5 * time.Millisecond}
		tp := &tokens{}
		var pauses []time.Duration
		var states []fetch.State
		o := fetch.New(f, tp,
			fetch.WithConcurrency(10),
			fetch.WithSleep(func(_ context.Context, d time.Duration) error { pauses = append(pauses, d); return nil }),
			fetch.WithStateHook(func(s fetch.State) { states = append(states, s) }),
		)

		var got []fetch.Result
		var inYield atomic.Int32
		overlapped := false
		err := o.Run(ctx, ids(25), func(r fetch.Result) {
			if inYield.Add(1) > 1 {
				overlapped = true
			}
			got = append(got, r)
			inYield.Add(-1)
		})

		Convey("Then three batches run with fixed pauses between them", func() {
			So(err, ShouldBeNil)
			So(pauses, ShouldResemble, []time.Duration{fetch.DefaultBatchPause, fetch.DefaultBatchPause})
			So(tp.calls.Load(), ShouldEqual, 3)
			So(f.peak.Load(), ShouldBeLessThanOrEqualTo, 10)
		})

		Convey("Then every test is yielded once, sequentially", func() {
			So(overlapped, ShouldBeFalse)
			So(got, ShouldHaveLength, 25)
			So(got[0].Batch, ShouldEqual, 1)
			So(got[24].Batch, ShouldEqual, 3)
			for _, r := range got {
				So(r.Err, ShouldBeNil)
				So(r.Measurements, ShouldHaveLength, 1)
				So(r.Measurements[0].Definition.Result, ShouldEqual, r.TestID)
			}
		})

		Convey("Then the state machine walks every batch", func() {
			So(states[0], ShouldEqual, fetch.StateIdle)
			So(states[1:5], ShouldResemble, []fetch.State{
				fetch.StateTokenAcquired, fetch.StateBatchInFlight, fetch.StateBatchComplete, fetch.StateTokenAcquired,
			})
			So(states[len(states)-1], ShouldEqual, fetch.StateDone)
			So(states, ShouldHaveLength, 1+3*3+1)
		})
	})

	Convey("Given duplicate test ids", t, func() {
		f := &fetcher{}
		o := fetch.New(f, &tokens{}, fetch.WithBatchPause(0))
		var got []string
		err := o.Run(ctx, []string{"a", "b", "a", "c", "b"}, func(r fetch.Result) { got = append(got, r.TestID) })

		Convey("Then each is fetched once", func() {
			So(err, ShouldBeNil)
			sort.Strings(got)
			So(got, ShouldResemble, []string{"a", "b", "c"})
			So(f.calls, ShouldResemble, map[string]int{"a": 1, "b": 1, "c": 1})
		})
	})

	Convey("Given no tests", t, func() {
		tp := &tokens{}
		err := fetch.New(&fetcher{}, tp).Run(ctx, nil, func(fetch.Result) { t.Fatal("unexpected yield") })

		So(err, ShouldBeNil)
		So(tp.calls.Load(), ShouldEqual, 0)
	})
}

func TestOrchestratorFailures(t *testing.T) {
	ctx := context.Background()
	noPause := fetch.WithBatchPause(0)

	Convey("Given a test whose fetch fails", t, func() {
		f := &fetcher{answer: func(_ context.Context, id string) ([]model.Measurement, error) {
			if id == "bad" {
				return nil, &retry.StatusError{Status: http.StatusUnauthorized, Attempts: 2}
			}
			return []model.Measurement{{Value: 1}}, nil
		}}
		byID := map[string]fetch.Result{}
		err := fetch.New(f, &tokens{}, noPause).Run(ctx, []string{"ok1", "bad", "ok2"}, func(r fetch.Result) { byID[r.TestID] = r })

		Convey("Then it is dropped and the batch continues", func() {
			So(err, ShouldBeNil)
			So(byID, ShouldHaveLength, 3)
			So(byID["bad"].Err, ShouldNotBeNil)
			So(fetch.DropReason(byID["bad"].Err), ShouldEqual, "status_401")
			So(byID["ok1"].Err, ShouldBeNil)
			So(byID["ok2"].Err, ShouldBeNil)
		})
	})

	Convey("Given a request that hangs", t, func() {
		f := &fetcher{answer: func(ctx context.Context, id string) ([]model.Measurement, error) {
			if id == "slow" {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return []model.Measurement{{Value: 1}}, nil
		}}
		byID := map[string]fetch.Result{}
		err := fetch.New(f, &tokens{}, noPause, fetch.WithRequestTimeout(20*time.Millisecond)).
			Run(ctx, []string{"slow", "fast"}, func(r fetch.Result) { byID[r.TestID] = r })

		Convey("Then only that request times out", func() {
			So(err, ShouldBeNil)
			So(fetch.DropReason(byID["slow"].Err), ShouldEqual, fetch.ReasonTimeout)
			So(byID["fast"].Err, ShouldBeNil)
		})
	})

	Convey("Given credentials that are refused", t, func() {
		f := &fetcher{}
		err := fetch.New(f, &tokens{err: auth.ErrAuthFailed}, noPause).Run(ctx, ids(3), func(fetch.Result) {})

		Convey("Then the run aborts before fetching", func() {
			So(errors.Is(err, auth.ErrAuthFailed), ShouldBeTrue)
			So(f.calls, ShouldBeEmpty)
		})
	})

	Convey("Given a refresh refused mid batch", t, func() {
		f := &fetcher{answer: func(context.Context, string) ([]model.Measurement, error) {
			return nil, fmt.Errorf("refresh: %w", auth.ErrAuthFailed)
		}}
		yielded := 0
		err := fetch.New(f, &tokens{}, noPause, fetch.WithConcurrency(2)).Run(ctx, ids(4), func(fetch.Result) { yielded++ })

		Convey("Then the run stops after that batch", func() {
			So(errors.Is(err, auth.ErrAuthFailed), ShouldBeTrue)
			So(yielded, ShouldEqual, 2)
		})
	})

	Convey("Given the run is canceled during a pause", t, func() {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		yielded := 0
		err := fetch.New(&fetcher{}, &tokens{},
			fetch.WithConcurrency(1),
			fetch.WithSleep(func(context.Context, time.Duration) error { cancel(); return context.Canceled }),
		).Run(cctx, ids(3), func(fetch.Result) { yielded++ })

		Convey("Then no further batch is dispatched", func() {
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(yielded, ShouldEqual, 1)
		})
	})

	Convey("Given a rate limit", t, func() {
		start := time.Now()
		err := fetch.New(&fetcher{}, &tokens{}, noPause, fetch.WithRateLimit(100, 1)).
			Run(ctx, ids(5), func(fetch.Result) {})

		Convey("Then requests are spread out", func() {
			So(err, ShouldBeNil)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 35*time.Millisecond)
		})
	})
}

func TestOrchestratorWithClient(t *testing.T) {
	Convey("Given the real client against a server that rejects the first request", t, func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`[{"results":[{"value":42,"limb":"Trial","definition":{"id":1,"result":"JUMP_HEIGHT","unit":"Centimeter"}}]}]`))
		}))
		defer srv.Close()

		client := vald.NewClient(vald.Endpoints{ForceDecksURL: srv.URL, TenantID: "ten"}, &tokens{})
		var got []fetch.Result
		err := fetch.New(client, &tokens{}, fetch.WithBatchPause(0)).
			Run(context.Background(), []string{"t1"}, func(r fetch.Result) { got = append(got, r) })

		Convey("Then the retried payload is yielded as a success", func() {
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 1)
			So(got[0].Err, ShouldBeNil)
			So(got[0].Measurements[0].Value, ShouldEqual, 42)
			So(calls.Load(), ShouldEqual, 2)
		})
	})
}

func TestOrchestratorSlowRefresh(t *testing.T) {
	Convey("Given a token refresh that outlasts the request timeout", t, func() {
		var tokenCalls, trialCalls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
			if tokenCalls.Add(1) > 1 {
				time.Sleep(200 * time.Millisecond)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": fmt.Sprintf("tok-%d", tokenCalls.Load()), "expires_in": 3600})
		})
		mux.HandleFunc("/v2019q3/teams/ten/tests/", func(w http.ResponseWriter, _ *http.Request) {
			if trialCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`[{"results":[{"value":1,"limb":"Trial","definition":{"id":1,"result":"JUMP_HEIGHT","unit":"Centimeter"}}]}]`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		provider := auth.NewCachedProvider(auth.NewClientCredentials(srv.URL+"/token", "id", "secret"))
		client := vald.NewClient(vald.Endpoints{ForceDecksURL: srv.URL, TenantID: "ten"}, provider)
		got := map[string]error{}
		err := fetch.New(client, provider,
			fetch.WithConcurrency(1),
			fetch.WithBatchPause(0),
			fetch.WithRequestTimeout(100*time.Millisecond),
		).Run(context.Background(), []string{"t1", "t2", "t3"}, func(r fetch.Result) { got[r.TestID] = r.Err })

		Convey("Then only the test that waited on the refresh is dropped", func() {
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 3)
			So(got["t1"], ShouldNotBeNil)
			So(errors.Is(got["t1"], auth.ErrAuthFailed), ShouldBeFalse)
			So(fetch.DropReason(got["t1"]), ShouldEqual, fetch.ReasonTimeout)
			So(got["t2"], ShouldBeNil)
			So(got["t3"], ShouldBeNil)
			So(tokenCalls.Load(), ShouldEqual, 2)
		})
	})
}

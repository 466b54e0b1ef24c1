package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/forcedeck/internal/adapters/worker"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPool(t *testing.T) {
	Convey("Given a pool of size 3", t, func() {
		p := worker.NewPool(3, worker.WithName("test"))
		So(p.Size(), ShouldEqual, 3)

		Convey("When ten slow tasks run", func() {
			var cur, peak atomic.Int32
			tasks := make([]worker.Task[int], 10)
			for i := range tasks {
				tasks[i] = func(context.Context) (int, error) {
					n := cur.Add(1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}
					time.Sleep(10 * time.Millisecond)
					cur.Add(-1)
					return i * i, nil
				}
			}
			out := worker.Run(context.Background(), p, tasks)

			Convey("Then no more than three run at once and order is kept", func() {
				So(peak.Load(), ShouldBeLessThanOrEqualTo, 3)
				So(out, ShouldHaveLength, 10)
				for i, o := range out {
					So(o.Index, ShouldEqual, i)
					So(o.Value, ShouldEqual, i*i)
					So(o.Err, ShouldBeNil)
				}
			})
		})

		Convey("When one task fails", func() {
			boom := errors.New("boom")
			var ran atomic.Int32
			tasks := []worker.Task[string]{
				func(context.Context) (string, error) { ran.Add(1); return "", boom },
				func(ctx context.Context) (string, error) {
					ran.Add(1)
					time.Sleep(5 * time.Millisecond)
					return "ok", ctx.Err()
				},
			}
			out := worker.Run(context.Background(), p, tasks)

			Convey("Then its sibling still completes", func() {
				So(ran.Load(), ShouldEqual, 2)
				So(errors.Is(out[0].Err, boom), ShouldBeTrue)
				So(out[1].Err, ShouldBeNil)
				So(out[1].Value, ShouldEqual, "ok")
			})
		})

		Convey("When the context is already canceled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			var ran atomic.Int32
			out := worker.Run(ctx, p, []worker.Task[int]{
				func(context.Context) (int, error) { ran.Add(1); return 1, nil },
			})

			Convey("Then tasks are not started", func() {
				So(ran.Load(), ShouldEqual, 0)
				So(errors.Is(out[0].Err, context.Canceled), ShouldBeTrue)
			})
		})
	})

	Convey("Given a non-positive size", t, func() {
		So(worker.NewPool(0).Size(), ShouldBeGreaterThan, 0)
	})
}

package sink_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/forcedeck/internal/adapters/sink"
	. "github.com/smartystreets/goconvey/convey"
)

func TestProject(t *testing.T) {
	Convey("Given a batch with a column the table lacks", t, func() {
		b := sink.Batch{
			Table:   "cmj_results",
			Columns: []string{"result_id", "EXTRA", "score"},
			Rows:    [][]any{{"r1", 1.0, 2.0}, {"r2", nil, 3.0}},
		}

		Convey("When projected onto the table schema", func() {
			out, dropped := sink.Project(b, map[string]bool{"result_id": true, "score": true})

			Convey("Then the column is removed from header and rows", func() {
				So(dropped, ShouldResemble, []string{"EXTRA"})
				So(out.Columns, ShouldResemble, []string{"result_id", "score"})
				So(out.Rows, ShouldResemble, [][]any{{"r1", 2.0}, {"r2", 3.0}})
				So(b.Columns, ShouldHaveLength, 3)
			})
		})

		Convey("When every column is known", func() {
			out, dropped := sink.Project(b, map[string]bool{"result_id": true, "EXTRA": true, "score": true})

			So(dropped, ShouldBeNil)
			So(out.Columns, ShouldResemble, b.Columns)
		})
	})
}

func TestMemorySink(t *testing.T) {
	ctx := context.Background()

	Convey("Given a memory sink with a schema", t, func() {
		m := sink.NewMemorySink(sink.WithSchema("t", "a", "b"))

		Convey("When a batch is appended", func() {
			n, err := m.Append(ctx, sink.Batch{Table: "t", Columns: []string{"a", "x", "b"}, Rows: [][]any{{1, 2, nil}}})

			Convey("Then unknown columns are dropped", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				So(m.Rows("t"), ShouldResemble, []map[string]any{{"a": 1, "b": nil}})
				So(m.Tables(), ShouldResemble, map[string]int{"t": 1})
			})
		})

		Convey("When an empty batch is appended", func() {
			n, err := m.Append(ctx, sink.Batch{Table: "t", Columns: []string{"a"}})

			Convey("Then nothing happens", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
				So(m.Tables(), ShouldBeEmpty)
			})
		})

		Convey("When no column matches", func() {
			_, err := m.Append(ctx, sink.Batch{Table: "t", Columns: []string{"x"}, Rows: [][]any{{1}}})

			So(errors.Is(err, sink.ErrNoColumns), ShouldBeTrue)
		})

		Convey("When a table has no schema", func() {
			_, err := m.Append(ctx, sink.Batch{Table: "free", Columns: []string{"x"}, Rows: [][]any{{1}}})

			So(err, ShouldBeNil)
			So(m.Rows("free")[0]["x"], ShouldEqual, 1)
		})
	})

	Convey("Given a failing memory sink", t, func() {
		boom := errors.New("down")
		m := sink.NewMemorySink(sink.WithFailure(boom))
		_, err := m.Append(ctx, sink.Batch{Table: "t", Columns: []string{"a"}, Rows: [][]any{{1}}})

		So(errors.Is(err, boom), ShouldBeTrue)
		So(m.Rows("t"), ShouldBeEmpty)
	})
}

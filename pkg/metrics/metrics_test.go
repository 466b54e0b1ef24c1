package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry and custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("pipeline"),
				WithMetricPrefix("run"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.batches.Inc()

			Convey("Then collectors are registered under the configured names", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_pipeline_run_batches_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording fetch outcomes", func() {
			before := testutil.ToFloat64(globalManager.fetchRequests.WithLabelValues("trials", OutcomeDropped))
			RecordFetch("trials", OutcomeDropped)
			RecordFetch("trials", OutcomeDropped)

			Convey("Then the labelled counter grows", func() {
				after := testutil.ToFloat64(globalManager.fetchRequests.WithLabelValues("trials", OutcomeDropped))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording rows uploaded", func() {
			before := testutil.ToFloat64(globalManager.rowsUploaded.WithLabelValues("cmj_results"))
			RecordRowsUploaded("cmj_results", 7)

			Convey("Then the counter adds the row count", func() {
				after := testutil.ToFloat64(globalManager.rowsUploaded.WithLabelValues("cmj_results"))
				So(after-before, ShouldEqual, 7)
			})
		})

		Convey("When recording the remaining collectors", func() {
			So(func() {
				RecordFetchLatency(120)
				RecordBatch(2500)
				UpdateInFlight(10)
				UpdateInFlight(0)
				RecordAuthRefresh("unauthorized")
				RecordTestDeduplicated()
				RecordTestDropped("cmj", "data_shape")
				RecordRateLimitWait(3)
				RecordRecordAssembled("imtp")
				RecordBestScore("cmj", 0.75)
				RecordPipelineDuration("hj", 3*time.Second)
				RecordPipelineFailure("ppu")
				RecordColumnsDropped("ppu_results", 2)
				RecordSinkError("ppu_results")
				RecordHTTPRequest("healthz", "GET", "200", 1)
			}, ShouldNotPanic)
		})

		Convey("When gathering the custom registry", func() {
			RecordBatch(10)
			families, err := GetRegistry().Gather()

			Convey("Then only forcedeck metrics are exposed", func() {
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
				for _, f := range families {
					So(strings.HasPrefix(f.GetName(), "forcedeck_"), ShouldBeTrue)
				}
			})
		})
	})
}

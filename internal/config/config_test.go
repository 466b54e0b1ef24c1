package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/forcedeck/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			convey.So(cfg.Concurrency, convey.ShouldEqual, 10)
			convey.So(cfg.BatchPause(), convey.ShouldEqual, 2*time.Second)
			convey.So(cfg.RequestTimeout(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.ModifiedFromTime(), convey.ShouldEqual, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
			convey.So(cfg.TokenCacheFile, convey.ShouldEqual, ".token_cache.json")
		})

		convey.Convey("Then the built-in pipelines run in a fixed order", func() {
			convey.So(cfg.PipelineNames(), convey.ShouldResemble, []string{"cmj", "hj", "imtp", "ppu"})
			convey.So(cfg.Pipelines["cmj"].ScoreColumn, convey.ShouldEqual, "cmj_composite_score")
			convey.So(cfg.Pipelines["hj"].ScoreColumn, convey.ShouldEqual, "hop_rsi_avg_best_5")
			convey.So(cfg.Pipelines["imtp"].Metric, convey.ShouldEqual, "PEAK_VERTICAL_FORCE_Trial_N")
			convey.So(cfg.Pipelines["ppu"].Columns, convey.ShouldHaveLength, 8)
		})

		convey.Convey("Then the CMJ weights sum to one", func() {
			sum := 0.0
			for _, w := range cfg.Pipelines["cmj"].Weights {
				sum += w
			}
			convey.So(sum, convey.ShouldAlmostEqual, 1.0)
		})

		convey.Convey("Then defaults validate without remote settings", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(errors.Is(cfg.ValidateRemote(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

func TestPipeline_RunColumns(t *testing.T) {
	convey.Convey("Given a composite pipeline without columns", t, func() {
		p := config.Pipeline{Kind: config.KindComposite, Weights: map[string]float64{"B": 1, "A": 1}}

		convey.Convey("Then its weighted metrics are written in sorted order", func() {
			convey.So(p.RunColumns(), convey.ShouldResemble, []string{"A", "B"})
		})
	})

	convey.Convey("Given a hop pipeline without columns", t, func() {
		p := config.Pipeline{Kind: config.KindHop}

		convey.Convey("Then no metric columns are written", func() {
			convey.So(p.RunColumns(), convey.ShouldBeEmpty)
		})
	})
}

func TestConfig_PipelineNames(t *testing.T) {
	convey.Convey("Given custom pipelines next to built-ins", t, func() {
		cfg := config.New(context.Background())
		cfg.Pipelines["zeta"] = config.Pipeline{}
		cfg.Pipelines["alpha"] = config.Pipeline{}
		delete(cfg.Pipelines, "hj")

		convey.So(cfg.PipelineNames(), convey.ShouldResemble, []string{"cmj", "imtp", "ppu", "alpha", "zeta"})
	})
}

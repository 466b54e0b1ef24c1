package service

import (
	"fmt"
	"slices"

	"github.com/okian/forcedeck/internal/config"
	"github.com/okian/forcedeck/internal/domain/scoring"
)

// Pipeline turns the tests of one type into rows of one table.
type Pipeline struct {
	Name        string
	TestType    string
	Table       string
	ScoreColumn string
	Columns     []string
	Selector    scoring.Selector

	Normalize    bool
	NormalizeMin float64
	NormalizeMax float64
}

// BuildPipelines resolves names against cfg in the given order. An empty
// names runs every configured pipeline in cfg.PipelineNames order. stats is
// only consulted by composite pipelines.
func BuildPipelines(cfg *config.Config, stats scoring.Stats, names []string) ([]Pipeline, error) {
	if len(names) == 0 {
		names = cfg.PipelineNames()
	}
	out := make([]Pipeline, 0, len(names))
	for _, name := range names {
		def, ok := cfg.Pipelines[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
		}
		p, err := buildPipeline(name, def, stats)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// NeedsStats reports whether any of the named pipelines is a composite one.
func NeedsStats(cfg *config.Config, names []string) bool {
	if len(names) == 0 {
		names = cfg.PipelineNames()
	}
	for _, n := range names {
		if cfg.Pipelines[n].Kind == config.KindComposite {
			return true
		}
	}
	return false
}

func buildPipeline(name string, def config.Pipeline, stats scoring.Stats) (Pipeline, error) {
	p := Pipeline{
		Name:         name,
		TestType:     def.TestType,
		Table:        def.Table,
		ScoreColumn:  def.ScoreColumn,
		Columns:      def.RunColumns(),
		Normalize:    def.Normalize,
		NormalizeMin: def.NormalizeMin,
		NormalizeMax: def.NormalizeMax,
	}

	switch def.Kind {
	case config.KindComposite:
		if len(stats.Mean) == 0 {
			return Pipeline{}, ErrNoStats
		}
		sel, err := scoring.NewCompositeScorer(def.Weights, stats,
			scoring.WithMinTerms(def.MinTerms),
			scoring.WithInverted(def.Inverted...),
		)
		if err != nil {
			return Pipeline{}, err
		}
		p.Selector = sel
	case config.KindPeak:
		sel, err := scoring.NewPeakSelector(def.Metric, def.Columns)
		if err != nil {
			return Pipeline{}, err
		}
		if !slices.Contains(p.Columns, def.Metric) {
			p.Columns = append(p.Columns, def.Metric)
		}
		p.Selector = sel
	case config.KindHop:
		p.Selector = scoring.NewHopRSISelector(
			scoring.WithBestOf(def.BestOf),
			scoring.WithHopMetrics(def.FlightMetric, def.ContactMetric),
		)
	default:
		return Pipeline{}, fmt.Errorf("%w: kind %q", config.ErrInvalidConfig, def.Kind)
	}
	return p, nil
}

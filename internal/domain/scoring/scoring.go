// Package scoring selects the best trial of a test from its trial matrix.
package scoring

import (
	"math"
	"sort"

	"github.com/okian/forcedeck/internal/domain/pivot"
)

// Weights maps the metrics that take part in a composite score to their weight.
// Its key set also fixes which metrics every output record carries.
type Weights map[string]float64

// Keys returns the metric identifiers in sorted order.
func (w Weights) Keys() []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stats holds population statistics used to z-score metrics. It is read-only
// once loaded.
type Stats struct {
	Mean map[string]float64 `yaml:"mean" validate:"required"`
	Std  map[string]float64 `yaml:"std" validate:"required"`
}

// Z returns the z-score of v for metric id. It is NaN when v is NaN, when the
// metric has no statistics, or when its standard deviation is not positive.
func (s Stats) Z(id string, v float64) float64 {
	mean, okMean := s.Mean[id]
	std, okStd := s.Std[id]
	if !okMean || !okStd || !(std > 0) || math.IsNaN(v) {
		return math.NaN()
	}
	return (v - mean) / std
}

// TrialScore is the score of one trial column.
type TrialScore struct {
	Trial int
	Label string
	Score float64
}

// Result is the outcome of trial selection for one test.
type Result struct {
	// BestTrial is the label of the selected column, empty when Valid is false.
	BestTrial string
	// BestScore is the selection score, NaN when Valid is false.
	BestScore float64
	Valid     bool

	TrialScores []TrialScore
	// Metrics is the selected trial's values keyed by metric identifier.
	Metrics map[string]float64
}

// noTrial is the result reported when no trial could be selected.
func noTrial(scores []TrialScore) Result {
	return Result{BestScore: math.NaN(), TrialScores: scores, Metrics: map[string]float64{}}
}

// Selector picks the best trial of a matrix.
type Selector interface {
	Select(m *pivot.Matrix) (Result, error)
}

// argmax returns the index of the largest non-NaN score, preferring the
// earliest on ties, or -1 if every score is NaN.
func argmax(scores []TrialScore) int {
	best := -1
	for i, s := range scores {
		if math.IsNaN(s.Score) {
			continue
		}
		if best < 0 || s.Score > scores[best].Score {
			best = i
		}
	}
	return best
}

// vector reads the given metrics of one trial, NaN where absent.
func vector(m *pivot.Matrix, trial int, ids []string) map[string]float64 {
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		out[id] = m.Value(id, trial)
	}
	return out
}

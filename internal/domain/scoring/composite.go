package scoring

import (
	"fmt"
	"math"

	"github.com/okian/forcedeck/internal/domain/pivot"
)

// CompositeScorer ranks trials by the weighted sum of their z-scored metrics.
type CompositeScorer struct {
	weights Weights
	keys    []string
	stats   Stats

	minTerms int
	inverted map[string]bool
}

// NewCompositeScorer returns a scorer over weights and population stats.
func NewCompositeScorer(weights Weights, stats Stats, opts ...Option) (*CompositeScorer, error) {
	if len(weights) == 0 {
		return nil, ErrEmptyWeights
	}
	s := &CompositeScorer{
		weights:  make(Weights, len(weights)),
		stats:    stats,
		minTerms: 1,
		inverted: map[string]bool{},
	}
	for k, v := range weights {
		s.weights[k] = v
	}
	s.keys = s.weights.Keys()
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Keys returns the weighted metric identifiers in sorted order.
func (s *CompositeScorer) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Select implements Selector.
func (s *CompositeScorer) Select(m *pivot.Matrix) (Result, error) { return s.Score(m) }

// Score computes a composite per trial and selects the highest.
//
// A weighted metric missing from a trial, or lacking statistics, contributes
// nothing to that trial's sum. A composite is NaN only when every weighted
// term is NaN. An empty matrix yields no valid trial without error.
func (s *CompositeScorer) Score(m *pivot.Matrix) (Result, error) {
	if m.Empty() {
		return noTrial(nil), nil
	}
	shared := false
	for _, k := range s.keys {
		if m.Has(k) {
			shared = true
			break
		}
	}
	if !shared {
		return Result{}, fmt.Errorf("%w: have %v", ErrNoWeightedMetrics, m.MetricIDs())
	}

	n := m.Trials()
	scores := make([]TrialScore, n)
	for t := 1; t <= n; t++ {
		scores[t-1] = TrialScore{Trial: t, Label: pivot.Label(t), Score: s.composite(m, t)}
	}

	best := argmax(scores)
	if best < 0 {
		return noTrial(scores), nil
	}
	return Result{
		BestTrial:   scores[best].Label,
		BestScore:   scores[best].Score,
		Valid:       true,
		TrialScores: scores,
		Metrics:     vector(m, scores[best].Trial, s.keys),
	}, nil
}

func (s *CompositeScorer) composite(m *pivot.Matrix, trial int) float64 {
	sum, terms := 0.0, 0
	for _, k := range s.keys {
		z := s.stats.Z(k, m.Value(k, trial))
		if math.IsNaN(z) {
			continue
		}
		if s.inverted[k] {
			z = -z
		}
		sum += s.weights[k] * z
		terms++
	}
	if terms < s.minTerms {
		return math.NaN()
	}
	return sum
}

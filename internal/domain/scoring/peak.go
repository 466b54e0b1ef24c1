package scoring

import (
	"github.com/okian/forcedeck/internal/domain/pivot"
)

// PeakSelector picks the trial with the largest value of one metric and
// reports the requested columns of that trial.
type PeakSelector struct {
	metric  string
	columns []string
}

// NewPeakSelector ranks trials by metric. columns are the metrics copied from
// the winning trial; metric is always included.
func NewPeakSelector(metric string, columns []string) (*PeakSelector, error) {
	if metric == "" {
		return nil, ErrNoMetric
	}
	cols := []string{}
	seen := map[string]bool{}
	for _, c := range append([]string{metric}, columns...) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	return &PeakSelector{metric: metric, columns: cols}, nil
}

// Select implements Selector. A test without the ranking metric, or with only
// null values for it, yields no valid trial.
func (p *PeakSelector) Select(m *pivot.Matrix) (Result, error) {
	if !m.Has(p.metric) {
		return noTrial(nil), nil
	}
	row := m.Row(p.metric)
	scores := make([]TrialScore, len(row))
	for i, v := range row {
		scores[i] = TrialScore{Trial: i + 1, Label: pivot.Label(i + 1), Score: v}
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
		Metrics:     vector(m, scores[best].Trial, p.columns),
	}, nil
}

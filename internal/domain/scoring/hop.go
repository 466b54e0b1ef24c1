package scoring

import (
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/okian/forcedeck/internal/domain/pivot"
)

const (
	defaultBestOf        = 5
	defaultFlightMetric  = "HOP_FLIGHT_TIME"
	defaultContactMetric = "HOP_CONTACT_TIME"
)

// HopRSISelector scores a hop test by reactive strength index: flight time
// over contact time per hop, averaged over the best hops.
type HopRSISelector struct {
	bestOf  int
	flight  string
	contact string
}

// NewHopRSISelector returns a selector averaging the best 5 hops by default.
func NewHopRSISelector(opts ...HopOption) *HopRSISelector {
	s := &HopRSISelector{
		bestOf:  defaultBestOf,
		flight:  defaultFlightMetric,
		contact: defaultContactMetric,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select implements Selector. BestTrial is the hop with the highest RSI and
// BestScore the mean of the best hops. Hops with a null or non-positive
// contact time are skipped.
func (h *HopRSISelector) Select(m *pivot.Matrix) (Result, error) {
	flightID, contactID := h.find(m, h.flight), h.find(m, h.contact)
	if flightID == "" || contactID == "" {
		return noTrial(nil), nil
	}
	flight, contact := m.Row(flightID), m.Row(contactID)
	n := min(len(flight), len(contact))

	scores := make([]TrialScore, n)
	for i := range n {
		rsi := math.NaN()
		if contact[i] > 0 && !math.IsNaN(flight[i]) {
			rsi = flight[i] / contact[i]
		}
		scores[i] = TrialScore{Trial: i + 1, Label: pivot.Label(i + 1), Score: rsi}
	}
	best := argmax(scores)
	if best < 0 {
		return noTrial(scores), nil
	}

	valid := make([]float64, 0, n)
	for _, s := range scores {
		if !math.IsNaN(s.Score) {
			valid = append(valid, s.Score)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(valid)))
	if len(valid) > h.bestOf {
		valid = valid[:h.bestOf]
	}
	sum := 0.0
	for _, v := range valid {
		sum += v
	}

	return Result{
		BestTrial:   scores[best].Label,
		BestScore:   sum / float64(len(valid)),
		Valid:       true,
		TrialScores: scores,
		Metrics:     map[string]float64{},
	}, nil
}

// find returns the lexically first row whose identifier contains sub, so
// the choice does not depend on the order the service sent metrics in.
func (h *HopRSISelector) find(m *pivot.Matrix, sub string) string {
	var match []string
	for _, id := range m.MetricIDs() {
		if strings.Contains(id, sub) {
			match = append(match, id)
		}
	}
	if len(match) == 0 {
		return ""
	}
	return slices.Min(match)
}

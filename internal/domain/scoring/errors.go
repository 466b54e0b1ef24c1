package scoring

import "errors"

var (
	// ErrEmptyWeights means a composite scorer was configured without weights.
	ErrEmptyWeights = errors.New("composite weights are empty")
	// ErrNoWeightedMetrics means a non-empty matrix shares no identifier with the weights.
	ErrNoWeightedMetrics = errors.New("matrix contains none of the weighted metrics")
	// ErrNoMetric means a selector was configured without the metric it ranks by.
	ErrNoMetric = errors.New("selector metric is not set")
)

package scoring

// Option applies a configuration option to the CompositeScorer.
type Option func(*CompositeScorer)

// WithMinTerms requires at least n non-missing weighted terms before a trial's
// composite is defined. The default of 1 treats missing metrics as exclusions.
func WithMinTerms(n int) Option {
	return func(s *CompositeScorer) {
		if n > 0 {
			s.minTerms = n
		}
	}
}

// WithInverted marks metrics where a lower value is better. Their z-scores
// are negated before weighting.
func WithInverted(ids ...string) Option {
	return func(s *CompositeScorer) {
		for _, id := range ids {
			s.inverted[id] = true
		}
	}
}

// HopOption applies a configuration option to the HopRSISelector.
type HopOption func(*HopRSISelector)

// WithBestOf sets how many of the highest per-trial RSI values are averaged.
func WithBestOf(n int) HopOption {
	return func(s *HopRSISelector) {
		if n > 0 {
			s.bestOf = n
		}
	}
}

// WithHopMetrics overrides the substrings used to find the flight time and
// contact time rows.
func WithHopMetrics(flight, contact string) HopOption {
	return func(s *HopRSISelector) {
		if flight != "" {
			s.flight = flight
		}
		if contact != "" {
			s.contact = contact
		}
	}
}

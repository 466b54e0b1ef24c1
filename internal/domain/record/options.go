package record

import "time"

// Option applies a configuration option to the Assembler.
type Option func(*Assembler)

// WithIDGenerator replaces the UUID generator used for result ids.
func WithIDGenerator(gen func() string) Option {
	return func(a *Assembler) {
		if gen != nil {
			a.newID = gen
		}
	}
}

// WithClock sets the clock used for the birth-year sanity bound.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

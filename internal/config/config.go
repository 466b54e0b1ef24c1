// Package config defines process configuration and its loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - External errors are wrapped with ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"context"
	"sort"
	"time"
)

// Pipeline kinds.
const (
	KindComposite = "composite"
	KindPeak      = "peak"
	KindHop       = "hop"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`

	// LogJSON switches the log handler to JSON output.
	LogJSON bool `koanf:"log_json"`

	// MetricsAddr serves /metrics and /healthz when set, e.g. ":9090".
	MetricsAddr string `koanf:"metrics_addr"`

	// Credentials for the client-credentials token endpoint. These and the
	// endpoints below are checked by ValidateRemote.
	AuthURL      string `koanf:"auth_url" validate:"required,url"`
	ClientID     string `koanf:"client_id" validate:"required"`
	ClientSecret string `koanf:"client_secret" validate:"required"`

	// TokenCacheFile persists the access token between runs. Empty keeps it in memory.
	TokenCacheFile string `koanf:"token_cache_file"`

	// Remote API endpoints.
	ProfileURL    string `koanf:"profile_url" validate:"required,url"`
	ForceDecksURL string `koanf:"forcedecks_url" validate:"required,url"`
	TenantID      string `koanf:"tenant_id" validate:"required"`

	// ModifiedFrom is the RFC3339 lower bound for test listings.
	ModifiedFrom string `koanf:"modified_from" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`

	// MaxProfiles caps how many athletes are processed. Zero means all.
	MaxProfiles int `koanf:"max_profiles" validate:"gte=0"`

	// Concurrency bounds in-flight trial requests per batch.
	Concurrency int `koanf:"concurrency" validate:"gte=1"`

	// BatchPauseMS is the pause between batches.
	BatchPauseMS int `koanf:"batch_pause_ms" validate:"gte=0"`

	// RequestTimeoutMS bounds a single trial request.
	RequestTimeoutMS int `koanf:"request_timeout_ms" validate:"gte=1"`

	// RequestsPerSecond caps the request rate. Zero disables the limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`

	// DatabaseURL is the PostgreSQL connection string of the sink.
	DatabaseURL string `koanf:"database_url"`

	// StatsFile is a YAML file with population mean and std per metric.
	StatsFile string `koanf:"stats_file"`

	// Pipelines maps a pipeline name to its definition.
	Pipelines map[string]Pipeline `koanf:"pipelines" validate:"required,dive"`
}

// Pipeline describes how one test type is turned into output rows.
type Pipeline struct {
	Kind        string   `koanf:"kind" validate:"required,oneof=composite peak hop"`
	TestType    string   `koanf:"test_type" validate:"required"`
	Table       string   `koanf:"table" validate:"required"`
	ScoreColumn string   `koanf:"score_column"`
	Columns     []string `koanf:"columns"`

	// Metric ranks trials for peak pipelines.
	Metric string `koanf:"metric" validate:"required_if=Kind peak"`

	// Weights and Inverted configure composite pipelines.
	Weights  map[string]float64 `koanf:"weights" validate:"required_if=Kind composite"`
	Inverted []string           `koanf:"inverted"`
	MinTerms int                `koanf:"min_terms" validate:"gte=0"`

	// Normalize rescales the run's scores into [NormalizeMin, NormalizeMax].
	Normalize    bool    `koanf:"normalize"`
	NormalizeMin float64 `koanf:"normalize_min"`
	NormalizeMax float64 `koanf:"normalize_max" validate:"gtefield=NormalizeMin"`

	// BestOf is the number of hops averaged by hop pipelines.
	BestOf int `koanf:"best_of" validate:"gte=0"`
	// FlightMetric and ContactMetric are substrings locating the flight time
	// and contact time rows of hop pipelines. Empty keeps the defaults.
	FlightMetric  string `koanf:"flight_metric"`
	ContactMetric string `koanf:"contact_metric"`
}

// New creates a Config with defaults. The context is reserved for future use.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:          "info",
		TokenCacheFile:    ".token_cache.json",
		ModifiedFrom:      "2020-01-01T00:00:00Z",
		Concurrency:       10,
		BatchPauseMS:      2000,
		RequestTimeoutMS:  30000,
		RequestsPerSecond: 0,
		Pipelines:         DefaultPipelines(),
	}
}

// DefaultPipelines returns the built-in pipeline definitions.
func DefaultPipelines() map[string]Pipeline {
	return map[string]Pipeline{
		"cmj": {
			Kind:        KindComposite,
			TestType:    "CMJ",
			Table:       "cmj_results",
			ScoreColumn: "cmj_composite_score",
			Weights: map[string]float64{
				"CONCENTRIC_IMPULSE_Trial_Ns":                0.2,
				"ECCENTRIC_BRAKING_RFD_Trial_N_s":            0.1,
				"PEAK_CONCENTRIC_FORCE_Trial_N":              0.2,
				"BODYMASS_RELATIVE_TAKEOFF_POWER_Trial_W_kg": 0.3,
				"RSI_MODIFIED_Trial_RSI_mod":                 0.1,
				"ECCENTRIC_BRAKING_IMPULSE_Trial_Ns":         0.1,
			},
			Normalize:    true,
			NormalizeMin: 50,
			NormalizeMax: 100,
		},
		"hj": {
			Kind:        KindHop,
			TestType:    "HJ",
			Table:       "hj_results",
			ScoreColumn: "hop_rsi_avg_best_5",
			BestOf:      5,
		},
		"imtp": {
			Kind:     KindPeak,
			TestType: "IMTP",
			Table:    "imtp_results",
			Metric:   "PEAK_VERTICAL_FORCE_Trial_N",
			Columns: []string{
				"ISO_BM_REL_FORCE_PEAK_Trial_N_kg",
				"PEAK_VERTICAL_FORCE_Trial_N",
			},
		},
		"ppu": {
			Kind:     KindPeak,
			TestType: "PPU",
			Table:    "ppu_results",
			Metric:   "PEAK_CONCENTRIC_FORCE_Trial_N",
			Columns: []string{
				"CONCENTRIC_DURATION_Trial_ms",
				"ECCENTRIC_BRAKING_RFD_Trial_N_s",
				"MEAN_ECCENTRIC_FORCE_Asym_N",
				"MEAN_TAKEOFF_FORCE_Asym_N",
				"PEAK_CONCENTRIC_FORCE_Asym_N",
				"PEAK_CONCENTRIC_FORCE_Trial_N",
				"PEAK_ECCENTRIC_FORCE_Asym_N",
				"RELATIVE_PEAK_CONCENTRIC_FORCE_Trial_N_kg",
			},
		},
	}
}

// DefaultOrder is the run order of the built-in pipelines.
var DefaultOrder = []string{"cmj", "hj", "imtp", "ppu"} //nolint:gochecknoglobals // fixed run order

// PipelineNames returns the configured pipeline names, built-ins first in
// their run order and any others sorted after them.
func (c *Config) PipelineNames() []string {
	names := make([]string, 0, len(c.Pipelines))
	seen := make(map[string]bool, len(DefaultOrder))
	for _, n := range DefaultOrder {
		if _, ok := c.Pipelines[n]; ok {
			names = append(names, n)
			seen[n] = true
		}
	}
	var extra []string
	for n := range c.Pipelines {
		if !seen[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// BatchPause returns BatchPauseMS as a duration.
func (c *Config) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseMS) * time.Millisecond
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// ModifiedFromTime parses ModifiedFrom. Load has already validated it.
func (c *Config) ModifiedFromTime() time.Time {
	t, err := time.Parse(time.RFC3339, c.ModifiedFrom)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// RunColumns returns the metric columns a pipeline writes. Composite pipelines
// without explicit columns write their weighted metrics.
func (p Pipeline) RunColumns() []string {
	if len(p.Columns) > 0 || p.Kind != KindComposite {
		return append([]string(nil), p.Columns...)
	}
	cols := make([]string, 0, len(p.Weights))
	for k := range p.Weights {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Package service runs the ingestion pipelines: it discovers athletes and
// their tests, fetches trial results in paced batches, selects a best trial
// per test and appends one row per test to the sink.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/forcedeck/internal/adapters/auth"
	"github.com/okian/forcedeck/internal/adapters/fetch"
	"github.com/okian/forcedeck/internal/adapters/sink"
	"github.com/okian/forcedeck/internal/domain/model"
	"github.com/okian/forcedeck/internal/domain/pivot"
	"github.com/okian/forcedeck/internal/domain/record"
	"github.com/okian/forcedeck/pkg/logger"
	"github.com/okian/forcedeck/pkg/metrics"
)

// Reasons a fetched test produces no record.
const (
	ReasonEmpty        = "empty"
	ReasonContract     = "contract"
	ReasonNoValidTrial = "no_valid_trial"
	ReasonUnknownTest  = "unknown_test"
)

// Directory lists athletes and their tests.
type Directory interface {
	Profiles(ctx context.Context) ([]model.AthleteProfile, error)
	Tests(ctx context.Context, modifiedFrom time.Time, profileID string) ([]model.TestSession, error)
}

// Report summarizes one pipeline invocation.
type Report struct {
	Pipeline string        `json:"pipeline"`
	Table    string        `json:"table"`
	Tests    int           `json:"tests"`
	Dropped  int           `json:"dropped"`
	Records  int           `json:"records"`
	Uploaded int           `json:"uploaded"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Failed reports whether the pipeline ended in error.
func (r Report) Failed() bool { return r.Err != nil }

// Service wires discovery, fetching, selection and the sink.
type Service struct {
	dir    Directory
	trials fetch.Fetcher
	tokens auth.Provider
	out    sink.Sink

	modifiedFrom time.Time
	maxProfiles  int
	fetchOpts    []fetch.Option
	recordOpts   []record.Option
	logger       logger.Logger

	mu      sync.RWMutex
	reports []Report
	running string
}

// New creates a Service. Use options to configure discovery and fetching.
func New(dir Directory, trials fetch.Fetcher, tokens auth.Provider, out sink.Sink, opts ...Option) *Service {
	s := &Service{
		dir:    dir,
		trials: trials,
		tokens: tokens,
		out:    out,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// index holds the discovered sessions grouped by test type and keyed by id.
type index struct {
	byType   map[string][]string
	contexts map[string]model.TestContext
}

func (ix index) ids(testType string) []string {
	return ix.byType[strings.ToUpper(testType)]
}

// Run discovers tests once and runs each pipeline back to back. The returned
// error is set when discovery fails or the credentials are refused; reports
// cover every pipeline that started. A failing pipeline does not stop the
// ones after it.
func (s *Service) Run(ctx context.Context, pipelines []Pipeline) ([]Report, error) {
	s.mu.Lock()
	s.reports = nil
	s.mu.Unlock()
	defer s.setRunning("")

	ix, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(pipelines))
	for _, p := range pipelines {
		rep := s.runPipeline(ctx, p, ix)
		reports = append(reports, rep)
		s.publish(rep)
		if errors.Is(rep.Err, auth.ErrAuthFailed) || ctx.Err() != nil {
			return reports, rep.Err
		}
	}
	return reports, nil
}

func (s *Service) discover(ctx context.Context) (index, error) {
	if _, err := s.tokens.Token(ctx); err != nil {
		return index{}, fmt.Errorf("acquire token: %w", err)
	}
	profiles, err := s.dir.Profiles(ctx)
	if err != nil {
		return index{}, fmt.Errorf("list profiles: %w", err)
	}
	if s.maxProfiles > 0 && len(profiles) > s.maxProfiles {
		profiles = profiles[:s.maxProfiles]
	}
	s.logger.Info(ctx, "profiles listed", logger.Int("profiles", len(profiles)))

	ix := index{byType: map[string][]string{}, contexts: map[string]model.TestContext{}}
	for _, p := range profiles {
		tests, err := s.dir.Tests(ctx, s.modifiedFrom, p.ProfileID)
		if err != nil {
			if errors.Is(err, auth.ErrAuthFailed) || ctx.Err() != nil {
				return index{}, fmt.Errorf("list tests: %w", err)
			}
			s.logger.Warn(ctx, "test listing failed, skipping athlete",
				logger.String("profile_id", p.ProfileID), logger.Error(err))
			continue
		}
		for _, t := range tests {
			if _, dup := ix.contexts[t.TestID]; dup {
				continue
			}
			ix.contexts[t.TestID] = model.TestContext{Athlete: p, Test: t}
			key := strings.ToUpper(t.TestType)
			ix.byType[key] = append(ix.byType[key], t.TestID)
		}
	}
	s.logger.Info(ctx, "tests listed", logger.Int("tests", len(ix.contexts)), logger.Int("types", len(ix.byType)))
	return ix, nil
}

func (s *Service) runPipeline(ctx context.Context, p Pipeline, ix index) Report {
	start := time.Now()
	s.setRunning(p.Name)
	log := s.logger.Named(p.Name)
	ids := ix.ids(p.TestType)
	rep := Report{Pipeline: p.Name, Table: p.Table, Tests: len(ids)}
	log.Info(ctx, "pipeline started", logger.String("test_type", p.TestType), logger.Int("tests", len(ids)))

	assembler := record.NewAssembler(p.Columns, s.recordOpts...)
	var records []record.OutputRecord
	drop := func(testID, reason string, err error) {
		rep.Dropped++
		metrics.RecordTestDropped(p.Name, reason)
		fields := []logger.Field{logger.String("test_id", testID), logger.String("reason", reason)}
		if err != nil {
			fields = append(fields, logger.Error(err))
		}
		log.Warn(ctx, "test produced no record", fields...)
	}

	opts := append([]fetch.Option{fetch.WithName(p.Name), fetch.WithLogger(log)}, s.fetchOpts...)
	orch := fetch.New(s.trials, s.tokens, opts...)
	runErr := orch.Run(ctx, ids, func(r fetch.Result) {
		if r.Err != nil {
			// Counted and logged by the orchestrator.
			rep.Dropped++
			return
		}
		tc, ok := ix.contexts[r.TestID]
		if !ok {
			drop(r.TestID, ReasonUnknownTest, nil)
			return
		}
		m := pivot.FromMeasurements(r.Measurements)
		if m.Empty() {
			drop(r.TestID, ReasonEmpty, nil)
			return
		}
		res, err := p.Selector.Select(m)
		if err != nil {
			log.Error(ctx, "trial selection failed", logger.String("test_id", r.TestID), logger.Error(err))
			drop(r.TestID, ReasonContract, err)
			return
		}
		if !res.Valid {
			drop(r.TestID, ReasonNoValidTrial, nil)
			return
		}
		rec := assembler.Assemble(tc.Athlete, tc.Test, res)
		metrics.RecordRecordAssembled(p.Name)
		metrics.RecordBestScore(p.Name, res.BestScore)
		log.Debug(ctx, "record assembled",
			logger.String("test_id", r.TestID), logger.String("trial", res.BestTrial), logger.Float64("score", res.BestScore))
		records = append(records, rec)
	})
	rep.Records = len(records)

	if runErr != nil {
		rep.Err = fmt.Errorf("%w: %s: fetch: %w", ErrPipelineFailed, p.Name, runErr)
	} else {
		if p.Normalize {
			record.Normalize(records, p.NormalizeMin, p.NormalizeMax)
		}
		n, err := s.upload(ctx, p, assembler.Columns(), records)
		rep.Uploaded = n
		if err != nil {
			rep.Err = fmt.Errorf("%w: %s: sink: %w", ErrPipelineFailed, p.Name, err)
		}
	}

	rep.Duration = time.Since(start)
	metrics.RecordPipelineDuration(p.Name, rep.Duration)
	if rep.Err != nil {
		metrics.RecordPipelineFailure(p.Name)
		log.Error(ctx, "pipeline failed", logger.Error(rep.Err))
		return rep
	}
	log.Info(ctx, "pipeline finished",
		logger.Int("tests", rep.Tests), logger.Int("records", rep.Records),
		logger.Int("dropped", rep.Dropped), logger.Int("uploaded", rep.Uploaded),
		logger.Duration("elapsed", rep.Duration))
	return rep
}

// upload appends every record in one batch. No records is a no-op.
func (s *Service) upload(ctx context.Context, p Pipeline, columns []string, records []record.OutputRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	b := sink.Batch{
		Table:   p.Table,
		Columns: record.Columns(columns, p.ScoreColumn),
		Rows:    make([][]any, len(records)),
	}
	for i, r := range records {
		b.Rows[i] = r.Row(columns, p.ScoreColumn)
	}
	return s.out.Append(ctx, b)
}

func (s *Service) publish(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func (s *Service) setRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = name
}

// GetStats returns the progress of the current run for the status server.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	done := make([]map[string]any, 0, len(s.reports))
	for _, r := range s.reports {
		entry := map[string]any{
			"pipeline":    r.Pipeline,
			"table":       r.Table,
			"tests":       r.Tests,
			"dropped":     r.Dropped,
			"records":     r.Records,
			"uploaded":    r.Uploaded,
			"duration_ms": r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		}
		done = append(done, entry)
	}
	return map[string]any{
		"running":   s.running,
		"completed": done,
	}
}

// Package record turns a selected trial into a flat output record.
package record

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/forcedeck/internal/domain/model"
	"github.com/okian/forcedeck/internal/domain/scoring"
)

// Fixed output columns shared by every pipeline.
const (
	ColResultID     = "result_id"
	ColAssessmentID = "assessment_id"
	ColAthleteName  = "athlete_name"
	ColTestDate     = "test_date"
	ColAgeAtTest    = "age_at_test"
)

// Lower bound (exclusive) for a plausible birth year.
const minBirthYear = 1920

// dateLayouts are the date-of-birth formats accepted by AgeAt.
var dateLayouts = []string{ //nolint:gochecknoglobals // fixed lookup table
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// OutputRecord is one row ready for the sink.
type OutputRecord struct {
	ResultID     string
	AssessmentID string
	AthleteName  string
	TestDate     time.Time
	AgeAtTest    *int
	// Metrics holds every configured column, NaN where the trial had no value.
	Metrics map[string]float64
	Score   float64
}

// Columns returns the sink columns for records carrying metrics, followed by
// scoreColumn when it is set.
func Columns(metrics []string, scoreColumn string) []string {
	cols := []string{ColResultID, ColAssessmentID, ColAthleteName, ColTestDate, ColAgeAtTest}
	cols = append(cols, metrics...)
	if scoreColumn != "" {
		cols = append(cols, scoreColumn)
	}
	return cols
}

// Row flattens the record for the column order given by Columns. NaN metric
// values and a missing age become nil.
func (r OutputRecord) Row(metrics []string, scoreColumn string) []any {
	row := []any{r.ResultID, r.AssessmentID, r.AthleteName, r.TestDate, nil}
	if r.AgeAtTest != nil {
		row[4] = *r.AgeAtTest
	}
	for _, m := range metrics {
		row = append(row, nullable(r.Metrics[m], has(r.Metrics, m)))
	}
	if scoreColumn != "" {
		row = append(row, nullable(r.Score, true))
	}
	return row
}

func has(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}

func nullable(v float64, ok bool) any {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// Assembler builds OutputRecords with a stable column shape.
type Assembler struct {
	columns []string
	newID   func() string
	now     func() time.Time
}

// NewAssembler returns an assembler whose records carry exactly columns.
func NewAssembler(columns []string, opts ...Option) *Assembler {
	a := &Assembler{
		columns: append([]string(nil), columns...),
		newID:   func() string { return uuid.NewString() },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Columns returns the metric columns of assembled records.
func (a *Assembler) Columns() []string { return append([]string(nil), a.columns...) }

// Assemble merges the athlete, the session and the selected trial.
func (a *Assembler) Assemble(p model.AthleteProfile, s model.TestSession, res scoring.Result) OutputRecord {
	metrics := make(map[string]float64, len(a.columns))
	for _, c := range a.columns {
		v, ok := res.Metrics[c]
		if !ok {
			v = math.NaN()
		}
		metrics[c] = v
	}
	return OutputRecord{
		ResultID:     a.newID(),
		AssessmentID: s.TestID,
		AthleteName:  p.FullName(),
		TestDate:     dateOf(s.ModifiedAt),
		AgeAtTest:    AgeAt(p.DateOfBirth, s.ModifiedAt, a.now()),
		Metrics:      metrics,
		Score:        res.BestScore,
	}
}

// AgeAt returns the age in whole years on testDate, or nil when dob is empty,
// unparseable, or its year is not within (1920, now.Year()).
func AgeAt(dob string, testDate, now time.Time) *int {
	born, ok := parseDate(dob)
	if !ok || born.Year() <= minBirthYear || born.Year() >= now.Year() {
		return nil
	}
	age := testDate.Year() - born.Year()
	if testDate.Month() < born.Month() || (testDate.Month() == born.Month() && testDate.Day() < born.Day()) {
		age--
	}
	return &age
}

// dateOf drops the clock part of t, keeping its UTC calendar date.
func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Normalize min-max rescales the scores of records into [lo, hi] in place.
// Records with a NaN score keep it. When every defined score is equal they
// all become hi.
func Normalize(records []OutputRecord, lo, hi float64) {
	minS, maxS := math.Inf(1), math.Inf(-1)
	for _, r := range records {
		if math.IsNaN(r.Score) {
			continue
		}
		minS = math.Min(minS, r.Score)
		maxS = math.Max(maxS, r.Score)
	}
	if math.IsInf(minS, 1) {
		return
	}
	for i := range records {
		if math.IsNaN(records[i].Score) {
			continue
		}
		if maxS == minS {
			records[i].Score = hi
			continue
		}
		records[i].Score = lo + (records[i].Score-minS)/(maxS-minS)*(hi-lo)
	}
}

package vald

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/okian/forcedeck/internal/domain/model"
)

// timeLayouts are the timestamp formats the service has been seen to send.
var timeLayouts = []string{ //nolint:gochecknoglobals // fixed lookup table
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

type profilesResponse struct {
	Profiles []profilePayload `json:"profiles"`
}

type profilePayload struct {
	ProfileID   string `json:"profileId" validate:"required"`
	GivenName   string `json:"givenName"`
	FamilyName  string `json:"familyName"`
	DateOfBirth string `json:"dateOfBirth"`
}

func (p profilePayload) model() model.AthleteProfile {
	return model.AthleteProfile{
		ProfileID:   p.ProfileID,
		GivenName:   strings.TrimSpace(p.GivenName),
		FamilyName:  strings.TrimSpace(p.FamilyName),
		DateOfBirth: p.DateOfBirth,
	}
}

type testsResponse struct {
	Tests []testPayload `json:"tests"`
}

type testPayload struct {
	TestID          string `json:"testId" validate:"required"`
	ModifiedDateUtc string `json:"modifiedDateUtc" validate:"required"`
	TestType        string `json:"testType" validate:"required"`
}

func (t testPayload) model() (model.TestSession, error) {
	at, err := parseTime(t.ModifiedDateUtc)
	if err != nil {
		return model.TestSession{}, fmt.Errorf("%w: test %s: %w", ErrDataShape, t.TestID, err)
	}
	return model.TestSession{TestID: t.TestID, TestType: t.TestType, ModifiedAt: at}, nil
}

type trialPayload struct {
	Results []resultPayload `json:"results" validate:"dive"`
}

type resultPayload struct {
	Value      *float64           `json:"value"`
	Time       int64              `json:"time"`
	Limb       string             `json:"limb"`
	Repeat     int                `json:"repeat"`
	Definition *definitionPayload `json:"definition" validate:"required"`
}

type definitionPayload struct {
	ID          flexID `json:"id"`
	Result      string `json:"result"`
	Description string `json:"description"`
	Name        string `json:"name"`
	Unit        string `json:"unit"`
	Repeatable  bool   `json:"repeatable"`
	Asymmetry   bool   `json:"asymmetry"`
}

func (r resultPayload) model() model.Measurement {
	v := math.NaN()
	if r.Value != nil {
		v = *r.Value
	}
	d := r.Definition
	return model.Measurement{
		Value:  v,
		Time:   r.Time,
		Limb:   r.Limb,
		Repeat: r.Repeat,
		Definition: model.Definition{
			ID:          string(d.ID),
			Result:      d.Result,
			Description: d.Description,
			Name:        d.Name,
			Unit:        d.Unit,
			Repeatable:  d.Repeatable,
			Asymmetry:   d.Asymmetry,
		},
	}
}

// flexID accepts an identifier sent either as a JSON string or a number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	*f = flexID(strings.Trim(string(b), `"`))
	return nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// LimbTrial is the limb tag the testing service uses for measurements that
// are not limb-specific.
const LimbTrial = "Trial"

// Definition describes what a measurement measures.
type Definition struct {
	ID          string
	Result      string // result key, e.g. "PEAK_CONCENTRIC_FORCE"
	Description string
	Name        string
	Unit        string // unit label as sent by the service, e.g. "Newton Per Second"
	Repeatable  bool
	Asymmetry   bool
}

// Measurement is one observed value from one trial repetition.
type Measurement struct {
	Value      float64 // NaN when the service sent null
	Time       int64
	Limb       string
	Repeat     int
	Definition Definition
}

// AthleteProfile identifies an athlete.
type AthleteProfile struct {
	ProfileID   string
	GivenName   string
	FamilyName  string
	DateOfBirth string // raw, as sent; may be empty or unparseable
}

// FullName joins the trimmed given and family names.
func (p AthleteProfile) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.GivenName) + " " + strings.TrimSpace(p.FamilyName))
}

// TestSession is one recorded test for an athlete.
type TestSession struct {
	TestID     string
	TestType   string // e.g. "CMJ", "IMTP", "PPU", "HJ"
	ModifiedAt time.Time
}

// TestContext pairs a session with the athlete it belongs to. Completed
// fetches are matched back to their context by TestID.
type TestContext struct {
	Athlete AthleteProfile
	Test    TestSession
}

// Package metricid builds canonical, storage-safe metric identifiers from a
// (result key, limb, unit label) triple.
//
// An identifier has the shape RESULT_LIMB_UNIT, e.g.
// "PEAK_CONCENTRIC_FORCE_Trial_N" or "ECCENTRIC_BRAKING_RFD_Trial_N_s".
// Identifiers never contain '/' and never end in '_', so they can be used
// directly as column names.
package metricid

import (
	"strings"
)

// Missing is substituted for an absent result key or limb.
const Missing = "None"

// unitSuffixes maps the service's unit labels to the suffix used in identifiers.
var unitSuffixes = map[string]string{ //nolint:gochecknoglobals // fixed lookup table
	"Centimeter":                       "cm",
	"Inch":                             "in",
	"Joule":                            "J",
	"Kilo":                             "kg",
	"Meter Per Second":                 "m/s",
	"Meter Per Second Per Second":      "m/s²",
	"Millisecond":                      "ms",
	"Second":                           "s",
	"Newton":                           "N",
	"Newton Per Centimeter":            "N/cm",
	"Newton Per Kilo":                  "N/kg",
	"Newton Per Meter":                 "N/m",
	"Newton Per Second":                "N/s",
	"Newton Per Second Per Centimeter": "N/s/cm",
	"Newton Per Second Per Kilo":       "N/s/kg",
	"Newton Second":                    "Ns",
	"Newton Second Per Kilo":           "Ns/kg",
	"Watt":                             "W",
	"Watt Per Kilo":                    "W/kg",
	"Watt Per Second":                  "W/s",
	"Watt Per Second Per Kilo":         "W/s/kg",
	"Percent":                          "%",
	"Pound":                            "lb",
	"RSIModified":                      "RSI_mod",
	"No Unit":                          "",
}

// UnitSuffix translates a unit label. Unknown labels pass through unchanged.
func UnitSuffix(label string) string {
	if s, ok := unitSuffixes[label]; ok {
		return s
	}
	return label
}

// Encode returns the identifier for a measurement.
func Encode(resultKey, limb, unitLabel string) string {
	if resultKey == "" {
		resultKey = Missing
	}
	if limb == "" {
		limb = Missing
	}
	return Sanitize(resultKey + "_" + limb + "_" + UnitSuffix(unitLabel))
}

// Sanitize replaces '/' with '_' and trims trailing '_'. Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(id string) string {
	return strings.TrimRight(strings.ReplaceAll(id, "/", "_"), "_")
}

package archive

import (
	"strings"
)

// Canonical CSV headers per measurement. Placeholder files synthesized for
// missing artifacts carry exactly this row and nothing else.
var canonicalHeaders = map[string]string{
	"Mouse Movement":  "Time,running_time,x,y",
	"Mouse Clicks":    "Time,running_time,x,y",
	"Mouse Scrolls":   "Time,running_time,x,y",
	"Keyboard Inputs": "Time,running_time,keys",
}

// CanonicalHeader returns the header row for a measurement's CSV schema. The
// second return is false for measurements without a CSV schema (recordings,
// heat maps).
func CanonicalHeader(measurementName string) (string, bool) {
	header, ok := canonicalHeaders[measurementName]
	return header, ok
}

// stripSpace removes all whitespace from a name so it is safe as a path
// segment. Matches the tracker's artifact naming.
func stripSpace(name string) string {
	return strings.Join(strings.Fields(name), "")
}

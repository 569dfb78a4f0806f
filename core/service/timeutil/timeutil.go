// Package timeutil holds the timezone and interval arithmetic shared by the
// appointment store and the sync engine. Overlap has exactly one
// implementation; every caller uses it.
package timeutil

import (
	"time"

	"schedsync/pkg/apperr"
)

// ValidateTimezone reports whether name resolves as an IANA zone.
func ValidateTimezone(name string) bool {
	if name == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// ToUTC parses an RFC 3339 local instant in the given zone and returns it
// in UTC. Instants carrying their own offset are honored as written.
func ToUTC(value, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, apperr.InvalidInput("timezone", "not a valid IANA zone")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		// Accept a zone-less local form authored against the tenant zone.
		t, err = time.ParseInLocation("2006-01-02T15:04:05", value, loc)
		if err != nil {
			return time.Time{}, apperr.InvalidInput("time", "not a parseable instant")
		}
	}
	return t.UTC(), nil
}

// Overlaps is the half-open interval overlap test. Intervals that only
// touch at a boundary do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

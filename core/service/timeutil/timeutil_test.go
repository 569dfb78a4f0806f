package timeutil

import (
	"testing"
	"time"

	"schedsync/pkg/apperr"
)

func TestValidateTimezone(t *testing.T) {
	tests := []struct {
		name string
		zone string
		want bool
	}{
		{"utc", "UTC", true},
		{"region zone", "America/New_York", true},
		{"asia zone", "Asia/Seoul", true},
		{"empty", "", false},
		{"garbage", "Not/A_Zone", false},
		{"offset string", "+09:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateTimezone(tt.zone); got != tt.want {
				t.Errorf("ValidateTimezone(%q) = %v, want %v", tt.zone, got, tt.want)
			}
		})
	}
}

func TestToUTC(t *testing.T) {
	t.Run("rfc3339 with offset", func(t *testing.T) {
		got, err := ToUTC("2026-03-01T09:00:00+09:00", "Asia/Seoul")
		if err != nil {
			t.Fatalf("ToUTC: %v", err)
		}
		want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("zone-less local form", func(t *testing.T) {
		got, err := ToUTC("2026-03-01T09:00:00", "Asia/Seoul")
		if err != nil {
			t.Fatalf("ToUTC: %v", err)
		}
		want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("bad timezone", func(t *testing.T) {
		_, err := ToUTC("2026-03-01T09:00:00Z", "Not/A_Zone")
		if !apperr.HasCode(err, apperr.CodeInvalidInput) {
			t.Errorf("err = %v, want INVALID_INPUT", err)
		}
	})

	t.Run("bad instant", func(t *testing.T) {
		_, err := ToUTC("yesterday-ish", "UTC")
		if !apperr.HasCode(err, apperr.CodeInvalidInput) {
			t.Errorf("err = %v, want INVALID_INPUT", err)
		}
	})
}

func TestOverlaps(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2026, 3, 1, h, m, 0, 0, time.UTC)
	}

	tests := []struct {
		name                           string
		aStart, aEnd, bStart, bEnd     time.Time
		want                           bool
	}{
		{"identical", at(9, 0), at(10, 0), at(9, 0), at(10, 0), true},
		{"partial overlap", at(9, 0), at(10, 0), at(9, 30), at(10, 30), true},
		{"contained", at(9, 0), at(12, 0), at(10, 0), at(11, 0), true},
		{"touching boundary", at(9, 0), at(10, 0), at(10, 0), at(11, 0), false},
		{"touching boundary reversed", at(10, 0), at(11, 0), at(9, 0), at(10, 0), false},
		{"disjoint", at(9, 0), at(10, 0), at(14, 0), at(15, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
			// Symmetry in the arguments.
			if got := Overlaps(tt.bStart, tt.bEnd, tt.aStart, tt.aEnd); got != tt.want {
				t.Errorf("Overlaps (swapped) = %v, want %v", got, tt.want)
			}
		})
	}
}

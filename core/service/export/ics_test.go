package export

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"schedsync/core/domain"
	"schedsync/pkg/apperr"
)

func testAppointment(status domain.AppointmentStatus) *domain.Appointment {
	desc := "quarterly review"
	loc := "Room 4"
	return &domain.Appointment{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		Title:       "Planning session",
		Description: &desc,
		Status:      status,
		StartAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndAt:       time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC),
		Timezone:    "Asia/Seoul",
		Location:    &loc,
	}
}

func TestICSFields(t *testing.T) {
	appt := testAppointment(domain.StatusConfirmed)
	payload, err := ICS(appt)
	if err != nil {
		t.Fatalf("ICS: %v", err)
	}
	out := string(payload)

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"UID:" + appt.ID.String(),
		"SUMMARY:Planning session",
		"DESCRIPTION:quarterly review",
		"LOCATION:Room 4",
		"STATUS:CONFIRMED",
		"END:VEVENT",
		"END:VCALENDAR",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("payload missing %q\n%s", want, out)
		}
	}
	// 2026-03-01T00:00:00Z is 09:00 in Seoul.
	if !strings.Contains(out, "20260301T090000") {
		t.Errorf("DTSTART not rendered in the appointment timezone\n%s", out)
	}
}

func TestICSStatusMapping(t *testing.T) {
	tests := []struct {
		status domain.AppointmentStatus
		want   string
	}{
		{domain.StatusScheduled, "STATUS:TENTATIVE"},
		{domain.StatusConfirmed, "STATUS:CONFIRMED"},
		{domain.StatusCompleted, "STATUS:CONFIRMED"},
		{domain.StatusCancelled, "STATUS:CANCELLED"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			payload, err := ICS(testAppointment(tt.status))
			if err != nil {
				t.Fatalf("ICS: %v", err)
			}
			if !strings.Contains(string(payload), tt.want) {
				t.Errorf("payload missing %q", tt.want)
			}
		})
	}
}

func TestICSBadTimezone(t *testing.T) {
	appt := testAppointment(domain.StatusScheduled)
	appt.Timezone = "Not/A_Zone"
	if _, err := ICS(appt); !apperr.HasCode(err, apperr.CodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

// Package export renders appointments as iCalendar payloads. This is a
// pure transform; it never touches the sync engine's state.
package export

import (
	"bytes"
	"time"

	"github.com/emersion/go-ical"

	"schedsync/core/domain"
	"schedsync/pkg/apperr"
)

const productID = "-//schedsync//EN"

// icsStatus maps the appointment status machine onto iCalendar STATUS.
func icsStatus(status domain.AppointmentStatus) string {
	switch status {
	case domain.StatusCancelled:
		return "CANCELLED"
	case domain.StatusConfirmed, domain.StatusCompleted:
		return "CONFIRMED"
	default:
		return "TENTATIVE"
	}
}

// ICS renders one appointment as a VCALENDAR payload. DTSTART/DTEND are
// emitted in the appointment's authoring timezone.
func ICS(appt *domain.Appointment) ([]byte, error) {
	loc, err := time.LoadLocation(appt.Timezone)
	if err != nil {
		return nil, apperr.InvalidInput("timezone", "not a valid IANA zone")
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, appt.ID.String())
	ve.Props.SetText(ical.PropSummary, appt.Title)
	if appt.Description != nil && *appt.Description != "" {
		ve.Props.SetText(ical.PropDescription, *appt.Description)
	}
	if appt.Location != nil && *appt.Location != "" {
		ve.Props.SetText(ical.PropLocation, *appt.Location)
	}
	ve.Props.SetText(ical.PropStatus, icsStatus(appt.Status))
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, appt.StartAt.In(loc))
	ve.Props.SetDateTime(ical.PropDateTimeEnd, appt.EndAt.In(loc))
	cal.Children = append(cal.Children, ve)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, apperr.Internal("encode calendar", err)
	}
	return buf.Bytes(), nil
}

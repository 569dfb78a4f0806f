package domain

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

// IsTerminal reports whether no further transition is permitted.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransitionTo reports whether the status machine permits the move.
// A transition to the same status is not permitted.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	switch s {
	case StatusScheduled:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled || next == StatusCompleted
	default:
		return false
	}
}

// StatusChange is one append-only status history entry. From is empty for
// the entry written at creation.
type StatusChange struct {
	From      AppointmentStatus `json:"from,omitempty"`
	To        AppointmentStatus `json:"to"`
	Reason    string            `json:"reason,omitempty"`
	Actor     uuid.UUID         `json:"actor"`
	ChangedAt time.Time         `json:"changed_at"`
}

// Appointment is one bookable slot. Start/End are stored UTC; Timezone is
// the IANA zone the times were authored in. Appointments are never hard
// deleted, terminal statuses are retained for audit.
type Appointment struct {
	ID          uuid.UUID         `json:"id"`
	TenantID    uuid.UUID         `json:"tenant_id"`
	Title       string            `json:"title"`
	Description *string           `json:"description,omitempty"`
	Status      AppointmentStatus `json:"status"`
	StartAt     time.Time         `json:"start_at"`
	EndAt       time.Time         `json:"end_at"`
	Timezone    string            `json:"timezone"`
	CustomerID  *uuid.UUID        `json:"customer_id,omitempty"`
	AssigneeID  *uuid.UUID        `json:"assignee_id,omitempty"`
	Location    *string           `json:"location,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	CreatedBy   uuid.UUID         `json:"created_by"`
	History     []StatusChange    `json:"history,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// AppointmentDraft is the provider-neutral shape a remote event parses into
// before it is adopted or reconciled locally.
type AppointmentDraft struct {
	Title       string         `json:"title"`
	Description *string        `json:"description,omitempty"`
	StartAt     time.Time      `json:"start_at"`
	EndAt       time.Time      `json:"end_at"`
	Timezone    string         `json:"timezone"`
	Location    *string        `json:"location,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

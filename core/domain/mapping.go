package domain

import (
	"time"

	"github.com/google/uuid"
)

type SyncState string

const (
	// SyncStateOK means local and remote are believed consistent as of
	// LastSyncedAt.
	SyncStateOK SyncState = "OK"
	// SyncStateNeedsUpdate marks a local mutation or remote-origin signal
	// since the last push; eligible for the next sync cycle.
	SyncStateNeedsUpdate SyncState = "NEEDS_UPDATE"
	// SyncStateConflict marks a change-tag divergence detected under safe
	// mode. Requires explicit resolution; never auto-overwritten.
	SyncStateConflict SyncState = "CONFLICT"
	// SyncStateError marks a failed sync attempt, retained with LastError.
	SyncStateError SyncState = "ERROR"
)

// EventMapping correlates one local appointment with one external event for
// one provider. (TenantID, Provider, AppointmentID) is unique; the mapping
// row is the source of truth for whether local is consistent with remote.
// Only the sync orchestrator mutates mappings.
type EventMapping struct {
	ID                 int64        `json:"id"`
	TenantID           uuid.UUID    `json:"tenant_id"`
	Provider           ProviderType `json:"provider"`
	AppointmentID      uuid.UUID    `json:"appointment_id"`
	ConnectionID       int64        `json:"connection_id"`
	ExternalCalendarID string       `json:"external_calendar_id"`
	ExternalEventID    string       `json:"external_event_id"`
	ChangeTag          *string      `json:"change_tag,omitempty"`
	SyncState          SyncState    `json:"sync_state"`
	LastSyncedAt       *time.Time   `json:"last_synced_at,omitempty"`
	LastError          *string      `json:"last_error,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

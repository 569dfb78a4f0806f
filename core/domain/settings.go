package domain

import (
	"time"

	"github.com/google/uuid"
)

// TenantSettings are the per-tenant calendar defaults. Rows are created
// lazily on first access with safe defaults.
type TenantSettings struct {
	TenantID           uuid.UUID `json:"tenant_id"`
	DefaultTimezone    string    `json:"default_timezone"`
	PreventOverbooking bool      `json:"prevent_overbooking"`
	DefaultCalendarID  *string   `json:"default_calendar_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultTenantSettings returns the lazy-creation defaults.
func DefaultTenantSettings(tenantID uuid.UUID) *TenantSettings {
	now := time.Now().UTC()
	return &TenantSettings{
		TenantID:           tenantID,
		DefaultTimezone:    "UTC",
		PreventOverbooking: false,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

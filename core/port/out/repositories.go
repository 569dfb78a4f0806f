package out

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schedsync/core/domain"
)

// ============================================================
// Appointment repository
// ============================================================

type AppointmentRepository interface {
	Create(ctx context.Context, appt *domain.Appointment) error
	Update(ctx context.Context, appt *domain.Appointment) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Appointment, error)
	// ListByAssigneeInWindow returns non-terminal appointments for the
	// assignee whose interval overlaps [from, to).
	ListByAssigneeInWindow(ctx context.Context, tenantID, assigneeID uuid.UUID, from, to time.Time) ([]*domain.Appointment, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, from, to *time.Time) ([]*domain.Appointment, error)
	AppendHistory(ctx context.Context, apptID uuid.UUID, change domain.StatusChange) error
}

// ============================================================
// Settings repository
// ============================================================

type SettingsRepository interface {
	// GetOrCreate returns the tenant's settings, creating the row with
	// defaults on first access.
	GetOrCreate(ctx context.Context, tenantID uuid.UUID) (*domain.TenantSettings, error)
	Update(ctx context.Context, settings *domain.TenantSettings) error
}

// ============================================================
// Connection repository
// ============================================================

type ConnectionRepository interface {
	Upsert(ctx context.Context, conn *domain.CalendarConnection) error
	GetByTenantProvider(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType) (*domain.CalendarConnection, error)
	GetByWebhookChannel(ctx context.Context, channelID string) (*domain.CalendarConnection, error)
	ListEnabledByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.CalendarConnection, error)
	ListExpiringSubscriptions(ctx context.Context, before time.Time) ([]*domain.CalendarConnection, error)
	UpdateTokens(ctx context.Context, connID int64, accessToken, refreshToken string, expiresAt time.Time) error
	UpdateWebhook(ctx context.Context, connID int64, channelID, resourceID string, expiration time.Time, clientState string) error
	// Disconnect disables the row and clears tokens and webhook fields.
	// The row itself is retained.
	Disconnect(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType) error
}

// ============================================================
// Mapping repository
// ============================================================

type MappingRepository interface {
	Upsert(ctx context.Context, m *domain.EventMapping) error
	GetByAppointment(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType, apptID uuid.UUID) (*domain.EventMapping, error)
	GetByExternalEvent(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType, calendarID, eventID string) (*domain.EventMapping, error)
	ListByAppointment(ctx context.Context, tenantID, apptID uuid.UUID) ([]*domain.EventMapping, error)
	// MarkStaleByAppointment moves all of the appointment's mappings to
	// NEEDS_UPDATE.
	MarkStaleByAppointment(ctx context.Context, tenantID, apptID uuid.UUID) error
	// MarkStaleByTenantProvider moves all of the tenant's mappings for a
	// provider to NEEDS_UPDATE. Webhook ingest path.
	MarkStaleByTenantProvider(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType) error
	SetState(ctx context.Context, mappingID int64, state domain.SyncState, lastError *string) error
}

// ============================================================
// Tenant lookup
// ============================================================

// TenantDirectory resolves tenant-level identities owned by the excluded
// auth subsystem.
type TenantDirectory interface {
	// DefaultOwner returns the user that adopts remote-origin
	// appointments for the tenant.
	DefaultOwner(ctx context.Context, tenantID uuid.UUID) (uuid.UUID, error)
}

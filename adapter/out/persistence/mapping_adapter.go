package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/pkg/apperr"
)

type MappingAdapter struct {
	db *sqlx.DB
}

func NewMappingAdapter(db *sqlx.DB) *MappingAdapter {
	return &MappingAdapter{db: db}
}

type mappingRow struct {
	ID                 int64      `db:"id"`
	TenantID           uuid.UUID  `db:"tenant_id"`
	Provider           string     `db:"provider"`
	AppointmentID      uuid.UUID  `db:"appointment_id"`
	ConnectionID       int64      `db:"connection_id"`
	ExternalCalendarID string     `db:"external_calendar_id"`
	ExternalEventID    string     `db:"external_event_id"`
	ChangeTag          *string    `db:"change_tag"`
	SyncState          string     `db:"sync_state"`
	LastSyncedAt       *time.Time `db:"last_synced_at"`
	LastError          *string    `db:"last_error"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

func (r *mappingRow) toDomain() *domain.EventMapping {
	return &domain.EventMapping{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		Provider:           domain.ProviderType(r.Provider),
		AppointmentID:      r.AppointmentID,
		ConnectionID:       r.ConnectionID,
		ExternalCalendarID: r.ExternalCalendarID,
		ExternalEventID:    r.ExternalEventID,
		ChangeTag:          r.ChangeTag,
		SyncState:          domain.SyncState(r.SyncState),
		LastSyncedAt:       r.LastSyncedAt,
		LastError:          r.LastError,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// Upsert inserts or replaces on the (tenant, provider, appointment)
// uniqueness, which makes repeated pushes idempotent at the ledger level.
func (a *MappingAdapter) Upsert(ctx context.Context, m *domain.EventMapping) error {
	const query = `
		INSERT INTO event_mappings (
			tenant_id, provider, appointment_id, connection_id,
			external_calendar_id, external_event_id, change_tag, sync_state,
			last_synced_at, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, provider, appointment_id) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			external_calendar_id = EXCLUDED.external_calendar_id,
			external_event_id = EXCLUDED.external_event_id,
			change_tag = EXCLUDED.change_tag,
			sync_state = EXCLUDED.sync_state,
			last_synced_at = EXCLUDED.last_synced_at,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
		RETURNING id`
	err := a.db.QueryRowContext(ctx, query,
		m.TenantID, m.Provider, m.AppointmentID, m.ConnectionID,
		m.ExternalCalendarID, m.ExternalEventID, m.ChangeTag, m.SyncState,
		m.LastSyncedAt, m.LastError, m.CreatedAt, time.Now().UTC()).Scan(&m.ID)
	if err != nil {
		return apperr.DatabaseError("upsert mapping", err)
	}
	return nil
}

func (a *MappingAdapter) GetByAppointment(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType, apptID uuid.UUID) (*domain.EventMapping, error) {
	var row mappingRow
	const query = `
		SELECT * FROM event_mappings
		WHERE tenant_id = $1 AND provider = $2 AND appointment_id = $3`
	if err := a.db.GetContext(ctx, &row, query, tenantID, provider, apptID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("mapping").WithError(ErrNotFound)
		}
		return nil, apperr.DatabaseError("get mapping", err)
	}
	return row.toDomain(), nil
}

func (a *MappingAdapter) GetByExternalEvent(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType, calendarID, eventID string) (*domain.EventMapping, error) {
	var row mappingRow
	const query = `
		SELECT * FROM event_mappings
		WHERE tenant_id = $1 AND provider = $2
		  AND external_calendar_id = $3 AND external_event_id = $4`
	if err := a.db.GetContext(ctx, &row, query, tenantID, provider, calendarID, eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("mapping").WithError(ErrNotFound)
		}
		return nil, apperr.DatabaseError("get mapping by external event", err)
	}
	return row.toDomain(), nil
}

func (a *MappingAdapter) ListByAppointment(ctx context.Context, tenantID, apptID uuid.UUID) ([]*domain.EventMapping, error) {
	var rows []mappingRow
	const query = `
		SELECT * FROM event_mappings
		WHERE tenant_id = $1 AND appointment_id = $2
		ORDER BY provider ASC`
	if err := a.db.SelectContext(ctx, &rows, query, tenantID, apptID); err != nil {
		return nil, apperr.DatabaseError("list mappings", err)
	}
	mappings := make([]*domain.EventMapping, 0, len(rows))
	for i := range rows {
		mappings = append(mappings, rows[i].toDomain())
	}
	return mappings, nil
}

func (a *MappingAdapter) MarkStaleByAppointment(ctx context.Context, tenantID, apptID uuid.UUID) error {
	const query = `
		UPDATE event_mappings SET sync_state = $1, updated_at = $2
		WHERE tenant_id = $3 AND appointment_id = $4 AND sync_state <> $5`
	_, err := a.db.ExecContext(ctx, query,
		domain.SyncStateNeedsUpdate, time.Now().UTC(), tenantID, apptID, domain.SyncStateConflict)
	if err != nil {
		return apperr.DatabaseError("mark mappings stale", err)
	}
	return nil
}

func (a *MappingAdapter) MarkStaleByTenantProvider(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType) error {
	const query = `
		UPDATE event_mappings SET sync_state = $1, updated_at = $2
		WHERE tenant_id = $3 AND provider = $4 AND sync_state <> $5`
	_, err := a.db.ExecContext(ctx, query,
		domain.SyncStateNeedsUpdate, time.Now().UTC(), tenantID, provider, domain.SyncStateConflict)
	if err != nil {
		return apperr.DatabaseError("mark provider mappings stale", err)
	}
	return nil
}

func (a *MappingAdapter) SetState(ctx context.Context, mappingID int64, state domain.SyncState, lastError *string) error {
	const query = `
		UPDATE event_mappings SET sync_state = $1, last_error = $2, updated_at = $3
		WHERE id = $4`
	res, err := a.db.ExecContext(ctx, query, state, lastError, time.Now().UTC(), mappingID)
	if err != nil {
		return apperr.DatabaseError("set mapping state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("mapping").WithError(ErrNotFound)
	}
	return nil
}

var _ out.MappingRepository = (*MappingAdapter)(nil)

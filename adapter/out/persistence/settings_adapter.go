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

type SettingsAdapter struct {
	db *sqlx.DB
}

func NewSettingsAdapter(db *sqlx.DB) *SettingsAdapter {
	return &SettingsAdapter{db: db}
}

type settingsRow struct {
	TenantID           uuid.UUID `db:"tenant_id"`
	DefaultTimezone    string    `db:"default_timezone"`
	PreventOverbooking bool      `db:"prevent_overbooking"`
	DefaultCalendarID  *string   `db:"default_calendar_id"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r *settingsRow) toDomain() *domain.TenantSettings {
	return &domain.TenantSettings{
		TenantID:           r.TenantID,
		DefaultTimezone:    r.DefaultTimezone,
		PreventOverbooking: r.PreventOverbooking,
		DefaultCalendarID:  r.DefaultCalendarID,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// GetOrCreate returns the tenant row, inserting the defaults on first
// access. The insert tolerates a concurrent first access.
func (a *SettingsAdapter) GetOrCreate(ctx context.Context, tenantID uuid.UUID) (*domain.TenantSettings, error) {
	var row settingsRow
	const query = `SELECT * FROM tenant_calendar_settings WHERE tenant_id = $1`
	err := a.db.GetContext(ctx, &row, query, tenantID)
	if err == nil {
		return row.toDomain(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.DatabaseError("get tenant settings", err)
	}

	defaults := domain.DefaultTenantSettings(tenantID)
	const insert = `
		INSERT INTO tenant_calendar_settings (
			tenant_id, default_timezone, prevent_overbooking,
			default_calendar_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO NOTHING`
	if _, err := a.db.ExecContext(ctx, insert,
		defaults.TenantID, defaults.DefaultTimezone, defaults.PreventOverbooking,
		defaults.DefaultCalendarID, defaults.CreatedAt, defaults.UpdatedAt); err != nil {
		return nil, apperr.DatabaseError("create tenant settings", err)
	}

	if err := a.db.GetContext(ctx, &row, query, tenantID); err != nil {
		return nil, apperr.DatabaseError("get tenant settings", err)
	}
	return row.toDomain(), nil
}

func (a *SettingsAdapter) Update(ctx context.Context, settings *domain.TenantSettings) error {
	const query = `
		UPDATE tenant_calendar_settings SET
			default_timezone = $1, prevent_overbooking = $2,
			default_calendar_id = $3, updated_at = $4
		WHERE tenant_id = $5`
	res, err := a.db.ExecContext(ctx, query,
		settings.DefaultTimezone, settings.PreventOverbooking,
		settings.DefaultCalendarID, time.Now().UTC(), settings.TenantID)
	if err != nil {
		return apperr.DatabaseError("update tenant settings", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("tenant settings").WithError(ErrNotFound)
	}
	return nil
}

var _ out.SettingsRepository = (*SettingsAdapter)(nil)

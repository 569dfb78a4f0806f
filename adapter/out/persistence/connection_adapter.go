package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/pkg/apperr"
	"schedsync/pkg/crypto"
	"schedsync/pkg/logger"
)

type ConnectionAdapter struct {
	db                *sqlx.DB
	encryptionEnabled bool
}

func NewConnectionAdapter(db *sqlx.DB) *ConnectionAdapter {
	a := &ConnectionAdapter{db: db}
	if err := crypto.Init(); err != nil {
		logger.L().Warn().Err(err).Msg("token encryption disabled, storing tokens as-is")
	} else {
		a.encryptionEnabled = true
	}
	return a
}

type connectionRow struct {
	ID                int64      `db:"id"`
	TenantID          uuid.UUID  `db:"tenant_id"`
	Provider          string     `db:"provider"`
	AccessToken       string     `db:"access_token"`
	RefreshToken      string     `db:"refresh_token"`
	ExpiresAt         time.Time  `db:"expires_at"`
	Scopes            []byte     `db:"scopes"`
	Enabled           bool       `db:"enabled"`
	AccountID         *string    `db:"account_id"`
	AccountEmail      *string    `db:"account_email"`
	WebhookChannelID  *string    `db:"webhook_channel_id"`
	WebhookResourceID *string    `db:"webhook_resource_id"`
	WebhookExpiration *time.Time `db:"webhook_expiration"`
	WebhookSecret     string     `db:"webhook_secret"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

func (a *ConnectionAdapter) encryptToken(token string) (string, error) {
	if !a.encryptionEnabled || token == "" {
		return token, nil
	}
	return crypto.EncryptToken(token)
}

func (a *ConnectionAdapter) decryptToken(token string) (string, error) {
	if !a.encryptionEnabled || token == "" {
		return token, nil
	}
	if !crypto.IsEncrypted(token) {
		// Row written before encryption was enabled.
		return token, nil
	}
	return crypto.DecryptToken(token)
}

func (a *ConnectionAdapter) toDomain(r *connectionRow) (*domain.CalendarConnection, error) {
	access, err := a.decryptToken(r.AccessToken)
	if err != nil {
		return nil, apperr.DatabaseError("decrypt access token", err)
	}
	refresh, err := a.decryptToken(r.RefreshToken)
	if err != nil {
		return nil, apperr.DatabaseError("decrypt refresh token", err)
	}
	secret, err := a.decryptToken(r.WebhookSecret)
	if err != nil {
		return nil, apperr.DatabaseError("decrypt webhook secret", err)
	}

	conn := &domain.CalendarConnection{
		ID:                r.ID,
		TenantID:          r.TenantID,
		Provider:          domain.ProviderType(r.Provider),
		AccessToken:       access,
		RefreshToken:      refresh,
		ExpiresAt:         r.ExpiresAt,
		Enabled:           r.Enabled,
		AccountID:         r.AccountID,
		AccountEmail:      r.AccountEmail,
		WebhookChannelID:  r.WebhookChannelID,
		WebhookResourceID: r.WebhookResourceID,
		WebhookExpiration: r.WebhookExpiration,
		WebhookSecret:     secret,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if len(r.Scopes) > 0 {
		if err := json.Unmarshal(r.Scopes, &conn.Scopes); err != nil {
			return nil, apperr.DatabaseError("decode connection scopes", err)
		}
	}
	return conn, nil
}

// Upsert inserts or replaces the (tenant, provider) row. Tokens and the
// webhook secret are encrypted before they touch the database.
func (a *ConnectionAdapter) Upsert(ctx context.Context, conn *domain.CalendarConnection) error {
	access, err := a.encryptToken(conn.AccessToken)
	if err != nil {
		return apperr.DatabaseError("encrypt access token", err)
	}
	refresh, err := a.encryptToken(conn.RefreshToken)
	if err != nil {
		return apperr.DatabaseError("encrypt refresh token", err)
	}
	secret, err := a.encryptToken(conn.WebhookSecret)
	if err != nil {
		return apperr.DatabaseError("encrypt webhook secret", err)
	}
	scopes, err := json.Marshal(conn.Scopes)
	if err != nil {
		return apperr.DatabaseError("encode connection scopes", err)
	}

	const query = `
		INSERT INTO calendar_connections (
			tenant_id, provider, access_token, refresh_token, expires_at,
			scopes, enabled, account_id, account_email, webhook_channel_id,
			webhook_resource_id, webhook_expiration, webhook_secret,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			enabled = EXCLUDED.enabled,
			account_id = EXCLUDED.account_id,
			account_email = EXCLUDED.account_email,
			updated_at = EXCLUDED.updated_at
		RETURNING id`
	err = a.db.QueryRowContext(ctx, query,
		conn.TenantID, conn.Provider, access, refresh, conn.ExpiresAt,
		scopes, conn.Enabled, conn.AccountID, conn.AccountEmail,
		conn.WebhookChannelID, conn.WebhookResourceID, conn.WebhookExpiration,
		secret, conn.CreatedAt, time.Now().UTC()).Scan(&conn.ID)
	if err != nil {
		return apperr.DatabaseError("upsert connection", err)
	}
	return nil
}

func (a *ConnectionAdapter) GetByTenantProvider(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType) (*domain.CalendarConnection, error) {
	var row connectionRow
	const query = `SELECT * FROM calendar_connections WHERE tenant_id = $1 AND provider = $2`
	if err := a.db.GetContext(ctx, &row, query, tenantID, provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("connection").WithError(ErrNotFound)
		}
		return nil, apperr.DatabaseError("get connection", err)
	}
	return a.toDomain(&row)
}

func (a *ConnectionAdapter) GetByWebhookChannel(ctx context.Context, channelID string) (*domain.CalendarConnection, error) {
	var row connectionRow
	const query = `SELECT * FROM calendar_connections WHERE webhook_channel_id = $1`
	if err := a.db.GetContext(ctx, &row, query, channelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("connection").WithError(ErrNotFound)
		}
		return nil, apperr.DatabaseError("get connection by channel", err)
	}
	return a.toDomain(&row)
}

func (a *ConnectionAdapter) ListEnabledByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.CalendarConnection, error) {
	var rows []connectionRow
	const query = `SELECT * FROM calendar_connections WHERE tenant_id = $1 AND enabled = true`
	if err := a.db.SelectContext(ctx, &rows, query, tenantID); err != nil {
		return nil, apperr.DatabaseError("list connections", err)
	}
	conns := make([]*domain.CalendarConnection, 0, len(rows))
	for i := range rows {
		conn, err := a.toDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func (a *ConnectionAdapter) ListExpiringSubscriptions(ctx context.Context, before time.Time) ([]*domain.CalendarConnection, error) {
	var rows []connectionRow
	const query = `
		SELECT * FROM calendar_connections
		WHERE enabled = true
		  AND webhook_channel_id IS NOT NULL
		  AND webhook_expiration < $1`
	if err := a.db.SelectContext(ctx, &rows, query, before); err != nil {
		return nil, apperr.DatabaseError("list expiring subscriptions", err)
	}
	conns := make([]*domain.CalendarConnection, 0, len(rows))
	for i := range rows {
		conn, err := a.toDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func (a *ConnectionAdapter) UpdateTokens(ctx context.Context, connID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	access, err := a.encryptToken(accessToken)
	if err != nil {
		return apperr.DatabaseError("encrypt access token", err)
	}
	refresh, err := a.encryptToken(refreshToken)
	if err != nil {
		return apperr.DatabaseError("encrypt refresh token", err)
	}

	const query = `
		UPDATE calendar_connections SET
			access_token = $1, refresh_token = $2, expires_at = $3, updated_at = $4
		WHERE id = $5`
	res, err := a.db.ExecContext(ctx, query, access, refresh, expiresAt, time.Now().UTC(), connID)
	if err != nil {
		return apperr.DatabaseError("update connection tokens", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("connection").WithError(ErrNotFound)
	}
	return nil
}

func (a *ConnectionAdapter) UpdateWebhook(ctx context.Context, connID int64, channelID, resourceID string, expiration time.Time, clientState string) error {
	secret, err := a.encryptToken(clientState)
	if err != nil {
		return apperr.DatabaseError("encrypt webhook secret", err)
	}

	const query = `
		UPDATE calendar_connections SET
			webhook_channel_id = $1, webhook_resource_id = $2,
			webhook_expiration = $3, webhook_secret = $4, updated_at = $5
		WHERE id = $6`
	res, err := a.db.ExecContext(ctx, query, channelID, resourceID, expiration, secret, time.Now().UTC(), connID)
	if err != nil {
		return apperr.DatabaseError("update connection webhook", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("connection").WithError(ErrNotFound)
	}
	return nil
}

// Disconnect disables the connection and clears secret-bearing and
// webhook fields. The row is retained for audit.
func (a *ConnectionAdapter) Disconnect(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType) error {
	const query = `
		UPDATE calendar_connections SET
			enabled = false, access_token = '', refresh_token = '',
			webhook_channel_id = NULL, webhook_resource_id = NULL,
			webhook_expiration = NULL, webhook_secret = '', updated_at = $1
		WHERE tenant_id = $2 AND provider = $3`
	res, err := a.db.ExecContext(ctx, query, time.Now().UTC(), tenantID, provider)
	if err != nil {
		return apperr.DatabaseError("disconnect", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("connection").WithError(ErrNotFound)
	}
	return nil
}

var _ out.ConnectionRepository = (*ConnectionAdapter)(nil)

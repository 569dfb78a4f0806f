package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"schedsync/core/port/out"
	"schedsync/pkg/apperr"
)

// DirectoryAdapter reads tenant membership owned by the auth subsystem.
// This side only ever needs the oldest member, who adopts remote-origin
// appointments.
type DirectoryAdapter struct {
	db *sqlx.DB
}

func NewDirectoryAdapter(db *sqlx.DB) *DirectoryAdapter {
	return &DirectoryAdapter{db: db}
}

func (a *DirectoryAdapter) DefaultOwner(ctx context.Context, tenantID uuid.UUID) (uuid.UUID, error) {
	var userID uuid.UUID
	const query = `
		SELECT user_id FROM tenant_users
		WHERE tenant_id = $1
		ORDER BY created_at ASC
		LIMIT 1`
	if err := a.db.GetContext(ctx, &userID, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, apperr.NotFound("tenant user").WithError(ErrNotFound)
		}
		return uuid.Nil, apperr.DatabaseError("resolve default owner", err)
	}
	return userID, nil
}

var _ out.TenantDirectory = (*DirectoryAdapter)(nil)

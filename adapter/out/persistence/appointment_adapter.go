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
)

type AppointmentAdapter struct {
	db *sqlx.DB
}

func NewAppointmentAdapter(db *sqlx.DB) *AppointmentAdapter {
	return &AppointmentAdapter{db: db}
}

type appointmentRow struct {
	ID          uuid.UUID  `db:"id"`
	TenantID    uuid.UUID  `db:"tenant_id"`
	Title       string     `db:"title"`
	Description *string    `db:"description"`
	Status      string     `db:"status"`
	StartAt     time.Time  `db:"start_at"`
	EndAt       time.Time  `db:"end_at"`
	Timezone    string     `db:"timezone"`
	CustomerID  *uuid.UUID `db:"customer_id"`
	AssigneeID  *uuid.UUID `db:"assignee_id"`
	Location    *string    `db:"location"`
	Metadata    []byte     `db:"metadata"`
	CreatedBy   uuid.UUID  `db:"created_by"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

type historyRow struct {
	AppointmentID uuid.UUID `db:"appointment_id"`
	FromStatus    *string   `db:"from_status"`
	ToStatus      string    `db:"to_status"`
	Reason        *string   `db:"reason"`
	Actor         uuid.UUID `db:"actor"`
	ChangedAt     time.Time `db:"changed_at"`
}

func (r *appointmentRow) toDomain() (*domain.Appointment, error) {
	appt := &domain.Appointment{
		ID:          r.ID,
		TenantID:    r.TenantID,
		Title:       r.Title,
		Description: r.Description,
		Status:      domain.AppointmentStatus(r.Status),
		StartAt:     r.StartAt.UTC(),
		EndAt:       r.EndAt.UTC(),
		Timezone:    r.Timezone,
		CustomerID:  r.CustomerID,
		AssigneeID:  r.AssigneeID,
		Location:    r.Location,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &appt.Metadata); err != nil {
			return nil, apperr.DatabaseError("decode appointment metadata", err)
		}
	}
	return appt, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (a *AppointmentAdapter) Create(ctx context.Context, appt *domain.Appointment) error {
	metadata, err := marshalMetadata(appt.Metadata)
	if err != nil {
		return apperr.DatabaseError("encode appointment metadata", err)
	}

	// The row and its creation history land in one transaction so an
	// appointment can never exist without its first history entry.
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin create appointment", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO appointments (
			id, tenant_id, title, description, status, start_at, end_at,
			timezone, customer_id, assignee_id, location, metadata,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err = tx.ExecContext(ctx, query,
		appt.ID, appt.TenantID, appt.Title, appt.Description, appt.Status,
		appt.StartAt, appt.EndAt, appt.Timezone, appt.CustomerID,
		appt.AssigneeID, appt.Location, metadata, appt.CreatedBy,
		appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		return apperr.DatabaseError("create appointment", err)
	}

	for _, change := range appt.History {
		if err := insertHistory(ctx, tx, appt.ID, change); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit create appointment", err)
	}
	return nil
}

func (a *AppointmentAdapter) Update(ctx context.Context, appt *domain.Appointment) error {
	metadata, err := marshalMetadata(appt.Metadata)
	if err != nil {
		return apperr.DatabaseError("encode appointment metadata", err)
	}

	const query = `
		UPDATE appointments SET
			title = $1, description = $2, status = $3, start_at = $4,
			end_at = $5, timezone = $6, customer_id = $7, assignee_id = $8,
			location = $9, metadata = $10, updated_at = $11
		WHERE id = $12 AND tenant_id = $13`
	res, err := a.db.ExecContext(ctx, query,
		appt.Title, appt.Description, appt.Status, appt.StartAt, appt.EndAt,
		appt.Timezone, appt.CustomerID, appt.AssigneeID, appt.Location,
		metadata, time.Now().UTC(), appt.ID, appt.TenantID)
	if err != nil {
		return apperr.DatabaseError("update appointment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("appointment").WithError(ErrNotFound)
	}
	return nil
}

func (a *AppointmentAdapter) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Appointment, error) {
	var row appointmentRow
	const query = `SELECT * FROM appointments WHERE id = $1 AND tenant_id = $2`
	if err := a.db.GetContext(ctx, &row, query, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("appointment").WithError(ErrNotFound)
		}
		return nil, apperr.DatabaseError("get appointment", err)
	}

	appt, err := row.toDomain()
	if err != nil {
		return nil, err
	}

	var history []historyRow
	const historyQuery = `
		SELECT appointment_id, from_status, to_status, reason, actor, changed_at
		FROM appointment_status_history
		WHERE appointment_id = $1
		ORDER BY changed_at ASC, id ASC`
	if err := a.db.SelectContext(ctx, &history, historyQuery, id); err != nil {
		return nil, apperr.DatabaseError("get appointment history", err)
	}
	for _, h := range history {
		change := domain.StatusChange{
			To:        domain.AppointmentStatus(h.ToStatus),
			Actor:     h.Actor,
			ChangedAt: h.ChangedAt,
		}
		if h.FromStatus != nil {
			change.From = domain.AppointmentStatus(*h.FromStatus)
		}
		if h.Reason != nil {
			change.Reason = *h.Reason
		}
		appt.History = append(appt.History, change)
	}
	return appt, nil
}

func (a *AppointmentAdapter) ListByAssigneeInWindow(ctx context.Context, tenantID, assigneeID uuid.UUID, from, to time.Time) ([]*domain.Appointment, error) {
	var rows []appointmentRow
	const query = `
		SELECT * FROM appointments
		WHERE tenant_id = $1 AND assignee_id = $2
		  AND status IN ('SCHEDULED', 'CONFIRMED')
		  AND start_at < $4 AND $3 < end_at`
	if err := a.db.SelectContext(ctx, &rows, query, tenantID, assigneeID, from, to); err != nil {
		return nil, apperr.DatabaseError("list appointments by assignee", err)
	}
	return rowsToDomain(rows)
}

func (a *AppointmentAdapter) ListByTenant(ctx context.Context, tenantID uuid.UUID, from, to *time.Time) ([]*domain.Appointment, error) {
	query := `SELECT * FROM appointments WHERE tenant_id = $1`
	args := []any{tenantID}
	if from != nil {
		args = append(args, *from)
		query += ` AND end_at > $2`
	}
	if to != nil {
		args = append(args, *to)
		if from != nil {
			query += ` AND start_at < $3`
		} else {
			query += ` AND start_at < $2`
		}
	}
	query += ` ORDER BY start_at ASC`

	var rows []appointmentRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.DatabaseError("list appointments", err)
	}
	return rowsToDomain(rows)
}

func (a *AppointmentAdapter) AppendHistory(ctx context.Context, apptID uuid.UUID, change domain.StatusChange) error {
	return insertHistory(ctx, a.db, apptID, change)
}

func insertHistory(ctx context.Context, ex sqlx.ExtContext, apptID uuid.UUID, change domain.StatusChange) error {
	var fromStatus *string
	if change.From != "" {
		s := string(change.From)
		fromStatus = &s
	}
	var reason *string
	if change.Reason != "" {
		reason = &change.Reason
	}

	const query = `
		INSERT INTO appointment_status_history (
			appointment_id, from_status, to_status, reason, actor, changed_at
		) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := ex.ExecContext(ctx, query,
		apptID, fromStatus, change.To, reason, change.Actor, change.ChangedAt)
	if err != nil {
		return apperr.DatabaseError("append status history", err)
	}
	return nil
}

func rowsToDomain(rows []appointmentRow) ([]*domain.Appointment, error) {
	appts := make([]*domain.Appointment, 0, len(rows))
	for i := range rows {
		appt, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, nil
}

var _ out.AppointmentRepository = (*AppointmentAdapter)(nil)

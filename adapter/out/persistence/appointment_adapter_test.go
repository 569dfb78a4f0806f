package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"schedsync/core/domain"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func seedAppointment() *domain.Appointment {
	now := time.Now().UTC()
	actor := uuid.New()
	return &domain.Appointment{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		Title:     "Consultation",
		Status:    domain.StatusScheduled,
		StartAt:   now.Add(time.Hour),
		EndAt:     now.Add(2 * time.Hour),
		Timezone:  "UTC",
		CreatedBy: actor,
		History: []domain.StatusChange{{
			To:        domain.StatusScheduled,
			Actor:     actor,
			ChangedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateInsertsRowAndHistoryInOneTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewAppointmentAdapter(db)
	appt := seedAppointment()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO appointment_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := adapter.Create(context.Background(), appt); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateRollsBackWhenHistoryInsertFails(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewAppointmentAdapter(db)
	appt := seedAppointment()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO appointment_status_history").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := adapter.Create(context.Background(), appt); err == nil {
		t.Fatal("expected error when history insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

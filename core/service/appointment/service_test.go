package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/core/service/timeutil"
	"schedsync/pkg/apperr"
)

// ============================================================
// In-memory fakes
// ============================================================

type memAppointments struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Appointment
}

func newMemAppointments() *memAppointments {
	return &memAppointments{items: make(map[uuid.UUID]*domain.Appointment)}
}

func (m *memAppointments) Create(_ context.Context, a *domain.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *a
	m.items[a.ID] = &clone
	return nil
}

func (m *memAppointments) Update(_ context.Context, a *domain.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return apperr.NotFound("appointment")
	}
	clone := *a
	m.items[a.ID] = &clone
	return nil
}

func (m *memAppointments) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.TenantID != tenantID {
		return nil, apperr.NotFound("appointment")
	}
	clone := *a
	return &clone, nil
}

func (m *memAppointments) ListByAssigneeInWindow(_ context.Context, tenantID, assigneeID uuid.UUID, from, to time.Time) ([]*domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*domain.Appointment
	for _, a := range m.items {
		if a.TenantID != tenantID || a.AssigneeID == nil || *a.AssigneeID != assigneeID {
			continue
		}
		if a.Status.IsTerminal() {
			continue
		}
		if timeutil.Overlaps(a.StartAt, a.EndAt, from, to) {
			clone := *a
			res = append(res, &clone)
		}
	}
	return res, nil
}

func (m *memAppointments) ListByTenant(_ context.Context, tenantID uuid.UUID, _, _ *time.Time) ([]*domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*domain.Appointment
	for _, a := range m.items {
		if a.TenantID == tenantID {
			clone := *a
			res = append(res, &clone)
		}
	}
	return res, nil
}

func (m *memAppointments) AppendHistory(_ context.Context, _ uuid.UUID, _ domain.StatusChange) error {
	return nil
}

type memSettings struct {
	preventOverbooking bool
	defaultTimezone    string
}

func (m *memSettings) GetOrCreate(_ context.Context, tenantID uuid.UUID) (*domain.TenantSettings, error) {
	tz := m.defaultTimezone
	if tz == "" {
		tz = "UTC"
	}
	s := domain.DefaultTenantSettings(tenantID)
	s.DefaultTimezone = tz
	s.PreventOverbooking = m.preventOverbooking
	return s, nil
}

func (m *memSettings) Update(_ context.Context, _ *domain.TenantSettings) error { return nil }

type memMappings struct {
	mu          sync.Mutex
	staleCalls  int
	byAppt      map[uuid.UUID][]*domain.EventMapping
}

func newMemMappings() *memMappings {
	return &memMappings{byAppt: make(map[uuid.UUID][]*domain.EventMapping)}
}

func (m *memMappings) Upsert(_ context.Context, mp *domain.EventMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byAppt[mp.AppointmentID] = append(m.byAppt[mp.AppointmentID], mp)
	return nil
}

func (m *memMappings) GetByAppointment(_ context.Context, _ uuid.UUID, _ domain.ProviderType, _ uuid.UUID) (*domain.EventMapping, error) {
	return nil, apperr.NotFound("mapping")
}

func (m *memMappings) GetByExternalEvent(_ context.Context, _ uuid.UUID, _ domain.ProviderType, _, _ string) (*domain.EventMapping, error) {
	return nil, apperr.NotFound("mapping")
}

func (m *memMappings) ListByAppointment(_ context.Context, _ uuid.UUID, apptID uuid.UUID) ([]*domain.EventMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byAppt[apptID], nil
}

func (m *memMappings) MarkStaleByAppointment(_ context.Context, _ uuid.UUID, apptID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleCalls++
	for _, mp := range m.byAppt[apptID] {
		mp.SyncState = domain.SyncStateNeedsUpdate
	}
	return nil
}

func (m *memMappings) MarkStaleByTenantProvider(_ context.Context, _ uuid.UUID, _ domain.ProviderType) error {
	return nil
}

func (m *memMappings) SetState(_ context.Context, _ int64, _ domain.SyncState, _ *string) error {
	return nil
}

type memConnections struct{}

func (memConnections) Upsert(context.Context, *domain.CalendarConnection) error { return nil }
func (memConnections) GetByTenantProvider(context.Context, uuid.UUID, domain.ProviderType) (*domain.CalendarConnection, error) {
	return nil, apperr.NotFound("connection")
}
func (memConnections) GetByWebhookChannel(context.Context, string) (*domain.CalendarConnection, error) {
	return nil, apperr.NotFound("connection")
}
func (memConnections) ListEnabledByTenant(context.Context, uuid.UUID) ([]*domain.CalendarConnection, error) {
	return nil, nil
}
func (memConnections) ListExpiringSubscriptions(context.Context, time.Time) ([]*domain.CalendarConnection, error) {
	return nil, nil
}
func (memConnections) UpdateTokens(context.Context, int64, string, string, time.Time) error {
	return nil
}
func (memConnections) UpdateWebhook(context.Context, int64, string, string, time.Time, string) error {
	return nil
}
func (memConnections) Disconnect(context.Context, uuid.UUID, domain.ProviderType) error { return nil }

var _ out.AppointmentRepository = (*memAppointments)(nil)
var _ out.SettingsRepository = (*memSettings)(nil)
var _ out.MappingRepository = (*memMappings)(nil)
var _ out.ConnectionRepository = memConnections{}

func newTestService(preventOverbooking bool) (*Service, *memAppointments, *memMappings) {
	appts := newMemAppointments()
	mappings := newMemMappings()
	svc := NewService(appts, &memSettings{preventOverbooking: preventOverbooking}, mappings, memConnections{}, nil, nil)
	return svc, appts, mappings
}

// ============================================================
// Tests
// ============================================================

func TestCreateAppointment(t *testing.T) {
	svc, _, _ := newTestService(false)
	ctx := context.Background()
	tenant := uuid.New()
	creator := uuid.New()

	appt, err := svc.Create(ctx, tenant, CreateInput{
		Title: "Consultation",
		Start: "2026-03-01T09:00:00Z",
		End:   "2026-03-01T10:00:00Z",
	}, creator)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if appt.Status != domain.StatusScheduled {
		t.Errorf("status = %s, want SCHEDULED", appt.Status)
	}
	if !appt.StartAt.Before(appt.EndAt) {
		t.Error("start must precede end")
	}
	if len(appt.History) != 1 {
		t.Fatalf("history entries = %d, want 1", len(appt.History))
	}
	if appt.History[0].From != "" || appt.History[0].To != domain.StatusScheduled {
		t.Errorf("initial history = %+v", appt.History[0])
	}
	if appt.Timezone != "UTC" {
		t.Errorf("timezone = %s, want tenant default UTC", appt.Timezone)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(false)
	ctx := context.Background()
	tenant := uuid.New()
	actor := uuid.New()

	tests := []struct {
		name  string
		input CreateInput
		code  apperr.ErrorCode
	}{
		{
			"missing title",
			CreateInput{Start: "2026-03-01T09:00:00Z", End: "2026-03-01T10:00:00Z"},
			apperr.CodeInvalidInput,
		},
		{
			"bad timezone",
			CreateInput{Title: "x", Start: "2026-03-01T09:00:00Z", End: "2026-03-01T10:00:00Z", Timezone: "Mars/Olympus"},
			apperr.CodeInvalidInput,
		},
		{
			"inverted interval",
			CreateInput{Title: "x", Start: "2026-03-01T10:00:00Z", End: "2026-03-01T09:00:00Z"},
			apperr.CodeInvalidInput,
		},
		{
			"zero-length interval",
			CreateInput{Title: "x", Start: "2026-03-01T09:00:00Z", End: "2026-03-01T09:00:00Z"},
			apperr.CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tenant, tt.input, actor); !apperr.HasCode(err, tt.code) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestOverlapGuard(t *testing.T) {
	svc, _, _ := newTestService(true)
	ctx := context.Background()
	tenant := uuid.New()
	actor := uuid.New()
	assignee := uuid.New()

	_, err := svc.Create(ctx, tenant, CreateInput{
		Title:      "first",
		Start:      "2026-03-01T09:00:00Z",
		End:        "2026-03-01T10:00:00Z",
		AssigneeID: &assignee,
	}, actor)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	// Overlapping interval for the same assignee is rejected.
	_, err = svc.Create(ctx, tenant, CreateInput{
		Title:      "second",
		Start:      "2026-03-01T09:30:00Z",
		End:        "2026-03-01T10:30:00Z",
		AssigneeID: &assignee,
	}, actor)
	if !apperr.HasCode(err, apperr.CodeConflict) {
		t.Errorf("overlapping create err = %v, want CONFLICT", err)
	}

	// Touching boundary is not overlap.
	if _, err := svc.Create(ctx, tenant, CreateInput{
		Title:      "third",
		Start:      "2026-03-01T10:00:00Z",
		End:        "2026-03-01T11:00:00Z",
		AssigneeID: &assignee,
	}, actor); err != nil {
		t.Errorf("boundary create err = %v, want success", err)
	}

	// A different assignee may book the same interval.
	other := uuid.New()
	if _, err := svc.Create(ctx, tenant, CreateInput{
		Title:      "fourth",
		Start:      "2026-03-01T09:00:00Z",
		End:        "2026-03-01T10:00:00Z",
		AssigneeID: &other,
	}, actor); err != nil {
		t.Errorf("other assignee create err = %v, want success", err)
	}
}

func TestOverlapGuardIgnoresTerminal(t *testing.T) {
	svc, _, _ := newTestService(true)
	ctx := context.Background()
	tenant := uuid.New()
	actor := uuid.New()
	assignee := uuid.New()

	first, err := svc.Create(ctx, tenant, CreateInput{
		Title:      "first",
		Start:      "2026-03-01T09:00:00Z",
		End:        "2026-03-01T10:00:00Z",
		AssigneeID: &assignee,
	}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ChangeStatus(ctx, tenant, first.ID, domain.StatusCancelled, "freed up", actor); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := svc.Create(ctx, tenant, CreateInput{
		Title:      "replacement",
		Start:      "2026-03-01T09:00:00Z",
		End:        "2026-03-01T10:00:00Z",
		AssigneeID: &assignee,
	}, actor); err != nil {
		t.Errorf("create over cancelled slot err = %v, want success", err)
	}
}

func TestChangeStatus(t *testing.T) {
	svc, _, _ := newTestService(false)
	ctx := context.Background()
	tenant := uuid.New()
	actor := uuid.New()

	create := func(t *testing.T) *domain.Appointment {
		t.Helper()
		appt, err := svc.Create(ctx, tenant, CreateInput{
			Title: "x",
			Start: "2026-03-01T09:00:00Z",
			End:   "2026-03-01T10:00:00Z",
		}, actor)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return appt
	}

	t.Run("scheduled to cancelled appends one entry", func(t *testing.T) {
		appt := create(t)
		got, err := svc.ChangeStatus(ctx, tenant, appt.ID, domain.StatusCancelled, "customer no-show", actor)
		if err != nil {
			t.Fatalf("ChangeStatus: %v", err)
		}
		if got.Status != domain.StatusCancelled {
			t.Errorf("status = %s", got.Status)
		}
		if len(got.History) != 2 {
			t.Fatalf("history entries = %d, want 2", len(got.History))
		}
		last := got.History[1]
		if last.From != domain.StatusScheduled || last.To != domain.StatusCancelled || last.Reason != "customer no-show" {
			t.Errorf("history entry = %+v", last)
		}
	})

	t.Run("completed is terminal", func(t *testing.T) {
		appt := create(t)
		if _, err := svc.ChangeStatus(ctx, tenant, appt.ID, domain.StatusConfirmed, "", actor); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if _, err := svc.ChangeStatus(ctx, tenant, appt.ID, domain.StatusCompleted, "", actor); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if _, err := svc.ChangeStatus(ctx, tenant, appt.ID, domain.StatusConfirmed, "", actor); !apperr.HasCode(err, apperr.CodeInvalidState) {
			t.Errorf("COMPLETED->CONFIRMED err = %v, want INVALID_STATE", err)
		}
	})

	t.Run("same status rejected", func(t *testing.T) {
		appt := create(t)
		if _, err := svc.ChangeStatus(ctx, tenant, appt.ID, domain.StatusScheduled, "", actor); !apperr.HasCode(err, apperr.CodeInvalidState) {
			t.Errorf("same-status err = %v, want INVALID_STATE", err)
		}
	})

	t.Run("scheduled cannot complete directly", func(t *testing.T) {
		appt := create(t)
		if _, err := svc.ChangeStatus(ctx, tenant, appt.ID, domain.StatusCompleted, "", actor); !apperr.HasCode(err, apperr.CodeInvalidState) {
			t.Errorf("SCHEDULED->COMPLETED err = %v, want INVALID_STATE", err)
		}
	})
}

func TestUpdateMarksMappingsStale(t *testing.T) {
	svc, _, mappings := newTestService(false)
	ctx := context.Background()
	tenant := uuid.New()
	actor := uuid.New()

	appt, err := svc.Create(ctx, tenant, CreateInput{
		Title: "x",
		Start: "2026-03-01T09:00:00Z",
		End:   "2026-03-01T10:00:00Z",
	}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mappings.Upsert(ctx, &domain.EventMapping{
		TenantID:      tenant,
		Provider:      domain.ProviderGoogle,
		AppointmentID: appt.ID,
		SyncState:     domain.SyncStateOK,
	})

	title := "renamed"
	if _, err := svc.Update(ctx, tenant, appt.ID, UpdateInput{Title: &title}, actor); err != nil {
		t.Fatalf("update: %v", err)
	}

	rows, _ := mappings.ListByAppointment(ctx, tenant, appt.ID)
	if len(rows) != 1 || rows[0].SyncState != domain.SyncStateNeedsUpdate {
		t.Errorf("mapping state after update = %+v, want NEEDS_UPDATE", rows)
	}
}

func TestUpdateMergedValidation(t *testing.T) {
	svc, _, _ := newTestService(false)
	ctx := context.Background()
	tenant := uuid.New()
	actor := uuid.New()

	appt, err := svc.Create(ctx, tenant, CreateInput{
		Title: "x",
		Start: "2026-03-01T09:00:00Z",
		End:   "2026-03-01T10:00:00Z",
	}, actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Patch that inverts the interval against the existing end must fail.
	start := "2026-03-01T11:00:00Z"
	if _, err := svc.Update(ctx, tenant, appt.ID, UpdateInput{Start: &start}, actor); !apperr.HasCode(err, apperr.CodeInvalidInput) {
		t.Errorf("inverted patch err = %v, want INVALID_INPUT", err)
	}
}

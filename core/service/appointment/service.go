// Package appointment implements the local appointment store: validation,
// the status machine with append-only history, and the overlap guard for
// tenants that opt into strict booking.
package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/core/service/timeutil"
	"schedsync/pkg/apperr"
	"schedsync/pkg/logger"
)

const eventStatusChanged = "appointment.status_changed"

// CreateInput is the request-path shape for a new appointment. Start and
// End are instants authored in Timezone (RFC 3339 or zone-less local form).
type CreateInput struct {
	Title       string         `json:"title"`
	Description *string        `json:"description,omitempty"`
	Start       string         `json:"start"`
	End         string         `json:"end"`
	Timezone    string         `json:"timezone,omitempty"`
	CustomerID  *uuid.UUID     `json:"customer_id,omitempty"`
	AssigneeID  *uuid.UUID     `json:"assignee_id,omitempty"`
	Location    *string        `json:"location,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UpdateInput patches an existing appointment. Nil fields are unchanged.
type UpdateInput struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Start       *string        `json:"start,omitempty"`
	End         *string        `json:"end,omitempty"`
	Timezone    *string        `json:"timezone,omitempty"`
	AssigneeID  *uuid.UUID     `json:"assignee_id,omitempty"`
	Location    *string        `json:"location,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Service struct {
	appts    out.AppointmentRepository
	settings out.SettingsRepository
	mappings out.MappingRepository
	conns    out.ConnectionRepository
	producer out.JobProducer
	emitter  out.EventEmitter
	locks    *keyedMutex
}

func NewService(
	appts out.AppointmentRepository,
	settings out.SettingsRepository,
	mappings out.MappingRepository,
	conns out.ConnectionRepository,
	producer out.JobProducer,
	emitter out.EventEmitter,
) *Service {
	return &Service{
		appts:    appts,
		settings: settings,
		mappings: mappings,
		conns:    conns,
		producer: producer,
		emitter:  emitter,
		locks:    newKeyedMutex(),
	}
}

// Create validates, guards against overbooking when the tenant opts in,
// persists with status SCHEDULED and writes the initial history entry.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, input CreateInput, creator uuid.UUID) (*domain.Appointment, error) {
	if input.Title == "" {
		return nil, apperr.InvalidInput("title", "title is required")
	}

	settings, err := s.settings.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	tz := input.Timezone
	if tz == "" {
		tz = settings.DefaultTimezone
	}
	if !timeutil.ValidateTimezone(tz) {
		return nil, apperr.InvalidInput("timezone", "not a valid IANA zone")
	}

	startAt, err := timeutil.ToUTC(input.Start, tz)
	if err != nil {
		return nil, err
	}
	endAt, err := timeutil.ToUTC(input.End, tz)
	if err != nil {
		return nil, err
	}
	if !startAt.Before(endAt) {
		return nil, apperr.InvalidInput("end", "end must be after start")
	}

	now := time.Now().UTC()
	appt := &domain.Appointment{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Title:       input.Title,
		Description: input.Description,
		Status:      domain.StatusScheduled,
		StartAt:     startAt,
		EndAt:       endAt,
		Timezone:    tz,
		CustomerID:  input.CustomerID,
		AssigneeID:  input.AssigneeID,
		Location:    input.Location,
		Metadata:    input.Metadata,
		CreatedBy:   creator,
		History: []domain.StatusChange{{
			To:        domain.StatusScheduled,
			Actor:     creator,
			ChangedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	persist := func() error {
		if settings.PreventOverbooking && input.AssigneeID != nil {
			if err := s.checkOverlap(ctx, tenantID, *input.AssigneeID, startAt, endAt, uuid.Nil); err != nil {
				return err
			}
		}
		return s.appts.Create(ctx, appt)
	}

	if settings.PreventOverbooking && input.AssigneeID != nil {
		// Serialize check-then-write per (tenant, assignee). In-process
		// only; concurrent processes still race on this window.
		unlock := s.locks.lock(tenantID, *input.AssigneeID)
		err = persist()
		unlock()
	} else {
		err = persist()
	}
	if err != nil {
		return nil, err
	}

	s.enqueuePushes(ctx, appt)
	return appt, nil
}

// Update applies a patch, re-validating timezone, ordering and overlap
// against the merged fields. On success every mapping for the appointment
// is marked NEEDS_UPDATE so the next push sees the local change.
func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, patch UpdateInput, actor uuid.UUID) (*domain.Appointment, error) {
	appt, err := s.appts.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status.IsTerminal() {
		return nil, apperr.InvalidState("appointment is in a terminal status")
	}

	tz := appt.Timezone
	if patch.Timezone != nil {
		tz = *patch.Timezone
	}
	if !timeutil.ValidateTimezone(tz) {
		return nil, apperr.InvalidInput("timezone", "not a valid IANA zone")
	}

	startAt := appt.StartAt
	if patch.Start != nil {
		if startAt, err = timeutil.ToUTC(*patch.Start, tz); err != nil {
			return nil, err
		}
	}
	endAt := appt.EndAt
	if patch.End != nil {
		if endAt, err = timeutil.ToUTC(*patch.End, tz); err != nil {
			return nil, err
		}
	}
	if !startAt.Before(endAt) {
		return nil, apperr.InvalidInput("end", "end must be after start")
	}

	if patch.Title != nil {
		if *patch.Title == "" {
			return nil, apperr.InvalidInput("title", "title is required")
		}
		appt.Title = *patch.Title
	}
	if patch.Description != nil {
		appt.Description = patch.Description
	}
	if patch.AssigneeID != nil {
		appt.AssigneeID = patch.AssigneeID
	}
	if patch.Location != nil {
		appt.Location = patch.Location
	}
	if patch.Metadata != nil {
		appt.Metadata = patch.Metadata
	}
	appt.Timezone = tz
	appt.StartAt = startAt
	appt.EndAt = endAt
	appt.UpdatedAt = time.Now().UTC()

	settings, err := s.settings.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	persist := func() error {
		if settings.PreventOverbooking && appt.AssigneeID != nil {
			if err := s.checkOverlap(ctx, tenantID, *appt.AssigneeID, startAt, endAt, appt.ID); err != nil {
				return err
			}
		}
		return s.appts.Update(ctx, appt)
	}

	if settings.PreventOverbooking && appt.AssigneeID != nil {
		unlock := s.locks.lock(tenantID, *appt.AssigneeID)
		err = persist()
		unlock()
	} else {
		err = persist()
	}
	if err != nil {
		return nil, err
	}

	if err := s.mappings.MarkStaleByAppointment(ctx, tenantID, appt.ID); err != nil {
		logger.WithContext(ctx).Warn().Err(err).
			Str("appointment_id", appt.ID.String()).
			Msg("mark mappings stale after update")
	}
	s.enqueuePushes(ctx, appt)
	return appt, nil
}

// ChangeStatus validates the transition, appends history, marks mappings
// stale and emits a status-changed event.
func (s *Service) ChangeStatus(ctx context.Context, tenantID, id uuid.UUID, to domain.AppointmentStatus, reason string, actor uuid.UUID) (*domain.Appointment, error) {
	switch to {
	case domain.StatusScheduled, domain.StatusConfirmed, domain.StatusCancelled, domain.StatusCompleted:
	default:
		return nil, apperr.InvalidInput("status", "unknown status")
	}

	appt, err := s.appts.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == to {
		return nil, apperr.InvalidState("appointment already has status " + string(to))
	}
	if !appt.Status.CanTransitionTo(to) {
		return nil, apperr.InvalidState("cannot transition from " + string(appt.Status) + " to " + string(to))
	}

	change := domain.StatusChange{
		From:      appt.Status,
		To:        to,
		Reason:    reason,
		Actor:     actor,
		ChangedAt: time.Now().UTC(),
	}
	appt.Status = to
	appt.History = append(appt.History, change)
	appt.UpdatedAt = change.ChangedAt

	if err := s.appts.Update(ctx, appt); err != nil {
		return nil, err
	}
	if err := s.appts.AppendHistory(ctx, appt.ID, change); err != nil {
		return nil, err
	}

	if err := s.mappings.MarkStaleByAppointment(ctx, tenantID, appt.ID); err != nil {
		logger.WithContext(ctx).Warn().Err(err).
			Str("appointment_id", appt.ID.String()).
			Msg("mark mappings stale after status change")
	}

	if s.emitter != nil {
		payload := map[string]any{
			"appointment_id": appt.ID.String(),
			"from":           string(change.From),
			"to":             string(change.To),
			"reason":         reason,
		}
		if err := s.emitter.Emit(ctx, tenantID, eventStatusChanged, payload); err != nil {
			logger.WithContext(ctx).Warn().Err(err).Msg("emit status change event")
		}
	}

	s.enqueuePushes(ctx, appt)
	return appt, nil
}

// Get returns one appointment.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Appointment, error) {
	return s.appts.GetByID(ctx, tenantID, id)
}

// List returns tenant appointments, optionally bounded to a window.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, from, to *time.Time) ([]*domain.Appointment, error) {
	return s.appts.ListByTenant(ctx, tenantID, from, to)
}

// SyncStatus returns the appointment's mapping rows so callers can inspect
// per-provider sync state and last errors.
func (s *Service) SyncStatus(ctx context.Context, tenantID, id uuid.UUID) ([]*domain.EventMapping, error) {
	if _, err := s.appts.GetByID(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.mappings.ListByAppointment(ctx, tenantID, id)
}

// checkOverlap rejects with Conflict when any other non-terminal
// appointment for the assignee overlaps [startAt, endAt).
func (s *Service) checkOverlap(ctx context.Context, tenantID, assigneeID uuid.UUID, startAt, endAt time.Time, excludeID uuid.UUID) error {
	existing, err := s.appts.ListByAssigneeInWindow(ctx, tenantID, assigneeID, startAt, endAt)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID == excludeID {
			continue
		}
		if other.Status.IsTerminal() {
			continue
		}
		if timeutil.Overlaps(startAt, endAt, other.StartAt, other.EndAt) {
			return apperr.Conflict("assignee already booked in this interval").
				WithDetail("conflicting_appointment_id", other.ID.String())
		}
	}
	return nil
}

// enqueuePushes schedules a push job for every enabled connection. Enqueue
// failures are logged, not surfaced: the queue retries and pull cycles
// reconcile.
func (s *Service) enqueuePushes(ctx context.Context, appt *domain.Appointment) {
	if s.producer == nil || s.conns == nil {
		return
	}
	conns, err := s.conns.ListEnabledByTenant(ctx, appt.TenantID)
	if err != nil {
		logger.WithContext(ctx).Warn().Err(err).Msg("list connections for push enqueue")
		return
	}
	for _, conn := range conns {
		job := out.PushJob{
			TenantID:      appt.TenantID,
			Provider:      conn.Provider,
			AppointmentID: appt.ID,
		}
		if err := s.producer.PublishPush(ctx, job); err != nil {
			logger.WithContext(ctx).Warn().Err(err).
				Str("provider", string(conn.Provider)).
				Msg("enqueue push job")
		}
	}
}

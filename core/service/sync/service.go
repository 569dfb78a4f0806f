// Package sync implements the push, pull, webhook-ingest and
// subscription-renewal protocols between local appointments and external
// calendar providers, including the conflict resolution policy.
package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/pkg/apperr"
	"schedsync/pkg/logger"
)

type Service struct {
	appts       out.AppointmentRepository
	settings    out.SettingsRepository
	conns       out.ConnectionRepository
	mappings    out.MappingRepository
	providers   out.ProviderFactory
	directory   out.TenantDirectory
	callbackURL string
}

func NewService(
	appts out.AppointmentRepository,
	settings out.SettingsRepository,
	conns out.ConnectionRepository,
	mappings out.MappingRepository,
	providers out.ProviderFactory,
	directory out.TenantDirectory,
	callbackURL string,
) *Service {
	return &Service{
		appts:       appts,
		settings:    settings,
		conns:       conns,
		mappings:    mappings,
		providers:   providers,
		directory:   directory,
		callbackURL: callbackURL,
	}
}

// ============================================================
// Push
// ============================================================

// PushAppointment upserts the appointment into the external calendar and
// records the result on the mapping ledger. Provider failures leave the
// mapping in ERROR and are re-raised so the job runner retries.
func (s *Service) PushAppointment(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType, apptID uuid.UUID) (*domain.EventMapping, error) {
	appt, err := s.appts.GetByID(ctx, tenantID, apptID)
	if err != nil {
		return nil, err
	}

	conn, adapter, tok, err := s.freshConnection(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}

	calendarID, err := s.targetCalendarID(ctx, tenantID, conn)
	if err != nil {
		return nil, err
	}

	mapping, err := s.mappings.GetByAppointment(ctx, tenantID, provider, apptID)
	if err != nil && !apperr.HasCode(err, apperr.CodeNotFound) {
		return nil, err
	}

	res, err := adapter.UpsertEvent(ctx, tok, appt, mapping, calendarID)
	if err != nil {
		if mapping != nil {
			s.recordError(ctx, mapping.ID, err)
		}
		return nil, err
	}

	now := time.Now().UTC()
	if mapping == nil {
		mapping = &domain.EventMapping{
			TenantID:      tenantID,
			Provider:      provider,
			AppointmentID: apptID,
			ConnectionID:  conn.ID,
			CreatedAt:     now,
		}
	}
	mapping.ExternalCalendarID = res.ExternalCalendarID
	mapping.ExternalEventID = res.ExternalEventID
	mapping.ChangeTag = optional(res.ChangeTag)
	mapping.SyncState = domain.SyncStateOK
	mapping.LastSyncedAt = &now
	mapping.LastError = nil
	mapping.UpdatedAt = now

	if err := s.mappings.Upsert(ctx, mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

// ============================================================
// Pull
// ============================================================

// PullOptions bounds a pull and selects its conflict policy. In safe mode
// divergence is flagged, never overwritten, and unknown remote events are
// not adopted.
type PullOptions struct {
	TenantID uuid.UUID
	Provider domain.ProviderType
	From     *time.Time
	To       *time.Time
	SafeMode bool
}

// PullSummary reports what a pull reconciled.
type PullSummary struct {
	Listed    int
	Unchanged int
	Updated   int
	Adopted   int
	Conflicts int
	Skipped   int
	Failed    int
}

// PullEvents lists the provider window and reconciles each event against
// the mapping ledger.
func (s *Service) PullEvents(ctx context.Context, opts PullOptions) (*PullSummary, error) {
	conn, adapter, tok, err := s.freshConnection(ctx, opts.TenantID, opts.Provider)
	if err != nil {
		return nil, err
	}

	calendarID, err := s.targetCalendarID(ctx, opts.TenantID, conn)
	if err != nil {
		return nil, err
	}

	events, err := adapter.ListEvents(ctx, tok, out.ListOptions{
		CalendarID: calendarID,
		From:       opts.From,
		To:         opts.To,
	})
	if err != nil {
		return nil, err
	}

	summary := &PullSummary{Listed: len(events)}
	var firstErr error
	for _, ev := range events {
		if err := s.reconcileEvent(ctx, conn, adapter, opts, calendarID, ev, summary); err != nil {
			summary.Failed++
			if firstErr == nil {
				firstErr = err
			}
			logger.WithContext(ctx).Warn().Err(err).
				Str("external_event_id", ev.ID).
				Msg("reconcile pulled event")
		}
	}
	// A partial pull is re-raised so the job runner retries it; the
	// successfully reconciled events are already idempotent on replay.
	if firstErr != nil {
		return summary, apperr.ProviderError(string(opts.Provider), firstErr).
			WithDetail("failed_events", summary.Failed)
	}
	return summary, nil
}

func (s *Service) reconcileEvent(ctx context.Context, conn *domain.CalendarConnection, adapter out.CalendarProviderPort, opts PullOptions, calendarID string, ev *out.ExternalEvent, summary *PullSummary) error {
	if ev.Cancelled {
		summary.Skipped++
		return nil
	}

	eventID := externalIdentity(ev)
	mapping, err := s.mappings.GetByExternalEvent(ctx, opts.TenantID, opts.Provider, calendarID, eventID)
	switch {
	case err == nil:
		return s.reconcileKnown(ctx, adapter, opts, mapping, ev, summary)
	case apperr.HasCode(err, apperr.CodeNotFound):
		return s.adoptUnknown(ctx, conn, adapter, opts, calendarID, eventID, ev, summary)
	default:
		return err
	}
}

// reconcileKnown applies the change-tag policy to an event we already map.
func (s *Service) reconcileKnown(ctx context.Context, adapter out.CalendarProviderPort, opts PullOptions, mapping *domain.EventMapping, ev *out.ExternalEvent, summary *PullSummary) error {
	now := time.Now().UTC()

	unchanged := ev.ChangeTag == "" ||
		mapping.ChangeTag == nil ||
		*mapping.ChangeTag == ev.ChangeTag

	if unchanged {
		if mapping.ChangeTag == nil && ev.ChangeTag != "" {
			mapping.ChangeTag = optional(ev.ChangeTag)
		}
		mapping.SyncState = domain.SyncStateOK
		mapping.LastSyncedAt = &now
		mapping.LastError = nil
		mapping.UpdatedAt = now
		summary.Unchanged++
		return s.mappings.Upsert(ctx, mapping)
	}

	if opts.SafeMode {
		msg := "remote change-tag diverged while safe mode was active"
		mapping.SyncState = domain.SyncStateConflict
		mapping.LastError = &msg
		mapping.UpdatedAt = now
		summary.Conflicts++
		return s.mappings.Upsert(ctx, mapping)
	}

	draft, err := adapter.ParseToDraft(ev)
	if err != nil {
		s.recordError(ctx, mapping.ID, err)
		return err
	}

	appt, err := s.appts.GetByID(ctx, opts.TenantID, mapping.AppointmentID)
	if err != nil {
		s.recordError(ctx, mapping.ID, err)
		return err
	}
	applyDraft(appt, draft)
	appt.UpdatedAt = now
	if err := s.appts.Update(ctx, appt); err != nil {
		s.recordError(ctx, mapping.ID, err)
		return err
	}

	mapping.ChangeTag = optional(ev.ChangeTag)
	mapping.SyncState = domain.SyncStateOK
	mapping.LastSyncedAt = &now
	mapping.LastError = nil
	mapping.UpdatedAt = now
	summary.Updated++
	return s.mappings.Upsert(ctx, mapping)
}

// adoptUnknown materializes a remote-origin event as a local appointment,
// unless safe mode forbids it.
func (s *Service) adoptUnknown(ctx context.Context, conn *domain.CalendarConnection, adapter out.CalendarProviderPort, opts PullOptions, calendarID, eventID string, ev *out.ExternalEvent, summary *PullSummary) error {
	if opts.SafeMode {
		summary.Skipped++
		return nil
	}

	owner, err := s.directory.DefaultOwner(ctx, opts.TenantID)
	if err != nil {
		// A tenant without a default owner cannot adopt remote-origin
		// events; retrying the pull will not change that.
		logger.WithContext(ctx).Warn().Err(err).
			Str("external_event_id", eventID).
			Msg("no default owner, adoption skipped")
		summary.Skipped++
		return nil
	}

	draft, err := adapter.ParseToDraft(ev)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	appt := &domain.Appointment{
		ID:          uuid.New(),
		TenantID:    opts.TenantID,
		Title:       draft.Title,
		Description: draft.Description,
		Status:      domain.StatusScheduled,
		StartAt:     draft.StartAt,
		EndAt:       draft.EndAt,
		Timezone:    draft.Timezone,
		Location:    draft.Location,
		Metadata:    draft.Metadata,
		CreatedBy:   owner,
		History: []domain.StatusChange{{
			To:        domain.StatusScheduled,
			Actor:     owner,
			ChangedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.appts.Create(ctx, appt); err != nil {
		return err
	}

	mapping := &domain.EventMapping{
		TenantID:           opts.TenantID,
		Provider:           opts.Provider,
		AppointmentID:      appt.ID,
		ConnectionID:       conn.ID,
		ExternalCalendarID: calendarID,
		ExternalEventID:    eventID,
		ChangeTag:          optional(ev.ChangeTag),
		SyncState:          domain.SyncStateOK,
		LastSyncedAt:       &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	summary.Adopted++
	return s.mappings.Upsert(ctx, mapping)
}

// ============================================================
// Webhook ingest
// ============================================================

// WebhookNotification is the provider-neutral correlation extract of an
// inbound webhook. Google populates ChannelID/ResourceID; Microsoft
// populates SubscriptionID/ClientState.
type WebhookNotification struct {
	Provider       domain.ProviderType
	ChannelID      string
	ResourceID     string
	ResourceState  string
	SubscriptionID string
	ClientState    string
}

// ProcessWebhook validates the notification against a known, enabled
// connection and marks that tenant's mappings for the provider stale.
// Unmatched notifications are acknowledged and ignored: provider
// subscriptions can outlive a disabled connection. Returns the affected
// tenant ids so the caller can schedule a safe-mode pull.
func (s *Service) ProcessWebhook(ctx context.Context, note WebhookNotification) ([]uuid.UUID, error) {
	var channelKey string
	switch note.Provider {
	case domain.ProviderGoogle:
		channelKey = note.ChannelID
	case domain.ProviderMicrosoft:
		channelKey = note.SubscriptionID
	default:
		return nil, nil
	}
	if channelKey == "" {
		return nil, nil
	}

	conn, err := s.conns.GetByWebhookChannel(ctx, channelKey)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !conn.Enabled || conn.Provider != note.Provider {
		return nil, nil
	}

	switch note.Provider {
	case domain.ProviderGoogle:
		if conn.WebhookResourceID == nil || *conn.WebhookResourceID != note.ResourceID {
			return nil, nil
		}
	case domain.ProviderMicrosoft:
		if conn.WebhookSecret == "" || conn.WebhookSecret != note.ClientState {
			return nil, nil
		}
	}

	if err := s.mappings.MarkStaleByTenantProvider(ctx, conn.TenantID, conn.Provider); err != nil {
		return nil, err
	}
	return []uuid.UUID{conn.TenantID}, nil
}

// ============================================================
// Subscription renewal
// ============================================================

// RenewSubscription refreshes tokens and re-establishes the provider
// webhook subscription, persisting the new channel identifiers.
func (s *Service) RenewSubscription(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType) error {
	conn, adapter, tok, err := s.freshConnection(ctx, tenantID, provider)
	if err != nil {
		return err
	}

	capable, ok := adapter.(out.WebhookCapable)
	if !ok {
		return apperr.UnsupportedOperation("webhook subscriptions for " + string(provider))
	}
	if s.callbackURL == "" {
		return apperr.ConfigError("webhook callback base URL is not configured")
	}

	calendarID, err := s.targetCalendarID(ctx, tenantID, conn)
	if err != nil {
		return err
	}

	sub, err := capable.EnsureSubscription(ctx, tok, s.callbackURL, calendarID, conn)
	if err != nil {
		return err
	}
	return s.conns.UpdateWebhook(ctx, conn.ID, sub.ChannelID, sub.ResourceID, sub.Expiration, sub.ClientState)
}

// ============================================================
// Shared plumbing
// ============================================================

// freshConnection loads the enabled connection, resolves its adapter and
// returns refreshed tokens, persisting any rotation.
func (s *Service) freshConnection(ctx context.Context, tenantID uuid.UUID, provider domain.ProviderType) (*domain.CalendarConnection, out.CalendarProviderPort, *out.TokenResult, error) {
	conn, err := s.conns.GetByTenantProvider(ctx, tenantID, provider)
	if err != nil {
		return nil, nil, nil, err
	}
	if !conn.Enabled {
		return nil, nil, nil, apperr.NotFound("enabled calendar connection")
	}

	adapter, err := s.providers.Create(provider)
	if err != nil {
		return nil, nil, nil, err
	}

	tok := &out.TokenResult{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		ExpiresAt:    conn.ExpiresAt,
		Scopes:       conn.Scopes,
	}
	fresh, err := adapter.RefreshIfNeeded(ctx, tok)
	if err != nil {
		return nil, nil, nil, err
	}
	if fresh.AccessToken != tok.AccessToken {
		if err := s.conns.UpdateTokens(ctx, conn.ID, fresh.AccessToken, fresh.RefreshToken, fresh.ExpiresAt); err != nil {
			return nil, nil, nil, err
		}
		conn.AccessToken = fresh.AccessToken
		conn.RefreshToken = fresh.RefreshToken
		conn.ExpiresAt = fresh.ExpiresAt
	}
	return conn, adapter, fresh, nil
}

// targetCalendarID resolves tenant default, then connection account id,
// then "primary".
func (s *Service) targetCalendarID(ctx context.Context, tenantID uuid.UUID, conn *domain.CalendarConnection) (string, error) {
	settings, err := s.settings.GetOrCreate(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if settings.DefaultCalendarID != nil && *settings.DefaultCalendarID != "" {
		return *settings.DefaultCalendarID, nil
	}
	if conn.AccountID != nil && *conn.AccountID != "" {
		return *conn.AccountID, nil
	}
	return "primary", nil
}

func (s *Service) recordError(ctx context.Context, mappingID int64, cause error) {
	msg := cause.Error()
	if err := s.mappings.SetState(ctx, mappingID, domain.SyncStateError, &msg); err != nil {
		logger.WithContext(ctx).Warn().Err(err).Int64("mapping_id", mappingID).Msg("record sync error")
	}
}

// externalIdentity picks the stable external key: the event id, then the
// provider's alternate stable id, then a generated one. The generated
// fallback is best effort only and not idempotent across pulls.
func externalIdentity(ev *out.ExternalEvent) string {
	if ev.ID != "" {
		return ev.ID
	}
	if ev.ICalUID != "" {
		return ev.ICalUID
	}
	return uuid.New().String()
}

func applyDraft(appt *domain.Appointment, draft *domain.AppointmentDraft) {
	appt.Title = draft.Title
	appt.Description = draft.Description
	appt.StartAt = draft.StartAt
	appt.EndAt = draft.EndAt
	appt.Timezone = draft.Timezone
	appt.Location = draft.Location
	appt.Metadata = draft.Metadata
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

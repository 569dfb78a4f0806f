package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"schedsync/core/port/out"
	"schedsync/core/service/sync"
	"schedsync/pkg/apperr"
	"schedsync/pkg/logger"
)

// Window pulled after a webhook fires. Wide enough to cover edits to past
// events and bookings well into the future.
const (
	webhookPullLookback  = 7 * 24 * time.Hour
	webhookPullLookahead = 30 * 24 * time.Hour
)

// SyncProcessor executes calendar sync jobs pulled off the streams.
type SyncProcessor struct {
	syncService *sync.Service
	producer    out.JobProducer
	log         zerolog.Logger
}

func NewSyncProcessor(syncService *sync.Service, producer out.JobProducer) *SyncProcessor {
	return &SyncProcessor{
		syncService: syncService,
		producer:    producer,
		log:         logger.L().With().Str("component", "sync_processor").Logger(),
	}
}

// ProcessPush pushes one appointment to one provider.
func (p *SyncProcessor) ProcessPush(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.PushJob](msg)
	if err != nil {
		return apperr.InvalidInput("payload", "malformed push job").WithError(err)
	}

	mapping, err := p.syncService.PushAppointment(ctx, job.TenantID, job.Provider, job.AppointmentID)
	if err != nil {
		// A tenant without a connection for this provider is not a
		// failure worth retrying.
		if apperr.HasCode(err, apperr.CodeNotFound) || apperr.HasCode(err, apperr.CodeUnsupportedOperation) {
			p.log.Debug().
				Str("tenant_id", job.TenantID.String()).
				Str("provider", string(job.Provider)).
				Err(err).
				Msg("push skipped")
			return nil
		}
		return err
	}

	p.log.Info().
		Str("tenant_id", job.TenantID.String()).
		Str("provider", string(job.Provider)).
		Str("appointment_id", job.AppointmentID.String()).
		Str("external_event_id", mapping.ExternalEventID).
		Msg("appointment pushed")
	return nil
}

// ProcessPull reconciles the provider window against local state.
func (p *SyncProcessor) ProcessPull(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.PullJob](msg)
	if err != nil {
		return apperr.InvalidInput("payload", "malformed pull job").WithError(err)
	}

	summary, err := p.syncService.PullEvents(ctx, sync.PullOptions{
		TenantID: job.TenantID,
		Provider: job.Provider,
		From:     job.From,
		To:       job.To,
		SafeMode: job.SafeMode,
	})
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) || apperr.HasCode(err, apperr.CodeUnsupportedOperation) {
			p.log.Debug().
				Str("tenant_id", job.TenantID.String()).
				Str("provider", string(job.Provider)).
				Err(err).
				Msg("pull skipped")
			return nil
		}
		return err
	}

	p.log.Info().
		Str("tenant_id", job.TenantID.String()).
		Str("provider", string(job.Provider)).
		Int("listed", summary.Listed).
		Int("updated", summary.Updated).
		Int("adopted", summary.Adopted).
		Int("conflicts", summary.Conflicts).
		Msg("pull completed")
	return nil
}

// ProcessWebhook correlates a provider notification and schedules a
// safe-mode pull for each affected tenant.
func (p *SyncProcessor) ProcessWebhook(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.WebhookJob](msg)
	if err != nil {
		return apperr.InvalidInput("payload", "malformed webhook job").WithError(err)
	}

	tenants, err := p.syncService.ProcessWebhook(ctx, sync.WebhookNotification{
		Provider:       job.Provider,
		ChannelID:      job.ChannelID,
		ResourceID:     job.ResourceID,
		ResourceState:  job.ResourceState,
		SubscriptionID: job.SubscriptionID,
		ClientState:    job.ClientState,
	})
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		return nil
	}

	from := time.Now().UTC().Add(-webhookPullLookback)
	to := time.Now().UTC().Add(webhookPullLookahead)
	for _, tenantID := range tenants {
		pull := out.PullJob{
			TenantID: tenantID,
			Provider: job.Provider,
			From:     &from,
			To:       &to,
			SafeMode: true,
		}
		if err := p.producer.PublishPull(ctx, pull); err != nil {
			p.log.Error().
				Err(err).
				Str("tenant_id", tenantID.String()).
				Msg("failed to enqueue webhook-triggered pull")
		}
	}
	return nil
}

// ProcessRenew renews one tenant's webhook subscription.
func (p *SyncProcessor) ProcessRenew(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[out.RenewJob](msg)
	if err != nil {
		return apperr.InvalidInput("payload", "malformed renew job").WithError(err)
	}

	if err := p.syncService.RenewSubscription(ctx, job.TenantID, job.Provider); err != nil {
		if apperr.HasCode(err, apperr.CodeUnsupportedOperation) || apperr.HasCode(err, apperr.CodeNotFound) {
			p.log.Debug().
				Str("tenant_id", job.TenantID.String()).
				Str("provider", string(job.Provider)).
				Err(err).
				Msg("renewal skipped")
			return nil
		}
		return err
	}

	p.log.Info().
		Str("tenant_id", job.TenantID.String()).
		Str("provider", string(job.Provider)).
		Msg("webhook subscription renewed")
	return nil
}

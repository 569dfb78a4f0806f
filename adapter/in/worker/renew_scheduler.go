package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"schedsync/core/port/out"
	"schedsync/pkg/logger"
)

// Provider webhook channels expire (7 days on Google, 3 on Microsoft).
// The scheduler enqueues a renewal well before the shortest window runs
// out so a missed tick does not drop the subscription.

const renewalLeadTime = 12 * time.Hour

// RenewScheduler periodically scans for expiring webhook subscriptions and
// enqueues renewal jobs.
type RenewScheduler struct {
	conns         out.ConnectionRepository
	producer      out.JobProducer
	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	log           zerolog.Logger
}

func NewRenewScheduler(conns out.ConnectionRepository, producer out.JobProducer) *RenewScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &RenewScheduler{
		conns:         conns,
		producer:      producer,
		checkInterval: 1 * time.Hour,
		ctx:           ctx,
		cancel:        cancel,
		log:           logger.L().With().Str("component", "renew_scheduler").Logger(),
	}
}

func (s *RenewScheduler) Start() {
	s.log.Info().Dur("interval", s.checkInterval).Msg("renewal scheduler started")
	go s.run()
}

func (s *RenewScheduler) Stop() {
	s.cancel()
}

func (s *RenewScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// immediate first pass so restarts do not wait a full interval
	s.enqueueExpiring()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("renewal scheduler stopped")
			return
		case <-ticker.C:
			s.enqueueExpiring()
		}
	}
}

func (s *RenewScheduler) enqueueExpiring() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	before := time.Now().UTC().Add(renewalLeadTime)
	conns, err := s.conns.ListExpiringSubscriptions(ctx, before)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list expiring subscriptions")
		return
	}

	for _, conn := range conns {
		job := out.RenewJob{TenantID: conn.TenantID, Provider: conn.Provider}
		if err := s.producer.PublishRenew(ctx, job); err != nil {
			s.log.Error().
				Err(err).
				Str("tenant_id", conn.TenantID.String()).
				Str("provider", string(conn.Provider)).
				Msg("failed to enqueue renewal")
		}
	}

	if len(conns) > 0 {
		s.log.Info().Int("count", len(conns)).Msg("renewal jobs enqueued")
	}
}

// SetCheckInterval overrides the scan interval (for testing).
func (s *RenewScheduler) SetCheckInterval(interval time.Duration) {
	s.checkInterval = interval
}

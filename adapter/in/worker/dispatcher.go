package worker

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"schedsync/pkg/logger"
)

// Handler routes messages to their processor by job type.
type Handler struct {
	syncProcessor *SyncProcessor
	log           zerolog.Logger
}

func NewHandler(syncProcessor *SyncProcessor) *Handler {
	return &Handler{
		syncProcessor: syncProcessor,
		log:           logger.L().With().Str("component", "dispatcher").Logger(),
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	h.log.Debug().Str("job_id", msg.ID).Str("job_type", msg.Type).Msg("processing message")

	switch msg.Type {
	case JobSyncPush:
		return h.syncProcessor.ProcessPush(ctx, msg)
	case JobSyncPull:
		return h.syncProcessor.ProcessPull(ctx, msg)
	case JobWebhookProcess:
		return h.syncProcessor.ProcessWebhook(ctx, msg)
	case JobSubscriptionRenew:
		return h.syncProcessor.ProcessRenew(ctx, msg)
	default:
		// Unknown types are dropped rather than retried forever.
		h.log.Warn().Str("job_type", msg.Type).Msg("unknown job type")
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

package out

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schedsync/core/domain"
)

// ============================================================
// Job producer
// ============================================================

type PushJob struct {
	TenantID      uuid.UUID           `json:"tenant_id"`
	Provider      domain.ProviderType `json:"provider"`
	AppointmentID uuid.UUID           `json:"appointment_id"`
}

type PullJob struct {
	TenantID uuid.UUID           `json:"tenant_id"`
	Provider domain.ProviderType `json:"provider"`
	From     *time.Time          `json:"from,omitempty"`
	To       *time.Time          `json:"to,omitempty"`
	SafeMode bool                `json:"safe_mode"`
}

type RenewJob struct {
	TenantID uuid.UUID           `json:"tenant_id"`
	Provider domain.ProviderType `json:"provider"`
}

// WebhookJob carries a raw provider notification from the HTTP ingress to
// the worker that correlates and processes it.
type WebhookJob struct {
	Provider       domain.ProviderType `json:"provider"`
	ChannelID      string              `json:"channel_id,omitempty"`
	ResourceID     string              `json:"resource_id,omitempty"`
	ResourceState  string              `json:"resource_state,omitempty"`
	SubscriptionID string              `json:"subscription_id,omitempty"`
	ClientState    string              `json:"client_state,omitempty"`
}

// JobProducer enqueues sync work onto the durable queue. The request path
// only enqueues; all provider network calls run on the worker side.
type JobProducer interface {
	PublishPush(ctx context.Context, job PushJob) error
	PublishPull(ctx context.Context, job PullJob) error
	PublishWebhook(ctx context.Context, job WebhookJob) error
	PublishRenew(ctx context.Context, job RenewJob) error
}

// ============================================================
// Event emitter
// ============================================================

// EventEmitter hands domain events to the webhook fan-out subsystem.
type EventEmitter interface {
	Emit(ctx context.Context, tenantID uuid.UUID, eventName string, payload map[string]any) error
}

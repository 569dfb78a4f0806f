// Package messaging publishes sync jobs and domain events over redis
// streams.
package messaging

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"schedsync/core/port/out"
	"schedsync/internal/stream"
)

// Job type tags carried in stream.Job.Type.
const (
	JobSyncPush = "sync.push"
	JobSyncPull = "sync.pull"
	JobWebhook  = "webhook.process"
	JobSubRenew = "subscription.renew"
)

type RedisProducer struct {
	stream *stream.RedisStream
}

func NewRedisProducer(s *stream.RedisStream) *RedisProducer {
	return &RedisProducer{stream: s}
}

func (p *RedisProducer) publish(ctx context.Context, streamName, jobType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.stream.Publish(ctx, streamName, &stream.Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	})
}

func (p *RedisProducer) PublishPush(ctx context.Context, job out.PushJob) error {
	return p.publish(ctx, stream.StreamSyncPush, JobSyncPush, job)
}

func (p *RedisProducer) PublishPull(ctx context.Context, job out.PullJob) error {
	return p.publish(ctx, stream.StreamSyncPull, JobSyncPull, job)
}

func (p *RedisProducer) PublishWebhook(ctx context.Context, job out.WebhookJob) error {
	return p.publish(ctx, stream.StreamWebhook, JobWebhook, job)
}

func (p *RedisProducer) PublishRenew(ctx context.Context, job out.RenewJob) error {
	return p.publish(ctx, stream.StreamSubRenewal, JobSubRenew, job)
}

var _ out.JobProducer = (*RedisProducer)(nil)

// ============================================================
// Event emitter
// ============================================================

// RedisEmitter hands domain events to the webhook fan-out subsystem via a
// plain redis list it drains.
type RedisEmitter struct {
	client *redis.Client
	queue  string
}

func NewRedisEmitter(client *redis.Client) *RedisEmitter {
	return &RedisEmitter{client: client, queue: "events:outbox"}
}

func (e *RedisEmitter) Emit(ctx context.Context, tenantID uuid.UUID, eventName string, payload map[string]any) error {
	envelope := map[string]any{
		"tenant_id":  tenantID.String(),
		"event":      eventName,
		"payload":    payload,
		"emitted_at": time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return e.client.LPush(ctx, e.queue, data).Err()
}

var _ out.EventEmitter = (*RedisEmitter)(nil)

// Package stream is the redis-streams plumbing behind the durable job
// queue: one stream per job family, consumer groups with explicit acks.
package stream

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"schedsync/pkg/logger"
)

// Stream names. One stream per job family keeps retry policies
// independent.
const (
	StreamSyncPush   = "calendar:sync:push"
	StreamSyncPull   = "calendar:sync:pull"
	StreamWebhook    = "calendar:webhook"
	StreamSubRenewal = "calendar:subscription:renew"
)

// AllStreams lists every stream a worker consumes.
var AllStreams = []string{StreamSyncPush, StreamSyncPull, StreamWebhook, StreamSubRenewal}

// Job is the wire shape carried on every stream.
type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type RedisStream struct {
	client *redis.Client
	group  string
}

func NewRedisStream(client *redis.Client, group string) *RedisStream {
	return &RedisStream{client: client, group: group}
}

// CreateGroup creates the consumer group, tolerating one that already
// exists.
func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Publish appends the job to the stream.
func (s *RedisStream) Publish(ctx context.Context, stream string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": data},
	}).Err()
}

// Consume blocks on the stream, handing each job to handler and acking on
// success. A handler failure leaves the entry pending for redelivery.
func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, handler func(context.Context, *Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			logger.L().Error().Err(err).Str("stream", stream).Msg("read stream")
			time.Sleep(time.Second)
			continue
		}

		for _, sr := range res {
			for _, msg := range sr.Messages {
				raw, ok := msg.Values["data"].(string)
				if !ok {
					s.client.XAck(ctx, stream, s.group, msg.ID)
					continue
				}
				var job Job
				if err := json.Unmarshal([]byte(raw), &job); err != nil {
					logger.L().Warn().Err(err).Str("stream", stream).Msg("drop malformed job")
					s.client.XAck(ctx, stream, s.group, msg.ID)
					continue
				}
				if err := handler(ctx, &job); err != nil {
					logger.L().Warn().Err(err).
						Str("stream", stream).
						Str("job_id", job.ID).
						Msg("job handler failed, left pending")
					continue
				}
				s.client.XAck(ctx, stream, s.group, msg.ID)
			}
		}
	}
}

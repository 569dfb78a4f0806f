package http

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"schedsync/core/domain"
	"schedsync/core/port/out"
	"schedsync/pkg/logger"
)

// IdempotencyTTL bounds how long a duplicate provider notification is
// suppressed. Providers retry aggressively on timeouts.
const IdempotencyTTL = 5 * time.Minute

type WebhookMetrics struct {
	Processed  int64
	Duplicates int64
	Errors     int64
	Queued     int64
}

// WebhookHandler is the unauthenticated ingress for provider push
// notifications. It validates nothing beyond shape: correlation against
// known subscriptions happens on the worker. Every response is 200 so
// providers do not disable the subscription over transient errors.
type WebhookHandler struct {
	producer out.JobProducer
	redis    *redis.Client
	metrics  WebhookMetrics
}

func NewWebhookHandler(producer out.JobProducer, redisClient *redis.Client) *WebhookHandler {
	return &WebhookHandler{producer: producer, redis: redisClient}
}

func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhooks/google-calendar", h.GoogleWebhook)
	app.Post("/webhooks/microsoft-calendar", h.MicrosoftWebhook)
	app.Get("/webhooks/microsoft-calendar", h.MicrosoftValidation)
}

func (h *WebhookHandler) GetMetrics() WebhookMetrics {
	return WebhookMetrics{
		Processed:  atomic.LoadInt64(&h.metrics.Processed),
		Duplicates: atomic.LoadInt64(&h.metrics.Duplicates),
		Errors:     atomic.LoadInt64(&h.metrics.Errors),
		Queued:     atomic.LoadInt64(&h.metrics.Queued),
	}
}

func (h *WebhookHandler) checkIdempotency(ctx context.Context, provider, key string) bool {
	if h.redis == nil {
		return false
	}
	redisKey := fmt.Sprintf("webhook:idempotent:%s:%s", provider, key)
	ok, err := h.redis.SetNX(ctx, redisKey, "1", IdempotencyTTL).Result()
	if err != nil || !ok {
		atomic.AddInt64(&h.metrics.Duplicates, 1)
		return true
	}
	return false
}

func (h *WebhookHandler) enqueue(ctx context.Context, job out.WebhookJob) {
	atomic.AddInt64(&h.metrics.Processed, 1)
	if err := h.producer.PublishWebhook(ctx, job); err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		logger.L().Error().Err(err).
			Str("provider", string(job.Provider)).
			Msg("failed to enqueue webhook job")
		return
	}
	atomic.AddInt64(&h.metrics.Queued, 1)
}

// GoogleWebhook handles Google channel notifications, delivered entirely
// through X-Goog-* headers.
func (h *WebhookHandler) GoogleWebhook(c *fiber.Ctx) error {
	channelID := c.Get("X-Goog-Channel-ID")
	resourceID := c.Get("X-Goog-Resource-ID")
	resourceState := c.Get("X-Goog-Resource-State")
	clientState := c.Get("X-Goog-Channel-Token")

	// "sync" is the channel handshake, not a data change
	if resourceState == "sync" || channelID == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	ctx := c.UserContext()
	if h.checkIdempotency(ctx, "google", channelID+":"+resourceID+":"+resourceState) {
		return c.SendStatus(fiber.StatusOK)
	}

	h.enqueue(ctx, out.WebhookJob{
		Provider:      domain.ProviderGoogle,
		ChannelID:     channelID,
		ResourceID:    resourceID,
		ResourceState: resourceState,
		ClientState:   clientState,
	})
	return c.SendStatus(fiber.StatusOK)
}

type graphNotification struct {
	Value []struct {
		SubscriptionID string `json:"subscriptionId"`
		ClientState    string `json:"clientState"`
		ChangeType     string `json:"changeType"`
		Resource       string `json:"resource"`
	} `json:"value"`
}

// MicrosoftWebhook handles Graph change notifications. A single request
// can batch notifications for several subscriptions.
func (h *WebhookHandler) MicrosoftWebhook(c *fiber.Ctx) error {
	// Graph also validates over POST with a query token
	if token := c.Query("validationToken"); token != "" {
		c.Set(fiber.HeaderContentType, "text/plain")
		return c.SendString(token)
	}

	var note graphNotification
	if err := json.Unmarshal(c.Body(), &note); err != nil {
		logger.L().Warn().Err(err).Msg("malformed graph notification")
		return c.SendStatus(fiber.StatusOK)
	}

	ctx := c.UserContext()
	for _, item := range note.Value {
		if item.SubscriptionID == "" {
			continue
		}
		if h.checkIdempotency(ctx, "microsoft", item.SubscriptionID+":"+item.Resource+":"+item.ChangeType) {
			continue
		}
		h.enqueue(ctx, out.WebhookJob{
			Provider:       domain.ProviderMicrosoft,
			SubscriptionID: item.SubscriptionID,
			ClientState:    item.ClientState,
			ResourceState:  item.ChangeType,
		})
	}
	return c.SendStatus(fiber.StatusOK)
}

// MicrosoftValidation answers the subscription handshake.
func (h *WebhookHandler) MicrosoftValidation(c *fiber.Ctx) error {
	if token := c.Query("validationToken"); token != "" {
		c.Set(fiber.HeaderContentType, "text/plain")
		return c.SendString(token)
	}
	return c.SendStatus(fiber.StatusOK)
}

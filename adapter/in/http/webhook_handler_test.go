package http

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"schedsync/core/domain"
	"schedsync/core/port/out"
)

type captureProducer struct {
	webhooks []out.WebhookJob
}

func (p *captureProducer) PublishPush(ctx context.Context, job out.PushJob) error { return nil }
func (p *captureProducer) PublishPull(ctx context.Context, job out.PullJob) error { return nil }
func (p *captureProducer) PublishRenew(ctx context.Context, job out.RenewJob) error {
	return nil
}
func (p *captureProducer) PublishWebhook(ctx context.Context, job out.WebhookJob) error {
	p.webhooks = append(p.webhooks, job)
	return nil
}

var _ out.JobProducer = (*captureProducer)(nil)

func newWebhookApp(producer *captureProducer) *fiber.App {
	app := fiber.New()
	NewWebhookHandler(producer, nil).Register(app)
	return app
}

func TestGoogleWebhookEnqueues(t *testing.T) {
	producer := &captureProducer{}
	app := newWebhookApp(producer)

	req := httptest.NewRequest("POST", "/webhooks/google-calendar", nil)
	req.Header.Set("X-Goog-Channel-ID", "chan-1")
	req.Header.Set("X-Goog-Resource-ID", "res-1")
	req.Header.Set("X-Goog-Resource-State", "exists")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(producer.webhooks) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(producer.webhooks))
	}
	job := producer.webhooks[0]
	if job.Provider != domain.ProviderGoogle || job.ChannelID != "chan-1" || job.ResourceID != "res-1" {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestGoogleWebhookIgnoresHandshake(t *testing.T) {
	producer := &captureProducer{}
	app := newWebhookApp(producer)

	req := httptest.NewRequest("POST", "/webhooks/google-calendar", nil)
	req.Header.Set("X-Goog-Channel-ID", "chan-1")
	req.Header.Set("X-Goog-Resource-State", "sync")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(producer.webhooks) != 0 {
		t.Fatal("handshake should not enqueue")
	}
}

func TestMicrosoftWebhookValidationEcho(t *testing.T) {
	producer := &captureProducer{}
	app := newWebhookApp(producer)

	req := httptest.NewRequest("POST", "/webhooks/microsoft-calendar?validationToken=tok-123", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text/plain", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "tok-123" {
		t.Errorf("body = %q, want token echoed", body)
	}
	if len(producer.webhooks) != 0 {
		t.Fatal("validation should not enqueue")
	}
}

func TestMicrosoftWebhookEnqueuesBatch(t *testing.T) {
	producer := &captureProducer{}
	app := newWebhookApp(producer)

	body := `{"value":[
		{"subscriptionId":"sub-1","clientState":"secret-1","changeType":"updated","resource":"me/events/a"},
		{"subscriptionId":"sub-2","clientState":"secret-2","changeType":"deleted","resource":"me/events/b"}
	]}`
	req := httptest.NewRequest("POST", "/webhooks/microsoft-calendar", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(producer.webhooks) != 2 {
		t.Fatalf("enqueued = %d, want 2", len(producer.webhooks))
	}
	if producer.webhooks[0].SubscriptionID != "sub-1" || producer.webhooks[0].ClientState != "secret-1" {
		t.Errorf("unexpected job: %+v", producer.webhooks[0])
	}
}

func TestMicrosoftWebhookMalformedBodyStill200(t *testing.T) {
	producer := &captureProducer{}
	app := newWebhookApp(producer)

	req := httptest.NewRequest("POST", "/webhooks/microsoft-calendar", strings.NewReader("not json"))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

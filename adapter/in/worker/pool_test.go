package worker

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"schedsync/core/domain"
	"schedsync/core/port/out"
)

func TestParsePayload(t *testing.T) {
	tenantID := uuid.New()
	apptID := uuid.New()

	msg := NewMessage(JobSyncPush, map[string]any{
		"tenant_id":      tenantID.String(),
		"provider":       string(domain.ProviderGoogle),
		"appointment_id": apptID.String(),
	})

	job, err := ParsePayload[out.PushJob](msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if job.TenantID != tenantID {
		t.Errorf("tenant_id = %s, want %s", job.TenantID, tenantID)
	}
	if job.Provider != domain.ProviderGoogle {
		t.Errorf("provider = %s, want %s", job.Provider, domain.ProviderGoogle)
	}
	if job.AppointmentID != apptID {
		t.Errorf("appointment_id = %s, want %s", job.AppointmentID, apptID)
	}
}

func TestParsePayloadMalformed(t *testing.T) {
	msg := NewMessage(JobSyncPush, map[string]any{
		"tenant_id": "not-a-uuid",
	})

	if _, err := ParsePayload[out.PushJob](msg); err == nil {
		t.Fatal("expected error for malformed uuid")
	}
}

func TestWebhookMessagesArePriority(t *testing.T) {
	webhook := NewMessage(JobWebhookProcess, nil)
	if !webhook.IsPriority() {
		t.Error("webhook messages should default to priority")
	}

	push := NewMessage(JobSyncPush, nil)
	if push.IsPriority() {
		t.Error("push messages should not default to priority")
	}

	critical := NewPriorityMessage(JobSyncPull, nil, PriorityCritical)
	if !critical.IsPriority() {
		t.Error("critical messages should be priority")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(5, time.Second)

	for i := 0; i < 5; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow() {
		t.Error("6th request within the interval should be rejected")
	}
}

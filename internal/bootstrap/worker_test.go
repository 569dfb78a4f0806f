package bootstrap

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"schedsync/adapter/in/worker"
	"schedsync/internal/stream"
)

func TestHandleJobRejectedSubmissionStaysPending(t *testing.T) {
	// A pool that was never started rejects every submission.
	pool := worker.NewPool(worker.NewHandler(nil), worker.DefaultPoolConfig(), zerolog.Nop())
	w := &Worker{pool: pool, log: zerolog.Nop()}

	job := &stream.Job{
		ID:      "job-1",
		Type:    worker.JobSyncPush,
		Payload: []byte(`{"tenant_id":"00000000-0000-0000-0000-000000000001"}`),
	}
	if err := w.handleJob(context.Background(), job); err == nil {
		t.Fatal("expected an error so the stream entry is redelivered")
	}
}

func TestHandleJobMalformedPayloadAcked(t *testing.T) {
	pool := worker.NewPool(worker.NewHandler(nil), worker.DefaultPoolConfig(), zerolog.Nop())
	w := &Worker{pool: pool, log: zerolog.Nop()}

	job := &stream.Job{
		ID:      "job-2",
		Type:    worker.JobSyncPush,
		Payload: []byte(`{not json`),
	}
	// Malformed payloads can never succeed; ack them instead of looping.
	if err := w.handleJob(context.Background(), job); err != nil {
		t.Fatalf("handleJob: %v", err)
	}
}

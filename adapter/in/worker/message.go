package worker

import (
	"time"

	"github.com/google/uuid"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobType represents the type of a job.
type JobType = string

const (
	JobSyncPush          JobType = "sync.push"
	JobSyncPull          JobType = "sync.pull"
	JobWebhookProcess    JobType = "webhook.process"
	JobSubscriptionRenew JobType = "subscription.renew"
)

type Message struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType JobType, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  defaultPriority(jobType),
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// NewPriorityMessage creates a message with an explicit priority.
func NewPriorityMessage(jobType JobType, payload map[string]any, priority Priority) *Message {
	m := NewMessage(jobType, payload)
	m.Priority = priority
	return m
}

// IsPriority checks if the message should go to the priority queue.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// Webhook notifications front-run scheduled pulls so that external edits
// land quickly.
func defaultPriority(jobType JobType) Priority {
	if jobType == JobWebhookProcess {
		return PriorityHigh
	}
	return PriorityNormal
}

package adapter

import "context"

type JobEventKind string

const (
	JobEventCreated   JobEventKind = "created"
	JobEventCompleted JobEventKind = "completed"
	JobEventFailed    JobEventKind = "failed"
)

// JobEvent is broadcast to the external websocket layer on lifecycle edges.
type JobEvent struct {
	Kind      JobEventKind `json:"kind"`
	JobID     string       `json:"job_id"`
	AccountID int64        `json:"account_id"`
	LeadID    int64        `json:"lead_id"`
	Error     string       `json:"error,omitempty"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev JobEvent) error
}

package model

import "time"

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStalled   JobStatus = "stalled"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank maps a priority onto its dequeue rank; lower is dequeued first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// DeliveryJob is one enqueue attempt for an operator message. Terminal
// statuses (completed, failed) are immutable until garbage collection.
type DeliveryJob struct {
	ID        string
	AccountID int64
	LeadID    int64

	MessageText string
	NoteText    string
	TaskText    string

	Priority     Priority
	AttemptsMade int
	MaxAttempts  int
	Status       JobStatus

	// RunAt defers the next attempt when a retry is backed off.
	RunAt       time.Time
	Reclaims    int
	HeartbeatAt time.Time

	LastError  string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the job has reached an immutable status.
func (j *DeliveryJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// AttemptsLeft reports whether the job still has retry budget.
func (j *DeliveryJob) AttemptsLeft() bool {
	return j.AttemptsMade < j.MaxAttempts
}

package repository

import (
	"context"
	"time"

	"crm-delivery-engine/internal/domain/model"
)

type DeliveryJobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.DeliveryJob) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.DeliveryJob, error)

	// FetchAndMarkActive atomically claims the next due queued job, ordered
	// by (priority rank, run_at, created_at), and marks it active so no
	// other worker picks it up. Returns domain.ErrNotFound when the queue
	// is drained.
	FetchAndMarkActive(ctx context.Context, now time.Time) (*model.DeliveryJob, error)

	// Position returns the 1-based rank of a queued job among all queued
	// jobs, 0 when the job is not waiting.
	Position(ctx context.Context, tx Tx, id string) (int, error)

	// Heartbeat refreshes an active job's liveness timestamp.
	Heartbeat(ctx context.Context, id string, at time.Time) error

	// FindStalled lists active jobs whose heartbeat is older than cutoff.
	FindStalled(ctx context.Context, cutoff time.Time, limit int) ([]*model.DeliveryJob, error)

	Stats(ctx context.Context, tx Tx, since time.Time) (*model.QueueStats, error)

	// DeleteTerminalBefore garbage-collects terminal jobs past retention.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

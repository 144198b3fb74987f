package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/adapter"
	"crm-delivery-engine/internal/domain/ports/repository"
	"crm-delivery-engine/internal/infra/metrics"
)

// Admitter is the admission-control gate consulted before a job enters the
// durable queue.
type Admitter interface {
	Admit(ctx context.Context, accountID, leadID int64) error
}

// Compile-time check
var _ QueueUseCase = (*queueUC)(nil)

type EnqueueParams struct {
	AccountID   int64
	LeadID      int64
	MessageText string
	NoteText    string
	TaskText    string
	Priority    model.Priority
}

type QueueUseCase interface {
	// Enqueue admits and persists a delivery job, returning it together
	// with its 1-based queue position. Non-blocking: no network delivery
	// happens here.
	Enqueue(ctx context.Context, p EnqueueParams) (*model.DeliveryJob, int, error)
	Position(ctx context.Context, jobID string) (int, error)
	GetJob(ctx context.Context, jobID string) (*model.DeliveryJob, error)
	// Cancel marks a still-queued job failed-terminal. Active jobs are not
	// preemptible.
	Cancel(ctx context.Context, jobID string) error
}

type queueUC struct {
	jobs        repository.DeliveryJobRepository
	admitter    Admitter
	events      adapter.EventPublisher
	maxAttempts int
	log         *zerolog.Logger
}

func NewQueueUseCase(jobs repository.DeliveryJobRepository, admitter Admitter, events adapter.EventPublisher, maxAttempts int, logger *zerolog.Logger) *queueUC {
	l := logger.With().Str("component", "QueueUC").Logger()
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &queueUC{jobs: jobs, admitter: admitter, events: events, maxAttempts: maxAttempts, log: &l}
}

func (q *queueUC) Enqueue(ctx context.Context, p EnqueueParams) (*model.DeliveryJob, int, error) {
	if p.AccountID == 0 || p.LeadID == 0 {
		return nil, 0, domain.ErrInvalidArgument
	}
	if p.MessageText == "" && p.NoteText == "" && p.TaskText == "" {
		return nil, 0, domain.ErrInvalidArgument
	}
	if !p.Priority.Valid() {
		p.Priority = model.PriorityNormal
	}

	if err := q.admitter.Admit(ctx, p.AccountID, p.LeadID); err != nil {
		switch {
		case errors.Is(err, domain.ErrRateLimitExceeded):
			metrics.IncAdmissionRejected("rate_limit")
		case errors.Is(err, domain.ErrDuplicateRequest):
			metrics.IncAdmissionRejected("duplicate")
		}
		return nil, 0, err
	}

	job := &model.DeliveryJob{
		AccountID:   p.AccountID,
		LeadID:      p.LeadID,
		MessageText: p.MessageText,
		NoteText:    p.NoteText,
		TaskText:    p.TaskText,
		Priority:    p.Priority,
		MaxAttempts: q.maxAttempts,
		Status:      model.JobStatusQueued,
		CreatedAt:   time.Now(),
	}
	if err := q.jobs.Save(ctx, repository.NoTX, job); err != nil {
		return nil, 0, err
	}

	pos, err := q.jobs.Position(ctx, repository.NoTX, job.ID)
	if err != nil {
		q.log.Warn().Err(err).Str("job_id", job.ID).Msg("position lookup failed")
		pos = 0
	}

	if q.events != nil {
		if err := q.events.Publish(ctx, adapter.JobEvent{
			Kind: adapter.JobEventCreated, JobID: job.ID,
			AccountID: job.AccountID, LeadID: job.LeadID,
		}); err != nil {
			q.log.Warn().Err(err).Str("job_id", job.ID).Msg("created event publish failed")
		}
	}

	q.log.Info().Str("job_id", job.ID).Int64("account_id", job.AccountID).
		Int64("lead_id", job.LeadID).Str("priority", string(job.Priority)).
		Int("position", pos).Msg("delivery job enqueued")
	return job, pos, nil
}

func (q *queueUC) Position(ctx context.Context, jobID string) (int, error) {
	return q.jobs.Position(ctx, repository.NoTX, jobID)
}

func (q *queueUC) GetJob(ctx context.Context, jobID string) (*model.DeliveryJob, error) {
	return q.jobs.FindByID(ctx, repository.NoTX, jobID)
}

func (q *queueUC) Cancel(ctx context.Context, jobID string) error {
	job, err := q.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusQueued {
		return domain.ErrInvalidArgument
	}
	job.Status = model.JobStatusFailed
	job.LastError = "cancelled"
	job.FinishedAt = time.Now()
	return q.jobs.Save(ctx, repository.NoTX, job)
}

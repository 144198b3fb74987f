package worker

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

// Deliverer executes one attempt of a job and names the strategy used.
type Deliverer interface {
	Deliver(ctx context.Context, job *model.DeliveryJob) (string, error)
}

type ProcessorConfig struct {
	PollInterval time.Duration
	BackoffBase  time.Duration
	JobTimeout   time.Duration
}

// Processor drains the durable queue: claims jobs, runs delivery attempts
// through the Dispatcher, and drives the per-job state machine
// queued → active → {completed | queued(delayed) | failed}.
type Processor struct {
	jobs      repository.DeliveryJobRepository
	messages  repository.MessageRecordRepository
	events    adapter.EventPublisher
	deliverer Deliverer
	cfg       ProcessorConfig
	log       *zerolog.Logger
}

func NewProcessor(
	jobs repository.DeliveryJobRepository,
	messages repository.MessageRecordRepository,
	events adapter.EventPublisher,
	deliverer Deliverer,
	cfg ProcessorConfig,
	logger *zerolog.Logger,
) *Processor {
	l := logger.With().Str("component", "Processor").Logger()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	return &Processor{jobs: jobs, messages: messages, events: events, deliverer: deliverer, cfg: cfg, log: &l}
}

// Start polls for due jobs and feeds them to the worker pool.
// This should be run in a goroutine.
func (p *Processor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Msg("delivery processor started")
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("delivery processor stopping")
			return
		case <-ticker.C:
			_ = pool.Submit(func(ctx context.Context) error {
				p.ProcessOne(ctx)
				return nil
			})
		}
	}
}

// ProcessOne claims and executes a single due job, if any.
func (p *Processor) ProcessOne(ctx context.Context) {
	job, err := p.jobs.FetchAndMarkActive(ctx, time.Now())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.log.Error().Err(err).Msg("failed to fetch delivery job")
		}
		return
	}

	p.log.Info().Str("job_id", job.ID).Int64("account_id", job.AccountID).
		Int64("lead_id", job.LeadID).Int("attempt", job.AttemptsMade+1).Msg("processing delivery job")

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	stopHB := p.heartbeat(attemptCtx, job.ID)

	start := time.Now()
	strategy, err := p.deliverer.Deliver(attemptCtx, job)
	latency := time.Since(start)

	stopHB()
	cancel()

	metrics.ObserveDelivery(strategy, int(latency/time.Millisecond), err == nil)
	p.settle(job, err, latency)
}

// settle applies the attempt outcome to the job record, the message record
// and the event stream. Uses a background context: the attempt may have
// timed out, but the bookkeeping must still land.
func (p *Processor) settle(job *model.DeliveryJob, deliverErr error, latency time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()

	switch {
	case deliverErr == nil:
		job.Status = model.JobStatusCompleted
		job.AttemptsMade++
		job.FinishedAt = now
		job.LastError = ""
		metrics.IncJobProcessed("completed")
		p.reportOutcome(ctx, job, model.MessageStatusSent, latency, "")
		p.publish(ctx, adapter.JobEventCompleted, job, "")
		p.log.Info().Str("job_id", job.ID).Dur("processing_time", latency).Msg("delivery job completed")

	case domain.IsRequeueWithoutAttempt(deliverErr):
		// Pool saturation is not the job's fault; park it briefly.
		job.Status = model.JobStatusQueued
		job.RunAt = now.Add(p.cfg.BackoffBase)
		job.LastError = deliverErr.Error()
		metrics.IncJobProcessed("requeued")
		p.log.Warn().Str("job_id", job.ID).Msg("automation pool exhausted, job requeued")

	case domain.IsTerminal(deliverErr):
		p.fail(ctx, job, deliverErr, now, latency)

	default:
		job.AttemptsMade++
		if job.AttemptsLeft() {
			delay := Backoff(p.cfg.BackoffBase, job.AttemptsMade)
			job.Status = model.JobStatusQueued
			job.RunAt = now.Add(delay)
			job.LastError = deliverErr.Error()
			metrics.IncJobProcessed("retried")
			p.log.Warn().Err(deliverErr).Str("job_id", job.ID).
				Dur("backoff", delay).Int("attempt", job.AttemptsMade).Msg("delivery attempt failed, retrying")
		} else {
			p.fail(ctx, job, deliverErr, now, latency)
		}
	}

	if err := p.jobs.Save(ctx, repository.NoTX, job); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("job state save failed")
	}
}

func (p *Processor) fail(ctx context.Context, job *model.DeliveryJob, deliverErr error, now time.Time, latency time.Duration) {
	if job.AttemptsMade < job.MaxAttempts && domain.IsTerminal(deliverErr) {
		job.AttemptsMade++
	}
	job.Status = model.JobStatusFailed
	job.FinishedAt = now
	job.LastError = deliverErr.Error()
	metrics.IncJobProcessed("failed")
	p.reportOutcome(ctx, job, model.MessageStatusFailed, latency, deliverErr.Error())
	p.publish(ctx, adapter.JobEventFailed, job, deliverErr.Error())
	p.log.Error().Err(deliverErr).Str("job_id", job.ID).
		Int("attempts", job.AttemptsMade).Msg("delivery job failed terminally")
}

func (p *Processor) reportOutcome(ctx context.Context, job *model.DeliveryJob, status model.MessageStatus, latency time.Duration, errMsg string) {
	rec := &model.MessageRecord{
		JobID:          job.ID,
		AccountID:      job.AccountID,
		LeadID:         job.LeadID,
		Status:         status,
		ProcessingTime: latency,
		ErrorMessage:   errMsg,
	}
	if status == model.MessageStatusSent {
		rec.SentAt = job.FinishedAt
	}
	if err := p.messages.ReportOutcome(ctx, rec); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("message record update failed")
	}
}

func (p *Processor) publish(ctx context.Context, kind adapter.JobEventKind, job *model.DeliveryJob, errMsg string) {
	if p.events == nil {
		return
	}
	ev := adapter.JobEvent{Kind: kind, JobID: job.ID, AccountID: job.AccountID, LeadID: job.LeadID, Error: errMsg}
	if err := p.events.Publish(ctx, ev); err != nil {
		p.log.Warn().Err(err).Str("job_id", job.ID).Msg("event publish failed")
	}
}

// heartbeat keeps the job's liveness timestamp fresh so the stall sweeper
// can tell a slow automation step from a dead worker.
func (p *Processor) heartbeat(ctx context.Context, jobID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := p.jobs.Heartbeat(ctx, jobID, time.Now()); err != nil {
					p.log.Debug().Err(err).Str("job_id", jobID).Msg("heartbeat failed")
				}
			}
		}
	}()
	return func() { close(done) }
}

// Backoff returns the delay before retry attempt n (1-based): base, 2·base,
// 4·base, ...
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

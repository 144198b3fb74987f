package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/adapter"
	"crm-delivery-engine/internal/domain/ports/repository"
	"crm-delivery-engine/internal/infra/metrics"
)

type SweeperConfig struct {
	Interval       time.Duration
	StallThreshold time.Duration
	MaxReclaims    int
	Retention      time.Duration
}

// Sweeper reclaims jobs left active by a crashed or wedged worker and
// garbage-collects terminal jobs past retention. Reclaims are capped so a
// job that keeps killing its worker cannot loop forever.
type Sweeper struct {
	jobs   repository.DeliveryJobRepository
	events adapter.EventPublisher
	cfg    SweeperConfig
	log    *zerolog.Logger
}

func NewSweeper(jobs repository.DeliveryJobRepository, events adapter.EventPublisher, cfg SweeperConfig, logger *zerolog.Logger) *Sweeper {
	l := logger.With().Str("component", "Sweeper").Logger()
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = 90 * time.Second
	}
	if cfg.MaxReclaims <= 0 {
		cfg.MaxReclaims = 2
	}
	return &Sweeper{jobs: jobs, events: events, cfg: cfg, log: &l}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("stall sweeper started")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("stall sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
			s.collect(ctx)
		}
	}
}

// Sweep requeues stalled jobs, forcing terminal failure past the reclaim cap.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.StallThreshold)
	stalled, err := s.jobs.FindStalled(ctx, cutoff, 100)
	if err != nil {
		s.log.Error().Err(err).Msg("stalled job scan failed")
		return
	}

	for _, job := range stalled {
		job.Reclaims++
		if job.Reclaims > s.cfg.MaxReclaims {
			job.Status = model.JobStatusFailed
			job.FinishedAt = time.Now()
			job.LastError = "job stalled beyond reclaim limit"
			metrics.IncJobProcessed("failed")
			s.log.Error().Str("job_id", job.ID).Int("reclaims", job.Reclaims).
				Msg("stalled job forced terminal")
			if s.events != nil {
				_ = s.events.Publish(ctx, adapter.JobEvent{
					Kind: adapter.JobEventFailed, JobID: job.ID,
					AccountID: job.AccountID, LeadID: job.LeadID, Error: job.LastError,
				})
			}
		} else {
			job.Status = model.JobStatusQueued
			job.RunAt = time.Now()
			metrics.IncStalledReclaimed()
			s.log.Warn().Str("job_id", job.ID).Int("reclaims", job.Reclaims).
				Msg("stalled job reclaimed")
		}
		if err := s.jobs.Save(ctx, repository.NoTX, job); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("stalled job save failed")
		}
	}
}

func (s *Sweeper) collect(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		return
	}
	n, err := s.jobs.DeleteTerminalBefore(ctx, time.Now().Add(-s.cfg.Retention))
	if err != nil {
		s.log.Error().Err(err).Msg("terminal job gc failed")
		return
	}
	if n > 0 {
		s.log.Debug().Int("deleted", n).Msg("terminal jobs collected")
	}
}

package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/repository"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type StatsUseCase interface {
	Queue(ctx context.Context) (*model.QueueStats, error)
}

type statsUC struct {
	jobs   repository.DeliveryJobRepository
	window time.Duration
	log    *zerolog.Logger
}

// NewStatsUseCase aggregates dashboard figures; throughput is computed over
// the trailing window.
func NewStatsUseCase(jobs repository.DeliveryJobRepository, window time.Duration, logger *zerolog.Logger) *statsUC {
	l := logger.With().Str("component", "StatsUC").Logger()
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &statsUC{jobs: jobs, window: window, log: &l}
}

func (s *statsUC) Queue(ctx context.Context) (*model.QueueStats, error) {
	return s.jobs.Stats(ctx, repository.NoTX, time.Now().Add(-s.window))
}

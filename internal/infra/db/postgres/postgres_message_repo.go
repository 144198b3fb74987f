package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/repository"
)

var _ repository.MessageRecordRepository = (*messageRecordRepo)(nil)

// messageRecordRepo writes delivery outcomes into the message table owned by
// the data layer. Write-only from the engine's side.
type messageRecordRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRecordRepo(pool *pgxpool.Pool) *messageRecordRepo {
	return &messageRecordRepo{pool: pool}
}

func (r *messageRecordRepo) ReportOutcome(ctx context.Context, rec *model.MessageRecord) error {
	const q = `
UPDATE messages SET
  status = $2,
  sent_at = $3,
  processing_time_ms = $4,
  error_message = $5
WHERE job_id = $1;`

	_, err := execSQL(ctx, r.pool, nil, q,
		rec.JobID, string(rec.Status), nullTime(rec.SentAt),
		rec.ProcessingTime.Milliseconds(), rec.ErrorMessage)
	return err
}

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/repository"
)

var _ repository.DeliveryJobRepository = (*deliveryJobRepo)(nil)

type deliveryJobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewDeliveryJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *deliveryJobRepo {
	return &deliveryJobRepo{pool: pool, tm: tm}
}

const jobColumns = `id, account_id, lead_id, message_text, note_text, task_text,
priority, attempts_made, max_attempts, status, run_at, reclaims, heartbeat_at,
last_error, created_at, started_at, finished_at, updated_at`

func (r *deliveryJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.DeliveryJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	const q = `
INSERT INTO delivery_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
  priority = EXCLUDED.priority,
  attempts_made = EXCLUDED.attempts_made,
  status = EXCLUDED.status,
  run_at = EXCLUDED.run_at,
  reclaims = EXCLUDED.reclaims,
  heartbeat_at = EXCLUDED.heartbeat_at,
  last_error = EXCLUDED.last_error,
  started_at = EXCLUDED.started_at,
  finished_at = EXCLUDED.finished_at,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.AccountID, job.LeadID, job.MessageText, job.NoteText, job.TaskText,
		job.Priority.Rank(), job.AttemptsMade, job.MaxAttempts, string(job.Status),
		nullTime(job.RunAt), job.Reclaims, nullTime(job.HeartbeatAt),
		job.LastError, job.CreatedAt, nullTime(job.StartedAt), nullTime(job.FinishedAt), job.UpdatedAt)
	return err
}

func (r *deliveryJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.DeliveryJob, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM delivery_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

// FetchAndMarkActive claims the next due queued job under FOR UPDATE SKIP
// LOCKED so concurrent workers never double-claim.
func (r *deliveryJobRepo) FetchAndMarkActive(ctx context.Context, now time.Time) (*model.DeliveryJob, error) {
	var job *model.DeliveryJob

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetchQuery = `
SELECT ` + jobColumns + `
FROM delivery_jobs
WHERE status = 'queued' AND (run_at IS NULL OR run_at <= $1)
ORDER BY priority, run_at NULLS FIRST, created_at
LIMIT 1
FOR UPDATE SKIP LOCKED;`

		row, err := pickRow(ctx, r.pool, tx, fetchQuery, now)
		if err != nil {
			return err
		}
		fetched, err := scanJob(row)
		if err != nil {
			return err
		}

		fetched.Status = model.JobStatusActive
		fetched.StartedAt = now
		fetched.HeartbeatAt = now
		if err := r.Save(ctx, tx, fetched); err != nil {
			return err
		}
		job = fetched
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func (r *deliveryJobRepo) Position(ctx context.Context, tx repository.Tx, id string) (int, error) {
	// Returns no rows (rank 0) when the job is not waiting.
	const q = `
SELECT (SELECT count(*)
          FROM delivery_jobs j
         WHERE j.status = 'queued'
           AND (j.priority, j.created_at) < (t.priority, t.created_at)) + 1
FROM delivery_jobs t
WHERE t.id = $1 AND t.status = 'queued';`

	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return 0, err
	}
	var pos int
	if err := row.Scan(&pos); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil // not waiting
		}
		return 0, domain.ErrReadDatabaseRow
	}
	return pos, nil
}

func (r *deliveryJobRepo) Heartbeat(ctx context.Context, id string, at time.Time) error {
	_, err := execSQL(ctx, r.pool, nil,
		`UPDATE delivery_jobs SET heartbeat_at = $2, updated_at = $2 WHERE id = $1 AND status = 'active'`,
		id, at)
	return err
}

func (r *deliveryJobRepo) FindStalled(ctx context.Context, cutoff time.Time, limit int) ([]*model.DeliveryJob, error) {
	rows, err := pickRows(ctx, r.pool, nil, `
SELECT `+jobColumns+`
FROM delivery_jobs
WHERE status = 'active' AND heartbeat_at < $1
ORDER BY heartbeat_at
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DeliveryJob
	for rows.Next() {
		j, err := scanJobValues(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *deliveryJobRepo) Stats(ctx context.Context, tx repository.Tx, since time.Time) (*model.QueueStats, error) {
	const q = `
SELECT
  count(*) FILTER (WHERE status = 'queued' AND (run_at IS NULL OR run_at <= now())),
  count(*) FILTER (WHERE status = 'active'),
  count(*) FILTER (WHERE status = 'completed'),
  count(*) FILTER (WHERE status = 'failed'),
  count(*) FILTER (WHERE status = 'queued' AND run_at > now()),
  coalesce(extract(epoch FROM avg(finished_at - started_at) FILTER (WHERE status = 'completed')) * 1000, 0),
  count(*) FILTER (WHERE finished_at >= $1)
FROM delivery_jobs;`

	row, err := pickRow(ctx, r.pool, tx, q, since)
	if err != nil {
		return nil, err
	}
	var st model.QueueStats
	var finishedSince int
	if err := row.Scan(&st.Waiting, &st.Active, &st.Completed, &st.Failed, &st.Delayed,
		&st.AvgProcessingMs, &finishedSince); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	window := time.Since(since).Minutes()
	if window > 0 {
		st.JobsPerMinute = float64(finishedSince) / window
	}
	if done := st.Completed + st.Failed; done > 0 {
		st.SuccessRate = float64(st.Completed) / float64(done)
	}
	return &st, nil
}

func (r *deliveryJobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := execSQL(ctx, r.pool, nil,
		`DELETE FROM delivery_jobs WHERE status IN ('completed','failed') AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*model.DeliveryJob, error) {
	j, err := scanJobValues(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJobValues(row scanner) (*model.DeliveryJob, error) {
	var (
		j        model.DeliveryJob
		rank     int
		status   string
		runAt    *time.Time
		hbAt     *time.Time
		started  *time.Time
		finished *time.Time
	)
	err := row.Scan(&j.ID, &j.AccountID, &j.LeadID, &j.MessageText, &j.NoteText, &j.TaskText,
		&rank, &j.AttemptsMade, &j.MaxAttempts, &status, &runAt, &j.Reclaims, &hbAt,
		&j.LastError, &j.CreatedAt, &started, &finished, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Priority = rankToPriority(rank)
	j.Status = model.JobStatus(status)
	j.RunAt = deref(runAt)
	j.HeartbeatAt = deref(hbAt)
	j.StartedAt = deref(started)
	j.FinishedAt = deref(finished)
	return &j, nil
}

func rankToPriority(rank int) model.Priority {
	switch rank {
	case 0:
		return model.PriorityHigh
	case 2:
		return model.PriorityLow
	default:
		return model.PriorityNormal
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magnifycash/backend/internal/jobs"
)

type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, topic string, payload []byte) error {
	q := `INSERT INTO outbox_jobs (topic, payload, status) VALUES ($1, $2::jsonb, 'pending')`
	_, err := r.pool.Exec(ctx, q, topic, payload)
	return err
}

// ClaimPending flips a batch of due jobs to processing. SKIP LOCKED keeps
// concurrent workers from claiming the same job.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int32) ([]jobs.OutboxJob, error) {
	if limit <= 0 {
		limit = 25
	}
	q := `
UPDATE outbox_jobs
SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
WHERE id IN (
  SELECT id FROM outbox_jobs
  WHERE status = 'pending' AND available_at <= NOW()
  ORDER BY id
  LIMIT $1
  FOR UPDATE SKIP LOCKED
)
RETURNING id, topic, payload, status, attempts, last_error, available_at
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []jobs.OutboxJob{}
	for rows.Next() {
		var job jobs.OutboxJob
		if err := rows.Scan(&job.ID, &job.Topic, &job.Payload, &job.Status, &job.Attempts, &job.LastError, &job.AvailableAt); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *OutboxRepository) MarkDone(ctx context.Context, jobID int64) error {
	q := `UPDATE outbox_jobs SET status = 'done', last_error = '', updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, jobID)
	return err
}

func (r *OutboxRepository) MarkRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error {
	q := `
UPDATE outbox_jobs
SET status = 'pending', available_at = $2, last_error = $3, updated_at = NOW()
WHERE id = $1
`
	_, err := r.pool.Exec(ctx, q, jobID, nextAvailableAt, lastError)
	return err
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, jobID int64, lastError string) error {
	q := `UPDATE outbox_jobs SET status = 'failed', last_error = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, jobID, lastError)
	return err
}

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/magnifycash/backend/internal/domain/event"
)

// insertEvent appends one row to the event ledger inside the caller's
// transaction.
func insertEvent(ctx context.Context, tx pgx.Tx, ev event.Entity) error {
	q := `INSERT INTO loan_events (name, subject, payload) VALUES ($1, $2, $3::jsonb)`
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	_, err := tx.Exec(ctx, q, ev.Name, ev.Subject, payload)
	return err
}

// insertJobs enqueues outbox deliveries inside the caller's transaction so
// they become visible exactly when the state change commits.
func insertJobs(ctx context.Context, tx pgx.Tx, jobs []event.Job) error {
	q := `INSERT INTO outbox_jobs (topic, payload, status) VALUES ($1, $2::jsonb, 'pending')`
	for _, job := range jobs {
		if _, err := tx.Exec(ctx, q, job.Topic, job.Payload); err != nil {
			return err
		}
	}
	return nil
}

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magnifycash/backend/internal/domain/event"
)

type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) ListSince(ctx context.Context, lastID int64, limit int32) ([]event.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT id, name, subject, payload, created_at
FROM loan_events WHERE id > $1 ORDER BY id LIMIT $2
`
	rows, err := r.pool.Query(ctx, q, lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []event.Entity{}
	for rows.Next() {
		var ev event.Entity
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Subject, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

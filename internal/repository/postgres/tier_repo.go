package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magnifycash/backend/internal/domain/event"
	"github.com/magnifycash/backend/internal/domain/tier"
)

type TierRepository struct {
	pool *pgxpool.Pool
}

func NewTierRepository(pool *pgxpool.Pool) *TierRepository {
	return &TierRepository{pool: pool}
}

// Add inserts a tier and records the TierAdded event in the same
// transaction. The event carries the id the database assigned, so the repo
// builds it rather than the caller.
func (r *TierRepository) Add(ctx context.Context, in tier.CreateInput) (*tier.Tier, error) {
	out := &tier.Tier{}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		q := `
INSERT INTO tiers (loan_amount, loan_period_seconds, interest_rate_bps)
VALUES ($1, $2, $3)
RETURNING id, loan_amount, loan_period_seconds, interest_rate_bps, created_at, updated_at
`
		if err := scanTier(tx.QueryRow(ctx, q, in.LoanAmount, int64(in.LoanPeriod/time.Second), in.InterestRateBPS), out); err != nil {
			return err
		}
		return insertEvent(ctx, tx, tierEvent(event.TierAdded, out))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TierRepository) Update(ctx context.Context, id int32, in tier.CreateInput) (*tier.Tier, error) {
	out := &tier.Tier{}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		q := `
UPDATE tiers
SET loan_amount = $2, loan_period_seconds = $3, interest_rate_bps = $4, updated_at = NOW()
WHERE id = $1
RETURNING id, loan_amount, loan_period_seconds, interest_rate_bps, created_at, updated_at
`
		err := scanTier(tx.QueryRow(ctx, q, id, in.LoanAmount, int64(in.LoanPeriod/time.Second), in.InterestRateBPS), out)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tier.ErrNotFound
			}
			return err
		}
		return insertEvent(ctx, tx, tierEvent(event.TierUpdated, out))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TierRepository) GetByID(ctx context.Context, id int32) (*tier.Tier, error) {
	q := `
SELECT id, loan_amount, loan_period_seconds, interest_rate_bps, created_at, updated_at
FROM tiers WHERE id = $1
`
	out := &tier.Tier{}
	if err := scanTier(r.pool.QueryRow(ctx, q, id), out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tier.ErrNotFound
		}
		return nil, err
	}
	return out, nil
}

func (r *TierRepository) List(ctx context.Context) ([]tier.Tier, error) {
	q := `
SELECT id, loan_amount, loan_period_seconds, interest_rate_bps, created_at, updated_at
FROM tiers ORDER BY id
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []tier.Tier{}
	for rows.Next() {
		var t tier.Tier
		if err := scanTier(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTier(row pgx.Row, out *tier.Tier) error {
	var periodSeconds int64
	if err := row.Scan(&out.ID, &out.LoanAmount, &periodSeconds, &out.InterestRateBPS, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return err
	}
	out.LoanPeriod = time.Duration(periodSeconds) * time.Second
	return nil
}

func tierEvent(name string, t *tier.Tier) event.Entity {
	payload, _ := json.Marshal(map[string]any{
		"tier_id":             t.ID,
		"loan_amount":         t.LoanAmount,
		"loan_period_seconds": int64(t.LoanPeriod / time.Second),
		"interest_rate_bps":   t.InterestRateBPS,
	})
	return event.Entity{Name: name, Subject: "tiers", Payload: payload}
}

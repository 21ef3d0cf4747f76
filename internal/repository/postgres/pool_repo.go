package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magnifycash/backend/internal/domain/event"
	"github.com/magnifycash/backend/internal/domain/pool"
	"github.com/magnifycash/backend/internal/domain/tier"
)

type PoolRepository struct {
	pool *pgxpool.Pool
}

func NewPoolRepository(pool *pgxpool.Pool) *PoolRepository {
	return &PoolRepository{pool: pool}
}

func (r *PoolRepository) Get(ctx context.Context) (*pool.Config, error) {
	q := `
SELECT start_time, end_time, loan_amount, loan_period_seconds, interest_rate_bps,
       min_tier, early_exit_fee_bps, default_penalty_bps, treasury, created_at
FROM pool_config WHERE id = 1
`
	out := &pool.Config{}
	var periodSeconds int64
	err := r.pool.QueryRow(ctx, q).Scan(
		&out.StartTime, &out.EndTime, &out.LoanAmount, &periodSeconds, &out.InterestRateBPS,
		&out.MinTier, &out.EarlyExitFeeBPS, &out.DefaultPenaltyBPS, &out.Treasury, &out.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pool.ErrNotConfigured
		}
		return nil, err
	}
	out.LoanPeriod = time.Duration(periodSeconds) * time.Second
	return out, nil
}

// Create writes the config row and the seed tiers in one transaction, so a
// failure anywhere rolls the whole setup back and the operation stays
// retryable.
func (r *PoolRepository) Create(ctx context.Context, cfg pool.Config, seedTiers []tier.CreateInput) (*pool.Config, []tier.Tier, error) {
	out := cfg
	tiers := make([]tier.Tier, 0, len(seedTiers))
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		q := `
INSERT INTO pool_config (
  id, start_time, end_time, loan_amount, loan_period_seconds, interest_rate_bps,
  min_tier, early_exit_fee_bps, default_penalty_bps, treasury
) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING
RETURNING created_at
`
		err := tx.QueryRow(ctx, q,
			cfg.StartTime, cfg.EndTime, cfg.LoanAmount, int64(cfg.LoanPeriod/time.Second), cfg.InterestRateBPS,
			cfg.MinTier, cfg.EarlyExitFeeBPS, cfg.DefaultPenaltyBPS, cfg.Treasury,
		).Scan(&out.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return pool.ErrAlreadyConfigured
			}
			return err
		}
		for _, in := range seedTiers {
			t := tier.Tier{}
			q := `
INSERT INTO tiers (loan_amount, loan_period_seconds, interest_rate_bps)
VALUES ($1, $2, $3)
RETURNING id, loan_amount, loan_period_seconds, interest_rate_bps, created_at, updated_at
`
			if err := scanTier(tx.QueryRow(ctx, q, in.LoanAmount, int64(in.LoanPeriod/time.Second), in.InterestRateBPS), &t); err != nil {
				return err
			}
			if err := insertEvent(ctx, tx, tierEvent(event.TierAdded, &t)); err != nil {
				return err
			}
			tiers = append(tiers, t)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &out, tiers, nil
}

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magnifycash/backend/internal/domain/vault"
)

type VaultRepository struct {
	pool *pgxpool.Pool
}

func NewVaultRepository(pool *pgxpool.Pool) *VaultRepository {
	return &VaultRepository{pool: pool}
}

func (r *VaultRepository) GetState(ctx context.Context) (*vault.State, error) {
	q := `SELECT total_assets, total_shares, outstanding_principal FROM pool_state WHERE id = 1`
	out := &vault.State{}
	if err := r.pool.QueryRow(ctx, q).Scan(&out.TotalAssets, &out.TotalShares, &out.OutstandingPrincipal); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *VaultRepository) BalanceOf(ctx context.Context, holder string) (int64, error) {
	q := `SELECT shares FROM share_accounts WHERE holder = $1`
	var shares int64
	err := r.pool.QueryRow(ctx, q, holder).Scan(&shares)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return shares, err
}

func (r *VaultRepository) Allowance(ctx context.Context, owner, spender string) (int64, error) {
	q := `SELECT shares FROM share_allowances WHERE owner = $1 AND spender = $2`
	var shares int64
	err := r.pool.QueryRow(ctx, q, owner, spender).Scan(&shares)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return shares, err
}

func (r *VaultRepository) Approve(ctx context.Context, owner, spender string, shares int64) error {
	q := `
INSERT INTO share_allowances (owner, spender, shares)
VALUES ($1, $2, $3)
ON CONFLICT (owner, spender) DO UPDATE SET shares = EXCLUDED.shares, updated_at = NOW()
`
	_, err := r.pool.Exec(ctx, q, owner, spender, shares)
	return err
}

func (r *VaultRepository) ApplyDeposit(ctx context.Context, in vault.ApplyDepositInput) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// The totals predicate pins the snapshot the share conversion was
		// priced from; any concurrent total change since then fails the
		// commit instead of minting at a stale price.
		q := `
UPDATE pool_state
SET total_assets = total_assets + $1, total_shares = total_shares + $2, updated_at = NOW()
WHERE id = 1 AND total_assets = $3 AND total_shares = $4
`
		tag, err := tx.Exec(ctx, q, in.Assets, in.Shares, in.PricedTotalAssets, in.PricedTotalShares)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return vault.ErrPriceMoved
		}
		q = `
INSERT INTO share_accounts (holder, shares)
VALUES ($1, $2)
ON CONFLICT (holder) DO UPDATE SET shares = share_accounts.shares + EXCLUDED.shares, updated_at = NOW()
`
		if _, err := tx.Exec(ctx, q, in.Receiver, in.Shares); err != nil {
			return err
		}
		return insertEvent(ctx, tx, in.Event)
	})
}

func (r *VaultRepository) ApplyWithdraw(ctx context.Context, in vault.ApplyWithdrawInput) (*vault.WithdrawResult, error) {
	res := vault.WithdrawResult{Assets: in.Assets, Shares: in.Shares}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Price under the row lock so a concurrent write-off cannot slip
		// between the conversion and the commit.
		var totalAssets, totalShares, outstanding int64
		err := tx.QueryRow(ctx, `
SELECT total_assets, total_shares, outstanding_principal FROM pool_state WHERE id = 1 FOR UPDATE
`).Scan(&totalAssets, &totalShares, &outstanding)
		if err != nil {
			return err
		}
		if res.Shares == 0 {
			res.Shares = vault.SharesForWithdraw(res.Assets, totalAssets, totalShares)
		} else {
			res.Assets = vault.AssetsForRedeem(res.Shares, totalAssets, totalShares)
		}
		if res.Assets <= 0 || res.Shares <= 0 {
			return vault.ErrInvalidAmount
		}
		if totalAssets-outstanding < res.Assets {
			return vault.ErrNoFundsAvailable
		}
		res.Fee = vault.EarlyExitFee(res.Assets, in.FeeBPS)
		res.Net = res.Assets - res.Fee

		tag, err := tx.Exec(ctx, `
UPDATE share_accounts SET shares = shares - $2, updated_at = NOW()
WHERE holder = $1 AND shares >= $2
`, in.Owner, res.Shares)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return vault.ErrInsufficientShares
		}
		if in.Spender != "" {
			tag, err := tx.Exec(ctx, `
UPDATE share_allowances SET shares = shares - $3, updated_at = NOW()
WHERE owner = $1 AND spender = $2 AND shares >= $3
`, in.Owner, in.Spender, res.Shares)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return vault.ErrNotApproved
			}
		}
		if _, err := tx.Exec(ctx, `
UPDATE pool_state
SET total_assets = total_assets - $1, total_shares = total_shares - $2, updated_at = NOW()
WHERE id = 1
`, res.Assets, res.Shares); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, vault.WithdrawEvent(in, res)); err != nil {
			return err
		}
		return insertJobs(ctx, tx, vault.PayoutJobs(in, res))
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ApplySweep absorbs an operator drain of the pool account. The ledger floor
// is zero: sweeping more than the tracked total leaves totals at zero rather
// than failing, since the account can hold funds the ledger never saw.
func (r *VaultRepository) ApplySweep(ctx context.Context, in vault.ApplySweepInput) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		q := `
UPDATE pool_state
SET total_assets = GREATEST(total_assets - $1, 0), updated_at = NOW()
WHERE id = 1
`
		if _, err := tx.Exec(ctx, q, in.Amount); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, in.Event); err != nil {
			return err
		}
		return insertJobs(ctx, tx, in.Jobs)
	})
}

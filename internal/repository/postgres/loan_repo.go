package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magnifycash/backend/internal/domain/loan"
)

const loanColumns = `
id, borrower, tier_id, principal, interest_rate_bps, requested_at, due_at,
status, settled_at, created_at, updated_at`

type LoanRepository struct {
	pool *pgxpool.Pool
}

func NewLoanRepository(pool *pgxpool.Pool) *LoanRepository {
	return &LoanRepository{pool: pool}
}

func (r *LoanRepository) GetByID(ctx context.Context, id string) (*loan.Entity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, loan.ErrNotFound
	}
	q := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	out := &loan.Entity{}
	if err := scanLoan(r.pool.QueryRow(ctx, q, id), out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrNotFound
		}
		return nil, err
	}
	return out, nil
}

func (r *LoanRepository) GetActiveByBorrower(ctx context.Context, borrower string) (*loan.Entity, error) {
	q := `SELECT ` + loanColumns + ` FROM loans WHERE borrower = $1 AND status = 'active'`
	out := &loan.Entity{}
	if err := scanLoan(r.pool.QueryRow(ctx, q, borrower), out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrNotFound
		}
		return nil, err
	}
	return out, nil
}

func (r *LoanRepository) ListByBorrower(ctx context.Context, borrower string, limit, offset int32) ([]loan.Entity, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + loanColumns + ` FROM loans WHERE borrower = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, q, borrower, limit, offset)
}

func (r *LoanRepository) ListActive(ctx context.Context) ([]loan.Entity, error) {
	q := `SELECT ` + loanColumns + ` FROM loans WHERE status = 'active' ORDER BY due_at`
	return r.list(ctx, q)
}

func (r *LoanRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]loan.Entity, error) {
	q := `SELECT ` + loanColumns + ` FROM loans WHERE status = 'active' AND due_at < $1 ORDER BY due_at`
	return r.list(ctx, q, asOf)
}

func (r *LoanRepository) ApplyRequest(ctx context.Context, in loan.ApplyRequestInput) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Committing the principal first takes the pool_state row lock, so
		// concurrent requests serialize on the liquidity check.
		tag, err := tx.Exec(ctx, `
UPDATE pool_state
SET outstanding_principal = outstanding_principal + $1, updated_at = NOW()
WHERE id = 1 AND total_assets - outstanding_principal >= $1
`, in.Loan.Principal)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return loan.ErrInsufficientLiquidity
		}
		_, err = tx.Exec(ctx, `
INSERT INTO loans (id, borrower, tier_id, principal, interest_rate_bps, requested_at, due_at, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'active')
`, in.Loan.ID, in.Loan.Borrower, in.Loan.TierID, in.Loan.Principal, in.Loan.InterestRateBPS, in.Loan.RequestedAt, in.Loan.DueAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return loan.ErrActiveLoanOnPool
			}
			return err
		}
		if err := insertEvent(ctx, tx, in.Event); err != nil {
			return err
		}
		return insertJobs(ctx, tx, in.Jobs)
	})
}

func (r *LoanRepository) ApplyRepayment(ctx context.Context, in loan.ApplyRepaymentInput) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE loans SET status = 'repaid', settled_at = $2, updated_at = NOW()
WHERE id = $1 AND status = 'active'
`, in.LoanID, in.SettledAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return loan.ErrLoanNotActive
		}
		_, err = tx.Exec(ctx, `
UPDATE pool_state
SET outstanding_principal = outstanding_principal - $1, total_assets = total_assets + $2, updated_at = NOW()
WHERE id = 1
`, in.Principal, in.Interest)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, in.Event); err != nil {
			return err
		}
		return insertJobs(ctx, tx, in.Jobs)
	})
}

// ApplyDefaults settles each overdue loan at most once: the per-loan status
// predicate makes overlapping sweeps converge instead of double-writing the
// write-off.
func (r *LoanRepository) ApplyDefaults(ctx context.Context, in loan.ApplyDefaultsInput) (int32, error) {
	var n int32
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		n = 0
		for _, item := range in.Items {
			tag, err := tx.Exec(ctx, `
UPDATE loans SET status = 'defaulted', settled_at = $2, updated_at = NOW()
WHERE id = $1 AND status = 'active' AND due_at < $2
`, item.Loan.ID, in.AsOf)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			_, err = tx.Exec(ctx, `
UPDATE pool_state
SET outstanding_principal = outstanding_principal - $1, total_assets = total_assets - $1, updated_at = NOW()
WHERE id = 1
`, item.Loan.Principal)
			if err != nil {
				return err
			}
			if err := insertEvent(ctx, tx, item.Event); err != nil {
				return err
			}
			if err := insertJobs(ctx, tx, item.Jobs); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *LoanRepository) ApplyDefaultRepayment(ctx context.Context, in loan.ApplyDefaultRepaymentInput) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE loans SET status = 'default_repaid', settled_at = $2, updated_at = NOW()
WHERE id = $1 AND status = 'defaulted'
`, in.LoanID, in.SettledAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return loan.ErrLoanNotDefaulted
		}
		// The principal was written off at default time; the late repayment
		// restores it plus interest and penalty as plain yield.
		_, err = tx.Exec(ctx, `
UPDATE pool_state SET total_assets = total_assets + $1, updated_at = NOW() WHERE id = 1
`, in.Amount)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, in.Event); err != nil {
			return err
		}
		return insertJobs(ctx, tx, in.Jobs)
	})
}

func (r *LoanRepository) list(ctx context.Context, q string, args ...any) ([]loan.Entity, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []loan.Entity{}
	for rows.Next() {
		var ln loan.Entity
		if err := scanLoan(rows, &ln); err != nil {
			return nil, err
		}
		out = append(out, ln)
	}
	return out, rows.Err()
}

func scanLoan(row pgx.Row, out *loan.Entity) error {
	return row.Scan(
		&out.ID, &out.Borrower, &out.TierID, &out.Principal, &out.InterestRateBPS,
		&out.RequestedAt, &out.DueAt, &out.Status, &out.SettledAt, &out.CreatedAt, &out.UpdatedAt,
	)
}

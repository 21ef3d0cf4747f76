package vault

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/magnifycash/backend/internal/domain/event"
)

var (
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInsufficientShares = errors.New("insufficient_shares")
	ErrNotApproved        = errors.New("not_approved")
	ErrNoFundsAvailable   = errors.New("no_funds_available")
	ErrPriceMoved         = errors.New("share_price_moved")
)

// State is the vault accounting ledger. Invariant: TotalShares == 0 implies
// TotalAssets == 0, and OutstandingPrincipal <= TotalAssets at all times.
type State struct {
	TotalAssets          int64
	TotalShares          int64
	OutstandingPrincipal int64
}

// SharePrice reports assets per share scaled by 1e6 for display purposes.
func (s State) SharePrice() int64 {
	if s.TotalShares == 0 {
		return 1_000_000
	}
	return mulDivDown(s.TotalAssets, 1_000_000, s.TotalShares)
}

type ApplyDepositInput struct {
	Receiver string
	Assets   int64
	Shares   int64
	// PricedTotalAssets and PricedTotalShares are the ledger totals the
	// share conversion was computed from. The commit fails with
	// ErrPriceMoved when the totals have changed since, so a concurrent
	// write-off cannot let shares in at a stale price.
	PricedTotalAssets int64
	PricedTotalShares int64
	Event             event.Entity
}

// ApplyWithdrawInput carries an unpriced withdrawal: exactly one of Assets or
// Shares is set, and the repository converts the other side under lock at
// commit time so the payout reflects the totals it actually commits against.
type ApplyWithdrawInput struct {
	Caller   string
	Owner    string
	Receiver string
	// Spender consumes allowance when the caller is not the owner; empty
	// otherwise.
	Spender string
	Assets  int64
	Shares  int64
	// FeeBPS is carved out of the payout and routed to Treasury; zero
	// outside warmup.
	FeeBPS   int32
	Treasury string
}

// WithdrawResult is the priced outcome of an ApplyWithdraw commit.
type WithdrawResult struct {
	Assets int64
	Shares int64
	Fee    int64
	Net    int64
}

// WithdrawEvent records a priced withdrawal.
func WithdrawEvent(in ApplyWithdrawInput, res WithdrawResult) event.Entity {
	payload, _ := json.Marshal(map[string]any{
		"caller":   in.Caller,
		"receiver": in.Receiver,
		"owner":    in.Owner,
		"assets":   res.Assets,
		"shares":   res.Shares,
		"fee":      res.Fee,
	})
	return event.Entity{Name: event.Withdraw, Subject: in.Owner, Payload: payload}
}

// PayoutJobs queues the outbound transfers a priced withdrawal owes.
func PayoutJobs(in ApplyWithdrawInput, res WithdrawResult) []event.Job {
	jobs := []event.Job{transferJob(in.Receiver, res.Net)}
	if res.Fee > 0 {
		jobs = append(jobs, transferJob(in.Treasury, res.Fee))
	}
	return jobs
}

type ApplySweepInput struct {
	Amount int64
	Event  event.Entity
	Jobs   []event.Job
}

// Repository applies ledger mutations; each Apply call is a single
// all-or-nothing transaction covering state totals, share accounts, the
// event row and any outbox jobs.
type Repository interface {
	GetState(ctx context.Context) (*State, error)
	BalanceOf(ctx context.Context, holder string) (int64, error)
	Allowance(ctx context.Context, owner, spender string) (int64, error)
	Approve(ctx context.Context, owner, spender string, shares int64) error
	ApplyDeposit(ctx context.Context, in ApplyDepositInput) error
	ApplyWithdraw(ctx context.Context, in ApplyWithdrawInput) (*WithdrawResult, error)
	ApplySweep(ctx context.Context, in ApplySweepInput) error
}

package vault

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/magnifycash/backend/internal/domain/event"
	"github.com/magnifycash/backend/internal/domain/pool"
	"github.com/magnifycash/backend/internal/token"
)

const transferTopic = "transfer"

// TokenClient is the slice of the token collaborator the vault needs:
// pulling an inbound deposit or repayment into the pool account. Outbound
// payouts go through the outbox instead so that state is committed before any
// external interaction.
type TokenClient interface {
	TransferFrom(ctx context.Context, owner, to string, amount int64) error
	PermitTransferFrom(ctx context.Context, permit token.Permit, details token.TransferDetails, owner string, signature []byte) error
}

// RefundQueue hands back a pulled inbound transfer when the ledger commit
// that should have absorbed it fails, so the caller's funds are not stranded
// in the pool account.
type RefundQueue interface {
	Enqueue(ctx context.Context, topic string, payload []byte) error
}

type Receipt struct {
	Assets int64 `json:"assets"`
	Shares int64 `json:"shares"`
	Fee    int64 `json:"fee,omitempty"`
}

type Service struct {
	poolRepo    pool.Repository
	vaultRepo   Repository
	tokens      TokenClient
	refunds     RefundQueue
	poolAccount string
	now         func() time.Time
}

func NewService(poolRepo pool.Repository, vaultRepo Repository, tokens TokenClient, refunds RefundQueue, poolAccount string) *Service {
	return &Service{
		poolRepo:    poolRepo,
		vaultRepo:   vaultRepo,
		tokens:      tokens,
		refunds:     refunds,
		poolAccount: poolAccount,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the wall clock, for tests.
func (s *Service) SetNowFunc(now func() time.Time) { s.now = now }

func (s *Service) State(ctx context.Context) (*State, error) {
	return s.vaultRepo.GetState(ctx)
}

func (s *Service) BalanceOf(ctx context.Context, holder string) (int64, error) {
	return s.vaultRepo.BalanceOf(ctx, holder)
}

func (s *Service) Approve(ctx context.Context, owner, spender string, shares int64) error {
	if shares < 0 {
		return ErrInvalidAmount
	}
	return s.vaultRepo.Approve(ctx, owner, spender, shares)
}

func (s *Service) ConvertToShares(ctx context.Context, assets int64) (int64, error) {
	st, err := s.vaultRepo.GetState(ctx)
	if err != nil {
		return 0, err
	}
	return SharesForDeposit(assets, st.TotalAssets, st.TotalShares), nil
}

func (s *Service) ConvertToAssets(ctx context.Context, shares int64) (int64, error) {
	st, err := s.vaultRepo.GetState(ctx)
	if err != nil {
		return 0, err
	}
	return AssetsForRedeem(shares, st.TotalAssets, st.TotalShares), nil
}

// Deposit exchanges an asset inflow for shares at the current share price.
// The inbound pull runs before the ledger commit; a collaborator rejection
// aborts the whole operation with no state change.
func (s *Service) Deposit(ctx context.Context, caller, receiver string, assets int64) (*Receipt, error) {
	return s.deposit(ctx, caller, receiver, assets, func(ctx context.Context) error {
		return s.tokens.TransferFrom(ctx, caller, s.poolAccount, assets)
	})
}

// DepositWithAuthorization is Deposit with a signed transfer authorization in
// place of a pre-established allowance.
func (s *Service) DepositWithAuthorization(ctx context.Context, caller, receiver string, assets int64, permit token.Permit, details token.TransferDetails, signature []byte) (*Receipt, error) {
	return s.deposit(ctx, caller, receiver, assets, func(ctx context.Context) error {
		// The signed destination and amount must match what the ledger
		// will credit.
		if details.To != s.poolAccount || details.RequestedAmount != assets {
			return token.ErrAuthorizationInvalid
		}
		return s.tokens.PermitTransferFrom(ctx, permit, details, caller, signature)
	})
}

// Mint issues an exact share amount, debiting the assets rounded up.
func (s *Service) Mint(ctx context.Context, caller, receiver string, shares int64) (*Receipt, error) {
	return s.mint(ctx, caller, receiver, shares, func(ctx context.Context, assets int64) error {
		return s.tokens.TransferFrom(ctx, caller, s.poolAccount, assets)
	})
}

// MintWithAuthorization is Mint with a signed transfer authorization in place
// of a pre-established allowance.
func (s *Service) MintWithAuthorization(ctx context.Context, caller, receiver string, shares int64, permit token.Permit, details token.TransferDetails, signature []byte) (*Receipt, error) {
	return s.mint(ctx, caller, receiver, shares, func(ctx context.Context, assets int64) error {
		if details.To != s.poolAccount || details.RequestedAmount != assets {
			return token.ErrAuthorizationInvalid
		}
		return s.tokens.PermitTransferFrom(ctx, permit, details, caller, signature)
	})
}

func (s *Service) mint(ctx context.Context, caller, receiver string, shares int64, pull func(ctx context.Context, assets int64) error) (*Receipt, error) {
	if shares <= 0 {
		return nil, ErrInvalidAmount
	}
	cfg, err := s.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if ph := pool.PhaseAt(s.now(), *cfg); ph != pool.PhaseWarmup && ph != pool.PhaseActive {
		return nil, pool.ErrPoolNotActive
	}
	st, err := s.vaultRepo.GetState(ctx)
	if err != nil {
		return nil, err
	}
	assets := AssetsForMint(shares, st.TotalAssets, st.TotalShares)
	if assets <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := pull(ctx, assets); err != nil {
		return nil, err
	}
	// A price move invalidates the pulled amount entirely: the exact-share
	// promise cannot be kept without pulling different assets, so the pull
	// is handed back instead of retried.
	if err := s.commitDeposit(ctx, caller, receiver, assets, shares, st); err != nil {
		return nil, s.refund(ctx, caller, assets, err)
	}
	return &Receipt{Assets: assets, Shares: shares}, nil
}

func (s *Service) deposit(ctx context.Context, caller, receiver string, assets int64, pull func(ctx context.Context) error) (*Receipt, error) {
	if assets <= 0 {
		return nil, ErrInvalidAmount
	}
	cfg, err := s.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if ph := pool.PhaseAt(s.now(), *cfg); ph != pool.PhaseWarmup && ph != pool.PhaseActive {
		return nil, pool.ErrPoolNotActive
	}
	st, err := s.vaultRepo.GetState(ctx)
	if err != nil {
		return nil, err
	}
	shares := SharesForDeposit(assets, st.TotalAssets, st.TotalShares)
	if shares <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := pull(ctx); err != nil {
		return nil, err
	}
	// The pulled assets stay fixed; only the share conversion is repriced
	// when a concurrent total change fails the snapshot guard.
	for attempt := 0; ; attempt++ {
		err = s.commitDeposit(ctx, caller, receiver, assets, shares, st)
		if err == nil {
			return &Receipt{Assets: assets, Shares: shares}, nil
		}
		if !errors.Is(err, ErrPriceMoved) || attempt == 2 {
			return nil, s.refund(ctx, caller, assets, err)
		}
		st, err = s.vaultRepo.GetState(ctx)
		if err != nil {
			return nil, s.refund(ctx, caller, assets, err)
		}
		shares = SharesForDeposit(assets, st.TotalAssets, st.TotalShares)
		if shares <= 0 {
			return nil, s.refund(ctx, caller, assets, ErrInvalidAmount)
		}
	}
}

func (s *Service) commitDeposit(ctx context.Context, caller, receiver string, assets, shares int64, priced *State) error {
	payload, _ := json.Marshal(map[string]any{
		"caller":   caller,
		"receiver": receiver,
		"assets":   assets,
		"shares":   shares,
	})
	return s.vaultRepo.ApplyDeposit(ctx, ApplyDepositInput{
		Receiver:          receiver,
		Assets:            assets,
		Shares:            shares,
		PricedTotalAssets: priced.TotalAssets,
		PricedTotalShares: priced.TotalShares,
		Event:             event.Entity{Name: event.Deposit, Subject: receiver, Payload: payload},
	})
}

// refund queues the pulled amount back to the payer and reports the failure
// that made the refund necessary.
func (s *Service) refund(ctx context.Context, to string, amount int64, cause error) error {
	payload, _ := json.Marshal(map[string]any{"to": to, "amount": amount})
	if err := s.refunds.Enqueue(ctx, transferTopic, payload); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Withdraw pays out an exact asset amount, burning the owner's shares rounded
// up. During warmup the early-exit fee is carved out of the payout and routed
// to the treasury; while the pool is active or cooling down withdrawal is
// refused so outstanding principal stays covered.
func (s *Service) Withdraw(ctx context.Context, caller, owner, receiver string, assets int64) (*Receipt, error) {
	if assets <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.withdraw(ctx, caller, owner, receiver, assets, 0)
}

// Redeem burns an exact share amount and pays out the assets rounded down.
func (s *Service) Redeem(ctx context.Context, caller, owner, receiver string, shares int64) (*Receipt, error) {
	if shares <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.withdraw(ctx, caller, owner, receiver, 0, shares)
}

// withdraw gates on the pool phase, then hands the unpriced amount to the
// repository: the share conversion happens inside the commit transaction so
// the payout is priced against the totals it actually settles with.
func (s *Service) withdraw(ctx context.Context, caller, owner, receiver string, assets, shares int64) (*Receipt, error) {
	cfg, err := s.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}

	var feeBPS int32
	switch pool.PhaseAt(s.now(), *cfg) {
	case pool.PhaseWarmup:
		feeBPS = cfg.EarlyExitFeeBPS
	case pool.PhaseActive, pool.PhaseCooldown:
		return nil, pool.ErrNoWithdrawActive
	case pool.PhaseEnded:
		// fee-free
	}

	spender := ""
	if caller != owner {
		spender = caller
	}

	res, err := s.vaultRepo.ApplyWithdraw(ctx, ApplyWithdrawInput{
		Caller:   caller,
		Owner:    owner,
		Receiver: receiver,
		Spender:  spender,
		Assets:   assets,
		Shares:   shares,
		FeeBPS:   feeBPS,
		Treasury: cfg.Treasury,
	})
	if err != nil {
		return nil, err
	}
	return &Receipt{Assets: res.Net, Shares: res.Shares, Fee: res.Fee}, nil
}

func transferJob(to string, amount int64) event.Job {
	payload, _ := json.Marshal(map[string]any{"to": to, "amount": amount})
	return event.Job{Topic: transferTopic, Payload: payload}
}

package admin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/magnifycash/backend/internal/domain/event"
	"github.com/magnifycash/backend/internal/domain/pool"
	"github.com/magnifycash/backend/internal/domain/tier"
	"github.com/magnifycash/backend/internal/domain/vault"
)

// TokenClient is the slice of the token collaborator the admin surface needs.
type TokenClient interface {
	BalanceOf(ctx context.Context, account string) (int64, error)
}

// DefaultTiers seeds a freshly configured pool when setup names no tiers of
// its own.
var DefaultTiers = []tier.CreateInput{
	{LoanAmount: 1_000_000, LoanPeriod: 30 * 24 * time.Hour, InterestRateBPS: 250},
	{LoanAmount: 5_000_000, LoanPeriod: 60 * 24 * time.Hour, InterestRateBPS: 500},
	{LoanAmount: 10_000_000, LoanPeriod: 7 * 24 * time.Hour, InterestRateBPS: 1000},
}

// SetupInput configures the pool once. Tiers empty selects DefaultTiers.
type SetupInput struct {
	StartTime         time.Time
	EndTime           time.Time
	LoanAmount        int64
	LoanPeriod        time.Duration
	InterestRateBPS   int32
	MinTier           int32
	EarlyExitFeeBPS   int32
	DefaultPenaltyBPS int32
	Treasury          string
	Tiers             []tier.CreateInput
}

type Service struct {
	poolRepo    pool.Repository
	tierRepo    tier.Repository
	vaultRepo   vault.Repository
	tokens      TokenClient
	poolAccount string
	now         func() time.Time
}

func NewService(poolRepo pool.Repository, tierRepo tier.Repository, vaultRepo vault.Repository, tokens TokenClient, poolAccount string) *Service {
	return &Service{
		poolRepo:    poolRepo,
		tierRepo:    tierRepo,
		vaultRepo:   vaultRepo,
		tokens:      tokens,
		poolAccount: poolAccount,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the wall clock, for tests.
func (s *Service) SetNowFunc(now func() time.Time) { s.now = now }

// Setup writes the pool singleton and seeds the tier registry in a single
// transaction. It runs once: a second call fails with
// pool.ErrAlreadyConfigured and leaves everything untouched, and a failure
// mid-seeding rolls back the config row so setup can be retried. The active
// window must be long enough to fit at least one default loan period before
// cooldown.
func (s *Service) Setup(ctx context.Context, in SetupInput) (*pool.Config, error) {
	if in.LoanAmount <= 0 || in.LoanPeriod <= 0 || in.InterestRateBPS < 0 || in.MinTier < 0 {
		return nil, pool.ErrInvalidBounds
	}
	if !in.StartTime.Before(in.EndTime) || in.EndTime.Sub(in.StartTime) <= in.LoanPeriod {
		return nil, pool.ErrInvalidBounds
	}
	seeds := in.Tiers
	if len(seeds) == 0 {
		seeds = DefaultTiers
	}
	for _, t := range seeds {
		if t.LoanAmount <= 0 || t.LoanPeriod <= 0 || t.InterestRateBPS < 0 {
			return nil, pool.ErrInvalidBounds
		}
	}
	cfg, _, err := s.poolRepo.Create(ctx, pool.Config{
		StartTime:         in.StartTime.UTC(),
		EndTime:           in.EndTime.UTC(),
		LoanAmount:        in.LoanAmount,
		LoanPeriod:        in.LoanPeriod,
		InterestRateBPS:   in.InterestRateBPS,
		MinTier:           in.MinTier,
		EarlyExitFeeBPS:   in.EarlyExitFeeBPS,
		DefaultPenaltyBPS: in.DefaultPenaltyBPS,
		Treasury:          in.Treasury,
	}, seeds)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Service) Config(ctx context.Context) (*pool.Config, error) {
	return s.poolRepo.Get(ctx)
}

// Phase reports where the pool clock stands right now.
func (s *Service) Phase(ctx context.Context) (pool.Phase, error) {
	cfg, err := s.poolRepo.Get(ctx)
	if err != nil {
		return 0, err
	}
	return pool.PhaseAt(s.now(), *cfg), nil
}

func (s *Service) AddTier(ctx context.Context, in tier.CreateInput) (*tier.Tier, error) {
	if in.LoanAmount <= 0 || in.LoanPeriod <= 0 || in.InterestRateBPS < 0 {
		return nil, vault.ErrInvalidAmount
	}
	return s.tierRepo.Add(ctx, in)
}

// UpdateTier rewrites a tier's terms. Loans already issued keep the terms
// they were issued under.
func (s *Service) UpdateTier(ctx context.Context, id int32, in tier.CreateInput) (*tier.Tier, error) {
	if in.LoanAmount <= 0 || in.LoanPeriod <= 0 || in.InterestRateBPS < 0 {
		return nil, vault.ErrInvalidAmount
	}
	return s.tierRepo.Update(ctx, id, in)
}

func (s *Service) ListTiers(ctx context.Context) ([]tier.Tier, error) {
	return s.tierRepo.List(ctx)
}

// WithdrawLoanTokens drains the pool account's full token balance to the
// treasury, an operator escape hatch for winding the pool down. The ledger
// absorbs the outflow so reported totals track what the account actually
// holds.
func (s *Service) WithdrawLoanTokens(ctx context.Context) (int64, error) {
	cfg, err := s.poolRepo.Get(ctx)
	if err != nil {
		return 0, err
	}
	balance, err := s.tokens.BalanceOf(ctx, s.poolAccount)
	if err != nil {
		return 0, err
	}
	if balance <= 0 {
		return 0, vault.ErrNoFundsAvailable
	}
	payload, _ := json.Marshal(map[string]any{"to": cfg.Treasury, "amount": balance})
	if err := s.vaultRepo.ApplySweep(ctx, vault.ApplySweepInput{
		Amount: balance,
		Event:  event.Entity{Name: event.LoanTokensWithdrawn, Subject: cfg.Treasury, Payload: payload},
		Jobs:   []event.Job{{Topic: "transfer", Payload: payload}},
	}); err != nil {
		return 0, err
	}
	return balance, nil
}

package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/magnifycash/backend/internal/domain/pool"
	"github.com/magnifycash/backend/internal/domain/tier"
	"github.com/magnifycash/backend/internal/domain/vault"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakePoolRepo struct {
	cfg      *pool.Config
	tiers    []tier.Tier
	seedErr  error
	seedErrN int
}

func (f *fakePoolRepo) Get(ctx context.Context) (*pool.Config, error) {
	if f.cfg == nil {
		return nil, pool.ErrNotConfigured
	}
	cfg := *f.cfg
	return &cfg, nil
}

// Create mirrors the transactional repo: a seeding failure commits nothing.
func (f *fakePoolRepo) Create(ctx context.Context, cfg pool.Config, seedTiers []tier.CreateInput) (*pool.Config, []tier.Tier, error) {
	if f.cfg != nil {
		return nil, nil, pool.ErrAlreadyConfigured
	}
	tiers := make([]tier.Tier, 0, len(seedTiers))
	for i, in := range seedTiers {
		if f.seedErr != nil && i == f.seedErrN {
			err := f.seedErr
			f.seedErr = nil
			return nil, nil, err
		}
		tiers = append(tiers, tier.Tier{
			ID:              int32(i + 1),
			LoanAmount:      in.LoanAmount,
			LoanPeriod:      in.LoanPeriod,
			InterestRateBPS: in.InterestRateBPS,
		})
	}
	f.cfg = &cfg
	f.tiers = tiers
	return &cfg, tiers, nil
}

type fakeTierRepo struct {
	tiers  []tier.Tier
	nextID int32
}

func (f *fakeTierRepo) Add(ctx context.Context, in tier.CreateInput) (*tier.Tier, error) {
	f.nextID++
	t := tier.Tier{ID: f.nextID, LoanAmount: in.LoanAmount, LoanPeriod: in.LoanPeriod, InterestRateBPS: in.InterestRateBPS}
	f.tiers = append(f.tiers, t)
	return &t, nil
}

func (f *fakeTierRepo) Update(ctx context.Context, id int32, in tier.CreateInput) (*tier.Tier, error) {
	for i := range f.tiers {
		if f.tiers[i].ID == id {
			f.tiers[i].LoanAmount = in.LoanAmount
			f.tiers[i].LoanPeriod = in.LoanPeriod
			f.tiers[i].InterestRateBPS = in.InterestRateBPS
			t := f.tiers[i]
			return &t, nil
		}
	}
	return nil, tier.ErrNotFound
}

func (f *fakeTierRepo) GetByID(ctx context.Context, id int32) (*tier.Tier, error) {
	for _, t := range f.tiers {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, tier.ErrNotFound
}

func (f *fakeTierRepo) List(ctx context.Context) ([]tier.Tier, error) { return f.tiers, nil }

type fakeVaultRepo struct {
	sweeps []vault.ApplySweepInput
}

func (f *fakeVaultRepo) GetState(ctx context.Context) (*vault.State, error) {
	return &vault.State{}, nil
}

func (f *fakeVaultRepo) BalanceOf(ctx context.Context, holder string) (int64, error) { return 0, nil }

func (f *fakeVaultRepo) Allowance(ctx context.Context, owner, spender string) (int64, error) {
	return 0, nil
}

func (f *fakeVaultRepo) Approve(ctx context.Context, owner, spender string, shares int64) error {
	return nil
}

func (f *fakeVaultRepo) ApplyDeposit(ctx context.Context, in vault.ApplyDepositInput) error {
	return nil
}

func (f *fakeVaultRepo) ApplyWithdraw(ctx context.Context, in vault.ApplyWithdrawInput) (*vault.WithdrawResult, error) {
	return &vault.WithdrawResult{}, nil
}

func (f *fakeVaultRepo) ApplySweep(ctx context.Context, in vault.ApplySweepInput) error {
	f.sweeps = append(f.sweeps, in)
	return nil
}

type fakeBalance struct{ balance int64 }

func (f *fakeBalance) BalanceOf(ctx context.Context, account string) (int64, error) {
	return f.balance, nil
}

func setupInput() SetupInput {
	return SetupInput{
		StartTime:         testNow,
		EndTime:           testNow.Add(90 * 24 * time.Hour),
		LoanAmount:        1_000_000,
		LoanPeriod:        30 * 24 * time.Hour,
		InterestRateBPS:   250,
		MinTier:           1,
		EarlyExitFeeBPS:   100,
		DefaultPenaltyBPS: 1000,
		Treasury:          "treasury",
	}
}

func TestSetupSeedsDefaultTiers(t *testing.T) {
	poolRepo := &fakePoolRepo{}
	tierRepo := &fakeTierRepo{}
	svc := NewService(poolRepo, tierRepo, &fakeVaultRepo{}, &fakeBalance{}, "pool")
	svc.SetNowFunc(func() time.Time { return testNow })

	cfg, err := svc.Setup(context.Background(), setupInput())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if cfg.Treasury != "treasury" || cfg.EarlyExitFeeBPS != 100 {
		t.Fatalf("config = %+v", cfg)
	}
	if len(poolRepo.tiers) != len(DefaultTiers) {
		t.Fatalf("tiers = %d", len(poolRepo.tiers))
	}
	if poolRepo.tiers[0].ID != 1 || poolRepo.tiers[2].LoanAmount != 10_000_000 {
		t.Fatalf("seed tiers = %+v", poolRepo.tiers)
	}
}

func TestSetupRetriesAfterFailedSeeding(t *testing.T) {
	poolRepo := &fakePoolRepo{seedErr: errors.New("tier insert failed"), seedErrN: 1}
	svc := NewService(poolRepo, &fakeTierRepo{}, &fakeVaultRepo{}, &fakeBalance{}, "pool")

	if _, err := svc.Setup(context.Background(), setupInput()); err == nil {
		t.Fatal("Setup: expected seeding error")
	}
	if poolRepo.cfg != nil || len(poolRepo.tiers) != 0 {
		t.Fatalf("failed setup committed state: cfg=%+v tiers=%+v", poolRepo.cfg, poolRepo.tiers)
	}
	if _, err := svc.Setup(context.Background(), setupInput()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(poolRepo.tiers) != len(DefaultTiers) {
		t.Fatalf("tiers = %d", len(poolRepo.tiers))
	}
}

func TestSetupRunsOnce(t *testing.T) {
	poolRepo := &fakePoolRepo{}
	svc := NewService(poolRepo, &fakeTierRepo{}, &fakeVaultRepo{}, &fakeBalance{}, "pool")

	if _, err := svc.Setup(context.Background(), setupInput()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, err := svc.Setup(context.Background(), setupInput()); !errors.Is(err, pool.ErrAlreadyConfigured) {
		t.Fatalf("err = %v, want %v", err, pool.ErrAlreadyConfigured)
	}
}

func TestSetupRejectsBadBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *SetupInput)
	}{
		{name: "end before start", mutate: func(in *SetupInput) { in.EndTime = in.StartTime.Add(-time.Hour) }},
		{name: "window shorter than loan period", mutate: func(in *SetupInput) { in.EndTime = in.StartTime.Add(in.LoanPeriod) }},
		{name: "zero loan amount", mutate: func(in *SetupInput) { in.LoanAmount = 0 }},
		{name: "zero loan period", mutate: func(in *SetupInput) { in.LoanPeriod = 0 }},
		{name: "negative rate", mutate: func(in *SetupInput) { in.InterestRateBPS = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(&fakePoolRepo{}, &fakeTierRepo{}, &fakeVaultRepo{}, &fakeBalance{}, "pool")
			in := setupInput()
			tc.mutate(&in)
			if _, err := svc.Setup(context.Background(), in); !errors.Is(err, pool.ErrInvalidBounds) {
				t.Fatalf("err = %v, want %v", err, pool.ErrInvalidBounds)
			}
		})
	}
}

func TestAddAndUpdateTier(t *testing.T) {
	tierRepo := &fakeTierRepo{}
	svc := NewService(&fakePoolRepo{}, tierRepo, &fakeVaultRepo{}, &fakeBalance{}, "pool")

	added, err := svc.AddTier(context.Background(), tier.CreateInput{LoanAmount: 2_000_000, LoanPeriod: 14 * 24 * time.Hour, InterestRateBPS: 500})
	if err != nil {
		t.Fatalf("AddTier: %v", err)
	}
	updated, err := svc.UpdateTier(context.Background(), added.ID, tier.CreateInput{LoanAmount: 3_000_000, LoanPeriod: 14 * 24 * time.Hour, InterestRateBPS: 500})
	if err != nil {
		t.Fatalf("UpdateTier: %v", err)
	}
	if updated.LoanAmount != 3_000_000 {
		t.Fatalf("updated = %+v", updated)
	}
	if _, err := svc.UpdateTier(context.Background(), 99, tier.CreateInput{LoanAmount: 1, LoanPeriod: time.Hour, InterestRateBPS: 1}); !errors.Is(err, tier.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, tier.ErrNotFound)
	}
	if _, err := svc.AddTier(context.Background(), tier.CreateInput{}); !errors.Is(err, vault.ErrInvalidAmount) {
		t.Fatalf("err = %v, want %v", err, vault.ErrInvalidAmount)
	}
}

func TestWithdrawLoanTokens(t *testing.T) {
	poolRepo := &fakePoolRepo{cfg: &pool.Config{Treasury: "treasury"}}
	vaultRepo := &fakeVaultRepo{}
	svc := NewService(poolRepo, &fakeTierRepo{}, vaultRepo, &fakeBalance{balance: 7_500_000}, "pool")

	amount, err := svc.WithdrawLoanTokens(context.Background())
	if err != nil {
		t.Fatalf("WithdrawLoanTokens: %v", err)
	}
	if amount != 7_500_000 {
		t.Fatalf("amount = %d", amount)
	}
	if len(vaultRepo.sweeps) != 1 {
		t.Fatalf("sweeps = %d", len(vaultRepo.sweeps))
	}
	sw := vaultRepo.sweeps[0]
	if sw.Amount != 7_500_000 || len(sw.Jobs) != 1 || sw.Jobs[0].Topic != "transfer" {
		t.Fatalf("sweep = %+v", sw)
	}
	if sw.Event.Name != "LoanTokensWithdrawn" {
		t.Fatalf("event = %+v", sw.Event)
	}
}

func TestWithdrawLoanTokensEmpty(t *testing.T) {
	poolRepo := &fakePoolRepo{cfg: &pool.Config{Treasury: "treasury"}}
	svc := NewService(poolRepo, &fakeTierRepo{}, &fakeVaultRepo{}, &fakeBalance{}, "pool")

	if _, err := svc.WithdrawLoanTokens(context.Background()); !errors.Is(err, vault.ErrNoFundsAvailable) {
		t.Fatalf("err = %v, want %v", err, vault.ErrNoFundsAvailable)
	}
}

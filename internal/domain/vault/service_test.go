package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/magnifycash/backend/internal/domain/pool"
	"github.com/magnifycash/backend/internal/domain/tier"
	"github.com/magnifycash/backend/internal/token"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakePoolRepo struct{ cfg *pool.Config }

func (f *fakePoolRepo) Get(ctx context.Context) (*pool.Config, error) {
	if f.cfg == nil {
		return nil, pool.ErrNotConfigured
	}
	cfg := *f.cfg
	return &cfg, nil
}

func (f *fakePoolRepo) Create(ctx context.Context, cfg pool.Config, seedTiers []tier.CreateInput) (*pool.Config, []tier.Tier, error) {
	f.cfg = &cfg
	return &cfg, nil, nil
}

type fakeVaultRepo struct {
	st         State
	balances   map[string]int64
	allowances map[string]int64
	deposits   []ApplyDepositInput
	withdraws  []ApplyWithdrawInput
	results    []WithdrawResult
	sweeps     []ApplySweepInput
	depositErr error
	// beforeApply mutates the repo once, between the service's state read
	// and the commit, to model a concurrent writer.
	beforeApply func(f *fakeVaultRepo)
}

func newFakeVaultRepo() *fakeVaultRepo {
	return &fakeVaultRepo{
		balances:   make(map[string]int64),
		allowances: make(map[string]int64),
	}
}

func (f *fakeVaultRepo) interleave() {
	if f.beforeApply != nil {
		hook := f.beforeApply
		f.beforeApply = nil
		hook(f)
	}
}

func (f *fakeVaultRepo) GetState(ctx context.Context) (*State, error) {
	st := f.st
	return &st, nil
}

func (f *fakeVaultRepo) BalanceOf(ctx context.Context, holder string) (int64, error) {
	return f.balances[holder], nil
}

func (f *fakeVaultRepo) Allowance(ctx context.Context, owner, spender string) (int64, error) {
	return f.allowances[owner+"/"+spender], nil
}

func (f *fakeVaultRepo) Approve(ctx context.Context, owner, spender string, shares int64) error {
	f.allowances[owner+"/"+spender] = shares
	return nil
}

func (f *fakeVaultRepo) ApplyDeposit(ctx context.Context, in ApplyDepositInput) error {
	f.interleave()
	if f.depositErr != nil {
		return f.depositErr
	}
	if in.PricedTotalAssets != f.st.TotalAssets || in.PricedTotalShares != f.st.TotalShares {
		return ErrPriceMoved
	}
	f.deposits = append(f.deposits, in)
	f.st.TotalAssets += in.Assets
	f.st.TotalShares += in.Shares
	f.balances[in.Receiver] += in.Shares
	return nil
}

func (f *fakeVaultRepo) ApplyWithdraw(ctx context.Context, in ApplyWithdrawInput) (*WithdrawResult, error) {
	f.interleave()
	res := WithdrawResult{Assets: in.Assets, Shares: in.Shares}
	if res.Shares == 0 {
		res.Shares = SharesForWithdraw(res.Assets, f.st.TotalAssets, f.st.TotalShares)
	} else {
		res.Assets = AssetsForRedeem(res.Shares, f.st.TotalAssets, f.st.TotalShares)
	}
	if res.Assets <= 0 || res.Shares <= 0 {
		return nil, ErrInvalidAmount
	}
	if f.st.TotalAssets-f.st.OutstandingPrincipal < res.Assets {
		return nil, ErrNoFundsAvailable
	}
	res.Fee = EarlyExitFee(res.Assets, in.FeeBPS)
	res.Net = res.Assets - res.Fee
	if f.balances[in.Owner] < res.Shares {
		return nil, ErrInsufficientShares
	}
	if in.Spender != "" {
		key := in.Owner + "/" + in.Spender
		if f.allowances[key] < res.Shares {
			return nil, ErrNotApproved
		}
		f.allowances[key] -= res.Shares
	}
	f.balances[in.Owner] -= res.Shares
	f.st.TotalAssets -= res.Assets
	f.st.TotalShares -= res.Shares
	f.withdraws = append(f.withdraws, in)
	f.results = append(f.results, res)
	return &res, nil
}

func (f *fakeVaultRepo) ApplySweep(ctx context.Context, in ApplySweepInput) error {
	f.sweeps = append(f.sweeps, in)
	return nil
}

type transfer struct {
	owner  string
	to     string
	amount int64
	permit bool
}

type fakeTokens struct {
	transfers []transfer
	err       error
}

func (f *fakeTokens) TransferFrom(ctx context.Context, owner, to string, amount int64) error {
	if f.err != nil {
		return f.err
	}
	f.transfers = append(f.transfers, transfer{owner: owner, to: to, amount: amount})
	return nil
}

func (f *fakeTokens) PermitTransferFrom(ctx context.Context, permit token.Permit, details token.TransferDetails, owner string, signature []byte) error {
	if f.err != nil {
		return f.err
	}
	f.transfers = append(f.transfers, transfer{owner: owner, to: details.To, amount: details.RequestedAmount, permit: true})
	return nil
}

type refundCall struct {
	topic   string
	payload string
}

type fakeRefunds struct {
	calls []refundCall
	err   error
}

func (f *fakeRefunds) Enqueue(ctx context.Context, topic string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, refundCall{topic: topic, payload: string(payload)})
	return nil
}

func activeConfig() *pool.Config {
	return &pool.Config{
		StartTime:       testNow.Add(-time.Hour),
		EndTime:         testNow.Add(60 * 24 * time.Hour),
		LoanAmount:      1_000_000,
		LoanPeriod:      30 * 24 * time.Hour,
		InterestRateBPS: 250,
		EarlyExitFeeBPS: 100,
		Treasury:        "treasury",
	}
}

type testFixture struct {
	svc     *Service
	repo    *fakeVaultRepo
	tokens  *fakeTokens
	refunds *fakeRefunds
}

func newTestService(cfg *pool.Config) testFixture {
	repo := newFakeVaultRepo()
	tokens := &fakeTokens{}
	refunds := &fakeRefunds{}
	svc := NewService(&fakePoolRepo{cfg: cfg}, repo, tokens, refunds, "pool")
	svc.SetNowFunc(func() time.Time { return testNow })
	return testFixture{svc: svc, repo: repo, tokens: tokens, refunds: refunds}
}

func TestDepositPullsThenCommits(t *testing.T) {
	fx := newTestService(activeConfig())

	rcpt, err := fx.svc.Deposit(context.Background(), "alice", "alice", 1_000)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if rcpt.Shares != 1_000 || rcpt.Assets != 1_000 {
		t.Fatalf("receipt = %+v", rcpt)
	}
	if len(fx.tokens.transfers) != 1 || fx.tokens.transfers[0].to != "pool" {
		t.Fatalf("transfers = %+v", fx.tokens.transfers)
	}
	if len(fx.repo.deposits) != 1 || fx.repo.deposits[0].Event.Name != "Deposit" {
		t.Fatalf("deposits = %+v", fx.repo.deposits)
	}
}

func TestDepositProportionalShares(t *testing.T) {
	fx := newTestService(activeConfig())
	fx.repo.st = State{TotalAssets: 15_000, TotalShares: 10_000}

	rcpt, err := fx.svc.Deposit(context.Background(), "alice", "alice", 3_000)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if rcpt.Shares != 2_000 {
		t.Fatalf("shares = %d", rcpt.Shares)
	}
}

func TestDepositRejectedOutsideFundingPhases(t *testing.T) {
	cfg := activeConfig()
	cfg.EndTime = testNow.Add(-time.Minute)
	fx := newTestService(cfg)

	if _, err := fx.svc.Deposit(context.Background(), "alice", "alice", 1_000); !errors.Is(err, pool.ErrPoolNotActive) {
		t.Fatalf("err = %v, want %v", err, pool.ErrPoolNotActive)
	}
	if len(fx.tokens.transfers) != 0 || len(fx.repo.deposits) != 0 {
		t.Fatal("rejected deposit must not move funds")
	}
}

func TestDepositPullFailureAborts(t *testing.T) {
	fx := newTestService(activeConfig())
	fx.tokens.err = token.ErrInsufficientAllowance

	if _, err := fx.svc.Deposit(context.Background(), "alice", "alice", 1_000); !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("err = %v", err)
	}
	if len(fx.repo.deposits) != 0 {
		t.Fatal("failed pull must not commit")
	}
	if len(fx.refunds.calls) != 0 {
		t.Fatal("nothing was pulled, nothing to refund")
	}
}

func TestDepositRepricesWhenTotalsMove(t *testing.T) {
	fx := newTestService(activeConfig())
	fx.repo.st = State{TotalAssets: 10_000, TotalShares: 10_000}
	// A write-off lands between the quote and the commit.
	fx.repo.beforeApply = func(f *fakeVaultRepo) {
		f.st.TotalAssets = 6_000
	}

	rcpt, err := fx.svc.Deposit(context.Background(), "alice", "alice", 1_000)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if rcpt.Assets != 1_000 || rcpt.Shares != 1_666 {
		t.Fatalf("receipt = %+v", rcpt)
	}
	if len(fx.tokens.transfers) != 1 {
		t.Fatalf("transfers = %+v (retry must not pull twice)", fx.tokens.transfers)
	}
	if len(fx.refunds.calls) != 0 {
		t.Fatalf("refunds = %+v", fx.refunds.calls)
	}
}

func TestDepositRefundsWhenCommitFails(t *testing.T) {
	fx := newTestService(activeConfig())
	commitErr := errors.New("commit failed")
	fx.repo.depositErr = commitErr

	_, err := fx.svc.Deposit(context.Background(), "alice", "alice", 1_000)
	if !errors.Is(err, commitErr) {
		t.Fatalf("err = %v", err)
	}
	if len(fx.tokens.transfers) != 1 {
		t.Fatalf("transfers = %+v", fx.tokens.transfers)
	}
	if len(fx.refunds.calls) != 1 || fx.refunds.calls[0].topic != "transfer" {
		t.Fatalf("refunds = %+v", fx.refunds.calls)
	}
	if fx.refunds.calls[0].payload != `{"amount":1000,"to":"alice"}` {
		t.Fatalf("payload = %s", fx.refunds.calls[0].payload)
	}
}

func TestDepositWithAuthorization(t *testing.T) {
	fx := newTestService(activeConfig())

	permit := token.Permit{Token: "usdc", Amount: 1_000, Nonce: 1, Deadline: testNow.Add(time.Hour).Unix()}
	details := token.TransferDetails{To: "pool", RequestedAmount: 1_000}
	if _, err := fx.svc.DepositWithAuthorization(context.Background(), "alice", "alice", 1_000, permit, details, []byte{1}); err != nil {
		t.Fatalf("DepositWithAuthorization: %v", err)
	}
	if len(fx.tokens.transfers) != 1 || !fx.tokens.transfers[0].permit {
		t.Fatalf("transfers = %+v", fx.tokens.transfers)
	}
}

func TestDepositAuthorizationMismatch(t *testing.T) {
	fx := newTestService(activeConfig())

	permit := token.Permit{Token: "usdc", Amount: 1_000, Nonce: 1, Deadline: testNow.Add(time.Hour).Unix()}
	details := token.TransferDetails{To: "mallory", RequestedAmount: 1_000}
	_, err := fx.svc.DepositWithAuthorization(context.Background(), "alice", "alice", 1_000, permit, details, []byte{1})
	if !errors.Is(err, token.ErrAuthorizationInvalid) {
		t.Fatalf("err = %v, want %v", err, token.ErrAuthorizationInvalid)
	}
	if len(fx.tokens.transfers) != 0 || len(fx.repo.deposits) != 0 {
		t.Fatal("mismatched authorization must not move funds")
	}
}

func TestMintWithAuthorization(t *testing.T) {
	fx := newTestService(activeConfig())
	fx.repo.st = State{TotalAssets: 15_000, TotalShares: 10_000}

	// 1_001 shares at a 1.5 price cost 1_502 assets rounded up; the signed
	// amount must cover exactly that.
	permit := token.Permit{Token: "usdc", Amount: 1_502, Nonce: 2, Deadline: testNow.Add(time.Hour).Unix()}
	details := token.TransferDetails{To: "pool", RequestedAmount: 1_502}
	rcpt, err := fx.svc.MintWithAuthorization(context.Background(), "alice", "alice", 1_001, permit, details, []byte{1})
	if err != nil {
		t.Fatalf("MintWithAuthorization: %v", err)
	}
	if rcpt.Assets != 1_502 || rcpt.Shares != 1_001 {
		t.Fatalf("receipt = %+v", rcpt)
	}
	if len(fx.tokens.transfers) != 1 || !fx.tokens.transfers[0].permit {
		t.Fatalf("transfers = %+v", fx.tokens.transfers)
	}

	details.RequestedAmount = 1_501
	if _, err := fx.svc.MintWithAuthorization(context.Background(), "bob", "bob", 1_001, permit, details, []byte{1}); !errors.Is(err, token.ErrAuthorizationInvalid) {
		t.Fatalf("err = %v, want %v", err, token.ErrAuthorizationInvalid)
	}
}

func TestMintChargesRoundedUpAssets(t *testing.T) {
	fx := newTestService(activeConfig())
	fx.repo.st = State{TotalAssets: 15_000, TotalShares: 10_000}

	rcpt, err := fx.svc.Mint(context.Background(), "alice", "alice", 1_001)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if rcpt.Assets != 1_502 || rcpt.Shares != 1_001 {
		t.Fatalf("receipt = %+v", rcpt)
	}
	if fx.tokens.transfers[0].amount != 1_502 {
		t.Fatalf("pulled %d", fx.tokens.transfers[0].amount)
	}
}

func TestMintRefundsWhenPriceMoves(t *testing.T) {
	fx := newTestService(activeConfig())
	fx.repo.st = State{TotalAssets: 10_000, TotalShares: 10_000}
	fx.repo.beforeApply = func(f *fakeVaultRepo) {
		f.st.TotalAssets = 6_000
	}

	_, err := fx.svc.Mint(context.Background(), "alice", "alice", 1_000)
	if !errors.Is(err, ErrPriceMoved) {
		t.Fatalf("err = %v, want %v", err, ErrPriceMoved)
	}
	if len(fx.tokens.transfers) != 1 {
		t.Fatalf("transfers = %+v", fx.tokens.transfers)
	}
	if len(fx.refunds.calls) != 1 || fx.refunds.calls[0].payload != `{"amount":1000,"to":"alice"}` {
		t.Fatalf("refunds = %+v", fx.refunds.calls)
	}
	if len(fx.repo.deposits) != 0 {
		t.Fatal("moved price must not mint")
	}
}

func TestWithdrawDuringWarmupChargesFee(t *testing.T) {
	cfg := activeConfig()
	cfg.StartTime = testNow.Add(time.Hour)
	fx := newTestService(cfg)
	fx.repo.st = State{TotalAssets: 10_000, TotalShares: 10_000}
	fx.repo.balances["alice"] = 10_000

	rcpt, err := fx.svc.Withdraw(context.Background(), "alice", "alice", "alice", 10_000)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if rcpt.Fee != 100 || rcpt.Assets != 9_900 {
		t.Fatalf("receipt = %+v", rcpt)
	}
	jobs := PayoutJobs(fx.repo.withdraws[0], fx.repo.results[0])
	if len(jobs) != 2 {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestWithdrawRefusedWhileActiveAndCooldown(t *testing.T) {
	for _, name := range []string{"active", "cooldown"} {
		t.Run(name, func(t *testing.T) {
			cfg := activeConfig()
			if name == "cooldown" {
				cfg.EndTime = testNow.Add(cfg.LoanPeriod - time.Hour)
			}
			fx := newTestService(cfg)
			fx.repo.st = State{TotalAssets: 10_000, TotalShares: 10_000}
			fx.repo.balances["alice"] = 10_000

			if _, err := fx.svc.Withdraw(context.Background(), "alice", "alice", "alice", 1_000); !errors.Is(err, pool.ErrNoWithdrawActive) {
				t.Fatalf("err = %v, want %v", err, pool.ErrNoWithdrawActive)
			}
		})
	}
}

func TestWithdrawAfterEndIsFeeFree(t *testing.T) {
	cfg := activeConfig()
	cfg.EndTime = testNow.Add(-time.Minute)
	fx := newTestService(cfg)
	fx.repo.st = State{TotalAssets: 10_000, TotalShares: 10_000}
	fx.repo.balances["alice"] = 10_000

	rcpt, err := fx.svc.Withdraw(context.Background(), "alice", "alice", "alice", 10_000)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if rcpt.Fee != 0 || rcpt.Assets != 10_000 {
		t.Fatalf("receipt = %+v", rcpt)
	}
	if jobs := PayoutJobs(fx.repo.withdraws[0], fx.repo.results[0]); len(jobs) != 1 {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestRedeemPricedAtCommitTime(t *testing.T) {
	cfg := activeConfig()
	cfg.EndTime = testNow.Add(-time.Minute)
	fx := newTestService(cfg)
	fx.repo.st = State{TotalAssets: 10_000, TotalShares: 10_000}
	fx.repo.balances["alice"] = 1_000
	// A default write-off lands before the commit: the payout must use the
	// post-write-off price, not the quote the caller saw.
	fx.repo.beforeApply = func(f *fakeVaultRepo) {
		f.st.TotalAssets = 6_000
	}

	rcpt, err := fx.svc.Redeem(context.Background(), "alice", "alice", "alice", 1_000)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if rcpt.Assets != 600 || rcpt.Shares != 1_000 {
		t.Fatalf("receipt = %+v", rcpt)
	}
}

func TestWithdrawInsufficientShares(t *testing.T) {
	cfg := activeConfig()
	cfg.EndTime = testNow.Add(-time.Minute)
	fx := newTestService(cfg)
	fx.repo.st = State{TotalAssets: 10_000, TotalShares: 10_000}
	fx.repo.balances["alice"] = 500

	if _, err := fx.svc.Withdraw(context.Background(), "alice", "alice", "alice", 1_000); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientShares)
	}
}

func TestRedeemByApprovedSpender(t *testing.T) {
	cfg := activeConfig()
	cfg.EndTime = testNow.Add(-time.Minute)
	fx := newTestService(cfg)
	fx.repo.st = State{TotalAssets: 10_000, TotalShares: 10_000}
	fx.repo.balances["alice"] = 1_000

	if _, err := fx.svc.Redeem(context.Background(), "bob", "alice", "bob", 1_000); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("err = %v, want %v", err, ErrNotApproved)
	}
	if err := fx.svc.Approve(context.Background(), "alice", "bob", 1_000); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	rcpt, err := fx.svc.Redeem(context.Background(), "bob", "alice", "bob", 1_000)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if rcpt.Assets != 1_000 {
		t.Fatalf("receipt = %+v", rcpt)
	}
	if fx.repo.withdraws[0].Spender != "bob" {
		t.Fatalf("spender = %q", fx.repo.withdraws[0].Spender)
	}
}

func TestInvalidAmounts(t *testing.T) {
	fx := newTestService(activeConfig())

	if _, err := fx.svc.Deposit(context.Background(), "alice", "alice", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("deposit err = %v", err)
	}
	if _, err := fx.svc.Mint(context.Background(), "alice", "alice", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("mint err = %v", err)
	}
	if _, err := fx.svc.Withdraw(context.Background(), "alice", "alice", "alice", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("withdraw err = %v", err)
	}
	if err := fx.svc.Approve(context.Background(), "alice", "bob", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("approve err = %v", err)
	}
}

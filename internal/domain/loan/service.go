package loan

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/magnifycash/backend/internal/domain/event"
	"github.com/magnifycash/backend/internal/domain/pool"
	"github.com/magnifycash/backend/internal/domain/tier"
	"github.com/magnifycash/backend/internal/domain/vault"
	"github.com/magnifycash/backend/internal/observability"
	"github.com/magnifycash/backend/internal/reputation"
	"github.com/magnifycash/backend/internal/token"
)

const (
	transferTopic        = "transfer"
	ongoingLoanTopic     = "set_ongoing_loan"
	recordRepaymentTopic = "record_repayment"
	recordDefaultTopic   = "record_default"
	reverseDefaultTopic  = "reverse_default"
)

// LiquidityReader reports the vault totals the liquidity gate needs.
type LiquidityReader interface {
	GetState(ctx context.Context) (*vault.State, error)
}

// TokenClient is the slice of the token collaborator used for repayments:
// pulling funds from the borrower into the pool account. Disbursements go out
// through the outbox after the loan row is committed.
type TokenClient interface {
	TransferFrom(ctx context.Context, owner, to string, amount int64) error
	PermitTransferFrom(ctx context.Context, permit token.Permit, details token.TransferDetails, owner string, signature []byte) error
}

// Authorization is a signed transfer permit presented in place of a
// pre-established allowance.
type Authorization struct {
	Permit    token.Permit          `json:"permit"`
	Details   token.TransferDetails `json:"details"`
	Signature []byte                `json:"signature"`
}

// Settlement breaks down what a repayment costs.
type Settlement struct {
	LoanID    string `json:"loan_id"`
	Principal int64  `json:"principal"`
	Interest  int64  `json:"interest"`
	Penalty   int64  `json:"penalty,omitempty"`
	Total     int64  `json:"total"`
}

// RefundQueue hands back a pulled repayment when the settlement commit that
// should have absorbed it fails, so the borrower's funds are not stranded in
// the pool account.
type RefundQueue interface {
	Enqueue(ctx context.Context, topic string, payload []byte) error
}

type Service struct {
	poolRepo    pool.Repository
	tierRepo    tier.Repository
	loanRepo    Repository
	liquidity   LiquidityReader
	tokens      TokenClient
	registry    reputation.Registry
	predecessor reputation.PredecessorPool
	refunds     RefundQueue
	poolAccount string
	now         func() time.Time
}

// NewService wires the loan lifecycle. predecessor may be nil when no
// predecessor pool is configured.
func NewService(
	poolRepo pool.Repository,
	tierRepo tier.Repository,
	loanRepo Repository,
	liquidity LiquidityReader,
	tokens TokenClient,
	registry reputation.Registry,
	predecessor reputation.PredecessorPool,
	refunds RefundQueue,
	poolAccount string,
) *Service {
	return &Service{
		poolRepo:    poolRepo,
		tierRepo:    tierRepo,
		loanRepo:    loanRepo,
		liquidity:   liquidity,
		tokens:      tokens,
		registry:    registry,
		predecessor: predecessor,
		refunds:     refunds,
		poolAccount: poolAccount,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the wall clock, for tests.
func (s *Service) SetNowFunc(now func() time.Time) { s.now = now }

// RequestLoan issues a loan to borrower at the given tier. tierID 0 selects
// the pool's own default terms gated on the pool minimum tier. The borrower
// must hold the required tier, carry no active loan here or on the
// predecessor pool, and the vault must have uncommitted liquidity for the
// principal. Disbursement is queued after commit, never before.
func (s *Service) RequestLoan(ctx context.Context, borrower string, tierID int32) (*Entity, error) {
	cfg, err := s.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if pool.PhaseAt(now, *cfg) != pool.PhaseActive {
		return nil, pool.ErrPoolNotActive
	}

	principal := cfg.LoanAmount
	period := cfg.LoanPeriod
	rate := cfg.InterestRateBPS
	requiredTier := cfg.MinTier
	if tierID != 0 {
		t, err := s.tierRepo.GetByID(ctx, tierID)
		if err != nil {
			return nil, err
		}
		principal = t.LoanAmount
		period = t.LoanPeriod
		rate = t.InterestRateBPS
		requiredTier = t.ID
	}

	if _, err := s.loanRepo.GetActiveByBorrower(ctx, borrower); err == nil {
		return nil, ErrActiveLoanOnPool
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if s.predecessor != nil {
		active, err := s.predecessor.HasActiveLoan(ctx, borrower)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, ErrActiveLoanOnPredecessor
		}
	}
	ongoing, err := s.registry.HasOngoingLoan(ctx, borrower)
	if err != nil {
		return nil, err
	}
	if ongoing {
		// The flag can be this pool's own: clearing it after repayment
		// runs through the outbox. A borrower with local history and no
		// active loan here is waiting on that clear, not carrying a loan
		// elsewhere.
		history, err := s.loanRepo.ListByBorrower(ctx, borrower, 1, 0)
		if err != nil {
			return nil, err
		}
		if len(history) > 0 {
			return nil, ErrOngoingLoanRecorded
		}
		return nil, ErrActiveLoanOnPredecessor
	}
	borrowerTier, err := s.registry.GetTier(ctx, borrower)
	if err != nil {
		return nil, err
	}
	if borrowerTier < requiredTier {
		return nil, ErrTierInsufficient
	}

	// Fast-fail read; the commit re-checks liquidity under the row lock.
	st, err := s.liquidity.GetState(ctx)
	if err != nil {
		return nil, err
	}
	if st.TotalAssets-st.OutstandingPrincipal < principal {
		return nil, ErrInsufficientLiquidity
	}

	ln := Entity{
		ID:              uuid.NewString(),
		Borrower:        borrower,
		TierID:          tierID,
		Principal:       principal,
		InterestRateBPS: rate,
		RequestedAt:     now,
		DueAt:           now.Add(period),
		Status:          StatusActive,
	}
	payload, _ := json.Marshal(map[string]any{
		"loan_id":   ln.ID,
		"borrower":  borrower,
		"tier_id":   tierID,
		"principal": principal,
		"due_at":    ln.DueAt,
	})
	if err := s.loanRepo.ApplyRequest(ctx, ApplyRequestInput{
		Loan:  ln,
		Event: event.Entity{Name: event.LoanRequested, Subject: borrower, Payload: payload},
		Jobs: []event.Job{
			transferJob(borrower, principal),
			ongoingLoanJob(borrower, true),
		},
	}); err != nil {
		return nil, err
	}
	observability.LoansIssued.Inc()
	return &ln, nil
}

// RepayLoan settles the borrower's active loan in full: principal plus simple
// interest at the issuance rate. auth may be nil when the borrower holds an
// allowance toward the pool account.
func (s *Service) RepayLoan(ctx context.Context, borrower string, auth *Authorization) (*Settlement, error) {
	ln, err := s.loanRepo.GetActiveByBorrower(ctx, borrower)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrLoanNotActive
		}
		return nil, err
	}
	stl := s.settlementFor(ln, 0)
	if err := s.pull(ctx, borrower, stl.Total, auth); err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]any{
		"loan_id":   ln.ID,
		"borrower":  borrower,
		"tier_id":   ln.TierID,
		"principal": stl.Principal,
		"interest":  stl.Interest,
	})
	if err := s.loanRepo.ApplyRepayment(ctx, ApplyRepaymentInput{
		LoanID:    ln.ID,
		Principal: stl.Principal,
		Interest:  stl.Interest,
		SettledAt: s.now(),
		Event:     event.Entity{Name: event.LoanRepaid, Subject: borrower, Payload: payload},
		Jobs: []event.Job{
			ongoingLoanJob(borrower, false),
			repaymentJob(borrower, stl.Interest),
		},
	}); err != nil {
		return nil, s.refund(ctx, borrower, stl.Total, err)
	}
	observability.LoansSettled.WithLabelValues("repaid").Inc()
	return stl, nil
}

// RepayDefaultedLoan settles a defaulted loan after the fact: principal,
// interest, and the default penalty. On success the borrower's recorded
// default is reversed.
func (s *Service) RepayDefaultedLoan(ctx context.Context, borrower, loanID string, auth *Authorization) (*Settlement, error) {
	ln, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if ln.Borrower != borrower {
		return nil, ErrNotFound
	}
	if ln.Status != StatusDefaulted {
		return nil, ErrLoanNotDefaulted
	}
	cfg, err := s.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	stl := s.settlementFor(ln, cfg.DefaultPenaltyBPS)
	if err := s.pull(ctx, borrower, stl.Total, auth); err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]any{
		"loan_id":   ln.ID,
		"borrower":  borrower,
		"tier_id":   ln.TierID,
		"principal": stl.Principal,
		"interest":  stl.Interest,
		"penalty":   stl.Penalty,
	})
	if err := s.loanRepo.ApplyDefaultRepayment(ctx, ApplyDefaultRepaymentInput{
		LoanID:    ln.ID,
		Amount:    stl.Total,
		SettledAt: s.now(),
		Event:     event.Entity{Name: event.LoanDefaultRepaid, Subject: borrower, Payload: payload},
		Jobs: []event.Job{
			reverseDefaultJob(borrower, stl.Principal),
			repaymentJob(borrower, stl.Interest+stl.Penalty),
		},
	}); err != nil {
		return nil, s.refund(ctx, borrower, stl.Total, err)
	}
	observability.LoansSettled.WithLabelValues("default_repaid").Inc()
	return stl, nil
}

// ProcessOutdatedLoans marks every active loan past its due date as
// defaulted, writes off the principal against the vault, and queues the
// reputation downgrades. Safe to run on a schedule: an empty sweep is a
// no-op and concurrent sweeps settle each loan at most once.
func (s *Service) ProcessOutdatedLoans(ctx context.Context) (int32, error) {
	asOf := s.now()
	overdue, err := s.loanRepo.ListOverdue(ctx, asOf)
	if err != nil {
		return 0, err
	}
	if len(overdue) == 0 {
		return 0, nil
	}
	items := make([]DefaultItem, 0, len(overdue))
	for _, ln := range overdue {
		payload, _ := json.Marshal(map[string]any{
			"loan_id":   ln.ID,
			"borrower":  ln.Borrower,
			"tier_id":   ln.TierID,
			"principal": ln.Principal,
			"due_at":    ln.DueAt,
		})
		items = append(items, DefaultItem{
			Loan:  ln,
			Event: event.Entity{Name: event.LoanDefaulted, Subject: ln.Borrower, Payload: payload},
			Jobs: []event.Job{
				ongoingLoanJob(ln.Borrower, false),
				defaultJob(ln.Borrower, ln.Principal),
			},
		})
	}
	n, err := s.loanRepo.ApplyDefaults(ctx, ApplyDefaultsInput{AsOf: asOf, Items: items})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.LoansSettled.WithLabelValues("defaulted").Add(float64(n))
	}
	return n, nil
}

// ActiveLoan returns the borrower's single active loan, ErrNotFound when
// there is none.
func (s *Service) ActiveLoan(ctx context.Context, borrower string) (*Entity, error) {
	return s.loanRepo.GetActiveByBorrower(ctx, borrower)
}

func (s *Service) GetByID(ctx context.Context, id string) (*Entity, error) {
	return s.loanRepo.GetByID(ctx, id)
}

// History lists the borrower's loans newest first, settled ones included.
func (s *Service) History(ctx context.Context, borrower string, limit, offset int32) ([]Entity, error) {
	return s.loanRepo.ListByBorrower(ctx, borrower, limit, offset)
}

func (s *Service) ListActive(ctx context.Context) ([]Entity, error) {
	return s.loanRepo.ListActive(ctx)
}

// AmountDue quotes the full settlement cost of the borrower's active loan.
func (s *Service) AmountDue(ctx context.Context, borrower string) (*Settlement, error) {
	ln, err := s.loanRepo.GetActiveByBorrower(ctx, borrower)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrLoanNotActive
		}
		return nil, err
	}
	return s.settlementFor(ln, 0), nil
}

// DefaultedAmountDue quotes the settlement cost of a defaulted loan,
// penalty included.
func (s *Service) DefaultedAmountDue(ctx context.Context, borrower, loanID string) (*Settlement, error) {
	ln, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if ln.Borrower != borrower {
		return nil, ErrNotFound
	}
	if ln.Status != StatusDefaulted {
		return nil, ErrLoanNotDefaulted
	}
	cfg, err := s.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.settlementFor(ln, cfg.DefaultPenaltyBPS), nil
}

func (s *Service) settlementFor(ln *Entity, penaltyBPS int32) *Settlement {
	interest := vault.InterestOn(ln.Principal, ln.InterestRateBPS)
	penalty := int64(0)
	if penaltyBPS > 0 {
		penalty = vault.InterestOn(ln.Principal, penaltyBPS)
	}
	return &Settlement{
		LoanID:    ln.ID,
		Principal: ln.Principal,
		Interest:  interest,
		Penalty:   penalty,
		Total:     ln.Principal + interest + penalty,
	}
}

// refund queues the pulled settlement back to the borrower and reports the
// failure that made the refund necessary.
func (s *Service) refund(ctx context.Context, to string, amount int64, cause error) error {
	payload, _ := json.Marshal(map[string]any{"to": to, "amount": amount})
	if err := s.refunds.Enqueue(ctx, transferTopic, payload); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Service) pull(ctx context.Context, owner string, amount int64, auth *Authorization) error {
	if auth == nil {
		return s.tokens.TransferFrom(ctx, owner, s.poolAccount, amount)
	}
	// The authorization must pay exactly what is due, into the pool.
	if auth.Details.To != s.poolAccount || auth.Details.RequestedAmount != amount {
		return token.ErrAuthorizationInvalid
	}
	return s.tokens.PermitTransferFrom(ctx, auth.Permit, auth.Details, owner, auth.Signature)
}

func transferJob(to string, amount int64) event.Job {
	payload, _ := json.Marshal(map[string]any{"to": to, "amount": amount})
	return event.Job{Topic: transferTopic, Payload: payload}
}

func ongoingLoanJob(borrower string, ongoing bool) event.Job {
	payload, _ := json.Marshal(map[string]any{"borrower": borrower, "ongoing": ongoing})
	return event.Job{Topic: ongoingLoanTopic, Payload: payload}
}

func repaymentJob(borrower string, interest int64) event.Job {
	payload, _ := json.Marshal(map[string]any{"borrower": borrower, "interest": interest})
	return event.Job{Topic: recordRepaymentTopic, Payload: payload}
}

func defaultJob(borrower string, amount int64) event.Job {
	payload, _ := json.Marshal(map[string]any{"borrower": borrower, "amount": amount})
	return event.Job{Topic: recordDefaultTopic, Payload: payload}
}

func reverseDefaultJob(borrower string, amount int64) event.Job {
	payload, _ := json.Marshal(map[string]any{"borrower": borrower, "amount": amount})
	return event.Job{Topic: reverseDefaultTopic, Payload: payload}
}

package loan

import (
	"context"
	"errors"
	"time"

	"github.com/magnifycash/backend/internal/domain/event"
)

const (
	StatusActive        = "active"
	StatusRepaid        = "repaid"
	StatusDefaulted     = "defaulted"
	StatusDefaultRepaid = "default_repaid"
)

var (
	ErrNotFound = errors.New("loan_not_found")
	// ErrActiveLoanOnPool and ErrActiveLoanOnPredecessor are deliberately
	// distinct: callers and their tests care where the conflicting loan
	// lives.
	ErrActiveLoanOnPool        = errors.New("active_loan_on_pool")
	ErrActiveLoanOnPredecessor = errors.New("active_loan_on_predecessor")
	// ErrOngoingLoanRecorded means the registry still flags the borrower
	// but the conflicting loan is this pool's own just-settled one, with
	// the flag clearing through the outbox.
	ErrOngoingLoanRecorded = errors.New("ongoing_loan_recorded")
	ErrTierInsufficient        = errors.New("tier_insufficient")
	ErrLoanNotActive           = errors.New("loan_not_active")
	ErrLoanNotDefaulted        = errors.New("loan_not_defaulted")
	ErrInsufficientLiquidity   = errors.New("insufficient_liquidity")
)

// Entity is one loan. Terms are snapshotted at issuance so later tier edits
// never touch a live loan. Rows are append-only: settled loans stay queryable
// per borrower and globally.
type Entity struct {
	ID              string     `json:"id"`
	Borrower        string     `json:"borrower"`
	TierID          int32      `json:"tier_id"`
	Principal       int64      `json:"principal"`
	InterestRateBPS int32      `json:"interest_rate_bps"`
	RequestedAt     time.Time  `json:"requested_at"`
	DueAt           time.Time  `json:"due_at"`
	Status          string     `json:"status"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type ApplyRequestInput struct {
	Loan  Entity
	Event event.Entity
	Jobs  []event.Job
}

type ApplyRepaymentInput struct {
	LoanID    string
	Principal int64
	Interest  int64
	SettledAt time.Time
	Event     event.Entity
	Jobs      []event.Job
}

// DefaultItem is one overdue loan with the event and follow-up jobs that
// accompany marking it defaulted. Keeping them together lets a sweep skip the
// side effects of any loan another sweep settled first.
type DefaultItem struct {
	Loan  Entity
	Event event.Entity
	Jobs  []event.Job
}

type ApplyDefaultsInput struct {
	AsOf  time.Time
	Items []DefaultItem
}

type ApplyDefaultRepaymentInput struct {
	LoanID    string
	Amount    int64
	SettledAt time.Time
	Event     event.Entity
	Jobs      []event.Job
}

// Repository persists loans. Every Apply call runs as one all-or-nothing
// transaction spanning the loan rows, the vault totals, the event append and
// the outbox jobs, with status and liquidity predicates re-checked inside the
// transaction.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Entity, error)
	GetActiveByBorrower(ctx context.Context, borrower string) (*Entity, error)
	ListByBorrower(ctx context.Context, borrower string, limit, offset int32) ([]Entity, error)
	ListActive(ctx context.Context) ([]Entity, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]Entity, error)
	ApplyRequest(ctx context.Context, in ApplyRequestInput) error
	ApplyRepayment(ctx context.Context, in ApplyRepaymentInput) error
	ApplyDefaults(ctx context.Context, in ApplyDefaultsInput) (int32, error)
	ApplyDefaultRepayment(ctx context.Context, in ApplyDefaultRepaymentInput) error
}

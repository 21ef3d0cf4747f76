package reputation

import "context"

// Record mirrors the registry's per-borrower state. The pool reads Tier and
// OngoingLoan for eligibility and writes outcomes back through the Registry
// interface; it never mutates registry storage directly.
type Record struct {
	Tier           int32 `json:"tier"`
	LoansRepaid    int32 `json:"loans_repaid"`
	LoansDefaulted int32 `json:"loans_defaulted"`
	InterestPaid   int64 `json:"interest_paid"`
	OngoingLoan    bool  `json:"ongoing_loan"`
}

// Registry is the external reputation collaborator. The ongoing-loan flag is
// shared across pool generations, which is what makes a borrower with an
// unresolved loan elsewhere ineligible here.
type Registry interface {
	GetRecord(ctx context.Context, borrower string) (*Record, error)
	GetTier(ctx context.Context, borrower string) (int32, error)
	HasOngoingLoan(ctx context.Context, borrower string) (bool, error)
	SetOngoingLoan(ctx context.Context, borrower string, ongoing bool) error
	RecordRepayment(ctx context.Context, borrower string, interest int64) error
	RecordDefault(ctx context.Context, borrower string, amount int64) error
	ReverseDefault(ctx context.Context, borrower string, amount int64) error
}

// PredecessorPool is a read-only view of the previous pool generation,
// queried one hop only.
type PredecessorPool interface {
	HasActiveLoan(ctx context.Context, borrower string) (bool, error)
}

package event

import (
	"context"
	"time"
)

// Event names published for observers and indexers.
const (
	Deposit             = "Deposit"
	Withdraw            = "Withdraw"
	LoanRequested       = "LoanRequested"
	LoanRepaid          = "LoanRepaid"
	LoanDefaulted       = "LoanDefaulted"
	LoanDefaultRepaid   = "LoanDefaultRepaid"
	TierAdded           = "TierAdded"
	TierUpdated         = "TierUpdated"
	LoanTokensWithdrawn = "LoanTokensWithdrawn"
)

// Entity is one append-only ledger event. Subject is the account the event
// is about, used for per-account subscription channels.
type Entity struct {
	ID        int64
	Name      string
	Subject   string
	Payload   []byte
	CreatedAt time.Time
}

// Job is a follow-up delivery to an external collaborator, written to the
// outbox in the same transaction as the state change that requires it.
type Job struct {
	Topic   string
	Payload []byte
}

type Repository interface {
	ListSince(ctx context.Context, lastID int64, limit int32) ([]Entity, error)
}

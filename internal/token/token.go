package token

import (
	"context"
	"errors"
)

var (
	ErrAuthorizationInvalid  = errors.New("transfer_authorization_invalid")
	ErrInsufficientBalance   = errors.New("insufficient_balance")
	ErrInsufficientAllowance = errors.New("insufficient_allowance")
)

// Permit is a signed transfer authorization: the signer allows up to Amount
// of Token to be pulled until Deadline, bound to a single-use Nonce.
type Permit struct {
	Token    string `json:"token"`
	Amount   int64  `json:"amount"`
	Nonce    uint64 `json:"nonce"`
	Deadline int64  `json:"deadline"`
}

// TransferDetails names the destination and the exact amount requested under
// a permit. RequestedAmount may not exceed the permitted amount.
type TransferDetails struct {
	To              string `json:"to"`
	RequestedAmount int64  `json:"requested_amount"`
}

// Client moves the pool's single fungible asset. Transfer sends from the
// pool's own account; TransferFrom relies on a pre-established allowance;
// PermitTransferFrom verifies and executes a signed authorization atomically,
// rejecting expired deadlines, replayed nonces, mismatched amounts and bad
// signatures.
type Client interface {
	BalanceOf(ctx context.Context, account string) (int64, error)
	Transfer(ctx context.Context, to string, amount int64) error
	TransferFrom(ctx context.Context, owner, to string, amount int64) error
	PermitTransferFrom(ctx context.Context, permit Permit, details TransferDetails, owner string, signature []byte) error
}

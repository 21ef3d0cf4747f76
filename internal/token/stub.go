package token

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stub is an in-memory token collaborator for local development and tests.
// It keeps real balance, allowance and nonce bookkeeping so rejection paths
// behave like the production service.
type Stub struct {
	account string

	mu         sync.Mutex
	balances   map[string]int64
	allowances map[string]map[string]int64
	usedNonces map[string]map[uint64]struct{}
	now        func() time.Time
}

// NewStub builds a stub whose outbound Transfer calls debit account.
func NewStub(account string) *Stub {
	return &Stub{
		account:    account,
		balances:   map[string]int64{},
		allowances: map[string]map[string]int64{},
		usedNonces: map[string]map[uint64]struct{}{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the wall clock, for tests.
func (s *Stub) SetNowFunc(now func() time.Time) { s.now = now }

// Mint credits an account out of thin air, for fixtures.
func (s *Stub) Mint(account string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] += amount
}

// Approve grants spender an allowance over owner's funds.
func (s *Stub) Approve(owner, spender string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowances[owner] == nil {
		s.allowances[owner] = map[string]int64{}
	}
	s.allowances[owner][spender] = amount
}

func (s *Stub) BalanceOf(_ context.Context, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account], nil
}

func (s *Stub) Transfer(_ context.Context, to string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.move(s.account, to, amount)
}

func (s *Stub) TransferFrom(_ context.Context, owner, to string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	granted := s.allowances[owner][s.account]
	if granted < amount {
		return ErrInsufficientAllowance
	}
	if err := s.move(owner, to, amount); err != nil {
		return err
	}
	s.allowances[owner][s.account] = granted - amount
	return nil
}

func (s *Stub) PermitTransferFrom(_ context.Context, permit Permit, details TransferDetails, owner string, signature []byte) error {
	if err := VerifyPermit(permit, details, owner, signature, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usedNonces[owner] == nil {
		s.usedNonces[owner] = map[uint64]struct{}{}
	}
	if _, used := s.usedNonces[owner][permit.Nonce]; used {
		return fmt.Errorf("%w: nonce already used", ErrAuthorizationInvalid)
	}
	if err := s.move(owner, details.To, details.RequestedAmount); err != nil {
		return err
	}
	s.usedNonces[owner][permit.Nonce] = struct{}{}
	return nil
}

func (s *Stub) move(from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrInsufficientBalance)
	}
	if s.balances[from] < amount {
		return ErrInsufficientBalance
	}
	s.balances[from] -= amount
	s.balances[to] += amount
	return nil
}

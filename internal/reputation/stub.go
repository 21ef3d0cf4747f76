package reputation

import (
	"context"
	"errors"
	"sync"
)

var ErrUnknownBorrower = errors.New("unknown_borrower")

// Stub is an in-memory registry for local development and tests.
type Stub struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewStub() *Stub {
	return &Stub{records: map[string]*Record{}}
}

// Seed installs a borrower record, for fixtures.
func (s *Stub) Seed(borrower string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.records[borrower] = &cp
}

func (s *Stub) GetRecord(_ context.Context, borrower string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[borrower]
	if !ok {
		return nil, ErrUnknownBorrower
	}
	cp := *rec
	return &cp, nil
}

func (s *Stub) GetTier(ctx context.Context, borrower string) (int32, error) {
	rec, err := s.GetRecord(ctx, borrower)
	if err != nil {
		return 0, err
	}
	return rec.Tier, nil
}

func (s *Stub) HasOngoingLoan(ctx context.Context, borrower string) (bool, error) {
	rec, err := s.GetRecord(ctx, borrower)
	if err != nil {
		return false, err
	}
	return rec.OngoingLoan, nil
}

func (s *Stub) SetOngoingLoan(_ context.Context, borrower string, ongoing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[borrower]
	if !ok {
		return ErrUnknownBorrower
	}
	rec.OngoingLoan = ongoing
	return nil
}

func (s *Stub) RecordRepayment(_ context.Context, borrower string, interest int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[borrower]
	if !ok {
		return ErrUnknownBorrower
	}
	rec.LoansRepaid++
	rec.InterestPaid += interest
	return nil
}

func (s *Stub) RecordDefault(_ context.Context, borrower string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[borrower]
	if !ok {
		return ErrUnknownBorrower
	}
	rec.LoansDefaulted++
	return nil
}

func (s *Stub) ReverseDefault(_ context.Context, borrower string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[borrower]
	if !ok {
		return ErrUnknownBorrower
	}
	if rec.LoansDefaulted > 0 {
		rec.LoansDefaulted--
	}
	return nil
}

package tier

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("tier_not_found")

// Tier is a credit level with fixed loan terms. Ids are dense and assigned in
// insertion order; a higher id means a more trusted borrower, not necessarily
// a larger loan.
type Tier struct {
	ID              int32
	LoanAmount      int64
	LoanPeriod      time.Duration
	InterestRateBPS int32
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CreateInput struct {
	LoanAmount      int64
	LoanPeriod      time.Duration
	InterestRateBPS int32
}

type Repository interface {
	Add(ctx context.Context, in CreateInput) (*Tier, error)
	Update(ctx context.Context, id int32, in CreateInput) (*Tier, error)
	GetByID(ctx context.Context, id int32) (*Tier, error)
	List(ctx context.Context) ([]Tier, error)
}

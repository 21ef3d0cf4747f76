package pool

import (
	"context"
	"errors"
	"time"

	"github.com/magnifycash/backend/internal/domain/tier"
)

// Phase classifies the pool clock at a point in time. It is derived from the
// immutable pool boundaries on every call and never persisted.
type Phase int

const (
	PhaseWarmup Phase = iota
	PhaseActive
	PhaseCooldown
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "warmup"
	case PhaseActive:
		return "active"
	case PhaseCooldown:
		return "cooldown"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

var (
	ErrNotConfigured     = errors.New("pool_not_configured")
	ErrAlreadyConfigured = errors.New("pool_already_configured")
	ErrPoolNotActive     = errors.New("pool_not_active")
	ErrNoWithdrawActive  = errors.New("no_withdraw_when_active")
	ErrInvalidBounds     = errors.New("invalid_pool_bounds")
)

// Config is the pool singleton, written once by setup. Loan terms here are
// the defaults used when a borrower requests the pool's own tier rather than
// an explicit registry tier.
type Config struct {
	StartTime         time.Time
	EndTime           time.Time
	LoanAmount        int64
	LoanPeriod        time.Duration
	InterestRateBPS   int32
	MinTier           int32
	EarlyExitFeeBPS   int32
	DefaultPenaltyBPS int32
	Treasury          string
	CreatedAt         time.Time
}

// PhaseAt classifies now against the pool boundaries. The cooldown boundary
// sits one default loan period before the end so every loan issued while
// Active can mature before redemption unlocks.
func PhaseAt(now time.Time, cfg Config) Phase {
	if now.Before(cfg.StartTime) {
		return PhaseWarmup
	}
	cooldown := cfg.EndTime.Add(-cfg.LoanPeriod)
	if now.Before(cooldown) {
		return PhaseActive
	}
	if now.Before(cfg.EndTime) {
		return PhaseCooldown
	}
	return PhaseEnded
}

// Repository persists the pool singleton. Create writes the config row and
// the seed tiers in one transaction: a failure mid-seeding must leave the
// pool unconfigured so setup can be retried.
type Repository interface {
	Get(ctx context.Context) (*Config, error)
	Create(ctx context.Context, cfg Config, seedTiers []tier.CreateInput) (*Config, []tier.Tier, error)
}

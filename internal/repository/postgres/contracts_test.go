package postgres

import (
	eventdomain "github.com/magnifycash/backend/internal/domain/event"
	loandomain "github.com/magnifycash/backend/internal/domain/loan"
	pooldomain "github.com/magnifycash/backend/internal/domain/pool"
	tierdomain "github.com/magnifycash/backend/internal/domain/tier"
	vaultdomain "github.com/magnifycash/backend/internal/domain/vault"
	"github.com/magnifycash/backend/internal/jobs"
)

var (
	_ pooldomain.Repository   = (*PoolRepository)(nil)
	_ tierdomain.Repository   = (*TierRepository)(nil)
	_ vaultdomain.Repository  = (*VaultRepository)(nil)
	_ loandomain.Repository   = (*LoanRepository)(nil)
	_ eventdomain.Repository  = (*EventRepository)(nil)
	_ jobs.OutboxRepository   = (*OutboxRepository)(nil)
	_ vaultdomain.RefundQueue = (*OutboxRepository)(nil)
	_ loandomain.RefundQueue  = (*OutboxRepository)(nil)
)

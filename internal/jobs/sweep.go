package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// LoanSweeper is the slice of the loan service the scheduler drives.
type LoanSweeper interface {
	ProcessOutdatedLoans(ctx context.Context) (int32, error)
}

// Sweeper runs the overdue-loan sweep on a cron schedule. Sweeps are
// idempotent, so a missed or doubled tick is harmless.
type Sweeper struct {
	loans    LoanSweeper
	logger   *slog.Logger
	schedule string
	cron     *cron.Cron
}

func NewSweeper(loans LoanSweeper, logger *slog.Logger, schedule string) *Sweeper {
	return &Sweeper{
		loans:    loans,
		logger:   logger,
		schedule: schedule,
		cron:     cron.New(),
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := s.loans.ProcessOutdatedLoans(ctx)
		if err != nil {
			s.logger.Error("sweep failed", "err", err)
			return
		}
		if n > 0 {
			s.logger.Info("swept overdue loans", "defaulted", n)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

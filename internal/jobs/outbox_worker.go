package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/magnifycash/backend/internal/observability"
	"github.com/magnifycash/backend/internal/reputation"
)

const (
	transferTopic        = "transfer"
	ongoingLoanTopic     = "set_ongoing_loan"
	recordRepaymentTopic = "record_repayment"
	recordDefaultTopic   = "record_default"
	reverseDefaultTopic  = "reverse_default"
)

type OutboxJob struct {
	ID          int64
	Topic       string
	Payload     []byte
	Status      string
	Attempts    int32
	LastError   string
	AvailableAt time.Time
}

type OutboxRepository interface {
	ClaimPending(ctx context.Context, limit int32) ([]OutboxJob, error)
	MarkDone(ctx context.Context, jobID int64) error
	MarkRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, jobID int64, lastError string) error
}

// TokenClient is the outbound slice of the token collaborator: paying out
// from the pool account.
type TokenClient interface {
	Transfer(ctx context.Context, to string, amount int64) error
}

// Worker drains the outbox, delivering committed side effects to the token
// and reputation collaborators. Deliveries are at-least-once: a delivery that
// fails after the collaborator applied it will be retried, so collaborators
// must tolerate duplicates.
type Worker struct {
	outboxRepo   OutboxRepository
	tokens       TokenClient
	registry     reputation.Registry
	maxAttempts  int32
	now          func() time.Time
	retryBackoff func(attempt int32) time.Duration
}

func NewWorker(outboxRepo OutboxRepository, tokens TokenClient, registry reputation.Registry) *Worker {
	return &Worker{
		outboxRepo:  outboxRepo,
		tokens:      tokens,
		registry:    registry,
		maxAttempts: 5,
		now:         func() time.Time { return time.Now().UTC() },
		retryBackoff: func(attempt int32) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			return time.Duration(attempt*15) * time.Second
		},
	}
}

func (w *Worker) RunOnce(ctx context.Context, batchSize int32) error {
	jobs, err := w.outboxRepo.ClaimPending(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			return err
		}
	}

	return nil
}

func (w *Worker) processJob(ctx context.Context, job OutboxJob) error {
	err := w.deliver(ctx, job)
	if err == nil {
		observability.OutboxJobs.WithLabelValues(job.Topic, "done").Inc()
		return w.outboxRepo.MarkDone(ctx, job.ID)
	}
	return w.handleJobError(ctx, job, err)
}

func (w *Worker) deliver(ctx context.Context, job OutboxJob) error {
	switch job.Topic {
	case transferTopic:
		var p struct {
			To     string `json:"to"`
			Amount int64  `json:"amount"`
		}
		if err := decode(job.Payload, &p); err != nil {
			return err
		}
		if p.To == "" || p.Amount <= 0 {
			return errPermanent("invalid_transfer")
		}
		return w.tokens.Transfer(ctx, p.To, p.Amount)
	case ongoingLoanTopic:
		var p struct {
			Borrower string `json:"borrower"`
			Ongoing  bool   `json:"ongoing"`
		}
		if err := decode(job.Payload, &p); err != nil {
			return err
		}
		return w.registry.SetOngoingLoan(ctx, p.Borrower, p.Ongoing)
	case recordRepaymentTopic:
		var p struct {
			Borrower string `json:"borrower"`
			Interest int64  `json:"interest"`
		}
		if err := decode(job.Payload, &p); err != nil {
			return err
		}
		return w.registry.RecordRepayment(ctx, p.Borrower, p.Interest)
	case recordDefaultTopic:
		var p struct {
			Borrower string `json:"borrower"`
			Amount   int64  `json:"amount"`
		}
		if err := decode(job.Payload, &p); err != nil {
			return err
		}
		return w.registry.RecordDefault(ctx, p.Borrower, p.Amount)
	case reverseDefaultTopic:
		var p struct {
			Borrower string `json:"borrower"`
			Amount   int64  `json:"amount"`
		}
		if err := decode(job.Payload, &p); err != nil {
			return err
		}
		return w.registry.ReverseDefault(ctx, p.Borrower, p.Amount)
	default:
		return errPermanent("unsupported_topic")
	}
}

// permanentError marks a delivery that retrying cannot fix.
type permanentError struct{ msg string }

func (e permanentError) Error() string { return e.msg }

func errPermanent(msg string) error { return permanentError{msg: msg} }

func decode(payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return errPermanent("invalid_payload")
	}
	return nil
}

func (w *Worker) handleJobError(ctx context.Context, job OutboxJob, err error) error {
	msg := err.Error()
	var perm permanentError
	if errors.As(err, &perm) || job.Attempts >= w.maxAttempts {
		observability.OutboxJobs.WithLabelValues(job.Topic, "failed").Inc()
		return w.outboxRepo.MarkFailed(ctx, job.ID, msg)
	}
	observability.OutboxJobs.WithLabelValues(job.Topic, "retry").Inc()
	next := w.now().Add(w.retryBackoff(job.Attempts))
	return w.outboxRepo.MarkRetry(ctx, job.ID, next, fmt.Sprintf("attempt_%d: %s", job.Attempts, msg))
}

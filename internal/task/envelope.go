package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"extrato/internal/report"
)

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusTimeout Status = "TIMEOUT"
)

const (
	CodeEmptyRange        FailureCode = "empty_range"
	CodeSourceUnavailable FailureCode = "source_unavailable"
	CodeTimeout           FailureCode = "timeout"
	CodeInternal          FailureCode = "internal"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrAlreadyFinished = errors.New("task already in a terminal state")
	ErrInconsistent    = errors.New("envelope status and payload are inconsistent")
)

type (
	Status      string
	FailureCode string

	// Failure is the structured error recorded on a failed task.
	Failure struct {
		Code    FailureCode `json:"code"`
		Message string      `json:"message"`
	}

	// Envelope tracks one report-generation task: identity, spec, status and
	// outcome. A worker exclusively mutates it between claim and completion;
	// after a terminal transition it never changes again.
	Envelope struct {
		ID         uuid.UUID      `json:"id"`
		ClientID   string         `json:"client_id"`
		Request    report.Request `json:"request"`
		Status     Status         `json:"status"`
		Attempts   int            `json:"attempts"`
		CreatedAt  time.Time      `json:"created_at"`
		StartedAt  *time.Time     `json:"started_at,omitempty"`
		FinishedAt *time.Time     `json:"finished_at,omitempty"`
		Result     *string        `json:"result,omitempty"`
		Error      *Failure       `json:"error,omitempty"`
	}
)

// NewEnvelope wraps a resolved request as a fresh PENDING unit of work.
func NewEnvelope(clientID string, req report.Request) Envelope {
	return Envelope{
		ID:        uuid.New(),
		ClientID:  clientID,
		Request:   req,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is one of the five known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusStarted, StatusSuccess, StatusFailure, StatusTimeout:
		return true
	}
	return false
}

// CanTransition encodes the state machine. STARTED->STARTED is allowed: a
// redelivered envelope after a worker crash re-enters at STARTED with a
// fresh attempt.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return to == StatusStarted
	case StatusStarted:
		return to == StatusStarted || to.Terminal()
	}
	return false
}

// CheckConsistency enforces the status/payload invariant: SUCCESS always
// carries a result, FAILURE and TIMEOUT always carry an error, and
// non-terminal envelopes carry neither.
func (e Envelope) CheckConsistency() error {
	switch e.Status {
	case StatusSuccess:
		if e.Result == nil {
			return ErrInconsistent
		}
	case StatusFailure, StatusTimeout:
		if e.Error == nil {
			return ErrInconsistent
		}
	case StatusPending, StatusStarted:
		if e.Result != nil || e.Error != nil {
			return ErrInconsistent
		}
	default:
		return ErrInconsistent
	}
	return nil
}

// Store persists envelopes and applies status transitions with
// compare-and-set semantics, so two workers can never both hold a claim.
type Store interface {
	// Create persists a fresh PENDING envelope.
	Create(ctx context.Context, env Envelope) error

	// Get returns the envelope by id, ErrNotFound when unknown or expired.
	// It is a pure read, safe to poll.
	Get(ctx context.Context, id uuid.UUID) (Envelope, error)

	// Claim atomically moves PENDING or STARTED (crash redelivery) to
	// STARTED and bumps the attempt counter. ErrAlreadyFinished when the
	// envelope already reached a terminal state.
	Claim(ctx context.Context, id uuid.UUID) (Envelope, error)

	// Complete atomically moves STARTED to the given terminal status and
	// writes the result or failure in the same operation, so a reader can
	// never observe the status without its payload.
	Complete(ctx context.Context, id uuid.UUID, status Status, result *string, failure *Failure) error

	// PurgeExpired deletes envelopes past their retention window and
	// returns how many were removed.
	PurgeExpired(ctx context.Context) (int64, error)
}

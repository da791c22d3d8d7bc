package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"extrato/internal/cache"
	"extrato/internal/core"
	"extrato/internal/report"
	"extrato/internal/task"
)

// Publisher is the dispatch side of the task broker.
type Publisher interface {
	PublishTask(ctx context.Context, taskID uuid.UUID) error
}

// LimitSource provides the reads behind spending-limit checks.
type LimitSource interface {
	Limit(ctx context.Context, clientID, categoryID string) (core.Money, error)
	Limits(ctx context.Context, clientID string) ([]core.Limit, error)
	ExpenseTotal(ctx context.Context, clientID, categoryID string, start, end time.Time) (core.Money, error)
}

// LimitReport is the outcome of checking one category against its cap.
type LimitReport struct {
	CategoryID string
	Limit      core.Money
	Spent      core.Money
	Exceeded   bool
}

// Service is the synchronous face of the report engine: it validates and
// enqueues report requests, answers status polls, and runs limit checks.
// Execution itself happens in the worker processes.
type Service struct {
	tasks  task.Store
	broker Publisher
	limits LimitSource

	loc *time.Location
	now func() time.Time

	// Terminal envelopes are immutable, so caching them is safe and spares
	// the store a read per poll.
	statusCache *cache.LRU[task.Envelope]
}

type Option func(*Service)

// WithLocation sets the location used to resolve relative date windows and
// omitted years. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithStatusCache overrides the terminal-status cache dimensions.
func WithStatusCache(size int, ttl time.Duration) Option {
	return func(s *Service) { s.statusCache = cache.NewLRU[task.Envelope](size, ttl) }
}

func New(tasks task.Store, broker Publisher, limits LimitSource, opts ...Option) *Service {
	s := &Service{
		tasks:       tasks,
		broker:      broker,
		limits:      limits,
		loc:         time.UTC,
		now:         time.Now,
		statusCache: cache.NewLRU[task.Envelope](512, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the raw request, persists a PENDING envelope and
// dispatches it. It returns as soon as the message is on the queue; it never
// waits for execution. Malformed requests fail here with
// report.ErrInvalidSpec and no task is ever created for them.
func (s *Service) Submit(ctx context.Context, clientID string, raw report.RawRequest) (uuid.UUID, error) {
	req, err := report.NewRequest(raw, s.now().In(s.loc))
	if err != nil {
		return uuid.Nil, err
	}

	env := task.NewEnvelope(clientID, req)
	if err := s.tasks.Create(ctx, env); err != nil {
		return uuid.Nil, fmt.Errorf("create task: %w", err)
	}

	if err := s.broker.PublishTask(ctx, env.ID); err != nil {
		// The envelope stays PENDING until retention expires it; the
		// caller decides whether to resubmit.
		slog.ErrorContext(ctx, "Failed to dispatch task",
			"task_id", env.ID, "client_id", clientID, "error", err)
		return uuid.Nil, fmt.Errorf("dispatch task: %w", err)
	}

	slog.InfoContext(ctx, "Report request submitted",
		"task_id", env.ID, "client_id", clientID,
		"days", req.Range.Days(), "aggregated", req.Aggregation.Activated)
	return env.ID, nil
}

// Status returns the envelope for a task id. Pure read, safe to poll;
// task.ErrNotFound when the id is unknown or the envelope has expired.
func (s *Service) Status(ctx context.Context, taskID uuid.UUID) (task.Envelope, error) {
	if env, ok := s.statusCache.Get(taskID.String()); ok {
		return env, nil
	}

	env, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return task.Envelope{}, err
	}
	if env.Status.Terminal() {
		s.statusCache.Set(taskID.String(), env)
	}
	return env, nil
}

// CheckLimit compares the current calendar month's expense total for one
// category against the configured cap.
func (s *Service) CheckLimit(ctx context.Context, clientID, categoryID string) (LimitReport, error) {
	limit, err := s.limits.Limit(ctx, clientID, categoryID)
	if err != nil {
		return LimitReport{}, fmt.Errorf("load limit: %w", err)
	}
	start, end := s.currentMonth()
	return s.buildLimitReport(ctx, clientID, categoryID, limit, start, end)
}

// CheckAllLimits runs CheckLimit for every configured limit of the client.
// rng narrows the window; nil means the current calendar month.
func (s *Service) CheckAllLimits(ctx context.Context, clientID string, rng *report.DateRange) ([]LimitReport, error) {
	limits, err := s.limits.Limits(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}

	start, end := s.currentMonth()
	if rng != nil {
		start, end = rng.Start, rng.End
	}

	reports := make([]LimitReport, 0, len(limits))
	for _, l := range limits {
		r, err := s.buildLimitReport(ctx, clientID, l.CategoryID, l.Value, start, end)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (s *Service) buildLimitReport(ctx context.Context, clientID, categoryID string, limit core.Money, start, end time.Time) (LimitReport, error) {
	spent, err := s.limits.ExpenseTotal(ctx, clientID, categoryID, start, end)
	if err != nil {
		return LimitReport{}, fmt.Errorf("sum expenses: %w", err)
	}
	return LimitReport{
		CategoryID: categoryID,
		Limit:      limit,
		Spent:      spent,
		Exceeded:   spent.Cmp(limit.Decimal) >= 0,
	}, nil
}

func (s *Service) currentMonth() (time.Time, time.Time) {
	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}

// IsInvalidSpec reports whether an error from Submit was a validation
// rejection rather than an infrastructure failure.
func IsInvalidSpec(err error) bool {
	return errors.Is(err, report.ErrInvalidSpec)
}

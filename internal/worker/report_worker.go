package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"extrato/internal/amqp"
	"extrato/internal/report"
	"extrato/internal/task"
)

const (
	DefaultSoftTimeout = 25 * time.Minute
	DefaultHardTimeout = 30 * time.Minute
)

// ReportWorker executes report builds pulled off the queue. It claims the
// envelope, runs the builder under a soft deadline, and persists the terminal
// status atomically. Per-task failures are recorded in the envelope and never
// propagate to the consume loop.
type ReportWorker struct {
	store       task.Store
	builder     *report.Builder
	softTimeout time.Duration
	hardTimeout time.Duration
}

func NewReportWorker(store task.Store, builder *report.Builder, softTimeout, hardTimeout time.Duration) *ReportWorker {
	if softTimeout <= 0 {
		softTimeout = DefaultSoftTimeout
	}
	if hardTimeout <= softTimeout {
		hardTimeout = softTimeout + (DefaultHardTimeout - DefaultSoftTimeout)
	}
	return &ReportWorker{
		store:       store,
		builder:     builder,
		softTimeout: softTimeout,
		hardTimeout: hardTimeout,
	}
}

// HandleTask processes a single task message. A non-nil return means the
// delivery should be requeued; recorded build failures return nil.
func (w *ReportWorker) HandleTask(ctx context.Context, msg *amqp.TaskMessage) error {
	env, err := w.store.Claim(ctx, msg.TaskID)
	switch {
	case errors.Is(err, task.ErrAlreadyFinished):
		// Duplicate delivery of a finished task: the at-least-once queue
		// owes us these now and then. Ack and move on.
		slog.InfoContext(ctx, "Skipping already finished task", "task_id", msg.TaskID)
		return nil
	case errors.Is(err, task.ErrNotFound):
		slog.WarnContext(ctx, "Task message for unknown or expired envelope", "task_id", msg.TaskID)
		return nil
	case err != nil:
		return fmt.Errorf("claim task %s: %w", msg.TaskID, err)
	}

	slog.InfoContext(ctx, "Task claimed",
		"task_id", env.ID, "client_id", env.ClientID, "attempt", env.Attempts)

	status, result, failure, err := w.execute(ctx, env)
	if err != nil {
		// Shutdown mid-build: leave the envelope STARTED, requeue the
		// message and let the next delivery re-claim it.
		return err
	}

	if err := w.store.Complete(ctx, env.ID, status, result, failure); err != nil {
		if errors.Is(err, task.ErrAlreadyFinished) {
			return nil
		}
		return fmt.Errorf("complete task %s: %w", env.ID, err)
	}

	slog.InfoContext(ctx, "Task finished", "task_id", env.ID, "status", status)
	return nil
}

type buildOutcome struct {
	export report.Export
	err    error
}

// execute runs one build under the soft deadline, with the hard ceiling as a
// backstop for builds that do not honor cancellation.
func (w *ReportWorker) execute(ctx context.Context, env task.Envelope) (task.Status, *string, *task.Failure, error) {
	buildCtx, cancel := context.WithTimeout(ctx, w.softTimeout)
	defer cancel()

	done := make(chan buildOutcome, 1)
	go func() {
		export, err := w.builder.Build(buildCtx, env.ClientID, env.Request)
		done <- buildOutcome{export: export, err: err}
	}()

	hard := time.NewTimer(w.hardTimeout)
	defer hard.Stop()

	select {
	case out := <-done:
		return w.classify(ctx, env, out)
	case <-hard.C:
		// The build ignored the soft cancellation; abandon it. No partial
		// result ever leaves this path.
		cancel()
		slog.ErrorContext(ctx, "Task exceeded hard execution ceiling",
			"task_id", env.ID, "ceiling", w.hardTimeout)
		return task.StatusTimeout, nil, &task.Failure{
			Code:    task.CodeTimeout,
			Message: fmt.Sprintf("execution exceeded hard ceiling of %s", w.hardTimeout),
		}, nil
	}
}

func (w *ReportWorker) classify(ctx context.Context, env task.Envelope, out buildOutcome) (task.Status, *string, *task.Failure, error) {
	if out.err == nil {
		csv, err := out.export.CSV()
		if err != nil {
			return task.StatusFailure, nil, &task.Failure{
				Code:    task.CodeInternal,
				Message: fmt.Sprintf("render export: %v", err),
			}, nil
		}
		return task.StatusSuccess, &csv, nil, nil
	}

	// Distinguish our own deadline from a worker shutdown: shutdown must
	// requeue, not record a bogus timeout.
	if ctx.Err() != nil {
		return "", nil, nil, fmt.Errorf("build interrupted: %w", ctx.Err())
	}

	switch {
	case errors.Is(out.err, context.DeadlineExceeded):
		return task.StatusTimeout, nil, &task.Failure{
			Code:    task.CodeTimeout,
			Message: fmt.Sprintf("execution exceeded soft deadline of %s", w.softTimeout),
		}, nil
	case errors.Is(out.err, report.ErrEmptyRange):
		return task.StatusFailure, nil, &task.Failure{
			Code:    task.CodeEmptyRange,
			Message: out.err.Error(),
		}, nil
	case errors.Is(out.err, report.ErrSourceUnavailable):
		return task.StatusFailure, nil, &task.Failure{
			Code:    task.CodeSourceUnavailable,
			Message: out.err.Error(),
		}, nil
	default:
		return task.StatusFailure, nil, &task.Failure{
			Code:    task.CodeInternal,
			Message: out.err.Error(),
		}, nil
	}
}

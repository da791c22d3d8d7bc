package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"extrato/internal/report"
	"extrato/internal/task"
)

// TaskRepo persists task envelopes in SQLite and implements task.Store.
// Claim and Complete are single UPDATE statements guarded by the current
// status, which gives the compare-and-set semantics the state machine needs.
type TaskRepo struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

func NewTaskRepo(db *sql.DB, retention time.Duration) *TaskRepo {
	return &TaskRepo{db: db, retention: retention, now: time.Now}
}

func (r *TaskRepo) Create(ctx context.Context, env task.Envelope) error {
	if env.Status != task.StatusPending {
		return fmt.Errorf("create task: envelope must be PENDING, got %s", env.Status)
	}
	reqJSON, err := json.Marshal(env.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	now := r.now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO report_tasks (id, client_id, request, status, attempts, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		env.ID.String(), env.ClientID, string(reqJSON), string(env.Status),
		env.Attempts, env.CreatedAt.UTC().UnixNano(), now.Add(r.retention).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	slog.InfoContext(ctx, "Task enqueued", "task_id", env.ID, "client_id", env.ClientID)
	return nil
}

func (r *TaskRepo) Get(ctx context.Context, id uuid.UUID) (task.Envelope, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, client_id, request, status, attempts, created_at, started_at,
		       finished_at, result, error_code, error_message, expires_at
		FROM report_tasks WHERE id = ?`, id.String())
	env, expiresNs, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Envelope{}, task.ErrNotFound
	}
	if err != nil {
		return task.Envelope{}, err
	}
	// Past the retention window the envelope is gone even if the purge
	// has not run yet.
	if r.now().UTC().UnixNano() >= expiresNs {
		return task.Envelope{}, task.ErrNotFound
	}
	return env, nil
}

func (r *TaskRepo) Claim(ctx context.Context, id uuid.UUID) (task.Envelope, error) {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE report_tasks
		SET status = ?, started_at = ?, attempts = attempts + 1
		WHERE id = ? AND status IN (?, ?) AND expires_at > ?`,
		string(task.StatusStarted), now.UnixNano(),
		id.String(), string(task.StatusPending), string(task.StatusStarted), now.UnixNano(),
	)
	if err != nil {
		return task.Envelope{}, fmt.Errorf("claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return task.Envelope{}, fmt.Errorf("claim task rows: %w", err)
	}
	if affected == 0 {
		env, getErr := r.Get(ctx, id)
		if getErr != nil {
			return task.Envelope{}, getErr
		}
		if env.Status.Terminal() {
			return task.Envelope{}, task.ErrAlreadyFinished
		}
		return task.Envelope{}, task.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *TaskRepo) Complete(ctx context.Context, id uuid.UUID, status task.Status, result *string, failure *task.Failure) error {
	if !status.Terminal() {
		return fmt.Errorf("complete task: %s is not a terminal status", status)
	}
	probe := task.Envelope{Status: status, Result: result, Error: failure}
	if err := probe.CheckConsistency(); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}

	var errCode, errMessage sql.NullString
	if failure != nil {
		errCode = sql.NullString{String: string(failure.Code), Valid: true}
		errMessage = sql.NullString{String: failure.Message, Valid: true}
	}
	var resultVal sql.NullString
	if result != nil {
		resultVal = sql.NullString{String: *result, Valid: true}
	}

	// Status and payload land in one statement: no reader can ever observe
	// SUCCESS without its result.
	res, err := r.db.ExecContext(ctx, `
		UPDATE report_tasks
		SET status = ?, finished_at = ?, result = ?, error_code = ?, error_message = ?
		WHERE id = ? AND status = ?`,
		string(status), r.now().UTC().UnixNano(), resultVal, errCode, errMessage,
		id.String(), string(task.StatusStarted),
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete task rows: %w", err)
	}
	if affected == 0 {
		env, getErr := r.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if env.Status.Terminal() {
			return task.ErrAlreadyFinished
		}
		return fmt.Errorf("complete task %s: unexpected status %s", id, env.Status)
	}

	slog.InfoContext(ctx, "Task completed", "task_id", id, "status", status)
	return nil
}

func (r *TaskRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM report_tasks WHERE expires_at <= ?`, r.now().UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge expired tasks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired rows: %w", err)
	}
	if affected > 0 {
		slog.InfoContext(ctx, "Expired tasks purged", "count", affected)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (task.Envelope, int64, error) {
	var (
		env                    task.Envelope
		id, reqJSON, status    string
		createdNs, expiresNs   int64
		startedNs, finishedNs  sql.NullInt64
	)
	var result, errCode, errMessage sql.NullString

	err := row.Scan(&id, &env.ClientID, &reqJSON, &status, &env.Attempts,
		&createdNs, &startedNs, &finishedNs, &result, &errCode, &errMessage, &expiresNs)
	if err != nil {
		return task.Envelope{}, 0, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return task.Envelope{}, 0, fmt.Errorf("parse task id %q: %w", id, err)
	}
	env.ID = parsed

	var req report.Request
	if err := json.Unmarshal([]byte(reqJSON), &req); err != nil {
		return task.Envelope{}, 0, fmt.Errorf("unmarshal stored request: %w", err)
	}
	env.Request = req
	env.Status = task.Status(status)
	env.CreatedAt = time.Unix(0, createdNs).UTC()
	if startedNs.Valid {
		t := time.Unix(0, startedNs.Int64).UTC()
		env.StartedAt = &t
	}
	if finishedNs.Valid {
		t := time.Unix(0, finishedNs.Int64).UTC()
		env.FinishedAt = &t
	}
	if result.Valid {
		env.Result = &result.String
	}
	if errCode.Valid {
		env.Error = &task.Failure{Code: task.FailureCode(errCode.String), Message: errMessage.String}
	}
	return env, expiresNs, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"extrato/internal/core"
	"extrato/internal/report"
)

var ErrLimitNotFound = errors.New("limit not found")

// TransactionRepo is the read side of the transaction store plus the small
// write surface the ingestion path needs. It implements report.Source.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// Insert records a new transaction.
func (r *TransactionRepo) Insert(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("validate transaction: %w", err)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, client_id, amount, type, method_id, category_id, description, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID.String(), tx.ClientID, tx.Amount.Decimal.String(), string(tx.Type),
		tx.MethodID, tx.CategoryID, tx.Description, tx.Timestamp.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"id", tx.ID, "client_id", tx.ClientID, "type", tx.Type, "amount", tx.Amount.String())
	return nil
}

// Query implements report.Source. Every predicate is pushed into the SQL
// WHERE clause; amount comparisons go through a REAL cast, which is why the
// builder rechecks them exactly in memory.
func (r *TransactionRepo) Query(ctx context.Context, clientID string, start, end time.Time, predicates []report.FilterPredicate) ([]core.Transaction, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, client_id, amount, type, method_id, category_id, description, occurred_at
		FROM transactions
		WHERE client_id = ? AND occurred_at BETWEEN ? AND ?`)
	args := []any{clientID, start.UTC().UnixNano(), end.UTC().UnixNano()}

	for _, p := range predicates {
		cond, arg, ok := predicateSQL(p)
		if !ok {
			continue
		}
		sb.WriteString(" AND ")
		sb.WriteString(cond)
		args = append(args, arg)
	}
	sb.WriteString(" ORDER BY occurred_at ASC, id ASC")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// predicateSQL translates a validated predicate into a parameterized WHERE
// condition. Operators come from a closed enum, never from raw input.
func predicateSQL(p report.FilterPredicate) (string, any, bool) {
	op := string(p.Operator)
	switch p.Column {
	case report.ColumnMethod:
		return "method_id " + op + " ?", p.Value, true
	case report.ColumnCategory:
		return "category_id " + op + " ?", p.Value, true
	case report.ColumnType:
		return "type " + op + " ?", p.Value, true
	case report.ColumnAmount:
		return "CAST(amount AS REAL) " + op + " ?", p.Amount.InexactFloat64(), true
	}
	return "", nil, false
}

func scanTransaction(rows *sql.Rows) (core.Transaction, error) {
	var (
		tx         core.Transaction
		id, amount string
		typ        string
		occurredNs int64
	)
	if err := rows.Scan(&id, &tx.ClientID, &amount, &typ, &tx.MethodID, &tx.CategoryID, &tx.Description, &occurredNs); err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction id %q: %w", id, err)
	}
	tx.ID = parsed

	m, err := core.ParseMoney(amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}
	tx.Amount = m
	tx.Type = core.TransactionType(typ)
	tx.Timestamp = time.Unix(0, occurredNs).UTC()
	return tx, nil
}

// ExpenseTotal sums confirmed expenses for one client and category inside an
// inclusive range. Summation happens on exact decimals, not on SQLite REALs.
func (r *TransactionRepo) ExpenseTotal(ctx context.Context, clientID, categoryID string, start, end time.Time) (core.Money, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT amount FROM transactions
		WHERE client_id = ? AND category_id = ? AND type = ?
		  AND occurred_at BETWEEN ? AND ?`,
		clientID, categoryID, string(core.Expense),
		start.UTC().UnixNano(), end.UTC().UnixNano(),
	)
	if err != nil {
		return core.Money{}, fmt.Errorf("query expense total: %w", err)
	}
	defer rows.Close()

	var total core.Money
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return core.Money{}, fmt.Errorf("scan amount: %w", err)
		}
		m, err := core.ParseMoney(raw)
		if err != nil {
			return core.Money{}, fmt.Errorf("parse stored amount %q: %w", raw, err)
		}
		total = total.Add(m)
	}
	if err := rows.Err(); err != nil {
		return core.Money{}, fmt.Errorf("iterate amounts: %w", err)
	}
	return total, nil
}

// SetLimit creates or replaces a per-category spending limit.
func (r *TransactionRepo) SetLimit(ctx context.Context, l core.Limit) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("validate limit: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO limits (client_id, category_id, limit_value)
		VALUES (?, ?, ?)
		ON CONFLICT (client_id, category_id) DO UPDATE SET limit_value = excluded.limit_value`,
		l.ClientID, l.CategoryID, l.Value.Decimal.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert limit: %w", err)
	}
	return nil
}

// Limit returns the configured cap for one category.
func (r *TransactionRepo) Limit(ctx context.Context, clientID, categoryID string) (core.Money, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT limit_value FROM limits WHERE client_id = ? AND category_id = ?`,
		clientID, categoryID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, ErrLimitNotFound
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("query limit: %w", err)
	}
	m, err := core.ParseMoney(raw)
	if err != nil {
		return core.Money{}, fmt.Errorf("parse stored limit %q: %w", raw, err)
	}
	return m, nil
}

// Limits lists every configured limit for a client, category ascending.
func (r *TransactionRepo) Limits(ctx context.Context, clientID string) ([]core.Limit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT client_id, category_id, limit_value FROM limits WHERE client_id = ? ORDER BY category_id ASC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("query limits: %w", err)
	}
	defer rows.Close()

	var limits []core.Limit
	for rows.Next() {
		var l core.Limit
		var raw string
		if err := rows.Scan(&l.ClientID, &l.CategoryID, &raw); err != nil {
			return nil, fmt.Errorf("scan limit: %w", err)
		}
		m, err := core.ParseMoney(raw)
		if err != nil {
			return nil, fmt.Errorf("parse stored limit %q: %w", raw, err)
		}
		l.Value = m
		limits = append(limits, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate limits: %w", err)
	}
	return limits, nil
}

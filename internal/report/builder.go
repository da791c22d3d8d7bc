package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"extrato/internal/core"
)

var (
	ErrEmptyRange        = errors.New("empty date range")
	ErrSourceUnavailable = errors.New("transaction source unavailable")
)

// Source is the read-only transaction query interface the builder consumes.
// Implementations push the predicates into their own query when they can;
// the builder re-checks them regardless.
type Source interface {
	Query(ctx context.Context, clientID string, start, end time.Time, predicates []FilterPredicate) ([]core.Transaction, error)
}

// Export is the rendered tabular artifact of one report build.
type Export struct {
	Columns []string
	Rows    [][]string
}

// Builder turns a resolved Request plus the client's transactions into an
// Export. It is a pure function of its inputs: rebuilding the same request
// against an unchanged source yields byte-identical output.
type Builder struct {
	source Source
	loc    *time.Location
}

// NewBuilder creates a Builder. loc decides which wall clock calendar
// boundaries (day, ISO week, month, year) are computed in; nil means UTC.
func NewBuilder(source Source, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{source: source, loc: loc}
}

var (
	itemizedColumns = []string{"timestamp", "description", "amount", "category", "method", "type"}
	bucketedColumns = []string{"bucket", "income", "expense", "net"}
)

// Build executes the five build steps for one client: range check, fetch,
// in-memory recheck, itemize or bucket, render.
func (b *Builder) Build(ctx context.Context, clientID string, req Request) (Export, error) {
	if dayStart(req.Range.Start).After(dayStart(req.Range.End)) {
		return Export{}, fmt.Errorf("%w: start %s after end %s", ErrEmptyRange,
			req.Range.Start.Format("2006-01-02"), req.Range.End.Format("2006-01-02"))
	}

	txs, err := b.source.Query(ctx, clientID, req.Range.Start, req.Range.End, req.Filters)
	if err != nil {
		if ctx.Err() != nil {
			return Export{}, ctx.Err()
		}
		return Export{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	matched := txs[:0:0]
	for _, tx := range txs {
		if b.matches(tx, req) {
			matched = append(matched, tx)
		}
	}

	slog.DebugContext(ctx, "report build fetched transactions",
		"client_id", clientID, "fetched", len(txs), "matched", len(matched))

	if err := ctx.Err(); err != nil {
		return Export{}, err
	}

	if !req.Aggregation.Activated {
		return b.itemize(matched), nil
	}
	return b.bucket(matched, req.Aggregation.Mode), nil
}

func (b *Builder) matches(tx core.Transaction, req Request) bool {
	ts := tx.Timestamp.In(b.loc)
	if ts.Before(req.Range.Start) || ts.After(req.Range.End) {
		return false
	}
	for _, p := range req.Filters {
		if !p.Matches(tx) {
			return false
		}
	}
	return true
}

// itemize emits one row per transaction, timestamp ascending. Ties break on
// transaction id so identical inputs always render identically.
func (b *Builder) itemize(txs []core.Transaction) Export {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		}
		return txs[i].ID.String() < txs[j].ID.String()
	})

	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, []string{
			tx.Timestamp.In(b.loc).Format(time.RFC3339),
			tx.Description,
			tx.Amount.String(),
			tx.CategoryID,
			tx.MethodID,
			string(tx.Type),
		})
	}
	return Export{Columns: itemizedColumns, Rows: rows}
}

type bucketTotals struct {
	income  core.Money
	expense core.Money
}

// bucket groups transactions by calendar boundary and emits one row per
// non-empty bucket with per-type sums. Empty buckets are omitted; long sparse
// ranges stay small.
func (b *Builder) bucket(txs []core.Transaction, mode Mode) Export {
	totals := make(map[time.Time]*bucketTotals)
	for _, tx := range txs {
		key := b.bucketStart(tx.Timestamp, mode)
		bt, ok := totals[key]
		if !ok {
			bt = &bucketTotals{}
			totals[key] = bt
		}
		switch tx.Type {
		case core.Income:
			bt.income = bt.income.Add(tx.Amount)
		default:
			bt.expense = bt.expense.Add(tx.Amount)
		}
	}

	starts := make([]time.Time, 0, len(totals))
	for k := range totals {
		starts = append(starts, k)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	rows := make([][]string, 0, len(starts))
	for _, start := range starts {
		bt := totals[start]
		net := bt.income.Add(core.MoneyFromDecimal(bt.expense.Neg()))
		rows = append(rows, []string{
			start.Format("2006-01-02"),
			bt.income.String(),
			bt.expense.String(),
			net.String(),
		})
	}
	return Export{Columns: bucketedColumns, Rows: rows}
}

// bucketStart maps a timestamp onto the first instant of its bucket.
// ISO weeks start on Monday.
func (b *Builder) bucketStart(t time.Time, mode Mode) time.Time {
	t = t.In(b.loc)
	y, m, d := t.Date()
	switch mode {
	case ModeDay:
		return time.Date(y, m, d, 0, 0, 0, 0, b.loc)
	case ModeWeek:
		day := time.Date(y, m, d, 0, 0, 0, 0, b.loc)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case ModeYear:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, b.loc)
	default: // month
		return time.Date(y, m, 1, 0, 0, 0, 0, b.loc)
	}
}

// CSV renders the export as an RFC 4180 document with a header row.
func (e Export) CSV() (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(e.Columns); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, row := range e.Rows {
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return sb.String(), nil
}

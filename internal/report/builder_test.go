package report

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"extrato/internal/core"
)

type stubSource struct {
	txs []core.Transaction
	err error

	gotStart, gotEnd time.Time
	gotPredicates    []FilterPredicate
}

func (s *stubSource) Query(_ context.Context, _ string, start, end time.Time, predicates []FilterPredicate) ([]core.Transaction, error) {
	s.gotStart, s.gotEnd = start, end
	s.gotPredicates = predicates
	if s.err != nil {
		return nil, s.err
	}
	return s.txs, nil
}

func tx(t *testing.T, ts string, amount string, typ core.TransactionType, category string) core.Transaction {
	t.Helper()
	when, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", ts, err)
	}
	m, err := core.ParseMoney(amount)
	if err != nil {
		t.Fatalf("bad test amount %q: %v", amount, err)
	}
	return core.Transaction{
		ID:         uuid.New(),
		ClientID:   "client-1",
		Amount:     m,
		Type:       typ,
		CategoryID: category,
		MethodID:   "pix",
		Timestamp:  when,
	}
}

func mustRequest(t *testing.T, raw RawRequest) Request {
	t.Helper()
	req, err := NewRequest(raw, testNow)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestBuildItemizedSortedAndComplete(t *testing.T) {
	src := &stubSource{txs: []core.Transaction{
		tx(t, "2025-06-10T18:00:00Z", "50.00", core.Expense, "food"),
		tx(t, "2025-06-02T09:00:00Z", "20.00", core.Expense, "food"),
		tx(t, "2025-06-05T12:00:00Z", "30.00", core.Income, "salary"),
	}}
	b := NewBuilder(src, time.UTC)

	req := mustRequest(t, RawRequest{
		StartDate:   "01/06",
		EndDate:     "30/06",
		Aggregation: &RawAggregation{Activated: false},
	})

	export, err := b.Build(context.Background(), "client-1", req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(export.Rows) != 3 {
		t.Fatalf("row count = %d, want 3 (no rows added or dropped)", len(export.Rows))
	}
	var prev time.Time
	for i, row := range export.Rows {
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			t.Fatalf("row %d timestamp %q: %v", i, row[0], err)
		}
		if ts.Before(prev) {
			t.Errorf("rows not sorted ascending at index %d", i)
		}
		prev = ts
	}
}

func TestBuildSingleMonthBucket(t *testing.T) {
	// Three June transactions of 20, 30 and 50 collapse into one month
	// bucket totalling 100.00.
	src := &stubSource{txs: []core.Transaction{
		tx(t, "2025-06-01T10:00:00Z", "20.0", core.Expense, "food"),
		tx(t, "2025-06-15T10:00:00Z", "30.0", core.Expense, "food"),
		tx(t, "2025-06-30T10:00:00Z", "50.0", core.Expense, "transport"),
	}}
	b := NewBuilder(src, time.UTC)

	req := mustRequest(t, RawRequest{
		StartDate:   "01/06",
		EndDate:     "30/06",
		Aggregation: &RawAggregation{Mode: "month", Activated: true},
	})

	export, err := b.Build(context.Background(), "client-1", req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(export.Rows) != 1 {
		t.Fatalf("bucket count = %d, want 1", len(export.Rows))
	}
	row := export.Rows[0]
	if row[0] != "2025-06-01" {
		t.Errorf("bucket start = %q, want 2025-06-01", row[0])
	}
	if row[2] != "100.00" {
		t.Errorf("expense total = %q, want 100.00", row[2])
	}
}

func TestBuildAggregationIsSumPreserving(t *testing.T) {
	txs := []core.Transaction{
		tx(t, "2025-06-01T10:00:00Z", "19.99", core.Expense, "a"),
		tx(t, "2025-06-02T10:00:00Z", "0.01", core.Expense, "a"),
		tx(t, "2025-06-20T10:00:00Z", "35.10", core.Expense, "b"),
		tx(t, "2025-07-03T10:00:00Z", "44.90", core.Expense, "b"),
		tx(t, "2025-07-04T10:00:00Z", "500.00", core.Income, "salary"),
	}
	raw := RawRequest{StartDate: "01/06", EndDate: "31/07"}

	for _, mode := range []string{"day", "week", "month", "year"} {
		t.Run(mode, func(t *testing.T) {
			b := NewBuilder(&stubSource{txs: txs}, time.UTC)
			req := mustRequest(t, RawRequest{
				StartDate:   raw.StartDate,
				EndDate:     raw.EndDate,
				Aggregation: &RawAggregation{Mode: mode, Activated: true},
			})
			export, err := b.Build(context.Background(), "client-1", req)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}

			var income, expense core.Money
			for _, row := range export.Rows {
				in, err := core.ParseMoney(row[1])
				if err != nil {
					t.Fatalf("parse income %q: %v", row[1], err)
				}
				ex, err := core.ParseMoney(row[2])
				if err != nil {
					t.Fatalf("parse expense %q: %v", row[2], err)
				}
				income = income.Add(in)
				expense = expense.Add(ex)
			}
			if got := expense.String(); got != "100.00" {
				t.Errorf("mode %s: expense sum = %s, want 100.00", mode, got)
			}
			if got := income.String(); got != "500.00" {
				t.Errorf("mode %s: income sum = %s, want 500.00", mode, got)
			}
		})
	}
}

func TestBuildWeekBucketsStartMonday(t *testing.T) {
	// 2025-06-11 is a Wednesday; its ISO week starts Monday 2025-06-09.
	src := &stubSource{txs: []core.Transaction{
		tx(t, "2025-06-11T08:00:00Z", "10.00", core.Expense, "a"),
	}}
	b := NewBuilder(src, time.UTC)
	req := mustRequest(t, RawRequest{
		StartDate:   "01/06",
		EndDate:     "30/06",
		Aggregation: &RawAggregation{Mode: "week", Activated: true},
	})
	export, err := b.Build(context.Background(), "client-1", req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(export.Rows) != 1 || export.Rows[0][0] != "2025-06-09" {
		t.Fatalf("week bucket = %v, want single row starting 2025-06-09", export.Rows)
	}
}

func TestBuildBucketBoundaryFollowsConfiguredTimezone(t *testing.T) {
	// 2025-06-10T23:30:00Z is already June 11th in UTC+2.
	late := tx(t, "2025-06-10T23:30:00Z", "10.00", core.Expense, "a")
	plus2 := time.FixedZone("UTC+2", 2*3600)

	raw := RawRequest{
		StartDate:   "01/06",
		EndDate:     "30/06",
		Aggregation: &RawAggregation{Mode: "day", Activated: true},
	}

	utcExport, err := NewBuilder(&stubSource{txs: []core.Transaction{late}}, time.UTC).
		Build(context.Background(), "client-1", mustRequest(t, raw))
	if err != nil {
		t.Fatal(err)
	}
	localReq, err := NewRequest(raw, testNow.In(plus2))
	if err != nil {
		t.Fatal(err)
	}
	localExport, err := NewBuilder(&stubSource{txs: []core.Transaction{late}}, plus2).
		Build(context.Background(), "client-1", localReq)
	if err != nil {
		t.Fatal(err)
	}

	if utcExport.Rows[0][0] != "2025-06-10" {
		t.Errorf("UTC bucket = %q, want 2025-06-10", utcExport.Rows[0][0])
	}
	if localExport.Rows[0][0] != "2025-06-11" {
		t.Errorf("UTC+2 bucket = %q, want 2025-06-11", localExport.Rows[0][0])
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	txs := []core.Transaction{
		tx(t, "2025-06-01T10:00:00Z", "20.00", core.Expense, "a"),
		tx(t, "2025-06-01T10:00:00Z", "30.00", core.Expense, "b"),
		tx(t, "2025-06-02T10:00:00Z", "10.00", core.Income, "c"),
	}
	req := mustRequest(t, RawRequest{
		StartDate:   "01/06",
		EndDate:     "30/06",
		Aggregation: &RawAggregation{Activated: false},
	})

	render := func() string {
		b := NewBuilder(&stubSource{txs: append([]core.Transaction(nil), txs...)}, time.UTC)
		export, err := b.Build(context.Background(), "client-1", req)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		csv, err := export.CSV()
		if err != nil {
			t.Fatalf("CSV: %v", err)
		}
		return csv
	}

	first := render()
	for i := 0; i < 5; i++ {
		if again := render(); again != first {
			t.Fatalf("render %d differs from first:\n%s\nvs\n%s", i, again, first)
		}
	}
}

func TestBuildEmptyResultIsSuccess(t *testing.T) {
	b := NewBuilder(&stubSource{}, time.UTC)
	req := mustRequest(t, RawRequest{DaysBefore: "7"})

	export, err := b.Build(context.Background(), "client-1", req)
	if err != nil {
		t.Fatalf("empty result must not be an error, got %v", err)
	}
	if len(export.Rows) != 0 {
		t.Errorf("rows = %d, want 0", len(export.Rows))
	}
	csv, err := export.CSV()
	if err != nil {
		t.Fatal(err)
	}
	if csv == "" {
		t.Error("even an empty export renders a header")
	}
}

func TestBuildEmptyRange(t *testing.T) {
	b := NewBuilder(&stubSource{}, time.UTC)
	req := mustRequest(t, RawRequest{StartDate: "30/06", EndDate: "01/06"})

	_, err := b.Build(context.Background(), "client-1", req)
	if !errors.Is(err, ErrEmptyRange) {
		t.Fatalf("error = %v, want ErrEmptyRange", err)
	}
}

func TestBuildSourceFailure(t *testing.T) {
	b := NewBuilder(&stubSource{err: fmt.Errorf("connection refused")}, time.UTC)
	req := mustRequest(t, RawRequest{DaysBefore: "7"})

	_, err := b.Build(context.Background(), "client-1", req)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("error = %v, want ErrSourceUnavailable", err)
	}
}

func TestBuildPushesPredicatesToSource(t *testing.T) {
	src := &stubSource{}
	b := NewBuilder(src, time.UTC)
	req := mustRequest(t, RawRequest{
		DaysBefore: "30",
		Filters: []RawFilter{
			{Column: "amount", Operator: ">=", Value: "10"},
			{Column: "type", Operator: "=", Value: "Expense"},
		},
	})

	if _, err := b.Build(context.Background(), "client-1", req); err != nil {
		t.Fatal(err)
	}
	if len(src.gotPredicates) != 2 {
		t.Errorf("predicates pushed = %d, want 2", len(src.gotPredicates))
	}
	if !src.gotStart.Equal(req.Range.Start) || !src.gotEnd.Equal(req.Range.End) {
		t.Errorf("range not pushed to source: got [%v, %v]", src.gotStart, src.gotEnd)
	}
}

func TestBuildRechecksFiltersInMemory(t *testing.T) {
	// A misbehaving source returning out-of-filter rows must not leak them
	// into the export.
	src := &stubSource{txs: []core.Transaction{
		tx(t, "2025-06-10T10:00:00Z", "5.00", core.Expense, "food"),   // below filter
		tx(t, "2025-06-10T11:00:00Z", "50.00", core.Expense, "food"),  // matches
		tx(t, "2024-01-01T00:00:00Z", "99.00", core.Expense, "food"),  // out of range
	}}
	b := NewBuilder(src, time.UTC)
	req := mustRequest(t, RawRequest{
		StartDate:   "01/06",
		EndDate:     "30/06",
		Filters:     []RawFilter{{Column: "amount", Operator: ">=", Value: "10"}},
		Aggregation: &RawAggregation{Activated: false},
	})

	export, err := b.Build(context.Background(), "client-1", req)
	if err != nil {
		t.Fatal(err)
	}
	if len(export.Rows) != 1 {
		t.Fatalf("rows = %d, want 1 (in-memory recheck must drop strays)", len(export.Rows))
	}
	if export.Rows[0][2] != "50.00" {
		t.Errorf("surviving row amount = %q, want 50.00", export.Rows[0][2])
	}
}

func TestBuildHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(&stubSource{err: ctx.Err()}, time.UTC)
	req := mustRequest(t, RawRequest{DaysBefore: "7"})

	_, err := b.Build(ctx, "client-1", req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

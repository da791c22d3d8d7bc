package report

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"extrato/internal/core"
)

const (
	ColumnMethod   Column = "method"
	ColumnCategory Column = "category"
	ColumnType     Column = "type"
	ColumnAmount   Column = "amount"
)

const (
	OpEq Operator = "="
	OpNe Operator = "!="
	OpGe Operator = ">="
	OpGt Operator = ">"
	OpLe Operator = "<="
	OpLt Operator = "<"
)

const (
	ModeDay   Mode = "day"
	ModeWeek  Mode = "week"
	ModeMonth Mode = "month"
	ModeYear  Mode = "year"
)

var ErrInvalidSpec = errors.New("invalid report spec")

type (
	Column   string
	Operator string
	Mode     string

	// RawRequest is the untyped request as it arrives from the upstream
	// producer (bot or API). Date strings use dd/mm or dd/mm/yyyy; all
	// numbers travel as strings, mirroring the submission payload.
	RawRequest struct {
		StartDate   string          `json:"start_date,omitempty"`
		EndDate     string          `json:"end_date,omitempty"`
		DaysBefore  string          `json:"days_before,omitempty"`
		Filters     []RawFilter     `json:"filter,omitempty"`
		Aggregation *RawAggregation `json:"aggr,omitempty"`
	}

	RawFilter struct {
		Column   string `json:"column"`
		Operator string `json:"operator"`
		Value    string `json:"value"`
	}

	RawAggregation struct {
		Mode      string `json:"mode"`
		Activated bool   `json:"activated"`
	}

	// FilterPredicate is a validated single condition. Predicates combine
	// with logical AND. Amount holds the parsed numeric value when
	// Column == amount and is meaningless otherwise.
	FilterPredicate struct {
		Column   Column     `json:"column"`
		Operator Operator   `json:"operator"`
		Value    string     `json:"value"`
		Amount   core.Money `json:"amount"`
	}

	// DateRange is a fully resolved inclusive day range. Start and End mark
	// the first and last covered instants.
	DateRange struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	}

	Aggregation struct {
		Mode      Mode `json:"mode"`
		Activated bool `json:"activated"`
	}

	// Request is a resolved, immutable report request. Only NewRequest
	// produces one; nothing downstream revalidates.
	Request struct {
		Range       DateRange         `json:"range"`
		Filters     []FilterPredicate `json:"filters,omitempty"`
		Aggregation Aggregation       `json:"aggregation"`
	}
)

// NewRequest validates a raw request and resolves every default against the
// supplied reference time. The reference time's location decides what "today"
// means for relative windows and omitted years.
func NewRequest(raw RawRequest, now time.Time) (Request, error) {
	rng, err := resolveRange(raw, now)
	if err != nil {
		return Request{}, err
	}

	filters := make([]FilterPredicate, 0, len(raw.Filters))
	for _, rf := range raw.Filters {
		p, err := resolveFilter(rf)
		if err != nil {
			return Request{}, err
		}
		filters = append(filters, p)
	}
	if len(filters) == 0 {
		filters = nil
	}

	aggr, err := resolveAggregation(raw.Aggregation)
	if err != nil {
		return Request{}, err
	}

	return Request{Range: rng, Filters: filters, Aggregation: aggr}, nil
}

func resolveRange(raw RawRequest, now time.Time) (DateRange, error) {
	hasRelative := strings.TrimSpace(raw.DaysBefore) != ""
	hasExplicit := strings.TrimSpace(raw.StartDate) != ""

	switch {
	case hasRelative && hasExplicit:
		return DateRange{}, fmt.Errorf("%w: days_before and start_date are mutually exclusive", ErrInvalidSpec)
	case !hasRelative && !hasExplicit:
		return DateRange{}, fmt.Errorf("%w: start_date or days_before must be provided", ErrInvalidSpec)
	}

	if hasRelative {
		days, err := strconv.Atoi(strings.TrimSpace(raw.DaysBefore))
		if err != nil || days < 0 {
			return DateRange{}, fmt.Errorf("%w: days_before must be a non-negative integer, got %q", ErrInvalidSpec, raw.DaysBefore)
		}
		if raw.EndDate != "" {
			return DateRange{}, fmt.Errorf("%w: end_date cannot accompany days_before", ErrInvalidSpec)
		}
		// Day 0 is today: start and end collapse onto the same day.
		end := dayStart(now)
		start := end.AddDate(0, 0, -days)
		return DateRange{Start: start, End: dayEnd(end)}, nil
	}

	start, err := parseDate(raw.StartDate, now.Year(), now.Location())
	if err != nil {
		return DateRange{}, err
	}
	endLiteral := strings.TrimSpace(raw.EndDate)
	if endLiteral == "" {
		// A lone start date means a single-day range.
		return DateRange{Start: start, End: dayEnd(start)}, nil
	}
	// When the end's year is omitted it follows the start's resolved year,
	// never the current one.
	end, err := parseDate(endLiteral, start.Year(), now.Location())
	if err != nil {
		return DateRange{}, err
	}
	return DateRange{Start: start, End: dayEnd(end)}, nil
}

// parseDate accepts dd/mm/yyyy and dd/mm, filling the year from defaultYear
// when omitted.
func parseDate(literal string, defaultYear int, loc *time.Location) (time.Time, error) {
	literal = strings.TrimSpace(literal)
	if t, err := time.ParseInLocation("02/01/2006", literal, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("02/01", literal, loc); err == nil {
		return time.Date(defaultYear, t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse date %q (want dd/mm or dd/mm/yyyy)", ErrInvalidSpec, literal)
}

func resolveFilter(rf RawFilter) (FilterPredicate, error) {
	col := Column(strings.TrimSpace(rf.Column))
	op := Operator(strings.TrimSpace(rf.Operator))

	switch op {
	case OpEq, OpNe, OpGe, OpGt, OpLe, OpLt:
	default:
		return FilterPredicate{}, fmt.Errorf("%w: unknown operator %q", ErrInvalidSpec, rf.Operator)
	}

	p := FilterPredicate{Column: col, Operator: op, Value: strings.TrimSpace(rf.Value)}
	switch col {
	case ColumnAmount:
		amount, err := core.ParseMoney(p.Value)
		if err != nil {
			return FilterPredicate{}, fmt.Errorf("%w: amount filter needs a numeric value, got %q", ErrInvalidSpec, rf.Value)
		}
		p.Amount = amount
	case ColumnMethod, ColumnCategory, ColumnType:
		// Ordering comparisons on identifier columns are meaningless.
		if op != OpEq && op != OpNe {
			return FilterPredicate{}, fmt.Errorf("%w: operator %q not valid for column %q", ErrInvalidSpec, rf.Operator, rf.Column)
		}
		if p.Value == "" {
			return FilterPredicate{}, fmt.Errorf("%w: empty value for column %q", ErrInvalidSpec, rf.Column)
		}
		if col == ColumnType {
			if _, err := core.ParseTransactionType(p.Value); err != nil {
				return FilterPredicate{}, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidSpec, rf.Value)
			}
		}
	default:
		return FilterPredicate{}, fmt.Errorf("%w: unknown column %q", ErrInvalidSpec, rf.Column)
	}
	return p, nil
}

func resolveAggregation(raw *RawAggregation) (Aggregation, error) {
	if raw == nil {
		return Aggregation{Mode: ModeMonth, Activated: true}, nil
	}
	if !raw.Activated {
		return Aggregation{Activated: false}, nil
	}
	mode := Mode(strings.ToLower(strings.TrimSpace(raw.Mode)))
	switch mode {
	case ModeDay, ModeWeek, ModeMonth, ModeYear:
		return Aggregation{Mode: mode, Activated: true}, nil
	default:
		return Aggregation{}, fmt.Errorf("%w: invalid aggregation mode %q", ErrInvalidSpec, raw.Mode)
	}
}

// Matches re-checks a predicate in memory. The storage layer pushes
// predicates into its query with float comparisons; this pass applies the
// exact decimal semantics.
func (p FilterPredicate) Matches(tx core.Transaction) bool {
	switch p.Column {
	case ColumnAmount:
		cmp := tx.Amount.Cmp(p.Amount.Decimal)
		switch p.Operator {
		case OpEq:
			return cmp == 0
		case OpNe:
			return cmp != 0
		case OpGe:
			return cmp >= 0
		case OpGt:
			return cmp > 0
		case OpLe:
			return cmp <= 0
		case OpLt:
			return cmp < 0
		}
	case ColumnMethod:
		return equalityMatch(p.Operator, tx.MethodID, p.Value)
	case ColumnCategory:
		return equalityMatch(p.Operator, tx.CategoryID, p.Value)
	case ColumnType:
		return equalityMatch(p.Operator, string(tx.Type), p.Value)
	}
	return false
}

func equalityMatch(op Operator, have, want string) bool {
	if op == OpNe {
		return have != want
	}
	return have == want
}

// Days returns how many calendar days the range spans, inclusive.
func (r DateRange) Days() int {
	return int(dayStart(r.End).Sub(dayStart(r.Start))/(24*time.Hour)) + 1
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dayEnd(t time.Time) time.Time {
	return dayStart(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Expense TransactionType = "Expense"
	Income  TransactionType = "Income"
)

type (
	TransactionType string

	// Money is an exact monetary amount. Arithmetic goes through decimal so
	// repeated summation never accumulates float error.
	Money struct {
		decimal.Decimal
	}

	// Transaction is one financial movement recorded for a client.
	// Read-only from the report engine's perspective.
	Transaction struct {
		ID          uuid.UUID
		ClientID    string
		Amount      Money
		Type        TransactionType
		MethodID    string
		CategoryID  string
		Description string
		Timestamp   time.Time
	}

	// Limit is a per-category monthly spending cap configured by a client.
	Limit struct {
		ClientID   string
		CategoryID string
		Value      Money
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidType     = errors.New("invalid transaction type")
	ErrMissingClient   = errors.New("missing client id")
	ErrZeroTimestamp   = errors.New("timestamp cannot be zero")
	ErrMissingCategory = errors.New("missing category id")
)

// ParseMoney parses a decimal string into Money. It accepts both dot and
// comma decimal separators.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return Money{d}, nil
}

// MoneyFromDecimal wraps a raw decimal as Money.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{d}
}

// Add returns the sum of two amounts.
func (m Money) Add(other Money) Money {
	return Money{m.Decimal.Add(other.Decimal)}
}

// String renders the amount as a fixed two-decimal string, the only format
// exports ever use.
func (m Money) String() string {
	return m.Decimal.StringFixed(2)
}

// ParseTransactionType validates a raw transaction type string.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case Expense, Income:
		return TransactionType(s), nil
	default:
		return "", ErrInvalidType
	}
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ClientID) == "" {
		return ErrMissingClient
	}
	if _, err := ParseTransactionType(string(t.Type)); err != nil {
		return err
	}
	// Confirmed expenses and incomes always carry an amount.
	if t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if t.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

func (l Limit) Validate() error {
	if strings.TrimSpace(l.ClientID) == "" {
		return ErrMissingClient
	}
	if strings.TrimSpace(l.CategoryID) == "" {
		return ErrMissingCategory
	}
	if l.Value.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

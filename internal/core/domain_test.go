package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain decimal", input: "12.34", want: "12.34"},
		{name: "comma separator", input: "12,34", want: "12.34"},
		{name: "integer", input: "100", want: "100.00"},
		{name: "negative", input: "-42.5", want: "-42.50"},
		{name: "three decimals kept exact", input: "0.125", want: "0.13"},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "double separator", input: "1.2.3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMoney(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMoney(%q) expected error, got %v", tt.input, m)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMoney(%q) unexpected error: %v", tt.input, err)
			}
			if got := m.String(); got != tt.want {
				t.Errorf("ParseMoney(%q).String() = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMoneyAddIsExact(t *testing.T) {
	// 0.1 + 0.2 is the classic float trap; decimal must stay exact.
	a, _ := ParseMoney("0.1")
	b, _ := ParseMoney("0.2")
	if got := a.Add(b).String(); got != "0.30" {
		t.Errorf("0.1 + 0.2 = %q, want %q", got, "0.30")
	}
}

func TestParseTransactionType(t *testing.T) {
	for _, valid := range []string{"Expense", "Income"} {
		if _, err := ParseTransactionType(valid); err != nil {
			t.Errorf("ParseTransactionType(%q) unexpected error: %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "expense", "Transfer", "despesa"} {
		if _, err := ParseTransactionType(invalid); err == nil {
			t.Errorf("ParseTransactionType(%q) expected error", invalid)
		}
	}
}

func TestTransactionValidate(t *testing.T) {
	amount, _ := ParseMoney("25.00")
	valid := Transaction{
		ID:        uuid.New(),
		ClientID:  "client-1",
		Amount:    amount,
		Type:      Expense,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid transaction rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(tx *Transaction)
		want   error
	}{
		{"missing client", func(tx *Transaction) { tx.ClientID = "  " }, ErrMissingClient},
		{"bad type", func(tx *Transaction) { tx.Type = "Other" }, ErrInvalidType},
		{"zero amount", func(tx *Transaction) { tx.Amount = Money{} }, ErrInvalidAmount},
		{"zero timestamp", func(tx *Transaction) { tx.Timestamp = time.Time{} }, ErrZeroTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := valid
			tt.mutate(&tx)
			if err := tx.Validate(); err != tt.want {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLimitValidate(t *testing.T) {
	v, _ := ParseMoney("300")
	l := Limit{ClientID: "c", CategoryID: "groceries", Value: v}
	if err := l.Validate(); err != nil {
		t.Fatalf("valid limit rejected: %v", err)
	}

	neg, _ := ParseMoney("-1")
	bad := []Limit{
		{ClientID: "", CategoryID: "x", Value: v},
		{ClientID: "c", CategoryID: "", Value: v},
		{ClientID: "c", CategoryID: "x", Value: neg},
	}
	for i, l := range bad {
		if err := l.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

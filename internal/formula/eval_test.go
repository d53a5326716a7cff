package formula

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestEvalArithmetic(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"1 + 2", "3"},
		{"2 + 3 * 4", "14"},
		{"(2 + 3) * 4", "20"},
		{"10 / 4", "2.5"},
		{"-5 + 3", "-2"},
		{"--5", "5"},
		{"+5", "5"},
		{"2 * -3", "-6"},
		{"0.1 + 0.2", "0.3"},
		{"(100) - (99.99)", "0.01"},
		{"((1))", "1"},
		{"1 - 2 - 3", "-4"},
		{"100 / 10 / 2", "5"},
	}
	for _, tt := range tests {
		got, err := EvalArithmetic(tt.expr)
		if err != nil {
			t.Errorf("EvalArithmetic(%q) error: %v", tt.expr, err)
			continue
		}
		want, _ := decimal.NewFromString(tt.want)
		if !got.Equal(want) {
			t.Errorf("EvalArithmetic(%q) = %s, want %s", tt.expr, got, tt.want)
		}
	}
}

func TestEvalArithmetic_DecimalExact(t *testing.T) {
	// The float64 classic: 0.1 + 0.2 must be exactly 0.3.
	got, err := EvalArithmetic("0.1 + 0.2")
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if got.String() != "0.3" {
		t.Errorf("0.1 + 0.2 = %s, want 0.3", got)
	}
}

func TestEvalArithmetic_DivisionByZero(t *testing.T) {
	_, err := EvalArithmetic("1 / 0")
	if !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("err = %v, want ErrDivisionByZero", err)
	}
	_, err = EvalArithmetic("1 / (2 - 2)")
	if !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("err = %v, want ErrDivisionByZero", err)
	}
}

func TestEvalArithmetic_Malformed(t *testing.T) {
	for _, expr := range []string{"", "1 +", "(1", "1)", "1 2", "* 3", "1..2", "."} {
		if _, err := EvalArithmetic(expr); err == nil {
			t.Errorf("EvalArithmetic(%q) succeeded, want error", expr)
		}
	}
}

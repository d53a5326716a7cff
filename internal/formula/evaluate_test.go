package formula

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/types"
)

func mustEval(t *testing.T, f types.Formula, row docstore.Document, env Env) decimal.Decimal {
	t.Helper()
	got, err := EvaluateRow(f, Parse(f.FormulaText), row, env)
	if err != nil {
		t.Fatalf("EvaluateRow(%s): %v", f.LogicNameKey, err)
	}
	return got
}

func TestEvaluateRow_QualifiedFromRow(t *testing.T) {
	f := types.Formula{LogicNameKey: "NET", FormulaText: "orders.gross - orders.fee"}
	row := docstore.Document{"gross": 100.5, "fee": 0.5}
	got := mustEval(t, f, row, make(Env))
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("got %s, want 100", got)
	}
}

func TestEvaluateRow_LiteralNotTreatedAsRef(t *testing.T) {
	f := types.Formula{LogicNameKey: "FEE", FormulaText: "orders.amount * 0.05"}
	row := docstore.Document{"amount": 200.0}
	got := mustEval(t, f, row, make(Env))
	if !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("got %s, want 10", got)
	}
}

func TestEvaluateRow_DerivedFromEnv(t *testing.T) {
	env := Env{"gross_amt": decimal.NewFromInt(100), "fee_amt": decimal.NewFromInt(3)}
	f := types.Formula{LogicNameKey: "NET_AMT", FormulaText: "GROSS_AMT - FEE_AMT"}
	got := mustEval(t, f, docstore.Document{}, env)
	if !got.Equal(decimal.NewFromInt(97)) {
		t.Errorf("got %s, want 97", got)
	}
}

func TestEvaluateRow_UnresolvedDerivedIsZero(t *testing.T) {
	f := types.Formula{LogicNameKey: "OUT", FormulaText: "MISSING + 5"}
	got := mustEval(t, f, docstore.Document{}, make(Env))
	if !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("got %s, want 5", got)
	}
}

func TestEvaluateRow_NullFieldIsZero(t *testing.T) {
	f := types.Formula{LogicNameKey: "OUT", FormulaText: "orders.amount + 1"}
	row := docstore.Document{"amount": nil}
	got := mustEval(t, f, row, make(Env))
	if !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("got %s, want 1", got)
	}
}

func TestEvaluateRow_NumericString(t *testing.T) {
	f := types.Formula{LogicNameKey: "OUT", FormulaText: "orders.amount * 2"}
	row := docstore.Document{"amount": "10.25"}
	got := mustEval(t, f, row, make(Env))
	if !got.Equal(decimal.NewFromFloat(20.5)) {
		t.Errorf("got %s, want 20.5", got)
	}
}

func TestSubstitute_ResolvedFieldPersistsInEnv(t *testing.T) {
	// A later contribution from another collection must see this row's
	// resolved fields through the report row.
	f := types.Formula{LogicNameKey: "OUT", FormulaText: "orders.amount + 0"}
	env := make(Env)
	row := docstore.Document{"amount": 12.5}
	if _, err := Substitute(f, Parse(f.FormulaText), row, env); err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if env["amount"] != 12.5 {
		t.Errorf("env[amount] = %v, want 12.5", env["amount"])
	}
}

func TestSubstitute_FallsBackToEnv(t *testing.T) {
	// Refund rows do not carry the order's amount; it resolves from the
	// merged report row instead.
	f := types.Formula{LogicNameKey: "OUT", FormulaText: "orders.amount - refunds.refunded"}
	env := Env{"amount": 50.0}
	row := docstore.Document{"refunded": 20.0}
	got := mustEval(t, f, row, env)
	if !got.Equal(decimal.NewFromInt(30)) {
		t.Errorf("got %s, want 30", got)
	}
}

func TestEvaluateRow_NegativeSubstitution(t *testing.T) {
	// Substituted negatives are parenthesized, so a - (-b) adds.
	f := types.Formula{LogicNameKey: "OUT", FormulaText: "orders.a - orders.b"}
	row := docstore.Document{"a": 10.0, "b": -4.0}
	got := mustEval(t, f, row, make(Env))
	if !got.Equal(decimal.NewFromInt(14)) {
		t.Errorf("got %s, want 14", got)
	}
}

func TestEvaluateRow_DivisionByZeroIsError(t *testing.T) {
	f := types.Formula{LogicNameKey: "OUT", FormulaText: "orders.a / orders.b"}
	row := docstore.Document{"a": 1.0, "b": 0.0}
	if _, err := EvaluateRow(f, Parse(f.FormulaText), row, make(Env)); err == nil {
		t.Error("want division-by-zero error")
	}
}

func TestApplyClauses(t *testing.T) {
	f2 := func(v float64) *float64 { return &v }
	clauses := []types.FormulaClause{
		{ConditionType: types.ClauseLessThan, Value1: 0, FormulaValue: -1},
		{ConditionType: types.ClauseBetween, Value1: 0, Value2: f2(100), FormulaValue: 1},
		{ConditionType: types.ClauseGreaterThan, Value1: 100, FormulaValue: 2},
	}
	tests := []struct {
		base float64
		want float64
	}{
		{-5, -1},
		{0, 1},   // between is inclusive
		{100, 1}, // inclusive upper bound, first match wins
		{50, 1},
		{101, 2},
	}
	for _, tt := range tests {
		got := ApplyClauses(decimal.NewFromFloat(tt.base), clauses)
		if !got.Equal(decimal.NewFromFloat(tt.want)) {
			t.Errorf("ApplyClauses(%v) = %s, want %v", tt.base, got, tt.want)
		}
	}
}

func TestApplyClauses_NoMatchIsZero(t *testing.T) {
	clauses := []types.FormulaClause{
		{ConditionType: types.ClauseGreaterThan, Value1: 100, FormulaValue: 1},
	}
	got := ApplyClauses(decimal.NewFromInt(5), clauses)
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got)
	}
}

func TestEvaluateRow_PiecewiseOverridesArithmetic(t *testing.T) {
	f := types.Formula{
		LogicNameKey: "BAND",
		FormulaText:  "orders.amount",
		Conditions: []types.FormulaClause{
			{ConditionType: types.ClauseGreaterEqual, Value1: 1000, FormulaValue: 3},
			{ConditionType: types.ClauseGreaterEqual, Value1: 100, FormulaValue: 2},
			{ConditionType: types.ClauseGreaterEqual, Value1: 0, FormulaValue: 1},
		},
	}
	row := docstore.Document{"amount": 250.0}
	got := mustEval(t, f, row, make(Env))
	if !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("got %s, want band 2", got)
	}
}

package formula

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/recona/internal/debug"
	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/types"
)

// safeExprRe is what a fully-substituted expression must look like before it
// may be evaluated. Any residual identifier means a reference failed to
// substitute and the row/formula is in error.
var safeExprRe = regexp.MustCompile(`^[0-9+\-*/().\s]+$`)

// Env is the live evaluation context for one row: seeded from the existing
// report row's non-system attributes, extended with every source-row field a
// qualified reference resolves, and with each computed derived value keyed
// by lowercased logicNameKey.
type Env map[string]interface{}

// ToDecimal coerces a stored value to decimal. Nulls and non-numeric values
// coerce to zero with ok=false.
func ToDecimal(v interface{}) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return t, true
	case float64:
		return decimal.NewFromFloat(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case bool:
		if t {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	default:
		return decimal.Zero, false
	}
}

// lookupDerived resolves a derived reference from the env, uppercase form
// first, then lowercase.
func lookupDerived(env Env, ref string) (interface{}, bool) {
	if v, ok := env[ref]; ok {
		return v, true
	}
	if v, ok := env[strings.ToLower(ref)]; ok {
		return v, true
	}
	return nil, false
}

// Substitute replaces every qualified and derived reference in the formula
// with a decimal literal. Qualified references resolve from the source row
// first, then from the env (values merged from earlier report
// contributions); the resolved value is recorded back into the env so it
// persists onto the report row for later contributions. Unresolved
// references substitute zero with a warning. The result is checked against
// the safe-expression alphabet; residual identifiers are an error.
func Substitute(f types.Formula, p *Parsed, row docstore.Document, env Env) (string, error) {
	expr := qualifiedRefRe.ReplaceAllStringFunc(f.FormulaText, func(match string) string {
		dot := strings.Index(match, ".")
		field := strings.ToLower(match[dot+1:])
		v, ok := row[field]
		if !ok || v == nil {
			v, ok = env[field]
		}
		d, numeric := ToDecimal(v)
		if ok && v != nil {
			env[field] = v
		}
		if !numeric && v != nil {
			debug.Logf("formula %s: %s is non-numeric (%v), using 0\n", f.LogicNameKey, match, v)
		}
		return "(" + d.String() + ")"
	})

	for _, ref := range p.DerivedRefs {
		v, ok := lookupDerived(env, ref)
		var d decimal.Decimal
		if ok {
			d, _ = ToDecimal(v)
		} else {
			debug.Warnf("formula %s: derived reference %s unresolved (no formula named %s has produced a value), using 0\n",
				f.LogicNameKey, ref, ref)
			d = decimal.Zero
		}
		wordRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(ref) + `\b`)
		expr = wordRe.ReplaceAllString(expr, "("+d.String()+")")
	}

	if !safeExprRe.MatchString(expr) {
		return "", fmt.Errorf("formula %s: unresolved identifiers after substitution: %q", f.LogicNameKey, expr)
	}
	return expr, nil
}

// EvaluateRow runs one formula against one row: substitution, safe
// arithmetic, then the optional piecewise clause table. Errors are
// per-row: the caller logs them and records zero for the field.
func EvaluateRow(f types.Formula, p *Parsed, row docstore.Document, env Env) (decimal.Decimal, error) {
	expr, err := Substitute(f, p, row, env)
	if err != nil {
		return decimal.Zero, err
	}
	base, err := EvalArithmetic(expr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("formula %s: %w", f.LogicNameKey, err)
	}
	if len(f.Conditions) > 0 {
		return ApplyClauses(base, f.Conditions), nil
	}
	return base, nil
}

// ApplyClauses returns the formulaValue of the first clause the base value
// matches; no match returns zero. Between is inclusive on both ends.
func ApplyClauses(base decimal.Decimal, clauses []types.FormulaClause) decimal.Decimal {
	for _, c := range clauses {
		v1 := decimal.NewFromFloat(c.Value1)
		matched := false
		switch c.ConditionType {
		case types.ClauseEqual:
			matched = base.Equal(v1)
		case types.ClauseGreaterThan:
			matched = base.GreaterThan(v1)
		case types.ClauseLessThan:
			matched = base.LessThan(v1)
		case types.ClauseGreaterEqual:
			matched = base.GreaterThanOrEqual(v1)
		case types.ClauseLessEqual:
			matched = base.LessThanOrEqual(v1)
		case types.ClauseBetween:
			if c.Value2 != nil {
				v2 := decimal.NewFromFloat(*c.Value2)
				matched = base.GreaterThanOrEqual(v1) && base.LessThanOrEqual(v2)
			}
		default:
			debug.Warnf("unsupported clause type %q, skipping\n", c.ConditionType)
		}
		if matched {
			return decimal.NewFromFloat(c.FormulaValue)
		}
	}
	return decimal.Zero
}

package report

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/recona/internal/debug"
	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/formula"
	"github.com/ledgerline/recona/internal/types"
)

// deltaIdentRe matches operand identifiers in a delta expression. Delta
// expressions carry no qualified references; every identifier resolves
// case-insensitively against the row's non-system attributes.
var deltaIdentRe = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)

// deltaPass streams the finished report and computes delta columns, reasons
// and the reconciliation status for every row. Runs exactly once per
// evaluation, after all contributors merged. The pass updates rows in place
// and never inserts.
func (m *Merger) deltaPass(ctx context.Context, p *plan, target string, counters *types.EvaluateCounters) error {
	if len(p.doc.DeltaColumns) == 0 && len(p.doc.Reasons) == 0 {
		return nil
	}

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := m.store.FindAll(ctx, target, docstore.Filter{},
			docstore.FindOptions{Limit: m.cfg.FormulaBatchSize, AfterID: afterID})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		afterID = batch[len(batch)-1].ID()

		ops := make([]docstore.WriteOp, 0, len(batch))
		for _, row := range batch {
			set := m.deltaRow(p, row)
			sel := docstore.ByID(row.ID())
			if key, ok := row[p.primaryField].(string); ok && key != "" {
				sel = docstore.Where(p.primaryField, key)
			}
			ops = append(ops, docstore.WriteOp{Kind: docstore.WriteUpdate, Filter: sel, Set: set})
		}
		res, err := m.store.BulkWrite(ctx, target, ops)
		if err != nil {
			return err
		}
		counters.Errors += res.Errors
		counters.Batches["delta_pass"]++

		batch = nil

		if err := m.yield(ctx); err != nil {
			return err
		}
	}
}

// deltaRow computes one row's delta columns, reasons, and status.
// Deterministic: identical rows and configuration always produce identical
// output.
func (m *Merger) deltaRow(p *plan, row docstore.Document) docstore.Document {
	// Candidate operands: every non-system attribute, case-insensitive.
	operands := make(map[string]interface{}, len(row))
	for k, v := range row {
		if !types.SystemField(k) {
			operands[strings.ToLower(k)] = v
		}
	}

	set := make(docstore.Document, len(p.doc.DeltaColumns)+3)
	for _, dc := range p.doc.DeltaColumns {
		val := evalDelta(p.doc.ReportName, dc, operands)
		name := strings.ToLower(dc.DeltaColumnName)
		operands[name] = val
		set[name] = val.InexactFloat64()
	}

	var matched []string
	for _, r := range p.doc.Reasons {
		delta, found := operands[strings.ToLower(r.DeltaColumn)]
		if !found && p.doc.StrictDeltas {
			debug.Warnf("report %s: delta column %s missing, flagging row\n", p.doc.ReportName, r.DeltaColumn)
			matched = append(matched, r.Reason)
		} else {
			d, _ := formula.ToDecimal(delta)
			threshold := decimal.NewFromFloat(r.Threshold).Abs()
			if d.Abs().GreaterThan(threshold) {
				matched = append(matched, r.Reason)
			}
		}
		if !r.MustCheck && len(matched) > 0 {
			break
		}
	}

	if len(matched) > 0 {
		set[types.FieldReason] = strings.Join(matched, ", ")
		set[types.FieldReconStatus] = string(types.Unreconciled)
	} else {
		set[types.FieldReason] = ""
		set[types.FieldReconStatus] = string(types.Reconciled)
	}
	set[types.FieldProcessedAt] = time.Now().UTC()
	return set
}

// evalDelta substitutes a delta expression's identifiers from the operand
// map and evaluates the arithmetic. Unknown identifiers substitute zero
// with a warning; evaluation errors yield zero.
func evalDelta(reportName string, dc types.DeltaColumn, operands map[string]interface{}) decimal.Decimal {
	expr := deltaIdentRe.ReplaceAllStringFunc(dc.Value, func(ident string) string {
		v, ok := operands[strings.ToLower(ident)]
		if !ok {
			debug.Warnf("report %s: delta %s references unknown field %s, using 0\n",
				reportName, dc.DeltaColumnName, ident)
			return "(0)"
		}
		d, _ := formula.ToDecimal(v)
		return "(" + d.String() + ")"
	})
	val, err := formula.EvalArithmetic(expr)
	if err != nil {
		debug.Warnf("report %s: delta %s: %v\n", reportName, dc.DeltaColumnName, err)
		return decimal.Zero
	}
	return val
}

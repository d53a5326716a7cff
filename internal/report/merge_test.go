package report

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/ledgerline/recona/internal/config"
	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/docstore/sqlite"
	"github.com/ledgerline/recona/internal/types"
)

func testMerger(t *testing.T) (*Merger, docstore.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "recona.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.FormulaBatchSize = 2 // force multiple batches
	cfg.YieldDelay = 0
	return New(store, cfg), store
}

func seedProcessed(t *testing.T, store docstore.Store, coll string, rows ...docstore.Document) {
	t.Helper()
	ctx := context.Background()
	if err := store.EnsureCollection(ctx, coll); err != nil {
		t.Fatalf("EnsureCollection(%s): %v", coll, err)
	}
	if _, err := store.InsertMany(ctx, coll, rows, docstore.InsertOptions{}); err != nil {
		t.Fatalf("InsertMany(%s): %v", coll, err)
	}
}

func findByKey(t *testing.T, store docstore.Store, coll, field, key string) docstore.Document {
	t.Helper()
	doc, err := store.FindOne(context.Background(), coll, docstore.Where(field, key))
	if err != nil {
		t.Fatalf("FindOne(%s, %s=%s): %v", coll, field, key, err)
	}
	return doc
}

func approx(t *testing.T, doc docstore.Document, field string, want float64) {
	t.Helper()
	got, ok := doc[field].(float64)
	if !ok {
		t.Fatalf("%s = %v (%T), want float64", field, doc[field], doc[field])
	}
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", field, got, want)
	}
}

func settlementDoc() *types.FormulaDocument {
	return &types.FormulaDocument{
		ReportName: "settlement_recon",
		Formulas: []types.Formula{
			{LogicNameKey: "GROSS_AMT", FormulaText: "orders.amount"},
			{LogicNameKey: "SETTLED_AMT", FormulaText: "bank.settled"},
		},
		MappingKeys: map[string][]string{
			"orders": {"order_id"},
			"bank":   {"reference"},
		},
		DeltaColumns: []types.DeltaColumn{
			{DeltaColumnName: "net_delta", Value: "GROSS_AMT - SETTLED_AMT"},
		},
		Reasons: []types.Reason{
			{Reason: "settlement mismatch", DeltaColumn: "net_delta", Threshold: 0.01},
		},
	}
}

func TestEvaluateReport_TwoCollectionMerge(t *testing.T) {
	m, store := testMerger(t)
	ctx := context.Background()

	seedProcessed(t, store, "orders_processed",
		docstore.Document{"order_id": "T1", "amount": 100.0},
		docstore.Document{"order_id": "T2", "amount": 200.0},
		docstore.Document{"order_id": "T3", "amount": 300.0},
	)
	seedProcessed(t, store, "bank_processed",
		docstore.Document{"reference": "T1", "settled": 100.0},
		docstore.Document{"reference": "T2", "settled": 150.0}, // short-settled
	)

	c, err := m.EvaluateReport(ctx, settlementDoc())
	if err != nil {
		t.Fatalf("EvaluateReport: %v", err)
	}
	if c.Processed != 5 {
		t.Errorf("Processed = %d, want 5 contributions", c.Processed)
	}
	if c.Errors != 0 {
		t.Errorf("Errors = %d", c.Errors)
	}

	n, err := store.Count(ctx, "settlement_recon", docstore.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("report rows = %d, want 3 (one per order, no duplicates)", n)
	}

	matched := findByKey(t, store, "settlement_recon", "orders_mapping_key", "T1")
	approx(t, matched, "gross_amt", 100)
	approx(t, matched, "settled_amt", 100)
	approx(t, matched, "net_delta", 0)
	if matched[types.FieldReconStatus] != string(types.Reconciled) {
		t.Errorf("T1 status = %v, want RECONCILED", matched[types.FieldReconStatus])
	}
	if matched[types.FieldReason] != "" {
		t.Errorf("T1 reason = %v, want empty", matched[types.FieldReason])
	}
	if matched["bank_mapping_key"] != "T1" {
		t.Errorf("bank_mapping_key = %v, want merged onto the same row", matched["bank_mapping_key"])
	}

	short := findByKey(t, store, "settlement_recon", "orders_mapping_key", "T2")
	approx(t, short, "net_delta", 50)
	if short[types.FieldReconStatus] != string(types.Unreconciled) {
		t.Errorf("T2 status = %v, want UNRECONCILED", short[types.FieldReconStatus])
	}
	if short[types.FieldReason] != "settlement mismatch" {
		t.Errorf("T2 reason = %v", short[types.FieldReason])
	}

	// T3 never settled: SETTLED_AMT stays absent, the delta treats it as 0.
	unsettled := findByKey(t, store, "settlement_recon", "orders_mapping_key", "T3")
	approx(t, unsettled, "net_delta", 300)
	if unsettled[types.FieldReconStatus] != string(types.Unreconciled) {
		t.Errorf("T3 status = %v, want UNRECONCILED", unsettled[types.FieldReconStatus])
	}
}

func TestEvaluateReport_Idempotent(t *testing.T) {
	m, store := testMerger(t)
	ctx := context.Background()

	seedProcessed(t, store, "orders_processed",
		docstore.Document{"order_id": "T1", "amount": 100.0})
	seedProcessed(t, store, "bank_processed",
		docstore.Document{"reference": "T1", "settled": 100.0})

	doc := settlementDoc()
	if _, err := m.EvaluateReport(ctx, doc); err != nil {
		t.Fatalf("first EvaluateReport: %v", err)
	}
	if _, err := m.EvaluateReport(ctx, doc); err != nil {
		t.Fatalf("second EvaluateReport: %v", err)
	}

	n, err := store.Count(ctx, "settlement_recon", docstore.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("report rows = %d after re-evaluation, want 1", n)
	}
	row := findByKey(t, store, "settlement_recon", "orders_mapping_key", "T1")
	approx(t, row, "net_delta", 0)
	if row[types.FieldReconStatus] != string(types.Reconciled) {
		t.Errorf("status = %v, want RECONCILED", row[types.FieldReconStatus])
	}
}

func TestEvaluateReport_CrossCollectionFormula(t *testing.T) {
	// The refund pass needs the order's amount, which only the report row
	// carries by then.
	m, store := testMerger(t)
	ctx := context.Background()

	seedProcessed(t, store, "orders_processed",
		docstore.Document{"order_id": "T1", "amount": 100.0})
	seedProcessed(t, store, "refunds_processed",
		docstore.Document{"reference": "T1", "refunded": 20.0})

	doc := &types.FormulaDocument{
		ReportName: "refund_recon",
		Formulas: []types.Formula{
			{LogicNameKey: "GROSS_AMT", FormulaText: "orders.amount"},
			{LogicNameKey: "NET_AMT", FormulaText: "orders.amount - refunds.refunded"},
		},
		MappingKeys: map[string][]string{
			"orders":  {"order_id"},
			"refunds": {"reference"},
		},
	}
	c, err := m.EvaluateReport(ctx, doc)
	if err != nil {
		t.Fatalf("EvaluateReport: %v", err)
	}
	if c.Errors != 0 {
		t.Errorf("Errors = %d", c.Errors)
	}

	row := findByKey(t, store, "refund_recon", "orders_mapping_key", "T1")
	approx(t, row, "gross_amt", 100)
	approx(t, row, "net_amt", 80)
}

func TestEvaluateReport_SourceConditions(t *testing.T) {
	m, store := testMerger(t)
	ctx := context.Background()

	seedProcessed(t, store, "orders_processed",
		docstore.Document{"order_id": "T1", "amount": 100.0, "status": "settled"},
		docstore.Document{"order_id": "T2", "amount": 200.0, "status": "pending"},
	)

	doc := &types.FormulaDocument{
		ReportName: "settled_only",
		Formulas: []types.Formula{
			{LogicNameKey: "GROSS_AMT", FormulaText: "orders.amount"},
		},
		MappingKeys: map[string][]string{"orders": {"order_id"}},
		Conditions: map[string][]types.SourceCondition{
			"orders": {{Column: "status", Operator: types.OpEq, Value: "settled"}},
		},
	}
	if _, err := m.EvaluateReport(ctx, doc); err != nil {
		t.Fatalf("EvaluateReport: %v", err)
	}

	n, err := store.Count(ctx, "settled_only", docstore.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("report rows = %d, want 1 (pending row filtered out)", n)
	}
}

func TestEvaluateReport_RowWithoutMappingKeySkipped(t *testing.T) {
	m, store := testMerger(t)
	ctx := context.Background()

	seedProcessed(t, store, "orders_processed",
		docstore.Document{"order_id": "T1", "amount": 100.0},
		docstore.Document{"order_id": nil, "amount": 50.0},
	)
	doc := &types.FormulaDocument{
		ReportName: "keyed_only",
		Formulas: []types.Formula{
			{LogicNameKey: "GROSS_AMT", FormulaText: "orders.amount"},
		},
		MappingKeys: map[string][]string{"orders": {"order_id"}},
	}
	c, err := m.EvaluateReport(ctx, doc)
	if err != nil {
		t.Fatalf("EvaluateReport: %v", err)
	}
	if c.Processed != 1 || c.Errors != 1 {
		t.Errorf("counters = %+v, want 1 processed 1 error", c)
	}
	n, err := store.Count(ctx, "keyed_only", docstore.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("report rows = %d, want 1", n)
	}
}

func TestDeltaPass_MustCheckChaining(t *testing.T) {
	m, store := testMerger(t)
	ctx := context.Background()

	seedProcessed(t, store, "orders_processed",
		docstore.Document{"order_id": "T1", "amount": 100.0, "fee": 10.0})

	doc := &types.FormulaDocument{
		ReportName: "fee_recon",
		Formulas: []types.Formula{
			{LogicNameKey: "GROSS_AMT", FormulaText: "orders.amount"},
			{LogicNameKey: "FEE_AMT", FormulaText: "orders.fee"},
		},
		MappingKeys: map[string][]string{"orders": {"order_id"}},
		DeltaColumns: []types.DeltaColumn{
			{DeltaColumnName: "gross_delta", Value: "GROSS_AMT"},
			{DeltaColumnName: "fee_delta", Value: "FEE_AMT"},
		},
		Reasons: []types.Reason{
			{Reason: "gross off", DeltaColumn: "gross_delta", Threshold: 1, MustCheck: true},
			{Reason: "fee off", DeltaColumn: "fee_delta", Threshold: 1},
		},
	}
	if _, err := m.EvaluateReport(ctx, doc); err != nil {
		t.Fatalf("EvaluateReport: %v", err)
	}
	row := findByKey(t, store, "fee_recon", "orders_mapping_key", "T1")
	if row[types.FieldReason] != "gross off, fee off" {
		t.Errorf("reason = %v, want both reasons joined", row[types.FieldReason])
	}

	// Without must_check the first match short-circuits the chain.
	doc.ReportName = "fee_recon_short"
	doc.Reasons[0].MustCheck = false
	if _, err := m.EvaluateReport(ctx, doc); err != nil {
		t.Fatalf("EvaluateReport: %v", err)
	}
	row = findByKey(t, store, "fee_recon_short", "orders_mapping_key", "T1")
	if row[types.FieldReason] != "gross off" {
		t.Errorf("reason = %v, want only the first", row[types.FieldReason])
	}
}

func TestDeltaPass_ThresholdIsAbsolute(t *testing.T) {
	m, store := testMerger(t)
	ctx := context.Background()

	seedProcessed(t, store, "orders_processed",
		docstore.Document{"order_id": "T1", "amount": -100.0},
		docstore.Document{"order_id": "T2", "amount": 0.005},
	)
	doc := &types.FormulaDocument{
		ReportName: "abs_recon",
		Formulas: []types.Formula{
			{LogicNameKey: "GROSS_AMT", FormulaText: "orders.amount"},
		},
		MappingKeys: map[string][]string{"orders": {"order_id"}},
		DeltaColumns: []types.DeltaColumn{
			{DeltaColumnName: "d", Value: "GROSS_AMT"},
		},
		Reasons: []types.Reason{
			{Reason: "off", DeltaColumn: "d", Threshold: -0.01},
		},
	}
	if _, err := m.EvaluateReport(ctx, doc); err != nil {
		t.Fatalf("EvaluateReport: %v", err)
	}

	// |-100| > |-0.01| flags; |0.005| does not.
	neg := findByKey(t, store, "abs_recon", "orders_mapping_key", "T1")
	if neg[types.FieldReconStatus] != string(types.Unreconciled) {
		t.Errorf("T1 status = %v, want UNRECONCILED", neg[types.FieldReconStatus])
	}
	small := findByKey(t, store, "abs_recon", "orders_mapping_key", "T2")
	if small[types.FieldReconStatus] != string(types.Reconciled) {
		t.Errorf("T2 status = %v, want RECONCILED", small[types.FieldReconStatus])
	}
}

func TestDeltaPass_StrictDeltas(t *testing.T) {
	m, store := testMerger(t)
	ctx := context.Background()

	seedProcessed(t, store, "orders_processed",
		docstore.Document{"order_id": "T1", "amount": 100.0})

	doc := &types.FormulaDocument{
		ReportName: "strict_recon",
		Formulas: []types.Formula{
			{LogicNameKey: "GROSS_AMT", FormulaText: "orders.amount"},
		},
		MappingKeys: map[string][]string{"orders": {"order_id"}},
		Reasons: []types.Reason{
			{Reason: "missing delta", DeltaColumn: "never_computed", Threshold: 0.01},
		},
		StrictDeltas: true,
	}
	if _, err := m.EvaluateReport(ctx, doc); err != nil {
		t.Fatalf("EvaluateReport: %v", err)
	}
	row := findByKey(t, store, "strict_recon", "orders_mapping_key", "T1")
	if row[types.FieldReconStatus] != string(types.Unreconciled) {
		t.Errorf("status = %v, want UNRECONCILED under strict_deltas", row[types.FieldReconStatus])
	}

	// Lenient mode treats the missing column as zero and reconciles.
	doc.ReportName = "lenient_recon"
	doc.StrictDeltas = false
	if _, err := m.EvaluateReport(ctx, doc); err != nil {
		t.Fatalf("EvaluateReport: %v", err)
	}
	row = findByKey(t, store, "lenient_recon", "orders_mapping_key", "T1")
	if row[types.FieldReconStatus] != string(types.Reconciled) {
		t.Errorf("status = %v, want RECONCILED without strict_deltas", row[types.FieldReconStatus])
	}
}

func TestAnalyze_PrimaryAndPartitions(t *testing.T) {
	m, _ := testMerger(t)
	doc := &types.FormulaDocument{
		ReportName: "r",
		Formulas: []types.Formula{
			{LogicNameKey: "AAA", FormulaText: "orders.amount"},
			{LogicNameKey: "BBB", FormulaText: "orders.amount - bank.settled"},
		},
		MappingKeys: map[string][]string{
			"orders": {"order_id"},
			"bank":   {"reference"},
		},
	}
	p := m.analyze(doc)
	if p.primary != "orders" {
		t.Errorf("primary = %q, want orders", p.primary)
	}
	if p.primaryField != "orders_mapping_key" {
		t.Errorf("primaryField = %q", p.primaryField)
	}
	if len(p.contributors) != 2 || p.contributors[0] != "orders" || p.contributors[1] != "bank" {
		t.Errorf("contributors = %v, want [orders bank]", p.contributors)
	}
	// AAA only touches orders; BBB needs bank's pass.
	if got := p.partitions["orders"]; len(got) != 1 || got[0] != 0 {
		t.Errorf("orders partition = %v, want [0]", got)
	}
	if got := p.partitions["bank"]; len(got) != 1 || got[0] != 1 {
		t.Errorf("bank partition = %v, want [1]", got)
	}
}

func TestAnalyze_PrimaryFallsBackToMappingKeys(t *testing.T) {
	m, _ := testMerger(t)
	doc := &types.FormulaDocument{
		ReportName: "r",
		Formulas: []types.Formula{
			{LogicNameKey: "CONST", FormulaText: "1 + 1"},
		},
		MappingKeys: map[string][]string{
			"zeta":  {"id"},
			"alpha": {"id"},
		},
	}
	p := m.analyze(doc)
	if p.primary != "alpha" {
		t.Errorf("primary = %q, want alpha (alphabetical fallback)", p.primary)
	}
}

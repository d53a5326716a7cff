// Package report evaluates formula documents: the multi-collection merge
// that builds a reconciled report, and the final delta & reason pass.
package report

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/recona/internal/config"
	"github.com/ledgerline/recona/internal/debug"
	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/formula"
	"github.com/ledgerline/recona/internal/identity"
	"github.com/ledgerline/recona/internal/telemetry"
	"github.com/ledgerline/recona/internal/types"
)

// Merger evaluates one FormulaDocument into its target report collection.
// Concurrent runs for the same report are not supported; mutual exclusion
// is the caller's responsibility.
type Merger struct {
	store docstore.Store
	cfg   *config.Config
}

// New creates a Merger.
func New(store docstore.Store, cfg *config.Config) *Merger {
	return &Merger{store: store, cfg: cfg}
}

// plan is the analyzed form of one FormulaDocument.
type plan struct {
	doc          *types.FormulaDocument
	parsed       []*formula.Parsed
	primary      string
	primaryField string
	// contributors in processing order: primary first, then formula
	// discovery order, then remaining mapping_keys entries sorted.
	contributors []string
	// partitions maps contributor -> indexes into doc.Formulas, dependency
	// sorted. A formula lands in the pass of the last contributor it
	// references so every cross-collection input has merged by then;
	// formulas referencing no contributor run with the primary.
	partitions map[string][]int
}

func (m *Merger) analyze(doc *types.FormulaDocument) *plan {
	p := &plan{doc: doc, partitions: make(map[string][]int)}
	p.parsed = make([]*formula.Parsed, len(doc.Formulas))
	for i, f := range doc.Formulas {
		p.parsed[i] = formula.Parse(f.FormulaText)
	}

	configured := make(map[string]bool, len(doc.MappingKeys))
	for base := range doc.MappingKeys {
		configured[base] = true
	}

	// Primary: first collection referenced by any formula; fall back to the
	// first mapping_keys entry (alphabetical, map order is not stable).
	for _, parsed := range p.parsed {
		if c := parsed.Primary(); c != "" {
			p.primary = c
			break
		}
	}
	var sortedBases []string
	for base := range doc.MappingKeys {
		sortedBases = append(sortedBases, types.NormalizeName(base))
	}
	sort.Strings(sortedBases)
	if p.primary == "" && len(sortedBases) > 0 {
		p.primary = sortedBases[0]
	}
	p.primaryField = types.MappingKeyField(p.primary)

	seen := map[string]bool{p.primary: true}
	if configured[p.primary] {
		p.contributors = append(p.contributors, p.primary)
	}
	for _, parsed := range p.parsed {
		for _, c := range parsed.Collections {
			if !seen[c] && configured[c] {
				seen[c] = true
				p.contributors = append(p.contributors, c)
			}
		}
	}
	for _, base := range sortedBases {
		if !seen[base] {
			seen[base] = true
			p.contributors = append(p.contributors, base)
		}
	}

	// Partition each formula into its last-referenced contributor's pass.
	position := make(map[string]int, len(p.contributors))
	for i, c := range p.contributors {
		position[c] = i
	}
	for i, parsed := range p.parsed {
		target := p.primary
		best := -1
		for _, c := range parsed.Collections {
			if pos, ok := position[c]; ok && pos > best {
				best = pos
				target = c
			}
		}
		p.partitions[target] = append(p.partitions[target], i)
	}
	return p
}

// EvaluateReport runs the full merge for one report, then the delta &
// reason pass exactly once.
func (m *Merger) EvaluateReport(ctx context.Context, doc *types.FormulaDocument) (types.EvaluateCounters, error) {
	counters := types.EvaluateCounters{Batches: make(map[string]int)}
	p := m.analyze(doc)
	target := types.NormalizeName(doc.ReportName)

	if err := m.store.EnsureCollection(ctx, target); err != nil {
		return counters, err
	}
	if err := m.store.EnsureIndex(ctx, target, p.primaryField, false); err != nil {
		return counters, err
	}
	for _, base := range p.contributors {
		if err := m.store.EnsureIndex(ctx, target, types.MappingKeyField(base), false); err != nil {
			return counters, err
		}
	}

	for _, base := range p.contributors {
		if err := m.mergeCollection(ctx, p, target, base, &counters); err != nil {
			return counters, err
		}
	}

	if err := m.deltaPass(ctx, p, target, &counters); err != nil {
		return counters, err
	}
	return counters, nil
}

// conditionFilter translates a contributor's condition list into a store
// filter over its processed collection.
func conditionFilter(conds []types.SourceCondition) docstore.Filter {
	var f docstore.Filter
	for _, c := range conds {
		f = f.And(c.Column, docstore.Op(c.Operator), c.Value)
	}
	return f
}

// mergeCollection streams one contributor's processed rows and upserts
// their evaluated contributions into the target report.
func (m *Merger) mergeCollection(ctx context.Context, p *plan, target, base string, counters *types.EvaluateCounters) error {
	ds := types.DataSource{Name: base}
	sourceColl := ds.ProcessedCollection()
	if err := m.store.EnsureCollection(ctx, sourceColl); err != nil {
		return err
	}

	baseField := types.MappingKeyField(base)
	keyFields := p.doc.MappingKeys[base]
	filter := conditionFilter(p.doc.Conditions[base])

	indexes := p.partitions[base]
	partFormulas := make([]types.Formula, len(indexes))
	partParsed := make([]*formula.Parsed, len(indexes))
	for i, idx := range indexes {
		partFormulas[i] = p.doc.Formulas[idx]
		partParsed[i] = p.parsed[idx]
	}
	order := formula.SortByDependencies(partFormulas, partParsed)

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		opts := docstore.FindOptions{Limit: m.cfg.FormulaBatchSize, AfterID: afterID}
		batch, err := m.store.FindAll(ctx, sourceColl, filter, opts)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		afterID = batch[len(batch)-1].ID()

		if err := m.mergeBatch(ctx, p, target, base, baseField, keyFields, partFormulas, partParsed, order, batch, counters); err != nil {
			return err
		}
		counters.Batches[base]++

		// Release batch buffers before yielding so large batches do not
		// accumulate across iterations.
		batch = nil

		if err := m.yield(ctx); err != nil {
			return err
		}
	}
}

func (m *Merger) mergeBatch(ctx context.Context, p *plan, target, base, baseField string, keyFields []string, partFormulas []types.Formula, partParsed []*formula.Parsed, order []int, batch []docstore.Document, counters *types.EvaluateCounters) error {
	now := time.Now().UTC()

	type sourceRow struct {
		row docstore.Document
		key string
	}
	rows := make([]sourceRow, 0, len(batch))
	keys := make([]interface{}, 0, len(batch))
	for _, row := range batch {
		key := identity.BuildMappingKey(row, keyFields, row.ID())
		if key == "" {
			debug.Warnf("report %s: %s row %s has no mapping key, skipped\n",
				p.doc.ReportName, base, row.ID())
			counters.Errors++
			continue
		}
		rows = append(rows, sourceRow{row: row, key: key})
		keys = append(keys, key)
	}
	if len(rows) == 0 {
		return nil
	}

	// Two-key prefetch: rows contributed by earlier collections may be
	// anchored by the primary mapping key or already carry this base's key;
	// either match must merge, not duplicate.
	prefetch := docstore.Filter{
		Any: []docstore.Clause{
			{Field: p.primaryField, Op: docstore.OpIn, Value: keys},
			{Field: baseField, Op: docstore.OpIn, Value: keys},
		},
	}
	existingDocs, err := m.store.FindAll(ctx, target, prefetch, docstore.FindOptions{})
	if err != nil {
		return err
	}
	byPrimary := make(map[string]docstore.Document)
	byBase := make(map[string]docstore.Document)
	for _, d := range existingDocs {
		if v, ok := d[p.primaryField].(string); ok {
			byPrimary[v] = d
		}
		if v, ok := d[baseField].(string); ok {
			byBase[v] = d
		}
	}

	ops := make([]docstore.WriteOp, 0, len(rows))
	for _, sr := range rows {
		existing := byPrimary[sr.key]
		if existing == nil {
			existing = byBase[sr.key]
		}

		env := make(formula.Env)
		for k, v := range existing {
			if !types.SystemField(k) {
				env[k] = v
			}
		}

		for _, i := range order {
			f := partFormulas[i]
			val, err := formula.EvaluateRow(f, partParsed[i], sr.row, env)
			if err != nil {
				debug.Warnf("report %s: row %s: %v\n", p.doc.ReportName, sr.row.ID(), err)
				counters.Errors++
				val = decimal.Zero
			}
			env[strings.ToLower(f.LogicNameKey)] = val
		}

		set := make(docstore.Document, len(env)+3)
		for k, v := range env {
			if d, ok := v.(decimal.Decimal); ok {
				set[k] = d.InexactFloat64()
			} else {
				set[k] = v
			}
		}
		set[baseField] = sr.key
		set[types.FieldProcessedAt] = now

		var sel docstore.Filter
		switch {
		case existing != nil:
			sel = docstore.ByID(existing.ID())
		case base == p.primary:
			sel = docstore.Where(p.primaryField, sr.key)
		default:
			sel = docstore.Where(baseField, sr.key)
		}
		ops = append(ops, docstore.WriteOp{Kind: docstore.WriteUpsert, Filter: sel, Set: set})
		counters.Processed++
	}

	res, err := m.store.BulkWrite(ctx, target, ops)
	if err != nil {
		return err
	}
	if res.Errors > 0 {
		debug.Warnf("report %s: %d writes failed in %s batch\n", p.doc.ReportName, res.Errors, base)
		counters.Errors += res.Errors
	}
	telemetry.RowsEvaluated(ctx, p.doc.ReportName, len(rows))
	return nil
}

func (m *Merger) yield(ctx context.Context) error {
	if m.cfg.YieldDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.cfg.YieldDelay):
		return nil
	}
}

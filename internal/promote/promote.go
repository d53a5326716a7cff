// Package promote moves rows raw → processed → backup: batched upserts with
// change detection, append-only archival, and exactly-once progression under
// retries.
package promote

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/recona/internal/config"
	"github.com/ledgerline/recona/internal/debug"
	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/identity"
	"github.com/ledgerline/recona/internal/ingest"
	"github.com/ledgerline/recona/internal/telemetry"
	"github.com/ledgerline/recona/internal/types"
)

// Promoter drives raw → processed promotion for one store.
type Promoter struct {
	store docstore.Store
	cfg   *config.Config
}

// New creates a Promoter.
func New(store docstore.Store, cfg *config.Config) *Promoter {
	return &Promoter{store: store, cfg: cfg}
}

// pending is one raw row prepared for promotion.
type pending struct {
	rawID     string
	raw       docstore.Document // original attributes, unprojected
	processed docstore.Document // projected + sanitized
	uniqueID  string            // "" = null identity
}

// PromoteSource promotes every raw row of one data source. Idempotent under
// retry: processed writes are keyed by unique_id and backup inserts tolerate
// duplicates. On error the source's processing files are marked failed; on
// completion (including an empty source) they are marked processed.
func (p *Promoter) PromoteSource(ctx context.Context, ds *types.DataSource) (types.PromoteCounters, error) {
	var counters types.PromoteCounters

	if _, err := ingest.MarkSourceFiles(ctx, p.store, ds.Name, types.FileUploaded, types.FileProcessing, ""); err != nil {
		return counters, err
	}

	err := p.run(ctx, ds, &counters)
	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = "cancelled: " + reason
		}
		if _, mErr := ingest.MarkSourceFiles(context.WithoutCancel(ctx), p.store, ds.Name, types.FileProcessing, types.FileFailed, reason); mErr != nil {
			debug.Warnf("promote %s: marking files failed: %v\n", ds.Name, mErr)
		}
		return counters, err
	}

	n, err := ingest.MarkSourceFiles(ctx, p.store, ds.Name, types.FileProcessing, types.FileProcessed, "")
	if err != nil {
		return counters, err
	}
	counters.FilesMarkedProcessed = n
	return counters, nil
}

func (p *Promoter) run(ctx context.Context, ds *types.DataSource, counters *types.PromoteCounters) error {
	rawColl := ds.RawCollection()
	processedColl := ds.ProcessedCollection()
	backupColl := ds.BackupCollection()

	if err := p.store.EnsureCollection(ctx, rawColl); err != nil {
		return err
	}
	if err := p.store.EnsureCollection(ctx, processedColl); err != nil {
		return err
	}
	if err := p.store.EnsureCollection(ctx, backupColl); err != nil {
		return err
	}
	if err := p.store.EnsureIndex(ctx, processedColl, types.FieldUniqueID, true); err != nil {
		return err
	}

	// Rows that errored stay in raw; exclude them from subsequent batch
	// fetches so the walk terminates.
	var skipIDs []interface{}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		filter := docstore.Filter{}
		if len(skipIDs) > 0 {
			filter = filter.And(docstore.IDField, docstore.OpNin, skipIDs)
		}
		batch, err := p.store.FindAll(ctx, rawColl, filter, docstore.FindOptions{Limit: p.cfg.PromoteBatchSize})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		failed, err := p.promoteBatch(ctx, ds, processedColl, backupColl, rawColl, batch, counters)
		if err != nil {
			return err
		}
		skipIDs = append(skipIDs, failed...)

		batch = nil // release before the yield; batches can be large

		if err := p.yield(ctx); err != nil {
			return err
		}
	}
}

// promoteBatch handles one batch: compute identities, split by null
// unique_id, change-detect against existing processed rows, write processed,
// archive originals to backup, delete from raw. Returns the raw ids of rows
// that errored and stay behind.
func (p *Promoter) promoteBatch(ctx context.Context, ds *types.DataSource, processedColl, backupColl, rawColl string, batch []docstore.Document, counters *types.PromoteCounters) ([]interface{}, error) {
	now := time.Now().UTC()
	var failed []interface{}
	rows := make([]pending, 0, len(batch))

	for _, raw := range batch {
		row := pending{rawID: raw.ID(), raw: raw}
		sanitized := ingest.SanitizeRow(raw)
		delete(sanitized, docstore.IDField)
		row.uniqueID = identity.BuildUniqueID(sanitized, ds.UniqueIDs)
		row.processed = project(sanitized, ds.SelectedFields)
		if row.uniqueID == "" && len(ds.UniqueIDs) > 0 {
			if !ds.AllowNullIdentity {
				debug.Warnf("promote %s: row %s missing identity component, rejected\n", ds.Name, row.rawID)
				counters.Errors++
				failed = append(failed, row.rawID)
				continue
			}
			debug.Warnf("promote %s: row %s missing identity component, inserting with null unique_id\n", ds.Name, row.rawID)
		}
		rows = append(rows, row)
	}

	// Pre-read existing processed rows for this batch's unique_ids in one
	// query.
	uids := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		if r.uniqueID != "" {
			uids = append(uids, r.uniqueID)
		}
	}
	existing := make(map[string]docstore.Document, len(uids))
	if len(uids) > 0 {
		docs, err := p.store.FindAll(ctx, processedColl,
			docstore.Filter{}.And(types.FieldUniqueID, docstore.OpIn, uids), docstore.FindOptions{})
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if uid, ok := d[types.FieldUniqueID].(string); ok {
				existing[uid] = d
			}
		}
	}

	var ops []docstore.WriteOp
	// seenInBatch resolves duplicate unique_ids inside one batch: later
	// occurrences diff against the earlier pending document.
	seenInBatch := make(map[string]docstore.Document)
	moved := make([]pending, 0, len(rows))

	for _, r := range rows {
		moved = append(moved, r)
		if r.uniqueID == "" {
			doc := r.processed.Clone()
			doc[types.FieldUniqueID] = nil
			doc[types.FieldProcessedAt] = now
			doc[types.FieldUpdatedAt] = now
			ops = append(ops, docstore.WriteOp{Kind: docstore.WriteInsert, Doc: doc})
			counters.Inserted++
			continue
		}

		prior, exists := existing[r.uniqueID]
		if !exists {
			prior, exists = seenInBatch[r.uniqueID]
		}
		if !exists {
			doc := r.processed.Clone()
			doc[types.FieldUniqueID] = r.uniqueID
			doc[types.FieldProcessedAt] = now
			doc[types.FieldUpdatedAt] = now
			ops = append(ops, docstore.WriteOp{Kind: docstore.WriteInsert, Doc: doc})
			counters.Inserted++
			seenInBatch[r.uniqueID] = doc
			continue
		}

		changed := changedFields(prior, r.processed)
		if len(changed) == 0 {
			counters.Skipped++
			continue
		}
		changed[types.FieldProcessedAt] = now
		changed[types.FieldUpdatedAt] = now
		ops = append(ops, docstore.WriteOp{
			Kind:   docstore.WriteUpdate,
			Filter: docstore.Where(types.FieldUniqueID, r.uniqueID),
			Set:    changed,
		})
		counters.Updated++
		merged := prior.Clone()
		for k, v := range changed {
			merged[k] = v
		}
		seenInBatch[r.uniqueID] = merged
	}

	if len(ops) > 0 {
		res, err := p.store.BulkWrite(ctx, processedColl, ops)
		if err != nil {
			return nil, err
		}
		if res.Errors > 0 {
			debug.Warnf("promote %s: %d processed writes failed in batch\n", ds.Name, res.Errors)
			counters.Errors += res.Errors
		}
	}

	// Archive all originals of the batch, including skipped rows: they are
	// still fully processed once. Duplicates from a retried run are dropped
	// silently.
	backupDocs := make([]docstore.Document, 0, len(moved))
	rawIDs := make([]interface{}, 0, len(moved))
	for _, r := range moved {
		doc := r.raw.Clone()
		if r.uniqueID != "" {
			doc[types.FieldUniqueID] = r.uniqueID
		} else {
			doc[types.FieldUniqueID] = nil
		}
		backupDocs = append(backupDocs, doc)
		rawIDs = append(rawIDs, r.rawID)
	}
	if _, err := p.store.InsertMany(ctx, backupColl, backupDocs, docstore.InsertOptions{IgnoreDuplicates: true}); err != nil {
		return nil, fmt.Errorf("backup %s: %w", backupColl, err)
	}
	counters.MovedToBackup += len(backupDocs)

	if len(rawIDs) > 0 {
		if _, err := p.store.DeleteMany(ctx, rawColl,
			docstore.Filter{}.And(docstore.IDField, docstore.OpIn, rawIDs)); err != nil {
			return nil, err
		}
	}

	telemetry.RowsPromoted(ctx, ds.Name, len(moved))
	debug.Logf("promote %s: batch of %d (inserted %d, updated %d, skipped %d, errors %d)\n",
		ds.Name, len(batch), counters.Inserted, counters.Updated, counters.Skipped, counters.Errors)
	return failed, nil
}

// project restricts a sanitized row to the selected fields. An empty field
// list keeps every column. Selected fields absent from the row are carried
// as nulls so the processed view has a stable shape.
func project(row docstore.Document, fields []string) docstore.Document {
	if len(fields) == 0 {
		return row.Clone()
	}
	out := make(docstore.Document, len(fields))
	for _, f := range fields {
		if v, ok := row[f]; ok {
			out[f] = v
		} else {
			out[f] = nil
		}
	}
	return out
}

// changedFields returns the attributes of next whose values differ from
// prior. Pipeline metadata never participates in the diff.
func changedFields(prior, next docstore.Document) docstore.Document {
	changed := make(docstore.Document)
	for k, v := range next {
		switch k {
		case docstore.IDField, types.FieldUniqueID, types.FieldProcessedAt, types.FieldUpdatedAt:
			continue
		}
		if !docstore.Equal(prior[k], v) {
			changed[k] = v
		}
	}
	return changed
}

func (p *Promoter) yield(ctx context.Context) error {
	if p.cfg.YieldDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.YieldDelay):
		return nil
	}
}

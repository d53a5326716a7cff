package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ledgerline/recona/internal/config"
	"github.com/ledgerline/recona/internal/debug"
	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/telemetry"
	"github.com/ledgerline/recona/internal/types"
)

// Ingester streams tabular files into raw staging collections.
type Ingester struct {
	store docstore.Store
	cfg   *config.Config
}

// New creates an Ingester.
func New(store docstore.Store, cfg *config.Config) *Ingester {
	return &Ingester{store: store, cfg: cfg}
}

// IngestFile streams one file into the source's raw collection in batches.
// The file is never materialized in memory; at most one batch of rows is
// held at a time. A failed batch is logged and skipped; the rest of the
// file still lands.
func (ing *Ingester) IngestFile(ctx context.Context, ds *types.DataSource, path string) (types.IngestCounters, error) {
	var counters types.IngestCounters

	reader, err := OpenFile(path)
	if err != nil {
		return counters, err
	}
	defer reader.Close()

	fileID, err := CreateFileRecord(ctx, ing.store, ds.Name, path)
	if err != nil {
		return counters, err
	}
	counters.FileID = fileID

	rawColl := ds.RawCollection()
	if err := ing.store.EnsureCollection(ctx, rawColl); err != nil {
		return counters, ing.fail(ctx, fileID, counters, err)
	}

	headers := NormalizeHeaders(reader.Headers())
	batchSize := ing.cfg.ConversionBatchSize
	batch := make([]docstore.Document, 0, batchSize)
	rowTotal := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := ing.store.InsertMany(ctx, rawColl, batch, docstore.InsertOptions{})
		if err != nil {
			// One bad batch does not abort the file.
			debug.Warnf("ingest %s: batch of %d failed: %v\n", rawColl, len(batch), err)
		} else {
			counters.RowsInserted += n
			telemetry.RowsIngested(ctx, rawColl, n)
		}
		counters.Batches++
		batch = batch[:0]
		return ing.yield(ctx)
	}

	for {
		record, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return counters, ing.fail(ctx, fileID, counters, fmt.Errorf("read row %d: %w", rowTotal+1, err))
		}
		row := make(docstore.Document, len(headers))
		for i, h := range headers {
			row[h] = record[i]
		}
		batch = append(batch, row)
		rowTotal++
		if rowTotal == ing.cfg.LargeFileThreshold {
			debug.Logf("ingest %s: passed %d rows, large-file streaming engaged\n", rawColl, rowTotal)
		}
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return counters, ing.fail(ctx, fileID, counters, err)
			}
		}
	}
	if err := flush(); err != nil {
		return counters, ing.fail(ctx, fileID, counters, err)
	}

	set := docstore.Document{"row_count": rowTotal}
	if rowTotal >= ing.cfg.LargeFileThreshold {
		set["large_file"] = true
	}
	if err := MarkFile(ctx, ing.store, fileID, types.FileUploaded, set); err != nil {
		return counters, err
	}
	debug.Logf("ingest %s: %d rows in %d batches\n", rawColl, counters.RowsInserted, counters.Batches)
	return counters, nil
}

// yield sleeps the cooperative inter-batch interval, honoring cancellation.
func (ing *Ingester) yield(ctx context.Context) error {
	if ing.cfg.YieldDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(ing.cfg.YieldDelay):
		return nil
	}
}

func (ing *Ingester) fail(ctx context.Context, fileID string, counters types.IngestCounters, cause error) error {
	set := docstore.Document{"row_count": counters.RowsInserted, "error": cause.Error()}
	if err := MarkFile(ctx, ing.store, fileID, types.FileFailed, set); err != nil {
		debug.Warnf("ingest: mark file %s failed: %v\n", fileID, err)
	}
	return cause
}

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledgerline/recona/internal/config"
	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/docstore/sqlite"
	"github.com/ledgerline/recona/internal/types"
)

func testIngester(t *testing.T) (*Ingester, docstore.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "recona.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.ConversionBatchSize = 2 // force multiple batches
	cfg.YieldDelay = 0
	return New(store, cfg), store
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestIngestFile(t *testing.T) {
	ing, store := testIngester(t)
	ctx := context.Background()
	ds := &types.DataSource{Name: "orders"}

	path := writeCSV(t, "Order ID,Amount (USD),Trade Date\n"+
		"T1,100.50,2024-03-15\n"+
		"T2,200.00,2024-03-15\n"+
		"T3,300.25,2024-03-16\n")

	c, err := ing.IngestFile(ctx, ds, path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if c.RowsInserted != 3 {
		t.Errorf("RowsInserted = %d, want 3", c.RowsInserted)
	}
	if c.Batches != 2 {
		t.Errorf("Batches = %d, want 2 (batch size 2)", c.Batches)
	}
	if c.FileID == "" {
		t.Error("FileID not set")
	}

	// Headers were normalized before landing in raw.
	doc, err := store.FindOne(ctx, ds.RawCollection(), docstore.Where("order_id", "T1"))
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc["amount_usd"] != "100.50" {
		t.Errorf("amount_usd = %v, want raw string 100.50", doc["amount_usd"])
	}
	if doc["trade_date"] != "2024-03-15" {
		t.Errorf("trade_date = %v, want unsanitized raw string", doc["trade_date"])
	}

	// The upload record stays "uploaded" until promotion claims it.
	rec, err := store.FindOne(ctx, types.CollUploadedFiles, docstore.ByID(c.FileID))
	if err != nil {
		t.Fatalf("FindOne file record: %v", err)
	}
	if rec["status"] != string(types.FileUploaded) {
		t.Errorf("status = %v, want uploaded", rec["status"])
	}
	if rec["row_count"] != 3.0 {
		t.Errorf("row_count = %v, want 3", rec["row_count"])
	}
}

func TestIngestFile_ShortRowsPadded(t *testing.T) {
	ing, store := testIngester(t)
	ctx := context.Background()
	ds := &types.DataSource{Name: "orders"}

	path := writeCSV(t, "a,b,c\n1,2\n")
	if _, err := ing.IngestFile(ctx, ds, path); err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	doc, err := store.FindOne(ctx, ds.RawCollection(), docstore.Where("a", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if doc["c"] != "" {
		t.Errorf("c = %v, want padded empty string", doc["c"])
	}
}

func TestIngestFile_MissingFile(t *testing.T) {
	ing, _ := testIngester(t)
	ds := &types.DataSource{Name: "orders"}
	if _, err := ing.IngestFile(context.Background(), ds, "/no/such/file.csv"); err == nil {
		t.Error("want error for missing file")
	}
}

func TestIngestFile_UnknownExtension(t *testing.T) {
	ing, _ := testIngester(t)
	ds := &types.DataSource{Name: "orders"}
	path := filepath.Join(t.TempDir(), "orders.parquet")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ing.IngestFile(context.Background(), ds, path); err == nil {
		t.Error("want error for unsupported extension")
	}
}

func TestMarkSourceFiles(t *testing.T) {
	_, store := testIngester(t)
	ctx := context.Background()

	id1, err := CreateFileRecord(ctx, store, "orders", "a.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := CreateFileRecord(ctx, store, "bank", "b.csv"); err != nil {
		t.Fatal(err)
	}

	n, err := MarkSourceFiles(ctx, store, "orders", types.FileUploaded, types.FileProcessing, "")
	if err != nil {
		t.Fatalf("MarkSourceFiles: %v", err)
	}
	if n != 1 {
		t.Errorf("marked %d, want 1 (other sources untouched)", n)
	}
	rec, err := store.FindOne(ctx, types.CollUploadedFiles, docstore.ByID(id1))
	if err != nil {
		t.Fatal(err)
	}
	if rec["status"] != string(types.FileProcessing) {
		t.Errorf("status = %v, want processing", rec["status"])
	}
}

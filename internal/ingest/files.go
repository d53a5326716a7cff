package ingest

import (
	"context"
	"time"

	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/types"
)

// CreateFileRecord persists a fresh uploaded_files record and returns its id.
func CreateFileRecord(ctx context.Context, store docstore.Store, source, fileName string) (string, error) {
	if err := store.EnsureCollection(ctx, types.CollUploadedFiles); err != nil {
		return "", err
	}
	doc := docstore.Document{
		"file_name":   fileName,
		"source_name": types.NormalizeName(source),
		"status":      string(types.FileUploaded),
		"row_count":   0,
		"uploaded_at": time.Now().UTC(),
	}
	if _, err := store.InsertMany(ctx, types.CollUploadedFiles, []docstore.Document{doc}, docstore.InsertOptions{}); err != nil {
		return "", err
	}
	return doc.ID(), nil
}

// MarkFile transitions one uploaded_files record. Extra attributes (row
// counts, error text) ride along in set.
func MarkFile(ctx context.Context, store docstore.Store, fileID string, status types.FileStatus, set docstore.Document) error {
	if set == nil {
		set = docstore.Document{}
	}
	set["status"] = string(status)
	if status == types.FileProcessed || status == types.FileFailed {
		set[types.FieldProcessedAt] = time.Now().UTC()
	}
	_, err := store.UpdateMany(ctx, types.CollUploadedFiles, docstore.ByID(fileID), set)
	return err
}

// MarkSourceFiles transitions every record of a source currently in the
// from status. Used by promotion to flip processing files to processed or
// failed in one stroke. Returns how many records changed.
func MarkSourceFiles(ctx context.Context, store docstore.Store, source string, from, to types.FileStatus, errText string) (int, error) {
	if err := store.EnsureCollection(ctx, types.CollUploadedFiles); err != nil {
		return 0, err
	}
	set := docstore.Document{
		"status":              string(to),
		types.FieldProcessedAt: time.Now().UTC(),
	}
	if errText != "" {
		set["error"] = errText
	}
	filter := docstore.Where("source_name", types.NormalizeName(source)).
		And("status", docstore.OpEq, string(from))
	return store.UpdateMany(ctx, types.CollUploadedFiles, filter, set)
}

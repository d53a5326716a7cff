// Package docstore defines the document-store interface the pipeline writes
// through.
//
// The concrete implementation lives in the sqlite sub-package. This package
// holds the interface and value types referenced by both the backend and its
// consumers, so alternative backends can be registered via the factory
// sub-package.
package docstore

import (
	"context"
)

// IDField is the system-assigned identifier attribute of every document.
const IDField = "_id"

// Document is a loosely-typed attribute map. Values are restricted to the
// JSON-representable set plus time.Time (normalized to RFC3339 at the store
// boundary, see Normalize).
type Document map[string]interface{}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ID returns the document's system id, or "" when unset.
func (d Document) ID() string {
	if v, ok := d[IDField].(string); ok {
		return v
	}
	return ""
}

// Cursor streams matching documents server-side; at most one batch of
// decoded documents should ever be held by the caller.
type Cursor interface {
	// Next advances the cursor. It returns false at end of stream or error.
	Next(ctx context.Context) bool
	// Document returns the current document. Valid only after Next reported
	// true; the returned map is owned by the caller.
	Document() Document
	// Err returns the terminal error, if any.
	Err() error
	// Close releases the cursor. Safe to call multiple times.
	Close() error
}

// FindOptions tunes a Find call.
type FindOptions struct {
	Limit int
	// AfterID resumes a batch walk after the given document, in insertion
	// order. Lets a loop page through a collection without holding a
	// cursor open across writes.
	AfterID string
	// Projection restricts the attributes decoded; empty means all.
	Projection []string
}

// InsertOptions tunes InsertMany.
type InsertOptions struct {
	// IgnoreDuplicates swallows unique-index violations, retrying the batch
	// document-by-document so fresh documents in a mixed batch still land.
	IgnoreDuplicates bool
}

// WriteKind discriminates bulk write operations.
type WriteKind int

const (
	WriteInsert WriteKind = iota
	WriteUpdate
	WriteUpsert
	WriteDelete
)

// WriteOp is one operation in an unordered bulk write.
type WriteOp struct {
	Kind   WriteKind
	Doc    Document // insert: full document
	Filter Filter   // update/upsert/delete: target selector
	Set    Document // update/upsert: attributes to set
}

// WriteResult reports the outcome of a bulk write. Partial failure is
// expected: Errors counts operations that failed, the rest were applied.
type WriteResult struct {
	Inserted int
	Updated  int
	Upserted int
	Deleted  int
	Errors   int
}

// Total returns the number of operations that succeeded.
func (r WriteResult) Total() int {
	return r.Inserted + r.Updated + r.Upserted + r.Deleted
}

// Store is the document-store contract.
//
// All writes assign IDField when absent. Implementations must be safe for
// concurrent use by multiple goroutines.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, coll string) error
	// EnsureIndex creates a (optionally unique) index on one attribute.
	// Unique indexes ignore documents where the attribute is null.
	EnsureIndex(ctx context.Context, coll, field string, unique bool) error

	// InsertMany inserts documents, assigning ids where missing. Returns the
	// number inserted; with IgnoreDuplicates set, duplicates are dropped
	// silently and do not count.
	InsertMany(ctx context.Context, coll string, docs []Document, opts InsertOptions) (int, error)

	// Find streams documents matching the filter.
	Find(ctx context.Context, coll string, filter Filter, opts FindOptions) (Cursor, error)
	// FindAll collects all matches; only for small result sets.
	FindAll(ctx context.Context, coll string, filter Filter, opts FindOptions) ([]Document, error)
	// FindOne returns the first match or ErrNotFound.
	FindOne(ctx context.Context, coll string, filter Filter) (Document, error)
	// Count returns the number of matching documents.
	Count(ctx context.Context, coll string, filter Filter) (int64, error)

	// UpdateMany sets attributes on all matching documents.
	UpdateMany(ctx context.Context, coll string, filter Filter, set Document) (int, error)
	// UpsertOne updates the first match or inserts set (merged with the
	// filter's equality clauses) when nothing matches. Returns true on insert.
	UpsertOne(ctx context.Context, coll string, filter Filter, set Document) (bool, error)
	// DeleteMany removes matching documents.
	DeleteMany(ctx context.Context, coll string, filter Filter) (int64, error)

	// BulkWrite applies operations unordered within one collection.
	BulkWrite(ctx context.Context, coll string, ops []WriteOp) (WriteResult, error)

	// Collections lists existing collection names.
	Collections(ctx context.Context) ([]string, error)

	// Close releases the underlying database.
	Close() error
}

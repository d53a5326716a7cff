package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/idgen"
)

// encodeDoc splits a document into its id and JSON body. The id never lives
// in the body; it is reattached on read from the id column.
func encodeDoc(doc docstore.Document) (string, string, error) {
	id := doc.ID()
	if id == "" {
		id = idgen.NewID()
	}
	body := docstore.NormalizeDoc(doc)
	delete(body, docstore.IDField)
	raw, err := json.Marshal(body)
	if err != nil {
		return "", "", fmt.Errorf("encode document: %w", err)
	}
	return id, string(raw), nil
}

// withTx runs fn in a transaction, retrying the whole transaction on
// transient busy errors with exponential backoff.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.guard(); err != nil {
		return err
	}
	op := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusyError(err) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isBusyError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := tx.Commit(); err != nil {
			if isBusyError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
	), 4), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return wrapErr(err)
	}
	return nil
}

// InsertMany inserts documents in one transaction. With IgnoreDuplicates,
// unique-index violations are dropped document-by-document so fresh
// documents in a mixed batch still land (SQLite aborts only the offending
// statement, the transaction survives).
func (s *Store) InsertMany(ctx context.Context, coll string, docs []docstore.Document, opts docstore.InsertOptions) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	table, err := tableFor(coll)
	if err != nil {
		return 0, err
	}
	inserted := 0
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		stmt, err := tx.PrepareContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, body) VALUES (?, ?)`, table))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, doc := range docs {
			id, body, err := encodeDoc(doc)
			if err != nil {
				return err
			}
			doc[docstore.IDField] = id
			if _, err := stmt.ExecContext(ctx, id, body); err != nil {
				if isUniqueConstraintError(err) && opts.IgnoreDuplicates {
					continue
				}
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// mergeBody applies set onto a stored JSON body and re-encodes it.
func mergeBody(body string, set docstore.Document) (string, error) {
	doc := make(docstore.Document)
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return "", fmt.Errorf("corrupt document: %w", err)
	}
	for k, v := range docstore.NormalizeDoc(set) {
		if k == docstore.IDField {
			continue
		}
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *Store) updateTx(ctx context.Context, tx *sql.Tx, table string, filter docstore.Filter, set docstore.Document, limit int) (int, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT id, body FROM %s WHERE %s`, table, where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	type pending struct{ id, body string }
	var updates []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.body); err != nil {
			rows.Close()
			return 0, err
		}
		updates = append(updates, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for i := range updates {
		merged, err := mergeBody(updates[i].body, set)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET body = ? WHERE id = ?`, table), merged, updates[i].id); err != nil {
			return 0, err
		}
	}
	return len(updates), nil
}

// UpdateMany sets attributes on every matching document.
func (s *Store) UpdateMany(ctx context.Context, coll string, filter docstore.Filter, set docstore.Document) (int, error) {
	table, err := tableFor(coll)
	if err != nil {
		return 0, err
	}
	updated := 0
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.updateTx(ctx, tx, table, filter, set, 0)
		updated = n
		return err
	})
	return updated, err
}

func (s *Store) upsertTx(ctx context.Context, tx *sql.Tx, table string, filter docstore.Filter, set docstore.Document) (bool, error) {
	n, err := s.updateTx(ctx, tx, table, filter, set, 1)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	doc := filter.EqualityDoc()
	for k, v := range set {
		doc[k] = v
	}
	id, body, err := encodeDoc(doc)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, body) VALUES (?, ?)`, table), id, body); err != nil {
		return false, err
	}
	return true, nil
}

// UpsertOne updates the first match or inserts the set merged with the
// filter's equality clauses. Returns true when a new document was inserted.
func (s *Store) UpsertOne(ctx context.Context, coll string, filter docstore.Filter, set docstore.Document) (bool, error) {
	table, err := tableFor(coll)
	if err != nil {
		return false, err
	}
	inserted := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ins, err := s.upsertTx(ctx, tx, table, filter, set)
		inserted = ins
		return err
	})
	return inserted, err
}

// DeleteMany removes matching documents and returns how many were deleted.
func (s *Store) DeleteMany(ctx context.Context, coll string, filter docstore.Filter) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	table, err := tableFor(coll)
	if err != nil {
		return 0, err
	}
	where, args, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s`, table, where), args...)
	if err != nil {
		return 0, wrapErr(err)
	}
	return res.RowsAffected()
}

// BulkWrite applies operations unordered inside one transaction. A failed
// operation is counted and skipped; the rest of the batch proceeds.
func (s *Store) BulkWrite(ctx context.Context, coll string, ops []docstore.WriteOp) (docstore.WriteResult, error) {
	var result docstore.WriteResult
	if len(ops) == 0 {
		return result, nil
	}
	table, err := tableFor(coll)
	if err != nil {
		return result, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result = docstore.WriteResult{}
		for _, op := range ops {
			switch op.Kind {
			case docstore.WriteInsert:
				id, body, err := encodeDoc(op.Doc)
				if err != nil {
					result.Errors++
					continue
				}
				if _, err := tx.ExecContext(ctx,
					fmt.Sprintf(`INSERT INTO %s (id, body) VALUES (?, ?)`, table), id, body); err != nil {
					result.Errors++
					continue
				}
				result.Inserted++
			case docstore.WriteUpdate:
				n, err := s.updateTx(ctx, tx, table, op.Filter, op.Set, 0)
				if err != nil {
					result.Errors++
					continue
				}
				result.Updated += n
			case docstore.WriteUpsert:
				ins, err := s.upsertTx(ctx, tx, table, op.Filter, op.Set)
				if err != nil {
					result.Errors++
					continue
				}
				if ins {
					result.Upserted++
				} else {
					result.Updated++
				}
			case docstore.WriteDelete:
				where, args, err := compileFilter(op.Filter)
				if err != nil {
					result.Errors++
					continue
				}
				res, err := tx.ExecContext(ctx,
					fmt.Sprintf(`DELETE FROM %s WHERE %s`, table, where), args...)
				if err != nil {
					result.Errors++
					continue
				}
				if n, err := res.RowsAffected(); err == nil {
					result.Deleted += int(n)
				}
			default:
				result.Errors++
			}
		}
		return nil
	})
	if err != nil && errors.Is(err, docstore.ErrClosed) {
		return result, err
	}
	return result, err
}

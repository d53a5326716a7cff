package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/ledgerline/recona/internal/docstore"
)

// exprFor returns the SQL expression addressing one document attribute.
func exprFor(field string) string {
	if field == docstore.IDField {
		return "id"
	}
	return fmt.Sprintf("json_extract(body, '$.%s')", field)
}

// bindValue converts a filter value to a driver-compatible binding.
func bindValue(v interface{}) interface{} {
	switch t := docstore.Normalize(v).(type) {
	case nil:
		return nil
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return t
	}
}

// expandList flattens an in/nin operand into its member values.
func expandList(v interface{}) ([]interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("in/nin operand must be a list, got %T", v)
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = bindValue(rv.Index(i).Interface())
	}
	return out, nil
}

// compileClause renders one clause to SQL.
func compileClause(c docstore.Clause, args *[]interface{}) (string, error) {
	if err := validField(c.Field); err != nil {
		return "", err
	}
	expr := exprFor(c.Field)
	switch c.Op {
	case docstore.OpEq:
		if c.Value == nil {
			return expr + " IS NULL", nil
		}
		*args = append(*args, bindValue(c.Value))
		return expr + " = ?", nil
	case docstore.OpNe:
		if c.Value == nil {
			return expr + " IS NOT NULL", nil
		}
		*args = append(*args, bindValue(c.Value))
		// SQL inequality drops NULLs; a missing attribute still differs.
		return fmt.Sprintf("(%s != ? OR %s IS NULL)", expr, expr), nil
	case docstore.OpGt, docstore.OpLt, docstore.OpGe, docstore.OpLe:
		ops := map[docstore.Op]string{
			docstore.OpGt: ">", docstore.OpLt: "<",
			docstore.OpGe: ">=", docstore.OpLe: "<=",
		}
		*args = append(*args, bindValue(c.Value))
		return fmt.Sprintf("%s %s ?", expr, ops[c.Op]), nil
	case docstore.OpIn, docstore.OpNin:
		members, err := expandList(c.Value)
		if err != nil {
			return "", err
		}
		if len(members) == 0 {
			if c.Op == docstore.OpIn {
				return "0", nil // empty in-list matches nothing
			}
			return "1", nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(members)), ",")
		*args = append(*args, members...)
		if c.Op == docstore.OpIn {
			return fmt.Sprintf("%s IN (%s)", expr, placeholders), nil
		}
		return fmt.Sprintf("(%s NOT IN (%s) OR %s IS NULL)", expr, placeholders, expr), nil
	case docstore.OpExists:
		want, _ := c.Value.(bool)
		if want {
			return expr + " IS NOT NULL", nil
		}
		return expr + " IS NULL", nil
	default:
		return "", fmt.Errorf("unsupported operator %q", c.Op)
	}
}

// compileFilter renders a filter to a WHERE fragment ("1" when empty).
func compileFilter(f docstore.Filter) (string, []interface{}, error) {
	var parts []string
	var args []interface{}
	for _, c := range f.All {
		sql, err := compileClause(c, &args)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
	}
	if len(f.Any) > 0 {
		var anyParts []string
		for _, c := range f.Any {
			sql, err := compileClause(c, &args)
			if err != nil {
				return "", nil, err
			}
			anyParts = append(anyParts, sql)
		}
		parts = append(parts, "("+strings.Join(anyParts, " OR ")+")")
	}
	if len(parts) == 0 {
		return "1", nil, nil
	}
	return strings.Join(parts, " AND "), args, nil
}

// cursor streams rows from one SELECT.
type cursor struct {
	rows       *sql.Rows
	projection map[string]bool
	current    docstore.Document
	err        error
	closed     bool
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil || c.closed {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	var id, body string
	if err := c.rows.Scan(&id, &body); err != nil {
		c.err = err
		return false
	}
	doc := make(docstore.Document)
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		c.err = fmt.Errorf("corrupt document %s: %w", id, err)
		return false
	}
	doc[docstore.IDField] = id
	if len(c.projection) > 0 {
		for k := range doc {
			if !c.projection[k] && k != docstore.IDField {
				delete(doc, k)
			}
		}
	}
	c.current = doc
	return true
}

func (c *cursor) Document() docstore.Document { return c.current }

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

// Find streams documents matching the filter in insertion order.
func (s *Store) Find(ctx context.Context, coll string, filter docstore.Filter, opts docstore.FindOptions) (docstore.Cursor, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	table, err := tableFor(coll)
	if err != nil {
		return nil, err
	}
	where, args, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	if opts.AfterID != "" {
		where = fmt.Sprintf("(%s) AND rowid > (SELECT rowid FROM %s WHERE id = ?)", where, table)
		args = append(args, opts.AfterID)
	}
	query := fmt.Sprintf(`SELECT id, body FROM %s WHERE %s ORDER BY rowid`, table, where)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	var proj map[string]bool
	if len(opts.Projection) > 0 {
		proj = make(map[string]bool, len(opts.Projection))
		for _, f := range opts.Projection {
			proj[f] = true
		}
	}
	return &cursor{rows: rows, projection: proj}, nil
}

// FindAll collects all matches. Only for result sets known to be small.
func (s *Store) FindAll(ctx context.Context, coll string, filter docstore.Filter, opts docstore.FindOptions) ([]docstore.Document, error) {
	cur, err := s.Find(ctx, coll, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var docs []docstore.Document
	for cur.Next(ctx) {
		docs = append(docs, cur.Document())
	}
	return docs, cur.Err()
}

// FindOne returns the first match or docstore.ErrNotFound.
func (s *Store) FindOne(ctx context.Context, coll string, filter docstore.Filter) (docstore.Document, error) {
	docs, err := s.FindAll(ctx, coll, filter, docstore.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, docstore.ErrNotFound
	}
	return docs[0], nil
}

// Count returns the number of matching documents.
func (s *Store) Count(ctx context.Context, coll string, filter docstore.Filter) (int64, error) {
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
	var n int64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, table, where), args...).Scan(&n)
	return n, wrapErr(err)
}

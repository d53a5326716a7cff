// Package identity builds row identities: the unique_id that keys processed
// rows and the per-report mapping keys that join report contributions.
package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/ledgerline/recona/internal/docstore"
)

// componentString renders one identity component. Returns "" (treated as
// missing) for null or whitespace-only values.
func componentString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		// Render integral floats without the trailing .0 a JSON round trip
		// would otherwise introduce into composite keys.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// BuildUniqueID joins the configured key fields of a row with underscores.
// Pure: identical inputs always produce identical ids. Returns "" when the
// field list is empty or any component is null/empty after trimming.
func BuildUniqueID(row docstore.Document, fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		s := componentString(row[f])
		if s == "" {
			return ""
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "_")
}

// BuildMappingKey forms a source's composite mapping key from its configured
// field list. Fallback order when the list is empty: the row's unique_id,
// then the explicitly passed system id. Returns "" when nothing applies; the
// caller skips such rows with a warning. The system id is always passed in
// rather than read from the row, which may already be projected.
func BuildMappingKey(row docstore.Document, fields []string, docID string) string {
	if key := BuildUniqueID(row, fields); key != "" {
		return key
	}
	if len(fields) == 0 {
		if uid := componentString(row["unique_id"]); uid != "" {
			return uid
		}
		return strings.TrimSpace(docID)
	}
	return ""
}

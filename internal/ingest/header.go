// Package ingest streams tabular files into raw staging collections:
// header normalization, per-field value sanitization, and batched raw
// writes with per-file upload records.
package ingest

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	wsRe       = regexp.MustCompile(`\s+`)
	nonAlnumRe = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// unnamedColumn is the fallback for headers that normalize to nothing.
const unnamedColumn = "unnamed_column"

// NormalizeHeader canonicalizes one column name: trim, internal whitespace
// to underscores, strip non-alphanumerics, trim underscores, lowercase.
func NormalizeHeader(col string) string {
	col = strings.TrimSpace(col)
	col = wsRe.ReplaceAllString(col, "_")
	col = nonAlnumRe.ReplaceAllString(col, "")
	col = strings.Trim(col, "_")
	col = strings.ToLower(col)
	if col == "" {
		return unnamedColumn
	}
	return col
}

// NormalizeHeaders canonicalizes a column list and disambiguates duplicates
// with _1, _2, ... suffixes in first-seen order. Idempotent: normalizing an
// already-normalized list returns it unchanged.
func NormalizeHeaders(cols []string) []string {
	out := make([]string, len(cols))
	seen := make(map[string]int, len(cols))
	taken := make(map[string]bool, len(cols))
	for i, col := range cols {
		name := NormalizeHeader(col)
		if n, dup := seen[name]; dup {
			for {
				candidate := fmt.Sprintf("%s_%d", name, n)
				if !taken[candidate] {
					seen[name] = n + 1
					name = candidate
					break
				}
				n++
			}
		} else {
			seen[name] = 1
		}
		taken[name] = true
		out[i] = name
	}
	return out
}

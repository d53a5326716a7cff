package ingest

import (
	"strings"
	"time"

	"github.com/ledgerline/recona/internal/docstore"
)

// dateFieldHints mark a field as date-bearing when any appears as a
// case-insensitive substring of the field name.
var dateFieldHints = []string{
	"date", "time", "timestamp", "created", "updated", "modified",
	"dob", "birth", "expiry", "expires", "valid", "start", "end",
}

// IsDateField reports whether a field name suggests a date value.
func IsDateField(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range dateFieldHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// dateLayouts are tried in order. Go's time.Parse accepts a fractional
// second after any seconds field, which covers the .ffffff variants.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02-01-2006",
	"01/02/2006",
	"01-02-2006",
	"02/01/2006 15:04:05",
	"02-01-2006 15:04:05",
	"01/02/2006 15:04:05",
	"01-02-2006 15:04:05",
	"2006/01/02",
	"2006/01/02, 15:04:05",
	"2006/01/02 15:04:05",
	"02 Jan 2006",
	"02 January 2006",
	"Jan 02, 2006",
	"January 02, 2006",
	"20060102",
	"02.01.2006",
	"2006.01.02",
}

// isoLayouts are the ISO-8601 fallbacks; RFC3339 covers a trailing Z or
// explicit offset.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseDate attempts the configured date formats in order. Returns the
// parsed time and true on success.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// nullSentinel reports whether a trimmed lowercase string stands for null.
func nullSentinel(s string) bool {
	switch s {
	case "", "none", "null", "nan":
		return true
	}
	return false
}

// SanitizeValue cleans one field value:
//   - absent / null / sentinel strings ("none", "null", "nan") and
//     whitespace-only strings become nil;
//   - string values of date-suggesting fields are parsed through the
//     format list, keeping the original on failure;
//   - other strings are trimmed.
//
// Idempotent: sanitizing a sanitized value returns it unchanged.
func SanitizeValue(field string, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	s, isString := v.(string)
	if !isString {
		return v
	}
	s = strings.TrimSpace(s)
	if nullSentinel(strings.ToLower(s)) {
		return nil
	}
	if IsDateField(field) {
		if t, ok := ParseDate(s); ok {
			return t
		}
	}
	return s
}

// SanitizeRow cleans every field of a row in place-copy fashion.
func SanitizeRow(row docstore.Document) docstore.Document {
	out := make(docstore.Document, len(row))
	for field, v := range row {
		out[field] = SanitizeValue(field, v)
	}
	return out
}

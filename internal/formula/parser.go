// Package formula implements the report formula engine: expression parsing,
// dependency scheduling, per-row substitution and safe arithmetic
// evaluation, and piecewise conditional lookups.
package formula

import (
	"regexp"
	"strings"

	"github.com/ledgerline/recona/internal/types"
)

// qualifiedRefRe matches <coll>.<field> references. The collection must
// start with a letter or underscore so a numeric literal like 0.05 can never
// parse as coll=0, field=05.
var qualifiedRefRe = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\b`)

// derivedRefRe matches standalone derived-field identifiers: uppercase,
// at least three characters, not part of a qualified reference.
var derivedRefRe = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}\b`)

// FieldRef is one qualified <collection>.<field> reference.
type FieldRef struct {
	Collection string
	Field      string
}

// Parsed is the analysis of one formula expression.
type Parsed struct {
	// Collections mentioned, lowercased, in first-occurrence order. The
	// first is the formula's primary collection.
	Collections []string
	// Refs are the qualified field references, in occurrence order.
	Refs []FieldRef
	// DerivedRefs are standalone derived-field identifiers, deduplicated,
	// in occurrence order.
	DerivedRefs []string
}

// Primary returns the formula's primary collection, or "".
func (p *Parsed) Primary() string {
	if len(p.Collections) == 0 {
		return ""
	}
	return p.Collections[0]
}

// References reports whether the formula mentions the given collection.
func (p *Parsed) References(coll string) bool {
	coll = types.NormalizeName(coll)
	for _, c := range p.Collections {
		if c == coll {
			return true
		}
	}
	return false
}

// Parse analyzes a formula expression, extracting qualified references and
// derived references.
func Parse(expr string) *Parsed {
	p := &Parsed{}

	qualified := qualifiedRefRe.FindAllStringSubmatchIndex(expr, -1)
	seenColl := make(map[string]bool)
	covered := make([][2]int, 0, len(qualified))
	for _, m := range qualified {
		coll := strings.ToLower(expr[m[2]:m[3]])
		field := strings.ToLower(expr[m[4]:m[5]])
		p.Refs = append(p.Refs, FieldRef{Collection: coll, Field: field})
		if !seenColl[coll] {
			seenColl[coll] = true
			p.Collections = append(p.Collections, coll)
		}
		covered = append(covered, [2]int{m[0], m[1]})
	}

	seenDerived := make(map[string]bool)
	for _, m := range derivedRefRe.FindAllStringIndex(expr, -1) {
		if overlaps(m[0], m[1], covered) || adjoinsDot(expr, m[0], m[1]) {
			continue
		}
		name := expr[m[0]:m[1]]
		if !seenDerived[name] {
			seenDerived[name] = true
			p.DerivedRefs = append(p.DerivedRefs, name)
		}
	}
	return p
}

func overlaps(start, end int, spans [][2]int) bool {
	for _, s := range spans {
		if start < s[1] && end > s[0] {
			return true
		}
	}
	return false
}

// adjoinsDot rejects identifiers touching a dot on either side; those are
// halves of qualified references (or malformed ones) rather than derived
// field names.
func adjoinsDot(expr string, start, end int) bool {
	if start > 0 && expr[start-1] == '.' {
		return true
	}
	if end < len(expr) && expr[end] == '.' {
		return true
	}
	return false
}

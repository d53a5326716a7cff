package docstore

import (
	"encoding/json"
	"time"
)

// Normalize canonicalizes a value to its stored JSON form: time.Time becomes
// an RFC3339 string, integer kinds become float64, nil stays nil. Change
// detection must compare normalized forms so a freshly-sanitized value and
// its round-tripped stored twin compare equal.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

// NormalizeDoc returns a copy of doc with every value normalized.
func NormalizeDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = Normalize(v)
	}
	return out
}

// Equal compares two attribute values after normalization. Slices and maps
// fall back to JSON encoding; scalar cases are handled directly.
func Equal(a, b interface{}) bool {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

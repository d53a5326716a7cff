package docstore

import "errors"

// ErrNotFound is returned when no document matches a single-document lookup.
var ErrNotFound = errors.New("document not found")

// ErrDuplicate is returned when an insert violates a unique index.
var ErrDuplicate = errors.New("duplicate key")

// ErrClosed is returned when operating on a closed store.
var ErrClosed = errors.New("store closed")

// ErrUnavailable wraps transient backend failures; callers may retry, all
// pipeline writes are idempotent.
var ErrUnavailable = errors.New("store unavailable")

// Package factory creates document-store backends by name.
package factory

import (
	"context"
	"fmt"
	"sort"

	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/docstore/sqlite"
)

// BackendFactory opens a store at the given path.
type BackendFactory func(ctx context.Context, path string) (docstore.Store, error)

var backendRegistry = map[string]BackendFactory{
	"sqlite": func(ctx context.Context, path string) (docstore.Store, error) {
		return sqlite.Open(ctx, path)
	},
}

// RegisterBackend registers an additional store backend.
func RegisterBackend(name string, factory BackendFactory) {
	backendRegistry[name] = factory
}

// Backends lists registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backendRegistry))
	for n := range backendRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New opens a store. An empty backend defaults to sqlite.
func New(ctx context.Context, backend, path string) (docstore.Store, error) {
	if backend == "" {
		backend = "sqlite"
	}
	f, ok := backendRegistry[backend]
	if !ok {
		return nil, fmt.Errorf("unknown docstore backend %q (have %v)", backend, Backends())
	}
	return f(ctx, path)
}

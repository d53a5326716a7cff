// Package watch ingests tabular files dropped into an inbox directory.
// File names choose their data source: <source>__anything.csv.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ledgerline/recona/internal/debug"
	"github.com/ledgerline/recona/internal/pipeline"
	"github.com/ledgerline/recona/internal/types"
)

// settleDelay is how long a file must stay quiet before ingestion; upload
// tools write in bursts.
const settleDelay = 500 * time.Millisecond

// Watcher drives automatic ingestion of an inbox directory.
type Watcher struct {
	svc *pipeline.Service
	dir string
	// Promote runs promotion for the source right after each ingest.
	Promote bool
}

// New creates a Watcher over dir.
func New(svc *pipeline.Service, dir string) *Watcher {
	return &Watcher{svc: svc, dir: dir}
}

// sourceForFile extracts the data-source name from an inbox file name.
func sourceForFile(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(strings.ToLower(base), ".csv") {
		return "", false
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if i := strings.Index(stem, "__"); i > 0 {
		return types.NormalizeName(stem[:i]), true
	}
	return types.NormalizeName(stem), true
}

// Watch processes existing inbox files, then blocks ingesting new ones
// until ctx fires. Handled files move to a done/ subdirectory; failed ones
// to failed/.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("inbox watcher: %w", err)
	}

	// Drain files that were already waiting before the watch started.
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.handle(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	// pending debounces bursts of write events per file.
	pending := make(map[string]*time.Timer)
	ready := make(chan string, 16)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			path := ev.Name
			if t, exists := pending[path]; exists {
				t.Reset(settleDelay)
				continue
			}
			pending[path] = time.AfterFunc(settleDelay, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})
		case path := <-ready:
			delete(pending, path)
			if info, err := os.Stat(path); err != nil || info.IsDir() {
				continue
			}
			w.handle(ctx, path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			debug.Warnf("inbox watcher: %v\n", err)
		}
	}
}

// handle ingests one file and files it under done/ or failed/.
func (w *Watcher) handle(ctx context.Context, path string) {
	source, ok := sourceForFile(path)
	if !ok {
		debug.Logf("inbox: ignoring %s\n", path)
		return
	}

	res := w.svc.IngestFile(ctx, source, path)
	if res.Status != types.StatusOK {
		debug.Warnf("inbox: %s: %s\n", path, res.Message)
		w.file(path, "failed")
		return
	}
	debug.PrintNormal("ingested %s into %s\n", filepath.Base(path), source)

	if w.Promote {
		if res := w.svc.Promote(ctx, source); res.Status != types.StatusOK {
			debug.Warnf("inbox: promote %s: %s\n", source, res.Message)
		}
	}
	w.file(path, "done")
}

func (w *Watcher) file(path, bucket string) {
	dst := filepath.Join(w.dir, bucket)
	if err := os.MkdirAll(dst, 0o750); err != nil {
		debug.Warnf("inbox: %v\n", err)
		return
	}
	if err := os.Rename(path, filepath.Join(dst, filepath.Base(path))); err != nil {
		debug.Warnf("inbox: move %s: %v\n", path, err)
	}
}

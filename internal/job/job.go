// Package job runs pipeline jobs: one goroutine per job, a bounded pool,
// cooperative cancellation. Handlers enqueue a descriptor and move on; the
// runner owns execution.
package job

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ledgerline/recona/internal/debug"
)

// Job is one unit of background work. Run must honor ctx at batch
// boundaries; a fired context is the cancellation token.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Outcome records one finished job.
type Outcome struct {
	Name     string        `json:"name"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Runner executes jobs with bounded parallelism. Jobs are independent; one
// failure never cancels the others.
type Runner struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	outcomes []Outcome
}

// NewRunner creates a Runner allowing up to parallel concurrent jobs.
func NewRunner(parallel int) *Runner {
	if parallel <= 0 {
		parallel = 1
	}
	return &Runner{sem: semaphore.NewWeighted(int64(parallel))}
}

// RunAll executes every job and blocks until all finish or ctx fires.
// Returns the outcomes in completion order and the first error observed.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) ([]Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	var firstErr error
	var errOnce sync.Once

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			if err := r.sem.Acquire(gctx, 1); err != nil {
				r.record(j.Name, err, 0)
				return nil
			}
			defer r.sem.Release(1)

			start := time.Now()
			debug.Logf("job %s: started\n", j.Name)
			err := j.Run(gctx)
			r.record(j.Name, err, time.Since(start))
			if err != nil {
				debug.Warnf("job %s: %v\n", j.Name, err)
				errOnce.Do(func() { firstErr = err })
			} else {
				debug.Logf("job %s: done in %s\n", j.Name, time.Since(start))
			}
			// Job failures are reported through outcomes; returning nil
			// keeps sibling jobs running.
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	outcomes := r.outcomes
	r.outcomes = nil
	r.mu.Unlock()
	return outcomes, firstErr
}

func (r *Runner) record(name string, err error, d time.Duration) {
	o := Outcome{Name: name, Err: err, Duration: d}
	if err != nil {
		o.Error = err.Error()
	}
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

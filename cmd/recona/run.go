package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerline/recona/internal/job"
	"github.com/ledgerline/recona/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Promote every source in parallel, then evaluate every report",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		res := svc.ListDataSources(ctx)
		if res.Status != types.StatusOK {
			printResult(res)
			return
		}
		sources := res.Data.([]*types.DataSource)

		jobs := make([]job.Job, 0, len(sources))
		for _, ds := range sources {
			name := ds.Name
			jobs = append(jobs, job.Job{
				Name: "promote/" + name,
				Run: func(ctx context.Context) error {
					r := svc.Promote(ctx, name)
					if r.Status != types.StatusOK {
						return fmt.Errorf("%s", r.Message)
					}
					return nil
				},
			})
		}

		runner := job.NewRunner(cfg.MaxParallelJobs)
		outcomes, err := runner.RunAll(ctx, jobs)
		if err != nil {
			printResult(types.Errf(types.StatusError, err.Error(), outcomes))
			return
		}

		// Reports merge across sources; they run after every promotion and
		// sequentially, concurrent merges of one report are unsupported.
		printResult(svc.EvaluateReport(ctx, ""))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

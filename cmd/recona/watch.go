package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/ledgerline/recona/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch an inbox directory and ingest dropped files (<source>__name.csv)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		promoteAfter, _ := cmd.Flags().GetBool("promote")
		w := watch.New(svc, args[0])
		w.Promote = promoteAfter
		if err := w.Watch(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			FatalError("%v", err)
		}
	},
}

func init() {
	watchCmd.Flags().Bool("promote", false, "promote each source right after ingesting its file")
	rootCmd.AddCommand(watchCmd)
}

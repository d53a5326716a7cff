package main

import (
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source> <file>",
	Short: "Stream a tabular file into a source's raw collection",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(svc.IngestFile(cmd.Context(), args[0], args[1]))
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

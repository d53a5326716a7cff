package main

import (
	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [report]",
	Short: "Evaluate a reconciliation report (all reports when omitted)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		printResult(svc.EvaluateReport(cmd.Context(), name))
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
}

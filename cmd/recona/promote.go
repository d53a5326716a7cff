package main

import (
	"github.com/spf13/cobra"
)

var promoteCmd = &cobra.Command{
	Use:   "promote [source]",
	Short: "Promote raw rows into processed collections (all sources when omitted)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		printResult(svc.Promote(cmd.Context(), name))
	},
}

func init() {
	rootCmd.AddCommand(promoteCmd)
}

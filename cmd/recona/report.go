package main

import (
	"github.com/spf13/cobra"

	"github.com/ledgerline/recona/internal/formula"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Manage report definitions",
}

var reportDefineCmd = &cobra.Command{
	Use:   "define -f <file>",
	Short: "Validate and persist a report definition (.report.toml or .report.json)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		doc, err := formula.LoadReportFile(file)
		if err != nil {
			FatalError("%v", err)
		}
		printResult(svc.DefineReport(cmd.Context(), doc))
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <report>",
	Short: "Show one report definition",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(svc.GetReport(cmd.Context(), args[0]))
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List defined reports",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printResult(svc.ListReports(cmd.Context()))
	},
}

func init() {
	reportDefineCmd.Flags().StringP("file", "f", "", "report definition file")
	_ = reportDefineCmd.MarkFlagRequired("file")

	reportCmd.AddCommand(reportDefineCmd, reportShowCmd, reportListCmd)
	rootCmd.AddCommand(reportCmd)
}

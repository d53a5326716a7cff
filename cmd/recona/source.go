package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage data sources",
}

var sourceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a data source and its companion collections",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		uniqueIDs, _ := cmd.Flags().GetString("unique-ids")
		allowNull, _ := cmd.Flags().GetBool("allow-null-identity")
		printResult(svc.CreateDataSource(cmd.Context(), args[0], splitList(uniqueIDs), allowNull))
	},
}

var sourceFieldsCmd = &cobra.Command{
	Use:   "fields <name>",
	Short: "Set the selected fields kept in the processed view",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fields, _ := cmd.Flags().GetString("fields")
		printResult(svc.SetSelectedFields(cmd.Context(), args[0], splitList(fields)))
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured data sources",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printResult(svc.ListDataSources(cmd.Context()))
	},
}

// splitList parses a comma-separated field list, dropping empties.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func init() {
	sourceCreateCmd.Flags().String("unique-ids", "", "comma-separated fields composing the row identity")
	sourceCreateCmd.Flags().Bool("allow-null-identity", true, "insert rows missing an identity component with a null unique_id")
	sourceFieldsCmd.Flags().String("fields", "", "comma-separated fields to retain")
	_ = sourceFieldsCmd.MarkFlagRequired("fields")

	sourceCmd.AddCommand(sourceCreateCmd, sourceFieldsCmd, sourceListCmd)
	rootCmd.AddCommand(sourceCmd)
}

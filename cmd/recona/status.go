package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show uploaded files and their processing state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if err := store.EnsureCollection(ctx, types.CollUploadedFiles); err != nil {
			FatalError("%v", err)
		}
		docs, err := store.FindAll(ctx, types.CollUploadedFiles, docstore.Filter{}, docstore.FindOptions{})
		if err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			printResult(types.OK(fmt.Sprintf("%d files", len(docs)), docs))
			return
		}
		for _, doc := range docs {
			line := fmt.Sprintf("%-10v %-8v rows=%-8v %v",
				doc["status"], doc["source_name"], doc["row_count"], doc["file_name"])
			if errText, ok := doc["error"].(string); ok && errText != "" {
				line += " (" + errText + ")"
			}
			fmt.Println(line)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

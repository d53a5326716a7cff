// Command recona is a data-reconciliation pipeline: ingest tabular files
// into a document store, promote them into processed collections, and
// evaluate formula-driven reconciliation reports.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ledgerline/recona/internal/config"
	"github.com/ledgerline/recona/internal/debug"
	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/docstore/factory"
	"github.com/ledgerline/recona/internal/pipeline"
	"github.com/ledgerline/recona/internal/telemetry"
	"github.com/ledgerline/recona/internal/types"
)

// Version is stamped by the release build.
var Version = "dev"

var (
	dbPath      string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	cfg   *config.Config
	store docstore.Store
	svc   *pipeline.Service

	// Signal-aware context for graceful cancellation at batch boundaries.
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "recona",
	Short:         "Reconcile tabular data sources with formula-driven reports",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		if err := telemetry.Init(cmd.Context(), "recona", Version); err != nil {
			debug.Warnf("telemetry: %v\n", err)
		}

		store, err = factory.New(cmd.Context(), cfg.Backend, cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		svc = pipeline.New(store, cfg)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
		telemetry.Shutdown(cmd.Context())
	},
}

// FatalError prints an error and exits.
func FatalError(format string, args ...interface{}) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(os.Stderr, "%s %s\n", red("error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

// printResult renders an operation envelope. JSON mode emits the whole
// envelope; human mode prints the message and pretty-prints the data.
// Non-200 results exit non-zero.
func printResult(res types.Result) {
	if jsonOutput {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			FatalError("%v", err)
		}
		fmt.Println(string(out))
	} else if res.Status == types.StatusOK {
		debug.PrintNormal("%s\n", res.Message)
	} else {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s [%d] %s\n", yellow("!"), res.Status, res.Message)
	}
	if res.Status != types.StatusOK {
		os.Exit(1)
	}
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "document store path (default from config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit the result envelope as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable diagnostic output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		FatalError("%v", err)
	}
}

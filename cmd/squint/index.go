package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"squint/internal/incremental"
	"squint/internal/storage"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the whole repository and build every layer",
	Long: `Parses every supported source file, stores definitions, imports and call
references, then runs the full enrichment pipeline: module assignment,
interactions, flows and features.

On an already indexed repository this behaves like a sync followed by a
full rebuild of the derived layers.

Examples:
  squint index
  squint index --format json`,
	Args: cobra.NoArgs,
	Run:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIndex(cmd *cobra.Command, args []string) {
	env := mustSetup()
	lock := env.mustLock()
	defer lock.Release()

	db := env.mustOpen(false)
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := env.indexer(db).FullIndex(ctx, env.detectConfig(), syncOptions(env))
	if err != nil {
		fail(err)
	}
	decision := &incremental.StrategyDecision{
		Strategy: incremental.StrategyFull,
		Reason:   "Full index requested",
	}
	enrichment, err := env.mustEnricher(db).Run(ctx, decision)
	if err != nil {
		fail(err)
	}
	recordStrategy(env, db, result, decision)

	printResponse(&SyncResponseCLI{Sync: result, Decision: decision, Enrichment: enrichment})
}

func syncOptions(env *cliEnv) incremental.SyncOptions {
	return incremental.SyncOptions{
		Verbose: verboseFlag > 0,
		LogFunc: func(msg string) { env.logger.Info(msg) },
	}
}

// recordStrategy stamps the sync run with the strategy that followed it
func recordStrategy(env *cliEnv, db *storage.DB, result *incremental.SyncResult, decision *incremental.StrategyDecision) {
	if result.RunID == "" {
		return
	}
	err := storage.NewSyncRunRepository(db.Conn()).SetStrategy(result.RunID, string(decision.Strategy), decision.Reason)
	if err != nil {
		env.logger.Warn("Failed to record sync strategy", "run", result.RunID, "error", err.Error())
	}
}

func printResponse(resp interface{}) {
	out, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		fail(err)
	}
	fmt.Println(out)
}

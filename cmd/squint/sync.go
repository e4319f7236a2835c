package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"squint/internal/dirty"
	"squint/internal/incremental"
	"squint/internal/index"
	"squint/internal/storage"
	"squint/internal/watcher"
)

var (
	syncDryRun        bool
	syncStrategy      string
	syncWatch         bool
	syncWatchInterval time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply file changes since the last sync and re-enrich",
	Long: `Detects added, modified and deleted files by content hash, applies them
file by file, then picks an enrichment strategy from how much changed:

  none         no definition changed
  incremental  only the dirty parts of each layer are recomputed
  full         derived layers are rebuilt from scratch

A concurrent sync fails fast with DATABASE_LOCKED.

Examples:
  squint sync
  squint sync --dry-run
  squint sync --strategy full
  squint sync --watch --watch-interval 5s`,
	Args: cobra.NoArgs,
	Run:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Show detected changes without writing")
	syncCmd.Flags().StringVar(&syncStrategy, "strategy", "auto", "Enrichment strategy (auto, none, incremental, full)")
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "Keep running and sync whenever files change")
	syncCmd.Flags().DurationVar(&syncWatchInterval, "watch-interval", watcher.DefaultConfig().PollInterval, "Watch mode polling interval")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) {
	var forced incremental.Strategy
	if syncStrategy != "auto" {
		s, err := incremental.ParseStrategy(syncStrategy)
		if err != nil {
			fail(err)
		}
		forced = s
	}

	env := mustSetup()
	if syncDryRun {
		runDryRun(env, forced)
		return
	}

	db := env.mustOpen(true)
	defer db.Close()
	ctx, cancel := signalContext()
	defer cancel()

	if syncWatch {
		runWatch(ctx, env, db, forced)
		return
	}

	lock := env.mustLock()
	resp, err := syncOnce(ctx, env, db, forced)
	lock.Release()
	if err != nil {
		fail(err)
	}
	printResponse(resp)
}

// syncOnce applies detected changes and runs the chosen enrichment.
// The caller holds the sync lock.
func syncOnce(ctx context.Context, env *cliEnv, db *storage.DB, forced incremental.Strategy) (*SyncResponseCLI, error) {
	indexer := env.indexer(db)
	detection, err := indexer.Detector(env.detectConfig()).DetectChanges()
	if err != nil {
		return nil, err
	}
	result, err := indexer.ApplySync(ctx, detection.Changes, syncOptions(env))
	if err != nil {
		return nil, err
	}

	decision := &incremental.StrategyDecision{Strategy: forced, Reason: "Forced by --strategy"}
	if forced == "" {
		decision, err = incremental.SelectStrategy(db.Conn(), dirty.NewTracker(db.Conn()), result, env.thresholds())
		if err != nil {
			return nil, err
		}
	}
	env.logger.Info("Strategy selected", "strategy", decision.Strategy, "reason", decision.Reason)

	enrichment, err := env.mustEnricher(db).Run(ctx, decision)
	if err != nil {
		return nil, err
	}
	recordStrategy(env, db, result, decision)
	return &SyncResponseCLI{Sync: result, Decision: decision, Enrichment: enrichment}, nil
}

// runWatch syncs whenever the tree drifts from the index, taking the lock
// per run so other commands can interleave
func runWatch(ctx context.Context, env *cliEnv, db *storage.DB, forced incremental.Strategy) {
	detector := env.indexer(db).Detector(env.detectConfig())
	probe := func() ([]string, error) {
		detection, err := detector.DetectChanges()
		if err != nil {
			return nil, err
		}
		keys := make([]string, len(detection.Changes))
		for i, c := range detection.Changes {
			keys[i] = c.Path + ":" + string(c.ChangeType) + ":" + c.Hash
		}
		return keys, nil
	}
	handler := func(ctx context.Context) error {
		lock, err := index.AcquireLock(env.stateDir())
		if err != nil {
			return err
		}
		defer lock.Release()
		resp, err := syncOnce(ctx, env, db, forced)
		if err != nil {
			return err
		}
		printResponse(resp)
		return nil
	}

	cfg := watcher.DefaultConfig()
	cfg.PollInterval = syncWatchInterval
	if err := watcher.New(cfg, probe, handler, env.logger).Run(ctx); err != nil {
		fail(err)
	}
}

// runDryRun reports what a sync would apply. The strategy depends on the
// definitions a sync produces, so without --strategy it is only known to be
// none when nothing changed.
func runDryRun(env *cliEnv, forced incremental.Strategy) {
	db := env.mustOpen(true)
	defer db.Close()

	detection, err := env.indexer(db).Detector(env.detectConfig()).DetectChanges()
	if err != nil {
		fail(err)
	}
	resp := &DryRunResponseCLI{
		Added:     []string{},
		Modified:  []string{},
		Deleted:   []string{},
		Unchanged: detection.UnchangedCount,
	}
	for _, c := range detection.Changes {
		switch c.ChangeType {
		case incremental.ChangeAdded:
			resp.Added = append(resp.Added, c.Path)
		case incremental.ChangeModified:
			resp.Modified = append(resp.Modified, c.Path)
		case incremental.ChangeDeleted:
			resp.Deleted = append(resp.Deleted, c.Path)
		}
	}

	switch {
	case forced != "":
		resp.Strategy = string(forced)
	case len(detection.Changes) == 0:
		resp.Strategy = string(incremental.StrategyNone)
	default:
		resp.Strategy = "auto (decided after changes are applied)"
	}
	printResponse(resp)
}

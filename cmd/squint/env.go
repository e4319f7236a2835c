package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"squint/internal/config"
	ckerrors "squint/internal/errors"
	"squint/internal/incremental"
	"squint/internal/index"
	"squint/internal/llm"
	"squint/internal/modules"
	"squint/internal/parser"
	"squint/internal/pipeline"
	"squint/internal/slogutil"
	"squint/internal/storage"
)

// cliEnv is what every command resolves before doing work
type cliEnv struct {
	root   string
	cfg    *config.Config
	logger *slog.Logger
}

// mustSetup loads .env, the config and a logger for the working directory.
func mustSetup() *cliEnv {
	root, err := os.Getwd()
	if err != nil {
		fail(err)
	}
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %v\n", err)
	}

	cfg, err := config.LoadConfig(root)
	if err != nil {
		fail(fmt.Errorf("failed to load config: %w", err))
	}

	level := slogutil.LevelFromString(cfg.Logging.Level)
	if verboseFlag > 0 || quietFlag {
		level = slogutil.LevelFromVerbosity(verboseFlag, quietFlag)
	}
	logFormat := cfg.Logging.Format
	if formatFlag == string(FormatJSON) {
		logFormat = "json"
	}
	return &cliEnv{
		root:   root,
		cfg:    cfg,
		logger: slogutil.NewFormatLogger(os.Stderr, logFormat, level),
	}
}

func (e *cliEnv) stateDir() string {
	return filepath.Join(e.root, config.StateDir)
}

// heldLock is released by fail, since os.Exit skips deferred calls
var heldLock *index.Lock

// mustLock takes the sync lock or exits with DATABASE_LOCKED
func (e *cliEnv) mustLock() *index.Lock {
	lock, err := index.AcquireLock(e.stateDir())
	if err != nil {
		fail(err)
	}
	heldLock = lock
	return lock
}

// mustOpen opens the store. With mustExist a missing database is
// DATABASE_MISSING rather than a fresh empty one.
func (e *cliEnv) mustOpen(mustExist bool) *storage.DB {
	db, err := storage.Open(e.root, storage.Options{
		BusyTimeoutMs: e.cfg.Storage.BusyTimeoutMs,
		MustExist:     mustExist,
	}, e.logger)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fail(ckerrors.New(ckerrors.DatabaseMissing, "no index found in "+config.StateDir, err))
		}
		fail(err)
	}
	return db
}

func (e *cliEnv) detectConfig() *incremental.Config {
	return &incremental.Config{
		Excludes:         e.cfg.Sync.Excludes,
		RespectGitignore: e.cfg.Sync.RespectGitignore,
	}
}

func (e *cliEnv) thresholds() incremental.Thresholds {
	return incremental.Thresholds{
		DefsChangedRatio: e.cfg.Sync.DefsChangedRatio,
		ModuleRatio:      e.cfg.Sync.ModuleRatio,
		InteractionRatio: e.cfg.Sync.InteractionRatio,
	}
}

func (e *cliEnv) indexer(db *storage.DB) *incremental.Indexer {
	registry := parser.NewDefaultRegistry(parser.GoModulePath(e.root))
	return incremental.NewIndexer(e.root, db, registry, e.logger)
}

// mustEnricher wires the enrichment pipeline with module declarations and
// the LLM client from config
func (e *cliEnv) mustEnricher(db *storage.DB) *pipeline.Enricher {
	decls, err := modules.LoadDeclarations(e.root, e.cfg.Modules.DeclarationFile)
	if err != nil {
		fail(fmt.Errorf("failed to load module declarations: %w", err))
	}
	assigner := modules.NewAssigner(decls, e.logger)
	return pipeline.NewEnricher(db, e.cfg, assigner, llm.NewClient(e.cfg.LLM, e.logger), e.logger)
}

// fail prints err with its suggested fixes and exits
func fail(err error) {
	if heldLock != nil {
		heldLock.Release()
	}
	if OutputFormat(formatFlag) == FormatJSON {
		resp := map[string]interface{}{"error": err.Error()}
		var se *ckerrors.SquintError
		if errors.As(err, &se) {
			resp["code"] = se.Code
			resp["suggestedFixes"] = se.SuggestedFixes
		}
		if out, ferr := formatJSON(resp); ferr == nil {
			fmt.Fprintln(os.Stderr, out)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	for _, fix := range ckerrors.GetSuggestedFixes(ckerrors.CodeOf(err)) {
		if fix.Command == "" {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", fix.Description)
			continue
		}
		fmt.Fprintf(os.Stderr, "  hint: %s (%s)\n", fix.Description, fix.Command)
	}
	os.Exit(1)
}

package incremental

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"squint/internal/cascade"
	"squint/internal/dirty"
	ckerrors "squint/internal/errors"
	"squint/internal/parser"
	"squint/internal/storage"
)

// Indexer applies detected changes to the index
type Indexer struct {
	repoRoot string
	db       *storage.DB
	registry *parser.Registry
	updater  *IndexUpdater
	logger   *slog.Logger
}

// NewIndexer creates a new incremental indexer
func NewIndexer(repoRoot string, db *storage.DB, registry *parser.Registry, logger *slog.Logger) *Indexer {
	return &Indexer{
		repoRoot: repoRoot,
		db:       db,
		registry: registry,
		updater:  NewIndexUpdater(logger),
		logger:   logger,
	}
}

// Detector returns a change detector over the same store and parsers
func (i *Indexer) Detector(config *Config) *ChangeDetector {
	return NewChangeDetector(i.repoRoot, storage.NewFileRepository(i.db.Conn()), i.registry, config, i.logger)
}

// parsedChange is a changed file read and parsed ahead of any writes
type parsedChange struct {
	change   ChangedFile
	language string
	parsed   *parser.ParsedFile
	hash     string
	fileID   int64
}

// lockError maps sqlite busy/locked failures to DATABASE_LOCKED
func lockError(err error) error {
	if err != nil && storage.IsLocked(err) {
		return ckerrors.New(ckerrors.DatabaseLocked, "another process is writing to the index", err)
	}
	return err
}

// ApplySync applies changes file by file, deletions first, each file in one
// transaction; files that fail to read or parse are skipped with a warning. A lock conflict aborts the run with
// DATABASE_LOCKED; files committed before it stay valid.
func (i *Indexer) ApplySync(ctx context.Context, changes []ChangedFile, opts SyncOptions) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{RunID: uuid.NewString()}

	// An empty write transaction takes the write lock, so a concurrent
	// writer is reported before anything is parsed.
	if err := i.db.WithTx(func(*sqlx.Tx) error { return nil }); err != nil {
		return nil, lockError(err)
	}
	if !opts.InitialIndex {
		if err := storage.EnsureNotEmpty(i.db.Conn()); err != nil {
			return nil, err
		}
	}

	known, err := storage.NewFileRepository(i.db.Conn()).KnownPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to load indexed paths: %w", err)
	}
	for _, c := range changes {
		if c.ChangeType == ChangeDeleted {
			delete(known, c.Path)
		} else {
			known[c.Path] = true
		}
	}

	pending := deletionsFirst(i.parseChanges(changes, known, result, opts))
	forward := forwardDependencies(pending)

	resolver, err := newReferenceResolver(i.db.Conn())
	if err != nil {
		return nil, err
	}

	// Phase 1: one transaction per file with definitions, references and
	// hash. A file whose references reach a file applied later in this run
	// keeps an empty hash and is finished in phase 2.
	var (
		touchedIDs   []int64
		touchedNames []string
		dq           = dependentQuery{exclude: make(map[int64]bool)}
		deferred     []*parsedChange
	)
	for k, pc := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var (
			out     *fileOutcome
			imports int
		)
		err := i.db.WithTx(func(tx *sqlx.Tx) error {
			var err error
			out, err = i.updater.applyFileDelta(tx, pc.change, pc.language, pc.parsed)
			if err != nil || pc.change.ChangeType == ChangeDeleted || forward[k] {
				return err
			}
			imports, err = i.finishFile(tx, resolver, pc, out.fileID)
			return err
		})
		if err != nil {
			if storage.IsLocked(err) {
				return nil, lockError(err)
			}
			return nil, fmt.Errorf("failed to apply %s: %w", pc.change.Path, err)
		}

		pc.fileID = out.fileID
		if pc.change.ChangeType == ChangeDeleted {
			resolver.forget(pc.change.Path)
		} else {
			resolver.track(pc.change.Path, out.fileID)
			if forward[k] {
				deferred = append(deferred, pc)
			}
		}
		result.ImportsRefreshed += imports
		result.AddedDefinitionIDs = append(result.AddedDefinitionIDs, out.added...)
		result.UpdatedDefinitionIDs = append(result.UpdatedDefinitionIDs, out.updated...)
		result.RemovedDefinitionIDs = append(result.RemovedDefinitionIDs, out.removed...)
		touchedIDs = append(touchedIDs, out.added...)
		touchedIDs = append(touchedIDs, out.updated...)
		touchedNames = append(touchedNames, out.names...)
		dq.referencingFiles = append(dq.referencingFiles, out.referencingFiles...)

		switch pc.change.ChangeType {
		case ChangeAdded:
			result.FilesAdded++
			dq.addedPaths = append(dq.addedPaths, pc.change.Path)
		case ChangeModified:
			result.FilesModified++
		case ChangeDeleted:
			result.FilesDeleted++
			dq.deletedPaths = append(dq.deletedPaths, pc.change.Path)
		}
		if len(out.added) > 0 {
			dq.targetFileIDs = append(dq.targetFileIDs, out.fileID)
		}
		if isGoPath(pc.change.Path) && (len(out.added) > 0 || len(out.removed) > 0) {
			dq.goDirs = append(dq.goDirs, path.Dir(pc.change.Path))
		}
		if out.fileID != 0 {
			dq.exclude[out.fileID] = true
		}
		opts.logf(fmt.Sprintf("%s %s: +%d ~%d -%d definitions",
			pc.change.ChangeType, pc.change.Path, len(out.added), len(out.updated), len(out.removed)))
	}

	// Phase 2: references of files that reached forward, hash last
	for _, pc := range deferred {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var imports int
		err := i.db.WithTx(func(tx *sqlx.Tx) error {
			var err error
			imports, err = i.finishFile(tx, resolver, pc, pc.fileID)
			return err
		})
		if err != nil {
			if storage.IsLocked(err) {
				return nil, lockError(err)
			}
			return nil, fmt.Errorf("failed to resolve references of %s: %w", pc.change.Path, err)
		}
		result.ImportsRefreshed += imports
	}

	// Phase 3: dependents whose references may now resolve differently
	if err := i.reResolveDependents(ctx, resolver, dq, result, opts); err != nil {
		return nil, err
	}

	// Phase 4: inheritance, repairs, propagation, ledger
	err = i.db.WithTx(func(tx *sqlx.Tx) error {
		edges, err := recomputeInheritance(tx, resolver, touchedIDs, touchedNames)
		if err != nil {
			return err
		}
		result.InheritanceEdges = edges

		dangling, err := cascade.CleanDanglingSymbolRefs(tx)
		if err != nil {
			return err
		}
		result.DanglingRefsCleaned = int(dangling)

		ghosts, err := cascade.CleanGhostRows(tx)
		if err != nil {
			return err
		}
		result.GhostRowsCleaned = int(ghosts)

		prop, err := dirty.Propagate(tx, dirty.NewTracker(tx))
		if err != nil {
			return err
		}
		result.InteractionsRecalculated = prop.Interactions

		if result.StaleMetadataCount, err = storage.NewMetadataRepository(tx).StaleCount(); err != nil {
			return err
		}
		if result.UnassignedCount, err = storage.NewMemberRepository(tx).UnassignedCount(); err != nil {
			return err
		}

		result.DefinitionsAdded = len(result.AddedDefinitionIDs)
		result.DefinitionsUpdated = len(result.UpdatedDefinitionIDs)
		result.DefinitionsRemoved = len(result.RemovedDefinitionIDs)
		result.Duration = time.Since(start)

		counts, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return storage.NewSyncRunRepository(tx).Insert(&storage.SyncRun{
			ID:         result.RunID,
			StartedAt:  start.Unix(),
			FinishedAt: time.Now().Unix(),
			CountsJSON: string(counts),
		})
	})
	if err != nil {
		if storage.IsLocked(err) {
			return nil, lockError(err)
		}
		return nil, fmt.Errorf("failed to finalize sync: %w", err)
	}

	i.logger.Info("Sync applied",
		"runId", result.RunID,
		"filesAdded", result.FilesAdded,
		"filesModified", result.FilesModified,
		"filesDeleted", result.FilesDeleted,
		"filesSkipped", result.FilesSkipped,
		"definitionsAdded", result.DefinitionsAdded,
		"definitionsUpdated", result.DefinitionsUpdated,
		"definitionsRemoved", result.DefinitionsRemoved,
		"duration", result.Duration.String(),
	)
	return result, nil
}

// finishFile writes a file's references and then its content hash, which
// marks the file as fully indexed. Returns the number of imports written.
func (i *Indexer) finishFile(tx *sqlx.Tx, resolver *referenceResolver, pc *parsedChange, fileID int64) (int, error) {
	n, err := resolver.replaceReferences(tx, pc.change.Path, fileID, pc.parsed)
	if err != nil {
		return 0, err
	}
	return n, storage.NewFileRepository(tx).UpdateContent(&storage.File{
		ID:          fileID,
		Path:        pc.change.Path,
		Language:    pc.language,
		ContentHash: pc.hash,
		SizeBytes:   pc.change.Size,
		ModifiedAt:  pc.change.ModifiedAt,
	})
}

// deletionsFirst moves deleted files ahead, keeping the order otherwise
func deletionsFirst(pending []*parsedChange) []*parsedChange {
	sort.SliceStable(pending, func(a, b int) bool {
		return pending[a].change.ChangeType == ChangeDeleted && pending[b].change.ChangeType != ChangeDeleted
	})
	return pending
}

// forwardDependencies reports, per change, whether its imports or Go
// package siblings include a file applied after it
func forwardDependencies(pending []*parsedChange) []bool {
	out := make([]bool, len(pending))
	laterPaths := make(map[string]bool)
	laterGoDirs := make(map[string]bool)
	for k := len(pending) - 1; k >= 0; k-- {
		pc := pending[k]
		if pc.parsed != nil {
			out[k] = reachesAny(pc.change.Path, pc.parsed, laterPaths, laterGoDirs)
		}
		laterPaths[pc.change.Path] = true
		if isGoPath(pc.change.Path) {
			laterGoDirs[path.Dir(pc.change.Path)] = true
		}
	}
	return out
}

func reachesAny(filePath string, pf *parser.ParsedFile, paths, goDirs map[string]bool) bool {
	goFile := isGoPath(filePath)
	if goFile && goDirs[path.Dir(filePath)] {
		return true
	}
	for _, imp := range pf.Imports {
		if imp.IsExternal || imp.ResolvedPath == "" {
			continue
		}
		if (goFile && goDirs[imp.ResolvedPath]) || (!goFile && paths[imp.ResolvedPath]) {
			return true
		}
	}
	return false
}

// parseChanges reads and parses every added or modified file before any
// write. Unreadable or unparseable files are dropped with a warning.
func (i *Indexer) parseChanges(changes []ChangedFile, known map[string]bool, result *SyncResult, opts SyncOptions) []*parsedChange {
	var out []*parsedChange
	for _, c := range changes {
		if c.ChangeType == ChangeDeleted {
			out = append(out, &parsedChange{change: c})
			continue
		}
		p := i.registry.ForPath(c.Path)
		if p == nil {
			result.warn(c.Path, "no parser for file type")
			continue
		}
		content, err := os.ReadFile(filepath.Join(i.repoRoot, filepath.FromSlash(c.Path)))
		if err != nil {
			result.warn(c.Path, fmt.Sprintf("read failed: %v", err))
			i.logger.Warn("Skipping unreadable file", "path", c.Path, "error", err.Error())
			continue
		}
		pf, err := p.Parse(content, c.Path, known)
		if err != nil {
			result.warn(c.Path, err.Error())
			i.logger.Warn("Skipping unparseable file", "path", c.Path, "error", err.Error())
			opts.logf(fmt.Sprintf("skipped %s: %v", c.Path, err))
			continue
		}
		language := pf.Language
		if language == "" {
			language = i.registry.LanguageOf(c.Path)
		}
		out = append(out, &parsedChange{
			change:   c,
			language: language,
			parsed:   pf,
			hash:     HashContent(content),
		})
	}
	return out
}

// reResolveDependents re-parses unchanged files that import or reference
// what changed and rewrites their references. Their modules become dirty
// since their call edges may have moved.
func (i *Indexer) reResolveDependents(ctx context.Context, resolver *referenceResolver, dq dependentQuery, result *SyncResult, opts SyncOptions) error {
	dependents, err := NewDependencyTracker(i.db.Conn()).FindDependents(dq, resolver.pathIDs)
	if err != nil {
		return err
	}
	if len(dependents) == 0 {
		return nil
	}

	idPaths := make(map[int64]string, len(resolver.pathIDs))
	for p, id := range resolver.pathIDs {
		idPaths[id] = p
	}
	sort.Slice(dependents, func(a, b int) bool { return idPaths[dependents[a]] < idPaths[dependents[b]] })

	for _, fileID := range dependents {
		if err := ctx.Err(); err != nil {
			return err
		}
		filePath := idPaths[fileID]
		p := i.registry.ForPath(filePath)
		if p == nil {
			continue
		}
		content, err := os.ReadFile(filepath.Join(i.repoRoot, filepath.FromSlash(filePath)))
		if err != nil {
			i.logger.Warn("Skipping unreadable dependent", "path", filePath, "error", err.Error())
			continue
		}
		pf, err := p.Parse(content, filePath, resolver.known)
		if err != nil {
			i.logger.Warn("Skipping unparseable dependent", "path", filePath, "error", err.Error())
			continue
		}

		err = i.db.WithTx(func(tx *sqlx.Tx) error {
			if _, err := resolver.replaceReferences(tx, filePath, fileID, pf); err != nil {
				return err
			}
			defIDs, err := storage.NewDefinitionRepository(tx).IDsByFile(fileID)
			if err != nil {
				return err
			}
			modules, err := storage.NewMemberRepository(tx).ModulesOf(defIDs)
			if err != nil {
				return err
			}
			return dirty.NewTracker(tx).MarkDirtyMany(dirty.LayerModules, modules, dirty.ReasonParentDirty)
		})
		if err != nil {
			if storage.IsLocked(err) {
				return lockError(err)
			}
			return fmt.Errorf("failed to re-resolve %s: %w", filePath, err)
		}
		result.DependentFilesReResolved++
		opts.logf(fmt.Sprintf("re-resolved %s", filePath))
	}
	return nil
}

// FullIndex scans the whole tree and indexes it. On an empty store every
// file is new; on a populated store this is a sync that skips the
// not-empty check.
func (i *Indexer) FullIndex(ctx context.Context, config *Config, opts SyncOptions) (*SyncResult, error) {
	detection, err := i.Detector(config).DetectChanges()
	if err != nil {
		return nil, err
	}
	opts.InitialIndex = true
	return i.ApplySync(ctx, detection.Changes, opts)
}

// FormatResult renders a sync result for terminal display
func FormatResult(r *SyncResult) string {
	if r.FilesAdded+r.FilesModified+r.FilesDeleted == 0 && r.FilesSkipped == 0 {
		return "Index is up to date. Nothing to do."
	}
	return fmt.Sprintf(`
Sync Complete
-------------
Files:        %d added, %d modified, %d deleted, %d skipped
Definitions:  %d added, %d updated, %d removed
Imports:      %d refreshed, %d dependent files re-resolved
Inheritance:  %d edges
Repairs:      %d dangling refs, %d ghost rows
Stale:        %d definitions without metadata, %d unassigned
Interactions: %d to recalculate
Time:         %v
`,
		r.FilesAdded, r.FilesModified, r.FilesDeleted, r.FilesSkipped,
		r.DefinitionsAdded, r.DefinitionsUpdated, r.DefinitionsRemoved,
		r.ImportsRefreshed, r.DependentFilesReResolved,
		r.InheritanceEdges,
		r.DanglingRefsCleaned, r.GhostRowsCleaned,
		r.StaleMetadataCount, r.UnassignedCount,
		r.InteractionsRecalculated,
		r.Duration.Round(time.Millisecond),
	)
}

package interactions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"squint/internal/dirty"
	"squint/internal/storage"
)

// Generator recomputes interactions from the call graph
type Generator struct {
	opts   Options
	logger *slog.Logger
}

// NewGenerator creates a generator
func NewGenerator(opts Options, logger *slog.Logger) *Generator {
	return &Generator{opts: opts, logger: logger}
}

// Result reports one regeneration
type Result struct {
	// DirtyModules is the modules dirty set as read at the start, before
	// the caller drains it
	DirtyModules []int64 `json:"dirtyModules"`
	Upserted     int     `json:"upserted"`
	Unchanged    int     `json:"unchanged"`
	Removed      int     `json:"removed"`
	// Changed holds the interactions marked dirty
	Changed []int64 `json:"changed"`
}

// Regenerate recomputes the interactions touching dirty modules (every
// interaction when full is set). New and changed interactions are upserted
// by module pair and marked dirty; AST-derived interactions no longer backed
// by a call or inheritance edge are deleted, and the flows stepping on them
// are marked dirty first. The modules layer is left for the caller to drain.
func (g *Generator) Regenerate(ctx context.Context, q sqlx.Ext, tracker *dirty.Tracker, full bool) (*Result, error) {
	dirtyMods, err := tracker.GetDirtyIDs(dirty.LayerModules)
	if err != nil {
		return nil, fmt.Errorf("failed to read dirty modules: %w", err)
	}
	res := &Result{DirtyModules: dirtyMods}
	if !full && len(dirtyMods) == 0 {
		g.logger.Debug("No dirty modules, interactions untouched")
		return res, nil
	}

	scope := make(map[int64]bool, len(dirtyMods))
	for _, id := range dirtyMods {
		scope[id] = true
	}
	inScope := func(p Pair) bool { return full || scope[p.From] || scope[p.To] }

	candidates, err := g.candidates(q)
	if err != nil {
		return nil, err
	}

	repo := storage.NewInteractionRepository(q)
	existing, err := repo.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}
	byPair := make(map[Pair]storage.Interaction, len(existing))
	for _, in := range existing {
		byPair[Pair{in.FromModuleID, in.ToModuleID}] = in
	}

	wanted := make(map[Pair]bool, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := Pair{c.FromModuleID, c.ToModuleID}
		wanted[p] = true
		if !inScope(p) {
			continue
		}
		old, ok := byPair[p]
		if ok && sameShape(old, c) {
			res.Unchanged++
			continue
		}

		id, err := repo.Upsert(&c)
		if err != nil {
			return nil, err
		}
		reason := dirty.ReasonAdded
		if ok {
			reason = dirty.ReasonModified
			// The old description no longer matches
			if err := repo.SetSemantic(id, ""); err != nil {
				return nil, err
			}
		}
		if err := tracker.MarkDirty(dirty.LayerInteractions, id, reason); err != nil {
			return nil, err
		}
		res.Upserted++
		res.Changed = append(res.Changed, id)
	}

	var stale []int64
	for _, old := range existing {
		p := Pair{old.FromModuleID, old.ToModuleID}
		if wanted[p] || !inScope(p) {
			continue
		}
		if old.Source != storage.SourceAST && old.Source != storage.SourceASTImport {
			continue
		}
		stale = append(stale, old.ID)
	}
	if len(stale) > 0 {
		flowIDs, err := storage.NewFlowRepository(q).TouchingInteractions(stale)
		if err != nil {
			return nil, err
		}
		if err := tracker.MarkDirtyMany(dirty.LayerFlows, flowIDs, dirty.ReasonParentDirty); err != nil {
			return nil, err
		}
		if _, err := repo.Delete(stale); err != nil {
			return nil, fmt.Errorf("failed to delete stale interactions: %w", err)
		}
		if err := tracker.Unmark(dirty.LayerInteractions, stale); err != nil {
			return nil, err
		}
		res.Removed = len(stale)
	}

	g.logger.Info("Interactions regenerated",
		"full", full,
		"dirtyModules", len(dirtyMods),
		"upserted", res.Upserted,
		"unchanged", res.Unchanged,
		"removed", res.Removed,
	)
	return res, nil
}

func (g *Generator) candidates(q sqlx.Ext) ([]storage.Interaction, error) {
	modules, err := storage.NewModuleRepository(q).ByID()
	if err != nil {
		return nil, fmt.Errorf("failed to load modules: %w", err)
	}
	edges, err := storage.ModuleCallGraph(q)
	if err != nil {
		return nil, err
	}
	annotations, err := storage.NewAnnotationRepository(q).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}
	assignments, err := storage.NewMemberRepository(q).Assignments()
	if err != nil {
		return nil, fmt.Errorf("failed to load module members: %w", err)
	}
	return Aggregate(edges, modules, InheritancePairs(annotations, assignments), g.opts), nil
}

func sameShape(a, b storage.Interaction) bool {
	return a.Direction == b.Direction &&
		a.Weight == b.Weight &&
		a.Pattern == b.Pattern &&
		a.Symbols == b.Symbols &&
		a.Source == b.Source
}

// Package pipeline runs the enrichment layers after a sync, in dependency
// order, each consuming the dirty set of the layer below it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"squint/internal/config"
	"squint/internal/dirty"
	"squint/internal/features"
	"squint/internal/flows"
	"squint/internal/incremental"
	"squint/internal/interactions"
	"squint/internal/llm"
	"squint/internal/modules"
	"squint/internal/storage"
)

// Step names
const (
	StepModules       = "modules"
	StepRelationships = "relationships"
	StepInteractions  = "interactions"
	StepFlows         = "flows"
	StepFeatures      = "features"
)

// StepResult reports one enrichment step
type StepResult struct {
	Name     string        `json:"name"`
	Skipped  bool          `json:"skipped,omitempty"`
	Drained  int64         `json:"drained"`
	Duration time.Duration `json:"duration"`
}

// Result reports an enrichment run
type Result struct {
	Strategy incremental.Strategy `json:"strategy"`
	Steps    []StepResult         `json:"steps"`

	ModulesTouched []int64                      `json:"modulesTouched,omitempty"`
	Interactions   *interactions.Result         `json:"interactions,omitempty"`
	Described      *interactions.DescribeResult `json:"described,omitempty"`
	Flows          *flows.BuildResult           `json:"flows,omitempty"`
	Features       *features.Result             `json:"features,omitempty"`
}

// Enricher owns the enrichment components
type Enricher struct {
	db        *storage.DB
	assigner  *modules.Assigner
	generator *interactions.Generator
	describer *interactions.Describer
	builder   *flows.Builder
	logger    *slog.Logger
}

// NewEnricher wires the enrichment components from config. A nil client
// makes every LLM-backed step use its deterministic fallback.
func NewEnricher(db *storage.DB, cfg *config.Config, assigner *modules.Assigner, client llm.Client, logger *slog.Logger) *Enricher {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	opts := flows.OptionsFromConfig(cfg)
	return &Enricher{
		db:        db,
		assigner:  assigner,
		generator: interactions.NewGenerator(interactions.OptionsFromConfig(cfg.Interactions), logger),
		describer: interactions.NewDescriber(client, cfg.LLM.BatchSize, timeout, logger),
		builder:   flows.NewBuilder(flows.NewClassifier(client, opts.BatchSize, timeout, logger), opts, logger),
		logger:    logger,
	}
}

// Run carries out a strategy decision. Each step commits on its own, so an
// interrupted run leaves the undrained layers dirty for the next one.
func (e *Enricher) Run(ctx context.Context, decision *incremental.StrategyDecision) (*Result, error) {
	res := &Result{Strategy: decision.Strategy}
	switch decision.Strategy {
	case incremental.StrategyNone:
		e.logger.Info("Nothing to enrich", "reason", decision.Reason)
		return res, nil
	case incremental.StrategyFull:
		return res, e.runFull(ctx, res)
	case incremental.StrategyIncremental:
		return res, e.runIncremental(ctx, res)
	}
	return nil, fmt.Errorf("unknown strategy %q", decision.Strategy)
}

// step runs fn in its own transaction and records its timing
func (e *Enricher) step(ctx context.Context, res *Result, name string, fn func(tx *sqlx.Tx, tracker *dirty.Tracker, sr *StepResult) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sr := StepResult{Name: name}
	start := time.Now()
	err := e.db.WithTx(func(tx *sqlx.Tx) error {
		return fn(tx, dirty.NewTracker(tx), &sr)
	})
	sr.Duration = time.Since(start)
	if err != nil {
		return fmt.Errorf("%s step failed: %w", name, err)
	}
	res.Steps = append(res.Steps, sr)
	e.logger.Debug("Enrichment step done", "step", name, "skipped", sr.Skipped, "drained", sr.Drained, "duration", sr.Duration)
	return nil
}

func drain(tracker *dirty.Tracker, sr *StepResult, layers ...dirty.Layer) error {
	for _, l := range layers {
		n, err := tracker.Drain(l)
		if err != nil {
			return err
		}
		sr.Drained += n
	}
	return nil
}

func (e *Enricher) runIncremental(ctx context.Context, res *Result) error {
	err := e.step(ctx, res, StepModules, func(tx *sqlx.Tx, tracker *dirty.Tracker, sr *StepResult) error {
		defIDs, err := tracker.GetDirtyIDs(dirty.LayerMetadata)
		if err != nil {
			return err
		}
		touched, err := e.assigner.AssignDefinitions(tx, defIDs)
		if err != nil {
			return err
		}
		more, err := e.assigner.AssignUnassigned(tx)
		if err != nil {
			return err
		}
		res.ModulesTouched = mergeIDs(touched, more)
		if err := tracker.MarkDirtyMany(dirty.LayerModules, res.ModulesTouched, dirty.ReasonModified); err != nil {
			return err
		}
		sr.Skipped = len(defIDs) == 0 && len(res.ModulesTouched) == 0
		return drain(tracker, sr, dirty.LayerMetadata)
	})
	if err != nil {
		return err
	}

	// Inheritance annotations are recomputed during the sync itself; the
	// interactions step reads them directly
	err = e.step(ctx, res, StepRelationships, func(_ *sqlx.Tx, tracker *dirty.Tracker, sr *StepResult) error {
		if err := drain(tracker, sr, dirty.LayerRelationships); err != nil {
			return err
		}
		sr.Skipped = sr.Drained == 0
		return nil
	})
	if err != nil {
		return err
	}

	err = e.step(ctx, res, StepInteractions, func(tx *sqlx.Tx, tracker *dirty.Tracker, sr *StepResult) error {
		ir, err := e.generator.Regenerate(ctx, tx, tracker, false)
		if err != nil {
			return err
		}
		res.Interactions = ir
		sr.Skipped = len(ir.DirtyModules) == 0
		// Changed interactions make the flows on them stale
		if _, err := dirty.Propagate(tx, tracker); err != nil {
			return err
		}
		if err := drain(tracker, sr, dirty.LayerModules, dirty.LayerContracts); err != nil {
			return err
		}
		res.Described, err = e.describer.Describe(ctx, tx, ir.Changed)
		return err
	})
	if err != nil {
		return err
	}

	err = e.step(ctx, res, StepFlows, func(tx *sqlx.Tx, tracker *dirty.Tracker, sr *StepResult) error {
		fr, err := e.builder.Rebuild(ctx, tx, tracker, false)
		if err != nil {
			return err
		}
		res.Flows = fr
		sr.Skipped = fr.Removed == 0 && fr.Traced == 0 && fr.GapFlows == 0 && len(fr.DirtyInteractions) == 0
		return drain(tracker, sr, dirty.LayerInteractions)
	})
	if err != nil {
		return err
	}

	return e.step(ctx, res, StepFeatures, func(tx *sqlx.Tx, tracker *dirty.Tracker, sr *StepResult) error {
		fr, err := features.GroupFlows(tx, tracker, false, e.logger)
		if err != nil {
			return err
		}
		res.Features = fr
		sr.Skipped = fr.Skipped
		return drain(tracker, sr, dirty.LayerFlows, dirty.LayerFeatures)
	})
}

// runFull clears the derived layers and the ledger, then rebuilds every
// layer from the definitions up
func (e *Enricher) runFull(ctx context.Context, res *Result) error {
	err := e.step(ctx, res, StepModules, func(tx *sqlx.Tx, tracker *dirty.Tracker, sr *StepResult) error {
		if err := storage.NewFeatureRepository(tx).Clear(); err != nil {
			return err
		}
		if err := storage.NewFlowRepository(tx).Clear(); err != nil {
			return err
		}
		if err := storage.NewInteractionRepository(tx).Clear(); err != nil {
			return err
		}
		if err := tracker.Clear(); err != nil {
			return err
		}
		defs, err := storage.NewDefinitionRepository(tx).GetAll()
		if err != nil {
			return err
		}
		ids := make([]int64, len(defs))
		for i, d := range defs {
			ids[i] = d.ID
		}
		res.ModulesTouched, err = e.assigner.AssignDefinitions(tx, ids)
		return err
	})
	if err != nil {
		return err
	}

	err = e.step(ctx, res, StepInteractions, func(tx *sqlx.Tx, tracker *dirty.Tracker, sr *StepResult) error {
		ir, err := e.generator.Regenerate(ctx, tx, tracker, true)
		if err != nil {
			return err
		}
		res.Interactions = ir
		all, err := storage.NewInteractionRepository(tx).GetAll()
		if err != nil {
			return err
		}
		ids := make([]int64, len(all))
		for i, in := range all {
			ids[i] = in.ID
		}
		res.Described, err = e.describer.Describe(ctx, tx, ids)
		return err
	})
	if err != nil {
		return err
	}

	err = e.step(ctx, res, StepFlows, func(tx *sqlx.Tx, tracker *dirty.Tracker, sr *StepResult) error {
		fr, err := e.builder.Rebuild(ctx, tx, tracker, true)
		res.Flows = fr
		return err
	})
	if err != nil {
		return err
	}

	return e.step(ctx, res, StepFeatures, func(tx *sqlx.Tx, tracker *dirty.Tracker, sr *StepResult) error {
		fr, err := features.GroupFlows(tx, tracker, true, e.logger)
		if err != nil {
			return err
		}
		res.Features = fr
		// Everything is rebuilt, nothing is left stale
		n, err := tracker.CountAll()
		if err != nil {
			return err
		}
		sr.Drained = int64(n)
		return tracker.Clear()
	})
}

func mergeIDs(a, b []int64) []int64 {
	seen := make(map[int64]bool, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, ids := range [][]int64{a, b} {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package quality

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jmoiron/sqlx"

	"squint/internal/dirty"
	"squint/internal/storage"
)

// Checker runs the verification checks
type Checker struct {
	opts   Options
	logger *slog.Logger
}

// NewChecker creates a checker
func NewChecker(opts Options, logger *slog.Logger) *Checker {
	if opts.FanInThreshold <= 0 {
		opts.FanInThreshold = DefaultOptions().FanInThreshold
	}
	return &Checker{opts: opts, logger: logger}
}

// Run executes every check. Findings are ordered by check, then entity.
func (c *Checker) Run(q sqlx.Ext) (*Report, error) {
	interactions, err := storage.NewInteractionRepository(q).GetAll()
	if err != nil {
		return nil, err
	}
	modules, err := storage.NewModuleRepository(q).ByID()
	if err != nil {
		return nil, err
	}
	graph, err := storage.ModuleCallGraph(q)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	findings = append(findings, checkSelfLoops(interactions, modules)...)
	findings = append(findings, checkBidirectional(interactions, modules)...)
	findings = append(findings, checkUngrounded(interactions, graph, modules)...)
	findings = append(findings, checkFanIn(interactions, modules, c.opts.FanInThreshold)...)

	mismatched, err := checkEntryPoints(q)
	if err != nil {
		return nil, err
	}
	findings = append(findings, mismatched...)

	dangling, err := checkDanglingSymbols(q)
	if err != nil {
		return nil, err
	}
	findings = append(findings, dangling...)

	report := &Report{Findings: findings, Summary: summarize(findings)}
	if report.Findings == nil {
		report.Findings = []Finding{}
	}
	c.logger.Debug("Verification complete",
		"findings", len(findings),
		"errors", report.Summary.Errors,
		"warnings", report.Summary.Warnings,
	)
	return report, nil
}

func label(modules map[int64]storage.Module, id int64) string {
	if m, ok := modules[id]; ok {
		return m.FullPath
	}
	return fmt.Sprintf("module-%d", id)
}

func checkSelfLoops(interactions []storage.Interaction, modules map[int64]storage.Module) []Finding {
	var out []Finding
	for _, in := range interactions {
		if in.FromModuleID != in.ToModuleID {
			continue
		}
		out = append(out, Finding{
			Category:  CategorySelfLoop,
			Severity:  SeverityError,
			Message:   fmt.Sprintf("Interaction %d connects %s to itself", in.ID, label(modules, in.FromModuleID)),
			EntityIDs: []int64{in.ID},
			Fix:       Fix{Action: ActionRemoveInteraction},
		})
	}
	return out
}

func checkBidirectional(interactions []storage.Interaction, modules map[int64]storage.Module) []Finding {
	pairs := make(map[[2]int64]bool, len(interactions))
	for _, in := range interactions {
		pairs[[2]int64{in.FromModuleID, in.ToModuleID}] = true
	}
	var out []Finding
	for _, in := range interactions {
		if in.Direction != storage.DirectionBi || in.FromModuleID == in.ToModuleID {
			continue
		}
		if pairs[[2]int64{in.ToModuleID, in.FromModuleID}] {
			continue
		}
		out = append(out, Finding{
			Category: CategoryFalseBidirectional,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("Interaction %s -> %s is marked bi but nothing flows back",
				label(modules, in.FromModuleID), label(modules, in.ToModuleID)),
			EntityIDs: []int64{in.ID},
			Fix:       Fix{Action: ActionSetUnidirectional},
		})
	}
	return out
}

func checkUngrounded(interactions []storage.Interaction, graph []storage.ModuleEdge, modules map[int64]storage.Module) []Finding {
	called := make(map[[2]int64]bool, len(graph))
	for _, e := range graph {
		called[[2]int64{e.FromModuleID, e.ToModuleID}] = true
	}
	var out []Finding
	for _, in := range interactions {
		if in.Source != storage.SourceLLMInferred {
			continue
		}
		if called[[2]int64{in.FromModuleID, in.ToModuleID}] || called[[2]int64{in.ToModuleID, in.FromModuleID}] {
			continue
		}
		out = append(out, Finding{
			Category: CategoryUngroundedInferred,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("Inferred interaction %s -> %s has no call between the modules",
				label(modules, in.FromModuleID), label(modules, in.ToModuleID)),
			EntityIDs: []int64{in.ID},
			Fix:       Fix{Action: ActionRemoveInteraction},
		})
	}
	return out
}

// checkFanIn reports modules with many distinct callers whose interactions
// are not classified as utility
func checkFanIn(interactions []storage.Interaction, modules map[int64]storage.Module, threshold int) []Finding {
	callers := make(map[int64]map[int64]bool)
	for _, in := range interactions {
		if in.FromModuleID == in.ToModuleID ||
			in.Pattern == storage.PatternUtility || in.Pattern == storage.PatternTestInternal {
			continue
		}
		if callers[in.ToModuleID] == nil {
			callers[in.ToModuleID] = make(map[int64]bool)
		}
		callers[in.ToModuleID][in.FromModuleID] = true
	}
	targets := make([]int64, 0, len(callers))
	for id, from := range callers {
		if len(from) > threshold {
			targets = append(targets, id)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	out := make([]Finding, 0, len(targets))
	for _, id := range targets {
		out = append(out, Finding{
			Category: CategoryFanInAnomaly,
			Severity: SeverityInfo,
			Message: fmt.Sprintf("%s is called from %d modules without being a utility",
				label(modules, id), len(callers[id])),
			EntityIDs: []int64{id},
			Fix:       Fix{Action: ActionReviewModule},
		})
	}
	return out
}

func checkEntryPoints(q sqlx.Ext) ([]Finding, error) {
	var rows []struct {
		ID   int64  `db:"id"`
		Slug string `db:"slug"`
	}
	err := sqlx.Select(q, &rows, `
		SELECT f.id, f.slug
		FROM flows f
		LEFT JOIN module_members mm ON mm.definition_id = f.entry_point_id
		WHERE f.entry_point_id IS NOT NULL
		  AND (f.entry_point_module_id IS NULL OR mm.module_id IS NULL
		       OR mm.module_id != f.entry_point_module_id)
		ORDER BY f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to check flow entry points: %w", err)
	}
	out := make([]Finding, 0, len(rows))
	for _, r := range rows {
		out = append(out, Finding{
			Category:  CategoryEntryPointMismatch,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("Entry point of flow %s is not in the flow's entry module", r.Slug),
			EntityIDs: []int64{r.ID},
			Fix:       Fix{Action: ActionClearEntryPoint},
		})
	}
	return out, nil
}

func checkDanglingSymbols(q sqlx.Ext) ([]Finding, error) {
	var ids []int64
	err := sqlx.Select(q, &ids, `
		SELECT id FROM symbols
		WHERE definition_id IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM definitions d WHERE d.id = symbols.definition_id)
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to check symbol references: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return []Finding{{
		Category:  CategoryDanglingSymbolRef,
		Severity:  SeverityError,
		Message:   fmt.Sprintf("%d symbols reference definitions that no longer exist", len(ids)),
		EntityIDs: ids,
		Fix:       Fix{Action: ActionRunSync},
	}}, nil
}

// Apply carries out the fixes that can be applied to the store directly.
// Flows touching a removed or redirected interaction are marked dirty.
// review-module and run-sync need a person or a sync and are skipped.
// Returns the number of findings fixed.
func Apply(q sqlx.Ext, tracker *dirty.Tracker, findings []Finding) (int, error) {
	interactions := storage.NewInteractionRepository(q)
	flowRepo := storage.NewFlowRepository(q)
	var touched []int64
	applied := 0
	for _, f := range findings {
		switch f.Fix.Action {
		case ActionRemoveInteraction:
			affected, err := flowRepo.TouchingInteractions(f.EntityIDs)
			if err != nil {
				return applied, err
			}
			touched = append(touched, affected...)
			if _, err := interactions.Delete(f.EntityIDs); err != nil {
				return applied, err
			}
			if err := tracker.Unmark(dirty.LayerInteractions, f.EntityIDs); err != nil {
				return applied, err
			}
		case ActionSetUnidirectional:
			for _, id := range f.EntityIDs {
				if err := interactions.SetDirection(id, storage.DirectionUni); err != nil {
					return applied, err
				}
			}
			if err := tracker.MarkDirtyMany(dirty.LayerInteractions, f.EntityIDs, dirty.ReasonModified); err != nil {
				return applied, err
			}
		case ActionClearEntryPoint:
			for _, id := range f.EntityIDs {
				if err := flowRepo.ClearEntryPoint(id); err != nil {
					return applied, err
				}
			}
		default:
			continue
		}
		applied++
	}
	if len(touched) > 0 {
		if err := tracker.MarkDirtyMany(dirty.LayerFlows, touched, dirty.ReasonParentDirty); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

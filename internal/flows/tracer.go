package flows

import (
	"log/slog"
	"sort"

	"squint/internal/storage"
)

// TraceEntry is an accepted entry point with its module
type TraceEntry struct {
	Entry      EntryPoint
	ModuleID   int64
	ModulePath string
}

// TraceResult is the outcome of tracing
type TraceResult struct {
	Flows []*Flow
	// MaxStepsExceeded lists entry definitions whose walk hit the step bound
	MaxStepsExceeded []int64
	// Empty lists entry definitions with no reachable step
	Empty []int64
}

// Tracer walks the definition call graph from entry points
type Tracer struct {
	maxSteps int
	logger   *slog.Logger
}

// NewTracer creates a tracer bounded to maxSteps definition steps per flow
func NewTracer(maxSteps int, logger *slog.Logger) *Tracer {
	if maxSteps <= 0 {
		maxSteps = DefaultOptions().MaxSteps
	}
	return &Tracer{maxSteps: maxSteps, logger: logger}
}

type callGraph struct {
	out          map[int64][]storage.CallEdge
	interactions map[[2]int64]int64 // (from, to) module pair -> interaction id
}

func newCallGraph(edges []storage.CallEdge, interactions []storage.Interaction) *callGraph {
	g := &callGraph{
		out:          make(map[int64][]storage.CallEdge),
		interactions: make(map[[2]int64]int64, len(interactions)),
	}
	for _, e := range edges {
		g.out[e.CallerID] = append(g.out[e.CallerID], e)
	}
	for caller := range g.out {
		es := g.out[caller]
		sort.Slice(es, func(i, j int) bool { return es[i].CalleeID < es[j].CalleeID })
	}
	for _, in := range interactions {
		g.interactions[[2]int64{in.FromModuleID, in.ToModuleID}] = in.ID
	}
	// A bi interaction also carries calls against its direction
	for _, in := range interactions {
		if in.Direction != storage.DirectionBi {
			continue
		}
		rev := [2]int64{in.ToModuleID, in.FromModuleID}
		if _, ok := g.interactions[rev]; !ok {
			g.interactions[rev] = in.ID
		}
	}
	return g
}

// step reports whether a call edge may be followed, and the interaction it
// crosses (0 for a call inside one module)
func (g *callGraph) step(e storage.CallEdge) (int64, bool) {
	if e.CallerModuleID == nil || e.CalleeModuleID == nil {
		return 0, false
	}
	if *e.CallerModuleID == *e.CalleeModuleID {
		return 0, true
	}
	id, ok := g.interactions[[2]int64{*e.CallerModuleID, *e.CalleeModuleID}]
	return id, ok
}

// TraceFromEntryPoints builds one tier-1 flow per entry point by a
// breadth-first walk over call edges. Calls between modules are followed
// only along an existing interaction. The walk ends when the frontier has no
// unvisited callee left or the step bound is hit.
func (t *Tracer) TraceFromEntryPoints(entries []TraceEntry, edges []storage.CallEdge, interactions []storage.Interaction) *TraceResult {
	g := newCallGraph(edges, interactions)
	res := &TraceResult{}

	for _, te := range entries {
		f, exceeded := t.trace(g, te)
		if exceeded {
			res.MaxStepsExceeded = append(res.MaxStepsExceeded, te.Entry.Definition)
			t.logger.Warn("Flow trace hit the step bound",
				"entry", te.Entry.Name,
				"maxSteps", t.maxSteps,
				"reason", "max_steps_exceeded",
			)
		}
		if len(f.DefinitionSteps) == 0 {
			res.Empty = append(res.Empty, te.Entry.Definition)
			continue
		}
		res.Flows = append(res.Flows, f)
	}
	return res
}

func (t *Tracer) trace(g *callGraph, te TraceEntry) (*Flow, bool) {
	entryDef := te.Entry.Definition
	moduleID := te.ModuleID
	f := &Flow{
		Name:              te.Entry.Name,
		EntryModuleID:     &moduleID,
		EntryDefinitionID: &entryDef,
		EntryPath:         te.ModulePath,
		Stakeholder:       te.Entry.Stakeholder,
		ActionType:        te.Entry.ActionType,
		TargetEntity:      te.Entry.TargetEntity,
		Tier:              storage.TierTraced,
	}

	visited := map[int64]bool{entryDef: true}
	seenInteraction := make(map[int64]bool)
	queue := []int64{entryDef}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range g.out[current] {
			if visited[e.CalleeID] {
				continue
			}
			interactionID, ok := g.step(e)
			if !ok {
				continue
			}
			if len(f.DefinitionSteps) >= t.maxSteps {
				return f, true
			}
			visited[e.CalleeID] = true
			f.DefinitionSteps = append(f.DefinitionSteps, [2]int64{e.CallerID, e.CalleeID})
			if interactionID != 0 && !seenInteraction[interactionID] {
				seenInteraction[interactionID] = true
				f.InteractionIDs = append(f.InteractionIDs, interactionID)
			}
			queue = append(queue, e.CalleeID)
		}
	}
	return f, false
}

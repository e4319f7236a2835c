package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"squint/internal/config"
	"squint/internal/dirty"
	"squint/internal/incremental"
	"squint/internal/modules"
	"squint/internal/slogutil"
	"squint/internal/storage"
	"squint/internal/testutil"
)

// newGraph indexes getUser (src/api) calling query (src/db) with neither
// assigned to a module yet
func newGraph(t *testing.T) (*testutil.Graph, []int64) {
	g := testutil.NewGraph(t)
	handler := g.Func("", "src/api/users.ts", "getUser", 1, 10)
	query := g.Func("", "src/db/query.ts", "query", 1, 5)
	g.Call(handler, query, 2)
	return g, []int64{handler, query}
}

func newEnricher(g *testutil.Graph) *Enricher {
	logger := slogutil.NewDiscardLogger()
	return NewEnricher(g.DB, config.DefaultConfig(), modules.NewAssigner(nil, logger), nil, logger)
}

func stepNames(res *Result) []string {
	out := make([]string, len(res.Steps))
	for i, s := range res.Steps {
		out[i] = s.Name
	}
	return out
}

func counts(t *testing.T, g *testutil.Graph) *storage.Counts {
	t.Helper()
	c, err := storage.GetCounts(g.Q())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRun_Incremental(t *testing.T) {
	g, defs := newGraph(t)
	q := g.Q()
	tracker := dirty.NewTracker(q)
	if err := tracker.MarkDirtyMany(dirty.LayerMetadata, defs, dirty.ReasonAdded); err != nil {
		t.Fatal(err)
	}
	e := newEnricher(g)

	res, err := e.Run(context.Background(), &incremental.StrategyDecision{Strategy: incremental.StrategyIncremental})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{StepModules, StepRelationships, StepInteractions, StepFlows, StepFeatures}
	if !reflect.DeepEqual(stepNames(res), want) {
		t.Errorf("steps = %v, want %v", stepNames(res), want)
	}
	if len(res.ModulesTouched) != 2 {
		t.Errorf("ModulesTouched = %v", res.ModulesTouched)
	}
	if res.Interactions == nil || len(res.Interactions.Changed) != 1 {
		t.Fatalf("interactions = %+v", res.Interactions)
	}
	if res.Described == nil || res.Described.Described != 1 {
		t.Errorf("described = %+v", res.Described)
	}
	if res.Flows == nil || res.Flows.Traced != 1 {
		t.Errorf("flows = %+v", res.Flows)
	}
	if res.Features == nil || res.Features.Features != 1 {
		t.Errorf("features = %+v", res.Features)
	}

	in, err := storage.NewInteractionRepository(q).GetByID(res.Interactions.Changed[0])
	if err != nil || in == nil {
		t.Fatalf("interaction lookup: %v", err)
	}
	if in.Semantic != "project.src.api calls project.src.db (query)" {
		t.Errorf("semantic = %q", in.Semantic)
	}

	if n, _ := tracker.CountAll(); n != 0 {
		summary, _ := tracker.GetSummary()
		t.Errorf("dirty entries left: %d (%+v)", n, summary)
	}

	// A clean second run changes nothing
	res, err = e.Run(context.Background(), &incremental.StrategyDecision{Strategy: incremental.StrategyIncremental})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range res.Steps {
		if !s.Skipped {
			t.Errorf("step %s ran on a clean store", s.Name)
		}
	}
	if c := counts(t, g); c.Flows != 1 || c.Features != 1 || c.Interactions != 1 {
		t.Errorf("counts after clean run = %+v", c)
	}
}

func TestRun_Full(t *testing.T) {
	g, _ := newGraph(t)
	q := g.Q()
	tracker := dirty.NewTracker(q)
	// Leftovers a full run must clear
	if err := tracker.MarkDirty(dirty.LayerFlows, 12345, dirty.ReasonModified); err != nil {
		t.Fatal(err)
	}
	g.Interaction("project.old", "project.gone", storage.SourceLLMInferred)

	res, err := newEnricher(g).Run(context.Background(), &incremental.StrategyDecision{Strategy: incremental.StrategyFull})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{StepModules, StepInteractions, StepFlows, StepFeatures}
	if !reflect.DeepEqual(stepNames(res), want) {
		t.Errorf("steps = %v, want %v", stepNames(res), want)
	}
	c := counts(t, g)
	if c.Interactions != 1 || c.Flows != 1 || c.Features != 1 {
		t.Errorf("counts = %+v", c)
	}
	if n, _ := tracker.CountAll(); n != 0 {
		t.Errorf("dirty entries left after full run: %d", n)
	}
}

func TestRun_None(t *testing.T) {
	g, defs := newGraph(t)
	tracker := dirty.NewTracker(g.Q())
	if err := tracker.MarkDirtyMany(dirty.LayerMetadata, defs, dirty.ReasonAdded); err != nil {
		t.Fatal(err)
	}
	res, err := newEnricher(g).Run(context.Background(), &incremental.StrategyDecision{Strategy: incremental.StrategyNone})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != 0 {
		t.Errorf("steps = %v, want none", stepNames(res))
	}
	if n, _ := tracker.Count(dirty.LayerMetadata); n != 2 {
		t.Errorf("metadata layer = %d, want untouched 2", n)
	}
}

func TestRun_Cancelled(t *testing.T) {
	g, _ := newGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEnricher(g).Run(ctx, &incremental.StrategyDecision{Strategy: incremental.StrategyIncremental})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

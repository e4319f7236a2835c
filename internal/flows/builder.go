package flows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"squint/internal/dirty"
	"squint/internal/llm"
	"squint/internal/storage"
)

// Builder rebuilds the flow layer from interactions and the call graph
type Builder struct {
	classifier *Classifier
	tracer     *Tracer
	opts       Options
	logger     *slog.Logger
}

// NewBuilder creates a builder
func NewBuilder(classifier *Classifier, opts Options, logger *slog.Logger) *Builder {
	return &Builder{
		classifier: classifier,
		tracer:     NewTracer(opts.MaxSteps, logger),
		opts:       opts,
		logger:     logger,
	}
}

// BuildResult reports one rebuild
type BuildResult struct {
	// DirtyInteractions is the interactions dirty set as read at the start
	DirtyInteractions []int64        `json:"dirtyInteractions"`
	Removed           int            `json:"removed"`
	Candidates        int            `json:"candidates"`
	Traced            int            `json:"traced"`
	Deduplicated      int            `json:"deduplicated"`
	GapFlows          int            `json:"gapFlows"`
	Journeys          int            `json:"journeys"`
	MaxStepsExceeded  []int64        `json:"maxStepsExceeded,omitempty"`
	Classification    llm.BatchStats `json:"classification"`
}

// Rebuild recomputes flows. With full set every flow is replaced. Otherwise
// dirty flows are deleted and their entry points re-traced, new entry points
// are looked for in modules touched by dirty interactions, stored flows
// beaten in deduplication by a new one are deleted, new gap flows
// cover what is left uncovered, and journeys are rebuilt. New flows are
// marked dirty for the features step; the interactions layer is left for the
// caller to drain.
func (b *Builder) Rebuild(ctx context.Context, q sqlx.Ext, tracker *dirty.Tracker, full bool) (*BuildResult, error) {
	dirtyInteractions, err := tracker.GetDirtyIDs(dirty.LayerInteractions)
	if err != nil {
		return nil, err
	}
	dirtyFlows, err := tracker.GetDirtyIDs(dirty.LayerFlows)
	if err != nil {
		return nil, err
	}
	res := &BuildResult{DirtyInteractions: dirtyInteractions}
	if !full && len(dirtyInteractions) == 0 && len(dirtyFlows) == 0 {
		return res, nil
	}

	repo := storage.NewFlowRepository(q)
	modules, err := storage.NewModuleRepository(q).ByID()
	if err != nil {
		return nil, err
	}
	edges, err := storage.CallEdges(q)
	if err != nil {
		return nil, err
	}
	interactions, err := storage.NewInteractionRepository(q).GetAll()
	if err != nil {
		return nil, err
	}

	var (
		kept     []*Flow
		retrace  []TraceEntry
		inModule map[int64]bool
	)
	if full {
		count, err := repo.Count()
		if err != nil {
			return nil, err
		}
		if err := repo.Clear(); err != nil {
			return nil, fmt.Errorf("failed to clear flows: %w", err)
		}
		res.Removed = count
	} else {
		existing, err := Load(q)
		if err != nil {
			return nil, err
		}
		kept, retrace, res.Removed, err = b.removeDirty(q, existing, dirtyFlows, modules)
		if err != nil {
			return nil, err
		}
		inModule = touchedModules(interactions, dirtyInteractions)
	}

	started := make(map[int64]bool, len(kept)+len(retrace))
	for _, f := range kept {
		if f.EntryDefinitionID != nil {
			started[*f.EntryDefinitionID] = true
		}
	}
	for _, te := range retrace {
		started[te.Entry.Definition] = true
	}
	entries, err := b.entries(ctx, q, edges, modules, inModule, started, res)
	if err != nil {
		return nil, err
	}
	entries = append(retrace, entries...)

	traced := b.tracer.TraceFromEntryPoints(entries, edges, interactions)
	res.MaxStepsExceeded = traced.MaxStepsExceeded

	// Existing flows go first so they win the positional tie-break
	var combined []*Flow
	for _, f := range kept {
		if f.Tier == storage.TierTraced {
			combined = append(combined, f)
		}
	}
	combined = append(combined, traced.Flows...)
	survived := DeduplicateByInteractionOverlap(DeduplicateByInteractionSet(combined), b.opts.OverlapThreshold)
	superseded, err := b.removeSuperseded(q, tracker, kept, survived)
	if err != nil {
		return nil, err
	}
	res.Removed += superseded

	slugSet, err := repo.Slugs()
	if err != nil {
		return nil, err
	}
	slugs := NewSlugSet(slugSet)
	var fresh []*Flow
	for _, f := range survived {
		if f.ID == 0 {
			f.Slug = slugs.Claim(f.Name)
			fresh = append(fresh, f)
		}
	}
	res.Traced = len(fresh)
	res.Deduplicated = len(traced.Flows) - len(fresh)
	if err := b.persist(q, tracker, fresh); err != nil {
		return nil, err
	}

	covered, err := repo.CoveredInteractionIDs()
	if err != nil {
		return nil, err
	}
	gaps := CreateGapFlows(covered, interactions, modules, slugs)
	if err := b.persist(q, tracker, gaps); err != nil {
		return nil, err
	}
	res.GapFlows = len(gaps)

	journeys, err := b.rebuildJourneys(q, tracker, slugs)
	if err != nil {
		return nil, err
	}
	res.Journeys = journeys

	b.logger.Info("Flows rebuilt",
		"full", full,
		"dirtyInteractions", len(dirtyInteractions),
		"removed", res.Removed,
		"traced", res.Traced,
		"deduplicated", res.Deduplicated,
		"gapFlows", res.GapFlows,
		"journeys", res.Journeys,
	)
	return res, nil
}

// removeDirty deletes dirty flows and returns the survivors plus the entry
// points of deleted traced flows that still exist, with their current module
func (b *Builder) removeDirty(q sqlx.Ext, existing []*Flow, dirtyFlows []int64, modules map[int64]storage.Module) ([]*Flow, []TraceEntry, int, error) {
	isDirty := make(map[int64]bool, len(dirtyFlows))
	for _, id := range dirtyFlows {
		isDirty[id] = true
	}

	var (
		kept      []*Flow
		removed   []int64
		entryDefs []int64
		old       = make(map[int64]*Flow)
	)
	for _, f := range existing {
		if !isDirty[f.ID] {
			kept = append(kept, f)
			continue
		}
		removed = append(removed, f.ID)
		if f.Tier == storage.TierTraced && f.EntryDefinitionID != nil {
			entryDefs = append(entryDefs, *f.EntryDefinitionID)
			old[*f.EntryDefinitionID] = f
		}
	}
	if len(removed) == 0 {
		return kept, nil, 0, nil
	}
	if _, err := storage.NewFlowRepository(q).Delete(removed); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to delete dirty flows: %w", err)
	}

	alive, err := storage.NewDefinitionRepository(q).GetByIDs(entryDefs)
	if err != nil {
		return nil, nil, 0, err
	}
	members := storage.NewMemberRepository(q)
	var retrace []TraceEntry
	for _, d := range alive {
		f := old[d.ID]
		moduleID, err := members.ModuleOf(d.ID)
		if err != nil {
			return nil, nil, 0, err
		}
		if moduleID == 0 {
			continue
		}
		retrace = append(retrace, TraceEntry{
			Entry: EntryPoint{
				Definition:   d.ID,
				Name:         f.Name,
				ActionType:   f.ActionType,
				TargetEntity: f.TargetEntity,
				Stakeholder:  f.Stakeholder,
			},
			ModuleID:   moduleID,
			ModulePath: modules[moduleID].FullPath,
		})
	}
	return kept, retrace, len(removed), nil
}

// entries finds and classifies new entry points, skipping definitions that
// already start a flow
func (b *Builder) entries(ctx context.Context, q sqlx.Ext, edges []storage.CallEdge, modules map[int64]storage.Module, inModule, started map[int64]bool, res *BuildResult) ([]TraceEntry, error) {
	if inModule != nil && len(inModule) == 0 {
		return nil, nil
	}
	candidates, err := FindCandidates(q, edges, modules, inModule)
	if err != nil {
		return nil, err
	}
	var fresh []Candidate
	for _, c := range candidates {
		if !started[c.DefinitionID] {
			fresh = append(fresh, c)
		}
	}
	res.Candidates = len(fresh)
	if len(fresh) == 0 {
		return nil, nil
	}

	classified, stats, err := b.classifier.Classify(ctx, fresh)
	res.Classification = stats
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Candidate, len(fresh))
	for _, c := range fresh {
		byID[c.DefinitionID] = c
	}
	var out []TraceEntry
	for _, cl := range classified {
		ep, ok := cl.(EntryPoint)
		if !ok {
			continue
		}
		c := byID[ep.Definition]
		out = append(out, TraceEntry{Entry: ep, ModuleID: c.ModuleID, ModulePath: c.ModulePath})
	}
	return out, nil
}

// removeSuperseded deletes stored traced flows that lost deduplication to a
// newly traced one and marks the features that held them dirty
func (b *Builder) removeSuperseded(q sqlx.Ext, tracker *dirty.Tracker, kept, survived []*Flow) (int, error) {
	alive := make(map[int64]bool, len(survived))
	for _, f := range survived {
		if f.ID != 0 {
			alive[f.ID] = true
		}
	}
	var gone []int64
	for _, f := range kept {
		if f.Tier == storage.TierTraced && !alive[f.ID] {
			gone = append(gone, f.ID)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}
	features, err := storage.NewFeatureRepository(q).FeaturesOfFlows(gone)
	if err != nil {
		return 0, err
	}
	if err := tracker.MarkDirtyMany(dirty.LayerFeatures, features, dirty.ReasonModified); err != nil {
		return 0, err
	}
	if _, err := storage.NewFlowRepository(q).Delete(gone); err != nil {
		return 0, fmt.Errorf("failed to delete superseded flows: %w", err)
	}
	b.logger.Debug("Superseded flows removed", "flows", gone)
	return len(gone), nil
}

// rebuildJourneys replaces every journey. The old journeys' slugs are
// released first so an unchanged journey keeps its slug.
func (b *Builder) rebuildJourneys(q sqlx.Ext, tracker *dirty.Tracker, slugs *SlugSet) (int, error) {
	all, err := Load(q)
	if err != nil {
		return 0, err
	}
	var old []int64
	for _, f := range all {
		if f.Tier == storage.TierJourney {
			old = append(old, f.ID)
			slugs.Release(f.Slug)
		}
	}
	if _, err := storage.NewFlowRepository(q).Delete(old); err != nil {
		return 0, err
	}
	journeys := BuildJourneys(all, b.opts.JourneyMinFlows, slugs)
	if err := b.persist(q, tracker, journeys); err != nil {
		return 0, err
	}
	return len(journeys), nil
}

func (b *Builder) persist(q sqlx.Ext, tracker *dirty.Tracker, flows []*Flow) error {
	if len(flows) == 0 {
		return nil
	}
	if err := Persist(q, flows); err != nil {
		return err
	}
	ids := make([]int64, len(flows))
	for i, f := range flows {
		ids[i] = f.ID
	}
	return tracker.MarkDirtyMany(dirty.LayerFlows, ids, dirty.ReasonAdded)
}

// touchedModules returns both endpoints of the given interactions
func touchedModules(interactions []storage.Interaction, ids []int64) map[int64]bool {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[int64]bool)
	for _, in := range interactions {
		if want[in.ID] {
			out[in.FromModuleID] = true
			out[in.ToModuleID] = true
		}
	}
	return out
}

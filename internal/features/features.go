// Package features groups flows into features by the top-level module their
// entry point lives in.
package features

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jmoiron/sqlx"

	"squint/internal/dirty"
	"squint/internal/flows"
	"squint/internal/storage"
)

// Result reports one grouping run
type Result struct {
	// DirtyFlows is the flows dirty set as read at the start
	DirtyFlows []int64 `json:"dirtyFlows"`
	Features   int     `json:"features"`
	Grouped    int     `json:"grouped"`
	Skipped    bool    `json:"skipped,omitempty"`
}

// Group is the set of flows entering one top-level module
type Group struct {
	Module  storage.Module
	FlowIDs []int64
}

// GroupFlows rewrites the feature rows. Traced flows join the feature of the
// depth-1 ancestor of their entry module; a journey joins the feature of its
// first subflow. Gap flows belong to no feature. The grouping only depends on
// the flows, so every run with dirty flows regroups from scratch. The flows
// and features layers are left for the caller to drain.
func GroupFlows(q sqlx.Ext, tracker *dirty.Tracker, full bool, logger *slog.Logger) (*Result, error) {
	dirtyFlows, err := tracker.GetDirtyIDs(dirty.LayerFlows)
	if err != nil {
		return nil, err
	}
	dirtyFeatures, err := tracker.Count(dirty.LayerFeatures)
	if err != nil {
		return nil, err
	}
	res := &Result{DirtyFlows: dirtyFlows}
	if !full && len(dirtyFlows) == 0 && dirtyFeatures == 0 {
		res.Skipped = true
		return res, nil
	}

	modules, err := storage.NewModuleRepository(q).ByID()
	if err != nil {
		return nil, err
	}
	all, err := flows.Load(q)
	if err != nil {
		return nil, err
	}
	groups := ByTopLevelModule(all, modules)

	repo := storage.NewFeatureRepository(q)
	if err := repo.Clear(); err != nil {
		return nil, fmt.Errorf("failed to clear features: %w", err)
	}
	slugs := flows.NewSlugSet(nil)
	for _, g := range groups {
		f := &storage.Feature{
			Name:        g.Module.Name,
			Slug:        slugs.Claim(g.Module.Name),
			Description: fmt.Sprintf("%d flows entering %s", len(g.FlowIDs), g.Module.FullPath),
		}
		if _, err := repo.Insert(f, g.FlowIDs); err != nil {
			return nil, err
		}
		res.Features++
		res.Grouped += len(g.FlowIDs)
	}

	logger.Info("Features regrouped",
		"full", full,
		"dirtyFlows", len(dirtyFlows),
		"features", res.Features,
		"grouped", res.Grouped,
	)
	return res, nil
}

// ByTopLevelModule assigns flows to top-level modules. Groups come back
// ordered by module path with flow ids ascending.
func ByTopLevelModule(all []*flows.Flow, modules map[int64]storage.Module) []Group {
	byModule := make(map[int64]*Group)
	featureOf := make(map[int64]int64) // flow id -> top-level module id
	add := func(moduleID, flowID int64) {
		g, ok := byModule[moduleID]
		if !ok {
			g = &Group{Module: modules[moduleID]}
			byModule[moduleID] = g
		}
		g.FlowIDs = append(g.FlowIDs, flowID)
		featureOf[flowID] = moduleID
	}

	for _, f := range all {
		if f.Tier != storage.TierTraced || f.EntryModuleID == nil {
			continue
		}
		if top, ok := topLevel(modules, *f.EntryModuleID); ok {
			add(top, f.ID)
		}
	}
	for _, f := range all {
		if f.Tier != storage.TierJourney || len(f.SubflowIDs) == 0 {
			continue
		}
		if top, ok := featureOf[f.SubflowIDs[0]]; ok {
			add(top, f.ID)
		}
	}

	out := make([]Group, 0, len(byModule))
	for _, g := range byModule {
		sort.Slice(g.FlowIDs, func(i, j int) bool { return g.FlowIDs[i] < g.FlowIDs[j] })
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module.FullPath < out[j].Module.FullPath })
	return out
}

// topLevel walks up to the depth-1 ancestor. A flow entering the root
// module groups under the root.
func topLevel(modules map[int64]storage.Module, id int64) (int64, bool) {
	for {
		m, ok := modules[id]
		if !ok {
			return 0, false
		}
		if m.Depth <= 1 || m.ParentID == nil {
			return m.ID, true
		}
		id = *m.ParentID
	}
}

package features

import (
	"reflect"
	"testing"

	"squint/internal/dirty"
	"squint/internal/flows"
	"squint/internal/slogutil"
	"squint/internal/storage"
	"squint/internal/testutil"
)

func ptr(v int64) *int64 { return &v }

func TestByTopLevelModule(t *testing.T) {
	modules := map[int64]storage.Module{
		1: {ID: 1, FullPath: "project", Name: "project", Depth: 0},
		2: {ID: 2, FullPath: "project.api", Name: "api", Depth: 1, ParentID: ptr(1)},
		3: {ID: 3, FullPath: "project.api.users", Name: "users", Depth: 2, ParentID: ptr(2)},
		4: {ID: 4, FullPath: "project.db", Name: "db", Depth: 1, ParentID: ptr(1)},
	}
	all := []*flows.Flow{
		{ID: 10, Tier: storage.TierTraced, EntryModuleID: ptr(3)},
		{ID: 11, Tier: storage.TierTraced, EntryModuleID: ptr(4)},
		{ID: 12, Tier: storage.TierGap, EntryModuleID: ptr(4)},
		{ID: 13, Tier: storage.TierJourney, SubflowIDs: []int64{11, 10}},
		{ID: 14, Tier: storage.TierTraced, EntryModuleID: ptr(1)},
		{ID: 15, Tier: storage.TierTraced},
	}

	got := ByTopLevelModule(all, modules)
	type row struct {
		path string
		ids  []int64
	}
	var rows []row
	for _, g := range got {
		rows = append(rows, row{g.Module.FullPath, g.FlowIDs})
	}
	want := []row{
		{"project", []int64{14}},
		{"project.api", []int64{10}},
		{"project.db", []int64{11, 13}},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("ByTopLevelModule() = %v, want %v", rows, want)
	}
}

func TestGroupFlows(t *testing.T) {
	g := testutil.NewGraph(t)
	q := g.Q()
	users := g.Module("project.api.users")
	orders := g.Module("project.api.orders")
	db := g.Module("project.db")

	persisted := []*flows.Flow{
		{Name: "list users", Slug: "list-users", Tier: storage.TierTraced, EntryModuleID: &users},
		{Name: "create order", Slug: "create-order", Tier: storage.TierTraced, EntryModuleID: &orders},
		{Name: "migrate", Slug: "migrate", Tier: storage.TierTraced, EntryModuleID: &db},
		{Name: "gap", Slug: "internal-gap", Tier: storage.TierGap, EntryModuleID: &db},
	}
	if err := flows.Persist(q, persisted); err != nil {
		t.Fatal(err)
	}
	tracker := dirty.NewTracker(q)
	if err := tracker.MarkDirty(dirty.LayerFlows, persisted[0].ID, dirty.ReasonAdded); err != nil {
		t.Fatal(err)
	}

	res, err := GroupFlows(q, tracker, false, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("GroupFlows() error = %v", err)
	}
	if res.Features != 2 || res.Grouped != 3 {
		t.Errorf("result = %+v, want 2 features grouping 3 flows", res)
	}

	repo := storage.NewFeatureRepository(q)
	features, err := repo.GetAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(features) != 2 || features[0].Slug != "api" || features[1].Slug != "db" {
		t.Fatalf("features = %+v", features)
	}
	apiFlows, err := repo.FlowIDs(features[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(apiFlows, []int64{persisted[0].ID, persisted[1].ID}) {
		t.Errorf("api feature flows = %v", apiFlows)
	}

	// Regrouping rewrites rather than appends
	if _, err := GroupFlows(q, tracker, true, slogutil.NewDiscardLogger()); err != nil {
		t.Fatal(err)
	}
	if n, _ := repo.Count(); n != 2 {
		t.Errorf("features after regroup = %d, want 2", n)
	}

	if err := tracker.Clear(); err != nil {
		t.Fatal(err)
	}
	res, err = GroupFlows(q, tracker, false, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Errorf("clean run was not skipped: %+v", res)
	}
}

// Package dirty records which derived entities are stale, per layer, so each
// enrichment step can recompute only what changed.
//
// The ledger lives in the dirty_entries table and survives between runs. A
// layer is drained only after the step that consumes it has succeeded, and a
// downstream step reads its upstream layer before that layer is drained.
package dirty

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"squint/internal/storage"
)

// Layer names a derived layer of the graph
type Layer string

const (
	LayerMetadata      Layer = "metadata"
	LayerRelationships Layer = "relationships"
	LayerModules       Layer = "modules"
	LayerContracts     Layer = "contracts"
	LayerInteractions  Layer = "interactions"
	LayerFlows         Layer = "flows"
	LayerFeatures      Layer = "features"
)

// Reason records why an entity became stale
type Reason string

const (
	ReasonAdded       Reason = "added"
	ReasonModified    Reason = "modified"
	ReasonParentDirty Reason = "parent_dirty"
)

// layerOrder is the dependency order: every layer appears after its upstreams
var layerOrder = []Layer{
	LayerMetadata,
	LayerRelationships,
	LayerModules,
	LayerContracts,
	LayerInteractions,
	LayerFlows,
	LayerFeatures,
}

var upstream = map[Layer][]Layer{
	LayerMetadata:      nil,
	LayerRelationships: nil,
	LayerModules:       {LayerMetadata},
	LayerContracts:     nil,
	LayerInteractions:  {LayerModules, LayerContracts},
	LayerFlows:         {LayerInteractions},
	LayerFeatures:      {LayerFlows},
}

// Layers returns every layer in dependency order
func Layers() []Layer {
	out := make([]Layer, len(layerOrder))
	copy(out, layerOrder)
	return out
}

// Upstream returns the layers a layer is derived from
func Upstream(l Layer) []Layer {
	return upstream[l]
}

// Valid reports whether l is a known layer
func (l Layer) Valid() bool {
	_, ok := upstream[l]
	return ok
}

// Valid reports whether r is a known reason
func (r Reason) Valid() bool {
	switch r {
	case ReasonAdded, ReasonModified, ReasonParentDirty:
		return true
	}
	return false
}

// Entry is one stale entity in one layer
type Entry struct {
	Layer    Layer  `db:"layer" json:"layer"`
	EntityID int64  `db:"entity_id" json:"entityId"`
	Reason   Reason `db:"reason" json:"reason"`
	MarkedAt int64  `db:"marked_at" json:"markedAt"`
}

// LayerCount is one line of a summary
type LayerCount struct {
	Layer Layer `json:"layer"`
	Count int   `json:"count"`
}

// Summary is the per-layer tally in dependency order
type Summary struct {
	Layers []LayerCount `json:"layers"`
	Total  int          `json:"total"`
}

// Tracker is the dirty ledger bound to a connection or transaction.
// Construct one per transaction so marks commit or roll back with the writes
// that caused them.
type Tracker struct {
	q sqlx.Ext
}

// NewTracker creates a tracker over q
func NewTracker(q sqlx.Ext) *Tracker {
	return &Tracker{q: q}
}

func checkLayer(l Layer) error {
	if !l.Valid() {
		return fmt.Errorf("unknown dirty layer %q", l)
	}
	return nil
}

// MarkDirty records entityID as stale in layer. Re-marking overwrites the reason.
func (t *Tracker) MarkDirty(layer Layer, entityID int64, reason Reason) error {
	return t.MarkDirtyMany(layer, []int64{entityID}, reason)
}

// MarkDirtyMany marks several entities with the same reason
func (t *Tracker) MarkDirtyMany(layer Layer, entityIDs []int64, reason Reason) error {
	if err := checkLayer(layer); err != nil {
		return err
	}
	if !reason.Valid() {
		return fmt.Errorf("unknown dirty reason %q", reason)
	}
	now := time.Now().Unix()
	for _, id := range entityIDs {
		_, err := t.q.Exec(`
			INSERT INTO dirty_entries (layer, entity_id, reason, marked_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(layer, entity_id) DO UPDATE SET reason = excluded.reason, marked_at = excluded.marked_at
		`, string(layer), id, string(reason), now)
		if err != nil {
			return fmt.Errorf("failed to mark %s/%d dirty: %w", layer, id, err)
		}
	}
	return nil
}

// GetDirtyIDs returns the stale entity ids of a layer in ascending order
func (t *Tracker) GetDirtyIDs(layer Layer) ([]int64, error) {
	if err := checkLayer(layer); err != nil {
		return nil, err
	}
	var ids []int64
	err := sqlx.Select(t.q, &ids, `SELECT entity_id FROM dirty_entries WHERE layer = ? ORDER BY entity_id`, string(layer))
	return ids, err
}

// GetDirty returns the full entries of a layer
func (t *Tracker) GetDirty(layer Layer) ([]Entry, error) {
	if err := checkLayer(layer); err != nil {
		return nil, err
	}
	var entries []Entry
	err := sqlx.Select(t.q, &entries, `
		SELECT layer, entity_id, reason, marked_at FROM dirty_entries WHERE layer = ? ORDER BY entity_id
	`, string(layer))
	return entries, err
}

// IsDirty reports whether an entity is stale in a layer
func (t *Tracker) IsDirty(layer Layer, entityID int64) (bool, error) {
	var n int
	err := sqlx.Get(t.q, &n, `SELECT COUNT(*) FROM dirty_entries WHERE layer = ? AND entity_id = ?`, string(layer), entityID)
	return n > 0, err
}

// Count returns the number of stale entities in a layer
func (t *Tracker) Count(layer Layer) (int, error) {
	if err := checkLayer(layer); err != nil {
		return 0, err
	}
	var n int
	err := sqlx.Get(t.q, &n, `SELECT COUNT(*) FROM dirty_entries WHERE layer = ?`, string(layer))
	return n, err
}

// CountAll returns the number of entries across all layers
func (t *Tracker) CountAll() (int, error) {
	var n int
	err := sqlx.Get(t.q, &n, `SELECT COUNT(*) FROM dirty_entries`)
	return n, err
}

// GetSummary returns per-layer counts in dependency order
func (t *Tracker) GetSummary() (*Summary, error) {
	rows := []struct {
		Layer string `db:"layer"`
		N     int    `db:"n"`
	}{}
	if err := sqlx.Select(t.q, &rows, `SELECT layer, COUNT(*) AS n FROM dirty_entries GROUP BY layer`); err != nil {
		return nil, err
	}
	counts := make(map[Layer]int, len(rows))
	for _, r := range rows {
		counts[Layer(r.Layer)] = r.N
	}

	s := &Summary{}
	for _, l := range layerOrder {
		s.Layers = append(s.Layers, LayerCount{Layer: l, Count: counts[l]})
		s.Total += counts[l]
	}
	return s, nil
}

// Drain clears one layer. Call it only after that layer's consumer succeeded.
func (t *Tracker) Drain(layer Layer) (int64, error) {
	if err := checkLayer(layer); err != nil {
		return 0, err
	}
	res, err := t.q.Exec(`DELETE FROM dirty_entries WHERE layer = ?`, string(layer))
	if err != nil {
		return 0, fmt.Errorf("failed to drain %s: %w", layer, err)
	}
	return res.RowsAffected()
}

// Clear drains every layer
func (t *Tracker) Clear() error {
	_, err := t.q.Exec(`DELETE FROM dirty_entries`)
	return err
}

// Unmark removes specific entities from a layer, e.g. after they were deleted
func (t *Tracker) Unmark(layer Layer, entityIDs []int64) error {
	if err := checkLayer(layer); err != nil {
		return err
	}
	for _, id := range entityIDs {
		if _, err := t.q.Exec(`DELETE FROM dirty_entries WHERE layer = ? AND entity_id = ?`, string(layer), id); err != nil {
			return err
		}
	}
	return nil
}

// Propagation reports how many entities each propagation hop marked
type Propagation struct {
	Modules      int `json:"modules"`
	Interactions int `json:"interactions"`
	Flows        int `json:"flows"`
	Features     int `json:"features"`
}

// Propagate pushes staleness down the layer DAG: modules containing dirty
// definitions, interactions touching dirty modules, flows stepping on dirty
// interactions (and journeys containing them), features grouping dirty flows.
// Every hop marks with reason parent_dirty.
func Propagate(q sqlx.Ext, t *Tracker) (*Propagation, error) {
	p := &Propagation{}

	defIDs, err := t.GetDirtyIDs(LayerMetadata)
	if err != nil {
		return nil, err
	}
	modIDs, err := storage.NewMemberRepository(q).ModulesOf(defIDs)
	if err != nil {
		return nil, err
	}
	if err := t.MarkDirtyMany(LayerModules, modIDs, ReasonParentDirty); err != nil {
		return nil, err
	}
	p.Modules = len(modIDs)

	allMods, err := t.GetDirtyIDs(LayerModules)
	if err != nil {
		return nil, err
	}
	interactionIDs, err := storage.NewInteractionRepository(q).Touching(allMods)
	if err != nil {
		return nil, err
	}
	if err := t.MarkDirtyMany(LayerInteractions, interactionIDs, ReasonParentDirty); err != nil {
		return nil, err
	}
	p.Interactions = len(interactionIDs)

	allInteractions, err := t.GetDirtyIDs(LayerInteractions)
	if err != nil {
		return nil, err
	}
	flowRepo := storage.NewFlowRepository(q)
	flowIDs, err := flowRepo.TouchingInteractions(allInteractions)
	if err != nil {
		return nil, err
	}
	journeys, err := flowRepo.ParentsOf(flowIDs)
	if err != nil {
		return nil, err
	}
	flowIDs = append(flowIDs, journeys...)
	if err := t.MarkDirtyMany(LayerFlows, flowIDs, ReasonParentDirty); err != nil {
		return nil, err
	}
	p.Flows = len(flowIDs)

	allFlows, err := t.GetDirtyIDs(LayerFlows)
	if err != nil {
		return nil, err
	}
	featureIDs, err := storage.NewFeatureRepository(q).FeaturesOfFlows(allFlows)
	if err != nil {
		return nil, err
	}
	if err := t.MarkDirtyMany(LayerFeatures, featureIDs, ReasonParentDirty); err != nil {
		return nil, err
	}
	p.Features = len(featureIDs)

	return p, nil
}

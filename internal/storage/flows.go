package storage

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// FlowSteps is the ordered step content of a flow
type FlowSteps struct {
	InteractionIDs  []int64
	DefinitionSteps [][2]int64 // (from, to) definition pairs
	SubflowIDs      []int64
}

// FlowRepository provides operations for flows and their steps
type FlowRepository struct {
	q sqlx.Ext
}

// NewFlowRepository creates a flow repository
func NewFlowRepository(q sqlx.Ext) *FlowRepository {
	return &FlowRepository{q: q}
}

// Insert creates a flow with its steps and returns the flow id
func (r *FlowRepository) Insert(f *Flow, steps FlowSteps) (int64, error) {
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().Unix()
	}
	id, err := insertID(r.q, `
		INSERT INTO flows (name, slug, entry_point_module_id, entry_point_id, entry_path, stakeholder,
		                   description, action_type, target_entity, tier, created_at)
		VALUES (:name, :slug, :entry_point_module_id, :entry_point_id, :entry_path, :stakeholder,
		        :description, :action_type, :target_entity, :tier, :created_at)
	`, f)
	if err != nil {
		return 0, fmt.Errorf("failed to insert flow %s: %w", f.Slug, err)
	}
	f.ID = id

	for i, iid := range steps.InteractionIDs {
		if _, err := r.q.Exec(`INSERT INTO flow_steps (flow_id, step_order, interaction_id) VALUES (?, ?, ?)`,
			id, i, iid); err != nil {
			return 0, fmt.Errorf("failed to insert step %d of flow %s: %w", i, f.Slug, err)
		}
	}
	for i, edge := range steps.DefinitionSteps {
		if _, err := r.q.Exec(`
			INSERT INTO flow_definition_steps (flow_id, step_order, from_definition_id, to_definition_id)
			VALUES (?, ?, ?, ?)
		`, id, i, edge[0], edge[1]); err != nil {
			return 0, fmt.Errorf("failed to insert definition step %d of flow %s: %w", i, f.Slug, err)
		}
	}
	for i, sub := range steps.SubflowIDs {
		if _, err := r.q.Exec(`INSERT INTO flow_subflow_steps (flow_id, step_order, subflow_id) VALUES (?, ?, ?)`,
			id, i, sub); err != nil {
			return 0, fmt.Errorf("failed to insert subflow step %d of flow %s: %w", i, f.Slug, err)
		}
	}
	return id, nil
}

// GetByID retrieves a flow, or nil if absent
func (r *FlowRepository) GetByID(id int64) (*Flow, error) {
	return getOne[Flow](r.q, `SELECT * FROM flows WHERE id = ?`, id)
}

// GetAll returns every flow ordered by id
func (r *FlowRepository) GetAll() ([]Flow, error) {
	var rows []Flow
	if err := sqlx.Select(r.q, &rows, `SELECT * FROM flows ORDER BY id`); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetByIDs returns the flows with the given ids
func (r *FlowRepository) GetByIDs(ids []int64) ([]Flow, error) {
	return selectIn[Flow](r.q, `SELECT * FROM flows WHERE id IN (?) ORDER BY id`, ids)
}

// Steps loads the interaction, definition and subflow steps of a flow
func (r *FlowRepository) Steps(flowID int64) (FlowSteps, error) {
	var steps FlowSteps
	if err := sqlx.Select(r.q, &steps.InteractionIDs,
		`SELECT interaction_id FROM flow_steps WHERE flow_id = ? ORDER BY step_order`, flowID); err != nil {
		return steps, err
	}
	var defSteps []FlowDefinitionStep
	if err := sqlx.Select(r.q, &defSteps,
		`SELECT * FROM flow_definition_steps WHERE flow_id = ? ORDER BY step_order`, flowID); err != nil {
		return steps, err
	}
	for _, s := range defSteps {
		steps.DefinitionSteps = append(steps.DefinitionSteps, [2]int64{s.FromDefinitionID, s.ToDefinitionID})
	}
	if err := sqlx.Select(r.q, &steps.SubflowIDs,
		`SELECT subflow_id FROM flow_subflow_steps WHERE flow_id = ? ORDER BY step_order`, flowID); err != nil {
		return steps, err
	}
	return steps, nil
}

// CoveredInteractionIDs returns the distinct interaction ids referenced by any flow step
func (r *FlowRepository) CoveredInteractionIDs() ([]int64, error) {
	var ids []int64
	err := sqlx.Select(r.q, &ids, `SELECT DISTINCT interaction_id FROM flow_steps ORDER BY interaction_id`)
	return ids, err
}

// TouchingInteractions returns flows with a step on any of interactionIDs
func (r *FlowRepository) TouchingInteractions(interactionIDs []int64) ([]int64, error) {
	ids, err := SelectIDsIn(r.q, `SELECT DISTINCT flow_id FROM flow_steps WHERE interaction_id IN (?)`, interactionIDs)
	if err != nil {
		return nil, err
	}
	return dedupeIDs(ids), nil
}

// ParentsOf returns journeys that reference any of flowIDs as a subflow
func (r *FlowRepository) ParentsOf(flowIDs []int64) ([]int64, error) {
	ids, err := SelectIDsIn(r.q, `SELECT DISTINCT flow_id FROM flow_subflow_steps WHERE subflow_id IN (?)`, flowIDs)
	if err != nil {
		return nil, err
	}
	return dedupeIDs(ids), nil
}

// Slugs returns every slug in use
func (r *FlowRepository) Slugs() (map[string]bool, error) {
	var slugs []string
	if err := sqlx.Select(r.q, &slugs, `SELECT slug FROM flows`); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		out[s] = true
	}
	return out, nil
}

// ClearEntryPoint nulls a flow's entry-point definition
func (r *FlowRepository) ClearEntryPoint(flowID int64) error {
	_, err := r.q.Exec(`UPDATE flows SET entry_point_id = NULL WHERE id = ?`, flowID)
	return err
}

// Delete removes flows; their steps and feature links go with them
func (r *FlowRepository) Delete(ids []int64) (int64, error) {
	return ExecIn(r.q, `DELETE FROM flows WHERE id IN (?)`, ids)
}

// Clear removes every flow
func (r *FlowRepository) Clear() error {
	_, err := r.q.Exec(`DELETE FROM flows`)
	return err
}

// Count returns the number of flows
func (r *FlowRepository) Count() (int, error) {
	return countRows(r.q, "flows", "")
}

// FeatureRepository provides operations for features and their flow links
type FeatureRepository struct {
	q sqlx.Ext
}

// NewFeatureRepository creates a feature repository
func NewFeatureRepository(q sqlx.Ext) *FeatureRepository {
	return &FeatureRepository{q: q}
}

// Insert creates a feature linked to flowIDs
func (r *FeatureRepository) Insert(f *Feature, flowIDs []int64) (int64, error) {
	id, err := insertID(r.q, `
		INSERT INTO features (name, slug, description) VALUES (:name, :slug, :description)
	`, f)
	if err != nil {
		return 0, fmt.Errorf("failed to insert feature %s: %w", f.Slug, err)
	}
	f.ID = id
	for _, fid := range flowIDs {
		if _, err := r.q.Exec(`INSERT OR IGNORE INTO feature_flows (feature_id, flow_id) VALUES (?, ?)`, id, fid); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetAll returns every feature ordered by slug
func (r *FeatureRepository) GetAll() ([]Feature, error) {
	var rows []Feature
	if err := sqlx.Select(r.q, &rows, `SELECT * FROM features ORDER BY slug`); err != nil {
		return nil, err
	}
	return rows, nil
}

// FlowIDs returns the flows linked to a feature
func (r *FeatureRepository) FlowIDs(featureID int64) ([]int64, error) {
	var ids []int64
	err := sqlx.Select(r.q, &ids, `SELECT flow_id FROM feature_flows WHERE feature_id = ? ORDER BY flow_id`, featureID)
	return ids, err
}

// FeaturesOfFlows returns features linked to any of flowIDs
func (r *FeatureRepository) FeaturesOfFlows(flowIDs []int64) ([]int64, error) {
	ids, err := SelectIDsIn(r.q, `SELECT DISTINCT feature_id FROM feature_flows WHERE flow_id IN (?)`, flowIDs)
	if err != nil {
		return nil, err
	}
	return dedupeIDs(ids), nil
}

// Delete removes features; their flow links go with them
func (r *FeatureRepository) Delete(ids []int64) (int64, error) {
	return ExecIn(r.q, `DELETE FROM features WHERE id IN (?)`, ids)
}

// Clear removes every feature
func (r *FeatureRepository) Clear() error {
	_, err := r.q.Exec(`DELETE FROM features`)
	return err
}

// Count returns the number of features
func (r *FeatureRepository) Count() (int, error) {
	return countRows(r.q, "features", "")
}

package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// InteractionRepository provides operations for module-to-module interactions
type InteractionRepository struct {
	q sqlx.Ext
}

// NewInteractionRepository creates an interaction repository
func NewInteractionRepository(q sqlx.Ext) *InteractionRepository {
	return &InteractionRepository{q: q}
}

// Upsert inserts the interaction or updates the existing row for its module pair.
// An existing semantic description is kept. Returns the row id.
func (r *InteractionRepository) Upsert(in *Interaction) (int64, error) {
	if in.Direction == "" {
		in.Direction = DirectionUni
	}
	_, err := sqlx.NamedExec(r.q, `
		INSERT INTO interactions (from_module_id, to_module_id, direction, weight, pattern, symbols,
		                          semantic, source, confidence)
		VALUES (:from_module_id, :to_module_id, :direction, :weight, :pattern, :symbols,
		        :semantic, :source, :confidence)
		ON CONFLICT(from_module_id, to_module_id) DO UPDATE SET
			direction = excluded.direction,
			weight = excluded.weight,
			pattern = excluded.pattern,
			symbols = excluded.symbols,
			source = excluded.source,
			confidence = excluded.confidence
	`, in)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert interaction %d->%d: %w", in.FromModuleID, in.ToModuleID, err)
	}

	var id int64
	err = sqlx.Get(r.q, &id, `SELECT id FROM interactions WHERE from_module_id = ? AND to_module_id = ?`,
		in.FromModuleID, in.ToModuleID)
	if err != nil {
		return 0, err
	}
	in.ID = id
	return id, nil
}

// GetByID retrieves an interaction, or nil if absent
func (r *InteractionRepository) GetByID(id int64) (*Interaction, error) {
	return getOne[Interaction](r.q, `SELECT * FROM interactions WHERE id = ?`, id)
}

// GetByPair retrieves the interaction for a module pair, or nil
func (r *InteractionRepository) GetByPair(from, to int64) (*Interaction, error) {
	return getOne[Interaction](r.q, `SELECT * FROM interactions WHERE from_module_id = ? AND to_module_id = ?`, from, to)
}

// GetAll returns every interaction ordered by id
func (r *InteractionRepository) GetAll() ([]Interaction, error) {
	var rows []Interaction
	if err := sqlx.Select(r.q, &rows, `SELECT * FROM interactions ORDER BY id`); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetByIDs returns the interactions with the given ids
func (r *InteractionRepository) GetByIDs(ids []int64) ([]Interaction, error) {
	return selectIn[Interaction](r.q, `SELECT * FROM interactions WHERE id IN (?) ORDER BY id`, ids)
}

// Touching returns ids of interactions with either endpoint in moduleIDs
func (r *InteractionRepository) Touching(moduleIDs []int64) ([]int64, error) {
	ids, err := SelectIDsIn(r.q, `
		SELECT id FROM interactions WHERE from_module_id IN (?) OR to_module_id IN (?)
	`, moduleIDs)
	if err != nil {
		return nil, err
	}
	return dedupeIDs(ids), nil
}

// SetSemantic stores an interaction's semantic description
func (r *InteractionRepository) SetSemantic(id int64, semantic string) error {
	_, err := r.q.Exec(`UPDATE interactions SET semantic = ? WHERE id = ?`, semantic, id)
	return err
}

// SetDirection updates an interaction's direction
func (r *InteractionRepository) SetDirection(id int64, direction string) error {
	_, err := r.q.Exec(`UPDATE interactions SET direction = ? WHERE id = ?`, direction, id)
	return err
}

// Delete removes interactions and the flow steps that reference them
func (r *InteractionRepository) Delete(ids []int64) (int64, error) {
	if _, err := ExecIn(r.q, `DELETE FROM flow_steps WHERE interaction_id IN (?)`, ids); err != nil {
		return 0, err
	}
	return ExecIn(r.q, `DELETE FROM interactions WHERE id IN (?)`, ids)
}

// Clear removes every interaction
func (r *InteractionRepository) Clear() error {
	if _, err := r.q.Exec(`DELETE FROM flow_steps`); err != nil {
		return err
	}
	_, err := r.q.Exec(`DELETE FROM interactions`)
	return err
}

// Count returns the number of interactions
func (r *InteractionRepository) Count() (int, error) {
	return countRows(r.q, "interactions", "")
}

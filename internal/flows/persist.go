package flows

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"squint/internal/storage"
)

// Persist inserts flows with their steps and sets their ids
func Persist(q sqlx.Ext, flows []*Flow) error {
	repo := storage.NewFlowRepository(q)
	for _, f := range flows {
		id, err := repo.Insert(toRow(f), storage.FlowSteps{
			InteractionIDs:  f.InteractionIDs,
			DefinitionSteps: f.DefinitionSteps,
			SubflowIDs:      f.SubflowIDs,
		})
		if err != nil {
			return err
		}
		f.ID = id
	}
	return nil
}

// Load reads every flow with its steps, ordered by id
func Load(q sqlx.Ext) ([]*Flow, error) {
	repo := storage.NewFlowRepository(q)
	rows, err := repo.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load flows: %w", err)
	}
	out := make([]*Flow, 0, len(rows))
	for _, r := range rows {
		steps, err := repo.Steps(r.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load steps of flow %s: %w", r.Slug, err)
		}
		out = append(out, fromRow(r, steps))
	}
	return out, nil
}

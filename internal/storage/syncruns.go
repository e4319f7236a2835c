package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SyncRun is one row of the sync ledger
type SyncRun struct {
	ID         string `db:"id" json:"id"`
	StartedAt  int64  `db:"started_at" json:"startedAt"`
	FinishedAt int64  `db:"finished_at" json:"finishedAt"`
	Strategy   string `db:"strategy" json:"strategy"`
	Reason     string `db:"reason" json:"reason"`
	CountsJSON string `db:"counts_json" json:"counts"`
}

// SyncRunRepository records sync invocations
type SyncRunRepository struct {
	q sqlx.Ext
}

// NewSyncRunRepository creates a sync run repository
func NewSyncRunRepository(q sqlx.Ext) *SyncRunRepository {
	return &SyncRunRepository{q: q}
}

// Insert records a run
func (r *SyncRunRepository) Insert(run *SyncRun) error {
	if run.CountsJSON == "" {
		run.CountsJSON = "{}"
	}
	_, err := sqlx.NamedExec(r.q, `
		INSERT INTO sync_runs (id, started_at, finished_at, strategy, reason, counts_json)
		VALUES (:id, :started_at, :finished_at, :strategy, :reason, :counts_json)
	`, run)
	if err != nil {
		return fmt.Errorf("failed to record sync run %s: %w", run.ID, err)
	}
	return nil
}

// SetStrategy stores the strategy chosen after a run
func (r *SyncRunRepository) SetStrategy(id, strategy, reason string) error {
	_, err := r.q.Exec(`UPDATE sync_runs SET strategy = ?, reason = ? WHERE id = ?`, strategy, reason, id)
	return err
}

// Latest returns the most recent run, or nil if none
func (r *SyncRunRepository) Latest() (*SyncRun, error) {
	return getOne[SyncRun](r.q, `SELECT * FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)
}

// Recent returns up to limit runs, newest first
func (r *SyncRunRepository) Recent(limit int) ([]SyncRun, error) {
	var runs []SyncRun
	err := sqlx.Select(r.q, &runs, `SELECT * FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	return runs, err
}

package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ModuleRepository provides operations for the module tree
type ModuleRepository struct {
	q sqlx.Ext
}

// NewModuleRepository creates a module repository
func NewModuleRepository(q sqlx.Ext) *ModuleRepository {
	return &ModuleRepository{q: q}
}

// EnsurePath returns the id of the module at fullPath ("project.api.users"),
// creating it and any missing ancestors. Depth is the ancestor count.
func (r *ModuleRepository) EnsurePath(fullPath string, isTest bool) (int64, error) {
	parts := strings.Split(fullPath, ".")
	var parentID *int64
	var id int64
	for depth := range parts {
		path := strings.Join(parts[:depth+1], ".")
		existing, err := r.GetByPath(path)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			id = existing.ID
		} else {
			leaf := depth == len(parts)-1
			m := &Module{
				ParentID: parentID,
				Slug:     parts[depth],
				FullPath: path,
				Name:     parts[depth],
				Depth:    depth,
				IsTest:   leaf && isTest,
			}
			id, err = insertID(r.q, `
				INSERT INTO modules (parent_id, slug, full_path, name, description, depth, is_test)
				VALUES (:parent_id, :slug, :full_path, :name, :description, :depth, :is_test)
			`, m)
			if err != nil {
				return 0, fmt.Errorf("failed to create module %s: %w", path, err)
			}
		}
		pid := id
		parentID = &pid
	}
	return id, nil
}

// GetByID retrieves a module, or nil if absent
func (r *ModuleRepository) GetByID(id int64) (*Module, error) {
	return getOne[Module](r.q, `SELECT * FROM modules WHERE id = ?`, id)
}

// GetByPath retrieves a module by full path, or nil if absent
func (r *ModuleRepository) GetByPath(fullPath string) (*Module, error) {
	return getOne[Module](r.q, `SELECT * FROM modules WHERE full_path = ?`, fullPath)
}

// GetAll returns every module ordered by full path
func (r *ModuleRepository) GetAll() ([]Module, error) {
	var mods []Module
	if err := sqlx.Select(r.q, &mods, `SELECT * FROM modules ORDER BY full_path`); err != nil {
		return nil, err
	}
	return mods, nil
}

// ByID returns all modules keyed by id
func (r *ModuleRepository) ByID() (map[int64]Module, error) {
	mods, err := r.GetAll()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Module, len(mods))
	for _, m := range mods {
		out[m.ID] = m
	}
	return out, nil
}

// SetDescription updates a module's description
func (r *ModuleRepository) SetDescription(id int64, description string) error {
	_, err := r.q.Exec(`UPDATE modules SET description = ? WHERE id = ?`, description, id)
	return err
}

// Count returns the number of modules
func (r *ModuleRepository) Count() (int, error) {
	return countRows(r.q, "modules", "")
}

// MemberRepository manages definition to module assignment
type MemberRepository struct {
	q sqlx.Ext
}

// NewMemberRepository creates a member repository
func NewMemberRepository(q sqlx.Ext) *MemberRepository {
	return &MemberRepository{q: q}
}

// Assign places a definition in a module, replacing any previous assignment
func (r *MemberRepository) Assign(definitionID, moduleID int64) error {
	_, err := r.q.Exec(`
		INSERT INTO module_members (definition_id, module_id, assigned_at) VALUES (?, ?, ?)
		ON CONFLICT(definition_id) DO UPDATE SET module_id = excluded.module_id, assigned_at = excluded.assigned_at
	`, definitionID, moduleID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to assign definition %d to module %d: %w", definitionID, moduleID, err)
	}
	return nil
}

// ModuleOf returns the module of a definition, or 0 if unassigned
func (r *MemberRepository) ModuleOf(definitionID int64) (int64, error) {
	row, err := getOne[ModuleMember](r.q, `SELECT * FROM module_members WHERE definition_id = ?`, definitionID)
	if err != nil || row == nil {
		return 0, err
	}
	return row.ModuleID, nil
}

// ModulesOf returns the distinct modules holding any of definitionIDs
func (r *MemberRepository) ModulesOf(definitionIDs []int64) ([]int64, error) {
	ids, err := SelectIDsIn(r.q, `
		SELECT DISTINCT module_id FROM module_members WHERE definition_id IN (?)
	`, definitionIDs)
	if err != nil {
		return nil, err
	}
	return dedupeIDs(ids), nil
}

// Members returns the definition ids assigned to a module
func (r *MemberRepository) Members(moduleID int64) ([]int64, error) {
	var ids []int64
	err := sqlx.Select(r.q, &ids, `SELECT definition_id FROM module_members WHERE module_id = ? ORDER BY definition_id`, moduleID)
	return ids, err
}

// Assignments returns definition id -> module id for every assigned definition
func (r *MemberRepository) Assignments() (map[int64]int64, error) {
	var rows []ModuleMember
	if err := sqlx.Select(r.q, &rows, `SELECT * FROM module_members`); err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(rows))
	for _, row := range rows {
		out[row.DefinitionID] = row.ModuleID
	}
	return out, nil
}

// UnassignedIDs returns definitions without a module
func (r *MemberRepository) UnassignedIDs() ([]int64, error) {
	var ids []int64
	err := sqlx.Select(r.q, &ids, `
		SELECT d.id FROM definitions d
		LEFT JOIN module_members mm ON mm.definition_id = d.id
		WHERE mm.definition_id IS NULL
		ORDER BY d.id
	`)
	return ids, err
}

// UnassignedCount counts definitions without a module
func (r *MemberRepository) UnassignedCount() (int, error) {
	return countRows(r.q, "definitions d",
		"NOT EXISTS (SELECT 1 FROM module_members mm WHERE mm.definition_id = d.id)")
}

// dedupeIDs removes duplicates, keeping first occurrence order
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

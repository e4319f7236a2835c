package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ImportRepository provides operations for the imports table
type ImportRepository struct {
	q sqlx.Ext
}

// NewImportRepository creates an import repository
func NewImportRepository(q sqlx.Ext) *ImportRepository {
	return &ImportRepository{q: q}
}

// Insert creates an import and returns its id
func (r *ImportRepository) Insert(imp *Import) (int64, error) {
	id, err := insertID(r.q, `
		INSERT INTO imports (from_file_id, to_file_id, source, resolved_path, is_external, is_type_only, line)
		VALUES (:from_file_id, :to_file_id, :source, :resolved_path, :is_external, :is_type_only, :line)
	`, imp)
	if err != nil {
		return 0, fmt.Errorf("failed to insert import %s: %w", imp.Source, err)
	}
	imp.ID = id
	return id, nil
}

// GetByFile returns a file's imports in source order
func (r *ImportRepository) GetByFile(fileID int64) ([]Import, error) {
	var imps []Import
	err := sqlx.Select(r.q, &imps, `SELECT * FROM imports WHERE from_file_id = ? ORDER BY line, id`, fileID)
	return imps, err
}

// DependentFileIDs returns files (outside exclude) whose imports point at any of
// targetIDs or whose resolved path is one of paths.
func (r *ImportRepository) DependentFileIDs(targetIDs []int64, paths []string) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	add := func(ids []int64) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}

	byID, err := SelectIDsIn(r.q, `SELECT DISTINCT from_file_id FROM imports WHERE to_file_id IN (?)`, targetIDs)
	if err != nil {
		return nil, err
	}
	add(byID)

	for start := 0; start < len(paths); start += maxInParams {
		end := start + maxInParams
		if end > len(paths) {
			end = len(paths)
		}
		stmt, args, err := sqlx.In(`SELECT DISTINCT from_file_id FROM imports WHERE resolved_path IN (?)`, paths[start:end])
		if err != nil {
			return nil, err
		}
		var part []int64
		if err := sqlx.Select(r.q, &part, r.q.Rebind(stmt), args...); err != nil {
			return nil, err
		}
		add(part)
	}
	return out, nil
}

// UnresolvedInternal returns non-external imports that have no target file
func (r *ImportRepository) UnresolvedInternal() ([]Import, error) {
	var imps []Import
	err := sqlx.Select(r.q, &imps, `
		SELECT * FROM imports WHERE is_external = 0 AND to_file_id IS NULL ORDER BY id
	`)
	return imps, err
}

// UnlinkTarget clears to_file_id on imports pointing at fileID
func (r *ImportRepository) UnlinkTarget(fileID int64) (int64, error) {
	res, err := r.q.Exec(`UPDATE imports SET to_file_id = NULL WHERE to_file_id = ?`, fileID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of imports
func (r *ImportRepository) Count() (int, error) {
	return countRows(r.q, "imports", "")
}

// SymbolRepository provides operations for the symbols table
type SymbolRepository struct {
	q sqlx.Ext
}

// NewSymbolRepository creates a symbol repository
func NewSymbolRepository(q sqlx.Ext) *SymbolRepository {
	return &SymbolRepository{q: q}
}

// Insert creates a symbol and returns its id
func (r *SymbolRepository) Insert(s *Symbol) (int64, error) {
	id, err := insertID(r.q, `
		INSERT INTO symbols (reference_id, file_id, definition_id, name, local_name, kind)
		VALUES (:reference_id, :file_id, :definition_id, :name, :local_name, :kind)
	`, s)
	if err != nil {
		return 0, fmt.Errorf("failed to insert symbol %s: %w", s.Name, err)
	}
	s.ID = id
	return id, nil
}

// GetByFile returns both the import-linked and internal symbols of a file
func (r *SymbolRepository) GetByFile(fileID int64) ([]Symbol, error) {
	var syms []Symbol
	err := sqlx.Select(r.q, &syms, `
		SELECT s.* FROM symbols s
		LEFT JOIN imports i ON i.id = s.reference_id
		WHERE s.file_id = ? OR i.from_file_id = ?
		ORDER BY s.id
	`, fileID, fileID)
	return syms, err
}

// GetByDefinition returns symbols resolved to definitionID
func (r *SymbolRepository) GetByDefinition(definitionID int64) ([]Symbol, error) {
	var syms []Symbol
	err := sqlx.Select(r.q, &syms, `SELECT * FROM symbols WHERE definition_id = ? ORDER BY id`, definitionID)
	return syms, err
}

// FilesReferencing returns the files owning symbols resolved to any of definitionIDs
func (r *SymbolRepository) FilesReferencing(definitionIDs []int64) ([]int64, error) {
	ids, err := SelectIDsIn(r.q, `
		SELECT DISTINCT COALESCE(s.file_id, i.from_file_id) FROM symbols s
		LEFT JOIN imports i ON i.id = s.reference_id
		WHERE s.definition_id IN (?) AND COALESCE(s.file_id, i.from_file_id) IS NOT NULL
	`, definitionIDs)
	if err != nil {
		return nil, err
	}
	return dedupeIDs(ids), nil
}

// Count returns the number of symbols
func (r *SymbolRepository) Count() (int, error) {
	return countRows(r.q, "symbols", "")
}

// UsageRepository provides operations for the usages table
type UsageRepository struct {
	q sqlx.Ext
}

// NewUsageRepository creates a usage repository
func NewUsageRepository(q sqlx.Ext) *UsageRepository {
	return &UsageRepository{q: q}
}

// Insert creates a usage and returns its id
func (r *UsageRepository) Insert(u *Usage) (int64, error) {
	id, err := insertID(r.q, `
		INSERT INTO usages (symbol_id, line, col, context, argument_count, is_method_call, receiver_name)
		VALUES (:symbol_id, :line, :col, :context, :argument_count, :is_method_call, :receiver_name)
	`, u)
	if err != nil {
		return 0, fmt.Errorf("failed to insert usage: %w", err)
	}
	u.ID = id
	return id, nil
}

// GetBySymbol returns a symbol's usages
func (r *UsageRepository) GetBySymbol(symbolID int64) ([]Usage, error) {
	var us []Usage
	err := sqlx.Select(r.q, &us, `SELECT * FROM usages WHERE symbol_id = ? ORDER BY line, col`, symbolID)
	return us, err
}

// Count returns the number of usages
func (r *UsageRepository) Count() (int, error) {
	return countRows(r.q, "usages", "")
}

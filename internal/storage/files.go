package storage

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// FileRepository provides CRUD operations for the files table
type FileRepository struct {
	q sqlx.Ext
}

// NewFileRepository creates a file repository over a DB or transaction
func NewFileRepository(q sqlx.Ext) *FileRepository {
	return &FileRepository{q: q}
}

// Insert creates a file row and returns its id
func (r *FileRepository) Insert(f *File) (int64, error) {
	id, err := insertID(r.q, `
		INSERT INTO files (path, language, content_hash, size_bytes, modified_at)
		VALUES (:path, :language, :content_hash, :size_bytes, :modified_at)
	`, f)
	if err != nil {
		return 0, fmt.Errorf("failed to insert file %s: %w", f.Path, err)
	}
	f.ID = id
	return id, nil
}

// GetByID retrieves a file, or nil if absent
func (r *FileRepository) GetByID(id int64) (*File, error) {
	return getOne[File](r.q, `SELECT * FROM files WHERE id = ?`, id)
}

// GetByPath retrieves a file by its relative path, or nil if absent
func (r *FileRepository) GetByPath(path string) (*File, error) {
	return getOne[File](r.q, `SELECT * FROM files WHERE path = ?`, path)
}

// GetAll returns every indexed file ordered by path
func (r *FileRepository) GetAll() ([]File, error) {
	var files []File
	if err := sqlx.Select(r.q, &files, `SELECT * FROM files ORDER BY path`); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// GetByIDs returns the files with the given ids
func (r *FileRepository) GetByIDs(ids []int64) ([]File, error) {
	return selectIn[File](r.q, `SELECT * FROM files WHERE id IN (?) ORDER BY path`, ids)
}

// KnownPaths returns the set of all indexed paths
func (r *FileRepository) KnownPaths() (map[string]bool, error) {
	var paths []string
	if err := sqlx.Select(r.q, &paths, `SELECT path FROM files`); err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(paths))
	for _, p := range paths {
		known[p] = true
	}
	return known, nil
}

// PathIDs maps every indexed path to its file id
func (r *FileRepository) PathIDs() (map[string]int64, error) {
	var rows []struct {
		ID   int64  `db:"id"`
		Path string `db:"path"`
	}
	if err := sqlx.Select(r.q, &rows, `SELECT id, path FROM files`); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Path] = row.ID
	}
	return out, nil
}

// UpdateContent records a re-parsed file's hash, size and mtime
func (r *FileRepository) UpdateContent(f *File) error {
	_, err := sqlx.NamedExec(r.q, `
		UPDATE files
		SET language = :language, content_hash = :content_hash,
		    size_bytes = :size_bytes, modified_at = :modified_at
		WHERE id = :id
	`, f)
	if err != nil {
		return fmt.Errorf("failed to update file %s: %w", f.Path, err)
	}
	return nil
}

// Delete removes the file row only. Dependent rows must already be gone;
// callers use cascade.DeleteFile.
func (r *FileRepository) Delete(id int64) error {
	_, err := r.q.Exec(`DELETE FROM files WHERE id = ?`, id)
	return err
}

// Count returns the number of indexed files
func (r *FileRepository) Count() (int, error) {
	return countRows(r.q, "files", "")
}

// DefinitionRepository provides operations for the definitions table
type DefinitionRepository struct {
	q sqlx.Ext
}

// NewDefinitionRepository creates a definition repository
func NewDefinitionRepository(q sqlx.Ext) *DefinitionRepository {
	return &DefinitionRepository{q: q}
}

// Insert creates a definition and returns its id
func (r *DefinitionRepository) Insert(d *Definition) (int64, error) {
	id, err := insertID(r.q, `
		INSERT INTO definitions (file_id, name, kind, is_exported, line, col, end_line, end_column,
		                         extends_name, implements_names)
		VALUES (:file_id, :name, :kind, :is_exported, :line, :col, :end_line, :end_column,
		        :extends_name, :implements_names)
	`, d)
	if err != nil {
		return 0, fmt.Errorf("failed to insert definition %s: %w", d.Name, err)
	}
	d.ID = id
	return id, nil
}

// GetByID retrieves a definition, or nil if absent
func (r *DefinitionRepository) GetByID(id int64) (*Definition, error) {
	return getOne[Definition](r.q, `SELECT * FROM definitions WHERE id = ?`, id)
}

// GetByIDs returns the definitions with the given ids ordered by id
func (r *DefinitionRepository) GetByIDs(ids []int64) ([]Definition, error) {
	return selectIn[Definition](r.q, `SELECT * FROM definitions WHERE id IN (?) ORDER BY id`, ids)
}

// GetByFile returns a file's definitions in source order
func (r *DefinitionRepository) GetByFile(fileID int64) ([]Definition, error) {
	var defs []Definition
	err := sqlx.Select(r.q, &defs, `SELECT * FROM definitions WHERE file_id = ? ORDER BY line, id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions for file %d: %w", fileID, err)
	}
	return defs, nil
}

// GetAll returns every definition ordered by id
func (r *DefinitionRepository) GetAll() ([]Definition, error) {
	var defs []Definition
	if err := sqlx.Select(r.q, &defs, `SELECT * FROM definitions ORDER BY id`); err != nil {
		return nil, err
	}
	return defs, nil
}

// IDsByFile returns the ids of a file's definitions
func (r *DefinitionRepository) IDsByFile(fileID int64) ([]int64, error) {
	var ids []int64
	err := sqlx.Select(r.q, &ids, `SELECT id FROM definitions WHERE file_id = ? ORDER BY id`, fileID)
	return ids, err
}

// FindByNameInFiles finds definitions called name declared in any of fileIDs
func (r *DefinitionRepository) FindByNameInFiles(name string, fileIDs []int64) ([]Definition, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	var out []Definition
	for _, chunk := range chunkIDs(fileIDs) {
		stmt, args, err := sqlx.In(`SELECT * FROM definitions WHERE name = ? AND file_id IN (?) ORDER BY id`, name, chunk)
		if err != nil {
			return nil, err
		}
		var part []Definition
		if err := sqlx.Select(r.q, &part, r.q.Rebind(stmt), args...); err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

// FindMethodsInFiles finds methods named Type.method declared in any of fileIDs
func (r *DefinitionRepository) FindMethodsInFiles(method string, fileIDs []int64) ([]Definition, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	var out []Definition
	for _, chunk := range chunkIDs(fileIDs) {
		stmt, args, err := sqlx.In(`
			SELECT * FROM definitions WHERE kind = 'method' AND name LIKE ? AND file_id IN (?) ORDER BY id
		`, "%."+method, chunk)
		if err != nil {
			return nil, err
		}
		var part []Definition
		if err := sqlx.Select(r.q, &part, r.q.Rebind(stmt), args...); err != nil {
			return nil, err
		}
		// LIKE treats _ as a wildcard
		for _, d := range part {
			if strings.HasSuffix(d.Name, "."+method) {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// FindByName finds definitions by name across the whole index
func (r *DefinitionRepository) FindByName(name string) ([]Definition, error) {
	var defs []Definition
	err := sqlx.Select(r.q, &defs, `SELECT * FROM definitions WHERE name = ? ORDER BY id`, name)
	return defs, err
}

// UpdateInPlace applies position, export and inheritance changes of a persisting definition
func (r *DefinitionRepository) UpdateInPlace(d *Definition) error {
	_, err := sqlx.NamedExec(r.q, `
		UPDATE definitions
		SET is_exported = :is_exported, line = :line, col = :col,
		    end_line = :end_line, end_column = :end_column,
		    extends_name = :extends_name, implements_names = :implements_names
		WHERE id = :id
	`, d)
	if err != nil {
		return fmt.Errorf("failed to update definition %d: %w", d.ID, err)
	}
	return nil
}

// WithHeritage returns definitions that declare an extends or implements clause
func (r *DefinitionRepository) WithHeritage() ([]Definition, error) {
	var defs []Definition
	err := sqlx.Select(r.q, &defs, `
		SELECT * FROM definitions WHERE extends_name != '' OR implements_names != '' ORDER BY id
	`)
	return defs, err
}

// Count returns the number of definitions
func (r *DefinitionRepository) Count() (int, error) {
	return countRows(r.q, "definitions", "")
}

// ExportedInModules returns exported definitions assigned to any of moduleIDs
func (r *DefinitionRepository) ExportedInModules(moduleIDs []int64) ([]Definition, error) {
	return selectIn[Definition](r.q, `
		SELECT d.* FROM definitions d
		JOIN module_members mm ON mm.definition_id = d.id
		WHERE d.is_exported = 1 AND mm.module_id IN (?)
		ORDER BY d.id
	`, moduleIDs)
}

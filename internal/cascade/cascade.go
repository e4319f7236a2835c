// Package cascade removes definitions and files together with every row that
// references them, leaving no dangling foreign keys behind.
package cascade

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"squint/internal/storage"
)

// definitionSteps run in dependency order. Every statement binds each "(?)"
// to the same chunk of definition ids, so both-direction tables are cleared
// in one statement.
var definitionSteps = []struct {
	name  string
	query string
}{
	{"usages", `DELETE FROM usages WHERE symbol_id IN (SELECT id FROM symbols WHERE definition_id IN (?))`},
	{"symbols", `DELETE FROM symbols WHERE definition_id IN (?)`},
	{"definition_metadata", `DELETE FROM definition_metadata WHERE definition_id IN (?)`},
	{"relationship_annotations", `DELETE FROM relationship_annotations WHERE from_definition_id IN (?) OR to_definition_id IN (?)`},
	{"module_members", `DELETE FROM module_members WHERE definition_id IN (?)`},
	{"flow_definition_steps", `DELETE FROM flow_definition_steps WHERE from_definition_id IN (?) OR to_definition_id IN (?)`},
	{"flows.entry_point_id", `UPDATE flows SET entry_point_id = NULL WHERE entry_point_id IN (?)`},
	{"definitions", `DELETE FROM definitions WHERE id IN (?)`},
}

// DeleteDefinitions removes the given definitions and all dependent rows.
// Empty input is a no-op. Returns the number of definitions deleted.
func DeleteDefinitions(q sqlx.Ext, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	for _, step := range definitionSteps {
		n, err := storage.ExecIn(q, step.query, ids)
		if err != nil {
			return 0, fmt.Errorf("cascade %s: %w", step.name, err)
		}
		deleted = n
	}
	return deleted, nil
}

// DeleteFileReferences removes a file's imports, the symbols linked to them,
// the file's internal symbols and all their usages. Definitions are untouched.
func DeleteFileReferences(q sqlx.Ext, fileID int64) error {
	stmts := []struct {
		name  string
		query string
	}{
		{"usages", `
			DELETE FROM usages WHERE symbol_id IN (
				SELECT id FROM symbols
				WHERE file_id = ?1
				   OR reference_id IN (SELECT id FROM imports WHERE from_file_id = ?1)
			)`},
		{"symbols", `
			DELETE FROM symbols
			WHERE file_id = ?1
			   OR reference_id IN (SELECT id FROM imports WHERE from_file_id = ?1)`},
		{"imports", `DELETE FROM imports WHERE from_file_id = ?1`},
	}
	for _, s := range stmts {
		if _, err := q.Exec(s.query, fileID); err != nil {
			return fmt.Errorf("cascade file %d %s: %w", fileID, s.name, err)
		}
	}
	return nil
}

// DeleteFile removes a file, its definitions (cascaded), its references, and
// unlinks imports in other files that resolved to it.
func DeleteFile(q sqlx.Ext, fileID int64) error {
	defIDs, err := storage.NewDefinitionRepository(q).IDsByFile(fileID)
	if err != nil {
		return err
	}
	if _, err := DeleteDefinitions(q, defIDs); err != nil {
		return err
	}
	if err := DeleteFileReferences(q, fileID); err != nil {
		return err
	}
	if _, err := storage.NewImportRepository(q).UnlinkTarget(fileID); err != nil {
		return fmt.Errorf("cascade file %d unlink importers: %w", fileID, err)
	}
	if err := storage.NewFileRepository(q).Delete(fileID); err != nil {
		return fmt.Errorf("cascade file %d: %w", fileID, err)
	}
	return nil
}

// CleanDanglingSymbolRefs nulls symbol definition references that point at
// definitions which no longer exist. Returns the number repaired.
func CleanDanglingSymbolRefs(q sqlx.Ext) (int64, error) {
	res, err := q.Exec(`
		UPDATE symbols SET definition_id = NULL
		WHERE definition_id IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM definitions d WHERE d.id = symbols.definition_id)
	`)
	if err != nil {
		return 0, fmt.Errorf("clean dangling symbol refs: %w", err)
	}
	return res.RowsAffected()
}

// ghostSymbol matches symbols whose owning import or file is gone.
const ghostSymbol = `(
	(s.reference_id IS NOT NULL AND NOT EXISTS (
		SELECT 1 FROM imports i JOIN files f ON f.id = i.from_file_id WHERE i.id = s.reference_id))
	OR (s.file_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM files f WHERE f.id = s.file_id))
)`

// ghostSteps remove or unlink rows whose parent disappeared, referencing rows first.
var ghostSteps = []struct {
	name  string
	query string
}{
	{"usages", `DELETE FROM usages
		WHERE NOT EXISTS (SELECT 1 FROM symbols s WHERE s.id = usages.symbol_id)
		   OR symbol_id IN (SELECT s.id FROM symbols s WHERE ` + ghostSymbol + `)`},
	{"symbols", `DELETE FROM symbols WHERE id IN (SELECT s.id FROM symbols s WHERE ` + ghostSymbol + `)`},
	{"imports", `DELETE FROM imports WHERE NOT EXISTS (SELECT 1 FROM files f WHERE f.id = imports.from_file_id)`},
	{"imports.to_file_id", `UPDATE imports SET to_file_id = NULL
		WHERE to_file_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM files f WHERE f.id = imports.to_file_id)`},
	{"definition_metadata", `DELETE FROM definition_metadata
		WHERE NOT EXISTS (SELECT 1 FROM definitions d WHERE d.id = definition_metadata.definition_id)`},
	{"relationship_annotations", `DELETE FROM relationship_annotations
		WHERE NOT EXISTS (SELECT 1 FROM definitions d WHERE d.id = relationship_annotations.from_definition_id)
		   OR NOT EXISTS (SELECT 1 FROM definitions d WHERE d.id = relationship_annotations.to_definition_id)`},
	{"module_members", `DELETE FROM module_members
		WHERE NOT EXISTS (SELECT 1 FROM definitions d WHERE d.id = module_members.definition_id)
		   OR NOT EXISTS (SELECT 1 FROM modules m WHERE m.id = module_members.module_id)`},
	{"flow_definition_steps", `DELETE FROM flow_definition_steps
		WHERE NOT EXISTS (SELECT 1 FROM definitions d WHERE d.id = flow_definition_steps.from_definition_id)
		   OR NOT EXISTS (SELECT 1 FROM definitions d WHERE d.id = flow_definition_steps.to_definition_id)`},
	{"flows.entry_point_id", `UPDATE flows SET entry_point_id = NULL
		WHERE entry_point_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM definitions d WHERE d.id = flows.entry_point_id)`},
	{"flow_steps", `DELETE FROM flow_steps
		WHERE NOT EXISTS (SELECT 1 FROM interactions i WHERE i.id = flow_steps.interaction_id)`},
}

// CleanGhostRows removes dependent rows left orphaned by writes that bypassed
// foreign key enforcement. Definitions of vanished files are cascaded first.
// Returns the total number of rows removed or unlinked.
func CleanGhostRows(q sqlx.Ext) (int64, error) {
	var orphanDefs []int64
	if err := sqlx.Select(q, &orphanDefs, `
		SELECT id FROM definitions d WHERE NOT EXISTS (SELECT 1 FROM files f WHERE f.id = d.file_id)
	`); err != nil {
		return 0, fmt.Errorf("clean ghost definitions: %w", err)
	}
	total, err := DeleteDefinitions(q, orphanDefs)
	if err != nil {
		return 0, err
	}

	for _, step := range ghostSteps {
		res, err := q.Exec(step.query)
		if err != nil {
			return total, fmt.Errorf("clean ghost %s: %w", step.name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

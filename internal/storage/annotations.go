package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// MetadataRepository stores key/value metadata per definition
type MetadataRepository struct {
	q sqlx.Ext
}

// NewMetadataRepository creates a metadata repository
func NewMetadataRepository(q sqlx.Ext) *MetadataRepository {
	return &MetadataRepository{q: q}
}

// Set upserts one metadata key of a definition
func (r *MetadataRepository) Set(definitionID int64, key, value string) error {
	_, err := r.q.Exec(`
		INSERT INTO definition_metadata (definition_id, meta_key, meta_value) VALUES (?, ?, ?)
		ON CONFLICT(definition_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value
	`, definitionID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %s on definition %d: %w", key, definitionID, err)
	}
	return nil
}

// Get returns all metadata of a definition as a map
func (r *MetadataRepository) Get(definitionID int64) (map[string]string, error) {
	var rows []DefinitionMetadata
	if err := sqlx.Select(r.q, &rows, `SELECT * FROM definition_metadata WHERE definition_id = ?`, definitionID); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// Clear removes all metadata of the given definitions
func (r *MetadataRepository) Clear(definitionIDs []int64) (int64, error) {
	return ExecIn(r.q, `DELETE FROM definition_metadata WHERE definition_id IN (?)`, definitionIDs)
}

// StaleCount counts definitions that carry no metadata yet
func (r *MetadataRepository) StaleCount() (int, error) {
	return countRows(r.q, "definitions d",
		"NOT EXISTS (SELECT 1 FROM definition_metadata m WHERE m.definition_id = d.id)")
}

// AnnotationRepository stores relationship annotations between definitions
type AnnotationRepository struct {
	q sqlx.Ext
}

// NewAnnotationRepository creates an annotation repository
func NewAnnotationRepository(q sqlx.Ext) *AnnotationRepository {
	return &AnnotationRepository{q: q}
}

// Upsert inserts or replaces the annotation of a (from, to) pair
func (r *AnnotationRepository) Upsert(a *RelationshipAnnotation) error {
	_, err := sqlx.NamedExec(r.q, `
		INSERT INTO relationship_annotations (from_definition_id, to_definition_id, relationship_type, semantic)
		VALUES (:from_definition_id, :to_definition_id, :relationship_type, :semantic)
		ON CONFLICT(from_definition_id, to_definition_id)
		DO UPDATE SET relationship_type = excluded.relationship_type, semantic = excluded.semantic
	`, a)
	if err != nil {
		return fmt.Errorf("failed to upsert relationship %d->%d: %w", a.FromDefinitionID, a.ToDefinitionID, err)
	}
	return nil
}

// ClearFor removes annotations touching any of definitionIDs, in either direction
func (r *AnnotationRepository) ClearFor(definitionIDs []int64) (int64, error) {
	return ExecIn(r.q, `
		DELETE FROM relationship_annotations
		WHERE from_definition_id IN (?) OR to_definition_id IN (?)
	`, definitionIDs)
}

// ClearOutgoingOfType removes annotations of a type that start at any of definitionIDs
func (r *AnnotationRepository) ClearOutgoingOfType(definitionIDs []int64, relType string) (int64, error) {
	var total int64
	for _, chunk := range chunkIDs(definitionIDs) {
		stmt, args, err := sqlx.In(`
			DELETE FROM relationship_annotations WHERE relationship_type = ? AND from_definition_id IN (?)
		`, relType, chunk)
		if err != nil {
			return total, err
		}
		res, err := r.q.Exec(r.q.Rebind(stmt), args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// GetFrom returns annotations starting at a definition
func (r *AnnotationRepository) GetFrom(definitionID int64) ([]RelationshipAnnotation, error) {
	var rows []RelationshipAnnotation
	err := sqlx.Select(r.q, &rows, `
		SELECT * FROM relationship_annotations WHERE from_definition_id = ? ORDER BY id
	`, definitionID)
	return rows, err
}

// GetAll returns every annotation
func (r *AnnotationRepository) GetAll() ([]RelationshipAnnotation, error) {
	var rows []RelationshipAnnotation
	err := sqlx.Select(r.q, &rows, `SELECT * FROM relationship_annotations ORDER BY id`)
	return rows, err
}

// Count returns the number of annotations
func (r *AnnotationRepository) Count() (int, error) {
	return countRows(r.q, "relationship_annotations", "")
}

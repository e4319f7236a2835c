package storage

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sqlx.Tx) error {
		// Create schema_version table first
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}

		creators := []func(*sqlx.Tx) error{
			createFilesTable,
			createDefinitionsTable,
			createImportsTable,
			createSymbolsTable,
			createUsagesTable,
			createDefinitionMetadataTable,
			createRelationshipAnnotationsTable,
			createModulesTable,
			createModuleMembersTable,
			createInteractionsTable,
			createFlowsTable,
			createFlowStepTables,
			createFeaturesTable,
			createDirtyEntriesTable,
			createSyncRunsTable,
		}
		for _, create := range creators {
			if err := create(tx); err != nil {
				return err
			}
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}
	if version == 0 {
		// File exists but was never initialized (e.g. crash during creation).
		return db.initializeSchema()
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)
	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.conn.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sqlx.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// createSchemaVersionTable creates the schema_version tracking table
func createSchemaVersionTable(tx *sqlx.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// execAll runs a list of DDL statements in order
func execAll(tx *sqlx.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// createFilesTable creates the files table
func createFilesTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			language TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			modified_at INTEGER NOT NULL DEFAULT 0
		)
	`)
}

// createDefinitionsTable creates the definitions table
func createDefinitionsTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS definitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id INTEGER NOT NULL REFERENCES files(id),
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			is_exported INTEGER NOT NULL DEFAULT 0,
			line INTEGER NOT NULL,
			col INTEGER NOT NULL DEFAULT 0,
			end_line INTEGER NOT NULL,
			end_column INTEGER NOT NULL DEFAULT 0,
			extends_name TEXT NOT NULL DEFAULT '',
			implements_names TEXT NOT NULL DEFAULT ''
		)
	`,
		`CREATE INDEX IF NOT EXISTS idx_definitions_file ON definitions(file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_definitions_name ON definitions(name)`,
	)
}

// createImportsTable creates the imports table.
// to_file_id is NULL for external or unresolved imports.
func createImportsTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS imports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_file_id INTEGER NOT NULL REFERENCES files(id),
			to_file_id INTEGER REFERENCES files(id),
			source TEXT NOT NULL,
			resolved_path TEXT NOT NULL DEFAULT '',
			is_external INTEGER NOT NULL DEFAULT 0,
			is_type_only INTEGER NOT NULL DEFAULT 0,
			line INTEGER NOT NULL DEFAULT 0
		)
	`,
		`CREATE INDEX IF NOT EXISTS idx_imports_from ON imports(from_file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_imports_to ON imports(to_file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_imports_resolved ON imports(resolved_path)`,
	)
}

// createSymbolsTable creates the symbols table.
// An import-linked symbol has reference_id set; an internal symbol has file_id set.
func createSymbolsTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS symbols (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reference_id INTEGER REFERENCES imports(id),
			file_id INTEGER REFERENCES files(id),
			definition_id INTEGER REFERENCES definitions(id),
			name TEXT NOT NULL,
			local_name TEXT NOT NULL,
			kind TEXT NOT NULL
		)
	`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_reference ON symbols(reference_id)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_definition ON symbols(definition_id)`,
	)
}

// createUsagesTable creates the usages table
func createUsagesTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS usages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol_id INTEGER NOT NULL REFERENCES symbols(id),
			line INTEGER NOT NULL,
			col INTEGER NOT NULL DEFAULT 0,
			context TEXT NOT NULL,
			argument_count INTEGER NOT NULL DEFAULT 0,
			is_method_call INTEGER NOT NULL DEFAULT 0,
			receiver_name TEXT NOT NULL DEFAULT ''
		)
	`,
		`CREATE INDEX IF NOT EXISTS idx_usages_symbol ON usages(symbol_id)`,
	)
}

// createDefinitionMetadataTable creates the definition_metadata table
func createDefinitionMetadataTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS definition_metadata (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			definition_id INTEGER NOT NULL REFERENCES definitions(id),
			meta_key TEXT NOT NULL,
			meta_value TEXT NOT NULL,
			UNIQUE(definition_id, meta_key)
		)
	`)
}

// createRelationshipAnnotationsTable creates the relationship_annotations table
func createRelationshipAnnotationsTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS relationship_annotations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_definition_id INTEGER NOT NULL REFERENCES definitions(id),
			to_definition_id INTEGER NOT NULL REFERENCES definitions(id),
			relationship_type TEXT NOT NULL,
			semantic TEXT NOT NULL DEFAULT '',
			UNIQUE(from_definition_id, to_definition_id)
		)
	`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_to ON relationship_annotations(to_definition_id)`,
	)
}

// createModulesTable creates the modules table
func createModulesTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS modules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id INTEGER REFERENCES modules(id),
			slug TEXT NOT NULL,
			full_path TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			depth INTEGER NOT NULL DEFAULT 0,
			is_test INTEGER NOT NULL DEFAULT 0
		)
	`)
}

// createModuleMembersTable creates the module_members table.
// definition_id is the primary key, so a definition has at most one module.
func createModuleMembersTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS module_members (
			definition_id INTEGER PRIMARY KEY REFERENCES definitions(id),
			module_id INTEGER NOT NULL REFERENCES modules(id),
			assigned_at INTEGER NOT NULL
		)
	`,
		`CREATE INDEX IF NOT EXISTS idx_module_members_module ON module_members(module_id)`,
	)
}

// createInteractionsTable creates the interactions table.
// Self-loops are not rejected here; the quality checker reports them.
func createInteractionsTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS interactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_module_id INTEGER NOT NULL REFERENCES modules(id),
			to_module_id INTEGER NOT NULL REFERENCES modules(id),
			direction TEXT NOT NULL DEFAULT 'uni' CHECK(direction IN ('uni', 'bi')),
			weight INTEGER NOT NULL DEFAULT 1,
			pattern TEXT NOT NULL DEFAULT 'business',
			symbols TEXT NOT NULL DEFAULT '[]',
			semantic TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'ast',
			confidence REAL NOT NULL DEFAULT 1.0,
			UNIQUE(from_module_id, to_module_id)
		)
	`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_to ON interactions(to_module_id)`,
	)
}

// createFlowsTable creates the flows table
func createFlowsTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS flows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			entry_point_module_id INTEGER REFERENCES modules(id),
			entry_point_id INTEGER REFERENCES definitions(id),
			entry_path TEXT NOT NULL DEFAULT '',
			stakeholder TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			action_type TEXT NOT NULL DEFAULT '',
			target_entity TEXT NOT NULL DEFAULT '',
			tier INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)
	`)
}

// createFlowStepTables creates flow_steps, flow_definition_steps and flow_subflow_steps.
// Steps belong to their flow and go with it.
func createFlowStepTables(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS flow_steps (
			flow_id INTEGER NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
			step_order INTEGER NOT NULL,
			interaction_id INTEGER NOT NULL REFERENCES interactions(id),
			PRIMARY KEY (flow_id, step_order)
		)
	`, `
		CREATE TABLE IF NOT EXISTS flow_definition_steps (
			flow_id INTEGER NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
			step_order INTEGER NOT NULL,
			from_definition_id INTEGER NOT NULL REFERENCES definitions(id),
			to_definition_id INTEGER NOT NULL REFERENCES definitions(id),
			PRIMARY KEY (flow_id, step_order)
		)
	`, `
		CREATE TABLE IF NOT EXISTS flow_subflow_steps (
			flow_id INTEGER NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
			step_order INTEGER NOT NULL,
			subflow_id INTEGER NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
			PRIMARY KEY (flow_id, step_order)
		)
	`,
		`CREATE INDEX IF NOT EXISTS idx_flow_steps_interaction ON flow_steps(interaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_flow_def_steps_from ON flow_definition_steps(from_definition_id)`,
		`CREATE INDEX IF NOT EXISTS idx_flow_def_steps_to ON flow_definition_steps(to_definition_id)`,
	)
}

// createFeaturesTable creates the features and feature_flows tables
func createFeaturesTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS features (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT ''
		)
	`, `
		CREATE TABLE IF NOT EXISTS feature_flows (
			feature_id INTEGER NOT NULL REFERENCES features(id) ON DELETE CASCADE,
			flow_id INTEGER NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
			PRIMARY KEY (feature_id, flow_id)
		)
	`)
}

// createDirtyEntriesTable creates the dirty_entries ledger
func createDirtyEntriesTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS dirty_entries (
			layer TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			reason TEXT NOT NULL CHECK(reason IN ('added', 'modified', 'parent_dirty')),
			marked_at INTEGER NOT NULL,
			PRIMARY KEY (layer, entity_id)
		)
	`)
}

// createSyncRunsTable creates the sync_runs ledger
func createSyncRunsTable(tx *sqlx.Tx) error {
	return execAll(tx, `
		CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0,
			strategy TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			counts_json TEXT NOT NULL DEFAULT '{}'
		)
	`)
}

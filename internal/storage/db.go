package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"squint/internal/config"
)

// DatabaseFile is the database filename inside the state directory.
const DatabaseFile = "squint.db"

// Options configures how the database connection is opened
type Options struct {
	// BusyTimeoutMs bounds how long a statement waits for another writer.
	// Kept short so a concurrent writer surfaces as a lock error, not a hang.
	BusyTimeoutMs int
	// MustExist fails with os.ErrNotExist instead of creating a new database.
	MustExist bool
}

// DB represents a database connection with transaction helpers
type DB struct {
	conn   *sqlx.DB
	logger *slog.Logger
	dbPath string
}

// Open opens or creates the SQLite database at .squint/squint.db.
// If the database doesn't exist, it will be created along with all necessary tables.
func Open(repoRoot string, opts Options, logger *slog.Logger) (*DB, error) {
	stateDir := filepath.Join(repoRoot, config.StateDir)
	if !opts.MustExist {
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", config.StateDir, err)
		}
	}
	return OpenPath(filepath.Join(stateDir, DatabaseFile), opts, logger)
}

// OpenPath opens or creates a database at an explicit path.
func OpenPath(dbPath string, opts Options, logger *slog.Logger) (*DB, error) {
	dbExists := fileExists(dbPath)
	if opts.MustExist && !dbExists {
		return nil, fmt.Errorf("database %s: %w", dbPath, os.ErrNotExist)
	}

	busy := opts.BusyTimeoutMs
	if busy <= 0 {
		busy = 250
	}

	// _txlock=immediate takes the write lock at BEGIN so a second writer
	// fails at the start of its transaction rather than at commit.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		dbPath, busy)

	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn:   conn,
		logger: logger,
		dbPath: dbPath,
	}

	if !dbExists {
		logger.Info("Creating new database", "path", dbPath)
		if err := db.initializeSchema(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	} else {
		logger.Debug("Running database migrations", "path", dbPath)
		if err := db.runMigrations(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying sqlx connection pool. It satisfies sqlx.Ext,
// so every repository can run against it directly.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.dbPath
}

// WithTx executes a function within a transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (db *DB) WithTx(fn func(*sqlx.Tx) error) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction",
				"error", err.Error(),
				"rollback_error", rbErr.Error(),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// WithForeignKeysDisabled runs fn on a dedicated connection with foreign key
// enforcement switched off. Bulk loaders use it; rows written this way may
// leave dangling references that CleanDanglingSymbolRefs later repairs.
func (db *DB) WithForeignKeysDisabled(ctx context.Context, fn func(*sql.Conn) error) error {
	c, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve connection: %w", err)
	}
	defer c.Close() //nolint:errcheck // Best effort cleanup

	if _, err := c.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		return fmt.Errorf("failed to disable foreign keys: %w", err)
	}
	fnErr := fn(c)
	if _, err := c.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil && fnErr == nil {
		return fmt.Errorf("failed to re-enable foreign keys: %w", err)
	}
	return fnErr
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

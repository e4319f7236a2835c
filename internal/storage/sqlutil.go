package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	ckerrors "squint/internal/errors"
)

// maxInParams keeps IN lists well under SQLite's bound-parameter limit.
const maxInParams = 500

// IsLocked reports whether err is SQLite write-lock contention (SQLITE_BUSY or SQLITE_LOCKED).
func IsLocked(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// chunkIDs splits ids into slices of at most maxInParams
func chunkIDs(ids []int64) [][]int64 {
	var chunks [][]int64
	for start := 0; start < len(ids); start += maxInParams {
		end := start + maxInParams
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// ExecIn runs query once per chunk of ids. Every "(?)" in query is bound to the
// same chunk, so "a IN (?) OR b IN (?)" checks both columns. Returns rows affected.
func ExecIn(q sqlx.Ext, query string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	slots := strings.Count(query, "(?)")
	var total int64
	for _, chunk := range chunkIDs(ids) {
		args := make([]interface{}, slots)
		for i := range args {
			args[i] = chunk
		}
		stmt, bound, err := sqlx.In(query, args...)
		if err != nil {
			return total, err
		}
		res, err := q.Exec(q.Rebind(stmt), bound...)
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

// SelectIDsIn runs a single-column id query once per chunk and concatenates the results.
func SelectIDsIn(q sqlx.Ext, query string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	slots := strings.Count(query, "(?)")
	var out []int64
	for _, chunk := range chunkIDs(ids) {
		args := make([]interface{}, slots)
		for i := range args {
			args[i] = chunk
		}
		stmt, bound, err := sqlx.In(query, args...)
		if err != nil {
			return nil, err
		}
		var part []int64
		if err := sqlx.Select(q, &part, q.Rebind(stmt), bound...); err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

// selectIn is SelectIDsIn for whole rows
func selectIn[T any](q sqlx.Ext, query string, ids []int64) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	slots := strings.Count(query, "(?)")
	var out []T
	for _, chunk := range chunkIDs(ids) {
		args := make([]interface{}, slots)
		for i := range args {
			args[i] = chunk
		}
		stmt, bound, err := sqlx.In(query, args...)
		if err != nil {
			return nil, err
		}
		var part []T
		if err := sqlx.Select(q, &part, q.Rebind(stmt), bound...); err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

// getOne runs a single-row query, mapping sql.ErrNoRows to (nil, nil)
func getOne[T any](q sqlx.Ext, query string, args ...interface{}) (*T, error) {
	var row T
	err := sqlx.Get(q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// countRows returns SELECT COUNT(*) of a table, optionally filtered
func countRows(q sqlx.Ext, table, where string, args ...interface{}) (int, error) {
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := sqlx.Get(q, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// insertID runs a named insert and returns the new row id
func insertID(q sqlx.Ext, query string, arg interface{}) (int64, error) {
	res, err := sqlx.NamedExec(q, query, arg)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EnsureNotEmpty fails with DATABASE_EMPTY when no files have been indexed.
func EnsureNotEmpty(q sqlx.Ext) error {
	n, err := countRows(q, "files", "")
	if err != nil {
		return err
	}
	if n == 0 {
		return ckerrors.New(ckerrors.DatabaseEmpty, "no files indexed; run a full index first", nil)
	}
	return nil
}

// Counts is a per-table row tally for status reporting
type Counts struct {
	Files        int `json:"files"`
	Definitions  int `json:"definitions"`
	Imports      int `json:"imports"`
	Symbols      int `json:"symbols"`
	Usages       int `json:"usages"`
	Modules      int `json:"modules"`
	Interactions int `json:"interactions"`
	Flows        int `json:"flows"`
	Features     int `json:"features"`
	Unassigned   int `json:"unassigned"`
}

// GetCounts tallies every primary table
func GetCounts(q sqlx.Ext) (*Counts, error) {
	c := &Counts{}
	targets := []struct {
		table string
		dst   *int
	}{
		{"files", &c.Files},
		{"definitions", &c.Definitions},
		{"imports", &c.Imports},
		{"symbols", &c.Symbols},
		{"usages", &c.Usages},
		{"modules", &c.Modules},
		{"interactions", &c.Interactions},
		{"flows", &c.Flows},
		{"features", &c.Features},
	}
	for _, t := range targets {
		n, err := countRows(q, t.table, "")
		if err != nil {
			return nil, err
		}
		*t.dst = n
	}
	unassigned, err := NewMemberRepository(q).UnassignedCount()
	if err != nil {
		return nil, err
	}
	c.Unassigned = unassigned
	return c, nil
}

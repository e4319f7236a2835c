// Package testutil builds small code graphs in a real temporary database for
// tests of the enrichment layers.
package testutil

import (
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	"squint/internal/slogutil"
	"squint/internal/storage"
)

// Graph is a scratch store with helpers to add rows by name
type Graph struct {
	t       *testing.T
	DB      *storage.DB
	files   map[string]int64
	modules map[string]int64
}

// NewGraph opens an empty store in a temp directory, closed on cleanup
func NewGraph(t *testing.T) *Graph {
	t.Helper()
	db, err := storage.Open(t.TempDir(), storage.Options{}, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Graph{t: t, DB: db, files: make(map[string]int64), modules: make(map[string]int64)}
}

// Q returns the connection as a query handle
func (g *Graph) Q() sqlx.Ext {
	return g.DB.Conn()
}

func (g *Graph) must(err error) {
	g.t.Helper()
	if err != nil {
		g.t.Fatal(err)
	}
}

// Module ensures a module path exists; paths ending in ".tests" are test modules
func (g *Graph) Module(path string) int64 {
	g.t.Helper()
	if id, ok := g.modules[path]; ok {
		return id
	}
	id, err := storage.NewModuleRepository(g.Q()).EnsurePath(path, strings.HasSuffix(path, ".tests"))
	g.must(err)
	g.modules[path] = id
	return id
}

// File ensures a file row exists
func (g *Graph) File(path string) int64 {
	g.t.Helper()
	if id, ok := g.files[path]; ok {
		return id
	}
	id, err := storage.NewFileRepository(g.Q()).Insert(&storage.File{Path: path, Language: "typescript", ContentHash: "h-" + path})
	g.must(err)
	g.files[path] = id
	return id
}

// Def adds an exported definition spanning [line, endLine] and assigns it
// to module (skipped when module is "")
func (g *Graph) Def(module, file, name string, kind storage.DefinitionKind, line, endLine int) int64 {
	g.t.Helper()
	id, err := storage.NewDefinitionRepository(g.Q()).Insert(&storage.Definition{
		FileID:     g.File(file),
		Name:       name,
		Kind:       kind,
		IsExported: true,
		Line:       line,
		EndLine:    endLine,
	})
	g.must(err)
	if module != "" {
		g.must(storage.NewMemberRepository(g.Q()).Assign(id, g.Module(module)))
	}
	return id
}

// Func adds a function definition
func (g *Graph) Func(module, file, name string, line, endLine int) int64 {
	g.t.Helper()
	return g.Def(module, file, name, storage.KindFunction, line, endLine)
}

// Call records times call usages from inside caller to callee
func (g *Graph) Call(callerID, calleeID int64, times int) {
	g.t.Helper()
	caller, err := storage.NewDefinitionRepository(g.Q()).GetByID(callerID)
	g.must(err)
	callee, err := storage.NewDefinitionRepository(g.Q()).GetByID(calleeID)
	g.must(err)
	fileID := caller.FileID
	symID, err := storage.NewSymbolRepository(g.Q()).Insert(&storage.Symbol{
		FileID:       &fileID,
		DefinitionID: &calleeID,
		Name:         callee.Name,
		LocalName:    callee.Name,
		Kind:         storage.SymbolInternal,
	})
	g.must(err)
	for i := 0; i < times; i++ {
		_, err := storage.NewUsageRepository(g.Q()).Insert(&storage.Usage{
			SymbolID: symID,
			Line:     caller.Line,
			Column:   i,
			Context:  storage.UsageCall,
		})
		g.must(err)
	}
}

// Interaction upserts an interaction between two module paths
func (g *Graph) Interaction(from, to, source string) int64 {
	g.t.Helper()
	id, err := storage.NewInteractionRepository(g.Q()).Upsert(&storage.Interaction{
		FromModuleID: g.Module(from),
		ToModuleID:   g.Module(to),
		Weight:       1,
		Pattern:      storage.PatternBusiness,
		Symbols:      "[]",
		Source:       source,
		Confidence:   1,
	})
	g.must(err)
	return id
}

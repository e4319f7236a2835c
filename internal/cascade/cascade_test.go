package cascade

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/jmoiron/sqlx"

	"squint/internal/storage"
)

func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := storage.Open(t.TempDir(), storage.Options{}, logger)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// graph holds the ids of a small fully-linked fixture
type graph struct {
	fileA, fileB   int64
	foo, bar, baz  int64 // foo, bar in A; baz in B
	importBA       int64
	module         int64
	flow           int64
	internalSymbol int64
}

// buildGraph wires every dependent table to the definitions in file A, with
// relationship and flow steps pointing both into and out of file A.
func buildGraph(t *testing.T, q sqlx.Ext) graph {
	t.Helper()
	var g graph
	var err error
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}

	files := storage.NewFileRepository(q)
	g.fileA, err = files.Insert(&storage.File{Path: "src/a.ts", Language: "typescript", ContentHash: "a"})
	must(err)
	g.fileB, err = files.Insert(&storage.File{Path: "src/b.ts", Language: "typescript", ContentHash: "b"})
	must(err)

	defs := storage.NewDefinitionRepository(q)
	g.foo, err = defs.Insert(&storage.Definition{FileID: g.fileA, Name: "foo", Kind: storage.KindFunction, Line: 1, EndLine: 5})
	must(err)
	g.bar, err = defs.Insert(&storage.Definition{FileID: g.fileA, Name: "bar", Kind: storage.KindFunction, Line: 7, EndLine: 9})
	must(err)
	g.baz, err = defs.Insert(&storage.Definition{FileID: g.fileB, Name: "baz", Kind: storage.KindFunction, Line: 3, EndLine: 8})
	must(err)

	// b imports foo from a and calls it
	g.importBA, err = storage.NewImportRepository(q).Insert(&storage.Import{
		FromFileID: g.fileB, ToFileID: &g.fileA, Source: "./a", ResolvedPath: "src/a.ts", Line: 1,
	})
	must(err)
	syms := storage.NewSymbolRepository(q)
	usages := storage.NewUsageRepository(q)
	symID, err := syms.Insert(&storage.Symbol{ReferenceID: &g.importBA, DefinitionID: &g.foo, Name: "foo", LocalName: "foo", Kind: storage.SymbolNamed})
	must(err)
	_, err = usages.Insert(&storage.Usage{SymbolID: symID, Line: 4, Context: storage.UsageCall})
	must(err)

	// foo calls bar inside a
	g.internalSymbol, err = syms.Insert(&storage.Symbol{FileID: &g.fileA, DefinitionID: &g.bar, Name: "bar", LocalName: "bar", Kind: storage.SymbolInternal})
	must(err)
	_, err = usages.Insert(&storage.Usage{SymbolID: g.internalSymbol, Line: 2, Context: storage.UsageCall})
	must(err)

	meta := storage.NewMetadataRepository(q)
	must(meta.Set(g.foo, "purpose", "entry"))
	must(meta.Set(g.bar, "purpose", "helper"))

	ann := storage.NewAnnotationRepository(q)
	must(ann.Upsert(&storage.RelationshipAnnotation{FromDefinitionID: g.baz, ToDefinitionID: g.foo, RelationshipType: storage.RelationshipUses}))
	must(ann.Upsert(&storage.RelationshipAnnotation{FromDefinitionID: g.foo, ToDefinitionID: g.baz, RelationshipType: storage.RelationshipUses}))

	g.module, err = storage.NewModuleRepository(q).EnsurePath("project.src", false)
	must(err)
	members := storage.NewMemberRepository(q)
	for _, id := range []int64{g.foo, g.bar, g.baz} {
		must(members.Assign(id, g.module))
	}

	g.flow, err = storage.NewFlowRepository(q).Insert(&storage.Flow{
		Name: "Run", Slug: "run", EntryPointModuleID: &g.module, EntryPointID: &g.foo, Tier: storage.TierTraced,
	}, storage.FlowSteps{DefinitionSteps: [][2]int64{{g.baz, g.foo}, {g.foo, g.bar}}})
	must(err)
	return g
}

func countWhere(t *testing.T, q sqlx.Ext, query string, args ...interface{}) int {
	t.Helper()
	var n int
	if err := sqlx.Get(q, &n, query, args...); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

// assertNoReferences checks every dependent table, in both directions
func assertNoReferences(t *testing.T, q sqlx.Ext, ids []int64) {
	t.Helper()
	checks := []string{
		`SELECT COUNT(*) FROM symbols WHERE definition_id = ?1`,
		`SELECT COUNT(*) FROM usages u JOIN symbols s ON s.id = u.symbol_id WHERE s.definition_id = ?1`,
		`SELECT COUNT(*) FROM definition_metadata WHERE definition_id = ?1`,
		`SELECT COUNT(*) FROM relationship_annotations WHERE from_definition_id = ?1 OR to_definition_id = ?1`,
		`SELECT COUNT(*) FROM module_members WHERE definition_id = ?1`,
		`SELECT COUNT(*) FROM flow_definition_steps WHERE from_definition_id = ?1 OR to_definition_id = ?1`,
		`SELECT COUNT(*) FROM flows WHERE entry_point_id = ?1`,
		`SELECT COUNT(*) FROM definitions WHERE id = ?1`,
	}
	for _, id := range ids {
		for _, c := range checks {
			if n := countWhere(t, q, c, id); n != 0 {
				t.Errorf("definition %d still referenced: %s -> %d", id, c, n)
			}
		}
	}
}

func TestDeleteDefinitions_Completeness(t *testing.T) {
	db := setupTestDB(t)
	q := db.Conn()
	g := buildGraph(t, q)

	var deleted int64
	err := db.WithTx(func(tx *sqlx.Tx) error {
		var err error
		deleted, err = DeleteDefinitions(tx, []int64{g.foo, g.bar})
		return err
	})
	if err != nil {
		t.Fatalf("DeleteDefinitions() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteDefinitions() = %d, want 2", deleted)
	}

	assertNoReferences(t, q, []int64{g.foo, g.bar})

	// Unrelated definition and its membership survive
	if n := countWhere(t, q, `SELECT COUNT(*) FROM module_members WHERE definition_id = ?`, g.baz); n != 1 {
		t.Errorf("baz membership = %d, want 1", n)
	}
	// The flow row survives with its entry point nulled
	f, _ := storage.NewFlowRepository(q).GetByID(g.flow)
	if f == nil || f.EntryPointID != nil {
		t.Errorf("flow after cascade = %+v, want entry point nulled", f)
	}
}

func TestDeleteDefinitions_Empty(t *testing.T) {
	db := setupTestDB(t)
	n, err := DeleteDefinitions(db.Conn(), nil)
	if err != nil || n != 0 {
		t.Errorf("DeleteDefinitions(nil) = %d, %v; want 0, nil", n, err)
	}
}

func TestDeleteFile(t *testing.T) {
	db := setupTestDB(t)
	q := db.Conn()
	g := buildGraph(t, q)

	if err := db.WithTx(func(tx *sqlx.Tx) error { return DeleteFile(tx, g.fileA) }); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}

	assertNoReferences(t, q, []int64{g.foo, g.bar})
	if n := countWhere(t, q, `SELECT COUNT(*) FROM files WHERE id = ?`, g.fileA); n != 0 {
		t.Error("file row still present")
	}
	if n := countWhere(t, q, `SELECT COUNT(*) FROM symbols WHERE id = ?`, g.internalSymbol); n != 0 {
		t.Error("internal symbol of deleted file still present")
	}

	// b's import of a survives but is unlinked
	imp := countWhere(t, q, `SELECT COUNT(*) FROM imports WHERE id = ? AND to_file_id IS NULL`, g.importBA)
	if imp != 1 {
		t.Errorf("import from b should remain with to_file_id NULL")
	}
}

func TestDeleteFile_OwnImports(t *testing.T) {
	db := setupTestDB(t)
	q := db.Conn()
	g := buildGraph(t, q)

	if err := DeleteFile(q, g.fileB); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if n := countWhere(t, q, `SELECT COUNT(*) FROM imports WHERE from_file_id = ?`, g.fileB); n != 0 {
		t.Errorf("imports of deleted file = %d, want 0", n)
	}
	if n := countWhere(t, q, `SELECT COUNT(*) FROM symbols WHERE reference_id = ?`, g.importBA); n != 0 {
		t.Errorf("import-linked symbols = %d, want 0", n)
	}
	assertNoReferences(t, q, []int64{g.baz})
}

func TestCleanDanglingSymbolRefs_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	q := db.Conn()
	g := buildGraph(t, q)
	ctx := context.Background()

	// Bypass enforcement the way a bulk loader would
	err := db.WithForeignKeysDisabled(ctx, func(c *sql.Conn) error {
		_, err := c.ExecContext(ctx, `DELETE FROM definitions WHERE id = ?`, g.bar)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	first, err := CleanDanglingSymbolRefs(q)
	if err != nil {
		t.Fatalf("CleanDanglingSymbolRefs() error = %v", err)
	}
	if first != 1 {
		t.Errorf("first pass repaired %d, want 1", first)
	}
	second, err := CleanDanglingSymbolRefs(q)
	if err != nil {
		t.Fatal(err)
	}
	if second != 0 {
		t.Errorf("second pass repaired %d, want 0", second)
	}

	// The symbol is kept, only its reference is cleared
	if n := countWhere(t, q, `SELECT COUNT(*) FROM symbols WHERE id = ? AND definition_id IS NULL`, g.internalSymbol); n != 1 {
		t.Error("dangling symbol should remain with definition_id NULL")
	}
}

func TestCleanGhostRows(t *testing.T) {
	db := setupTestDB(t)
	q := db.Conn()
	g := buildGraph(t, q)
	ctx := context.Background()

	err := db.WithForeignKeysDisabled(ctx, func(c *sql.Conn) error {
		_, err := c.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, g.fileA)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := CleanGhostRows(q)
	if err != nil {
		t.Fatalf("CleanGhostRows() error = %v", err)
	}
	if n == 0 {
		t.Fatal("CleanGhostRows() removed nothing")
	}
	assertNoReferences(t, q, []int64{g.foo, g.bar})
	if c := countWhere(t, q, `SELECT COUNT(*) FROM imports WHERE to_file_id = ?`, g.fileA); c != 0 {
		t.Errorf("imports still point at vanished file: %d", c)
	}

	again, err := CleanGhostRows(q)
	if err != nil {
		t.Fatal(err)
	}
	if again != 0 {
		t.Errorf("second CleanGhostRows() = %d, want 0", again)
	}
}

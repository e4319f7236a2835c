package storage

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	ckerrors "squint/internal/errors"
)

func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	tmpDir := t.TempDir()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(tmpDir, Options{}, logger)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})
	return db, tmpDir
}

// seedCall inserts caller/callee definitions in two files, with the callee
// imported and called once from inside the caller.
func seedCall(t *testing.T, q sqlx.Ext) (callerID, calleeID int64) {
	t.Helper()
	files := NewFileRepository(q)
	defs := NewDefinitionRepository(q)

	aID, err := files.Insert(&File{Path: "src/a.ts", Language: "typescript", ContentHash: "a"})
	if err != nil {
		t.Fatal(err)
	}
	bID, err := files.Insert(&File{Path: "src/b.ts", Language: "typescript", ContentHash: "b"})
	if err != nil {
		t.Fatal(err)
	}

	callerID, err = defs.Insert(&Definition{FileID: aID, Name: "handle", Kind: KindFunction, IsExported: true, Line: 3, EndLine: 10})
	if err != nil {
		t.Fatal(err)
	}
	calleeID, err = defs.Insert(&Definition{FileID: bID, Name: "save", Kind: KindFunction, IsExported: true, Line: 1, EndLine: 4})
	if err != nil {
		t.Fatal(err)
	}

	impID, err := NewImportRepository(q).Insert(&Import{FromFileID: aID, ToFileID: &bID, Source: "./b", ResolvedPath: "src/b.ts", Line: 1})
	if err != nil {
		t.Fatal(err)
	}
	symID, err := NewSymbolRepository(q).Insert(&Symbol{ReferenceID: &impID, DefinitionID: &calleeID, Name: "save", LocalName: "save", Kind: SymbolNamed})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewUsageRepository(q).Insert(&Usage{SymbolID: symID, Line: 5, Context: UsageCall, ArgumentCount: 1}); err != nil {
		t.Fatal(err)
	}
	return callerID, calleeID
}

func TestDatabaseInitialization(t *testing.T) {
	db, tmpDir := setupTestDB(t)

	dbPath := filepath.Join(tmpDir, ".squint", "squint.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatalf("Database file was not created at %s", dbPath)
	}

	version, err := db.getSchemaVersion()
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", currentSchemaVersion, version)
	}
}

func TestOpen_MustExist(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Open(t.TempDir(), Options{MustExist: true}, logger)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Open(MustExist) error = %v, want os.ErrNotExist", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	tmpDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(tmpDir, Options{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileRepository(db.Conn()).Insert(&File{Path: "main.go", Language: "go", ContentHash: "h"}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(tmpDir, Options{MustExist: true}, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	f, err := NewFileRepository(db.Conn()).GetByPath("main.go")
	if err != nil || f == nil {
		t.Fatalf("GetByPath() = %v, %v; want the stored file", f, err)
	}
}

func TestFileRepository(t *testing.T) {
	db, _ := setupTestDB(t)
	repo := NewFileRepository(db.Conn())

	id, err := repo.Insert(&File{Path: "pkg/a.go", Language: "go", ContentHash: "abc", SizeBytes: 10})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := repo.GetByID(id)
	if err != nil || got == nil {
		t.Fatalf("GetByID() = %v, %v", got, err)
	}
	if got.Path != "pkg/a.go" || got.ContentHash != "abc" {
		t.Errorf("GetByID() = %+v", got)
	}

	got.ContentHash = "def"
	if err := repo.UpdateContent(got); err != nil {
		t.Fatalf("UpdateContent() error = %v", err)
	}
	again, _ := repo.GetByPath("pkg/a.go")
	if again.ContentHash != "def" {
		t.Errorf("ContentHash = %q, want def", again.ContentHash)
	}

	missing, err := repo.GetByPath("nope.go")
	if err != nil || missing != nil {
		t.Errorf("GetByPath(missing) = %v, %v; want nil, nil", missing, err)
	}

	if _, err := repo.Insert(&File{Path: "pkg/a.go", Language: "go", ContentHash: "x"}); err == nil {
		t.Error("duplicate path insert should fail")
	}

	known, err := repo.KnownPaths()
	if err != nil {
		t.Fatal(err)
	}
	if !known["pkg/a.go"] || len(known) != 1 {
		t.Errorf("KnownPaths() = %v", known)
	}
}

func TestDefinitionRepository_UpdateInPlace(t *testing.T) {
	db, _ := setupTestDB(t)
	q := db.Conn()

	fileID, _ := NewFileRepository(q).Insert(&File{Path: "a.ts", Language: "typescript", ContentHash: "h"})
	defs := NewDefinitionRepository(q)
	id, err := defs.Insert(&Definition{FileID: fileID, Name: "Foo", Kind: KindClass, Line: 1, EndLine: 5})
	if err != nil {
		t.Fatal(err)
	}

	if err := defs.UpdateInPlace(&Definition{ID: id, IsExported: true, Line: 10, EndLine: 20, ExtendsName: "Base"}); err != nil {
		t.Fatalf("UpdateInPlace() error = %v", err)
	}
	got, _ := defs.GetByID(id)
	if !got.IsExported || got.Line != 10 || got.EndLine != 20 || got.ExtendsName != "Base" {
		t.Errorf("after update = %+v", got)
	}
	if got.Name != "Foo" || got.Kind != KindClass {
		t.Error("identity fields must not change")
	}
}

func TestModuleRepository_EnsurePath(t *testing.T) {
	db, _ := setupTestDB(t)
	repo := NewModuleRepository(db.Conn())

	leaf, err := repo.EnsurePath("project.api.users", false)
	if err != nil {
		t.Fatalf("EnsurePath() error = %v", err)
	}

	n, _ := repo.Count()
	if n != 3 {
		t.Fatalf("Count() = %d, want 3 (root + 2 ancestors/leaf)", n)
	}

	m, _ := repo.GetByID(leaf)
	if m.Depth != 2 || m.Slug != "users" {
		t.Errorf("leaf = %+v, want depth 2 slug users", m)
	}
	parent, _ := repo.GetByPath("project.api")
	if m.ParentID == nil || *m.ParentID != parent.ID {
		t.Errorf("leaf parent = %v, want %d", m.ParentID, parent.ID)
	}

	again, err := repo.EnsurePath("project.api.users", false)
	if err != nil || again != leaf {
		t.Errorf("EnsurePath() again = %d, %v; want %d", again, err, leaf)
	}
	if n, _ := repo.Count(); n != 3 {
		t.Errorf("Count() after re-ensure = %d, want 3", n)
	}
}

func TestMemberRepository_AssignIsReplace(t *testing.T) {
	db, _ := setupTestDB(t)
	q := db.Conn()

	fileID, _ := NewFileRepository(q).Insert(&File{Path: "a.go", Language: "go", ContentHash: "h"})
	defID, _ := NewDefinitionRepository(q).Insert(&Definition{FileID: fileID, Name: "Run", Kind: KindFunction, Line: 1, EndLine: 2})
	mods := NewModuleRepository(q)
	m1, _ := mods.EnsurePath("project.a", false)
	m2, _ := mods.EnsurePath("project.b", false)

	members := NewMemberRepository(q)
	if n, _ := members.UnassignedCount(); n != 1 {
		t.Errorf("UnassignedCount() = %d, want 1", n)
	}
	if err := members.Assign(defID, m1); err != nil {
		t.Fatal(err)
	}
	if err := members.Assign(defID, m2); err != nil {
		t.Fatal(err)
	}

	got, _ := members.ModuleOf(defID)
	if got != m2 {
		t.Errorf("ModuleOf() = %d, want %d", got, m2)
	}
	if ids, _ := members.Members(m1); len(ids) != 0 {
		t.Errorf("old module still has members %v", ids)
	}
	if n, _ := members.UnassignedCount(); n != 0 {
		t.Errorf("UnassignedCount() = %d, want 0", n)
	}
}

func TestInteractionRepository_UpsertByPair(t *testing.T) {
	db, _ := setupTestDB(t)
	q := db.Conn()

	mods := NewModuleRepository(q)
	a, _ := mods.EnsurePath("project.a", false)
	b, _ := mods.EnsurePath("project.b", false)

	repo := NewInteractionRepository(q)
	id1, err := repo.Upsert(&Interaction{FromModuleID: a, ToModuleID: b, Weight: 1, Pattern: PatternBusiness, Symbols: `["x"]`, Source: SourceAST, Confidence: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.SetSemantic(id1, "a saves b"); err != nil {
		t.Fatal(err)
	}
	id2, err := repo.Upsert(&Interaction{FromModuleID: a, ToModuleID: b, Weight: 5, Pattern: PatternUtility, Symbols: `["x","y"]`, Source: SourceAST, Confidence: 1})
	if err != nil {
		t.Fatal(err)
	}

	if id1 != id2 {
		t.Errorf("Upsert() ids %d and %d, want the same row", id1, id2)
	}
	if n, _ := repo.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
	got, _ := repo.GetByID(id1)
	if got.Weight != 5 || got.Pattern != PatternUtility {
		t.Errorf("updated row = %+v", got)
	}
	if got.Semantic != "a saves b" {
		t.Errorf("Semantic = %q, upsert must keep the description", got.Semantic)
	}
}

func TestFlowRepository_StepsAndDelete(t *testing.T) {
	db, _ := setupTestDB(t)
	q := db.Conn()

	mods := NewModuleRepository(q)
	a, _ := mods.EnsurePath("project.a", false)
	b, _ := mods.EnsurePath("project.b", false)
	iid, _ := NewInteractionRepository(q).Upsert(&Interaction{FromModuleID: a, ToModuleID: b, Weight: 1})

	flows := NewFlowRepository(q)
	fid, err := flows.Insert(&Flow{Name: "Checkout", Slug: "checkout", Tier: TierTraced}, FlowSteps{InteractionIDs: []int64{iid}})
	if err != nil {
		t.Fatal(err)
	}
	journey, err := flows.Insert(&Flow{Name: "Shop", Slug: "shop", Tier: TierJourney}, FlowSteps{SubflowIDs: []int64{fid}})
	if err != nil {
		t.Fatal(err)
	}

	steps, err := flows.Steps(fid)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps.InteractionIDs) != 1 || steps.InteractionIDs[0] != iid {
		t.Errorf("Steps() = %+v", steps)
	}

	parents, _ := flows.ParentsOf([]int64{fid})
	if len(parents) != 1 || parents[0] != journey {
		t.Errorf("ParentsOf() = %v, want [%d]", parents, journey)
	}

	if _, err := flows.Delete([]int64{fid}); err != nil {
		t.Fatal(err)
	}
	var stepCount int
	if err := sqlx.Get(q, &stepCount, `SELECT COUNT(*) FROM flow_steps`); err != nil {
		t.Fatal(err)
	}
	if stepCount != 0 {
		t.Errorf("flow_steps left after delete: %d", stepCount)
	}
}

func TestCallEdgesAndModuleCallGraph(t *testing.T) {
	db, _ := setupTestDB(t)
	q := db.Conn()

	callerID, calleeID := seedCall(t, q)

	edges, err := CallEdges(q)
	if err != nil {
		t.Fatalf("CallEdges() error = %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("CallEdges() = %d edges, want 1", len(edges))
	}
	if edges[0].CallerID != callerID || edges[0].CalleeID != calleeID || edges[0].Calls != 1 {
		t.Errorf("edge = %+v", edges[0])
	}

	// Unassigned endpoints are dropped from the module graph
	graph, _ := ModuleCallGraph(q)
	if len(graph) != 0 {
		t.Errorf("ModuleCallGraph() with no modules = %v, want empty", graph)
	}

	mods := NewModuleRepository(q)
	m1, _ := mods.EnsurePath("project.api", false)
	m2, _ := mods.EnsurePath("project.db", false)
	members := NewMemberRepository(q)
	_ = members.Assign(callerID, m1)
	_ = members.Assign(calleeID, m2)

	graph, err = ModuleCallGraph(q)
	if err != nil {
		t.Fatal(err)
	}
	if len(graph) != 1 || graph[0].FromModuleID != m1 || graph[0].ToModuleID != m2 {
		t.Errorf("ModuleCallGraph() = %+v", graph)
	}
}

func TestWithTx_RollsBack(t *testing.T) {
	db, _ := setupTestDB(t)

	sentinel := errors.New("boom")
	err := db.WithTx(func(tx *sqlx.Tx) error {
		if _, err := NewFileRepository(tx).Insert(&File{Path: "x.go", Language: "go", ContentHash: "h"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx() error = %v, want sentinel", err)
	}
	if n, _ := NewFileRepository(db.Conn()).Count(); n != 0 {
		t.Errorf("Count() = %d after rollback, want 0", n)
	}
}

func TestIsLocked_ConcurrentWriter(t *testing.T) {
	_, tmpDir := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	holder, err := Open(tmpDir, Options{BusyTimeoutMs: 20}, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()
	other, err := Open(tmpDir, Options{BusyTimeoutMs: 20}, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()

	var inner error
	err = holder.WithTx(func(tx *sqlx.Tx) error {
		inner = other.WithTx(func(*sqlx.Tx) error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("holder tx: %v", err)
	}
	if !IsLocked(inner) {
		t.Errorf("IsLocked(%v) = false, want true for a second writer", inner)
	}
	if IsLocked(errors.New("plain")) {
		t.Error("IsLocked(plain error) = true")
	}
}

func TestEnsureNotEmpty(t *testing.T) {
	db, _ := setupTestDB(t)

	err := EnsureNotEmpty(db.Conn())
	if !ckerrors.Is(err, ckerrors.DatabaseEmpty) {
		t.Fatalf("EnsureNotEmpty() on empty db = %v, want DATABASE_EMPTY", err)
	}

	if _, err := NewFileRepository(db.Conn()).Insert(&File{Path: "a.go", Language: "go", ContentHash: "h"}); err != nil {
		t.Fatal(err)
	}
	if err := EnsureNotEmpty(db.Conn()); err != nil {
		t.Errorf("EnsureNotEmpty() = %v, want nil", err)
	}
}

func TestExecIn_Chunks(t *testing.T) {
	db, _ := setupTestDB(t)
	q := db.Conn()

	fileID, _ := NewFileRepository(q).Insert(&File{Path: "a.go", Language: "go", ContentHash: "h"})
	defs := NewDefinitionRepository(q)
	var ids []int64
	for i := 0; i < maxInParams+20; i++ {
		id, err := defs.Insert(&Definition{FileID: fileID, Name: "f", Kind: KindFunction, Line: i + 1, EndLine: i + 1})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	n, err := ExecIn(q, `DELETE FROM definitions WHERE id IN (?)`, ids)
	if err != nil {
		t.Fatalf("ExecIn() error = %v", err)
	}
	if int(n) != len(ids) {
		t.Errorf("ExecIn() affected %d, want %d", n, len(ids))
	}
	if n, _ := ExecIn(q, `DELETE FROM definitions WHERE id IN (?)`, nil); n != 0 {
		t.Errorf("ExecIn(empty) = %d, want 0", n)
	}
}

var errRowsAffected = errors.New("rows affected unavailable")

type noRowsResult struct{}

func (noRowsResult) LastInsertId() (int64, error) { return 0, nil }
func (noRowsResult) RowsAffected() (int64, error) { return 0, errRowsAffected }

// noRowsExt runs statements but cannot report how many rows they touched
type noRowsExt struct{ sqlx.Ext }

func (e noRowsExt) Exec(query string, args ...interface{}) (sql.Result, error) {
	if _, err := e.Ext.Exec(query, args...); err != nil {
		return nil, err
	}
	return noRowsResult{}, nil
}

func TestAnnotationRepository_ClearOutgoingOfType(t *testing.T) {
	db, _ := setupTestDB(t)
	q := db.Conn()
	caller, callee := seedCall(t, q)

	repo := NewAnnotationRepository(q)
	if err := repo.Upsert(&RelationshipAnnotation{FromDefinitionID: caller, ToDefinitionID: callee, RelationshipType: "uses", Semantic: "reads"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Upsert(&RelationshipAnnotation{FromDefinitionID: callee, ToDefinitionID: caller, RelationshipType: "uses"}); err != nil {
		t.Fatal(err)
	}

	if _, err := NewAnnotationRepository(noRowsExt{q}).ClearOutgoingOfType([]int64{caller}, "uses"); !errors.Is(err, errRowsAffected) {
		t.Errorf("ClearOutgoingOfType() error = %v, want %v", err, errRowsAffected)
	}

	if err := repo.Upsert(&RelationshipAnnotation{FromDefinitionID: caller, ToDefinitionID: callee, RelationshipType: "uses"}); err != nil {
		t.Fatal(err)
	}
	if n, err := repo.ClearOutgoingOfType([]int64{caller}, "extends"); err != nil || n != 0 {
		t.Errorf("other type: n = %d, err = %v", n, err)
	}
	n, err := repo.ClearOutgoingOfType([]int64{caller}, "uses")
	if err != nil || n != 1 {
		t.Errorf("ClearOutgoingOfType() = %d, %v; want 1", n, err)
	}
	if left, _ := repo.Count(); left != 1 {
		t.Errorf("annotations left = %d, want 1", left)
	}
}

func TestGetCounts(t *testing.T) {
	db, _ := setupTestDB(t)
	seedCall(t, db.Conn())

	c, err := GetCounts(db.Conn())
	if err != nil {
		t.Fatal(err)
	}
	if c.Files != 2 || c.Definitions != 2 || c.Usages != 1 || c.Unassigned != 2 {
		t.Errorf("GetCounts() = %+v", c)
	}
}

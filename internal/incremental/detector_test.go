package incremental

import (
	"path/filepath"
	"testing"

	ckerrors "squint/internal/errors"
	"squint/internal/parser"
	"squint/internal/slogutil"
	"squint/internal/storage"
)

func changeMap(r *DetectionResult) map[string]ChangeType {
	out := make(map[string]ChangeType, len(r.Changes))
	for _, c := range r.Changes {
		out[c.Path] = c.ChangeType
	}
	return out
}

func TestDetectChanges_Classification(t *testing.T) {
	f := newFixture(t)
	f.write(t, "keep.ln", "func keep\n")
	f.write(t, "edit.ln", "func edit\n")
	f.write(t, "gone.ln", "func gone\n")
	f.fullIndex(t)

	f.write(t, "edit.ln", "func edit v2\n")
	f.remove(t, "gone.ln")
	f.write(t, "pkg/new.ln", "func fresh\n")

	res, err := f.indexer.Detector(nil).DetectChanges()
	if err != nil {
		t.Fatalf("DetectChanges() error = %v", err)
	}
	want := map[string]ChangeType{
		"edit.ln":    ChangeModified,
		"gone.ln":    ChangeDeleted,
		"pkg/new.ln": ChangeAdded,
	}
	got := changeMap(res)
	if len(got) != len(want) {
		t.Fatalf("changes = %+v, want %v", res.Changes, want)
	}
	for p, ct := range want {
		if got[p] != ct {
			t.Errorf("%s = %q, want %q", p, got[p], ct)
		}
	}
	if res.UnchangedCount != 1 {
		t.Errorf("UnchangedCount = %d, want 1", res.UnchangedCount)
	}
	for i := 1; i < len(res.Changes); i++ {
		if res.Changes[i-1].Path > res.Changes[i].Path {
			t.Errorf("changes not sorted: %+v", res.Changes)
		}
	}
	added, modified, deleted := res.Counts()
	if added != 1 || modified != 1 || deleted != 1 {
		t.Errorf("Counts() = %d %d %d", added, modified, deleted)
	}
	for _, c := range res.Changes {
		if c.ChangeType != ChangeDeleted && c.Hash == "" {
			t.Errorf("%s has no hash", c.Path)
		}
	}
}

func TestDetectChanges_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.ln", "func a\n")
	f.write(t, "sub/b.ln", "func b\n")
	f.fullIndex(t)

	d := f.indexer.Detector(nil)
	for run := 0; run < 2; run++ {
		res, err := d.DetectChanges()
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Changes) != 0 {
			t.Errorf("run %d: changes = %+v, want none", run, res.Changes)
		}
		if res.UnchangedCount != 2 {
			t.Errorf("run %d: UnchangedCount = %d, want 2", run, res.UnchangedCount)
		}
	}
}

func TestDetectChanges_Filters(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".gitignore", "ignored/\n*.gen.ln\n")
	f.write(t, "main.ln", "func main\n")
	f.write(t, "ignored/x.ln", "func x\n")
	f.write(t, "types.gen.ln", "func gen\n")
	f.write(t, "node_modules/dep/y.ln", "func y\n")
	f.write(t, "vendored/z.ln", "func z\n")
	f.write(t, "notes.txt", "not source\n")

	d := f.indexer.Detector(&Config{Excludes: []string{"vendored"}, RespectGitignore: true})
	res, err := d.DetectChanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Changes) != 1 || res.Changes[0].Path != "main.ln" {
		t.Errorf("changes = %+v, want only main.ln", res.Changes)
	}

	d = f.indexer.Detector(&Config{RespectGitignore: false})
	res, err = d.DetectChanges()
	if err != nil {
		t.Fatal(err)
	}
	got := changeMap(res)
	if _, ok := got["ignored/x.ln"]; !ok {
		t.Errorf("with gitignore off, ignored/x.ln should be seen: %+v", res.Changes)
	}
	if _, ok := got["node_modules/dep/y.ln"]; ok {
		t.Error("node_modules is always skipped")
	}
}

func TestDetectChanges_UnreadableRoot(t *testing.T) {
	f := newFixture(t)
	d := NewChangeDetector(filepath.Join(f.root, "missing"),
		storage.NewFileRepository(f.db.Conn()), parser.NewRegistry(lineParser{}), nil, slogutil.NewDiscardLogger())
	_, err := d.DetectChanges()
	if !ckerrors.Is(err, ckerrors.SourceUnreadable) {
		t.Fatalf("DetectChanges() error = %v, want SOURCE_UNREADABLE", err)
	}
}

func TestIsExcluded(t *testing.T) {
	d := &ChangeDetector{config: &Config{Excludes: []string{"gen", "*.pb.go", "internal/legacy/"}}}
	tests := []struct {
		path string
		want bool
	}{
		{"gen/a.go", true},
		{"gen", true},
		{"api/x.pb.go", true},
		{"internal/legacy/old.go", true},
		{"internal/legacyx/new.go", false},
		{"generator/a.go", false},
		{"main.go", false},
	}
	for _, tt := range tests {
		if got := d.isExcluded(tt.path); got != tt.want {
			t.Errorf("isExcluded(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("x"))
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
	if a == HashContent([]byte("y")) {
		t.Error("different content should hash differently")
	}
	if a != HashContent([]byte("x")) {
		t.Error("hash should be stable")
	}
}

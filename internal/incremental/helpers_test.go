package incremental

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	ckerrors "squint/internal/errors"
	"squint/internal/parser"
	"squint/internal/slogutil"
	"squint/internal/storage"
)

// lineParser understands a tiny line language, one statement per line:
//
//	func NAME            function definition
//	class NAME [PARENT]  class, optionally extending PARENT
//	call NAME            call of a same-file name
//	import PATH NAME     relative import of NAME from PATH (no extension)
//	!                    syntax error
//
// Trailing words are ignored, so "func foo v2" changes content but not identity.
type lineParser struct{}

func (lineParser) Language() string     { return "lines" }
func (lineParser) Extensions() []string { return []string{".ln"} }

func (lineParser) Parse(content []byte, filePath string, known map[string]bool) (*parser.ParsedFile, error) {
	pf := &parser.ParsedFile{Language: "lines"}
	refs := make(map[string]int)
	for i, line := range strings.Split(string(content), "\n") {
		n := i + 1
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		switch f[0] {
		case "!":
			return nil, ckerrors.New(ckerrors.ParseFailed, "syntax error in "+filePath, nil)
		case "func", "class":
			if len(f) < 2 {
				continue
			}
			d := parser.Definition{Name: f[1], Kind: storage.KindFunction, IsExported: true, Line: n, EndLine: n}
			if f[0] == "class" {
				d.Kind = storage.KindClass
				if len(f) > 2 {
					d.Extends = f[2]
				}
			}
			pf.Definitions = append(pf.Definitions, d)
		case "call":
			if len(f) < 2 {
				continue
			}
			u := parser.Usage{Line: n, Context: storage.UsageCall}
			if idx, ok := refs[f[1]]; ok {
				pf.InternalRefs[idx].Usages = append(pf.InternalRefs[idx].Usages, u)
				continue
			}
			refs[f[1]] = len(pf.InternalRefs)
			pf.InternalRefs = append(pf.InternalRefs, parser.InternalRef{Name: f[1], Usages: []parser.Usage{u}})
		case "import":
			if len(f) < 3 {
				continue
			}
			target := path.Join(path.Dir(filePath), f[1]) + ".ln"
			imp := parser.Import{Source: f[1], ResolvedPath: target, Line: n}
			imp.Symbols = []parser.ImportedSymbol{{
				Name: f[2], LocalName: f[2], Kind: storage.SymbolNamed,
				Usages: []parser.Usage{{Line: n, Context: storage.UsageCall}},
			}}
			pf.Imports = append(pf.Imports, imp)
		}
	}
	return pf, nil
}

type fixture struct {
	root    string
	db      *storage.DB
	indexer *Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	logger := slogutil.NewDiscardLogger()
	db, err := storage.Open(root, storage.Options{BusyTimeoutMs: 50}, logger)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &fixture{
		root:    root,
		db:      db,
		indexer: NewIndexer(root, db, parser.NewRegistry(lineParser{}), logger),
	}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	full := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) remove(t *testing.T, rel string) {
	t.Helper()
	if err := os.Remove(filepath.Join(f.root, filepath.FromSlash(rel))); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) fullIndex(t *testing.T) *SyncResult {
	t.Helper()
	res, err := f.indexer.FullIndex(context.Background(), nil, SyncOptions{})
	if err != nil {
		t.Fatalf("FullIndex() error = %v", err)
	}
	return res
}

func (f *fixture) sync(t *testing.T) *SyncResult {
	t.Helper()
	detection, err := f.indexer.Detector(nil).DetectChanges()
	if err != nil {
		t.Fatalf("DetectChanges() error = %v", err)
	}
	res, err := f.indexer.ApplySync(context.Background(), detection.Changes, SyncOptions{})
	if err != nil {
		t.Fatalf("ApplySync() error = %v", err)
	}
	return res
}

// def looks up the single definition called name in rel
func (f *fixture) def(t *testing.T, rel, name string) *storage.Definition {
	t.Helper()
	file := f.file(t, rel)
	defs, err := storage.NewDefinitionRepository(f.db.Conn()).FindByNameInFiles(name, []int64{file.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 {
		t.Fatalf("found %d definitions %s in %s, want 1", len(defs), name, rel)
	}
	return &defs[0]
}

func (f *fixture) file(t *testing.T, rel string) *storage.File {
	t.Helper()
	file, err := storage.NewFileRepository(f.db.Conn()).GetByPath(rel)
	if err != nil {
		t.Fatal(err)
	}
	if file == nil {
		t.Fatalf("file %s not indexed", rel)
	}
	return file
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

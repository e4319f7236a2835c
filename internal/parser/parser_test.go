package parser

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeParser struct {
	lang string
	exts []string
}

func (f *fakeParser) Parse(content []byte, filePath string, knownFiles map[string]bool) (*ParsedFile, error) {
	return &ParsedFile{Language: f.lang}, nil
}
func (f *fakeParser) Language() string     { return f.lang }
func (f *fakeParser) Extensions() []string { return f.exts }

func TestRegistry(t *testing.T) {
	r := NewRegistry(&fakeParser{lang: "go", exts: []string{".go"}}, &fakeParser{lang: "py", exts: []string{".py"}})

	if !r.Supports("cmd/main.go") {
		t.Error("Supports(main.go) = false")
	}
	if !r.Supports("x/Y.PY") {
		t.Error("extension lookup should be case-insensitive")
	}
	if r.Supports("README.md") {
		t.Error("Supports(README.md) = true")
	}
	if got := r.LanguageOf("a.py"); got != "py" {
		t.Errorf("LanguageOf(a.py) = %q", got)
	}
	if got := r.Extensions(); len(got) != 2 || got[0] != ".go" {
		t.Errorf("Extensions() = %v", got)
	}
}

func TestResolveRelative(t *testing.T) {
	known := map[string]bool{
		"src/app/store.ts":        true,
		"src/lib/logger/index.ts": true,
		"src/app/esm.ts":          true,
		"src/app/plain.js":        true,
	}
	tests := []struct {
		source string
		want   string
		ok     bool
	}{
		{"./store", "src/app/store.ts", true},
		{"../lib/logger", "src/lib/logger/index.ts", true},
		{"./esm.js", "src/app/esm.ts", true},
		{"./plain.js", "src/app/plain.js", true},
		{"./missing", "src/app/missing", false},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got, ok := ResolveRelative("src/app/user.ts", tt.source, known)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ResolveRelative(%q) = %q, %v; want %q, %v", tt.source, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestIsRelativeSource(t *testing.T) {
	for src, want := range map[string]bool{"./a": true, "../b": true, "react": false, "@scope/pkg": false, ".": true} {
		if got := IsRelativeSource(src); got != want {
			t.Errorf("IsRelativeSource(%q) = %v", src, got)
		}
	}
}

func TestResolveGoImport(t *testing.T) {
	tests := []struct {
		mod, imp, dir string
		ok            bool
	}{
		{"example.com/app", "example.com/app/internal/db", "internal/db", true},
		{"example.com/app", "example.com/app", ".", true},
		{"example.com/app", "example.com/application/x", "", false},
		{"example.com/app", "fmt", "", false},
		{"", "example.com/app/x", "", false},
	}
	for _, tt := range tests {
		dir, ok := ResolveGoImport(tt.mod, tt.imp)
		if dir != tt.dir || ok != tt.ok {
			t.Errorf("ResolveGoImport(%q, %q) = %q, %v", tt.mod, tt.imp, dir, ok)
		}
	}
}

func TestGoDefaultAlias(t *testing.T) {
	for imp, want := range map[string]string{
		"fmt":                            "fmt",
		"example.com/app/internal/db":    "db",
		"github.com/pelletier/go-toml/v2": "go-toml",
	} {
		if got := goDefaultAlias(imp); got != want {
			t.Errorf("goDefaultAlias(%q) = %q, want %q", imp, got, want)
		}
	}
}

func TestGoModulePath(t *testing.T) {
	dir := t.TempDir()
	if got := GoModulePath(dir); got != "" {
		t.Errorf("GoModulePath(no go.mod) = %q", got)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("// comment\nmodule example.com/app\n\ngo 1.22\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := GoModulePath(dir); got != "example.com/app" {
		t.Errorf("GoModulePath() = %q", got)
	}
}

func TestFilesInDir(t *testing.T) {
	known := map[string]bool{"internal/db/a.go": true, "internal/db/b.go": true, "internal/db/sub/c.go": true, "internal/db/x.ts": true}
	got := FilesInDir("internal/db", known, ".go")
	if len(got) != 2 || got[0] != "internal/db/a.go" || got[1] != "internal/db/b.go" {
		t.Errorf("FilesInDir() = %v", got)
	}
}

package modules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"squint/internal/slogutil"
	"squint/internal/storage"
)

func TestParseModulesFile(t *testing.T) {
	dir := t.TempDir()
	content := `
version = 1

[[module]]
path = "project.api"
description = "HTTP handlers"
include = ["src/api/**"]

[[module]]
path = "project.tests"
include = ["**/*.test.ts"]
test = true
`
	p := filepath.Join(dir, ModulesDeclarationFile)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	mf, err := ParseModulesFile(p)
	if err != nil {
		t.Fatalf("ParseModulesFile() error = %v", err)
	}
	if mf.Version != 1 || len(mf.Modules) != 2 {
		t.Fatalf("parsed = %+v", mf)
	}
	if mf.Modules[0].Description != "HTTP handlers" || mf.Modules[0].Include[0] != "src/api/**" {
		t.Errorf("module 0 = %+v", mf.Modules[0])
	}
	if !mf.Modules[1].Test {
		t.Error("module 1 should be a test module")
	}
}

func TestParseModulesFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing path", "[[module]]\ninclude = [\"a/**\"]\n", "path"},
		{"wrong root", "[[module]]\npath = \"app.api\"\ninclude = [\"a/**\"]\n", "must start with"},
		{"bad segment", "[[module]]\npath = \"project.Api\"\ninclude = [\"a/**\"]\n", "invalid segment"},
		{"no include", "[[module]]\npath = \"project.api\"\n", "include"},
		{"not toml", "[[module\n", "parse"},
		{"duplicate", "[[module]]\npath = \"project.api\"\ninclude = [\"a/**\"]\n[[module]]\npath = \"project.api\"\ninclude = [\"b/**\"]\n", "declared twice"},
		{"future version", "version = 2\n", "unsupported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), ModulesDeclarationFile)
			if err := os.WriteFile(p, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := ParseModulesFile(p)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadDeclarations_Missing(t *testing.T) {
	decls, err := LoadDeclarations(t.TempDir(), "")
	if err != nil || decls != nil {
		t.Errorf("LoadDeclarations() = %v, %v; want nil, nil", decls, err)
	}
}

func TestExampleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := CreateExampleModulesFile(filepath.Join(dir, ModulesDeclarationFile)); err != nil {
		t.Fatal(err)
	}
	decls, err := LoadDeclarations(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(decls) != 3 || decls[0].Path != "project.api" {
		t.Errorf("example declarations = %+v", decls)
	}
}

func TestCreateExampleModulesFile_Exists(t *testing.T) {
	p := filepath.Join(t.TempDir(), ModulesDeclarationFile)
	if err := os.WriteFile(p, []byte("version = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	err := CreateExampleModulesFile(p)
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("error = %v, want os.ErrExist", err)
	}
	data, _ := os.ReadFile(p)
	if string(data) != "version = 1\n" {
		t.Errorf("existing file overwritten: %q", data)
	}
}

func TestDirectoryModule(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "project"},
		{"src/api/users.ts", "project.src.api"},
		{"src/My_Lib/x.ts", "project.src.my-lib"},
		{"internal/db/db_test.go", "project.internal.db.tests"},
		{"src/ui/button.spec.tsx", "project.src.ui.tests"},
	}
	for _, tt := range tests {
		if got := DirectoryModule(tt.path); got != tt.want {
			t.Errorf("DirectoryModule(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestIsTestFile(t *testing.T) {
	for p, want := range map[string]bool{
		"a_test.go":              true,
		"src/a.test.ts":          true,
		"src/__tests__/a.ts":     true,
		"src/contest/a.ts":       false,
		"src/attest.go":          false,
		"packages/x/tests/y.js":  true,
		"src/specification.ts":   false,
		"src/widget.spec.js":     true,
		"internal/testing/fx.go": false,
	} {
		if got := IsTestFile(p); got != want {
			t.Errorf("IsTestFile(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestAssignDefinitions(t *testing.T) {
	logger := slogutil.NewDiscardLogger()
	db, err := storage.Open(t.TempDir(), storage.Options{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	q := db.Conn()

	files := storage.NewFileRepository(q)
	defs := storage.NewDefinitionRepository(q)
	apiFile, _ := files.Insert(&storage.File{Path: "src/api/users.ts", Language: "typescript"})
	utilFile, _ := files.Insert(&storage.File{Path: "src/util/strings.ts", Language: "typescript"})
	handler, _ := defs.Insert(&storage.Definition{FileID: apiFile, Name: "getUser", Kind: storage.KindFunction})
	helper, _ := defs.Insert(&storage.Definition{FileID: utilFile, Name: "pad", Kind: storage.KindFunction})

	a := NewAssigner([]ModuleDeclaration{
		{Path: "project.api", Description: "HTTP handlers", Include: []string{"src/api/**"}},
	}, logger)

	touched, err := a.AssignUnassigned(q)
	if err != nil {
		t.Fatalf("AssignUnassigned() error = %v", err)
	}
	if len(touched) != 2 {
		t.Errorf("touched = %v, want two modules", touched)
	}

	mods := storage.NewModuleRepository(q)
	api, _ := mods.GetByPath("project.api")
	if api == nil || api.Description != "HTTP handlers" || api.Depth != 1 {
		t.Fatalf("project.api = %+v", api)
	}
	util, _ := mods.GetByPath("project.src.util")
	if util == nil || util.Depth != 2 {
		t.Fatalf("project.src.util = %+v", util)
	}
	if parent, _ := mods.GetByPath("project.src"); parent == nil || util.ParentID == nil || *util.ParentID != parent.ID {
		t.Errorf("ancestor project.src missing or not the parent of %+v", util)
	}

	members := storage.NewMemberRepository(q)
	if m, _ := members.ModuleOf(handler); m != api.ID {
		t.Errorf("getUser module = %d, want %d", m, api.ID)
	}
	if m, _ := members.ModuleOf(helper); m != util.ID {
		t.Errorf("pad module = %d, want %d", m, util.ID)
	}

	// Re-assigning unchanged definitions touches nothing
	touched, err = a.AssignDefinitions(q, []int64{handler, helper})
	if err != nil {
		t.Fatal(err)
	}
	if len(touched) != 0 {
		t.Errorf("touched = %v on a no-op reassignment", touched)
	}

	// A new declaration moves pad, touching both the old and new module
	moved := NewAssigner([]ModuleDeclaration{
		{Path: "project.api", Include: []string{"src/api/**"}},
		{Path: "project.shared", Include: []string{"src/util/*.ts"}},
	}, logger)
	touched, err = moved.AssignDefinitions(q, []int64{handler, helper})
	if err != nil {
		t.Fatal(err)
	}
	shared, _ := mods.GetByPath("project.shared")
	if len(touched) != 2 || !(touched[0] == util.ID || touched[1] == util.ID) {
		t.Errorf("touched = %v, want old %d and new %d", touched, util.ID, shared.ID)
	}
	if m, _ := members.ModuleOf(helper); m != shared.ID {
		t.Errorf("pad module = %d, want %d (assignment replaces)", m, shared.ID)
	}
	if n, _ := members.UnassignedCount(); n != 0 {
		t.Errorf("UnassignedCount() = %d", n)
	}
}

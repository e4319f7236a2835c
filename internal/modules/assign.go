package modules

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	ignore "github.com/sabhiram/go-gitignore"

	"squint/internal/storage"
)

type compiledDeclaration struct {
	decl    ModuleDeclaration
	matcher *ignore.GitIgnore
}

// Assigner places definitions into modules. Declarations are tried in file
// order; the first whose include patterns match the definition's file wins.
type Assigner struct {
	declarations []compiledDeclaration
	logger       *slog.Logger
}

// NewAssigner compiles the declarations' include patterns
func NewAssigner(decls []ModuleDeclaration, logger *slog.Logger) *Assigner {
	a := &Assigner{logger: logger}
	for _, d := range decls {
		a.declarations = append(a.declarations, compiledDeclaration{
			decl:    d,
			matcher: ignore.CompileIgnoreLines(d.Include...),
		})
	}
	return a
}

// ModuleFor returns the module path and test flag for a repo-relative file
func (a *Assigner) ModuleFor(filePath string) (string, bool) {
	for _, c := range a.declarations {
		if c.matcher.MatchesPath(filePath) {
			return c.decl.Path, c.decl.Test
		}
	}
	return DirectoryModule(filePath), IsTestFile(filePath)
}

// DirectoryModule derives a module path from a file's directory:
// "src/api/users.ts" lives in "project.src.api", tests in a ".tests" child.
func DirectoryModule(filePath string) string {
	segments := []string{RootModule}
	if dir := path.Dir(filePath); dir != "." {
		for _, part := range strings.Split(dir, "/") {
			if s := slugify(part); s != "" {
				segments = append(segments, s)
			}
		}
	}
	if IsTestFile(filePath) {
		segments = append(segments, "tests")
	}
	return strings.Join(segments, ".")
}

// IsTestFile reports whether a path follows a common test file convention
func IsTestFile(filePath string) bool {
	base := path.Base(filePath)
	switch {
	case strings.HasSuffix(base, "_test.go"):
		return true
	case strings.Contains(base, ".test."), strings.Contains(base, ".spec."):
		return true
	}
	for _, part := range strings.Split(path.Dir(filePath), "/") {
		if part == "__tests__" || part == "test" || part == "tests" {
			return true
		}
	}
	return false
}

// AssignDefinitions (re)assigns the given definitions. Assignment replaces
// any previous module. Returns the modules whose membership changed, both
// the ones gained and the ones lost, sorted.
func (a *Assigner) AssignDefinitions(q sqlx.Ext, definitionIDs []int64) ([]int64, error) {
	if len(definitionIDs) == 0 {
		return nil, nil
	}
	defs, err := storage.NewDefinitionRepository(q).GetByIDs(definitionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	fileIDs := make([]int64, 0, len(defs))
	for _, d := range defs {
		fileIDs = append(fileIDs, d.FileID)
	}
	files, err := storage.NewFileRepository(q).GetByIDs(fileIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load files: %w", err)
	}
	filePaths := make(map[int64]string, len(files))
	for _, f := range files {
		filePaths[f.ID] = f.Path
	}

	modules := storage.NewModuleRepository(q)
	members := storage.NewMemberRepository(q)
	descriptions := make(map[string]string, len(a.declarations))
	for _, c := range a.declarations {
		descriptions[c.decl.Path] = c.decl.Description
	}

	resolved := make(map[string]int64)
	touched := make(map[int64]bool)
	for _, d := range defs {
		modulePath, isTest := a.ModuleFor(filePaths[d.FileID])
		moduleID, ok := resolved[modulePath]
		if !ok {
			if moduleID, err = modules.EnsurePath(modulePath, isTest); err != nil {
				return nil, err
			}
			if desc := descriptions[modulePath]; desc != "" {
				if err := modules.SetDescription(moduleID, desc); err != nil {
					return nil, err
				}
			}
			resolved[modulePath] = moduleID
		}

		previous, err := members.ModuleOf(d.ID)
		if err != nil {
			return nil, err
		}
		if previous == moduleID {
			continue
		}
		if err := members.Assign(d.ID, moduleID); err != nil {
			return nil, err
		}
		touched[moduleID] = true
		if previous != 0 {
			touched[previous] = true
		}
	}

	out := make([]int64, 0, len(touched))
	for id := range touched {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	a.logger.Debug("Assigned definitions", "definitions", len(defs), "modulesTouched", len(out))
	return out, nil
}

// AssignUnassigned assigns every definition that has no module yet
func (a *Assigner) AssignUnassigned(q sqlx.Ext) ([]int64, error) {
	ids, err := storage.NewMemberRepository(q).UnassignedIDs()
	if err != nil {
		return nil, err
	}
	return a.AssignDefinitions(q, ids)
}

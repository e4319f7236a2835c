// Package modules assigns definitions to nodes of the module tree, either by
// MODULES.toml declarations or by the directory the definition lives in.
package modules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// ModulesDeclarationFile is looked up at the repository root
const ModulesDeclarationFile = "MODULES.toml"

// RootModule is the path of the tree root
const RootModule = "project"

// ModuleDeclaration is one [[module]] table.
type ModuleDeclaration struct {
	// Path is dotted and rooted at "project", e.g. "project.api.users"
	Path        string   `toml:"path"`
	Description string   `toml:"description,omitempty"`
	// Include holds gitignore-style patterns over repo-relative paths
	Include []string `toml:"include"`
	Test    bool     `toml:"test,omitempty"`
}

// ModulesFile is the whole of MODULES.toml.
type ModulesFile struct {
	Version int                 `toml:"version"`
	Modules []ModuleDeclaration `toml:"module"`
}

// Validate checks paths and patterns. Version 0 is read as 1.
func (f *ModulesFile) Validate() error {
	if f.Version == 0 {
		f.Version = 1
	}
	if f.Version != 1 {
		return fmt.Errorf("unsupported MODULES.toml version %d", f.Version)
	}
	seen := make(map[string]bool, len(f.Modules))
	for i, d := range f.Modules {
		if err := validateModulePath(d.Path); err != nil {
			return fmt.Errorf("module #%d: %w", i+1, err)
		}
		if seen[d.Path] {
			return fmt.Errorf("module %s declared twice", d.Path)
		}
		seen[d.Path] = true
		if len(d.Include) == 0 {
			return fmt.Errorf("module %s: include must not be empty", d.Path)
		}
	}
	return nil
}

// ParseModulesFile reads and validates a declarations file.
func ParseModulesFile(path string) (*ModulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	var f ModulesFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &f, nil
}

// LoadDeclarations reads the declarations under repoRoot. No file means no
// declarations and the directory fallback places everything.
func LoadDeclarations(repoRoot, name string) ([]ModuleDeclaration, error) {
	if name == "" {
		name = ModulesDeclarationFile
	}
	f, err := ParseModulesFile(filepath.Join(repoRoot, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f.Modules, nil
}

// WriteModulesFile validates f and writes it as TOML.
func WriteModulesFile(path string, f *ModulesFile) error {
	if err := f.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ExampleModulesFile is the starter written by `squint modules init`.
func ExampleModulesFile() *ModulesFile {
	return &ModulesFile{
		Version: 1,
		Modules: []ModuleDeclaration{
			{Path: "project.api", Description: "HTTP handlers and middleware", Include: []string{"src/api/**", "src/middleware/**"}},
			{Path: "project.storage", Description: "Persistence layer", Include: []string{"src/db/**"}},
			{Path: "project.tests", Include: []string{"**/*.test.ts", "**/*_test.go"}, Test: true},
		},
	}
}

// CreateExampleModulesFile writes ExampleModulesFile to path. An existing
// file is left alone and reported as os.ErrExist.
func CreateExampleModulesFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	return WriteModulesFile(path, ExampleModulesFile())
}

func validateModulePath(p string) error {
	if p == "" {
		return errors.New("missing required 'path' field")
	}
	segs := strings.Split(p, ".")
	if segs[0] != RootModule {
		return fmt.Errorf("path %q must start with %q", p, RootModule)
	}
	for _, seg := range segs {
		if seg == "" || slugify(seg) != seg {
			return fmt.Errorf("path %q has invalid segment %q", p, seg)
		}
	}
	return nil
}

// slugify lowercases s and collapses every run of other characters into "-"
func slugify(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		case len(out) > 0 && out[len(out)-1] != '-':
			out = append(out, '-')
		}
	}
	return strings.TrimSuffix(string(out), "-")
}

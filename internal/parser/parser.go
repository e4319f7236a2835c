// Package parser turns source files into definitions, imports and call
// references. It is the only place that knows about syntax; everything
// downstream works on ParsedFile values.
package parser

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"squint/internal/storage"
)

// Definition is a named entity found in a file
type Definition struct {
	Name       string
	Kind       storage.DefinitionKind
	IsExported bool
	Line       int
	Column     int
	EndLine    int
	EndColumn  int
	Extends    string
	Implements []string
}

// Usage is one call site or construction of a referenced name
type Usage struct {
	Line          int
	Column        int
	Context       string // storage.UsageCall, UsageNew or UsageReference
	ArgumentCount int
	IsMethodCall  bool
	ReceiverName  string
}

// ImportedSymbol is a name brought in by an import, with its usages in the file
type ImportedSymbol struct {
	Name      string // Name in the target file, "default" for default imports
	LocalName string
	Kind      string // storage.SymbolNamed, SymbolDefault or SymbolNamespace
	Usages    []Usage
}

// Import is one import statement
type Import struct {
	Source string
	// ResolvedPath is a repository-relative file path (TypeScript) or package
	// directory (Go). Empty for external imports.
	ResolvedPath string
	IsExternal   bool
	IsTypeOnly   bool
	Line         int
	Symbols      []ImportedSymbol
}

// InternalRef is a reference to a name not brought in by an import: a
// definition of the same file, or for Go, of the same package.
type InternalRef struct {
	Name     string
	IsMethod bool // x.Name() calls, resolved against methods
	Usages   []Usage
}

// ParsedFile is the parser's output for one file
type ParsedFile struct {
	Language     string
	Definitions  []Definition
	Imports      []Import
	InternalRefs []InternalRef
}

// Parser extracts a ParsedFile from file content. knownFiles holds every
// repository-relative path currently indexed or being indexed, for import
// resolution.
type Parser interface {
	Parse(content []byte, filePath string, knownFiles map[string]bool) (*ParsedFile, error)
	Language() string
	Extensions() []string
}

// Registry maps file extensions to parsers
type Registry struct {
	byExt map[string]Parser
}

// NewRegistry creates a registry with the given parsers
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{byExt: make(map[string]Parser)}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// Register adds a parser for all its extensions, replacing earlier ones
func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.byExt[strings.ToLower(ext)] = p
	}
}

// ForPath returns the parser for a path, or nil if none handles it
func (r *Registry) ForPath(filePath string) Parser {
	return r.byExt[strings.ToLower(filepath.Ext(filePath))]
}

// Supports reports whether some parser handles the path
func (r *Registry) Supports(filePath string) bool {
	return r.ForPath(filePath) != nil
}

// Extensions returns the registered extensions, sorted
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// LanguageOf returns the language name for a path, or "" if unsupported
func (r *Registry) LanguageOf(filePath string) string {
	p := r.ForPath(filePath)
	if p == nil {
		return ""
	}
	if l, ok := p.(interface{ LanguageFor(string) string }); ok {
		return l.LanguageFor(filePath)
	}
	return p.Language()
}

// tsResolveSuffixes are tried in order against a relative import base
var tsResolveSuffixes = []string{
	"", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs",
	"/index.ts", "/index.tsx", "/index.js", "/index.jsx",
}

// ResolveRelative resolves a relative import source against the importing
// file. It returns the matched known path, or the cleaned joined path and
// false when nothing matches.
func ResolveRelative(fromFile, source string, knownFiles map[string]bool) (string, bool) {
	base := path.Join(path.Dir(fromFile), source)
	for _, suffix := range tsResolveSuffixes {
		if cand := base + suffix; knownFiles[cand] {
			return cand, true
		}
	}
	// ESM-style "./x.js" pointing at "x.ts"
	if ext := path.Ext(base); ext == ".js" || ext == ".jsx" || ext == ".mjs" {
		stem := strings.TrimSuffix(base, ext)
		for _, alt := range []string{".ts", ".tsx"} {
			if knownFiles[stem+alt] {
				return stem + alt, true
			}
		}
	}
	return base, false
}

// IsRelativeSource reports whether an import source is a relative path
func IsRelativeSource(source string) bool {
	return source == "." || source == ".." || strings.HasPrefix(source, "./") || strings.HasPrefix(source, "../")
}

// GoModulePath reads the module path from root/go.mod, or "" if absent
func GoModulePath(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "module ") {
			fields := strings.Fields(trimmed)
			if len(fields) >= 2 {
				return strings.Trim(fields[1], `"`)
			}
		}
	}
	return ""
}

// ResolveGoImport maps a Go import path to a repository-relative package
// directory. ok is false for imports outside the module.
func ResolveGoImport(modulePath, importPath string) (dir string, ok bool) {
	if modulePath == "" {
		return "", false
	}
	if importPath == modulePath {
		return ".", true
	}
	if strings.HasPrefix(importPath, modulePath+"/") {
		return strings.TrimPrefix(importPath, modulePath+"/"), true
	}
	return "", false
}

// FilesInDir returns the known paths directly inside dir, sorted
func FilesInDir(dir string, knownFiles map[string]bool, ext string) []string {
	var out []string
	for p := range knownFiles {
		if path.Dir(p) == dir && (ext == "" || path.Ext(p) == ext) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// goDefaultAlias is the package name Go assumes for an import path
func goDefaultAlias(importPath string) string {
	parts := strings.Split(importPath, "/")
	last := parts[len(parts)-1]
	if len(parts) > 1 && len(last) >= 2 && last[0] == 'v' && strings.Trim(last[1:], "0123456789") == "" {
		last = parts[len(parts)-2]
	}
	return last
}

// refCollector accumulates usages by name in first-seen order
type refCollector struct {
	order []string
	refs  map[string]*InternalRef
}

func newRefCollector() *refCollector {
	return &refCollector{refs: make(map[string]*InternalRef)}
}

func (c *refCollector) add(name string, u Usage) {
	key := name
	if u.IsMethodCall {
		key = "." + name
	}
	ref, ok := c.refs[key]
	if !ok {
		ref = &InternalRef{Name: name, IsMethod: u.IsMethodCall}
		c.refs[key] = ref
		c.order = append(c.order, key)
	}
	ref.Usages = append(ref.Usages, u)
}

func (c *refCollector) list() []InternalRef {
	out := make([]InternalRef, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, *c.refs[key])
	}
	return out
}

// importTable tracks the symbols of each import by local name
type importTable struct {
	imports []Import
	// local name -> (import index, symbol index)
	locals map[string][2]int
	// namespace local name -> import index
	namespaces map[string]int
}

func newImportTable() *importTable {
	return &importTable{locals: make(map[string][2]int), namespaces: make(map[string]int)}
}

func (t *importTable) addImport(imp Import) int {
	t.imports = append(t.imports, imp)
	return len(t.imports) - 1
}

func (t *importTable) addSymbol(idx int, sym ImportedSymbol) {
	imp := &t.imports[idx]
	imp.Symbols = append(imp.Symbols, sym)
	t.locals[sym.LocalName] = [2]int{idx, len(imp.Symbols) - 1}
}

// useLocal records a usage of an imported local name. Returns false if the
// name was not imported.
func (t *importTable) useLocal(local string, u Usage) bool {
	loc, ok := t.locals[local]
	if !ok {
		return false
	}
	sym := &t.imports[loc[0]].Symbols[loc[1]]
	sym.Usages = append(sym.Usages, u)
	return true
}

// useMember records pkg.Name or ns.member against the namespace import,
// creating one symbol per distinct member.
func (t *importTable) useMember(ns, member string, u Usage) bool {
	idx, ok := t.namespaces[ns]
	if !ok {
		return false
	}
	local := ns + "." + member
	if !t.useLocal(local, u) {
		t.addSymbol(idx, ImportedSymbol{Name: member, LocalName: local, Kind: storage.SymbolNamespace})
		t.useLocal(local, u)
	}
	return true
}

func isExportedGoName(name string) bool {
	if name == "" {
		return false
	}
	c := name[0]
	return c >= 'A' && c <= 'Z'
}

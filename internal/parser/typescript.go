//go:build cgo

package parser

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"squint/internal/storage"
)

// TypeScriptParser parses TypeScript and JavaScript. Class methods are named
// Class.method; relative imports resolve against the known file set.
type TypeScriptParser struct {
	ts  *tsParser
	tsx *tsParser
	js  *tsParser
}

// NewTypeScriptParser creates a TypeScript/JavaScript parser
func NewTypeScriptParser() *TypeScriptParser {
	return &TypeScriptParser{
		ts:  newTSParser(typescript.GetLanguage()),
		tsx: newTSParser(tsx.GetLanguage()),
		js:  newTSParser(javascript.GetLanguage()),
	}
}

func (t *TypeScriptParser) Language() string { return "typescript" }

func (t *TypeScriptParser) Extensions() []string {
	return []string{".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"}
}

// LanguageFor distinguishes JavaScript from TypeScript files
func (t *TypeScriptParser) LanguageFor(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	}
	return "typescript"
}

func (t *TypeScriptParser) parserFor(filePath string) *tsParser {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".tsx":
		return t.tsx
	case ".js", ".jsx", ".mjs", ".cjs":
		return t.js
	}
	return t.ts
}

// tsFile is the per-parse state
type tsFile struct {
	content    []byte
	filePath   string
	knownFiles map[string]bool
	result     *ParsedFile
	imports    *importTable
	refs       *refCollector
	exported   map[string]bool
}

// Parse extracts definitions, imports and calls from a TS/JS file
func (t *TypeScriptParser) Parse(content []byte, filePath string, knownFiles map[string]bool) (*ParsedFile, error) {
	f := &tsFile{
		content:    content,
		filePath:   filePath,
		knownFiles: knownFiles,
		result:     &ParsedFile{Language: t.LanguageFor(filePath)},
		imports:    newImportTable(),
		refs:       newRefCollector(),
		exported:   make(map[string]bool),
	}

	err := t.parserFor(filePath).parse(content, filePath, func(root *sitter.Node) {
		for _, n := range namedChildren(root) {
			f.topLevel(n, false)
		}
		f.collectCalls(root)
	})
	if err != nil {
		return nil, err
	}

	for i := range f.result.Definitions {
		d := &f.result.Definitions[i]
		if f.exported[d.Name] {
			d.IsExported = true
		}
	}
	f.result.Imports = f.imports.imports
	f.result.InternalRefs = f.refs.list()
	return f.result, nil
}

func (f *tsFile) text(n *sitter.Node) string {
	return n.Content(f.content)
}

func (f *tsFile) add(n *sitter.Node, d Definition) {
	f.result.Definitions = append(f.result.Definitions, definitionAt(n, d))
}

func (f *tsFile) topLevel(n *sitter.Node, exported bool) {
	switch n.Type() {
	case "import_statement":
		f.extractImport(n)

	case "export_statement":
		if decl := n.ChildByFieldName("declaration"); decl != nil {
			f.topLevel(decl, true)
			return
		}
		for _, c := range namedChildren(n) {
			switch c.Type() {
			case "export_clause":
				for _, spec := range childrenOfType(c, "export_specifier") {
					if name := spec.ChildByFieldName("name"); name != nil {
						f.exported[f.text(name)] = true
					}
				}
			case "function_declaration", "generator_function_declaration", "class_declaration",
				"abstract_class_declaration", "function", "function_expression", "class":
				f.topLevel(c, true)
			}
		}

	case "function_declaration", "generator_function_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			f.add(n, Definition{Name: f.text(name), Kind: storage.KindFunction, IsExported: exported})
		}

	case "class_declaration", "abstract_class_declaration", "class":
		f.extractClass(n, exported)

	case "interface_declaration":
		name := n.ChildByFieldName("name")
		if name == nil {
			return
		}
		d := Definition{Name: f.text(name), Kind: storage.KindInterface, IsExported: exported}
		for _, clause := range childrenOfType(n, "extends_type_clause", "extends_clause") {
			for _, typ := range namedChildren(clause) {
				parent := typeName(f.text(typ))
				if d.Extends == "" {
					d.Extends = parent
				} else {
					d.Implements = append(d.Implements, parent)
				}
			}
		}
		f.add(n, d)

	case "type_alias_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			f.add(n, Definition{Name: f.text(name), Kind: storage.KindType, IsExported: exported})
		}

	case "enum_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			f.add(n, Definition{Name: f.text(name), Kind: storage.KindEnum, IsExported: exported})
		}

	case "lexical_declaration", "variable_declaration":
		f.extractVariables(n, exported)
	}
}

func (f *tsFile) extractClass(n *sitter.Node, exported bool) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	className := f.text(nameNode)
	d := Definition{Name: className, Kind: storage.KindClass, IsExported: exported}

	for _, heritage := range childrenOfType(n, "class_heritage") {
		for _, c := range namedChildren(heritage) {
			switch c.Type() {
			case "extends_clause":
				if v := c.ChildByFieldName("value"); v != nil {
					d.Extends = typeName(f.text(v))
				} else if kids := namedChildren(c); len(kids) > 0 {
					d.Extends = typeName(f.text(kids[0]))
				}
			case "implements_clause":
				for _, typ := range namedChildren(c) {
					d.Implements = append(d.Implements, typeName(f.text(typ)))
				}
			default:
				// JavaScript: class_heritage holds the extends expression directly
				if d.Extends == "" {
					d.Extends = typeName(f.text(c))
				}
			}
		}
	}
	f.add(n, d)

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	for _, member := range namedChildren(body) {
		var nameNode *sitter.Node
		switch member.Type() {
		case "method_definition":
			nameNode = member.ChildByFieldName("name")
		case "public_field_definition", "field_definition":
			value := member.ChildByFieldName("value")
			if value == nil || !isFunctionNode(value) {
				continue
			}
			nameNode = member.ChildByFieldName("name")
			if nameNode == nil {
				nameNode = member.ChildByFieldName("property")
			}
		}
		if nameNode == nil {
			continue
		}
		f.add(member, Definition{Name: className + "." + f.text(nameNode), Kind: storage.KindMethod, IsExported: exported})
	}
}

func isFunctionNode(n *sitter.Node) bool {
	switch n.Type() {
	case "arrow_function", "function", "function_expression", "generator_function":
		return true
	}
	return false
}

func (f *tsFile) extractVariables(n *sitter.Node, exported bool) {
	kind := storage.KindVariable
	if n.ChildCount() > 0 && n.Child(0).Type() == "const" {
		kind = storage.KindConst
	}
	for _, decl := range childrenOfType(n, "variable_declarator") {
		name := decl.ChildByFieldName("name")
		if name == nil || name.Type() != "identifier" {
			continue // destructuring patterns
		}
		d := Definition{Name: f.text(name), Kind: kind, IsExported: exported}
		if value := decl.ChildByFieldName("value"); value != nil && isFunctionNode(value) {
			d.Kind = storage.KindFunction
		}
		f.add(decl, d)
	}
}

// typeName strips type arguments and qualifiers: "ns.Base<T>" -> "Base"
func typeName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '<'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func (f *tsFile) extractImport(n *sitter.Node) {
	sourceNode := n.ChildByFieldName("source")
	if sourceNode == nil {
		return
	}
	source := strings.Trim(f.text(sourceNode), "\"'`")
	imp := Import{Source: source, Line: int(n.StartPoint().Row) + 1}
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "type" {
			imp.IsTypeOnly = true
		}
	}
	if IsRelativeSource(source) {
		imp.ResolvedPath, _ = ResolveRelative(f.filePath, source, f.knownFiles)
	} else {
		imp.IsExternal = true
	}
	idx := f.imports.addImport(imp)

	for _, clause := range childrenOfType(n, "import_clause") {
		for _, c := range namedChildren(clause) {
			switch c.Type() {
			case "identifier":
				f.imports.addSymbol(idx, ImportedSymbol{Name: "default", LocalName: f.text(c), Kind: storage.SymbolDefault})
			case "namespace_import":
				for _, id := range childrenOfType(c, "identifier") {
					f.imports.namespaces[f.text(id)] = idx
				}
			case "named_imports":
				for _, spec := range childrenOfType(c, "import_specifier") {
					name := spec.ChildByFieldName("name")
					if name == nil {
						continue
					}
					local := f.text(name)
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						local = f.text(alias)
					}
					f.imports.addSymbol(idx, ImportedSymbol{Name: f.text(name), LocalName: local, Kind: storage.SymbolNamed})
				}
			}
		}
	}
}

// collectCalls records calls and constructions. Imported names resolve
// through the import table; everything else becomes an internal ref.
func (f *tsFile) collectCalls(root *sitter.Node) {
	walk(root, func(n *sitter.Node) {
		var callee *sitter.Node
		usageContext := storage.UsageCall
		switch n.Type() {
		case "call_expression":
			callee = n.ChildByFieldName("function")
		case "new_expression":
			callee = n.ChildByFieldName("constructor")
			usageContext = storage.UsageNew
		default:
			return
		}
		if callee == nil {
			return
		}
		u := usageAt(n, usageContext, n.ChildByFieldName("arguments"))

		switch callee.Type() {
		case "identifier":
			name := f.text(callee)
			if !f.imports.useLocal(name, u) {
				f.refs.add(name, u)
			}
		case "member_expression":
			object := callee.ChildByFieldName("object")
			property := callee.ChildByFieldName("property")
			if object == nil || property == nil {
				return
			}
			if object.Type() == "identifier" && f.imports.useMember(f.text(object), f.text(property), u) {
				return
			}
			u.IsMethodCall = true
			u.ReceiverName = f.text(object)
			f.refs.add(f.text(property), u)
		}
	})
}

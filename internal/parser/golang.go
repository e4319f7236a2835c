//go:build cgo

package parser

import (
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"squint/internal/storage"
)

var goBuiltins = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true, "copy": true,
	"delete": true, "imag": true, "len": true, "make": true, "max": true, "min": true,
	"new": true, "panic": true, "print": true, "println": true, "real": true, "recover": true,
}

// GoParser parses Go files. Methods are named Receiver.Method; imports of
// the module's own packages resolve to package directories.
type GoParser struct {
	ts         *tsParser
	modulePath string
}

// NewGoParser creates a Go parser for a module. modulePath may be empty, in
// which case every import is treated as external.
func NewGoParser(modulePath string) *GoParser {
	return &GoParser{ts: newTSParser(golang.GetLanguage()), modulePath: modulePath}
}

func (g *GoParser) Language() string { return "go" }

func (g *GoParser) Extensions() []string { return []string{".go"} }

// Parse extracts definitions, imports and calls from a Go file
func (g *GoParser) Parse(content []byte, filePath string, knownFiles map[string]bool) (*ParsedFile, error) {
	result := &ParsedFile{Language: "go"}
	imports := newImportTable()
	refs := newRefCollector()

	err := g.ts.parse(content, filePath, func(root *sitter.Node) {
		for _, n := range namedChildren(root) {
			switch n.Type() {
			case "import_declaration":
				g.extractImports(n, content, imports)
			case "function_declaration":
				if d, ok := g.extractFunction(n, content); ok {
					result.Definitions = append(result.Definitions, d)
				}
			case "method_declaration":
				if d, ok := g.extractMethod(n, content); ok {
					result.Definitions = append(result.Definitions, d)
				}
			case "type_declaration":
				result.Definitions = append(result.Definitions, g.extractTypes(n, content)...)
			case "const_declaration":
				result.Definitions = append(result.Definitions, g.extractValues(n, content, "const_spec", storage.KindConst)...)
			case "var_declaration":
				result.Definitions = append(result.Definitions, g.extractValues(n, content, "var_spec", storage.KindVariable)...)
			}
		}
		g.collectCalls(root, content, imports, refs)
	})
	if err != nil {
		return nil, err
	}

	result.Imports = imports.imports
	result.InternalRefs = refs.list()
	return result, nil
}

func (g *GoParser) extractImports(n *sitter.Node, content []byte, imports *importTable) {
	var specs []*sitter.Node
	walk(n, func(c *sitter.Node) {
		if c.Type() == "import_spec" {
			specs = append(specs, c)
		}
	})
	for _, spec := range specs {
		pathNode := spec.ChildByFieldName("path")
		if pathNode == nil {
			continue
		}
		source, err := strconv.Unquote(pathNode.Content(content))
		if err != nil {
			source = strings.Trim(pathNode.Content(content), "\"`")
		}

		imp := Import{Source: source, Line: int(spec.StartPoint().Row) + 1}
		if dir, ok := ResolveGoImport(g.modulePath, source); ok {
			imp.ResolvedPath = dir
		} else {
			imp.IsExternal = true
		}
		idx := imports.addImport(imp)

		alias := goDefaultAlias(source)
		if nameNode := spec.ChildByFieldName("name"); nameNode != nil {
			switch nameNode.Type() {
			case "dot", "blank_identifier":
				continue
			default:
				alias = nameNode.Content(content)
			}
		}
		imports.namespaces[alias] = idx
	}
}

func (g *GoParser) extractFunction(n *sitter.Node, content []byte) (Definition, bool) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return Definition{}, false
	}
	name := nameNode.Content(content)
	return definitionAt(n, Definition{Name: name, Kind: storage.KindFunction, IsExported: isExportedGoName(name)}), true
}

func (g *GoParser) extractMethod(n *sitter.Node, content []byte) (Definition, bool) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return Definition{}, false
	}
	name := nameNode.Content(content)
	if recv := receiverType(n.ChildByFieldName("receiver"), content); recv != "" {
		name = recv + "." + name
	}
	return definitionAt(n, Definition{
		Name:       name,
		Kind:       storage.KindMethod,
		IsExported: isExportedGoName(nameNode.Content(content)),
	}), true
}

// receiverType returns the bare type name of a method receiver: "*Repo[T]" -> "Repo"
func receiverType(params *sitter.Node, content []byte) string {
	if params == nil {
		return ""
	}
	for _, p := range namedChildren(params) {
		if t := p.ChildByFieldName("type"); t != nil {
			return baseTypeName(t.Content(content))
		}
	}
	return ""
}

func baseTypeName(s string) string {
	s = strings.TrimLeft(strings.TrimSpace(s), "*")
	if i := strings.IndexByte(s, '['); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func (g *GoParser) extractTypes(n *sitter.Node, content []byte) []Definition {
	var defs []Definition
	for _, spec := range childrenOfType(n, "type_spec", "type_alias") {
		nameNode := spec.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := nameNode.Content(content)
		d := Definition{Name: name, Kind: storage.KindType, IsExported: isExportedGoName(name)}

		var embedded []string
		if typ := spec.ChildByFieldName("type"); typ != nil {
			switch typ.Type() {
			case "struct_type":
				d.Kind = storage.KindClass
				embedded = embeddedStructTypes(typ, content)
			case "interface_type":
				d.Kind = storage.KindInterface
				embedded = embeddedInterfaceTypes(typ, content)
			}
		}
		// Go has no implements clause; further embeddings are recorded as implements
		if len(embedded) > 0 {
			d.Extends = embedded[0]
			d.Implements = embedded[1:]
		}
		defs = append(defs, definitionAt(spec, d))
	}
	return defs
}

func embeddedStructTypes(structType *sitter.Node, content []byte) []string {
	var out []string
	for _, list := range childrenOfType(structType, "field_declaration_list") {
		for _, field := range childrenOfType(list, "field_declaration") {
			if field.ChildByFieldName("name") != nil {
				continue
			}
			if t := field.ChildByFieldName("type"); t != nil {
				out = append(out, baseTypeName(t.Content(content)))
			}
		}
	}
	return out
}

func embeddedInterfaceTypes(ifaceType *sitter.Node, content []byte) []string {
	var out []string
	for _, c := range namedChildren(ifaceType) {
		switch c.Type() {
		case "type_elem", "constraint_elem", "interface_type_name", "type_identifier", "qualified_type":
			text := c.Content(content)
			if strings.ContainsAny(text, "|~") {
				continue // type set, not an embedding
			}
			out = append(out, baseTypeName(text))
		}
	}
	return out
}

func (g *GoParser) extractValues(n *sitter.Node, content []byte, specType string, kind storage.DefinitionKind) []Definition {
	var defs []Definition
	var specs []*sitter.Node
	walk(n, func(c *sitter.Node) {
		if c.Type() == specType {
			specs = append(specs, c)
		}
	})
	for _, spec := range specs {
		// values sit inside an expression_list, so direct identifiers are names
		for _, c := range namedChildren(spec) {
			if c.Type() != "identifier" {
				continue
			}
			name := c.Content(content)
			if name == "_" {
				continue
			}
			defs = append(defs, definitionAt(spec, Definition{Name: name, Kind: kind, IsExported: isExportedGoName(name)}))
		}
	}
	return defs
}

// collectCalls records calls and composite literals. pkg.F resolves through
// the import table; bare identifiers and x.M method calls become internal refs.
func (g *GoParser) collectCalls(root *sitter.Node, content []byte, imports *importTable, refs *refCollector) {
	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "call_expression":
			fn := n.ChildByFieldName("function")
			args := n.ChildByFieldName("arguments")
			if fn == nil {
				return
			}
			switch fn.Type() {
			case "identifier":
				name := fn.Content(content)
				if !goBuiltins[name] {
					refs.add(name, usageAt(n, storage.UsageCall, args))
				}
			case "selector_expression":
				operand := fn.ChildByFieldName("operand")
				field := fn.ChildByFieldName("field")
				if operand == nil || field == nil {
					return
				}
				u := usageAt(n, storage.UsageCall, args)
				if operand.Type() == "identifier" && imports.useMember(operand.Content(content), field.Content(content), u) {
					return
				}
				u.IsMethodCall = true
				u.ReceiverName = operand.Content(content)
				refs.add(field.Content(content), u)
			}
		case "composite_literal":
			typ := n.ChildByFieldName("type")
			if typ == nil {
				return
			}
			u := usageAt(n, storage.UsageNew, nil)
			switch typ.Type() {
			case "type_identifier":
				refs.add(typ.Content(content), u)
			case "qualified_type":
				pkg := typ.ChildByFieldName("package")
				name := typ.ChildByFieldName("name")
				if pkg != nil && name != nil {
					imports.useMember(pkg.Content(content), name.Content(content), u)
				}
			}
		}
	})
}

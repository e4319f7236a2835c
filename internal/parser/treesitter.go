//go:build cgo

package parser

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	ckerrors "squint/internal/errors"
)

// tsParser serializes access to a tree-sitter parser, which is not safe for
// concurrent use.
type tsParser struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

func newTSParser(lang *sitter.Language) *tsParser {
	p := sitter.NewParser()
	p.SetLanguage(lang)
	return &tsParser{parser: p}
}

// parse runs tree-sitter and hands the root to fn while the tree is alive.
// Trees containing error nodes are rejected as unsupported syntax.
func (p *tsParser) parse(content []byte, filePath string, fn func(root *sitter.Node)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tree, err := p.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return ckerrors.New(ckerrors.ParseFailed, fmt.Sprintf("failed to parse %s", filePath), err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return ckerrors.New(ckerrors.ParseFailed,
			fmt.Sprintf("unsupported syntax in %s near line %d", filePath, firstErrorLine(root)), nil)
	}
	fn(root)
	return nil
}

func firstErrorLine(n *sitter.Node) int {
	if n.IsError() || n.IsMissing() {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c != nil && c.HasError() {
			return firstErrorLine(c)
		}
	}
	return int(n.StartPoint().Row) + 1
}

// definitionAt fills the position fields of a definition from a node
func definitionAt(n *sitter.Node, d Definition) Definition {
	d.Line = int(n.StartPoint().Row) + 1
	d.Column = int(n.StartPoint().Column) + 1
	d.EndLine = int(n.EndPoint().Row) + 1
	d.EndColumn = int(n.EndPoint().Column) + 1
	return d
}

func usageAt(n *sitter.Node, usageContext string, args *sitter.Node) Usage {
	u := Usage{
		Line:    int(n.StartPoint().Row) + 1,
		Column:  int(n.StartPoint().Column) + 1,
		Context: usageContext,
	}
	if args != nil {
		u.ArgumentCount = int(args.NamedChildCount())
	}
	return u
}

// walk visits every node depth-first
func walk(n *sitter.Node, fn func(*sitter.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

func childrenOfType(n *sitter.Node, types ...string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		for _, t := range types {
			if c.Type() == t {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Available reports whether tree-sitter parsers are compiled in
func Available() bool {
	return true
}

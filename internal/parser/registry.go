//go:build cgo

package parser

// NewDefaultRegistry returns a registry with the Go and TypeScript/JavaScript
// parsers. goModulePath scopes Go import resolution.
func NewDefaultRegistry(goModulePath string) *Registry {
	return NewRegistry(NewGoParser(goModulePath), NewTypeScriptParser())
}

//go:build !cgo

package parser

// NewDefaultRegistry returns an empty registry when CGO is not available;
// no file is parseable and every scan skips all sources.
func NewDefaultRegistry(goModulePath string) *Registry {
	return NewRegistry()
}

// Available reports whether tree-sitter parsers are compiled in
func Available() bool {
	return false
}

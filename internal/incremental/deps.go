package incremental

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"squint/internal/cascade"
	"squint/internal/parser"
	"squint/internal/storage"
)

// referenceResolver writes a file's imports, symbols and usages, resolving
// each reference to a definition where the index can name one.
type referenceResolver struct {
	pathIDs map[string]int64
	known   map[string]bool
}

func newReferenceResolver(q sqlx.Ext) (*referenceResolver, error) {
	pathIDs, err := storage.NewFileRepository(q).PathIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to load file paths: %w", err)
	}
	known := make(map[string]bool, len(pathIDs))
	for p := range pathIDs {
		known[p] = true
	}
	return &referenceResolver{pathIDs: pathIDs, known: known}, nil
}

// track makes a file applied in this run resolvable for later files
func (r *referenceResolver) track(filePath string, fileID int64) {
	r.pathIDs[filePath] = fileID
	r.known[filePath] = true
}

func (r *referenceResolver) forget(filePath string) {
	delete(r.pathIDs, filePath)
	delete(r.known, filePath)
}

func isGoPath(p string) bool {
	return path.Ext(p) == ".go"
}

// targetFiles returns the file ids an import's symbols can resolve into. For
// Go the import names a package directory, so every file in it qualifies.
func (r *referenceResolver) targetFiles(filePath string, imp parser.Import) []int64 {
	if imp.IsExternal || imp.ResolvedPath == "" {
		return nil
	}
	if isGoPath(filePath) {
		var ids []int64
		for _, p := range parser.FilesInDir(imp.ResolvedPath, r.known, ".go") {
			ids = append(ids, r.pathIDs[p])
		}
		return ids
	}
	if id, ok := r.pathIDs[imp.ResolvedPath]; ok {
		return []int64{id}
	}
	return nil
}

// packageFiles returns the file itself plus, for Go, its same-directory siblings
func (r *referenceResolver) packageFiles(filePath string, fileID int64) []int64 {
	ids := []int64{fileID}
	if !isGoPath(filePath) {
		return ids
	}
	for _, p := range parser.FilesInDir(path.Dir(filePath), r.known, ".go") {
		if id := r.pathIDs[p]; id != fileID {
			ids = append(ids, id)
		}
	}
	return ids
}

// replaceReferences drops a file's old references and writes pf's.
// Returns the number of imports written.
func (r *referenceResolver) replaceReferences(tx *sqlx.Tx, filePath string, fileID int64, pf *parser.ParsedFile) (int, error) {
	if err := cascade.DeleteFileReferences(tx, fileID); err != nil {
		return 0, err
	}
	imports := storage.NewImportRepository(tx)
	symbols := storage.NewSymbolRepository(tx)
	usages := storage.NewUsageRepository(tx)
	defs := storage.NewDefinitionRepository(tx)

	for _, imp := range pf.Imports {
		targets := r.targetFiles(filePath, imp)
		row := &storage.Import{
			FromFileID:   fileID,
			Source:       imp.Source,
			ResolvedPath: imp.ResolvedPath,
			IsExternal:   imp.IsExternal,
			IsTypeOnly:   imp.IsTypeOnly,
			Line:         imp.Line,
		}
		if len(targets) > 0 {
			to := targets[0]
			row.ToFileID = &to
		}
		importID, err := imports.Insert(row)
		if err != nil {
			return 0, err
		}

		for _, sym := range imp.Symbols {
			defID, err := resolveImportedSymbol(defs, sym, targets)
			if err != nil {
				return 0, err
			}
			s := &storage.Symbol{
				ReferenceID:  &importID,
				DefinitionID: defID,
				Name:         sym.Name,
				LocalName:    sym.LocalName,
				Kind:         sym.Kind,
			}
			if err := insertSymbolUsages(symbols, usages, s, sym.Usages); err != nil {
				return 0, err
			}
		}
	}

	scope := r.packageFiles(filePath, fileID)
	for _, ref := range pf.InternalRefs {
		defID, err := resolveInternalRef(defs, ref, fileID, scope)
		if err != nil {
			return 0, err
		}
		if defID == nil {
			// Locals, builtins and calls on values of unknown type
			continue
		}
		owner := fileID
		s := &storage.Symbol{
			FileID:       &owner,
			DefinitionID: defID,
			Name:         ref.Name,
			LocalName:    ref.Name,
			Kind:         storage.SymbolInternal,
		}
		if err := insertSymbolUsages(symbols, usages, s, ref.Usages); err != nil {
			return 0, err
		}
	}
	return len(pf.Imports), nil
}

func insertSymbolUsages(symbols *storage.SymbolRepository, usages *storage.UsageRepository, s *storage.Symbol, us []parser.Usage) error {
	symbolID, err := symbols.Insert(s)
	if err != nil {
		return err
	}
	for _, u := range us {
		row := &storage.Usage{
			SymbolID:      symbolID,
			Line:          u.Line,
			Column:        u.Column,
			Context:       u.Context,
			ArgumentCount: u.ArgumentCount,
			IsMethodCall:  u.IsMethodCall,
			ReceiverName:  u.ReceiverName,
		}
		if _, err := usages.Insert(row); err != nil {
			return err
		}
	}
	return nil
}

// resolveImportedSymbol finds the definition an imported name refers to.
// Default imports match an exported definition named like the local binding,
// else the target's single exported class or function.
func resolveImportedSymbol(defs *storage.DefinitionRepository, sym parser.ImportedSymbol, targets []int64) (*int64, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	if sym.Kind == storage.SymbolDefault {
		found, err := defs.FindByNameInFiles(sym.LocalName, targets)
		if err != nil {
			return nil, err
		}
		if d := pickDefinition(found, 0, true); d != nil {
			return &d.ID, nil
		}
		return soleExportedCallable(defs, targets)
	}

	found, err := defs.FindByNameInFiles(sym.Name, targets)
	if err != nil {
		return nil, err
	}
	if d := pickDefinition(found, 0, true); d != nil {
		return &d.ID, nil
	}
	return nil, nil
}

func soleExportedCallable(defs *storage.DefinitionRepository, targets []int64) (*int64, error) {
	var match *storage.Definition
	for _, fileID := range targets {
		all, err := defs.GetByFile(fileID)
		if err != nil {
			return nil, err
		}
		for i := range all {
			d := all[i]
			if !d.IsExported || (d.Kind != storage.KindClass && d.Kind != storage.KindFunction) {
				continue
			}
			if match != nil {
				return nil, nil
			}
			match = &d
		}
	}
	if match == nil {
		return nil, nil
	}
	return &match.ID, nil
}

// resolveInternalRef resolves a name used without an import against the
// file's own definitions and, for Go, its package siblings.
func resolveInternalRef(defs *storage.DefinitionRepository, ref parser.InternalRef, fileID int64, scope []int64) (*int64, error) {
	var (
		found []storage.Definition
		err   error
	)
	if ref.IsMethod {
		found, err = defs.FindMethodsInFiles(ref.Name, scope)
	} else {
		found, err = defs.FindByNameInFiles(ref.Name, scope)
	}
	if err != nil {
		return nil, err
	}
	if d := pickDefinition(found, fileID, false); d != nil {
		return &d.ID, nil
	}
	return nil, nil
}

// pickDefinition chooses among same-named candidates: same file first, then
// exported ones when preferExported is set, then the earliest.
func pickDefinition(found []storage.Definition, fileID int64, preferExported bool) *storage.Definition {
	if len(found) == 0 {
		return nil
	}
	for i := range found {
		if fileID != 0 && found[i].FileID == fileID {
			return &found[i]
		}
	}
	if preferExported {
		for i := range found {
			if found[i].IsExported {
				return &found[i]
			}
		}
	}
	return &found[0]
}

// DependencyTracker finds unchanged files whose references may resolve
// differently after a set of changes
type DependencyTracker struct {
	q sqlx.Ext
}

// NewDependencyTracker creates a tracker over a DB or transaction
func NewDependencyTracker(q sqlx.Ext) *DependencyTracker {
	return &DependencyTracker{q: q}
}

// dependentQuery describes what changed in a sync run
type dependentQuery struct {
	// files that gained definitions
	targetFileIDs []int64
	// paths that appeared or disappeared
	addedPaths   []string
	deletedPaths []string
	// files that lost definitions some symbol resolved to, captured before deletion
	referencingFiles []int64
	// Go files whose package gained or lost definitions
	goDirs []string
	// files already re-parsed in this run
	exclude map[int64]bool
}

// FindDependents returns the ids of files to re-resolve, sorted
func (t *DependencyTracker) FindDependents(dq dependentQuery, known map[string]int64) ([]int64, error) {
	imports := storage.NewImportRepository(t.q)

	paths := append(append([]string{}, dq.addedPaths...), dq.deletedPaths...)
	dirSet := make(map[string]bool)
	for _, d := range dq.goDirs {
		dirSet[d] = true
	}
	for _, p := range paths {
		if isGoPath(p) {
			dirSet[path.Dir(p)] = true
		}
	}
	for d := range dirSet {
		paths = append(paths, d)
	}

	ids, err := imports.DependentFileIDs(dq.targetFileIDs, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to find importers: %w", err)
	}
	ids = append(ids, dq.referencingFiles...)

	// Same-package Go files reference each other without imports
	for p, id := range known {
		if isGoPath(p) && dirSet[path.Dir(p)] {
			ids = append(ids, id)
		}
	}

	if len(dq.addedPaths) > 0 {
		unresolved, err := imports.UnresolvedInternal()
		if err != nil {
			return nil, err
		}
		for _, imp := range unresolved {
			for _, added := range dq.addedPaths {
				if couldResolveTo(imp.ResolvedPath, added) {
					ids = append(ids, imp.FromFileID)
					break
				}
			}
		}
	}

	live := make(map[int64]bool, len(known))
	for _, id := range known {
		live[id] = true
	}
	seen := make(map[int64]bool)
	var out []int64
	for _, id := range ids {
		if seen[id] || dq.exclude[id] || !live[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// couldResolveTo reports whether an unresolved import base would now match added
func couldResolveTo(resolved, added string) bool {
	if resolved == "" {
		return false
	}
	if resolved == added {
		return true
	}
	stem := strings.TrimSuffix(added, path.Ext(added))
	if resolved == stem || strings.TrimSuffix(resolved, path.Ext(resolved)) == stem {
		return true
	}
	return path.Base(stem) == "index" && resolved == path.Dir(added)
}

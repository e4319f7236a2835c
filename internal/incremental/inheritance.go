package incremental

import (
	"strings"

	"github.com/jmoiron/sqlx"

	"squint/internal/dirty"
	"squint/internal/parser"
	"squint/internal/storage"
)

// heritageKinds are the kinds an extends or implements name can resolve to
var heritageKinds = map[storage.DefinitionKind]bool{
	storage.KindClass:     true,
	storage.KindInterface: true,
	storage.KindType:      true,
}

// recomputeInheritance rebuilds extends/implements annotations for the
// touched definitions and for every definition whose heritage names one of
// the touched names. Returns the number of edges written.
func recomputeInheritance(tx *sqlx.Tx, r *referenceResolver, touchedIDs []int64, touchedNames []string) (int, error) {
	defs := storage.NewDefinitionRepository(tx)
	annotations := storage.NewAnnotationRepository(tx)

	touched := make(map[int64]bool, len(touchedIDs))
	for _, id := range touchedIDs {
		touched[id] = true
	}
	names := make(map[string]bool, len(touchedNames))
	for _, n := range touchedNames {
		names[n] = true
	}

	withHeritage, err := defs.WithHeritage()
	if err != nil {
		return 0, err
	}

	var candidates []storage.Definition
	for _, d := range withHeritage {
		if touched[d.ID] {
			candidates = append(candidates, d)
			continue
		}
		for _, n := range heritageNames(d) {
			if names[n] {
				candidates = append(candidates, d)
				break
			}
		}
	}

	// Touched definitions that dropped their clause still need stale edges removed
	var cleared []int64
	cleared = append(cleared, touchedIDs...)
	for _, d := range candidates {
		if !touched[d.ID] {
			cleared = append(cleared, d.ID)
		}
	}
	for _, rel := range []string{storage.RelationshipExtends, storage.RelationshipImplements} {
		if _, err := annotations.ClearOutgoingOfType(cleared, rel); err != nil {
			return 0, err
		}
	}

	idPaths := make(map[int64]string, len(r.pathIDs))
	for p, id := range r.pathIDs {
		idPaths[id] = p
	}

	edges := 0
	var marked []int64
	for _, d := range candidates {
		scopes, err := heritageScopes(tx, r, d.FileID, idPaths[d.FileID])
		if err != nil {
			return 0, err
		}
		link := func(name, rel string) error {
			target, err := resolveHeritage(defs, name, scopes)
			if err != nil || target == nil || target.ID == d.ID {
				return err
			}
			edges++
			return annotations.Upsert(&storage.RelationshipAnnotation{
				FromDefinitionID: d.ID,
				ToDefinitionID:   target.ID,
				RelationshipType: rel,
			})
		}
		if d.ExtendsName != "" {
			if err := link(d.ExtendsName, storage.RelationshipExtends); err != nil {
				return 0, err
			}
		}
		for _, name := range splitNames(d.ImplementsNames) {
			if err := link(name, storage.RelationshipImplements); err != nil {
				return 0, err
			}
		}
		marked = append(marked, d.ID)
	}

	if err := dirty.NewTracker(tx).MarkDirtyMany(dirty.LayerRelationships, marked, dirty.ReasonModified); err != nil {
		return 0, err
	}
	return edges, nil
}

func heritageNames(d storage.Definition) []string {
	var out []string
	if d.ExtendsName != "" {
		out = append(out, d.ExtendsName)
	}
	return append(out, splitNames(d.ImplementsNames)...)
}

func splitNames(csv string) []string {
	var out []string
	for _, n := range strings.Split(csv, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// heritageScopes lists where a heritage name is looked up, nearest first:
// the file (and its Go package), then the files it imports.
func heritageScopes(q sqlx.Ext, r *referenceResolver, fileID int64, filePath string) ([][]int64, error) {
	scopes := [][]int64{r.packageFiles(filePath, fileID)}

	imps, err := storage.NewImportRepository(q).GetByFile(fileID)
	if err != nil {
		return nil, err
	}
	var imported []int64
	for _, imp := range imps {
		imported = append(imported, r.targetFiles(filePath, parser.Import{
			ResolvedPath: imp.ResolvedPath,
			IsExternal:   imp.IsExternal,
		})...)
	}
	if len(imported) > 0 {
		scopes = append(scopes, imported)
	}
	return scopes, nil
}

// resolveHeritage finds name in the scopes in order, falling back to a unique
// class, interface or type of that name anywhere in the index. Qualified Go
// names (pkg.Type) are looked up by their last segment.
func resolveHeritage(defs *storage.DefinitionRepository, name string, scopes [][]int64) (*storage.Definition, error) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	for _, scope := range scopes {
		found, err := defs.FindByNameInFiles(name, scope)
		if err != nil {
			return nil, err
		}
		for i := range found {
			if heritageKinds[found[i].Kind] {
				return &found[i], nil
			}
		}
	}

	global, err := defs.FindByName(name)
	if err != nil {
		return nil, err
	}
	var match *storage.Definition
	for i := range global {
		if !heritageKinds[global[i].Kind] {
			continue
		}
		if match != nil {
			return nil, nil
		}
		match = &global[i]
	}
	return match, nil
}

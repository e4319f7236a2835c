package incremental

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	"squint/internal/cascade"
	"squint/internal/dirty"
	"squint/internal/parser"
	"squint/internal/storage"
)

// IndexUpdater applies one file's definition changes inside a transaction
type IndexUpdater struct {
	logger *slog.Logger
}

// NewIndexUpdater creates a new updater
func NewIndexUpdater(logger *slog.Logger) *IndexUpdater {
	return &IndexUpdater{logger: logger}
}

// fileOutcome is what applying one file did to its definitions
type fileOutcome struct {
	fileID  int64
	added   []int64
	updated []int64
	removed []int64
	// files holding symbols that pointed at removed definitions
	referencingFiles []int64
	// names of definitions touched in any way, for inheritance recompute
	names []string
}

// applyFileDelta dispatches on the change type
func (u *IndexUpdater) applyFileDelta(tx *sqlx.Tx, change ChangedFile, language string, pf *parser.ParsedFile) (*fileOutcome, error) {
	switch change.ChangeType {
	case ChangeDeleted:
		return u.deleteFileData(tx, change.Path)
	case ChangeAdded, ChangeModified:
		return u.upsertFileData(tx, change, language, pf)
	}
	return nil, fmt.Errorf("unknown change type %q for %s", change.ChangeType, change.Path)
}

// deleteFileData cascades a vanished file away, marking the modules that lose members
func (u *IndexUpdater) deleteFileData(tx *sqlx.Tx, path string) (*fileOutcome, error) {
	file, err := storage.NewFileRepository(tx).GetByPath(path)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return &fileOutcome{}, nil
	}
	out := &fileOutcome{fileID: file.ID}

	defs, err := storage.NewDefinitionRepository(tx).GetByFile(file.ID)
	if err != nil {
		return nil, err
	}
	var defIDs []int64
	for _, d := range defs {
		defIDs = append(defIDs, d.ID)
		out.names = append(out.names, d.Name)
	}
	if err := u.beforeRemoval(tx, defIDs, out); err != nil {
		return nil, err
	}
	if err := cascade.DeleteFile(tx, file.ID); err != nil {
		return nil, err
	}
	out.removed = defIDs
	return out, nil
}

// beforeRemoval records what removing defIDs affects while the rows still exist
func (u *IndexUpdater) beforeRemoval(tx *sqlx.Tx, defIDs []int64, out *fileOutcome) error {
	if len(defIDs) == 0 {
		return nil
	}
	tracker := dirty.NewTracker(tx)
	modules, err := storage.NewMemberRepository(tx).ModulesOf(defIDs)
	if err != nil {
		return err
	}
	if err := tracker.MarkDirtyMany(dirty.LayerModules, modules, dirty.ReasonParentDirty); err != nil {
		return err
	}
	refs, err := storage.NewSymbolRepository(tx).FilesReferencing(defIDs)
	if err != nil {
		return err
	}
	out.referencingFiles = append(out.referencingFiles, refs...)

	// Removed entities have nothing left to enrich
	if err := tracker.Unmark(dirty.LayerMetadata, defIDs); err != nil {
		return err
	}
	return tracker.Unmark(dirty.LayerRelationships, defIDs)
}

// upsertFileData creates or refreshes a file row and diffs its definitions
// by (name, kind). The content hash is left empty until references are in.
func (u *IndexUpdater) upsertFileData(tx *sqlx.Tx, change ChangedFile, language string, pf *parser.ParsedFile) (*fileOutcome, error) {
	files := storage.NewFileRepository(tx)
	defs := storage.NewDefinitionRepository(tx)
	tracker := dirty.NewTracker(tx)

	record := &storage.File{
		Path:       change.Path,
		Language:   language,
		SizeBytes:  change.Size,
		ModifiedAt: change.ModifiedAt,
	}
	existing, err := files.GetByPath(change.Path)
	if err != nil {
		return nil, err
	}
	var oldDefs []storage.Definition
	if existing == nil {
		if _, err := files.Insert(record); err != nil {
			return nil, err
		}
	} else {
		record.ID = existing.ID
		if err := files.UpdateContent(record); err != nil {
			return nil, err
		}
		if oldDefs, err = defs.GetByFile(existing.ID); err != nil {
			return nil, err
		}
	}
	out := &fileOutcome{fileID: record.ID}

	matched, removed, added := diffDefinitions(oldDefs, pf.Definitions)

	var removedIDs []int64
	for _, d := range removed {
		removedIDs = append(removedIDs, d.ID)
		out.names = append(out.names, d.Name)
	}
	if err := u.beforeRemoval(tx, removedIDs, out); err != nil {
		return nil, err
	}
	if _, err := cascade.DeleteDefinitions(tx, removedIDs); err != nil {
		return nil, err
	}
	out.removed = removedIDs

	for _, m := range matched {
		d := toStorageDefinition(record.ID, m.parsed)
		d.ID = m.stored.ID
		if err := defs.UpdateInPlace(&d); err != nil {
			return nil, err
		}
		out.updated = append(out.updated, d.ID)
		out.names = append(out.names, d.Name)
	}
	if len(out.updated) > 0 {
		// Enrichment of a changed body may no longer hold
		if _, err := storage.NewMetadataRepository(tx).Clear(out.updated); err != nil {
			return nil, err
		}
		if _, err := storage.NewAnnotationRepository(tx).ClearFor(out.updated); err != nil {
			return nil, err
		}
		if err := tracker.MarkDirtyMany(dirty.LayerMetadata, out.updated, dirty.ReasonModified); err != nil {
			return nil, err
		}
	}

	for _, p := range added {
		d := toStorageDefinition(record.ID, p)
		id, err := defs.Insert(&d)
		if err != nil {
			return nil, err
		}
		out.added = append(out.added, id)
		out.names = append(out.names, d.Name)
	}
	if err := tracker.MarkDirtyMany(dirty.LayerMetadata, out.added, dirty.ReasonAdded); err != nil {
		return nil, err
	}
	return out, nil
}

type definitionMatch struct {
	stored storage.Definition
	parsed parser.Definition
}

func definitionKey(name string, kind storage.DefinitionKind) string {
	return name + "\x00" + string(kind)
}

// diffDefinitions pairs stored and parsed definitions by (name, kind).
// Duplicates of one key pair up in source order.
func diffDefinitions(old []storage.Definition, parsed []parser.Definition) (matched []definitionMatch, removed []storage.Definition, added []parser.Definition) {
	byKey := make(map[string][]storage.Definition)
	for _, d := range old {
		k := definitionKey(d.Name, d.Kind)
		byKey[k] = append(byKey[k], d)
	}
	for _, p := range parsed {
		k := definitionKey(p.Name, p.Kind)
		if queue := byKey[k]; len(queue) > 0 {
			matched = append(matched, definitionMatch{stored: queue[0], parsed: p})
			byKey[k] = queue[1:]
			continue
		}
		added = append(added, p)
	}
	for _, d := range old {
		k := definitionKey(d.Name, d.Kind)
		for _, left := range byKey[k] {
			if left.ID == d.ID {
				removed = append(removed, d)
			}
		}
	}
	return matched, removed, added
}

func toStorageDefinition(fileID int64, p parser.Definition) storage.Definition {
	return storage.Definition{
		FileID:          fileID,
		Name:            p.Name,
		Kind:            p.Kind,
		IsExported:      p.IsExported,
		Line:            p.Line,
		Column:          p.Column,
		EndLine:         p.EndLine,
		EndColumn:       p.EndColumn,
		ExtendsName:     p.Extends,
		ImplementsNames: strings.Join(p.Implements, ","),
	}
}

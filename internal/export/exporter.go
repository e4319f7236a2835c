package export

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"squint/internal/flows"
	"squint/internal/interactions"
	"squint/internal/storage"
)

// CompressedExt marks export files written zstd-compressed
const CompressedExt = ".zst"

// Exporter reads the derived graph out of the store
type Exporter struct {
	logger *slog.Logger
}

// NewExporter creates a new exporter
func NewExporter(logger *slog.Logger) *Exporter {
	return &Exporter{logger: logger}
}

// Export builds the export document. Everything is ordered so that two
// exports of the same store are identical apart from the timestamp.
func (e *Exporter) Export(q sqlx.Ext, opts ExportOptions) (*GraphExport, error) {
	modules, err := storage.NewModuleRepository(q).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load modules: %w", err)
	}
	assignments, err := storage.NewMemberRepository(q).Assignments()
	if err != nil {
		return nil, err
	}
	members := make(map[int64]int)
	for _, moduleID := range assignments {
		members[moduleID]++
	}

	byID := make(map[int64]storage.Module, len(modules))
	out := &GraphExport{
		Metadata: ExportMetadata{
			Repo:      filepath.Base(opts.RepoRoot),
			Generated: time.Now().UTC().Format(time.RFC3339),
		},
		Modules:      []ExportModule{},
		Interactions: []ExportInteraction{},
		Flows:        []ExportFlow{},
		Features:     []ExportFeature{},
	}
	for _, m := range modules {
		byID[m.ID] = m
		if m.IsTest && !opts.IncludeTests {
			continue
		}
		out.Modules = append(out.Modules, ExportModule{
			Path:        m.FullPath,
			Description: m.Description,
			Members:     members[m.ID],
			IsTest:      m.IsTest,
		})
	}

	rows, err := storage.NewInteractionRepository(q).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}
	edges := make(map[int64]string, len(rows))
	for _, in := range rows {
		from, to := byID[in.FromModuleID], byID[in.ToModuleID]
		edges[in.ID] = from.FullPath + " -> " + to.FullPath
		if (from.IsTest || to.IsTest) && !opts.IncludeTests {
			continue
		}
		out.Interactions = append(out.Interactions, ExportInteraction{
			From:      from.FullPath,
			To:        to.FullPath,
			Direction: in.Direction,
			Pattern:   in.Pattern,
			Weight:    in.Weight,
			Symbols:   interactions.DecodeSymbols(in.Symbols),
			Semantic:  in.Semantic,
			Source:    in.Source,
		})
	}

	all, err := flows.Load(q)
	if err != nil {
		return nil, err
	}
	if err := e.addFlows(q, out, all, byID, edges, opts); err != nil {
		return nil, err
	}
	if err := e.addFeatures(q, out, all); err != nil {
		return nil, err
	}

	out.Metadata.ModuleCount = len(out.Modules)
	out.Metadata.InteractionCount = len(out.Interactions)
	out.Metadata.FlowCount = len(out.Flows)
	out.Metadata.FeatureCount = len(out.Features)
	e.logger.Debug("Graph exported",
		"modules", out.Metadata.ModuleCount,
		"interactions", out.Metadata.InteractionCount,
		"flows", out.Metadata.FlowCount,
		"features", out.Metadata.FeatureCount,
	)
	return out, nil
}

func (e *Exporter) addFlows(q sqlx.Ext, out *GraphExport, all []*flows.Flow, modules map[int64]storage.Module, edges map[int64]string, opts ExportOptions) error {
	var entryIDs []int64
	slugs := make(map[int64]string, len(all))
	for _, f := range all {
		slugs[f.ID] = f.Slug
		if f.EntryDefinitionID != nil {
			entryIDs = append(entryIDs, *f.EntryDefinitionID)
		}
	}
	defs, err := storage.NewDefinitionRepository(q).GetByIDs(entryIDs)
	if err != nil {
		return err
	}
	names := make(map[int64]string, len(defs))
	for _, d := range defs {
		names[d.ID] = d.Name
	}

	for _, f := range all {
		if f.Tier == storage.TierGap && !opts.IncludeGapFlows {
			continue
		}
		ef := ExportFlow{
			Slug:        f.Slug,
			Name:        f.Name,
			Tier:        TierName(f.Tier),
			Stakeholder: f.Stakeholder,
			Action:      f.ActionType,
			Entity:      f.TargetEntity,
			Description: f.Description,
		}
		if f.EntryModuleID != nil {
			ef.EntryModule = modules[*f.EntryModuleID].FullPath
		}
		if f.EntryDefinitionID != nil {
			ef.EntryPoint = names[*f.EntryDefinitionID]
		}
		for _, id := range f.InteractionIDs {
			if edge, ok := edges[id]; ok {
				ef.Steps = append(ef.Steps, edge)
			}
		}
		for _, id := range f.SubflowIDs {
			ef.Subflows = append(ef.Subflows, slugs[id])
		}
		out.Flows = append(out.Flows, ef)
	}
	return nil
}

func (e *Exporter) addFeatures(q sqlx.Ext, out *GraphExport, all []*flows.Flow) error {
	slugs := make(map[int64]string, len(all))
	for _, f := range all {
		slugs[f.ID] = f.Slug
	}
	repo := storage.NewFeatureRepository(q)
	features, err := repo.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load features: %w", err)
	}
	for _, f := range features {
		ids, err := repo.FlowIDs(f.ID)
		if err != nil {
			return err
		}
		ef := ExportFeature{Slug: f.Slug, Name: f.Name, Description: f.Description, Flows: []string{}}
		for _, id := range ids {
			ef.Flows = append(ef.Flows, slugs[id])
		}
		out.Features = append(out.Features, ef)
	}
	return nil
}

// Write encodes the export as YAML
func Write(w io.Writer, export *GraphExport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return enc.Close()
}

// WriteFile writes the export to path, zstd-compressed when path ends in .zst
func WriteFile(path string, export *GraphExport) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if !strings.HasSuffix(path, CompressedExt) {
		return Write(f, export)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if err := Write(zw, export); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ReadFile loads an export written by WriteFile
func ReadFile(path string) (*GraphExport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, CompressedExt) {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}
	var export GraphExport
	if err := yaml.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode export %s: %w", path, err)
	}
	return &export, nil
}

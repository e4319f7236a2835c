package flows

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	ckerrors "squint/internal/errors"
	"squint/internal/llm"
	"squint/internal/storage"
)

// Candidate is a definition that may start a flow
type Candidate struct {
	DefinitionID int64
	Name         string
	Kind         storage.DefinitionKind
	ModuleID     int64
	ModulePath   string
	FilePath     string
}

// FindCandidates returns the roots of the call graph: exported definitions
// that call something and are called by nothing, outside test modules.
// When inModules is non-nil only definitions of those modules are returned.
func FindCandidates(q sqlx.Ext, edges []storage.CallEdge, modules map[int64]storage.Module, inModules map[int64]bool) ([]Candidate, error) {
	called := make(map[int64]bool, len(edges))
	for _, e := range edges {
		called[e.CalleeID] = true
	}

	moduleOf := make(map[int64]int64)
	var ids []int64
	for _, e := range edges {
		if called[e.CallerID] || e.CallerModuleID == nil {
			continue
		}
		if _, dup := moduleOf[e.CallerID]; dup {
			continue
		}
		mod := *e.CallerModuleID
		if modules[mod].IsTest || (inModules != nil && !inModules[mod]) {
			continue
		}
		moduleOf[e.CallerID] = mod
		ids = append(ids, e.CallerID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	defs, err := storage.NewDefinitionRepository(q).GetByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate definitions: %w", err)
	}
	fileIDs := make([]int64, 0, len(defs))
	for _, d := range defs {
		fileIDs = append(fileIDs, d.FileID)
	}
	files, err := storage.NewFileRepository(q).GetByIDs(fileIDs)
	if err != nil {
		return nil, err
	}
	paths := make(map[int64]string, len(files))
	for _, f := range files {
		paths[f.ID] = f.Path
	}

	var out []Candidate
	for _, d := range defs {
		if !d.IsExported {
			continue
		}
		mod := moduleOf[d.ID]
		out = append(out, Candidate{
			DefinitionID: d.ID,
			Name:         d.Name,
			Kind:         d.Kind,
			ModuleID:     mod,
			ModulePath:   modules[mod].FullPath,
			FilePath:     paths[d.FileID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DefinitionID < out[j].DefinitionID })
	return out, nil
}

// StructuralClassification accepts a candidate without consulting the LLM:
// the flow is named after the definition and targets its module.
func StructuralClassification(c Candidate) Classification {
	entity := c.ModulePath
	if i := strings.LastIndexByte(entity, '.'); i >= 0 {
		entity = entity[i+1:]
	}
	return EntryPoint{
		Definition:   c.DefinitionID,
		Name:         c.Name,
		TargetEntity: entity,
		Stakeholder:  "system",
	}
}

const classifySystemPrompt = `You decide which functions of a codebase are entry points of user or system flows.
For every candidate reply with one YAML record and nothing else:
- id: <candidate id>
  entry: true|false
  name: <short flow name>
  action: <verb such as create, read, update, delete, process>
  entity: <the domain entity acted on>
  stakeholder: <user, admin, system, ...>
  reason: <only when entry is false>`

type classificationRecord struct {
	ID          int64  `yaml:"id"`
	Entry       bool   `yaml:"entry"`
	Name        string `yaml:"name"`
	Action      string `yaml:"action"`
	Entity      string `yaml:"entity"`
	Stakeholder string `yaml:"stakeholder"`
	Reason      string `yaml:"reason"`
}

// Classifier decides which candidates are entry points, in sequential LLM
// batches with the structural classification as fallback
type Classifier struct {
	client    llm.Client
	batchSize int
	queue     *llm.BatchQueue[Candidate, Classification]
	logger    *slog.Logger
}

// NewClassifier creates a classifier; a nil client always falls back
func NewClassifier(client llm.Client, batchSize int, timeout time.Duration, logger *slog.Logger) *Classifier {
	return &Classifier{
		client:    client,
		batchSize: batchSize,
		queue:     llm.NewBatchQueue[Candidate, Classification](timeout, logger),
		logger:    logger,
	}
}

// Classify returns one classification per candidate, in candidate order
func (c *Classifier) Classify(ctx context.Context, candidates []Candidate) ([]Classification, llm.BatchStats, error) {
	return c.queue.Run(ctx, llm.Chunk(candidates, c.batchSize), c.classifyBatch, func(batch []Candidate) []Classification {
		out := make([]Classification, len(batch))
		for i, cand := range batch {
			out[i] = StructuralClassification(cand)
		}
		return out
	})
}

func (c *Classifier) classifyBatch(ctx context.Context, batch []Candidate) ([]Classification, error) {
	if c.client == nil {
		return nil, ckerrors.New(ckerrors.LLMUnavailable, "no LLM client configured", nil)
	}
	var b strings.Builder
	for _, cand := range batch {
		fmt.Fprintf(&b, "- id: %d\n  name: %s\n  kind: %s\n  module: %s\n  file: %s\n",
			cand.DefinitionID, cand.Name, cand.Kind, cand.ModulePath, cand.FilePath)
	}
	resp, err := c.client.Complete(ctx, classifySystemPrompt, b.String(), llm.DefaultOptions())
	if err != nil {
		return nil, err
	}
	var records []classificationRecord
	if err := llm.DecodeRecords(resp, &records); err != nil {
		return nil, err
	}
	byID := make(map[int64]classificationRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	out := make([]Classification, 0, len(batch))
	for _, cand := range batch {
		r, ok := byID[cand.DefinitionID]
		if !ok {
			out = append(out, StructuralClassification(cand))
			continue
		}
		out = append(out, normalize(cand, r))
	}
	return out, nil
}

// normalize validates a record, defaulting what is missing
func normalize(cand Candidate, r classificationRecord) Classification {
	if !r.Entry {
		reason := strings.TrimSpace(r.Reason)
		if reason == "" {
			reason = "not an entry point"
		}
		return NotEntryPoint{Definition: cand.DefinitionID, Reason: reason}
	}
	ep := EntryPoint{
		Definition:   cand.DefinitionID,
		Name:         strings.TrimSpace(r.Name),
		ActionType:   strings.ToLower(strings.TrimSpace(r.Action)),
		TargetEntity: strings.ToLower(strings.TrimSpace(r.Entity)),
		Stakeholder:  strings.ToLower(strings.TrimSpace(r.Stakeholder)),
	}
	if ep.Name == "" {
		ep.Name = cand.Name
	}
	if ep.Stakeholder == "" {
		ep.Stakeholder = "system"
	}
	return ep
}

package interactions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	ckerrors "squint/internal/errors"
	"squint/internal/llm"
	"squint/internal/storage"
)

const describeSystemPrompt = `You describe how one module of a codebase uses another.
For each interaction you are given the calling module, the called module and the called symbols.
Reply with a YAML list only, one record per interaction:
- id: <interaction id>
  semantic: <one sentence, present tense>`

// subject is one interaction to describe
type subject struct {
	ID      int64
	From    string
	To      string
	Pattern string
	Symbols []string
}

type description struct {
	ID       int64  `yaml:"id"`
	Semantic string `yaml:"semantic"`
}

// Describer writes semantic descriptions for interactions that lack one
type Describer struct {
	client    llm.Client
	batchSize int
	queue     *llm.BatchQueue[subject, description]
	logger    *slog.Logger
}

// NewDescriber creates a describer. A nil client describes everything with
// the deterministic fallback.
func NewDescriber(client llm.Client, batchSize int, timeout time.Duration, logger *slog.Logger) *Describer {
	return &Describer{
		client:    client,
		batchSize: batchSize,
		queue:     llm.NewBatchQueue[subject, description](timeout, logger),
		logger:    logger,
	}
}

// DescribeResult reports a describe run
type DescribeResult struct {
	Described int            `json:"described"`
	Stats     llm.BatchStats `json:"stats"`
}

// Describe fills in the semantic of the given interactions that have none
func (d *Describer) Describe(ctx context.Context, q sqlx.Ext, interactionIDs []int64) (*DescribeResult, error) {
	res := &DescribeResult{}
	repo := storage.NewInteractionRepository(q)
	rows, err := repo.GetByIDs(interactionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}
	modules, err := storage.NewModuleRepository(q).ByID()
	if err != nil {
		return nil, err
	}

	var subjects []subject
	for _, in := range rows {
		if in.Semantic != "" {
			continue
		}
		subjects = append(subjects, subject{
			ID:      in.ID,
			From:    modules[in.FromModuleID].FullPath,
			To:      modules[in.ToModuleID].FullPath,
			Pattern: in.Pattern,
			Symbols: DecodeSymbols(in.Symbols),
		})
	}
	if len(subjects) == 0 {
		return res, nil
	}

	descs, stats, err := d.queue.Run(ctx, llm.Chunk(subjects, d.batchSize), d.describeBatch, fallbackBatch)
	res.Stats = stats
	if err != nil {
		return res, err
	}
	for _, desc := range descs {
		if err := repo.SetSemantic(desc.ID, desc.Semantic); err != nil {
			return res, err
		}
		res.Described++
	}
	d.logger.Info("Interactions described", "described", res.Described, "fallbacks", stats.Fallbacks)
	return res, nil
}

func (d *Describer) describeBatch(ctx context.Context, batch []subject) ([]description, error) {
	if d.client == nil {
		return nil, ckerrors.New(ckerrors.LLMUnavailable, "no LLM client configured", nil)
	}
	var b strings.Builder
	for _, s := range batch {
		fmt.Fprintf(&b, "- id: %d\n  from: %s\n  to: %s\n  pattern: %s\n  symbols: [%s]\n",
			s.ID, s.From, s.To, s.Pattern, strings.Join(s.Symbols, ", "))
	}
	resp, err := d.client.Complete(ctx, describeSystemPrompt, b.String(), llm.DefaultOptions())
	if err != nil {
		return nil, err
	}
	var records []description
	if err := llm.DecodeRecords(resp, &records); err != nil {
		return nil, err
	}

	// Unknown ids are ignored; missing or blank answers get the fallback
	got := make(map[int64]string, len(records))
	for _, r := range records {
		if text := strings.TrimSpace(r.Semantic); text != "" {
			got[r.ID] = text
		}
	}
	out := make([]description, 0, len(batch))
	for _, s := range batch {
		text, ok := got[s.ID]
		if !ok {
			text = fallbackSemantic(s)
		}
		out = append(out, description{ID: s.ID, Semantic: text})
	}
	return out, nil
}

func fallbackBatch(batch []subject) []description {
	out := make([]description, len(batch))
	for i, s := range batch {
		out[i] = description{ID: s.ID, Semantic: fallbackSemantic(s)}
	}
	return out
}

func fallbackSemantic(s subject) string {
	verb := "calls"
	if s.Pattern == storage.PatternInheritance {
		verb = "builds on types from"
	}
	text := fmt.Sprintf("%s %s %s", s.From, verb, s.To)
	if len(s.Symbols) > 0 {
		names := s.Symbols
		if len(names) > 3 {
			names = names[:3]
		}
		text += " (" + strings.Join(names, ", ") + ")"
	}
	return text
}

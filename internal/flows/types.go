// Package flows builds the flow layer: traced execution paths from entry
// points (tier 1), gap flows covering every interaction no traced flow
// reaches (tier 0), and journeys composed of tier-1 flows (tier 2).
//
// Flows reference each other only by id. A journey lists its subflow ids;
// it never holds the flows themselves.
package flows

import (
	"sort"
	"strconv"
	"strings"

	"squint/internal/config"
	"squint/internal/storage"
)

// Flow is a flow in memory. ID is zero until persisted.
type Flow struct {
	ID                int64
	Name              string
	Slug              string
	EntryModuleID     *int64
	EntryDefinitionID *int64
	EntryPath         string
	Stakeholder       string
	Description       string
	ActionType        string
	TargetEntity      string
	Tier              int

	InteractionIDs  []int64
	DefinitionSteps [][2]int64
	SubflowIDs      []int64
}

// HasSignature reports whether both action type and target entity are set
func (f *Flow) HasSignature() bool {
	return f.ActionType != "" && f.TargetEntity != ""
}

// interactionKey is the sorted, de-duplicated interaction set joined by commas
func (f *Flow) interactionKey() string {
	ids := uniqueSorted(f.InteractionIDs)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Classification is the verdict on one entry-point candidate: either an
// EntryPoint or a NotEntryPoint.
type Classification interface {
	DefinitionID() int64
	isClassification()
}

// EntryPoint is a candidate accepted as the start of a flow
type EntryPoint struct {
	Definition   int64
	Name         string
	ActionType   string
	TargetEntity string
	Stakeholder  string
}

// NotEntryPoint is a rejected candidate
type NotEntryPoint struct {
	Definition int64
	Reason     string
}

func (e EntryPoint) DefinitionID() int64    { return e.Definition }
func (EntryPoint) isClassification()        {}
func (n NotEntryPoint) DefinitionID() int64 { return n.Definition }
func (NotEntryPoint) isClassification()     {}

// Options tunes tracing, deduplication and journeys
type Options struct {
	MaxSteps         int
	OverlapThreshold float64
	JourneyMinFlows  int
	BatchSize        int
}

// DefaultOptions returns the default flow options
func DefaultOptions() Options {
	return Options{MaxSteps: 40, OverlapThreshold: 0.6, JourneyMinFlows: 2, BatchSize: 20}
}

// OptionsFromConfig reads the flows and llm config sections
func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	if cfg.Flows.MaxSteps > 0 {
		o.MaxSteps = cfg.Flows.MaxSteps
	}
	if cfg.Flows.OverlapThreshold > 0 {
		o.OverlapThreshold = cfg.Flows.OverlapThreshold
	}
	if cfg.Flows.JourneyMinFlows > 0 {
		o.JourneyMinFlows = cfg.Flows.JourneyMinFlows
	}
	if cfg.LLM.BatchSize > 0 {
		o.BatchSize = cfg.LLM.BatchSize
	}
	return o
}

func toRow(f *Flow) *storage.Flow {
	return &storage.Flow{
		ID:                 f.ID,
		Name:               f.Name,
		Slug:               f.Slug,
		EntryPointModuleID: f.EntryModuleID,
		EntryPointID:       f.EntryDefinitionID,
		EntryPath:          f.EntryPath,
		Stakeholder:        f.Stakeholder,
		Description:        f.Description,
		ActionType:         f.ActionType,
		TargetEntity:       f.TargetEntity,
		Tier:               f.Tier,
	}
}

func fromRow(r storage.Flow, steps storage.FlowSteps) *Flow {
	return &Flow{
		ID:                r.ID,
		Name:              r.Name,
		Slug:              r.Slug,
		EntryModuleID:     r.EntryPointModuleID,
		EntryDefinitionID: r.EntryPointID,
		EntryPath:         r.EntryPath,
		Stakeholder:       r.Stakeholder,
		Description:       r.Description,
		ActionType:        r.ActionType,
		TargetEntity:      r.TargetEntity,
		Tier:              r.Tier,
		InteractionIDs:    steps.InteractionIDs,
		DefinitionSteps:   steps.DefinitionSteps,
		SubflowIDs:        steps.SubflowIDs,
	}
}

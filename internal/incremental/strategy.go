package incremental

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"squint/internal/dirty"
	"squint/internal/storage"
)

// Strategy is how much re-enrichment a sync triggers
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyIncremental Strategy = "incremental"
	StrategyFull        Strategy = "full"
)

// ParseStrategy validates a strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyNone, StrategyIncremental, StrategyFull:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q (want none, incremental or full)", s)
}

// Thresholds are the change ratios above which a full rebuild is chosen
type Thresholds struct {
	DefsChangedRatio float64 `json:"defsChangedRatio"`
	ModuleRatio      float64 `json:"moduleRatio"`
	InteractionRatio float64 `json:"interactionRatio"`
}

// DefaultThresholds returns the stock thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		DefsChangedRatio: 0.40,
		ModuleRatio:      0.60,
		InteractionRatio: 0.70,
	}
}

// StrategyMetrics are the inputs of a strategy decision
type StrategyMetrics struct {
	ChangedDefinitions   int `json:"changedDefinitions"`
	TotalDefinitions     int `json:"totalDefinitions"`
	AffectedModules      int `json:"affectedModules"`
	TotalModules         int `json:"totalModules"`
	AffectedInteractions int `json:"affectedInteractions"`
	TotalInteractions    int `json:"totalInteractions"`
}

// StrategyDecision is the chosen strategy with its justification
type StrategyDecision struct {
	Strategy Strategy        `json:"strategy"`
	Reason   string          `json:"reason"`
	Metrics  StrategyMetrics `json:"metrics"`
}

func ratio(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// DecideStrategy applies the decision rules in order; the first match wins.
// It is pure and deterministic.
func DecideStrategy(m StrategyMetrics, t Thresholds) StrategyDecision {
	decide := func(s Strategy, reason string) StrategyDecision {
		return StrategyDecision{Strategy: s, Reason: reason, Metrics: m}
	}

	if m.ChangedDefinitions == 0 {
		return decide(StrategyNone, "No definition changes")
	}
	if m.TotalModules == 0 {
		return decide(StrategyFull, "No modules exist")
	}
	if r := ratio(m.ChangedDefinitions, m.TotalDefinitions); r > t.DefsChangedRatio {
		return decide(StrategyFull, fmt.Sprintf("%.0f%% of definitions changed (threshold %.0f%%)", r*100, t.DefsChangedRatio*100))
	}
	if r := ratio(m.AffectedModules, m.TotalModules); r > t.ModuleRatio {
		return decide(StrategyFull, fmt.Sprintf("%.0f%% of modules affected (threshold %.0f%%)", r*100, t.ModuleRatio*100))
	}
	if r := ratio(m.AffectedInteractions, m.TotalInteractions); r > t.InteractionRatio {
		return decide(StrategyFull, fmt.Sprintf("%.0f%% of interactions affected (threshold %.0f%%)", r*100, t.InteractionRatio*100))
	}
	return decide(StrategyIncremental, fmt.Sprintf("%d definitions changed across %d modules", m.ChangedDefinitions, m.AffectedModules))
}

// SelectStrategy gathers metrics from the store and the dirty ledger and
// decides. It only reads.
func SelectStrategy(q sqlx.Ext, tracker *dirty.Tracker, result *SyncResult, t Thresholds) (*StrategyDecision, error) {
	m := StrategyMetrics{ChangedDefinitions: result.ChangedDefinitions()}

	var err error
	if m.TotalDefinitions, err = storage.NewDefinitionRepository(q).Count(); err != nil {
		return nil, err
	}
	if m.TotalModules, err = storage.NewModuleRepository(q).Count(); err != nil {
		return nil, err
	}
	if m.TotalInteractions, err = storage.NewInteractionRepository(q).Count(); err != nil {
		return nil, err
	}
	if m.AffectedModules, err = tracker.Count(dirty.LayerModules); err != nil {
		return nil, err
	}
	if m.AffectedInteractions, err = tracker.Count(dirty.LayerInteractions); err != nil {
		return nil, err
	}

	decision := DecideStrategy(m, t)
	return &decision, nil
}

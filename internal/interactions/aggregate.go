// Package interactions derives module-to-module interactions from the
// definition-level call graph and keeps them in step with dirty modules.
package interactions

import (
	"encoding/json"
	"sort"

	"squint/internal/config"
	"squint/internal/storage"
)

// Options tunes pattern classification
type Options struct {
	// UtilityCallThreshold is the call count from which a pair may be utility
	UtilityCallThreshold int
	// UtilityMinCallers is the distinct caller count from which a pair may be utility
	UtilityMinCallers int
}

// DefaultOptions returns the default classification options
func DefaultOptions() Options {
	return Options{UtilityCallThreshold: 10, UtilityMinCallers: 3}
}

// OptionsFromConfig reads the interactions config section
func OptionsFromConfig(cfg config.InteractionsConfig) Options {
	o := DefaultOptions()
	if cfg.UtilityCallThreshold > 0 {
		o.UtilityCallThreshold = cfg.UtilityCallThreshold
	}
	if cfg.UtilityMinCallers > 0 {
		o.UtilityMinCallers = cfg.UtilityMinCallers
	}
	return o
}

// Pair is an ordered module pair
type Pair struct {
	From int64
	To   int64
}

// InheritancePairs maps extends/implements annotations onto the module pairs
// of their endpoints, counting edges per pair. Unassigned endpoints and self
// pairs are dropped.
func InheritancePairs(annotations []storage.RelationshipAnnotation, assignments map[int64]int64) map[Pair]int {
	out := make(map[Pair]int)
	for _, a := range annotations {
		if a.RelationshipType != storage.RelationshipExtends && a.RelationshipType != storage.RelationshipImplements {
			continue
		}
		from, ok1 := assignments[a.FromDefinitionID]
		to, ok2 := assignments[a.ToDefinitionID]
		if !ok1 || !ok2 || from == to {
			continue
		}
		out[Pair{from, to}]++
	}
	return out
}

type pairStats struct {
	calls    int
	callers  map[int64]bool
	symbols  map[string]bool
	hasClass bool
}

// Aggregate turns module call edges and inheritance pairs into interactions,
// one per ordered module pair, sorted by (from, to). Self pairs are skipped.
//
// Pattern precedence: test-internal when either side is a test module,
// inheritance when backed by extends/implements, utility when the pair is
// called often by several callers and never targets a class, else business.
// Direction is bi when the reverse pair is also present.
func Aggregate(edges []storage.ModuleEdge, modules map[int64]storage.Module, inheritance map[Pair]int, opts Options) []storage.Interaction {
	stats := make(map[Pair]*pairStats)
	get := func(p Pair) *pairStats {
		s, ok := stats[p]
		if !ok {
			s = &pairStats{callers: make(map[int64]bool), symbols: make(map[string]bool)}
			stats[p] = s
		}
		return s
	}

	for _, me := range edges {
		if me.FromModuleID == me.ToModuleID {
			continue
		}
		s := get(Pair{me.FromModuleID, me.ToModuleID})
		for _, e := range me.Edges {
			s.calls += e.Calls
			s.callers[e.CallerID] = true
			s.symbols[e.CalleeName] = true
			if e.CalleeKind == storage.KindClass {
				s.hasClass = true
			}
		}
	}
	for p := range inheritance {
		if p.From != p.To {
			get(p)
		}
	}

	pairs := make([]Pair, 0, len(stats))
	for p := range stats {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].From != pairs[j].From {
			return pairs[i].From < pairs[j].From
		}
		return pairs[i].To < pairs[j].To
	})

	out := make([]storage.Interaction, 0, len(pairs))
	for _, p := range pairs {
		s := stats[p]
		in := storage.Interaction{
			FromModuleID: p.From,
			ToModuleID:   p.To,
			Direction:    storage.DirectionUni,
			Weight:       s.calls + inheritance[p],
			Pattern:      classify(p, s, modules, inheritance, opts),
			Symbols:      encodeSymbols(s.symbols),
			Source:       storage.SourceAST,
			Confidence:   1.0,
		}
		if _, ok := stats[Pair{p.To, p.From}]; ok {
			in.Direction = storage.DirectionBi
		}
		out = append(out, in)
	}
	return out
}

func classify(p Pair, s *pairStats, modules map[int64]storage.Module, inheritance map[Pair]int, opts Options) string {
	switch {
	case modules[p.From].IsTest || modules[p.To].IsTest:
		return storage.PatternTestInternal
	case inheritance[p] > 0:
		return storage.PatternInheritance
	case s.calls >= opts.UtilityCallThreshold && len(s.callers) >= opts.UtilityMinCallers && !s.hasClass:
		return storage.PatternUtility
	default:
		return storage.PatternBusiness
	}
}

func encodeSymbols(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	data, err := json.Marshal(names)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeSymbols reads an interaction's symbol list
func DecodeSymbols(symbols string) []string {
	var names []string
	if err := json.Unmarshal([]byte(symbols), &names); err != nil {
		return nil
	}
	return names
}

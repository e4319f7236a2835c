package flows

import "sort"

// better reports whether flow a outranks flow b. The first differing
// criterion decides: a full (action, entity) signature, higher tier, more
// definition steps, fewer interactions, then earlier position.
func better(a, b *Flow, ai, bi int) bool {
	if a.HasSignature() != b.HasSignature() {
		return a.HasSignature()
	}
	if a.Tier != b.Tier {
		return a.Tier > b.Tier
	}
	if len(a.DefinitionSteps) != len(b.DefinitionSteps) {
		return len(a.DefinitionSteps) > len(b.DefinitionSteps)
	}
	na, nb := len(uniqueSorted(a.InteractionIDs)), len(uniqueSorted(b.InteractionIDs))
	if na != nb {
		return na < nb
	}
	return ai < bi
}

// rank returns flow indexes from best to worst
func rank(flows []*Flow) []int {
	order := make([]int, len(flows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return better(flows[order[x]], flows[order[y]], order[x], order[y])
	})
	return order
}

func survivors(flows []*Flow, keep []bool) []*Flow {
	out := make([]*Flow, 0, len(flows))
	for i, f := range flows {
		if keep[i] {
			out = append(out, f)
		}
	}
	return out
}

// DeduplicateByInteractionSet collapses flows with identical interaction
// sets to the best of them. Flows without interactions are kept as they are.
// Survivors keep their input order.
func DeduplicateByInteractionSet(flows []*Flow) []*Flow {
	keep := make([]bool, len(flows))
	seen := make(map[string]bool)
	for _, i := range rank(flows) {
		key := flows[i].interactionKey()
		if key == "" {
			keep[i] = true
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		keep[i] = true
	}
	return survivors(flows, keep)
}

// DeduplicateByInteractionOverlap drops a flow when it overlaps a better
// surviving flow by more than threshold, where overlap is |A∩B| / min(|A|,|B|).
// Flows with an empty interaction set are never dropped, and two flows that
// both carry a full signature which differs are never compared.
func DeduplicateByInteractionOverlap(flows []*Flow, threshold float64) []*Flow {
	keep := make([]bool, len(flows))
	sets := make([]map[int64]bool, len(flows))
	for i, f := range flows {
		sets[i] = make(map[int64]bool, len(f.InteractionIDs))
		for _, id := range f.InteractionIDs {
			sets[i][id] = true
		}
	}

	var kept []int
	for _, i := range rank(flows) {
		if len(sets[i]) == 0 {
			keep[i] = true
			continue
		}
		dropped := false
		for _, k := range kept {
			if distinctActions(flows[i], flows[k]) {
				continue
			}
			if overlapRatio(sets[i], sets[k]) > threshold {
				dropped = true
				break
			}
		}
		if !dropped {
			keep[i] = true
			kept = append(kept, i)
		}
	}
	return survivors(flows, keep)
}

func distinctActions(a, b *Flow) bool {
	return a.HasSignature() && b.HasSignature() &&
		(a.ActionType != b.ActionType || a.TargetEntity != b.TargetEntity)
}

func overlapRatio(a, b map[int64]bool) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	if len(small) == 0 {
		return 0
	}
	shared := 0
	for id := range small {
		if large[id] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

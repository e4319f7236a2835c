package flows

import (
	"fmt"
	"sort"
	"strings"

	"squint/internal/storage"
)

// maxGapTargets bounds how many target modules a gap flow's name lists
const maxGapTargets = 3

// CreateGapFlows covers every interaction not in covered. Uncovered
// interactions are grouped by source module, one tier-0 flow per group, named
// after the source and up to three targets. Afterwards covered plus the new
// flows' interactions is every interaction.
func CreateGapFlows(covered []int64, all []storage.Interaction, modules map[int64]storage.Module, slugs *SlugSet) []*Flow {
	done := make(map[int64]bool, len(covered))
	for _, id := range covered {
		done[id] = true
	}

	groups := make(map[int64][]storage.Interaction)
	var sources []int64
	for _, in := range all {
		if done[in.ID] {
			continue
		}
		if _, ok := groups[in.FromModuleID]; !ok {
			sources = append(sources, in.FromModuleID)
		}
		groups[in.FromModuleID] = append(groups[in.FromModuleID], in)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	var out []*Flow
	for _, src := range sources {
		group := groups[src]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })

		var targets []string
		seen := make(map[int64]bool)
		ids := make([]int64, 0, len(group))
		for _, in := range group {
			ids = append(ids, in.ID)
			if !seen[in.ToModuleID] && len(targets) < maxGapTargets {
				seen[in.ToModuleID] = true
				targets = append(targets, moduleLabel(modules, in.ToModuleID))
			}
		}

		from := moduleLabel(modules, src)
		name := fmt.Sprintf("%s to %s", from, strings.Join(targets, ", "))
		srcID := src
		out = append(out, &Flow{
			Name:           name,
			Slug:           slugs.Claim("internal " + name),
			EntryModuleID:  &srcID,
			EntryPath:      modules[src].FullPath,
			Description:    fmt.Sprintf("Interactions of %s not reached by any traced flow", from),
			Tier:           storage.TierGap,
			InteractionIDs: ids,
		})
	}
	return out
}

func moduleLabel(modules map[int64]storage.Module, id int64) string {
	if m, ok := modules[id]; ok && m.FullPath != "" {
		return m.FullPath
	}
	return fmt.Sprintf("module-%d", id)
}

package flows

import (
	"fmt"
	"sort"

	"squint/internal/storage"
)

// BuildJourneys groups persisted tier-1 flows sharing a (stakeholder, target
// entity) signature into tier-2 journeys. A group needs at least minFlows
// members. Journey steps are the subflow ids, in id order.
func BuildJourneys(flows []*Flow, minFlows int, slugs *SlugSet) []*Flow {
	if minFlows < 2 {
		minFlows = 2
	}
	type key struct{ stakeholder, entity string }
	groups := make(map[key][]int64)
	for _, f := range flows {
		if f.Tier != storage.TierTraced || f.ID == 0 || f.Stakeholder == "" || f.TargetEntity == "" {
			continue
		}
		k := key{f.Stakeholder, f.TargetEntity}
		groups[k] = append(groups[k], f.ID)
	}

	keys := make([]key, 0, len(groups))
	for k, ids := range groups {
		if len(ids) >= minFlows {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].stakeholder != keys[j].stakeholder {
			return keys[i].stakeholder < keys[j].stakeholder
		}
		return keys[i].entity < keys[j].entity
	})

	out := make([]*Flow, 0, len(keys))
	for _, k := range keys {
		ids := uniqueSorted(groups[k])
		name := fmt.Sprintf("%s %s journey", k.stakeholder, k.entity)
		out = append(out, &Flow{
			Name:         name,
			Slug:         slugs.Claim(name),
			Stakeholder:  k.stakeholder,
			TargetEntity: k.entity,
			Description:  fmt.Sprintf("%d flows of %s on %s", len(ids), k.stakeholder, k.entity),
			Tier:         storage.TierJourney,
			SubflowIDs:   ids,
		})
	}
	return out
}

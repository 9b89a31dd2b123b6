// Package registry resolves the daypart definitions visible to a store.
package registry

import (
	"sort"

	"daypartd/internal/model"
)

// EffectiveDefinitions merges the definition catalog down to the set a
// store actually sees. Global definitions form the base, concept-level
// definitions replace globals sharing the same name, and store-level
// definitions replace everything else with that name. The result is
// ordered by sort_order, ties broken by name, so output is stable.
func EffectiveDefinitions(storeID, conceptID string, defs []model.DaypartDefinition) []model.DaypartDefinition {
	byName := make(map[string]model.DaypartDefinition)

	for _, d := range defs {
		if d.Scope.Kind == model.ScopeGlobal {
			byName[d.Name] = d
		}
	}
	for _, d := range defs {
		if d.Scope.Kind == model.ScopeConcept && d.Scope.ConceptID == conceptID && conceptID != "" {
			byName[d.Name] = d
		}
	}
	for _, d := range defs {
		if d.Scope.Kind == model.ScopeStore && d.Scope.StoreID == storeID && storeID != "" {
			byName[d.Name] = d
		}
	}

	out := make([]model.DaypartDefinition, 0, len(byName))
	for _, d := range byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out
}

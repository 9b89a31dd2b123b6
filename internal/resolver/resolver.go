// Package resolver merges base schedules with placement overrides and
// answers which dayparts are active at a given instant.
package resolver

import (
	"context"
	"sort"
	"strings"
	"time"

	"daypartd/internal/model"
)

// Warning reports an override that could not be matched to any daypart
// definition. The override is dropped from the result; resolution
// itself still succeeds.
type Warning struct {
	OverrideID  string `json:"override_id"`
	PlacementID string `json:"placement_id"`
	Reason      string `json:"reason"`
}

type defIndex struct {
	byID   map[string]model.DaypartDefinition
	byName map[string]model.DaypartDefinition
}

func indexDefinitions(defs []model.DaypartDefinition) defIndex {
	idx := defIndex{
		byID:   make(map[string]model.DaypartDefinition, len(defs)),
		byName: make(map[string]model.DaypartDefinition, len(defs)),
	}
	for _, d := range defs {
		idx.byID[d.ID] = d
		idx.byName[strings.ToLower(d.Name)] = d
	}
	return idx
}

// resolveOverride matches an override to a definition, preferring the
// id reference and falling back to a case-insensitive name match for
// legacy rows that predate daypart ids.
func (idx defIndex) resolveOverride(o model.PlacementOverride) (model.DaypartDefinition, bool) {
	if o.DaypartID != "" {
		d, ok := idx.byID[o.DaypartID]
		return d, ok
	}
	if o.DaypartName != "" {
		d, ok := idx.byName[strings.ToLower(o.DaypartName)]
		return d, ok
	}
	return model.DaypartDefinition{}, false
}

// ResolveEffectiveSchedule produces the merged view for one placement:
// every resolvable base rule as a "base" row plus every resolvable
// override for the placement as an "override" row. Rows for the same
// daypart may coexist; precedence is applied by ActiveNow, not here.
// Unresolvable overrides are dropped and reported in the warning list.
func ResolveEffectiveSchedule(
	ctx context.Context,
	placementID string,
	defs []model.DaypartDefinition,
	baseRules []model.ScheduleRule,
	overrides []model.PlacementOverride,
) ([]model.EffectiveScheduleRow, []Warning, error) {
	idx := indexDefinitions(defs)

	var rows []model.EffectiveScheduleRow
	var warnings []Warning

	for _, r := range baseRules {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		d, ok := idx.byID[r.DaypartID]
		if !ok {
			continue
		}
		rows = append(rows, model.EffectiveScheduleRow{
			Source:       model.SourceBase,
			DaypartID:    d.ID,
			DaypartName:  d.Name,
			DisplayLabel: d.DisplayLabel,
			Color:        d.Color,
			SortOrder:    d.SortOrder,
			Window:       r.Window,
			ScheduleType: r.ScheduleType,
			ScheduleName: r.ScheduleName,
			EventName:    r.EventName,
		})
	}

	for _, o := range overrides {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if o.PlacementID != placementID {
			continue
		}
		d, ok := idx.resolveOverride(o)
		if !ok {
			warnings = append(warnings, Warning{
				OverrideID:  o.ID,
				PlacementID: o.PlacementID,
				Reason:      unresolvableReason(o),
			})
			continue
		}
		rows = append(rows, model.EffectiveScheduleRow{
			Source:       model.SourceOverride,
			PlacementID:  o.PlacementID,
			DaypartID:    d.ID,
			DaypartName:  d.Name,
			DisplayLabel: d.DisplayLabel,
			Color:        d.Color,
			SortOrder:    d.SortOrder,
			Window:       o.Window,
			ScheduleType: o.ScheduleType,
			ScheduleName: o.ScheduleName,
			EventName:    o.EventName,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SortOrder != rows[j].SortOrder {
			return rows[i].SortOrder < rows[j].SortOrder
		}
		if rows[i].DaypartName != rows[j].DaypartName {
			return rows[i].DaypartName < rows[j].DaypartName
		}
		return rows[i].Source == model.SourceBase && rows[j].Source == model.SourceOverride
	})

	return rows, warnings, nil
}

func unresolvableReason(o model.PlacementOverride) string {
	switch {
	case o.DaypartID != "":
		return "daypart_id matches no definition"
	case o.DaypartName != "":
		return "daypart_name matches no definition"
	default:
		return "override has neither daypart_id nor daypart_name"
	}
}

// ActiveNow computes which placements have which dayparts active at the
// given instant, applying override precedence: a placement with any
// override rows for a daypart ignores the base schedule for that
// daypart entirely, even when none of its override windows is currently
// open. Placements with no override for a daypart inherit the base
// rules. The result maps daypart id to the sorted placements where it
// is active; dayparts active nowhere are omitted.
func ActiveNow(
	ctx context.Context,
	defs []model.DaypartDefinition,
	baseRules []model.ScheduleRule,
	overrides []model.PlacementOverride,
	placements []string,
	instant time.Time,
) (map[string][]string, error) {
	idx := indexDefinitions(defs)

	// Dayparts whose base schedule is open right now.
	activeBase := make(map[string]bool)
	for _, r := range baseRules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := idx.byID[r.DaypartID]; !ok {
			continue
		}
		if r.Window.Contains(instant) {
			activeBase[r.DaypartID] = true
		}
	}

	// Per placement: which dayparts are overridden at all, and which
	// have an override window open right now. All override rows for a
	// (placement, daypart) pair are consulted; any open window counts.
	overridden := make(map[string]map[string]bool)
	activeOverride := make(map[string]map[string]bool)
	for _, o := range overrides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, ok := idx.resolveOverride(o)
		if !ok {
			continue
		}
		if overridden[o.PlacementID] == nil {
			overridden[o.PlacementID] = make(map[string]bool)
			activeOverride[o.PlacementID] = make(map[string]bool)
		}
		overridden[o.PlacementID][d.ID] = true
		if o.Window.Contains(instant) {
			activeOverride[o.PlacementID][d.ID] = true
		}
	}

	result := make(map[string][]string)
	for _, placement := range placements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, d := range defs {
			active := activeOverride[placement][d.ID] ||
				(!overridden[placement][d.ID] && activeBase[d.ID])
			if active {
				result[d.ID] = append(result[d.ID], placement)
			}
		}
	}

	for id := range result {
		sort.Strings(result[id])
	}
	return result, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"daypartd/internal/model"
	"daypartd/internal/timewindow"
)

// ListDefinitions returns the full definition catalog. Scope filtering
// happens in the registry, over a snapshot.
func (s *Store) ListDefinitions(ctx context.Context) ([]model.DaypartDefinition, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, name, display_label, color, sort_order, scope_kind, concept_id, store_id,
		       created_at, updated_at
		FROM daypart_definitions
		ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.DaypartDefinition
	for rows.Next() {
		var d model.DaypartDefinition
		var color, conceptID, storeID sql.NullString
		if err := rows.Scan(
			&d.ID, &d.Name, &d.DisplayLabel, &color, &d.SortOrder,
			&d.Scope.Kind, &conceptID, &storeID, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		d.Color = color.String
		d.Scope.ConceptID = conceptID.String
		d.Scope.StoreID = storeID.String
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// UpsertDefinition writes a definition row. The engine never calls
// this; it exists for the configuration screens and for seeding.
func (s *Store) UpsertDefinition(ctx context.Context, d *model.DaypartDefinition) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("definition requires an id")
	}
	now := time.Now()
	_, err := s.ExecContext(ctx, `
		INSERT INTO daypart_definitions (
			id, name, display_label, color, sort_order, scope_kind, concept_id, store_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			display_label = excluded.display_label,
			color = excluded.color,
			sort_order = excluded.sort_order,
			scope_kind = excluded.scope_kind,
			concept_id = excluded.concept_id,
			store_id = excluded.store_id,
			updated_at = excluded.updated_at`,
		d.ID, d.Name, d.DisplayLabel, d.Color, d.SortOrder,
		d.Scope.Kind, nullable(d.Scope.ConceptID), nullable(d.Scope.StoreID), now, now,
	)
	return err
}

// ListRules returns all store-wide base schedule rules.
func (s *Store) ListRules(ctx context.Context) ([]model.ScheduleRule, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, daypart_id, days_of_week, start_sec, end_sec,
		       schedule_type, schedule_name, event_name, created_at, updated_at
		FROM schedule_rules
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []model.ScheduleRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// GetRule returns one rule by id.
func (s *Store) GetRule(ctx context.Context, id string) (*model.ScheduleRule, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, daypart_id, days_of_week, start_sec, end_sec,
		       schedule_type, schedule_name, event_name, created_at, updated_at
		FROM schedule_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

// ListOverrides returns overrides, optionally filtered to a set of
// placements. An empty filter returns everything.
func (s *Store) ListOverrides(ctx context.Context, placementIDs []string) ([]model.PlacementOverride, error) {
	query := `
		SELECT id, placement_id, daypart_id, daypart_name, days_of_week, start_sec, end_sec,
		       schedule_type, schedule_name, event_name, created_at, updated_at
		FROM placement_overrides`
	var args []interface{}
	if len(placementIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(placementIDs)), ",")
		query += ` WHERE placement_id IN (` + placeholders + `)`
		for _, id := range placementIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY placement_id, created_at, id`

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var overrides []model.PlacementOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, *o)
	}
	return overrides, rows.Err()
}

// GetOverride returns one override by id.
func (s *Store) GetOverride(ctx context.Context, id string) (*model.PlacementOverride, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, placement_id, daypart_id, daypart_name, days_of_week, start_sec, end_sec,
		       schedule_type, schedule_name, event_name, created_at, updated_at
		FROM placement_overrides WHERE id = ?`, id)
	o, err := scanOverride(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return o, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*model.ScheduleRule, error) {
	var r model.ScheduleRule
	var days string
	var start, end int
	var schedType, schedName, eventName sql.NullString
	if err := row.Scan(
		&r.ID, &r.DaypartID, &days, &start, &end,
		&schedType, &schedName, &eventName, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}

	dayList, err := timewindow.DecodeDays(days)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	w, err := timewindow.FromSeconds(dayList, start, end)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	r.Window = w
	r.ScheduleType = schedType.String
	r.ScheduleName = schedName.String
	r.EventName = eventName.String
	return &r, nil
}

func scanOverride(row rowScanner) (*model.PlacementOverride, error) {
	var o model.PlacementOverride
	var daypartID, daypartName sql.NullString
	var days string
	var start, end int
	var schedType, schedName, eventName sql.NullString
	if err := row.Scan(
		&o.ID, &o.PlacementID, &daypartID, &daypartName, &days, &start, &end,
		&schedType, &schedName, &eventName, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	dayList, err := timewindow.DecodeDays(days)
	if err != nil {
		return nil, fmt.Errorf("override %s: %w", o.ID, err)
	}
	w, err := timewindow.FromSeconds(dayList, start, end)
	if err != nil {
		return nil, fmt.Errorf("override %s: %w", o.ID, err)
	}
	o.Window = w
	o.DaypartID = daypartID.String
	o.DaypartName = daypartName.String
	o.ScheduleType = schedType.String
	o.ScheduleName = schedName.String
	o.EventName = eventName.String
	return &o, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Package model defines the scheduling entities shared across the engine.
package model

import (
	"fmt"
	"time"

	"daypartd/internal/timewindow"
)

// ScopeKind identifies the level a daypart definition applies to.
type ScopeKind string

const (
	ScopeGlobal  ScopeKind = "global"
	ScopeConcept ScopeKind = "concept"
	ScopeStore   ScopeKind = "store"
)

// Scope ties a definition to the whole fleet, one concept, or one store.
type Scope struct {
	Kind      ScopeKind `json:"kind"`
	ConceptID string    `json:"concept_id,omitempty"`
	StoreID   string    `json:"store_id,omitempty"`
}

func GlobalScope() Scope            { return Scope{Kind: ScopeGlobal} }
func ConceptScope(id string) Scope  { return Scope{Kind: ScopeConcept, ConceptID: id} }
func StoreScope(id string) Scope    { return Scope{Kind: ScopeStore, StoreID: id} }

// DaypartDefinition is a named recurring period of the day ("breakfast").
// Definitions are maintained by the configuration screens and are
// read-only to the engine.
type DaypartDefinition struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DisplayLabel string    `json:"display_label"`
	Color        string    `json:"color"`
	SortOrder    int       `json:"sort_order"`
	Scope        Scope     `json:"scope"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ScheduleRule is one store-wide base window for a daypart.
type ScheduleRule struct {
	ID           string            `json:"id"`
	DaypartID    string            `json:"daypart_id"`
	Window       timewindow.Window `json:"window"`
	ScheduleType string            `json:"schedule_type,omitempty"`
	ScheduleName string            `json:"schedule_name,omitempty"`
	EventName    string            `json:"event_name,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// PlacementOverride narrows (or disables) a daypart for one placement.
// DaypartName is a legacy fallback key used when DaypartID is empty.
type PlacementOverride struct {
	ID           string            `json:"id"`
	PlacementID  string            `json:"placement_id"`
	DaypartID    string            `json:"daypart_id,omitempty"`
	DaypartName  string            `json:"daypart_name,omitempty"`
	Window       timewindow.Window `json:"window"`
	ScheduleType string            `json:"schedule_type,omitempty"`
	ScheduleName string            `json:"schedule_name,omitempty"`
	EventName    string            `json:"event_name,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RowSource tells which layer an effective schedule row came from.
type RowSource string

const (
	SourceBase     RowSource = "base"
	SourceOverride RowSource = "override"
)

// EffectiveScheduleRow is one resolved (daypart, placement) entry.
// Derived on every resolution, never persisted.
type EffectiveScheduleRow struct {
	Source       RowSource         `json:"source"`
	PlacementID  string            `json:"placement_id,omitempty"`
	DaypartID    string            `json:"daypart_id"`
	DaypartName  string            `json:"daypart_name"`
	DisplayLabel string            `json:"display_label"`
	Color        string            `json:"color"`
	SortOrder    int               `json:"sort_order"`
	Window       timewindow.Window `json:"window"`
	ScheduleType string            `json:"schedule_type,omitempty"`
	ScheduleName string            `json:"schedule_name,omitempty"`
	EventName    string            `json:"event_name,omitempty"`
}

// AuditEntry records one applied staged change.
type AuditEntry struct {
	ID          int64     `json:"id"`
	JobID       string    `json:"job_id"`
	ChangeType  string    `json:"change_type"`
	TargetTable string    `json:"target_table"`
	TargetID    string    `json:"target_id"`
	AppliedAt   time.Time `json:"applied_at"`
}

// ChangeType is the kind of edit a staged change performs.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// TargetTable names the entity a staged change edits.
type TargetTable string

const (
	TargetSchedule TargetTable = "schedule"
	TargetOverride TargetTable = "override"
)

// RulePatch is a partial ScheduleRule payload. Nil fields are left
// untouched on update; create requires the window fields.
type RulePatch struct {
	DaypartID    *string `json:"daypart_id,omitempty"`
	DaysOfWeek   []int   `json:"days_of_week,omitempty"`
	StartTime    *string `json:"start_time,omitempty"`
	EndTime      *string `json:"end_time,omitempty"`
	ScheduleType *string `json:"schedule_type,omitempty"`
	ScheduleName *string `json:"schedule_name,omitempty"`
	EventName    *string `json:"event_name,omitempty"`
}

// OverridePatch is a partial PlacementOverride payload.
type OverridePatch struct {
	PlacementID  *string `json:"placement_id,omitempty"`
	DaypartID    *string `json:"daypart_id,omitempty"`
	DaypartName  *string `json:"daypart_name,omitempty"`
	DaysOfWeek   []int   `json:"days_of_week,omitempty"`
	StartTime    *string `json:"start_time,omitempty"`
	EndTime      *string `json:"end_time,omitempty"`
	ScheduleType *string `json:"schedule_type,omitempty"`
	ScheduleName *string `json:"schedule_name,omitempty"`
	EventName    *string `json:"event_name,omitempty"`
}

// StagedChange is one pending, uncommitted edit. The payload is a
// tagged union: Rule is set for schedule targets, Override for
// override targets, matching the target table.
type StagedChange struct {
	ID       string         `json:"id"`
	Type     ChangeType     `json:"change_type"`
	Table    TargetTable    `json:"target_table"`
	TargetID string         `json:"target_id,omitempty"`
	Rule     *RulePatch     `json:"rule,omitempty"`
	Override *OverridePatch `json:"override,omitempty"`
	Notes    string         `json:"notes,omitempty"`
	StagedAt time.Time      `json:"staged_at"`
}

// Validate checks structural legality before the change enters a ledger.
func (c StagedChange) Validate() error {
	switch c.Type {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
	default:
		return fmt.Errorf("unknown change type %q", c.Type)
	}

	switch c.Table {
	case TargetSchedule, TargetOverride:
	default:
		return fmt.Errorf("unknown target table %q", c.Table)
	}

	if c.Type == ChangeCreate {
		if c.TargetID != "" {
			return fmt.Errorf("create must not carry a target id")
		}
	} else if c.TargetID == "" {
		return fmt.Errorf("%s requires a target id", c.Type)
	}

	if c.Type == ChangeDelete {
		return nil
	}

	switch c.Table {
	case TargetSchedule:
		if c.Rule == nil {
			return fmt.Errorf("schedule change missing rule payload")
		}
		if c.Override != nil {
			return fmt.Errorf("schedule change carries override payload")
		}
	case TargetOverride:
		if c.Override == nil {
			return fmt.Errorf("override change missing override payload")
		}
		if c.Rule != nil {
			return fmt.Errorf("override change carries rule payload")
		}
	}
	return nil
}

// SameTarget reports whether two changes edit the same persisted row.
func (c StagedChange) SameTarget(other StagedChange) bool {
	return c.Table == other.Table && c.TargetID != "" && c.TargetID == other.TargetID
}

// JobStatus is the lifecycle state of a publish job.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobApplying JobStatus = "applying"
	JobApplied  JobStatus = "applied"
	JobFailed   JobStatus = "failed"
)

// PublishJob is a batch of staged changes committed at EffectiveAt.
// Status moves pending -> applying -> applied|failed exactly once; the
// applying step is claimed atomically so a job is never applied twice.
type PublishJob struct {
	ID          string         `json:"id"`
	Changes     []StagedChange `json:"changes"`
	EffectiveAt time.Time      `json:"effective_at"`
	Status      JobStatus      `json:"status"`
	Notes       string         `json:"notes,omitempty"`
	FailedIndex int            `json:"failed_index"` // -1 unless status is failed
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	AppliedAt   *time.Time     `json:"applied_at,omitempty"`
}

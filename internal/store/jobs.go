package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"daypartd/internal/model"
	"daypartd/internal/timewindow"
)

// InsertJob persists a new publish job.
func (s *Store) InsertJob(ctx context.Context, job *model.PublishJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job requires an id")
	}
	payload, err := json.Marshal(job.Changes)
	if err != nil {
		return fmt.Errorf("encode job changes: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO publish_jobs (id, changes, effective_at, status, notes, failed_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(payload), job.EffectiveAt.UTC(), string(job.Status), job.Notes, job.FailedIndex, job.CreatedAt.UTC(),
	)
	return err
}

// GetJob returns one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*model.PublishJob, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, changes, effective_at, status, notes, failed_index, error, created_at, applied_at
		FROM publish_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return job, err
}

// DueJobs returns pending jobs whose effective time has passed, oldest
// first.
func (s *Store) DueJobs(ctx context.Context, now time.Time) ([]model.PublishJob, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, changes, effective_at, status, notes, failed_index, error, created_at, applied_at
		FROM publish_jobs
		WHERE status = 'pending' AND effective_at <= ?
		ORDER BY effective_at, created_at`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.PublishJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// TryAcquireJob atomically claims a pending job for application. The
// conditional update is the compare-and-set that makes overlapping
// sweeps safe: only one caller observes rows affected = 1.
func (s *Store) TryAcquireJob(ctx context.Context, id string) (bool, error) {
	res, err := s.ExecContext(ctx,
		`UPDATE publish_jobs SET status = 'applying' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkJobApplied finalizes a claimed job as applied.
func (s *Store) MarkJobApplied(ctx context.Context, id string, at time.Time) error {
	res, err := s.ExecContext(ctx,
		`UPDATE publish_jobs SET status = 'applied', applied_at = ? WHERE id = ? AND status = 'applying'`,
		at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s was not in applying state", id)
	}
	return nil
}

// MarkJobFailed finalizes a claimed job as failed, recording which
// change index did not land.
func (s *Store) MarkJobFailed(ctx context.Context, id string, failedIndex int, reason string, at time.Time) error {
	_, err := s.ExecContext(ctx,
		`UPDATE publish_jobs SET status = 'failed', failed_index = ?, error = ?, applied_at = ? WHERE id = ? AND status = 'applying'`,
		failedIndex, reason, at.UTC(), id)
	return err
}

func scanJob(row rowScanner) (*model.PublishJob, error) {
	var job model.PublishJob
	var payload string
	var notes, errMsg sql.NullString
	var appliedAt sql.NullTime
	if err := row.Scan(
		&job.ID, &payload, &job.EffectiveAt, &job.Status, &notes,
		&job.FailedIndex, &errMsg, &job.CreatedAt, &appliedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &job.Changes); err != nil {
		return nil, fmt.Errorf("decode job %s changes: %w", job.ID, err)
	}
	job.Notes = notes.String
	job.Error = errMsg.String
	if appliedAt.Valid {
		t := appliedAt.Time
		job.AppliedAt = &t
	}
	return &job, nil
}

// ApplyChanges applies a job's changes in ledger order inside one
// transaction, appending an audit row per change. On failure the whole
// transaction rolls back and the index of the failing change is
// returned; no earlier change survives.
func (s *Store) ApplyChanges(ctx context.Context, jobID string, changes []model.StagedChange) (int, error) {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return -1, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i, change := range changes {
		targetID, err := s.applyChange(ctx, tx, change, now)
		if err != nil {
			return i, fmt.Errorf("change %d (%s %s): %w", i, change.Type, change.Table, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_log (job_id, change_type, target_table, target_id, applied_at)
			VALUES (?, ?, ?, ?, ?)`,
			jobID, string(change.Type), string(change.Table), targetID, now,
		); err != nil {
			return i, fmt.Errorf("write audit row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return -1, fmt.Errorf("commit: %w", err)
	}
	return -1, nil
}

// applyChange performs one staged change and returns the id of the row
// it touched.
func (s *Store) applyChange(ctx context.Context, tx *sql.Tx, change model.StagedChange, now time.Time) (string, error) {
	if err := change.Validate(); err != nil {
		return "", err
	}

	switch change.Table {
	case model.TargetSchedule:
		switch change.Type {
		case model.ChangeCreate:
			return s.createRule(ctx, tx, change.Rule, now)
		case model.ChangeUpdate:
			return change.TargetID, s.updateRule(ctx, tx, change.TargetID, change.Rule, now)
		case model.ChangeDelete:
			return change.TargetID, deleteRow(ctx, tx, "schedule_rules", change.TargetID)
		}
	case model.TargetOverride:
		switch change.Type {
		case model.ChangeCreate:
			return s.createOverride(ctx, tx, change.Override, now)
		case model.ChangeUpdate:
			return change.TargetID, s.updateOverride(ctx, tx, change.TargetID, change.Override, now)
		case model.ChangeDelete:
			return change.TargetID, deleteRow(ctx, tx, "placement_overrides", change.TargetID)
		}
	}
	return "", fmt.Errorf("unsupported change %s/%s", change.Type, change.Table)
}

func (s *Store) createRule(ctx context.Context, tx *sql.Tx, patch *model.RulePatch, now time.Time) (string, error) {
	if patch.DaypartID == nil || *patch.DaypartID == "" {
		return "", fmt.Errorf("create rule requires daypart_id")
	}
	if patch.StartTime == nil || patch.EndTime == nil || len(patch.DaysOfWeek) == 0 {
		return "", fmt.Errorf("create rule requires days_of_week, start_time and end_time")
	}
	w, err := timewindow.New(patch.DaysOfWeek, *patch.StartTime, *patch.EndTime)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO schedule_rules (id, daypart_id, days_of_week, start_sec, end_sec,
			schedule_type, schedule_name, event_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, *patch.DaypartID, timewindow.EncodeDays(w.Days), w.Start, w.End,
		strOrEmpty(patch.ScheduleType), strOrEmpty(patch.ScheduleName), strOrEmpty(patch.EventName),
		now, now,
	)
	return id, err
}

func (s *Store) updateRule(ctx context.Context, tx *sql.Tx, id string, patch *model.RulePatch, now time.Time) error {
	row := tx.QueryRowContext(ctx, `
		SELECT id, daypart_id, days_of_week, start_sec, end_sec,
		       schedule_type, schedule_name, event_name, created_at, updated_at
		FROM schedule_rules WHERE id = ?`, id)
	current, err := scanRule(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("rule %s: %w", id, ErrStaleTarget)
	}
	if err != nil {
		return err
	}

	if patch.DaypartID != nil {
		current.DaypartID = *patch.DaypartID
	}
	days := current.Window.Days
	if patch.DaysOfWeek != nil {
		days = patch.DaysOfWeek
	}
	start := current.Window.StartTime()
	if patch.StartTime != nil {
		start = *patch.StartTime
	}
	end := current.Window.EndTime()
	if patch.EndTime != nil {
		end = *patch.EndTime
	}
	w, err := timewindow.New(days, start, end)
	if err != nil {
		return err
	}
	if patch.ScheduleType != nil {
		current.ScheduleType = *patch.ScheduleType
	}
	if patch.ScheduleName != nil {
		current.ScheduleName = *patch.ScheduleName
	}
	if patch.EventName != nil {
		current.EventName = *patch.EventName
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE schedule_rules
		SET daypart_id = ?, days_of_week = ?, start_sec = ?, end_sec = ?,
		    schedule_type = ?, schedule_name = ?, event_name = ?, updated_at = ?
		WHERE id = ?`,
		current.DaypartID, timewindow.EncodeDays(w.Days), w.Start, w.End,
		current.ScheduleType, current.ScheduleName, current.EventName, now, id,
	)
	return err
}

func (s *Store) createOverride(ctx context.Context, tx *sql.Tx, patch *model.OverridePatch, now time.Time) (string, error) {
	if patch.PlacementID == nil || *patch.PlacementID == "" {
		return "", fmt.Errorf("create override requires placement_id")
	}
	if (patch.DaypartID == nil || *patch.DaypartID == "") && (patch.DaypartName == nil || *patch.DaypartName == "") {
		return "", fmt.Errorf("create override requires daypart_id or daypart_name")
	}
	if patch.StartTime == nil || patch.EndTime == nil || len(patch.DaysOfWeek) == 0 {
		return "", fmt.Errorf("create override requires days_of_week, start_time and end_time")
	}
	w, err := timewindow.New(patch.DaysOfWeek, *patch.StartTime, *patch.EndTime)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO placement_overrides (id, placement_id, daypart_id, daypart_name,
			days_of_week, start_sec, end_sec, schedule_type, schedule_name, event_name,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, *patch.PlacementID, strOrEmpty(patch.DaypartID), strOrEmpty(patch.DaypartName),
		timewindow.EncodeDays(w.Days), w.Start, w.End,
		strOrEmpty(patch.ScheduleType), strOrEmpty(patch.ScheduleName), strOrEmpty(patch.EventName),
		now, now,
	)
	return id, err
}

func (s *Store) updateOverride(ctx context.Context, tx *sql.Tx, id string, patch *model.OverridePatch, now time.Time) error {
	row := tx.QueryRowContext(ctx, `
		SELECT id, placement_id, daypart_id, daypart_name, days_of_week, start_sec, end_sec,
		       schedule_type, schedule_name, event_name, created_at, updated_at
		FROM placement_overrides WHERE id = ?`, id)
	current, err := scanOverride(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("override %s: %w", id, ErrStaleTarget)
	}
	if err != nil {
		return err
	}

	if patch.PlacementID != nil {
		current.PlacementID = *patch.PlacementID
	}
	if patch.DaypartID != nil {
		current.DaypartID = *patch.DaypartID
	}
	if patch.DaypartName != nil {
		current.DaypartName = *patch.DaypartName
	}
	days := current.Window.Days
	if patch.DaysOfWeek != nil {
		days = patch.DaysOfWeek
	}
	start := current.Window.StartTime()
	if patch.StartTime != nil {
		start = *patch.StartTime
	}
	end := current.Window.EndTime()
	if patch.EndTime != nil {
		end = *patch.EndTime
	}
	w, err := timewindow.New(days, start, end)
	if err != nil {
		return err
	}
	if patch.ScheduleType != nil {
		current.ScheduleType = *patch.ScheduleType
	}
	if patch.ScheduleName != nil {
		current.ScheduleName = *patch.ScheduleName
	}
	if patch.EventName != nil {
		current.EventName = *patch.EventName
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE placement_overrides
		SET placement_id = ?, daypart_id = ?, daypart_name = ?, days_of_week = ?,
		    start_sec = ?, end_sec = ?, schedule_type = ?, schedule_name = ?, event_name = ?,
		    updated_at = ?
		WHERE id = ?`,
		current.PlacementID, current.DaypartID, current.DaypartName, timewindow.EncodeDays(w.Days),
		w.Start, w.End, current.ScheduleType, current.ScheduleName, current.EventName, now, id,
	)
	return err
}

func deleteRow(ctx context.Context, tx *sql.Tx, table, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrStaleTarget)
	}
	return nil
}

// ListAuditEntries returns audit rows in the given range, oldest first.
func (s *Store) ListAuditEntries(ctx context.Context, from, to time.Time) ([]model.AuditEntry, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, job_id, change_type, target_table, target_id, applied_at
		FROM audit_log
		WHERE applied_at >= ? AND applied_at <= ?
		ORDER BY applied_at, id`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.ChangeType, &e.TargetTable, &e.TargetID, &e.AppliedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Package publish commits batches of staged changes, either immediately
// or at a future instant via the due-job sweep.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"daypartd/internal/metrics"
	"daypartd/internal/model"
)

// ErrNoChanges is returned when a publish is requested for an empty batch.
var ErrNoChanges = errors.New("publish: no staged changes")

// ApplyError reports which change in a job did not land. The job is
// marked failed as a whole; no later change in it is applied.
type ApplyError struct {
	JobID       string
	FailedIndex int
	Err         error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("publish job %s failed at change %d: %v", e.JobID, e.FailedIndex, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// JobStore persists publish jobs and applies their changes. ApplyChanges
// must run the whole batch in one transaction and return the index of
// the failing change (or -1). TryAcquireJob is the exclusive claim: it
// must atomically move the job from pending to applying and report
// whether this caller won, so a job can never be applied twice.
type JobStore interface {
	InsertJob(ctx context.Context, job *model.PublishJob) error
	DueJobs(ctx context.Context, now time.Time) ([]model.PublishJob, error)
	TryAcquireJob(ctx context.Context, id string) (bool, error)
	ApplyChanges(ctx context.Context, jobID string, changes []model.StagedChange) (int, error)
	MarkJobApplied(ctx context.Context, id string, at time.Time) error
	MarkJobFailed(ctx context.Context, id string, failedIndex int, reason string, at time.Time) error
}

// Coordinator publishes staged-change batches with at-most-once apply
// semantics.
type Coordinator struct {
	store   JobStore
	clock   func() time.Time
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithRateLimit paces job application during sweeps.
func WithRateLimit(jobsPerSecond float64, burst int) Option {
	return func(c *Coordinator) {
		if jobsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(jobsPerSecond), burst)
		}
	}
}

// NewCoordinator creates a coordinator over the given job store.
func NewCoordinator(store JobStore, logger *zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		clock:  time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish persists a job for the batch. A job due now (or in the past)
// is applied synchronously before returning; a future job stays pending
// for the sweep. The returned job reflects the final status; apply
// failures are also returned as an *ApplyError so the caller can see
// exactly which change did not land.
func (c *Coordinator) Publish(ctx context.Context, changes []model.StagedChange, effectiveAt time.Time, notes string) (*model.PublishJob, error) {
	if len(changes) == 0 {
		return nil, ErrNoChanges
	}
	for i, ch := range changes {
		if err := ch.Validate(); err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
	}

	now := c.clock()
	if effectiveAt.IsZero() {
		effectiveAt = now
	}

	job := &model.PublishJob{
		ID:          uuid.NewString(),
		Changes:     changes,
		EffectiveAt: effectiveAt,
		Status:      model.JobPending,
		Notes:       notes,
		FailedIndex: -1,
		CreatedAt:   now,
	}
	if err := c.store.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("insert publish job: %w", err)
	}

	if effectiveAt.After(now) {
		c.logger.Info().
			Str("job_id", job.ID).
			Time("effective_at", effectiveAt).
			Int("changes", len(changes)).
			Msg("publish deferred")
		metrics.IncPublishJob("deferred")
		return job, nil
	}

	if err := c.applyJob(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// applyJob claims and applies one job, updating its status. A lost
// claim is not an error: someone else already owns the job.
func (c *Coordinator) applyJob(ctx context.Context, job *model.PublishJob) error {
	acquired, err := c.store.TryAcquireJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("acquire job %s: %w", job.ID, err)
	}
	if !acquired {
		c.logger.Debug().Str("job_id", job.ID).Msg("job already claimed")
		return nil
	}
	job.Status = model.JobApplying

	failedIndex, applyErr := c.store.ApplyChanges(ctx, job.ID, job.Changes)
	now := c.clock()

	if applyErr != nil {
		job.Status = model.JobFailed
		job.FailedIndex = failedIndex
		job.Error = applyErr.Error()
		if err := c.store.MarkJobFailed(ctx, job.ID, failedIndex, applyErr.Error(), now); err != nil {
			c.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job failure")
		}
		c.logger.Error().
			Err(applyErr).
			Str("job_id", job.ID).
			Int("failed_index", failedIndex).
			Msg("publish job failed")
		metrics.IncPublishJob("failed")
		return &ApplyError{JobID: job.ID, FailedIndex: failedIndex, Err: applyErr}
	}

	if err := c.store.MarkJobApplied(ctx, job.ID, now); err != nil {
		return fmt.Errorf("mark job %s applied: %w", job.ID, err)
	}
	job.Status = model.JobApplied
	job.AppliedAt = &now
	c.logger.Info().
		Str("job_id", job.ID).
		Int("changes", len(job.Changes)).
		Msg("publish job applied")
	metrics.IncPublishJob("applied")
	return nil
}

// SweepResult summarizes one ApplyDueJobs pass.
type SweepResult struct {
	Due     int
	Applied int
	Failed  int
	Skipped int
}

// ApplyDueJobs applies every pending job whose effective time has
// passed. Jobs are applied independently: one job's failure does not
// block the others. Safe to call concurrently with itself or with an
// immediate publish of the same job; the per-job claim ensures each job
// is applied at most once. The loop stops between jobs when the context
// is cancelled, but never mid-job.
func (c *Coordinator) ApplyDueJobs(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	jobs, err := c.store.DueJobs(ctx, now)
	if err != nil {
		return res, fmt.Errorf("list due jobs: %w", err)
	}
	res.Due = len(jobs)

	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		job := &jobs[i]
		err := c.applyJob(ctx, job)
		switch {
		case err != nil:
			var applyErr *ApplyError
			if errors.As(err, &applyErr) {
				res.Failed++
				continue
			}
			// Store-level trouble (claim or bookkeeping): log and move on
			// so one broken job cannot stall the sweep.
			c.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweep could not process job")
			res.Failed++
		case job.Status == model.JobApplied:
			res.Applied++
		default:
			res.Skipped++
		}
	}

	return res, nil
}

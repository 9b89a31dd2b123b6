package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daypartd/internal/model"
)

// fakeJobStore implements JobStore in memory with the same claim
// semantics the sqlite store provides.
type fakeJobStore struct {
	mu         sync.Mutex
	jobs       map[string]*model.PublishJob
	applyCount map[string]int // job id -> times ApplyChanges ran
	failAtIdx  map[string]int // job id -> change index to fail at
	claimDenied bool
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:       make(map[string]*model.PublishJob),
		applyCount: make(map[string]int),
		failAtIdx:  make(map[string]int),
	}
}

func (f *fakeJobStore) InsertJob(_ context.Context, job *model.PublishJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobStore) DueJobs(_ context.Context, now time.Time) ([]model.PublishJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []model.PublishJob
	for _, j := range f.jobs {
		if j.Status == model.JobPending && !j.EffectiveAt.After(now) {
			due = append(due, *j)
		}
	}
	return due, nil
}

func (f *fakeJobStore) TryAcquireJob(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimDenied {
		return false, nil
	}
	j, ok := f.jobs[id]
	if !ok || j.Status != model.JobPending {
		return false, nil
	}
	j.Status = model.JobApplying
	return true, nil
}

func (f *fakeJobStore) ApplyChanges(_ context.Context, jobID string, changes []model.StagedChange) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCount[jobID]++
	if idx, ok := f.failAtIdx[jobID]; ok {
		return idx, fmt.Errorf("target gone: %w", errors.New("stale"))
	}
	return -1, nil
}

func (f *fakeJobStore) MarkJobApplied(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = model.JobApplied
	j.AppliedAt = &at
	return nil
}

func (f *fakeJobStore) MarkJobFailed(_ context.Context, id string, failedIndex int, reason string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = model.JobFailed
	j.FailedIndex = failedIndex
	j.Error = reason
	return nil
}

func (f *fakeJobStore) status(id string) model.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id].Status
}

func (f *fakeJobStore) applied(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyCount[id]
}

func strptr(s string) *string { return &s }

func testChanges(n int) []model.StagedChange {
	changes := make([]model.StagedChange, n)
	for i := range changes {
		changes[i] = model.StagedChange{
			Type:     model.ChangeUpdate,
			Table:    model.TargetSchedule,
			TargetID: fmt.Sprintf("rule-%d", i),
			Rule:     &model.RulePatch{StartTime: strptr("09:00")},
		}
	}
	return changes
}

func testCoordinator(store JobStore, now time.Time, opts ...Option) *Coordinator {
	logger := zerolog.Nop()
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return NewCoordinator(store, &logger, opts...)
}

func TestPublishImmediateApplies(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	c := testCoordinator(store, now)

	job, err := c.Publish(context.Background(), testChanges(2), now, "go live")
	require.NoError(t, err)
	assert.Equal(t, model.JobApplied, job.Status)
	require.NotNil(t, job.AppliedAt)
	assert.Equal(t, 1, store.applied(job.ID))
	assert.Equal(t, -1, job.FailedIndex)
}

func TestPublishPastEffectiveTimeAppliesNow(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	c := testCoordinator(store, now)

	job, err := c.Publish(context.Background(), testChanges(1), now.Add(-time.Hour), "")
	require.NoError(t, err)
	assert.Equal(t, model.JobApplied, job.Status)
}

func TestPublishDeferredStaysPending(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	c := testCoordinator(store, now)

	job, err := c.Publish(context.Background(), testChanges(1), now.Add(time.Hour), "later")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, 0, store.applied(job.ID))
}

func TestPublishRejectsEmptyAndInvalidBatches(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	c := testCoordinator(newFakeJobStore(), now)

	_, err := c.Publish(context.Background(), nil, now, "")
	assert.ErrorIs(t, err, ErrNoChanges)

	bad := []model.StagedChange{{Type: model.ChangeUpdate, Table: model.TargetSchedule}}
	_, err = c.Publish(context.Background(), bad, now, "")
	assert.Error(t, err)
}

func TestPublishLostClaimIsNotAnError(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	store.claimDenied = true
	c := testCoordinator(store, now)

	job, err := c.Publish(context.Background(), testChanges(1), now, "")
	require.NoError(t, err)
	assert.Equal(t, 0, store.applied(job.ID), "a job claimed elsewhere must not be applied here")
}

func TestApplyFailureReportsIndexAndAborts(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	c := testCoordinator(store, now)

	deferred, err := c.Publish(context.Background(), testChanges(3), now.Add(time.Hour), "")
	require.NoError(t, err)
	store.mu.Lock()
	store.failAtIdx[deferred.ID] = 1
	store.mu.Unlock()

	res, err := c.ApplyDueJobs(context.Background(), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, model.JobFailed, store.status(deferred.ID))

	store.mu.Lock()
	assert.Equal(t, 1, store.jobs[deferred.ID].FailedIndex)
	store.mu.Unlock()
}

func TestApplyDueJobsIdempotent(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	c := testCoordinator(store, now)

	job, err := c.Publish(context.Background(), testChanges(2), now.Add(time.Hour), "")
	require.NoError(t, err)

	later := now.Add(2 * time.Hour)
	res, err := c.ApplyDueJobs(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Due: 1, Applied: 1}, res)

	// Second sweep over the same instant: nothing left to do.
	res, err = c.ApplyDueJobs(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)

	assert.Equal(t, 1, store.applied(job.ID), "changes applied exactly once across sweeps")
}

func TestApplyDueJobsIndependentFailures(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	c := testCoordinator(store, now)

	good, err := c.Publish(context.Background(), testChanges(1), now.Add(time.Hour), "")
	require.NoError(t, err)
	bad, err := c.Publish(context.Background(), testChanges(2), now.Add(time.Hour), "")
	require.NoError(t, err)

	store.mu.Lock()
	store.failAtIdx[bad.ID] = 0
	store.mu.Unlock()

	res, err := c.ApplyDueJobs(context.Background(), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Due)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, model.JobApplied, store.status(good.ID), "one job's failure must not block another")
	assert.Equal(t, model.JobFailed, store.status(bad.ID))
}

func TestApplyDueJobsConcurrentSweeps(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	c := testCoordinator(store, now)

	var jobs []*model.PublishJob
	for i := 0; i < 5; i++ {
		j, err := c.Publish(context.Background(), testChanges(1), now.Add(time.Hour), "")
		require.NoError(t, err)
		jobs = append(jobs, j)
	}

	later := now.Add(2 * time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ApplyDueJobs(context.Background(), later)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, j := range jobs {
		assert.Equal(t, 1, store.applied(j.ID), "overlapping sweeps must not double-apply")
		assert.Equal(t, model.JobApplied, store.status(j.ID))
	}
}

func TestApplyDueJobsStopsBetweenJobsOnCancel(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	c := testCoordinator(store, now)

	_, err := c.Publish(context.Background(), testChanges(1), now.Add(time.Hour), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ApplyDueJobs(ctx, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

package publish

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daypartd/internal/model"
)

func TestSweeperAppliesDueJobs(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	c := testCoordinator(store, now)

	job, err := c.Publish(context.Background(), testChanges(1), now.Add(-time.Minute), "")
	require.NoError(t, err)
	require.Equal(t, model.JobApplied, job.Status)

	// A second deferred job the sweeper should pick up.
	deferred, err := c.Publish(context.Background(), testChanges(1), now.Add(time.Hour), "")
	require.NoError(t, err)

	logger := zerolog.Nop()
	s := NewSweeper(c, 5*time.Millisecond, &logger)
	s.clock = func() time.Time { return now.Add(2 * time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return store.status(deferred.ID) == model.JobApplied
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}

	assert.Equal(t, 1, store.applied(deferred.ID))
}

func TestSweeperStop(t *testing.T) {
	store := newFakeJobStore()
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	c := testCoordinator(store, now)

	logger := zerolog.Nop()
	s := NewSweeper(c, 5*time.Millisecond, &logger)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, s.IsRunning, time.Second, time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.False(t, s.IsRunning())
}

func TestSweeperRunNow(t *testing.T) {
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	c := testCoordinator(store, now)

	deferred, err := c.Publish(context.Background(), testChanges(1), now.Add(time.Hour), "")
	require.NoError(t, err)

	logger := zerolog.Nop()
	s := NewSweeper(c, time.Hour, &logger)
	s.clock = func() time.Time { return now.Add(2 * time.Hour) }

	s.RunNow(context.Background())
	assert.Equal(t, model.JobApplied, store.status(deferred.ID))
}

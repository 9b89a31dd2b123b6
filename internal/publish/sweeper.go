package publish

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"daypartd/internal/metrics"
)

// Sweeper runs the due-job sweep on a fixed interval.
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration
	clock       func() time.Time
	logger      *zerolog.Logger
	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
}

// NewSweeper creates a sweeper. A non-positive interval defaults to a
// minute, matching the console's refresh cadence.
func NewSweeper(coordinator *Coordinator, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		coordinator: coordinator,
		interval:    interval,
		clock:       time.Now,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the sweep loop and blocks until the context is done or
// Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("publish sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("publish sweeper stopped by context")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("publish sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
}

// RunNow forces an immediate sweep pass.
func (s *Sweeper) RunNow(ctx context.Context) {
	s.logger.Info().Msg("manual sweep triggered")
	s.sweep(ctx)
}

// IsRunning reports whether the loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	metrics.IncSweepRuns()

	res, err := s.coordinator.ApplyDueJobs(ctx, s.clock())
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep pass failed")
		return
	}
	if res.Due == 0 {
		return
	}

	s.logger.Info().
		Int("due", res.Due).
		Int("applied", res.Applied).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Dur("duration", time.Since(start)).
		Msg("due publish jobs processed")
}

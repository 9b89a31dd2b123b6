// Package engine is the read-side facade: it loads scheduling data from
// the store and runs registry and resolver logic over it.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"daypartd/internal/metrics"
	"daypartd/internal/model"
	"daypartd/internal/registry"
	"daypartd/internal/resolver"
	"daypartd/internal/store"
)

// Service answers schedule queries for the console. The clock is
// injectable so active-now behavior is testable at fixed instants.
type Service struct {
	store  *store.Store
	cache  *store.DefinitionCache
	clock  func() time.Time
	logger *zerolog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithCache attaches a definition cache. A nil cache is a no-op.
func WithCache(cache *store.DefinitionCache) Option {
	return func(s *Service) { s.cache = cache }
}

// New builds a Service over the given store.
func New(st *store.Store, logger *zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		clock:  time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EffectiveDefinitions returns the definitions visible to one store,
// after scope shadowing, cached per (store, concept) pair.
func (s *Service) EffectiveDefinitions(ctx context.Context, storeID, conceptID string) ([]model.DaypartDefinition, error) {
	if defs, ok := s.cache.Get(ctx, storeID, conceptID); ok {
		return defs, nil
	}

	all, err := s.store.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	defs := registry.EffectiveDefinitions(storeID, conceptID, all)
	s.cache.Set(ctx, storeID, conceptID, defs)
	return defs, nil
}

// InvalidateDefinitions drops cached definition sets. The publish path
// calls this after a job lands so reads see fresh data.
func (s *Service) InvalidateDefinitions(ctx context.Context) {
	s.cache.Invalidate(ctx)
}

// ResolveSchedule produces the merged base-plus-override view for one
// placement, with warnings for overrides that matched no definition.
func (s *Service) ResolveSchedule(ctx context.Context, storeID, conceptID, placementID string) ([]model.EffectiveScheduleRow, []resolver.Warning, error) {
	started := s.clock()

	defs, err := s.EffectiveDefinitions(ctx, storeID, conceptID)
	if err != nil {
		return nil, nil, err
	}
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load rules: %w", err)
	}
	overrides, err := s.store.ListOverrides(ctx, []string{placementID})
	if err != nil {
		return nil, nil, fmt.Errorf("load overrides: %w", err)
	}

	rows, warnings, err := resolver.ResolveEffectiveSchedule(ctx, placementID, defs, rules, overrides)
	if err != nil {
		return nil, nil, err
	}

	metrics.ObserveResolveDuration(time.Since(started).Seconds())
	if len(warnings) > 0 {
		metrics.AddUnresolvableOverrides(len(warnings))
		s.logger.Warn().
			Str("placement_id", placementID).
			Int("count", len(warnings)).
			Msg("overrides dropped during resolution")
	}
	return rows, warnings, nil
}

// ActiveNow reports which placements have which dayparts open at the
// current instant.
func (s *Service) ActiveNow(ctx context.Context, storeID, conceptID string, placements []string) (map[string][]string, error) {
	return s.ActiveAt(ctx, storeID, conceptID, placements, s.clock())
}

// ActiveAt is ActiveNow at an explicit instant.
func (s *Service) ActiveAt(ctx context.Context, storeID, conceptID string, placements []string, instant time.Time) (map[string][]string, error) {
	metrics.IncActiveNowRequests()

	defs, err := s.EffectiveDefinitions(ctx, storeID, conceptID)
	if err != nil {
		return nil, err
	}
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	overrides, err := s.store.ListOverrides(ctx, placements)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}

	return resolver.ActiveNow(ctx, defs, rules, overrides, placements, instant)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daypartd/internal/model"
)

func newTestCache(t *testing.T) (*DefinitionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zerolog.Nop()
	cache := NewDefinitionCache(rdb, time.Minute, &logger)
	require.NotNil(t, cache)
	return cache, mr
}

func TestDefinitionCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	defs := []model.DaypartDefinition{
		{ID: "d1", Name: "breakfast", DisplayLabel: "Breakfast", SortOrder: 1, Scope: model.GlobalScope()},
	}

	_, ok := cache.Get(ctx, "store-1", "cafe")
	assert.False(t, ok)

	cache.Set(ctx, "store-1", "cafe", defs)
	got, ok := cache.Get(ctx, "store-1", "cafe")
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "breakfast", got[0].Name)

	// Different store key is a miss.
	_, ok = cache.Get(ctx, "store-2", "cafe")
	assert.False(t, ok)
}

func TestDefinitionCacheTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "store-1", "", []model.DaypartDefinition{{ID: "d1", Name: "lunch"}})
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, "store-1", "")
	assert.False(t, ok, "entries expire after the TTL")
}

func TestDefinitionCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "store-1", "", []model.DaypartDefinition{{ID: "d1", Name: "lunch"}})
	cache.Set(ctx, "store-2", "", []model.DaypartDefinition{{ID: "d2", Name: "dinner"}})

	cache.Invalidate(ctx)

	_, ok := cache.Get(ctx, "store-1", "")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "store-2", "")
	assert.False(t, ok)
}

func TestDefinitionCacheDisabled(t *testing.T) {
	logger := zerolog.Nop()
	cache := NewDefinitionCache(nil, time.Minute, &logger)
	assert.Nil(t, cache)

	// Nil receiver is safe everywhere.
	_, ok := cache.Get(context.Background(), "s", "c")
	assert.False(t, ok)
	cache.Set(context.Background(), "s", "c", nil)
	cache.Invalidate(context.Background())
}

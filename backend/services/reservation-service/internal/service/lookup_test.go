package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/models"
	redisstore "chargeslot/backend/services/reservation-service/internal/redis"
)

type mapCache struct {
	mu      sync.Mutex
	items   map[string]models.Reservation
	getErr  error
	deleted []string
}

func newMapCache() *mapCache {
	return &mapCache{items: make(map[string]models.Reservation)}
}

func (c *mapCache) Get(_ context.Context, id string) (*models.Reservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	res, ok := c.items[id]
	if !ok {
		return nil, redisstore.ErrCacheMiss
	}
	return &res, nil
}

func (c *mapCache) Set(_ context.Context, res *models.Reservation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[res.ID] = *res
	return nil
}

func (c *mapCache) Delete(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.items, id)
	}
	c.deleted = append(c.deleted, ids...)
	return nil
}

func TestLookupReadsThroughCache(t *testing.T) {
	store := newMemoryStore()
	store.forceInsert(models.Reservation{ID: "r1", UserID: "u", Status: models.ReservationConfirmed})
	cache := newMapCache()
	lookup := NewReservationLookup(store, cache, zap.NewNop())
	ctx := context.Background()

	res, err := lookup.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "u", res.UserID)
	assert.Contains(t, cache.items, "r1")

	store.forceInsert(models.Reservation{ID: "r1", UserID: "u", Status: models.ReservationCancelled})
	cached, err := lookup.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationConfirmed, cached.Status)

	fresh, err := lookup.Fresh(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, fresh.Status)

	lookup.Invalidate(ctx, "r1")
	assert.Equal(t, []string{"r1"}, cache.deleted)
	res, err = lookup.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, res.Status)
}

func TestLookupFallsBackWhenCacheFails(t *testing.T) {
	store := newMemoryStore()
	store.forceInsert(models.Reservation{ID: "r1", UserID: "u"})
	cache := newMapCache()
	cache.getErr = errors.New("connection refused")
	lookup := NewReservationLookup(store, cache, zap.NewNop())

	res, err := lookup.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", res.ID)
}

func TestManagerInvalidatesCacheAfterCommit(t *testing.T) {
	f := newFixture(t, day(8, 0))
	cache := newMapCache()
	f.manager.deps.Lookup = NewReservationLookup(f.store, cache, zap.NewNop())
	ctx := context.Background()

	res := f.book(t, "u", "S1", "C1", nextDay(10, 0), nextDay(11, 0))
	_, err := f.manager.Get(ctx, res.ID, "u")
	require.NoError(t, err)
	require.Contains(t, cache.items, res.ID)

	_, err = f.manager.Cancel(ctx, CancelInput{ReservationID: res.ID, UserID: "u"})
	require.NoError(t, err)
	assert.NotContains(t, cache.items, res.ID)

	got, err := f.manager.Get(ctx, res.ID, "u")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, got.Status)
}

package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chargeslot/backend/services/reservation-service/internal/models"
)

// ErrCacheMiss is returned by Get when the key is absent.
var ErrCacheMiss = errors.New("redisstore: cache miss")

// ReservationCache keeps reservation rows in redis as JSON.
type ReservationCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewReservationCache returns redis-backed cache.
func NewReservationCache(client redis.Cmdable, ttl time.Duration) *ReservationCache {
	return &ReservationCache{client: client, ttl: ttl}
}

func (c *ReservationCache) key(id string) string {
	return fmt.Sprintf("reservations:%s", id)
}

// Get returns a cached reservation or ErrCacheMiss.
func (c *ReservationCache) Get(ctx context.Context, id string) (*models.Reservation, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var res models.Reservation
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Set caches a reservation.
func (c *ReservationCache) Set(ctx context.Context, res *models.Reservation) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(res.ID), data, c.ttl).Err()
}

// Delete drops cached reservations.
func (c *ReservationCache) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

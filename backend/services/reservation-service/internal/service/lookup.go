package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"chargeslot/backend/services/reservation-service/internal/models"
	redisstore "chargeslot/backend/services/reservation-service/internal/redis"
)

// ReservationReader loads a reservation by id.
type ReservationReader interface {
	GetByID(ctx context.Context, id string) (*models.Reservation, error)
}

// ReservationLookup reads reservations through an optional cache. Writers call
// Invalidate after commit; the next read repopulates.
type ReservationLookup struct {
	store  ReservationReader
	cache  ReservationCache
	logger *zap.Logger
}

// NewReservationLookup builds a lookup. cache may be nil.
func NewReservationLookup(store ReservationReader, cache ReservationCache, logger *zap.Logger) *ReservationLookup {
	return &ReservationLookup{store: store, cache: cache, logger: logger}
}

// Get returns the reservation, from cache when possible.
func (l *ReservationLookup) Get(ctx context.Context, id string) (*models.Reservation, error) {
	if l.cache != nil {
		res, err := l.cache.Get(ctx, id)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, redisstore.ErrCacheMiss) {
			l.logger.Warn("reservation cache read failed", zap.String("reservation_id", id), zap.Error(err))
		}
	}

	res, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, res); err != nil {
			l.logger.Warn("reservation cache write failed", zap.String("reservation_id", id), zap.Error(err))
		}
	}
	return res, nil
}

// Fresh bypasses the cache.
func (l *ReservationLookup) Fresh(ctx context.Context, id string) (*models.Reservation, error) {
	return l.store.GetByID(ctx, id)
}

// Invalidate drops cached copies.
func (l *ReservationLookup) Invalidate(ctx context.Context, ids ...string) {
	if l.cache == nil || len(ids) == 0 {
		return
	}
	if err := l.cache.Delete(ctx, ids...); err != nil {
		l.logger.Warn("reservation cache invalidation failed", zap.Strings("reservation_ids", ids), zap.Error(err))
	}
}

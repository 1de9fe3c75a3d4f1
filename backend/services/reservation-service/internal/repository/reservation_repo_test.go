package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargeslot/backend/services/reservation-service/internal/models"
)

func TestUpdateQueryWritesCurrencyAndMatchesIDColumn(t *testing.T) {
	res := &models.Reservation{
		ID:          "8c2a3b86-1f0e-4c43-9d65-8f0b9a3e2c11",
		ConnectorID: "C1",
		Status:      models.ReservationConfirmed,
		Fee:         12.5,
		Currency:    "EUR",
	}

	query, args, err := updateReservationQuery(res, models.ReservationConfirmed)
	require.NoError(t, err)

	assert.Contains(t, query, "currency = $")
	assert.Contains(t, query, "WHERE id = $")
	assert.NotContains(t, query, "::text")
	assert.Contains(t, args, "EUR")
	assert.Contains(t, args, res.ID)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	repo := NewReservationRepository(nil)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.Update(ctx, &models.Reservation{ID: "42"}, models.ReservationConfirmed)
	assert.ErrorIs(t, err, ErrNotFound)

	series, err := repo.ListByPattern(ctx, "weekly")
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestPgErrorClassification(t *testing.T) {
	invalid := fmt.Errorf("scan: %w", &pgconn.PgError{Code: "22P02"})
	overlap := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01"})

	assert.True(t, isInvalidInput(invalid))
	assert.False(t, isInvalidInput(overlap))
	assert.True(t, isOverlap(overlap))
	assert.False(t, isOverlap(invalid))
	assert.False(t, isInvalidInput(errors.New("connection reset")))
}

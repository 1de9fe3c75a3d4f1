package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"chargeslot/backend/services/reservation-service/internal/models"
)

var reservationColumns = []string{
	"id::text",
	"user_id",
	"station_id",
	"connector_id",
	"vehicle_id",
	"start_time",
	"end_time",
	"status",
	"fee",
	"currency",
	"grace_period_minutes",
	"booking_method",
	"pattern_id::text",
	"recurring",
	"checked_in_at",
	"penalty_fee",
	"session_id",
	"cancelled_at",
	"cancellation_reason",
	"refund_amount",
	"created_at",
	"updated_at",
}

// ReservationRepository persists reservations.
type ReservationRepository struct {
	db *sql.DB
}

// NewReservationRepository returns repository.
func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// Create inserts a reservation. The exclusion constraint rejects overlapping active windows with ErrOverlap.
func (r *ReservationRepository) Create(ctx context.Context, res *models.Reservation) error {
	exec := executor(ctx, r.db)

	recurring, err := encodeRecurring(res.Recurring)
	if err != nil {
		return fmt.Errorf("%w: Create - recurring: %v", ErrBuildQuery, err)
	}

	query, args, err := psql.Insert("reservations").
		Columns("id", "user_id", "station_id", "connector_id", "vehicle_id", "start_time", "end_time", "status",
			"fee", "currency", "grace_period_minutes", "booking_method", "pattern_id", "recurring").
		Values(res.ID, res.UserID, res.StationID, res.ConnectorID, nullString(res.VehicleID), res.StartTime, res.EndTime,
			string(res.Status), res.Fee, res.Currency, res.GracePeriodMinutes, res.BookingMethod,
			nullString(res.PatternID), recurring).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: Create - build insert: %v", ErrBuildQuery, err)
	}

	if err := exec.QueryRowContext(ctx, query, args...).Scan(&res.CreatedAt, &res.UpdatedAt); err != nil {
		if isOverlap(err) {
			return fmt.Errorf("%w: Create - connector %s: %v", ErrOverlap, res.ConnectorID, err)
		}
		return fmt.Errorf("%w: Create - execute insert: %v", ErrExecQuery, err)
	}
	return nil
}

// GetByID loads a reservation. Ids that are not UUIDs cannot exist.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	query, args, err := psql.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetByID - build select: %v", ErrBuildQuery, err)
	}

	res, err := scanReservation(executor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) || isInvalidInput(err) {
		return nil, fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: GetByID: %v", ErrScanRow, err)
	}
	return res, nil
}

// ListBlocking returns active reservations on connector that intersect window, ordered by start.
func (r *ReservationRepository) ListBlocking(ctx context.Context, connectorID string, window models.TimeWindow) ([]models.Reservation, error) {
	return r.list(ctx, "ListBlocking", psql.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"connector_id": connectorID}).
		Where(sq.Eq{"status": statusStrings(models.BlockingStatuses)}).
		Where(sq.Lt{"start_time": window.End}).
		Where(sq.Gt{"end_time": window.Start}).
		OrderBy("start_time"))
}

// ListByPattern returns every occurrence of a recurring series.
func (r *ReservationRepository) ListByPattern(ctx context.Context, patternID string) ([]models.Reservation, error) {
	if _, err := uuid.Parse(patternID); err != nil {
		return nil, nil
	}
	return r.list(ctx, "ListByPattern", psql.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"pattern_id": patternID}).
		OrderBy("start_time"))
}

// ListByUser returns a user's reservations, newest first, optionally filtered by status.
func (r *ReservationRepository) ListByUser(ctx context.Context, userID string, statuses []models.ReservationStatus, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	builder := psql.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("start_time DESC").
		Limit(uint64(limit))
	if len(statuses) > 0 {
		builder = builder.Where(sq.Eq{"status": statusStrings(statuses)})
	}
	return r.list(ctx, "ListByUser", builder)
}

// ListDueNoShows returns confirmed reservations whose no-show deadline passed.
func (r *ReservationRepository) ListDueNoShows(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, "ListDueNoShows", psql.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"status": string(models.ReservationConfirmed)}).
		Where(sq.Expr("GREATEST(end_time, start_time + grace_period_minutes * INTERVAL '1 minute') <= ?", now)).
		OrderBy("start_time").
		Limit(uint64(limit)))
}

// Update writes the mutable fields of res if its stored status still equals expected.
// A concurrent transition yields ErrStaleWrite; a window collision yields ErrOverlap.
func (r *ReservationRepository) Update(ctx context.Context, res *models.Reservation, expected models.ReservationStatus) error {
	if _, err := uuid.Parse(res.ID); err != nil {
		return fmt.Errorf("%w: reservation %s", ErrNotFound, res.ID)
	}
	query, args, err := updateReservationQuery(res, expected)
	if err != nil {
		return fmt.Errorf("%w: Update - build: %v", ErrBuildQuery, err)
	}

	err = executor(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&res.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: reservation %s is no longer %s", ErrStaleWrite, res.ID, expected)
	case isOverlap(err):
		return fmt.Errorf("%w: Update - connector %s: %v", ErrOverlap, res.ConnectorID, err)
	case isInvalidInput(err):
		return fmt.Errorf("%w: reservation %s", ErrNotFound, res.ID)
	default:
		return fmt.Errorf("%w: Update: %v", ErrExecQuery, err)
	}
}

func updateReservationQuery(res *models.Reservation, expected models.ReservationStatus) (string, []interface{}, error) {
	return psql.Update("reservations").
		Set("station_id", res.StationID).
		Set("connector_id", res.ConnectorID).
		Set("start_time", res.StartTime).
		Set("end_time", res.EndTime).
		Set("status", string(res.Status)).
		Set("fee", res.Fee).
		Set("currency", res.Currency).
		Set("grace_period_minutes", res.GracePeriodMinutes).
		Set("checked_in_at", nullTime(res.CheckedInAt)).
		Set("penalty_fee", res.PenaltyFee).
		Set("session_id", nullString(res.SessionID)).
		Set("cancelled_at", nullTime(res.CancelledAt)).
		Set("cancellation_reason", nullString(res.CancellationReason)).
		Set("refund_amount", res.RefundAmount).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": res.ID}).
		Where(sq.Eq{"status": string(expected)}).
		Suffix("RETURNING updated_at").
		ToSql()
}

func (r *ReservationRepository) list(ctx context.Context, op string, builder sq.SelectBuilder) ([]models.Reservation, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %s - build select: %v", ErrBuildQuery, op, err)
	}
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExecQuery, op, err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrScanRow, op, err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExecQuery, op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		res                                     models.Reservation
		status                                  string
		vehicleID, patternID, sessionID, reason sql.NullString
		recurring                               []byte
		checkedInAt, cancelledAt                sql.NullTime
	)
	err := row.Scan(
		&res.ID,
		&res.UserID,
		&res.StationID,
		&res.ConnectorID,
		&vehicleID,
		&res.StartTime,
		&res.EndTime,
		&status,
		&res.Fee,
		&res.Currency,
		&res.GracePeriodMinutes,
		&res.BookingMethod,
		&patternID,
		&recurring,
		&checkedInAt,
		&res.PenaltyFee,
		&sessionID,
		&cancelledAt,
		&reason,
		&res.RefundAmount,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	res.Status = models.ReservationStatus(status)
	res.VehicleID = vehicleID.String
	res.PatternID = patternID.String
	res.SessionID = sessionID.String
	res.CancellationReason = reason.String
	if checkedInAt.Valid {
		t := checkedInAt.Time
		res.CheckedInAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		res.CancelledAt = &t
	}
	if len(recurring) > 0 {
		var pattern models.RecurringPattern
		if err := json.Unmarshal(recurring, &pattern); err != nil {
			return nil, fmt.Errorf("decode recurring pattern: %w", err)
		}
		res.Recurring = &pattern
	}
	return &res, nil
}

func encodeRecurring(p *models.RecurringPattern) (any, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func statusStrings(statuses []models.ReservationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chargeslot/backend/services/reservation-service/internal/models"
)

// StationRepository persists the station catalog and connector state.
type StationRepository struct {
	db *sql.DB
}

// NewStationRepository returns repository.
func NewStationRepository(db *sql.DB) *StationRepository {
	return &StationRepository{db: db}
}

// ListStations loads every station with its hours and connectors.
func (r *StationRepository) ListStations(ctx context.Context) ([]models.Station, error) {
	exec := executor(ctx, r.db)

	query, args, err := psql.Select("id", "name", "address", "latitude", "longitude", "amenities",
		"rating", "timezone", "operator_id", "updated_at").
		From("stations").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: ListStations - stations: %v", ErrBuildQuery, err)
	}

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: ListStations - stations: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	var stations []models.Station
	index := make(map[string]int)
	for rows.Next() {
		var st models.Station
		var amenities []byte
		if err := rows.Scan(&st.ID, &st.Name, &st.Address, &st.Latitude, &st.Longitude, &amenities,
			&st.Rating, &st.Timezone, &st.OperatorID, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: ListStations - stations: %v", ErrScanRow, err)
		}
		if err := decodeList(amenities, &st.Amenities); err != nil {
			return nil, fmt.Errorf("%w: ListStations - amenities of %s: %v", ErrScanRow, st.ID, err)
		}
		index[st.ID] = len(stations)
		stations = append(stations, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ListStations - stations: %v", ErrExecQuery, err)
	}

	if err := r.attachHours(ctx, exec, stations, index); err != nil {
		return nil, err
	}
	if err := r.attachConnectors(ctx, exec, stations, index); err != nil {
		return nil, err
	}
	return stations, nil
}

func (r *StationRepository) attachHours(ctx context.Context, exec DBExecutor, stations []models.Station, index map[string]int) error {
	query, args, err := psql.Select("station_id", "weekday", "open_time", "close_time", "closed").
		From("station_operating_hours").
		OrderBy("station_id", "weekday").
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: ListStations - hours: %v", ErrBuildQuery, err)
	}
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: ListStations - hours: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		var stationID string
		var weekday int
		var h models.OperatingHours
		if err := rows.Scan(&stationID, &weekday, &h.Open, &h.Close, &h.Closed); err != nil {
			return fmt.Errorf("%w: ListStations - hours: %v", ErrScanRow, err)
		}
		h.Weekday = time.Weekday(weekday)
		if i, ok := index[stationID]; ok {
			stations[i].OperatingHours = append(stations[i].OperatingHours, h)
		}
	}
	return rows.Err()
}

func (r *StationRepository) attachConnectors(ctx context.Context, exec DBExecutor, stations []models.Station, index map[string]int) error {
	query, args, err := psql.Select("id", "station_id", "connector_types", "power_kw", "price_per_kwh",
		"price_per_minute", "status", "status_updated_at").
		From("connectors").
		OrderBy("station_id", "id").
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: ListStations - connectors: %v", ErrBuildQuery, err)
	}
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: ListStations - connectors: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Connector
		var types []byte
		var status string
		if err := rows.Scan(&c.ID, &c.StationID, &types, &c.PowerKW, &c.PricePerKWh, &c.PricePerMinute,
			&status, &c.StatusUpdatedAt); err != nil {
			return fmt.Errorf("%w: ListStations - connectors: %v", ErrScanRow, err)
		}
		if err := decodeList(types, &c.Types); err != nil {
			return fmt.Errorf("%w: ListStations - types of %s: %v", ErrScanRow, c.ID, err)
		}
		c.Status = models.ConnectorStatus(status)
		if i, ok := index[c.StationID]; ok {
			stations[i].Connectors = append(stations[i].Connectors, c)
		}
	}
	return rows.Err()
}

// UpsertStation writes a station, replaces its hours and upserts its connectors.
// Connector status is left untouched on update; it belongs to the state store.
func (r *StationRepository) UpsertStation(ctx context.Context, st models.Station) error {
	exec := executor(ctx, r.db)

	amenities, err := encodeList(st.Amenities)
	if err != nil {
		return fmt.Errorf("%w: UpsertStation - amenities: %v", ErrBuildQuery, err)
	}

	query, args, err := psql.Insert("stations").
		Columns("id", "name", "address", "latitude", "longitude", "amenities", "rating", "timezone", "operator_id", "updated_at").
		Values(st.ID, st.Name, st.Address, st.Latitude, st.Longitude, amenities, st.Rating, timezoneOrUTC(st.Timezone), st.OperatorID, sq.Expr("NOW()")).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			amenities = EXCLUDED.amenities,
			rating = EXCLUDED.rating,
			timezone = EXCLUDED.timezone,
			operator_id = EXCLUDED.operator_id,
			updated_at = NOW()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: UpsertStation - station: %v", ErrBuildQuery, err)
	}
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: UpsertStation - station: %v", ErrExecQuery, err)
	}

	query, args, err = psql.Delete("station_operating_hours").Where(sq.Eq{"station_id": st.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("%w: UpsertStation - clear hours: %v", ErrBuildQuery, err)
	}
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: UpsertStation - clear hours: %v", ErrExecQuery, err)
	}

	if len(st.OperatingHours) > 0 {
		insert := psql.Insert("station_operating_hours").Columns("station_id", "weekday", "open_time", "close_time", "closed")
		for _, h := range st.OperatingHours {
			insert = insert.Values(st.ID, int(h.Weekday), h.Open, h.Close, h.Closed)
		}
		query, args, err = insert.ToSql()
		if err != nil {
			return fmt.Errorf("%w: UpsertStation - hours: %v", ErrBuildQuery, err)
		}
		if _, err := exec.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: UpsertStation - hours: %v", ErrExecQuery, err)
		}
	}

	for _, c := range st.Connectors {
		types, err := encodeList(c.Types)
		if err != nil {
			return fmt.Errorf("%w: UpsertStation - connector types: %v", ErrBuildQuery, err)
		}
		status := c.Status
		if !status.Valid() {
			status = models.ConnectorAvailable
		}
		query, args, err := psql.Insert("connectors").
			Columns("id", "station_id", "connector_types", "power_kw", "price_per_kwh", "price_per_minute", "status", "status_updated_at").
			Values(c.ID, st.ID, types, c.PowerKW, c.PricePerKWh, c.PricePerMinute, string(status), sq.Expr("NOW()")).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				station_id = EXCLUDED.station_id,
				connector_types = EXCLUDED.connector_types,
				power_kw = EXCLUDED.power_kw,
				price_per_kwh = EXCLUDED.price_per_kwh,
				price_per_minute = EXCLUDED.price_per_minute`).
			ToSql()
		if err != nil {
			return fmt.Errorf("%w: UpsertStation - connector %s: %v", ErrBuildQuery, c.ID, err)
		}
		if _, err := exec.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: UpsertStation - connector %s: %v", ErrExecQuery, c.ID, err)
		}
	}
	return nil
}

// UpdateConnectorStatus stores a status reported at `at`. Older reports than the stored one
// are rejected with ErrStaleWrite.
func (r *StationRepository) UpdateConnectorStatus(ctx context.Context, connectorID string, status models.ConnectorStatus, at time.Time) error {
	exec := executor(ctx, r.db)

	query, args, err := psql.Update("connectors").
		Set("status", string(status)).
		Set("status_updated_at", at).
		Where(sq.Eq{"id": connectorID}).
		Where(sq.LtOrEq{"status_updated_at": at}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: UpdateConnectorStatus: %v", ErrBuildQuery, err)
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: UpdateConnectorStatus: %v", ErrExecQuery, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: UpdateConnectorStatus: %v", ErrExecQuery, err)
	}
	if affected == 0 {
		exists, err := r.connectorExists(ctx, exec, connectorID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: connector %s", ErrNotFound, connectorID)
		}
		return fmt.Errorf("%w: connector %s status older than stored", ErrStaleWrite, connectorID)
	}
	return nil
}

// UpdateConnectorPricing stores new tariff figures.
func (r *StationRepository) UpdateConnectorPricing(ctx context.Context, connectorID string, perKWh, perMinute float64) error {
	exec := executor(ctx, r.db)

	query, args, err := psql.Update("connectors").
		Set("price_per_kwh", perKWh).
		Set("price_per_minute", perMinute).
		Where(sq.Eq{"id": connectorID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: UpdateConnectorPricing: %v", ErrBuildQuery, err)
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: UpdateConnectorPricing: %v", ErrExecQuery, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: connector %s", ErrNotFound, connectorID)
	}
	return nil
}

func (r *StationRepository) connectorExists(ctx context.Context, exec DBExecutor, connectorID string) (bool, error) {
	query, args, err := psql.Select("1").From("connectors").Where(sq.Eq{"id": connectorID}).ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: connectorExists: %v", ErrBuildQuery, err)
	}
	var one int
	err = exec.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: connectorExists: %v", ErrExecQuery, err)
	}
	return true, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(raw []byte, out *[]string) error {
	if len(raw) == 0 {
		*out = nil
		return nil
	}
	return json.Unmarshal(raw, out)
}

func timezoneOrUTC(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jengzang/fleet-records-go/internal/models"
)

// TripRepository handles database operations for trips
type TripRepository struct {
	db *sql.DB
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `id, vehicle_id, vehicle_name, ignition_on_time, ignition_off_time,
	is_active, total_run_time, start_lat, start_lng, end_lat, end_lng,
	route_point_count, distance_traveled, gps_distance, distance_source,
	battery_used, start_odometer, end_odometer, start_battery_soc, end_battery_soc,
	consolidated_from, updated_at`

// Upsert inserts or updates a trip keyed by vehicle and ignition on time and
// returns the stored trip ID, which is the existing ID when the trip was
// already recorded
func (r *TripRepository) Upsert(ctx context.Context, t *models.Trip) (string, error) {
	var consolidated interface{}
	if len(t.ConsolidatedFrom) > 0 {
		data, err := json.Marshal(t.ConsolidatedFrom)
		if err != nil {
			return "", fmt.Errorf("failed to encode consolidated_from: %w", err)
		}
		consolidated = string(data)
	}

	var endLat, endLng interface{}
	if t.EndLocation != nil {
		endLat, endLng = t.EndLocation.Latitude, t.EndLocation.Longitude
	}

	updatedAt := t.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vehicle_id, ignition_on_time) DO UPDATE SET
			vehicle_name = excluded.vehicle_name,
			ignition_off_time = excluded.ignition_off_time,
			is_active = excluded.is_active,
			total_run_time = excluded.total_run_time,
			end_lat = excluded.end_lat,
			end_lng = excluded.end_lng,
			route_point_count = MAX(trips.route_point_count, excluded.route_point_count),
			distance_traveled = excluded.distance_traveled,
			gps_distance = excluded.gps_distance,
			distance_source = excluded.distance_source,
			battery_used = excluded.battery_used,
			start_odometer = COALESCE(trips.start_odometer, excluded.start_odometer),
			end_odometer = excluded.end_odometer,
			start_battery_soc = COALESCE(trips.start_battery_soc, excluded.start_battery_soc),
			end_battery_soc = excluded.end_battery_soc,
			consolidated_from = excluded.consolidated_from,
			updated_at = excluded.updated_at
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		t.ID, t.VehicleID, t.VehicleName, t.IgnitionOnTime.Unix(), unixOrNil(t.IgnitionOffTime),
		boolToInt(t.IsActive), t.TotalRunTime, t.StartLocation.Latitude, t.StartLocation.Longitude, endLat, endLng,
		t.RoutePointCount, t.DistanceTraveled, t.GPSDistance, t.DistanceSource,
		t.BatteryUsed, floatOrNil(t.StartOdometer), floatOrNil(t.EndOdometer),
		floatOrNil(t.StartBatterySoc), floatOrNil(t.EndBatterySoc),
		consolidated, updatedAt.Unix(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert trip: %w", err)
	}

	return id, nil
}

// GetByID retrieves a trip by ID, or nil when it does not exist
func (r *TripRepository) GetByID(ctx context.Context, id string) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = ?`

	t, err := scanTrip(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return t, nil
}

// FindActive returns the latest open trip of a vehicle, or nil
func (r *TripRepository) FindActive(ctx context.Context, vehicleID string) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + `
		FROM trips
		WHERE vehicle_id = ? AND is_active = 1
		ORDER BY ignition_on_time DESC
		LIMIT 1`

	t, err := scanTrip(r.db.QueryRowContext(ctx, query, vehicleID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active trip: %w", err)
	}
	return t, nil
}

// FindOverlapping returns the trips of a vehicle that overlap [from, to),
// ordered by ignition on time. Open trips overlap when they started before to.
func (r *TripRepository) FindOverlapping(ctx context.Context, vehicleID string, from, to time.Time) ([]models.Trip, error) {
	query := `SELECT ` + tripColumns + `
		FROM trips
		WHERE vehicle_id = ?
		  AND ignition_on_time < ?
		  AND (ignition_off_time IS NULL OR ignition_off_time >= ?)
		ORDER BY ignition_on_time`

	rows, err := r.db.QueryContext(ctx, query, vehicleID, to.Unix(), from.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

// LatestUpdate returns the newest updated_at of the vehicle's trips
// overlapping [from, to), or the zero time
func (r *TripRepository) LatestUpdate(ctx context.Context, vehicleID string, from, to time.Time) (time.Time, error) {
	var ts sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(updated_at)
		FROM trips
		WHERE vehicle_id = ?
		  AND ignition_on_time < ?
		  AND (ignition_off_time IS NULL OR ignition_off_time >= ?)`,
		vehicleID, to.Unix(), from.Unix(),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query trip updates: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return fromUnix(ts.Int64), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var (
		t                         models.Trip
		vehicleName, consolidated sql.NullString
		onTime, updatedAt         int64
		offTime                   sql.NullInt64
		active                    int
		endLat, endLng            sql.NullFloat64
		startOdo, endOdo          sql.NullFloat64
		startSoc, endSoc          sql.NullFloat64
	)

	err := row.Scan(
		&t.ID, &t.VehicleID, &vehicleName, &onTime, &offTime,
		&active, &t.TotalRunTime, &t.StartLocation.Latitude, &t.StartLocation.Longitude, &endLat, &endLng,
		&t.RoutePointCount, &t.DistanceTraveled, &t.GPSDistance, &t.DistanceSource,
		&t.BatteryUsed, &startOdo, &endOdo, &startSoc, &endSoc,
		&consolidated, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.VehicleName = vehicleName.String
	t.IgnitionOnTime = fromUnix(onTime)
	t.IgnitionOffTime = fromNullUnix(offTime)
	t.IsActive = active != 0
	if endLat.Valid && endLng.Valid {
		t.EndLocation = &models.Location{Latitude: endLat.Float64, Longitude: endLng.Float64}
	}
	t.StartOdometer = fromNullFloat(startOdo)
	t.EndOdometer = fromNullFloat(endOdo)
	t.StartBatterySoc = fromNullFloat(startSoc)
	t.EndBatterySoc = fromNullFloat(endSoc)
	if consolidated.Valid && consolidated.String != "" {
		if err := json.Unmarshal([]byte(consolidated.String), &t.ConsolidatedFrom); err != nil {
			return nil, fmt.Errorf("failed to decode consolidated_from: %w", err)
		}
	}
	t.UpdatedAt = fromUnix(updatedAt)

	return &t, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jengzang/fleet-records-go/internal/database"
	"github.com/jengzang/fleet-records-go/internal/models"
)

// RoutePointRepository stores route points. Points are append-only: a point
// already recorded for the same vehicle and timestamp is kept as is.
type RoutePointRepository struct {
	db *sql.DB
}

// NewRoutePointRepository creates a new route point repository
func NewRoutePointRepository(db *sql.DB) *RoutePointRepository {
	return &RoutePointRepository{db: db}
}

const routePointColumns = `vehicle_id, trip_id, ts, lat, lng, ignition, speed, odometer,
	battery_soc, battery_range, plug_connected, is_moving, address`

// Append stores route points in one transaction and returns how many were new
func (r *RoutePointRepository) Append(ctx context.Context, points []models.RoutePoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	inserted := 0
	err := database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO route_points (`+routePointColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			if p.Position == nil {
				continue
			}
			var tripID, address interface{}
			if p.TripID != "" {
				tripID = p.TripID
			}
			if p.Address != "" {
				address = p.Address
			}

			res, err := stmt.ExecContext(ctx,
				p.VehicleID, tripID, p.Timestamp.Unix(), p.Position.Latitude, p.Position.Longitude,
				p.Ignition.String(), floatOrNil(p.Speed), floatOrNil(p.Odometer),
				floatOrNil(p.BatterySoc), floatOrNil(p.BatteryRange), boolOrNil(p.PlugConnected),
				boolToInt(p.IsMoving), address,
			)
			if err != nil {
				return fmt.Errorf("failed to insert route point: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// FindRange returns a vehicle's route points with from <= ts < to in time order
func (r *RoutePointRepository) FindRange(ctx context.Context, vehicleID string, from, to time.Time) ([]models.RoutePoint, error) {
	query := `SELECT ` + routePointColumns + `
		FROM route_points
		WHERE vehicle_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts`
	return r.query(ctx, query, vehicleID, from.Unix(), to.Unix())
}

// FindByTrip returns the route points of one trip in time order
func (r *RoutePointRepository) FindByTrip(ctx context.Context, tripID string) ([]models.RoutePoint, error) {
	query := `SELECT ` + routePointColumns + `
		FROM route_points
		WHERE trip_id = ?
		ORDER BY ts`
	return r.query(ctx, query, tripID)
}

// FindByTrips returns route points grouped by trip ID
func (r *RoutePointRepository) FindByTrips(ctx context.Context, tripIDs []string) (map[string][]models.RoutePoint, error) {
	out := make(map[string][]models.RoutePoint, len(tripIDs))
	if len(tripIDs) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(tripIDs))
	for i, id := range tripIDs {
		args[i] = id
	}
	query := `SELECT ` + routePointColumns + `
		FROM route_points
		WHERE trip_id IN (` + placeholders(len(tripIDs)) + `)
		ORDER BY ts`

	points, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for _, p := range points {
		out[p.TripID] = append(out[p.TripID], p)
	}
	return out, nil
}

func (r *RoutePointRepository) query(ctx context.Context, query string, args ...interface{}) ([]models.RoutePoint, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query route points: %w", err)
	}
	defer rows.Close()

	var points []models.RoutePoint
	for rows.Next() {
		var (
			p                                  models.RoutePoint
			tripID, address                    sql.NullString
			ts                                 int64
			lat, lng                           float64
			ignition                           string
			speed, odometer, soc, batteryRange sql.NullFloat64
			plug                               sql.NullInt64
			moving                             int
		)
		if err := rows.Scan(
			&p.VehicleID, &tripID, &ts, &lat, &lng, &ignition, &speed, &odometer,
			&soc, &batteryRange, &plug, &moving, &address,
		); err != nil {
			return nil, fmt.Errorf("failed to scan route point: %w", err)
		}

		p.TripID = tripID.String
		p.Address = address.String
		p.Timestamp = fromUnix(ts)
		p.Position = &models.Location{Latitude: lat, Longitude: lng}
		p.Ignition = models.ParseIgnitionState(ignition)
		p.Speed = fromNullFloat(speed)
		p.Odometer = fromNullFloat(odometer)
		p.BatterySoc = fromNullFloat(soc)
		p.BatteryRange = fromNullFloat(batteryRange)
		p.PlugConnected = fromNullBool(plug)
		p.IsMoving = moving != 0

		points = append(points, p)
	}
	return points, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jengzang/fleet-records-go/internal/models"
)

// TelemetryRepository stores raw vendor samples
type TelemetryRepository struct {
	db *sql.DB
}

// NewTelemetryRepository creates a new telemetry repository
func NewTelemetryRepository(db *sql.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// Append stores a raw sample under its resolved timestamp
func (r *TelemetryRepository) Append(ctx context.Context, raw models.RawSample, ts time.Time) error {
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode raw sample: %w", err)
	}

	receivedAt := raw.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	query := `
		INSERT INTO raw_samples (vehicle_id, vehicle_name, ts, received_at, payload)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query,
		raw.VehicleID, raw.VehicleName, ts.Unix(), receivedAt.Unix(), string(payload),
	); err != nil {
		return fmt.Errorf("failed to insert raw sample: %w", err)
	}
	return nil
}

// FetchRange returns the raw samples of a vehicle with from <= ts < to in
// timestamp then arrival order
func (r *TelemetryRepository) FetchRange(ctx context.Context, vehicleID string, from, to time.Time) ([]models.RawSample, error) {
	query := `
		SELECT payload
		FROM raw_samples
		WHERE vehicle_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts, id
	`

	rows, err := r.db.QueryContext(ctx, query, vehicleID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query raw samples: %w", err)
	}
	defer rows.Close()

	var samples []models.RawSample
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan raw sample: %w", err)
		}
		var raw models.RawSample
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			return nil, fmt.Errorf("failed to decode raw sample: %w", err)
		}
		samples = append(samples, raw)
	}

	return samples, rows.Err()
}

// ListVehicles returns the distinct vehicle IDs with telemetry
func (r *TelemetryRepository) ListVehicles(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT vehicle_id FROM raw_samples ORDER BY vehicle_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Bounds returns the first and last sample timestamps of a vehicle. ok is
// false when the vehicle has no telemetry.
func (r *TelemetryRepository) Bounds(ctx context.Context, vehicleID string) (first, last time.Time, ok bool, err error) {
	var minTS, maxTS sql.NullInt64
	err = r.db.QueryRowContext(ctx,
		`SELECT MIN(ts), MAX(ts) FROM raw_samples WHERE vehicle_id = ?`, vehicleID,
	).Scan(&minTS, &maxTS)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("failed to query sample bounds: %w", err)
	}
	if !minTS.Valid || !maxTS.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return fromUnix(minTS.Int64), fromUnix(maxTS.Int64), true, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jengzang/fleet-records-go/internal/models"
)

// ProductivityRepository stores daily productivity periods
type ProductivityRepository struct {
	db *sql.DB
}

// NewProductivityRepository creates a new productivity repository
func NewProductivityRepository(db *sql.DB) *ProductivityRepository {
	return &ProductivityRepository{db: db}
}

const productivityColumns = `vehicle_id, date, total_on_job, total_off_job, total_idle,
	total_driving, productivity_ratio, efficiency, trip_count, job_sites,
	other_stops, client_hours, computed_at, source_updated_at`

// Upsert replaces the period of the same vehicle and date
func (r *ProductivityRepository) Upsert(ctx context.Context, p *models.ProductivityPeriod) error {
	jobSites, err := json.Marshal(p.JobSites)
	if err != nil {
		return fmt.Errorf("failed to encode job sites: %w", err)
	}
	otherStops, err := json.Marshal(p.OtherStops)
	if err != nil {
		return fmt.Errorf("failed to encode other stops: %w", err)
	}
	clientHours, err := json.Marshal(p.ClientHours)
	if err != nil {
		return fmt.Errorf("failed to encode client hours: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO productivity_periods (` + productivityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query,
		p.VehicleID, p.Date, p.TotalOnJobTime, p.TotalOffJobTime, p.TotalIdleTime,
		p.TotalDrivingTime, p.ProductivityRatio, p.Efficiency, p.TripCount, string(jobSites),
		string(otherStops), string(clientHours), p.ComputedAt.Unix(), p.SourceUpdatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("failed to upsert productivity period: %w", err)
	}
	return nil
}

// Get returns the stored period of a vehicle-day, or nil
func (r *ProductivityRepository) Get(ctx context.Context, vehicleID, date string) (*models.ProductivityPeriod, error) {
	query := `SELECT ` + productivityColumns + `
		FROM productivity_periods
		WHERE vehicle_id = ? AND date = ?`

	p, err := scanPeriod(r.db.QueryRowContext(ctx, query, vehicleID, date))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get productivity period: %w", err)
	}
	return p, nil
}

// ListRange returns the stored periods of a vehicle between two dates
// inclusive, ordered by date
func (r *ProductivityRepository) ListRange(ctx context.Context, vehicleID, startDate, endDate string) ([]models.ProductivityPeriod, error) {
	query := `SELECT ` + productivityColumns + `
		FROM productivity_periods
		WHERE vehicle_id = ? AND date >= ? AND date <= ?
		ORDER BY date`

	rows, err := r.db.QueryContext(ctx, query, vehicleID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query productivity periods: %w", err)
	}
	defer rows.Close()

	var periods []models.ProductivityPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan productivity period: %w", err)
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

func scanPeriod(row rowScanner) (*models.ProductivityPeriod, error) {
	var (
		p                                 models.ProductivityPeriod
		jobSites, otherStops, clientHours string
		computedAt, sourceUpdatedAt       int64
	)
	if err := row.Scan(
		&p.VehicleID, &p.Date, &p.TotalOnJobTime, &p.TotalOffJobTime, &p.TotalIdleTime,
		&p.TotalDrivingTime, &p.ProductivityRatio, &p.Efficiency, &p.TripCount, &jobSites,
		&otherStops, &clientHours, &computedAt, &sourceUpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(jobSites), &p.JobSites); err != nil {
		return nil, fmt.Errorf("failed to decode job sites: %w", err)
	}
	if err := json.Unmarshal([]byte(otherStops), &p.OtherStops); err != nil {
		return nil, fmt.Errorf("failed to decode other stops: %w", err)
	}
	if err := json.Unmarshal([]byte(clientHours), &p.ClientHours); err != nil {
		return nil, fmt.Errorf("failed to decode client hours: %w", err)
	}
	p.ComputedAt = fromUnix(computedAt)
	p.SourceUpdatedAt = fromUnix(sourceUpdatedAt)

	return &p, nil
}

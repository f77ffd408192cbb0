package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jengzang/fleet-records-go/internal/models"
)

// ClientLocationRepository reads the client gazetteer
type ClientLocationRepository struct {
	db *sql.DB
}

// NewClientLocationRepository creates a new client location repository
func NewClientLocationRepository(db *sql.DB) *ClientLocationRepository {
	return &ClientLocationRepository{db: db}
}

// ListActive returns the active client locations ordered by address
func (r *ClientLocationRepository) ListActive(ctx context.Context) ([]models.ClientLocation, error) {
	query := `
		SELECT address, client_name, lat, lng, radius_m, client_type, is_active
		FROM client_locations
		WHERE is_active = 1
		ORDER BY address
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query client locations: %w", err)
	}
	defer rows.Close()

	var locs []models.ClientLocation
	for rows.Next() {
		var (
			loc        models.ClientLocation
			clientType sql.NullString
			active     int
		)
		if err := rows.Scan(&loc.Address, &loc.ClientName, &loc.Latitude, &loc.Longitude,
			&loc.RadiusMeters, &clientType, &active); err != nil {
			return nil, fmt.Errorf("failed to scan client location: %w", err)
		}
		loc.ClientType = clientType.String
		loc.IsActive = active != 0
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

// Upsert inserts or replaces a client location keyed by address
func (r *ClientLocationRepository) Upsert(ctx context.Context, loc models.ClientLocation) error {
	query := `
		INSERT INTO client_locations (address, client_name, lat, lng, radius_m, client_type, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			client_name = excluded.client_name,
			lat = excluded.lat,
			lng = excluded.lng,
			radius_m = excluded.radius_m,
			client_type = excluded.client_type,
			is_active = excluded.is_active
	`

	if _, err := r.db.ExecContext(ctx, query,
		loc.Address, loc.ClientName, loc.Latitude, loc.Longitude,
		loc.RadiusMeters, loc.ClientType, boolToInt(loc.IsActive),
	); err != nil {
		return fmt.Errorf("failed to upsert client location: %w", err)
	}
	return nil
}

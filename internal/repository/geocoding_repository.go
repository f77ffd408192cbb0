package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GeocodeCacheRepository is the sqlite backed geocode cache used when Redis
// is disabled. It satisfies cache.Store.
type GeocodeCacheRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewGeocodeCacheRepository creates a new geocode cache repository
func NewGeocodeCacheRepository(db *sql.DB) *GeocodeCacheRepository {
	return &GeocodeCacheRepository{db: db, now: time.Now}
}

// Get returns the cached value, or nil when missing or expired
func (r *GeocodeCacheRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     string
		expiresAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM geocode_cache WHERE cache_key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read geocode cache: %w", err)
	}
	if expiresAt > 0 && r.now().Unix() >= expiresAt {
		return nil, nil
	}
	return []byte(value), nil
}

// Set stores a value. A ttl of zero never expires.
func (r *GeocodeCacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = r.now().Add(ttl).Unix()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (cache_key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, string(value), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to write geocode cache: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired entries and returns how many were removed
func (r *GeocodeCacheRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM geocode_cache WHERE expires_at > 0 AND expires_at <= ?`, r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge geocode cache: %w", err)
	}
	return res.RowsAffected()
}

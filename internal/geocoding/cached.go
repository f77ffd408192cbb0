package geocoding

import (
	"context"
	"time"

	"github.com/jengzang/fleet-records-go/internal/cache"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/spatial"
)

const (
	// DefaultCellMeters is the width of a shared cache cell
	DefaultCellMeters = 25.0
	// DefaultCacheTTL keeps addresses for a month
	DefaultCacheTTL = 30 * 24 * time.Hour
)

// Geocoder is the upstream reverse geocoder
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// CachedGeocoder memoizes reverse geocoding by geohash cell. Failed lookups
// are not cached.
type CachedGeocoder struct {
	upstream   Geocoder
	store      cache.Store
	cellMeters float64
	ttl        time.Duration
}

// NewCachedGeocoder wraps upstream with store. A non-positive ttl uses
// DefaultCacheTTL.
func NewCachedGeocoder(upstream Geocoder, store cache.Store, ttl time.Duration) *CachedGeocoder {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedGeocoder{
		upstream:   upstream,
		store:      store,
		cellMeters: DefaultCellMeters,
		ttl:        ttl,
	}
}

// ReverseGeocode returns the cached address of the cell containing the
// coordinate, asking upstream on a miss
func (g *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	cell := spatial.CellKey(models.Location{Latitude: lat, Longitude: lng}, g.cellMeters)

	data, err := cache.ReadThrough(ctx, g.store, "geocode", cache.KeyGeocode(cell), g.ttl,
		func(ctx context.Context) ([]byte, error) {
			address, err := g.upstream.ReverseGeocode(ctx, lat, lng)
			if err != nil {
				return nil, err
			}
			return []byte(address), nil
		})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

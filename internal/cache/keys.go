package cache

import "fmt"

// KeyGeocode is the cache key of a reverse geocoded cell
func KeyGeocode(cell string) string {
	return fmt.Sprintf("geocode:%s", cell)
}

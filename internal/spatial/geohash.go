package spatial

import (
	"github.com/jengzang/fleet-records-go/internal/models"
)

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Approximate geohash cell widths at the equator, indexed by precision
var geohashCellMeters = [...]float64{
	0, 5000000, 625000, 123000, 19500, 3900, 610, 120, 19, 3.7, 0.6, 0.12, 0.019,
}

// EncodeGeohash encodes a coordinate into a geohash of the given precision (1-12)
func EncodeGeohash(lat, lon float64, precision int) string {
	if precision < 1 {
		precision = 1
	}
	if precision > 12 {
		precision = 12
	}

	latLo, latHi := -90.0, 90.0
	lonLo, lonHi := -180.0, 180.0

	out := make([]byte, 0, precision)
	even := true
	bits, ch := 0, 0
	for len(out) < precision {
		ch <<= 1
		if even {
			mid := (lonLo + lonHi) / 2
			if lon > mid {
				ch |= 1
				lonLo = mid
			} else {
				lonHi = mid
			}
		} else {
			mid := (latLo + latHi) / 2
			if lat > mid {
				ch |= 1
				latLo = mid
			} else {
				latHi = mid
			}
		}
		even = !even

		bits++
		if bits == 5 {
			out = append(out, base32[ch])
			bits, ch = 0, 0
		}
	}
	return string(out)
}

// GeohashPrecisionForDistance returns the coarsest precision whose cells are
// no wider than distanceMeters
func GeohashPrecisionForDistance(distanceMeters float64) int {
	for p := 1; p < len(geohashCellMeters); p++ {
		if geohashCellMeters[p] <= distanceMeters {
			return p
		}
	}
	return 12
}

// CellKey buckets a location into a geohash cell roughly cellMeters wide.
// Nearby fixes share a key, which is what the geocode cache relies on.
func CellKey(loc models.Location, cellMeters float64) string {
	return EncodeGeohash(loc.Latitude, loc.Longitude, GeohashPrecisionForDistance(cellMeters))
}

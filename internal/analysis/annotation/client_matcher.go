package annotation

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/jengzang/fleet-records-go/internal/models"
)

// ReverseGeocoder resolves a coordinate to a street address
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// UnknownClientPrefix labels clients synthesized from a residential address
const UnknownClientPrefix = "Unknown Client - "

// A house number followed by a street name ending in a street type, e.g.
// "1234 Oak Street" or "1234, North Elm Ave"
var residentialAddress = regexp.MustCompile(
	`(?i)^\s*\d{1,6}[A-Za-z]?\s*,?\s+((?:[A-Za-z0-9.'-]+\s+){0,4}?` +
		`(?:Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Lane|Ln|Court|Ct|Boulevard|Blvd|Way|Place|Pl|` +
		`Circle|Cir|Terrace|Ter|Trail|Trl|Parkway|Pkwy|Loop|Highway|Hwy))\.?(?:\s*,|\s*$)`)

// ResidentialStreet extracts the street name from a residential address
func ResidentialStreet(address string) (string, bool) {
	m := residentialAddress.FindStringSubmatch(address)
	if m == nil {
		return "", false
	}
	street := strings.Join(strings.Fields(m[1]), " ")
	if street == "" {
		return "", false
	}
	return street, true
}

// ClientMatcher resolves coordinates to clients: gazetteer radius lookup
// first, then the reverse geocoded address
type ClientMatcher struct {
	gazetteer *Gazetteer
	geocoder  ReverseGeocoder
}

// NewClientMatcher creates a client matcher. geocoder may be nil.
func NewClientMatcher(gazetteer *Gazetteer, geocoder ReverseGeocoder) *ClientMatcher {
	return &ClientMatcher{gazetteer: gazetteer, geocoder: geocoder}
}

// Match returns the client at the coordinate. Geocoder failures are logged
// and reported as no match.
func (m *ClientMatcher) Match(ctx context.Context, lat, lng float64) (models.ClientMatch, bool) {
	if m.gazetteer != nil {
		if loc, dist, ok := m.gazetteer.Nearest(lat, lng); ok {
			return models.ClientMatch{
				ClientName:     loc.ClientName,
				Address:        loc.Address,
				ClientType:     loc.ClientType,
				Source:         models.MatchSourceGazetteer,
				DistanceMeters: dist,
			}, true
		}
	}

	if m.geocoder == nil {
		return models.ClientMatch{}, false
	}

	address, err := m.geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		log.Printf("[ClientMatcher] Reverse geocoding failed for (%.6f, %.6f): %v", lat, lng, err)
		return models.ClientMatch{}, false
	}

	street, ok := ResidentialStreet(address)
	if !ok {
		return models.ClientMatch{}, false
	}

	return models.ClientMatch{
		ClientName: UnknownClientPrefix + street,
		Address:    address,
		ClientType: "residential",
		Source:     models.MatchSourceGeocoded,
	}, true
}

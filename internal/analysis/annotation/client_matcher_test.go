package annotation

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/spatial"
)

type staticSource struct {
	locs []models.ClientLocation
	err  error
}

func (s staticSource) ListActive(ctx context.Context) ([]models.ClientLocation, error) {
	return s.locs, s.err
}

type fakeGeocoder struct {
	address string
	err     error
	calls   int
}

func (f *fakeGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	f.calls++
	return f.address, f.err
}

var client = models.ClientLocation{
	Address:      "100 Market St, San Francisco",
	ClientName:   "Bayview Dental",
	Latitude:     37.7936,
	Longitude:    -122.3958,
	RadiusMeters: 100,
	ClientType:   "commercial",
	IsActive:     true,
}

// pointAt returns a coordinate dist meters due east of loc on the sphere
func pointAt(loc models.ClientLocation, dist float64) (float64, float64) {
	latRad := loc.Latitude * math.Pi / 180
	deltaLng := dist / (spatial.EarthRadiusMeters * math.Cos(latRad))
	return loc.Latitude, loc.Longitude + deltaLng*180/math.Pi
}

func newGazetteer(t *testing.T, locs ...models.ClientLocation) *Gazetteer {
	t.Helper()
	g := NewGazetteer(staticSource{locs: locs})
	if err := g.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return g
}

func TestMatchWithinRadius(t *testing.T) {
	m := NewClientMatcher(newGazetteer(t, client), nil)

	match, ok := m.Match(context.Background(), client.Latitude, client.Longitude)
	if !ok {
		t.Fatalf("expected a match at the client coordinate")
	}
	if match.ClientName != "Bayview Dental" || match.Source != models.MatchSourceGazetteer {
		t.Errorf("unexpected match %+v", match)
	}

	lat, lng := pointAt(client, 60)
	if match, ok := m.Match(context.Background(), lat, lng); !ok || match.ClientName != client.ClientName {
		t.Errorf("expected a match 60 m away, got %+v %v", match, ok)
	}

	lat, lng = pointAt(client, 150)
	if _, ok := m.Match(context.Background(), lat, lng); ok {
		t.Errorf("expected no match 150 m away")
	}
}

func TestMatchRadiusBoundaryIsInclusive(t *testing.T) {
	lat, lng := pointAt(client, 100)

	// put the radius exactly on the computed distance
	onBoundary := client
	onBoundary.RadiusMeters = spatial.HaversineDistance(lat, lng, client.Latitude, client.Longitude)

	m := NewClientMatcher(newGazetteer(t, onBoundary), nil)
	for i := 0; i < 5; i++ {
		match, ok := m.Match(context.Background(), lat, lng)
		if !ok || match.ClientName != client.ClientName {
			t.Fatalf("run %d: expected inclusive boundary match, got %+v %v", i, match, ok)
		}
	}
}

func TestMatchNearestWinsAndTiesByAddress(t *testing.T) {
	near := client
	near.Address = "B near"
	near.ClientName = "Near"

	far := client
	far.Address = "A far"
	far.ClientName = "Far"
	far.Longitude = client.Longitude + 0.0005

	m := NewClientMatcher(newGazetteer(t, far, near), nil)
	match, _ := m.Match(context.Background(), client.Latitude, client.Longitude)
	if match.ClientName != "Near" {
		t.Errorf("expected nearest client, got %s", match.ClientName)
	}

	twin := client
	twin.Address = "A twin"
	twin.ClientName = "Twin"
	m = NewClientMatcher(newGazetteer(t, near, twin), nil)
	match, _ = m.Match(context.Background(), client.Latitude, client.Longitude)
	if match.ClientName != "Twin" {
		t.Errorf("expected tie to resolve to the smaller address, got %s", match.ClientName)
	}
}

func TestMatchFallsBackToResidentialAddress(t *testing.T) {
	geo := &fakeGeocoder{address: "1234 Oak Street, Springfield, IL 62704"}
	m := NewClientMatcher(newGazetteer(t, client), geo)

	match, ok := m.Match(context.Background(), 39.78, -89.65)
	if !ok {
		t.Fatalf("expected a residential match")
	}
	if match.ClientName != "Unknown Client - Oak Street" || match.Source != models.MatchSourceGeocoded {
		t.Errorf("unexpected match %+v", match)
	}
	if geo.calls != 1 {
		t.Errorf("expected one geocoder call, got %d", geo.calls)
	}
}

func TestMatchSkipsGeocoderOnGazetteerHit(t *testing.T) {
	geo := &fakeGeocoder{address: "1234 Oak Street"}
	m := NewClientMatcher(newGazetteer(t, client), geo)

	m.Match(context.Background(), client.Latitude, client.Longitude)
	if geo.calls != 0 {
		t.Errorf("geocoder must not be called on a gazetteer match")
	}
}

func TestMatchNonResidentialAddress(t *testing.T) {
	geo := &fakeGeocoder{address: "Home Depot, Industrial Parkway, Hayward"}
	m := NewClientMatcher(newGazetteer(t), geo)

	if match, ok := m.Match(context.Background(), 37.6, -122.0); ok {
		t.Errorf("expected no match for a commercial address, got %+v", match)
	}
}

func TestMatchGeocoderFailureIsNoMatch(t *testing.T) {
	geo := &fakeGeocoder{err: errors.New("429 too many requests")}
	m := NewClientMatcher(newGazetteer(t), geo)

	if _, ok := m.Match(context.Background(), 37.6, -122.0); ok {
		t.Errorf("geocoder failure must resolve to no match")
	}
}

func TestResidentialStreet(t *testing.T) {
	tests := []struct {
		address string
		street  string
		ok      bool
	}{
		{"1234 Oak Street, Springfield", "Oak Street", true},
		{"1234, North Elm Ave, Austin, TX", "North Elm Ave", true},
		{"42 Main St.", "Main St", true},
		{"99 stanford road, Palo Alto", "stanford road", true},
		{"Acme Supply, 55 Industrial Way", "", false},
		{"7 Market Square, Town", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			street, ok := ResidentialStreet(tt.address)
			if ok != tt.ok || street != tt.street {
				t.Errorf("ResidentialStreet(%q) = %q, %v; want %q, %v", tt.address, street, ok, tt.street, tt.ok)
			}
		})
	}
}

func TestGazetteerDefaultsAndFiltering(t *testing.T) {
	hospital := models.ClientLocation{Address: "1 Health Way", ClientName: "General Hospital", IsActive: true}
	school := models.ClientLocation{Address: "2 Learning Ln", ClientName: "Lincoln Elementary School", IsActive: true}
	house := models.ClientLocation{Address: "3 Home Ct", ClientName: "Smith", IsActive: true}
	gone := models.ClientLocation{Address: "4 Old Rd", ClientName: "Closed", IsActive: false}

	g := newGazetteer(t, house, school, hospital, gone)
	entries := g.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected inactive entries dropped, got %d", len(entries))
	}

	radii := map[string]float64{}
	for _, e := range entries {
		radii[e.ClientName] = e.RadiusMeters
	}
	if radii["General Hospital"] != 200 || radii["Lincoln Elementary School"] != 150 || radii["Smith"] != DefaultResidentialRadius {
		t.Errorf("unexpected default radii %v", radii)
	}
	if entries[0].Address != "1 Health Way" {
		t.Errorf("entries must be ordered by address, got %s first", entries[0].Address)
	}
}

func TestGazetteerLoadError(t *testing.T) {
	g := NewGazetteer(staticSource{err: errors.New("db closed")})
	g.Replace([]models.ClientLocation{client})

	if err := g.Load(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if len(g.Entries()) != 1 {
		t.Errorf("a failed load must keep the previous snapshot")
	}
}

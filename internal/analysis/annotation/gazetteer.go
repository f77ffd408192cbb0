package annotation

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/spatial"
)

// ClientLocationSource supplies the gazetteer entries
type ClientLocationSource interface {
	ListActive(ctx context.Context) ([]models.ClientLocation, error)
}

// radiusRule maps name/address keywords to a default match radius
type radiusRule struct {
	keywords []string
	radius   float64
}

// Larger venues get larger radii; order matters, the first rule hit wins
var radiusRules = []radiusRule{
	{[]string{"hospital", "medical center", "mall", "shopping center", "plaza"}, 200},
	{[]string{"school", "university", "college", "campus", "academy"}, 150},
	{[]string{"park", "stadium"}, 150},
	{[]string{"church", "temple", "mosque"}, 120},
}

// DefaultResidentialRadius applies when no keyword rule matches
const DefaultResidentialRadius = 100.0

// DefaultRadius infers a match radius from the client's name, address and
// type. Keywords match whole words only.
func DefaultRadius(loc models.ClientLocation) float64 {
	text := strings.ToLower(loc.ClientName + " " + loc.Address + " " + loc.ClientType)
	text = " " + strings.Join(strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "

	for _, rule := range radiusRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, " "+kw+" ") {
				return rule.radius
			}
		}
	}
	return DefaultResidentialRadius
}

// Gazetteer is a read-through snapshot of the client locations. The snapshot
// only changes on Load or Replace.
type Gazetteer struct {
	source ClientLocationSource

	mu       sync.RWMutex
	entries  []models.ClientLocation
	loadedAt time.Time
}

// NewGazetteer creates an empty gazetteer backed by source
func NewGazetteer(source ClientLocationSource) *Gazetteer {
	return &Gazetteer{source: source}
}

// Load refreshes the snapshot from the source
func (g *Gazetteer) Load(ctx context.Context) error {
	if g.source == nil {
		return fmt.Errorf("gazetteer has no source")
	}
	locs, err := g.source.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load client locations: %w", err)
	}
	g.Replace(locs)
	log.Printf("[Gazetteer] Loaded %d client locations", len(g.Entries()))
	return nil
}

// Replace swaps in a new set of entries. Inactive entries are dropped and
// missing radii are filled from the keyword table.
func (g *Gazetteer) Replace(locs []models.ClientLocation) {
	entries := make([]models.ClientLocation, 0, len(locs))
	for _, loc := range locs {
		if !loc.IsActive {
			continue
		}
		if loc.RadiusMeters <= 0 {
			loc.RadiusMeters = DefaultRadius(loc)
		}
		entries = append(entries, loc)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Address < entries[j].Address
	})

	g.mu.Lock()
	g.entries = entries
	g.loadedAt = time.Now()
	g.mu.Unlock()
}

// Entries returns a copy of the current snapshot
func (g *Gazetteer) Entries() []models.ClientLocation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]models.ClientLocation(nil), g.entries...)
}

// LoadedAt returns when the snapshot was last replaced
func (g *Gazetteer) LoadedAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loadedAt
}

// Nearest returns the closest entry whose radius contains the point. The
// boundary is inclusive; equal distances resolve to the smaller address.
func (g *Gazetteer) Nearest(lat, lng float64) (models.ClientLocation, float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best models.ClientLocation
	bestDist := 0.0
	found := false

	for _, loc := range g.entries {
		dist := spatial.HaversineDistance(lat, lng, loc.Latitude, loc.Longitude)
		if dist > loc.RadiusMeters {
			continue
		}
		// entries are sorted by address, so strict < keeps the smaller address on ties
		if !found || dist < bestDist {
			best, bestDist, found = loc, dist, true
		}
	}
	return best, bestDist, found
}

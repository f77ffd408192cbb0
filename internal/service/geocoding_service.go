package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis/annotation"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/observability"
	"github.com/jengzang/fleet-records-go/internal/repository"
	"github.com/jengzang/fleet-records-go/internal/spatial"
)

// GeocodingService owns the client gazetteer and resolves coordinates to
// clients. It is the ClientResolver handed to the productivity aggregator.
type GeocodingService struct {
	repo      *repository.ClientLocationRepository
	gazetteer *annotation.Gazetteer
	matcher   *annotation.ClientMatcher
}

// NewGeocodingService creates a new geocoding service. geocoder may be nil,
// in which case only gazetteer matches are made.
func NewGeocodingService(repo *repository.ClientLocationRepository, geocoder annotation.ReverseGeocoder) *GeocodingService {
	gazetteer := annotation.NewGazetteer(repo)
	return &GeocodingService{
		repo:      repo,
		gazetteer: gazetteer,
		matcher:   annotation.NewClientMatcher(gazetteer, geocoder),
	}
}

// ReloadGazetteer refreshes the client snapshot from the store
func (s *GeocodingService) ReloadGazetteer(ctx context.Context) (int, time.Time, error) {
	if err := s.gazetteer.Load(ctx); err != nil {
		return 0, time.Time{}, err
	}
	return len(s.gazetteer.Entries()), s.gazetteer.LoadedAt(), nil
}

// ListClients returns the current gazetteer snapshot
func (s *GeocodingService) ListClients() []models.ClientLocation {
	entries := s.gazetteer.Entries()
	if entries == nil {
		entries = []models.ClientLocation{}
	}
	return entries
}

// UpsertClient stores a client location. The snapshot is not refreshed until
// the next reload.
func (s *GeocodingService) UpsertClient(ctx context.Context, loc models.ClientLocation) error {
	loc.Address = strings.TrimSpace(loc.Address)
	loc.ClientName = strings.TrimSpace(loc.ClientName)
	if loc.Address == "" || loc.ClientName == "" {
		return fmt.Errorf("address and client name are required")
	}
	if !spatial.ValidCoordinates(loc.Latitude, loc.Longitude) {
		return fmt.Errorf("invalid coordinates (%.6f, %.6f)", loc.Latitude, loc.Longitude)
	}
	if loc.RadiusMeters < 0 {
		return fmt.Errorf("radius must not be negative")
	}
	if err := s.repo.Upsert(ctx, loc); err != nil {
		return err
	}
	log.Printf("[GeocodingService] Stored client location %q (%s)", loc.Address, loc.ClientName)
	return nil
}

// Match resolves a coordinate to a client and counts the outcome
func (s *GeocodingService) Match(ctx context.Context, lat, lng float64) (models.ClientMatch, bool) {
	match, ok := s.matcher.Match(ctx, lat, lng)
	if ok {
		observability.ClientMatches.WithLabelValues(match.Source).Inc()
	} else {
		observability.ClientMatches.WithLabelValues("none").Inc()
	}
	return match, ok
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis/behavior"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/repository"
)

// TripService handles business logic for trips
type TripService struct {
	trips        *repository.TripRepository
	points       *repository.RoutePointRepository
	consolidator *behavior.Consolidator
}

// NewTripService creates a new trip service
func NewTripService(trips *repository.TripRepository, points *repository.RoutePointRepository, consolidator *behavior.Consolidator) *TripService {
	return &TripService{trips: trips, points: points, consolidator: consolidator}
}

// GetTrips returns the vehicle's trips overlapping [from, to). Consolidated
// lists merge fragments and drop parking noise.
func (s *TripService) GetTrips(ctx context.Context, vehicleID string, from, to time.Time, consolidated, withPoints bool) ([]models.Trip, error) {
	trips, err := s.load(ctx, vehicleID, from, to, withPoints || consolidated)
	if err != nil {
		return nil, err
	}
	if consolidated {
		trips = s.consolidator.Consolidate(trips).Trips
	}
	if !withPoints {
		for i := range trips {
			trips[i].RoutePoints = nil
		}
	}
	if trips == nil {
		trips = []models.Trip{}
	}
	return trips, nil
}

// GetTripByID retrieves a single trip with its route points
func (s *TripService) GetTripByID(ctx context.Context, id string) (*models.Trip, error) {
	trip, err := s.trips.GetByID(ctx, id)
	if err != nil || trip == nil {
		return trip, err
	}
	points, err := s.points.FindByTrip(ctx, id)
	if err != nil {
		return nil, err
	}
	trip.RoutePoints = points
	return trip, nil
}

// GetRoute returns the vehicle's route points inside [from, to) across trips
func (s *TripService) GetRoute(ctx context.Context, vehicleID string, from, to time.Time) ([]models.RoutePoint, error) {
	points, err := s.points.FindRange(ctx, vehicleID, from, to)
	if err != nil {
		return nil, err
	}
	if points == nil {
		points = []models.RoutePoint{}
	}
	return points, nil
}

// GetParkingPeriods derives the parked stretches of a vehicle inside [from, to)
func (s *TripService) GetParkingPeriods(ctx context.Context, vehicleID string, from, to time.Time) ([]models.ParkingPeriod, error) {
	trips, err := s.load(ctx, vehicleID, from, to, false)
	if err != nil {
		return nil, err
	}
	result := s.consolidator.Consolidate(trips)
	periods := behavior.ParkingPeriods(vehicleID, result.Trips, result.ParkingNoise, from, to)
	if periods == nil {
		periods = []models.ParkingPeriod{}
	}
	return periods, nil
}

// ConsolidatedTrips returns the consolidated trips of a vehicle inside
// [from, to) with route points loaded
func (s *TripService) ConsolidatedTrips(ctx context.Context, vehicleID string, from, to time.Time) ([]models.Trip, error) {
	trips, err := s.load(ctx, vehicleID, from, to, true)
	if err != nil {
		return nil, err
	}
	return s.consolidator.Consolidate(trips).Trips, nil
}

func (s *TripService) load(ctx context.Context, vehicleID string, from, to time.Time, withPoints bool) ([]models.Trip, error) {
	trips, err := s.trips.FindOverlapping(ctx, vehicleID, from, to)
	if err != nil {
		return nil, err
	}
	if !withPoints || len(trips) == 0 {
		return trips, nil
	}

	ids := make([]string, len(trips))
	for i, t := range trips {
		ids[i] = t.ID
	}
	byTrip, err := s.points.FindByTrips(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load route points: %w", err)
	}
	for i := range trips {
		trips[i].RoutePoints = byTrip[trips[i].ID]
	}
	return trips, nil
}

package behavior

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/observability"
)

// TripStore persists trips keyed by vehicle and ignition on time
type TripStore interface {
	Upsert(ctx context.Context, t *models.Trip) (string, error)
	FindActive(ctx context.Context, vehicleID string) (*models.Trip, error)
}

// RoutePointStore persists append-only route points
type RoutePointStore interface {
	Append(ctx context.Context, points []models.RoutePoint) (int, error)
	FindByTrip(ctx context.Context, tripID string) ([]models.RoutePoint, error)
}

// SegmentWrite is the output of segmenting one batch of samples
type SegmentWrite struct {
	Closed []models.Trip
	Active *models.Trip
	Points []models.RoutePoint
}

// SaveSegmentation stores closed and active trips, then their route points.
// A trip already stored under another ID keeps the stored ID and its points
// are re-pointed to it. The returned map holds those remapped IDs.
func SaveSegmentation(ctx context.Context, trips TripStore, points RoutePointStore, w SegmentWrite) (map[string]string, error) {
	remap := make(map[string]string)
	now := time.Now().UTC()

	save := func(t *models.Trip) error {
		t.UpdatedAt = now
		id, err := trips.Upsert(ctx, t)
		if err != nil {
			return err
		}
		if id != t.ID {
			remap[t.ID] = id
			t.ID = id
		}
		return nil
	}

	for i := range w.Closed {
		if err := save(&w.Closed[i]); err != nil {
			return remap, fmt.Errorf("failed to save trip: %w", err)
		}
	}
	if w.Active != nil {
		if err := save(w.Active); err != nil {
			return remap, fmt.Errorf("failed to save active trip: %w", err)
		}
	}

	if len(w.Points) == 0 {
		return remap, nil
	}
	pts := w.Points
	if len(remap) > 0 {
		pts = make([]models.RoutePoint, len(w.Points))
		copy(pts, w.Points)
		for i := range pts {
			if id, ok := remap[pts[i].TripID]; ok {
				pts[i].TripID = id
			}
		}
	}
	if _, err := points.Append(ctx, pts); err != nil {
		return remap, fmt.Errorf("failed to save route points: %w", err)
	}
	return remap, nil
}

// LoadActiveTrip returns a vehicle's stored open trip with its route points,
// or nil
func LoadActiveTrip(ctx context.Context, trips TripStore, points RoutePointStore, vehicleID string) (*models.Trip, error) {
	active, err := trips.FindActive(ctx, vehicleID)
	if err != nil || active == nil {
		return nil, err
	}
	pts, err := points.FindByTrip(ctx, active.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load route points of trip %s: %w", active.ID, err)
	}
	active.RoutePoints = pts
	return active, nil
}

// ReportWarnings logs and counts data-quality warnings
func ReportWarnings(component string, warnings []models.DataQualityWarning) {
	for _, w := range warnings {
		observability.DataQualityWarnings.WithLabelValues(w.Kind).Inc()
		log.Printf("[%s] Data quality warning %s vehicle=%s trip=%s at %s: %s",
			component, w.Kind, w.VehicleID, w.TripID, w.Timestamp.Format(time.RFC3339), w.Message)
	}
}

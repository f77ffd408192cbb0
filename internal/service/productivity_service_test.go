package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis/behavior"
	"github.com/jengzang/fleet-records-go/internal/analysis/stats"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/repository"
)

type productivityFixture struct {
	svc      *ProductivityService
	trips    *repository.TripRepository
	tripSvc  *TripService
	geocoder *GeocodingService
	now      time.Time
}

func newProductivityFixture(t *testing.T, db *sql.DB) *productivityFixture {
	t.Helper()
	ctx := context.Background()

	clients := repository.NewClientLocationRepository(db)
	if err := clients.Upsert(ctx, models.ClientLocation{
		Address: "100 Market St", ClientName: "Bayview Dental",
		Latitude: north(2000).Latitude, Longitude: north(2000).Longitude,
		RadiusMeters: 100, IsActive: true,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	geo := NewGeocodingService(clients, nil)
	if _, _, err := geo.ReloadGazetteer(ctx); err != nil {
		t.Fatalf("ReloadGazetteer() error = %v", err)
	}

	trips := repository.NewTripRepository(db)
	tripSvc := NewTripService(trips, repository.NewRoutePointRepository(db), behavior.NewConsolidator(behavior.DefaultConsolidationConfig()))
	f := &productivityFixture{
		trips:    trips,
		tripSvc:  tripSvc,
		geocoder: geo,
		now:      base.Add(4 * time.Hour),
	}
	f.svc = NewProductivityService(
		stats.NewProductivityAggregator(stats.DefaultProductivityConfig(), geo),
		tripSvc, trips, repository.NewProductivityRepository(db), time.Hour)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *productivityFixture) storeTrip(t *testing.T, on, off time.Duration, end *models.Location, updated time.Time) {
	t.Helper()
	offTime := base.Add(off)
	_, err := f.trips.Upsert(context.Background(), &models.Trip{
		ID:              "trip-" + on.String(),
		VehicleID:       "ev-1",
		IgnitionOnTime:  base.Add(on),
		IgnitionOffTime: &offTime,
		StartLocation:   *north(0),
		EndLocation:     end,
		RoutePointCount: 5,
		DistanceSource:  models.DistanceSourceUnavailable,
		UpdatedAt:       updated,
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func TestDailyProductivityCachesUntilSourceChanges(t *testing.T) {
	f := newProductivityFixture(t, openTestDB(t))
	ctx := context.Background()

	f.storeTrip(t, 0, 30*time.Minute, north(2000), base.Add(time.Hour))

	first, err := f.svc.GetDaily(ctx, "ev-1", "2025-03-10", false)
	if err != nil {
		t.Fatalf("GetDaily() error = %v", err)
	}
	if first.TotalOnJobTime != 30 || len(first.JobSites) != 1 || first.JobSites[0].ClientName != "Bayview Dental" {
		t.Errorf("expected a 30 minute job site visit, got %+v", first)
	}
	if first.TripCount != 1 {
		t.Errorf("expected 1 trip, got %d", first.TripCount)
	}

	f.now = f.now.Add(10 * time.Minute)
	second, err := f.svc.GetDaily(ctx, "ev-1", "2025-03-10", false)
	if err != nil {
		t.Fatalf("GetDaily() error = %v", err)
	}
	if !second.ComputedAt.Equal(first.ComputedAt) {
		t.Errorf("a fresh period must be reused, computed at %s then %s", first.ComputedAt, second.ComputedAt)
	}

	f.storeTrip(t, 2*time.Hour, 2*time.Hour+20*time.Minute, north(9000), base.Add(2*time.Hour))
	third, err := f.svc.GetDaily(ctx, "ev-1", "2025-03-10", false)
	if err != nil {
		t.Fatalf("GetDaily() error = %v", err)
	}
	if third.TripCount != 2 || third.TotalOffJobTime != 20 {
		t.Errorf("changed trips must trigger a recompute, got %+v", third)
	}
	if !third.SourceUpdatedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("unexpected source updated at %s", third.SourceUpdatedAt)
	}

	f.now = f.now.Add(2 * time.Hour)
	fourth, err := f.svc.GetDaily(ctx, "ev-1", "2025-03-10", false)
	if err != nil {
		t.Fatalf("GetDaily() error = %v", err)
	}
	if !fourth.ComputedAt.Equal(f.now.UTC()) {
		t.Errorf("a period older than the freshness window must be recomputed")
	}
}

func TestDailyProductivityEmptyDay(t *testing.T) {
	f := newProductivityFixture(t, openTestDB(t))

	period, err := f.svc.GetDaily(context.Background(), "ev-1", "2025-03-09", false)
	if err != nil {
		t.Fatalf("GetDaily() error = %v", err)
	}
	if period.TripCount != 0 || period.ProductivityRatio != 0 || period.JobSites == nil {
		t.Errorf("unexpected empty period %+v", period)
	}

	if _, err := f.svc.GetDaily(context.Background(), "ev-1", "10/03/2025", false); err == nil {
		t.Error("expected an error for a malformed date")
	}
}

func TestWeeklyReport(t *testing.T) {
	f := newProductivityFixture(t, openTestDB(t))
	f.storeTrip(t, 0, 30*time.Minute, north(2000), base.Add(time.Hour))

	report, err := f.svc.GetReport(context.Background(), "ev-1", models.ReportFilter{Kind: models.ReportWeekly, StartDate: "2025-03-12"})
	if err != nil {
		t.Fatalf("GetReport() error = %v", err)
	}
	if report.StartDate != "2025-03-10" || report.EndDate != "2025-03-16" {
		t.Errorf("expected the Monday to Sunday week, got %s..%s", report.StartDate, report.EndDate)
	}
	if report.Days != 7 {
		t.Errorf("expected 7 days, got %d", report.Days)
	}
	if report.OnJobHours != 0.5 {
		t.Errorf("expected half an hour on job, got %.2f", report.OnJobHours)
	}

	if _, err := f.svc.GetReport(context.Background(), "ev-1", models.ReportFilter{Kind: models.ReportCustom, StartDate: "2025-03-12"}); err == nil {
		t.Error("custom reports without an end date must fail")
	}
}

func TestParkingPeriodsBetweenTrips(t *testing.T) {
	f := newProductivityFixture(t, openTestDB(t))
	f.storeTrip(t, time.Hour, 90*time.Minute, north(2000), base)
	f.storeTrip(t, 3*time.Hour, 4*time.Hour, north(0), base)

	periods, err := f.tripSvc.GetParkingPeriods(context.Background(), "ev-1", base, base.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("GetParkingPeriods() error = %v", err)
	}
	if len(periods) != 3 {
		t.Fatalf("expected 3 parked stretches, got %+v", periods)
	}
	if !periods[1].StartTime.Equal(base.Add(90*time.Minute)) || !periods[1].EndTime.Equal(base.Add(3*time.Hour)) {
		t.Errorf("unexpected middle period %+v", periods[1])
	}
	if periods[1].DurationMinutes != 90 {
		t.Errorf("expected 90 parked minutes, got %.1f", periods[1].DurationMinutes)
	}
}

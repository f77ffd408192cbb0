package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis/behavior"
	"github.com/jengzang/fleet-records-go/internal/analysis/foundation"
	"github.com/jengzang/fleet-records-go/internal/database"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/repository"
)

var base = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

const metersPerDegreeLat = 111320.0

func north(dy float64) *models.Location {
	return &models.Location{Latitude: 37.7749 + dy/metersPerDegreeLat, Longitude: -122.4194}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func rawAt(vehicleID string, offset time.Duration, loc *models.Location, ignition string) models.RawSample {
	ts := base.Add(offset)
	return models.RawSample{
		VehicleID:  vehicleID,
		ReceivedAt: ts,
		Signals: models.RawSignals{
			{Type: "location", Value: json.RawMessage(fmt.Sprintf(`{"lat":%.7f,"lng":%.7f}`, loc.Latitude, loc.Longitude))},
			{Type: "ignitionState", Value: json.RawMessage(fmt.Sprintf("%q", ignition))},
		},
	}
}

func newTelemetryService(db *sql.DB) *TelemetryService {
	return NewTelemetryService(
		foundation.NewNormalizer(foundation.DefaultNormalizerConfig()),
		behavior.NewStopDetector(behavior.DefaultStopConfig()),
		repository.NewTelemetryRepository(db),
		repository.NewTripRepository(db),
		repository.NewRoutePointRepository(db),
	)
}

// driveStart is ignition off at 08:00, then on at 08:50 and a drive north
// until 09:10. driveEnd switches the ignition off at 09:20.
func driveStart(vehicleID string) []models.RawSample {
	return []models.RawSample{
		rawAt(vehicleID, 0, north(0), "off"),
		rawAt(vehicleID, 50*time.Minute, north(0), "on"),
		rawAt(vehicleID, 55*time.Minute, north(500), "run"),
		rawAt(vehicleID, 60*time.Minute, north(1000), "run"),
		rawAt(vehicleID, 65*time.Minute, north(1500), "run"),
		rawAt(vehicleID, 70*time.Minute, north(2000), "run"),
	}
}

func driveEnd(vehicleID string) []models.RawSample {
	return []models.RawSample{rawAt(vehicleID, 80*time.Minute, north(2000), "off")}
}

func TestIngestBuildsTripAcrossCalls(t *testing.T) {
	db := openTestDB(t)
	svc := newTelemetryService(db)
	ctx := context.Background()
	trips := repository.NewTripRepository(db)

	result, err := svc.Ingest(ctx, driveStart("ev-1"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Accepted != 6 || result.TripsClosed != 0 || result.RoutePoints != 5 {
		t.Errorf("unexpected first result %+v", result)
	}

	active, err := trips.FindActive(ctx, "ev-1")
	if err != nil || active == nil {
		t.Fatalf("FindActive() = %v, %v", active, err)
	}
	if !active.IgnitionOnTime.Equal(base.Add(50 * time.Minute)) {
		t.Errorf("unexpected ignition on time %s", active.IgnitionOnTime)
	}

	result, err = svc.Ingest(ctx, driveEnd("ev-1"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.TripsClosed != 1 {
		t.Errorf("expected the off sample to close the trip, got %+v", result)
	}

	closed, err := trips.GetByID(ctx, active.ID)
	if err != nil || closed == nil {
		t.Fatalf("GetByID() = %v, %v", closed, err)
	}
	if closed.IsActive || closed.IgnitionOffTime == nil || !closed.IgnitionOffTime.Equal(base.Add(80*time.Minute)) {
		t.Errorf("unexpected closed trip %+v", closed)
	}
	if closed.RoutePointCount != 6 {
		t.Errorf("expected 6 route points, got %d", closed.RoutePointCount)
	}
}

func TestIngestResumesAfterRestart(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := newTelemetryService(db).Ingest(ctx, driveStart("ev-1")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	restarted := newTelemetryService(db)
	result, err := restarted.Ingest(ctx, driveEnd("ev-1"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.TripsClosed != 1 {
		t.Fatalf("expected the resumed trip to close, got %+v", result)
	}

	trips, err := repository.NewTripRepository(db).FindOverlapping(ctx, "ev-1", base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("FindOverlapping() error = %v", err)
	}
	if len(trips) != 1 {
		t.Fatalf("expected one trip, got %d", len(trips))
	}
	points, err := repository.NewRoutePointRepository(db).FindByTrip(ctx, trips[0].ID)
	if err != nil {
		t.Fatalf("FindByTrip() error = %v", err)
	}
	if len(points) != 6 {
		t.Errorf("expected 6 route points on the resumed trip, got %d", len(points))
	}
}

func TestIngestDropsUnusableSamples(t *testing.T) {
	svc := newTelemetryService(openTestDB(t))

	result, err := svc.Ingest(context.Background(), []models.RawSample{
		{VehicleID: "ev-1", ReceivedAt: base},
		{ReceivedAt: base, Signals: models.RawSignals{{Type: "speed", Value: json.RawMessage(`10`)}}},
		rawAt("ev-2", 0, north(0), "off"),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Dropped != 2 || result.Accepted != 1 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestVehicleStatus(t *testing.T) {
	db := openTestDB(t)
	svc := newTelemetryService(db)
	ctx := context.Background()

	var parked, moving []models.RawSample
	for i := 0; i <= 10; i++ {
		offset := time.Duration(i) * 30 * time.Second
		parked = append(parked, rawAt("ev-parked", offset, north(0.5*float64(i%2)), "off"))
		moving = append(moving, rawAt("ev-moving", offset, north(100*float64(i)), "run"))
	}
	if _, err := svc.Ingest(ctx, append(parked, moving...)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	tests := []struct {
		vehicleID string
		want      models.StopClass
	}{
		{"ev-parked", models.StopParked},
		{"ev-moving", models.StopMoving},
	}
	for _, tt := range tests {
		status, err := svc.VehicleStatus(ctx, tt.vehicleID)
		if err != nil || status == nil {
			t.Fatalf("%s: VehicleStatus() = %v, %v", tt.vehicleID, status, err)
		}
		if status.Class != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.vehicleID, tt.want, status.Class)
		}
		if !status.Timestamp.Equal(base.Add(150 * time.Second)) {
			t.Errorf("%s: expected the window centered half a window before the latest sample, got %s",
				tt.vehicleID, status.Timestamp)
		}
		if status.SampleCount != 11 {
			t.Errorf("%s: expected 11 samples in the window, got %d", tt.vehicleID, status.SampleCount)
		}
	}

	if status, err := svc.VehicleStatus(ctx, "ev-none"); err != nil || status != nil {
		t.Errorf("expected nil, nil for a vehicle without telemetry, got %v, %v", status, err)
	}
}

func TestVehicleStatusParkedWithUnevenSampling(t *testing.T) {
	db := openTestDB(t)
	svc := newTelemetryService(db)
	ctx := context.Background()

	// a 40 s period never lands on the window edge
	var raws []models.RawSample
	for i := 0; i <= 10; i++ {
		offset := time.Duration(i) * 40 * time.Second
		raws = append(raws, rawAt("ev-parked", offset, north(0.5*float64(i%2)), "off"))
	}
	if _, err := svc.Ingest(ctx, raws); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	status, err := svc.VehicleStatus(ctx, "ev-parked")
	if err != nil || status == nil {
		t.Fatalf("VehicleStatus() = %v, %v", status, err)
	}
	if status.Class != models.StopParked {
		t.Errorf("expected %s, got %s", models.StopParked, status.Class)
	}
	if !status.Timestamp.Equal(base.Add(240 * time.Second)) {
		t.Errorf("expected the sample nearest +250s as center, got %s", status.Timestamp)
	}
}

package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis/behavior"
	"github.com/jengzang/fleet-records-go/internal/analysis/foundation"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/observability"
	"github.com/jengzang/fleet-records-go/internal/repository"
)

// IngestResult summarizes one ingest call
type IngestResult struct {
	Accepted    int `json:"accepted"`
	Dropped     int `json:"dropped"`
	TripsClosed int `json:"tripsClosed"`
	RoutePoints int `json:"routePoints"`
	Warnings    int `json:"warnings"`
}

// TelemetryService ingests live telemetry. Samples of one vehicle are
// processed in order under a per-vehicle lock; vehicles run in parallel.
type TelemetryService struct {
	normalizer *foundation.Normalizer
	detector   *behavior.StopDetector
	samples    *repository.TelemetryRepository
	trips      *repository.TripRepository
	points     *repository.RoutePointRepository

	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	segmenters map[string]*behavior.TripSegmenter
}

// NewTelemetryService creates a new telemetry service
func NewTelemetryService(normalizer *foundation.Normalizer, detector *behavior.StopDetector,
	samples *repository.TelemetryRepository, trips *repository.TripRepository,
	points *repository.RoutePointRepository) *TelemetryService {
	return &TelemetryService{
		normalizer: normalizer,
		detector:   detector,
		samples:    samples,
		trips:      trips,
		points:     points,
		locks:      make(map[string]*sync.Mutex),
		segmenters: make(map[string]*behavior.TripSegmenter),
	}
}

type normalizedRaw struct {
	raw    models.RawSample
	sample models.Sample
}

// Ingest normalizes, stores and segments a batch of raw samples. Samples
// without a usable timestamp or signal are dropped and counted.
func (s *TelemetryService) Ingest(ctx context.Context, raws []models.RawSample) (IngestResult, error) {
	var result IngestResult

	byVehicle := make(map[string][]normalizedRaw)
	var order []string
	for _, raw := range raws {
		sample, ok := s.normalizer.Normalize(raw)
		if !ok {
			result.Dropped++
			continue
		}
		if _, seen := byVehicle[sample.VehicleID]; !seen {
			order = append(order, sample.VehicleID)
		}
		byVehicle[sample.VehicleID] = append(byVehicle[sample.VehicleID], normalizedRaw{raw: raw, sample: sample})
	}
	if result.Dropped > 0 {
		observability.SamplesDropped.Add(float64(result.Dropped))
	}

	for _, vehicleID := range order {
		batch := byVehicle[vehicleID]
		sort.SliceStable(batch, func(i, j int) bool {
			return batch[i].sample.Timestamp.Before(batch[j].sample.Timestamp)
		})

		vr, err := s.ingestVehicle(ctx, vehicleID, batch)
		result.Accepted += vr.Accepted
		result.TripsClosed += vr.TripsClosed
		result.RoutePoints += vr.RoutePoints
		result.Warnings += vr.Warnings
		if err != nil {
			return result, fmt.Errorf("failed to ingest vehicle %s: %w", vehicleID, err)
		}
	}

	return result, nil
}

func (s *TelemetryService) ingestVehicle(ctx context.Context, vehicleID string, batch []normalizedRaw) (IngestResult, error) {
	var result IngestResult

	lock := s.vehicleLock(vehicleID)
	lock.Lock()
	defer lock.Unlock()

	seg, err := s.segmenter(ctx, vehicleID)
	if err != nil {
		return result, err
	}

	var write behavior.SegmentWrite
	for _, item := range batch {
		if err := s.samples.Append(ctx, item.raw, item.sample.Timestamp); err != nil {
			return result, err
		}
		result.Accepted++
		observability.SamplesIngested.Inc()

		closed, point := seg.Feed(item.sample)
		if point != nil {
			write.Points = append(write.Points, *point)
		}
		if closed != nil {
			write.Closed = append(write.Closed, *closed)
			observability.TripsClosed.Inc()
			log.Printf("[TelemetryService] Trip %s closed for vehicle %s (%.1f min, %d points)",
				closed.ID, vehicleID, closed.TotalRunTime, closed.RoutePointCount)
		}
	}
	write.Active = seg.Active()

	warnings := seg.TakeWarnings()
	behavior.ReportWarnings("TelemetryService", warnings)
	result.Warnings = len(warnings)
	result.TripsClosed = len(write.Closed)
	result.RoutePoints = len(write.Points)

	if _, err := behavior.SaveSegmentation(ctx, s.trips, s.points, write); err != nil {
		// The in-memory state is ahead of the store; drop it so the next call
		// resumes from what was persisted.
		s.forget(vehicleID)
		return result, err
	}
	if write.Active != nil && seg.Active() != nil && write.Active.ID != seg.Active().ID {
		// Stored under an earlier ID; continue on that one
		active := *write.Active
		for i := range active.RoutePoints {
			active.RoutePoints[i].TripID = active.ID
		}
		seg.Resume(active)
	}

	return result, nil
}

// segmenter returns the vehicle's segmenter, resuming a stored open trip on
// first use. The caller holds the vehicle lock.
func (s *TelemetryService) segmenter(ctx context.Context, vehicleID string) (*behavior.TripSegmenter, error) {
	s.mu.Lock()
	seg, ok := s.segmenters[vehicleID]
	s.mu.Unlock()
	if ok {
		return seg, nil
	}

	seg = behavior.NewTripSegmenter(vehicleID, s.detector)
	active, err := behavior.LoadActiveTrip(ctx, s.trips, s.points, vehicleID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		seg.Resume(*active)
		log.Printf("[TelemetryService] Resumed open trip %s for vehicle %s", active.ID, vehicleID)
	}

	s.mu.Lock()
	s.segmenters[vehicleID] = seg
	s.mu.Unlock()
	return seg, nil
}

func (s *TelemetryService) vehicleLock(vehicleID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[vehicleID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[vehicleID] = lock
	}
	return lock
}

func (s *TelemetryService) forget(vehicleID string) {
	s.mu.Lock()
	delete(s.segmenters, vehicleID)
	s.mu.Unlock()
}

// ListVehicles returns the IDs of vehicles with stored telemetry
func (s *TelemetryService) ListVehicles(ctx context.Context) ([]string, error) {
	ids, err := s.samples.ListVehicles(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// VehicleStatus classifies the most recent complete window of the vehicle. The
// window needs a half-width of samples on both sides of its center, so the
// center is the sample nearest to half a window before the latest one and the
// reported timestamp lags the latest sample by about that much. It returns nil
// when the vehicle has no telemetry.
func (s *TelemetryService) VehicleStatus(ctx context.Context, vehicleID string) (*models.VehicleStatus, error) {
	_, last, ok, err := s.samples.Bounds(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	half := s.detector.Config().WindowHalfWidth
	raws, err := s.samples.FetchRange(ctx, vehicleID, last.Add(-2*half), last.Add(time.Second))
	if err != nil {
		return nil, err
	}
	samples := s.normalizer.NormalizeBatch(raws)
	if len(samples) == 0 {
		return nil, nil
	}

	anchor := nearestSample(samples, last.Add(-half))
	stats := s.detector.ClassifyAt(samples, anchor)
	return &models.VehicleStatus{
		VehicleID:   vehicleID,
		Timestamp:   samples[anchor].Timestamp,
		Class:       stats.Class,
		SampleCount: stats.SampleCount,
		MaxMovement: stats.MaxMovement,
		AvgMovement: stats.AvgMovement,
		Location:    stats.Location,
	}, nil
}

// nearestSample returns the index of the sample closest to t, preferring the
// later one on a tie. Samples are ordered by timestamp.
func nearestSample(samples []models.Sample, t time.Time) int {
	best := 0
	bestDiff := time.Duration(-1)
	for i, sample := range samples {
		diff := sample.Timestamp.Sub(t)
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff <= bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

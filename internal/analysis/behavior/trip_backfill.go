package behavior

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis"
	"github.com/jengzang/fleet-records-go/internal/analysis/foundation"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/observability"
	"github.com/jengzang/fleet-records-go/internal/repository"
)

// TripBackfillSkill is the registered analyzer name of the trip backfill
const TripBackfillSkill = "trip_backfill"

func init() {
	RegisterTripBackfill(DefaultBackfillConfig())
}

// RegisterTripBackfill registers the trip backfill analyzer with cfg,
// replacing any earlier registration
func RegisterTripBackfill(cfg BackfillConfig) {
	analysis.RegisterAnalyzer(TripBackfillSkill, func(db *sql.DB) analysis.Analyzer {
		return NewTripBackfillAnalyzer(db, cfg)
	})
}

// BackfillConfig controls historical trip reconstruction
type BackfillConfig struct {
	ChunkSize   time.Duration
	ChunkDelay  time.Duration
	Concurrency int
	Stop        StopConfig
	Normalizer  foundation.NormalizerConfig
}

// DefaultBackfillConfig returns 3-day chunks and four vehicles at a time
func DefaultBackfillConfig() BackfillConfig {
	chunks := analysis.DefaultChunkConfig()
	return BackfillConfig{
		ChunkSize:   chunks.Size,
		ChunkDelay:  chunks.Delay,
		Concurrency: chunks.Concurrency,
		Stop:        DefaultStopConfig(),
		Normalizer:  foundation.DefaultNormalizerConfig(),
	}
}

// SampleSource reads stored raw telemetry
type SampleSource interface {
	FetchRange(ctx context.Context, vehicleID string, from, to time.Time) ([]models.RawSample, error)
	ListVehicles(ctx context.Context) ([]string, error)
	Bounds(ctx context.Context, vehicleID string) (first, last time.Time, ok bool, err error)
}

// BackfillSummary is stored as the task result
type BackfillSummary struct {
	analysis.ChunkStats
	TripsClosed int `json:"trips_closed"`
	OpenTrips   int `json:"open_trips"`
	RoutePoints int `json:"route_points"`
	Warnings    int `json:"warnings"`
	// FailedVehicles stopped at a failed chunk. Their trips are stored up to
	// that chunk and a later run resumes from the stored open trip.
	FailedVehicles []string `json:"failed_vehicles,omitempty"`
}

// TripBackfillAnalyzer rebuilds trips from stored raw telemetry. Each vehicle
// is replayed chunk by chunk through its own segmenter; the segmenter state
// carries across chunks so trips spanning a chunk edge stay whole.
type TripBackfillAnalyzer struct {
	*analysis.IncrementalAnalyzer
	normalizer *foundation.Normalizer
	detector   *StopDetector
	samples    SampleSource
	trips      TripStore
	points     RoutePointStore
}

// NewTripBackfillAnalyzer creates a trip backfill analyzer over the sqlite stores
func NewTripBackfillAnalyzer(db *sql.DB, cfg BackfillConfig) *TripBackfillAnalyzer {
	return NewTripBackfillAnalyzerWithStores(db, cfg,
		repository.NewTelemetryRepository(db),
		repository.NewTripRepository(db),
		repository.NewRoutePointRepository(db))
}

// NewTripBackfillAnalyzerWithStores creates a trip backfill analyzer over
// the given stores. db is used for task progress.
func NewTripBackfillAnalyzerWithStores(db *sql.DB, cfg BackfillConfig, samples SampleSource, trips TripStore, points RoutePointStore) *TripBackfillAnalyzer {
	return &TripBackfillAnalyzer{
		IncrementalAnalyzer: analysis.NewIncrementalAnalyzer(db, TripBackfillSkill, analysis.ChunkConfig{
			Size:        cfg.ChunkSize,
			Delay:       cfg.ChunkDelay,
			Concurrency: cfg.Concurrency,
		}),
		normalizer: foundation.NewNormalizer(cfg.Normalizer),
		detector:   NewStopDetector(cfg.Stop),
		samples:    samples,
		trips:      trips,
		points:     points,
	}
}

// Analyze runs the backfill described by the task parameters
func (a *TripBackfillAnalyzer) Analyze(ctx context.Context, taskID int64, mode string) error {
	log.Printf("[TripBackfillAnalyzer] Starting analysis (task_id=%d, mode=%s)", taskID, mode)

	if err := a.MarkTaskAsRunning(taskID); err != nil {
		return err
	}

	var params models.BackfillParams
	raw, err := a.GetTaskParams(ctx, taskID)
	if err == nil && raw != "" {
		if jsonErr := json.Unmarshal([]byte(raw), &params); jsonErr != nil {
			err = fmt.Errorf("failed to parse task params: %w", jsonErr)
		}
	}
	if err != nil {
		a.MarkTaskAsFailed(taskID, err.Error())
		return err
	}

	summary, err := a.Run(ctx, taskID, mode, params)
	if err != nil {
		a.MarkTaskAsFailed(taskID, err.Error())
		return err
	}

	data, _ := json.Marshal(summary)
	if err := a.MarkTaskAsCompleted(taskID, string(data)); err != nil {
		return err
	}

	log.Printf("[TripBackfillAnalyzer] Completed task %d: %d/%d chunks (%d failed), %d trips",
		taskID, summary.Processed, summary.Total, summary.Failed, summary.TripsClosed)
	if len(summary.FailedVehicles) > 0 {
		log.Printf("[TripBackfillAnalyzer] Task %d stopped early for vehicles %v", taskID, summary.FailedVehicles)
	}
	return nil
}

// Run replays the raw telemetry of the requested vehicles and range. Missing
// vehicles default to every vehicle with telemetry and a missing range to the
// full telemetry span. In incremental mode an open trip stored before the
// range is resumed; full mode starts every vehicle from a clean state.
func (a *TripBackfillAnalyzer) Run(ctx context.Context, taskID int64, mode string, params models.BackfillParams) (BackfillSummary, error) {
	var summary BackfillSummary

	vehicles := params.VehicleIDs
	if len(vehicles) == 0 {
		ids, err := a.samples.ListVehicles(ctx)
		if err != nil {
			return summary, fmt.Errorf("failed to list vehicles: %w", err)
		}
		vehicles = ids
	}

	start, end, err := a.resolveRange(ctx, vehicles, params)
	if err != nil {
		return summary, err
	}
	if len(vehicles) == 0 || !end.After(start) {
		return summary, nil
	}

	var mu sync.Mutex
	segmenters := make(map[string]*TripSegmenter, len(vehicles))

	segmenterFor := func(ctx context.Context, vehicleID string) (*TripSegmenter, error) {
		mu.Lock()
		seg, ok := segmenters[vehicleID]
		mu.Unlock()
		if ok {
			return seg, nil
		}

		seg = NewTripSegmenter(vehicleID, a.detector)
		if mode != analysis.ModeFull {
			active, err := LoadActiveTrip(ctx, a.trips, a.points, vehicleID)
			if err != nil {
				return nil, err
			}
			if active != nil && active.IgnitionOnTime.Before(start) {
				seg.Resume(*active)
			}
		}

		mu.Lock()
		segmenters[vehicleID] = seg
		mu.Unlock()
		return seg, nil
	}

	// A vehicle whose chunk fails is not fed again in this run, so its
	// segmenter never skips over the samples it missed.
	fail := func(vehicleID string, err error) error {
		observability.BackfillChunks.WithLabelValues("failed").Inc()
		mu.Lock()
		delete(segmenters, vehicleID)
		summary.FailedVehicles = append(summary.FailedVehicles, vehicleID)
		mu.Unlock()
		return err
	}

	stats, err := a.ProcessChunks(ctx, taskID, vehicles, start, end,
		func(ctx context.Context, vehicleID string, chunk analysis.TimeChunk) error {
			seg, err := segmenterFor(ctx, vehicleID)
			if err != nil {
				return fail(vehicleID, err)
			}

			closed, points, warnings, err := a.processChunk(ctx, seg, vehicleID, chunk)
			if err != nil {
				return fail(vehicleID, err)
			}
			observability.BackfillChunks.WithLabelValues("ok").Inc()

			mu.Lock()
			summary.TripsClosed += closed
			summary.RoutePoints += points
			summary.Warnings += warnings
			mu.Unlock()
			return nil
		})
	summary.ChunkStats = stats

	for _, seg := range segmenters {
		if seg.Active() != nil {
			summary.OpenTrips++
		}
	}
	sort.Strings(summary.FailedVehicles)

	return summary, err
}

func (a *TripBackfillAnalyzer) processChunk(ctx context.Context, seg *TripSegmenter, vehicleID string, chunk analysis.TimeChunk) (int, int, int, error) {
	raws, err := a.samples.FetchRange(ctx, vehicleID, chunk.Start, chunk.End)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to fetch samples: %w", err)
	}

	samples := a.normalizer.NormalizeBatch(raws)
	if dropped := len(raws) - len(samples); dropped > 0 {
		observability.SamplesDropped.Add(float64(dropped))
	}

	var write SegmentWrite
	for _, sample := range samples {
		closed, point := seg.Feed(sample)
		if point != nil {
			write.Points = append(write.Points, *point)
		}
		if closed != nil {
			write.Closed = append(write.Closed, *closed)
			observability.TripsClosed.Inc()
		}
	}
	write.Active = seg.Active()

	warnings := seg.TakeWarnings()
	ReportWarnings("TripBackfillAnalyzer", warnings)

	if _, err := SaveSegmentation(ctx, a.trips, a.points, write); err != nil {
		return 0, 0, 0, err
	}
	return len(write.Closed), len(write.Points), len(warnings), nil
}

// resolveRange fills a missing start or end from the telemetry bounds of the
// vehicles. The end is exclusive, so the last sample second is included.
func (a *TripBackfillAnalyzer) resolveRange(ctx context.Context, vehicles []string, params models.BackfillParams) (time.Time, time.Time, error) {
	start, end := params.Start.UTC(), params.End.UTC()
	if !params.Start.IsZero() && !params.End.IsZero() {
		return start, end, nil
	}

	var first, last time.Time
	for _, id := range vehicles {
		f, l, ok, err := a.samples.Bounds(ctx, id)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if !ok {
			continue
		}
		if first.IsZero() || f.Before(first) {
			first = f
		}
		if l.After(last) {
			last = l
		}
	}

	if params.Start.IsZero() {
		start = first
	}
	if params.End.IsZero() && !last.IsZero() {
		end = last.Add(time.Second)
	}
	return start, end, nil
}

package behavior

import (
	"time"

	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/spatial"
)

const metersPerSecondPerMph = 0.44704

// StopConfig holds the stationary detection thresholds. The values were tuned
// empirically against fleet data and are all overridable from the environment.
type StopConfig struct {
	WindowHalfWidth   time.Duration // half-width of the symmetric classification window
	MinWindowSamples  int           // fewer samples than this is indeterminate
	MaxMovementMeters float64       // max consecutive displacement for parked (strict)
	AvgMovementMeters float64       // mean consecutive displacement for parked (strict)
	MovingSpeedMPS    float64       // implied speed above this marks a route point moving
	MinStopDuration   time.Duration // shortest run of stationary points kept as a stop
}

// DefaultStopConfig returns the reference thresholds
func DefaultStopConfig() StopConfig {
	return StopConfig{
		WindowHalfWidth:   150 * time.Second,
		MinWindowSamples:  3,
		MaxMovementMeters: 50,
		AvgMovementMeters: 15,
		MovingSpeedMPS:    0.9,
		MinStopDuration:   5 * time.Minute,
	}
}

// WindowStats is the result of a windowed classification
type WindowStats struct {
	Class       models.StopClass
	SampleCount int
	Span        time.Duration
	MaxMovement float64 // meters
	AvgMovement float64 // meters
	Location    *models.Location
}

// StopDetector classifies stationary windows and extracts stops from trips
type StopDetector struct {
	cfg StopConfig
}

// NewStopDetector creates a new stop detector
func NewStopDetector(cfg StopConfig) *StopDetector {
	if cfg.MinWindowSamples < 2 {
		cfg.MinWindowSamples = 2
	}
	return &StopDetector{cfg: cfg}
}

// Config returns the detector thresholds
func (d *StopDetector) Config() StopConfig {
	return d.cfg
}

// ClassifyAt classifies the window centered on points[anchor]. Points must be
// ordered by timestamp; samples without a position fix are ignored.
func (d *StopDetector) ClassifyAt(points []models.Sample, anchor int) WindowStats {
	stats := WindowStats{Class: models.StopIndeterminate}
	if anchor < 0 || anchor >= len(points) {
		return stats
	}

	center := points[anchor].Timestamp
	from := center.Add(-d.cfg.WindowHalfWidth)
	to := center.Add(d.cfg.WindowHalfWidth)

	lo := anchor
	for lo > 0 && !points[lo-1].Timestamp.Before(from) {
		lo--
	}
	hi := anchor
	for hi < len(points)-1 && !points[hi+1].Timestamp.After(to) {
		hi++
	}

	window := make([]models.Sample, 0, hi-lo+1)
	for _, p := range points[lo : hi+1] {
		if p.HasPosition() {
			window = append(window, p)
		}
	}

	stats.SampleCount = len(window)
	if len(window) == 0 {
		return stats
	}
	if points[anchor].HasPosition() {
		loc := *points[anchor].Position
		stats.Location = &loc
	} else {
		loc := *window[len(window)-1].Position
		stats.Location = &loc
	}
	if len(window) < d.cfg.MinWindowSamples {
		return stats
	}

	total := 0.0
	for i := 1; i < len(window); i++ {
		dist := spatial.Distance(*window[i-1].Position, *window[i].Position)
		total += dist
		if dist > stats.MaxMovement {
			stats.MaxMovement = dist
		}
	}
	stats.AvgMovement = total / float64(len(window)-1)
	stats.Span = window[len(window)-1].Timestamp.Sub(window[0].Timestamp)

	if stats.Span >= d.cfg.WindowHalfWidth &&
		stats.MaxMovement < d.cfg.MaxMovementMeters &&
		stats.AvgMovement < d.cfg.AvgMovementMeters {
		stats.Class = models.StopParked
	} else {
		stats.Class = models.StopMoving
	}
	return stats
}

// IsMovingBetween decides the moving flag of cur given the previous sample.
// Implied speed from consecutive fixes wins; reported speed is the fallback.
func (d *StopDetector) IsMovingBetween(prev *models.Sample, cur models.Sample) bool {
	if prev != nil && prev.HasPosition() && cur.HasPosition() {
		dt := cur.Timestamp.Sub(prev.Timestamp).Seconds()
		if dt > 0 {
			return spatial.Distance(*prev.Position, *cur.Position)/dt > d.cfg.MovingSpeedMPS
		}
	}
	if cur.Speed != nil {
		return *cur.Speed*metersPerSecondPerMph > d.cfg.MovingSpeedMPS
	}
	return false
}

// DetectStops extracts maximal runs of non-moving route points lasting at
// least MinStopDuration. Points must be ordered by timestamp.
func (d *StopDetector) DetectStops(points []models.RoutePoint) []models.Stop {
	var stops []models.Stop

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		run := points[start : end+1]
		start = -1

		first, last := run[0], run[len(run)-1]
		if last.Timestamp.Sub(first.Timestamp) < d.cfg.MinStopDuration {
			return
		}

		stop := models.Stop{
			VehicleID:           first.VehicleID,
			TripID:              first.TripID,
			StartTime:           first.Timestamp,
			EndTime:             last.Timestamp,
			RoutePointsInWindow: len(run),
		}

		locs := make([]models.Location, 0, len(run))
		for i, p := range run {
			if p.HasPosition() {
				locs = append(locs, *p.Position)
			}
			if i == len(run)-1 {
				break
			}
			minutes := run[i+1].Timestamp.Sub(p.Timestamp).Minutes()
			if p.Ignition.IsOn() {
				stop.EngineOnMinutes += minutes
			} else {
				stop.EngineOffMinutes += minutes
			}
		}
		stop.Location = spatial.Centroid(locs)
		stops = append(stops, stop)
	}

	for i, p := range points {
		if p.IsMoving {
			flush(i - 1)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(points) - 1)

	return stops
}

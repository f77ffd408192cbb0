package behavior

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/spatial"
)

// SegmenterState is the per-vehicle trip state
type SegmenterState int

const (
	StateNoActiveTrip SegmenterState = iota
	// StateAwaitingFix means ignition is on but no position fix has arrived yet
	StateAwaitingFix
	StateTripInProgress
)

func (s SegmenterState) String() string {
	switch s {
	case StateAwaitingFix:
		return "awaiting_fix"
	case StateTripInProgress:
		return "trip_in_progress"
	default:
		return "no_active_trip"
	}
}

// TripSegmenter partitions one vehicle's ordered sample stream into
// ignition-bounded trips. It is not safe for concurrent use.
type TripSegmenter struct {
	vehicleID string
	detector  *StopDetector

	state    SegmenterState
	trip     *models.Trip
	last     *models.Sample // last accepted sample
	lastFix  *models.Sample // last route point of the current trip
	warnings []models.DataQualityWarning
}

// NewTripSegmenter creates a segmenter for a single vehicle
func NewTripSegmenter(vehicleID string, detector *StopDetector) *TripSegmenter {
	return &TripSegmenter{
		vehicleID: vehicleID,
		detector:  detector,
		state:     StateNoActiveTrip,
	}
}

// State returns the current FSM state
func (s *TripSegmenter) State() SegmenterState {
	return s.state
}

// Active returns a copy of the in-progress trip, or nil
func (s *TripSegmenter) Active() *models.Trip {
	if s.state != StateTripInProgress || s.trip == nil {
		return nil
	}
	t := cloneTrip(*s.trip)
	return &t
}

// Resume restores the segmenter from a stored active trip. The trip's route
// points should be loaded so the moving flag and path distance continue.
func (s *TripSegmenter) Resume(trip models.Trip) {
	if !trip.IsActive || trip.IgnitionOffTime != nil {
		return
	}
	t := cloneTrip(trip)
	s.trip = &t
	s.state = StateTripInProgress

	if n := len(t.RoutePoints); n > 0 {
		lastFix := t.RoutePoints[n-1].Sample
		s.lastFix = &lastFix
		last := lastFix
		s.last = &last
	} else {
		s.last = &models.Sample{VehicleID: t.VehicleID, Timestamp: t.IgnitionOnTime, Ignition: models.IgnitionOn}
	}
}

// TakeWarnings returns and clears the data-quality warnings gathered so far
func (s *TripSegmenter) TakeWarnings() []models.DataQualityWarning {
	w := s.warnings
	s.warnings = nil
	return w
}

// Feed advances the state machine by one sample. It returns the trip closed by
// this sample, if any, and the route point recorded for it, if any.
func (s *TripSegmenter) Feed(sample models.Sample) (*models.Trip, *models.RoutePoint) {
	if s.last != nil {
		if sample.Timestamp.Before(s.last.Timestamp) {
			s.warn(models.WarningOutOfOrder, sample.Timestamp,
				fmt.Sprintf("sample at %s precedes last accepted sample at %s, skipped",
					sample.Timestamp.Format(time.RFC3339), s.last.Timestamp.Format(time.RFC3339)))
			return nil, nil
		}
		if sample.Timestamp.Equal(s.last.Timestamp) {
			// duplicate delivery
			return nil, nil
		}
	}
	accepted := sample
	s.last = &accepted

	switch s.state {
	case StateNoActiveTrip:
		if !sample.Ignition.IsOn() {
			return nil, nil
		}
		s.trip = &models.Trip{
			ID:             uuid.NewString(),
			VehicleID:      sample.VehicleID,
			VehicleName:    sample.VehicleName,
			IgnitionOnTime: sample.Timestamp,
			IsActive:       true,
			DistanceSource: models.DistanceSourceUnavailable,
		}
		s.lastFix = nil
		s.trackReadings(sample)
		if !sample.HasPosition() {
			s.state = StateAwaitingFix
			return nil, nil
		}
		s.trip.StartLocation = *sample.Position
		s.state = StateTripInProgress
		return nil, s.appendPoint(sample)

	case StateAwaitingFix:
		if sample.Ignition == models.IgnitionOff {
			s.warn(models.WarningStartWithoutFix, sample.Timestamp,
				fmt.Sprintf("ignition cycle from %s ended without a position fix, discarded",
					s.trip.IgnitionOnTime.Format(time.RFC3339)))
			s.trip = nil
			s.state = StateNoActiveTrip
			return nil, nil
		}
		s.trackReadings(sample)
		if !sample.HasPosition() {
			return nil, nil
		}
		s.trip.StartLocation = *sample.Position
		s.state = StateTripInProgress
		return nil, s.appendPoint(sample)

	case StateTripInProgress:
		s.trackReadings(sample)
		var point *models.RoutePoint
		if sample.HasPosition() {
			point = s.appendPoint(sample)
		}
		if sample.Ignition != models.IgnitionOff {
			RefreshTripMetrics(s.trip, sample.Timestamp)
			return nil, point
		}
		closed := s.close(sample)
		return closed, point
	}

	return nil, nil
}

// trackReadings records the first and latest odometer and SoC of the trip
func (s *TripSegmenter) trackReadings(sample models.Sample) {
	if sample.Odometer != nil {
		v := *sample.Odometer
		if s.trip.StartOdometer == nil {
			start := v
			s.trip.StartOdometer = &start
		}
		s.trip.EndOdometer = &v
	}
	if sample.BatterySoc != nil {
		v := *sample.BatterySoc
		if s.trip.StartBatterySoc == nil {
			start := v
			s.trip.StartBatterySoc = &start
		}
		s.trip.EndBatterySoc = &v
	}
}

func (s *TripSegmenter) appendPoint(sample models.Sample) *models.RoutePoint {
	rp := models.RoutePoint{
		Sample:   sample,
		TripID:   s.trip.ID,
		IsMoving: s.detector.IsMovingBetween(s.lastFix, sample),
	}
	if s.lastFix != nil {
		s.trip.GPSDistance += spatial.MetersToMiles(spatial.Distance(*s.lastFix.Position, *sample.Position))
	}
	fix := sample
	s.lastFix = &fix

	s.trip.RoutePoints = append(s.trip.RoutePoints, rp)
	s.trip.RoutePointCount++
	loc := *sample.Position
	s.trip.EndLocation = &loc

	return &rp
}

func (s *TripSegmenter) close(sample models.Sample) *models.Trip {
	off := sample.Timestamp
	s.trip.IgnitionOffTime = &off
	s.trip.IsActive = false
	if sample.HasPosition() {
		loc := *sample.Position
		s.trip.EndLocation = &loc
	}
	if s.trip.EndLocation == nil {
		loc := s.trip.StartLocation
		s.trip.EndLocation = &loc
	}
	RefreshTripMetrics(s.trip, off)

	closed := s.trip
	s.warnings = append(s.warnings, ValidateTrip(*closed)...)

	s.trip = nil
	s.lastFix = nil
	s.state = StateNoActiveTrip
	return closed
}

func (s *TripSegmenter) warn(kind string, ts time.Time, msg string) {
	w := models.DataQualityWarning{
		Kind:      kind,
		VehicleID: s.vehicleID,
		Timestamp: ts,
		Message:   msg,
	}
	if s.trip != nil {
		w.TripID = s.trip.ID
	}
	s.warnings = append(s.warnings, w)
}

// RefreshTripMetrics re-derives run time, odometer distance and battery use.
// For an open trip the run time is measured up to asOf.
func RefreshTripMetrics(t *models.Trip, asOf time.Time) {
	end := asOf
	if t.IgnitionOffTime != nil {
		end = *t.IgnitionOffTime
	}
	if end.After(t.IgnitionOnTime) {
		t.TotalRunTime = end.Sub(t.IgnitionOnTime).Minutes()
	} else {
		t.TotalRunTime = 0
	}

	t.DistanceTraveled = 0
	t.DistanceSource = models.DistanceSourceUnavailable
	if t.StartOdometer != nil && t.EndOdometer != nil && *t.EndOdometer >= *t.StartOdometer {
		t.DistanceTraveled = *t.EndOdometer - *t.StartOdometer
		t.DistanceSource = models.DistanceSourceOdometer
	}

	t.BatteryUsed = 0
	if t.StartBatterySoc != nil && t.EndBatterySoc != nil {
		t.BatteryUsed = *t.StartBatterySoc - *t.EndBatterySoc
	}
}

// ValidateTrip reports invariant violations without correcting them
func ValidateTrip(t models.Trip) []models.DataQualityWarning {
	var warnings []models.DataQualityWarning
	add := func(kind string, ts time.Time, msg string) {
		warnings = append(warnings, models.DataQualityWarning{
			Kind:      kind,
			VehicleID: t.VehicleID,
			TripID:    t.ID,
			Timestamp: ts,
			Message:   msg,
		})
	}

	if t.IgnitionOffTime != nil && t.IgnitionOffTime.Before(t.IgnitionOnTime) {
		add(models.WarningTripEndBeforeStart, *t.IgnitionOffTime,
			fmt.Sprintf("ignition off %s before ignition on %s",
				t.IgnitionOffTime.Format(time.RFC3339), t.IgnitionOnTime.Format(time.RFC3339)))
	}

	outside := 0
	for i, p := range t.RoutePoints {
		if i > 0 && p.Timestamp.Before(t.RoutePoints[i-1].Timestamp) {
			add(models.WarningPointsUnordered, p.Timestamp, "route points are not ordered by timestamp")
			break
		}
	}
	for _, p := range t.RoutePoints {
		if p.Timestamp.Before(t.IgnitionOnTime) || (t.IgnitionOffTime != nil && p.Timestamp.After(*t.IgnitionOffTime)) {
			outside++
		}
	}
	if outside > 0 {
		add(models.WarningPointOutsideTrip, t.IgnitionOnTime,
			fmt.Sprintf("%d route points fall outside the trip window", outside))
	}

	return warnings
}

func cloneTrip(t models.Trip) models.Trip {
	out := t
	if t.RoutePoints != nil {
		out.RoutePoints = append([]models.RoutePoint(nil), t.RoutePoints...)
	}
	if t.ConsolidatedFrom != nil {
		out.ConsolidatedFrom = append([]string(nil), t.ConsolidatedFrom...)
	}
	return out
}

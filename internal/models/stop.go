package models

import "time"

// StopClass is the outcome of a windowed stationary classification
type StopClass int

const (
	// StopIndeterminate means too few samples; treated as not stationary
	StopIndeterminate StopClass = iota
	StopMoving
	StopParked
)

func (c StopClass) String() string {
	switch c {
	case StopMoving:
		return "moving"
	case StopParked:
		return "parked"
	default:
		return "indeterminate"
	}
}

func (c StopClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// IsParked reports whether the class is StopParked
func (c StopClass) IsParked() bool {
	return c == StopParked
}

// Stop is a contiguous low-movement window inside a trip
type Stop struct {
	VehicleID           string    `json:"vehicleId"`
	TripID              string    `json:"tripId,omitempty"`
	StartTime           time.Time `json:"startTime"`
	EndTime             time.Time `json:"endTime"`
	Location            Location  `json:"location"`
	RoutePointsInWindow int       `json:"routePointsInWindow"`
	EngineOnMinutes     float64   `json:"engineOnMinutes"`
	EngineOffMinutes    float64   `json:"engineOffMinutes"`
}

// DurationMinutes returns the stop length in minutes
func (s Stop) DurationMinutes() float64 {
	return s.EndTime.Sub(s.StartTime).Minutes()
}

// ParkingPeriod is a stretch of time the vehicle spent parked between trips
type ParkingPeriod struct {
	VehicleID       string    `json:"vehicleId"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	Location        *Location `json:"location,omitempty"`
	DurationMinutes float64   `json:"durationMinutes"`
	Source          string    `json:"source"`
}

// ParkingPeriod sources
const (
	ParkingSourceGap   = "gap"
	ParkingSourceNoise = "short_trip"
)

// VehicleStatus is the classification of the most recent complete window of a vehicle
type VehicleStatus struct {
	VehicleID   string    `json:"vehicleId"`
	Timestamp   time.Time `json:"timestamp"`
	Class       StopClass `json:"class"`
	SampleCount int       `json:"sampleCount"`
	MaxMovement float64   `json:"maxMovementMeters"`
	AvgMovement float64   `json:"avgMovementMeters"`
	Location    *Location `json:"location,omitempty"`
}

// DataQualityWarning reports an invariant violation found in upstream data.
// Warnings are surfaced, never corrected.
type DataQualityWarning struct {
	Kind      string    `json:"kind"`
	VehicleID string    `json:"vehicleId"`
	TripID    string    `json:"tripId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// DataQualityWarning kinds
const (
	WarningOutOfOrder         = "OUT_OF_ORDER_SAMPLE"
	WarningTripEndBeforeStart = "TRIP_END_BEFORE_START"
	WarningPointOutsideTrip   = "ROUTE_POINT_OUTSIDE_TRIP"
	WarningPointsUnordered    = "ROUTE_POINTS_UNORDERED"
	WarningStartWithoutFix    = "TRIP_START_WITHOUT_FIX"
)

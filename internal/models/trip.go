package models

import "time"

// RoutePoint is a recorded sample attached to a trip
type RoutePoint struct {
	Sample
	TripID   string `json:"tripId,omitempty" db:"trip_id"`
	IsMoving bool   `json:"isMoving" db:"is_moving"`
	Address  string `json:"address,omitempty" db:"address"`
}

// Trip is an ignition-bounded drive of one vehicle
type Trip struct {
	ID          string `json:"id" db:"id"`
	VehicleID   string `json:"vehicleId" db:"vehicle_id"`
	VehicleName string `json:"vehicleName,omitempty" db:"vehicle_name"`

	// Temporal info
	IgnitionOnTime  time.Time  `json:"ignitionOnTime" db:"ignition_on_time"`
	IgnitionOffTime *time.Time `json:"ignitionOffTime,omitempty" db:"ignition_off_time"`
	IsActive        bool       `json:"isActive" db:"is_active"`
	TotalRunTime    float64    `json:"totalRunTime" db:"total_run_time"` // minutes

	// Locations
	StartLocation Location  `json:"startLocation" db:"start_location"`
	EndLocation   *Location `json:"endLocation,omitempty" db:"end_location"`

	// Route
	RoutePoints     []RoutePoint `json:"routePoints,omitempty"`
	RoutePointCount int          `json:"routePointCount" db:"route_point_count"`

	// Distance: odometer delta and GPS path integral are both kept, the
	// path figure overestimates on noisy fixes.
	DistanceTraveled float64 `json:"distanceTraveled" db:"distance_traveled"` // miles
	GPSDistance      float64 `json:"gpsDistance" db:"gps_distance"`           // miles
	DistanceSource   string  `json:"distanceSource" db:"distance_source"`

	// Battery
	BatteryUsed     float64  `json:"batteryUsed" db:"battery_used"` // percent SoC
	StartOdometer   *float64 `json:"startOdometer,omitempty" db:"start_odometer"`
	EndOdometer     *float64 `json:"endOdometer,omitempty" db:"end_odometer"`
	StartBatterySoc *float64 `json:"startBatterySoc,omitempty" db:"start_battery_soc"`
	EndBatterySoc   *float64 `json:"endBatterySoc,omitempty" db:"end_battery_soc"`

	ConsolidatedFrom []string `json:"consolidatedFrom,omitempty" db:"consolidated_from"`

	// Metadata
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// DistanceSource constants
const (
	DistanceSourceOdometer    = "odometer"
	DistanceSourceUnavailable = "unavailable"
)

// EndTime returns the ignition-off time, or the ignition-on time for open trips
func (t *Trip) EndTime() time.Time {
	if t.IgnitionOffTime != nil {
		return *t.IgnitionOffTime
	}
	return t.IgnitionOnTime
}

// PointCount returns the route point count, preferring loaded points
func (t *Trip) PointCount() int {
	if len(t.RoutePoints) > 0 {
		return len(t.RoutePoints)
	}
	return t.RoutePointCount
}

// TripFilter represents filter parameters for querying trips
type TripFilter struct {
	StartTime    int64 `form:"startTime"` // Unix timestamp
	EndTime      int64 `form:"endTime"`   // Unix timestamp
	Consolidated bool  `form:"consolidated"`
	WithPoints   bool  `form:"withPoints"`
}

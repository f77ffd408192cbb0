package models

import "time"

// ClientLocation is a known client or job site from the gazetteer
type ClientLocation struct {
	Address      string  `json:"address" db:"address"`
	ClientName   string  `json:"clientName" db:"client_name"`
	Latitude     float64 `json:"lat" db:"lat"`
	Longitude    float64 `json:"lng" db:"lng"`
	RadiusMeters float64 `json:"radiusMeters" db:"radius_m"`
	ClientType   string  `json:"clientType" db:"client_type"`
	IsActive     bool    `json:"isActive" db:"is_active"`
}

// Match sources
const (
	MatchSourceGazetteer = "gazetteer"
	MatchSourceGeocoded  = "geocoded"
)

// ClientMatch is the result of resolving a coordinate to a client
type ClientMatch struct {
	ClientName     string  `json:"clientName"`
	Address        string  `json:"address,omitempty"`
	ClientType     string  `json:"clientType,omitempty"`
	Source         string  `json:"source"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// Work types attached to job site visits
const (
	WorkTypeService   = "service"
	WorkTypeFullTrip  = "full_trip"
	WorkTypeUnlabeled = "unlabeled"
)

// JobSiteVisit is a stop matched to a client location
type JobSiteVisit struct {
	ClientName      string    `json:"clientName"`
	Address         string    `json:"address,omitempty"`
	Location        Location  `json:"location"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DurationMinutes float64   `json:"durationMinutes"`
	WorkType        string    `json:"workType"`
	TripID          string    `json:"tripId,omitempty"`
}

// StopSummary is a stop that did not resolve to a client (off-job time)
type StopSummary struct {
	Location        Location  `json:"location"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DurationMinutes float64   `json:"durationMinutes"`
	TripID          string    `json:"tripId,omitempty"`
}

// ClientBreakdown aggregates visits per client
type ClientBreakdown struct {
	ClientName   string   `json:"clientName"`
	TotalMinutes float64  `json:"totalMinutes"`
	Visits       int      `json:"visits"`
	Addresses    []string `json:"addresses"`
}

// ProductivityPeriod is the productivity summary of one vehicle-day.
// Times are in minutes.
type ProductivityPeriod struct {
	VehicleID         string            `json:"vehicleId" db:"vehicle_id"`
	Date              string            `json:"date" db:"date"` // YYYY-MM-DD
	TotalOnJobTime    float64           `json:"totalOnJobTime" db:"total_on_job"`
	TotalOffJobTime   float64           `json:"totalOffJobTime" db:"total_off_job"`
	TotalIdleTime     float64           `json:"totalIdleTime" db:"total_idle"`
	TotalDrivingTime  float64           `json:"totalDrivingTime" db:"total_driving"`
	JobSites          []JobSiteVisit    `json:"jobSites"`
	OtherStops        []StopSummary     `json:"otherStops"`
	ProductivityRatio float64           `json:"productivityRatio" db:"productivity_ratio"`
	Efficiency        float64           `json:"efficiency" db:"efficiency"`
	ClientHours       []ClientBreakdown `json:"clientHours"`
	TripCount         int               `json:"tripCount" db:"trip_count"`
	ComputedAt        time.Time         `json:"computedAt" db:"computed_at"`
	SourceUpdatedAt   time.Time         `json:"sourceUpdatedAt" db:"source_updated_at"`
}

// UniqueClients returns the number of distinct clients visited
func (p *ProductivityPeriod) UniqueClients() int {
	seen := make(map[string]bool)
	for _, v := range p.JobSites {
		seen[v.ClientName] = true
	}
	return len(seen)
}

// Report kinds
const (
	ReportWeekly  = "weekly"
	ReportMonthly = "monthly"
	ReportCustom  = "custom"
)

// ProductivityReport composes several daily periods. Times are in hours.
type ProductivityReport struct {
	VehicleID            string               `json:"vehicleId"`
	Kind                 string               `json:"kind"`
	StartDate            string               `json:"startDate"`
	EndDate              string               `json:"endDate"`
	Days                 int                  `json:"days"`
	OnJobHours           float64              `json:"onJobHours"`
	OffJobHours          float64              `json:"offJobHours"`
	IdleHours            float64              `json:"idleHours"`
	DrivingHours         float64              `json:"drivingHours"`
	AverageProductivity  float64              `json:"averageProductivity"`
	AverageUniqueClients float64              `json:"averageUniqueClients"`
	MostProductiveDay    string               `json:"mostProductiveDay,omitempty"`
	HighIdleDays         int                  `json:"highIdleDays"`
	ClientBreakdown      []ClientBreakdown    `json:"clientBreakdown"`
	Recommendations      []string             `json:"recommendations"`
	DailyPeriods         []ProductivityPeriod `json:"dailyPeriods,omitempty"`
}

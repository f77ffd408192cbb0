package behavior

import (
	"sort"
	"time"

	"github.com/jengzang/fleet-records-go/internal/models"
)

// ConsolidationConfig holds the trip merge policy
type ConsolidationConfig struct {
	MergeGap            time.Duration // max gap between fragments that still merges
	NoiseMaxRoutePoints int           // trips with this many points or fewer are parking noise
}

// DefaultConsolidationConfig returns the reference policy
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		MergeGap:            10 * time.Minute,
		NoiseMaxRoutePoints: 2,
	}
}

// ConsolidationResult is the consolidated trip list plus the trips that were
// reclassified as parking noise
type ConsolidationResult struct {
	Trips        []models.Trip
	ParkingNoise []models.Trip
}

// Consolidator merges fragmented ignition trips of one vehicle
type Consolidator struct {
	cfg ConsolidationConfig
}

// NewConsolidator creates a new trip consolidator
func NewConsolidator(cfg ConsolidationConfig) *Consolidator {
	return &Consolidator{cfg: cfg}
}

// Consolidate merges time-adjacent trips and drops very short ones as parking
// noise. Inputs are not modified. Running it on its own output returns the
// same list.
func (c *Consolidator) Consolidate(trips []models.Trip) ConsolidationResult {
	ordered := make([]models.Trip, len(trips))
	copy(ordered, trips)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].IgnitionOnTime.Before(ordered[j].IgnitionOnTime)
	})

	var result ConsolidationResult
	var current *models.Trip

	for _, t := range ordered {
		if t.PointCount() <= c.cfg.NoiseMaxRoutePoints {
			result.ParkingNoise = append(result.ParkingNoise, cloneTrip(t))
			continue
		}

		if current != nil && t.IgnitionOnTime.Sub(current.EndTime()) <= c.cfg.MergeGap {
			mergeInto(current, t)
			continue
		}

		if current != nil {
			result.Trips = append(result.Trips, *current)
		}
		next := cloneTrip(t)
		if len(next.ConsolidatedFrom) == 0 {
			next.ConsolidatedFrom = []string{next.ID}
		}
		current = &next
	}

	if current != nil {
		result.Trips = append(result.Trips, *current)
	}
	return result
}

// mergeInto folds next into cur. The end of the merged trip is the later of
// the two; an open fragment only reopens the trip when it starts after cur has
// ended.
func mergeInto(cur *models.Trip, next models.Trip) {
	count := cur.PointCount() + next.PointCount()

	var extends bool
	switch {
	case next.IgnitionOffTime == nil:
		extends = cur.IgnitionOffTime == nil || next.IgnitionOnTime.After(*cur.IgnitionOffTime)
	case cur.IgnitionOffTime == nil:
		extends = true
	default:
		extends = next.IgnitionOffTime.After(*cur.IgnitionOffTime)
	}
	asOf := cur.EndTime()
	if end := next.EndTime(); end.After(asOf) {
		asOf = end
	}

	if extends {
		cur.IgnitionOffTime = nil
		if next.IgnitionOffTime != nil {
			off := *next.IgnitionOffTime
			cur.IgnitionOffTime = &off
		}
		cur.IsActive = next.IsActive
		if next.EndLocation != nil {
			loc := *next.EndLocation
			cur.EndLocation = &loc
		}
		if next.EndOdometer != nil {
			cur.EndOdometer = next.EndOdometer
		}
		if next.EndBatterySoc != nil {
			cur.EndBatterySoc = next.EndBatterySoc
		}
		cur.GPSDistance += next.GPSDistance
	}

	cur.RoutePoints = append(cur.RoutePoints, next.RoutePoints...)
	sort.SliceStable(cur.RoutePoints, func(i, j int) bool {
		return cur.RoutePoints[i].Timestamp.Before(cur.RoutePoints[j].Timestamp)
	})
	cur.RoutePointCount = count

	if cur.StartOdometer == nil {
		cur.StartOdometer = next.StartOdometer
	}
	if cur.StartBatterySoc == nil {
		cur.StartBatterySoc = next.StartBatterySoc
	}

	if len(next.ConsolidatedFrom) > 0 {
		cur.ConsolidatedFrom = append(cur.ConsolidatedFrom, next.ConsolidatedFrom...)
	} else {
		cur.ConsolidatedFrom = append(cur.ConsolidatedFrom, next.ID)
	}
	if next.UpdatedAt.After(cur.UpdatedAt) {
		cur.UpdatedAt = next.UpdatedAt
	}

	RefreshTripMetrics(cur, asOf)
}

// ParkingPeriods derives the parked stretches inside [from, to) from the gaps
// between consolidated trips. Gaps containing parking-noise trips are tagged
// with their source.
func ParkingPeriods(vehicleID string, consolidated, noise []models.Trip, from, to time.Time) []models.ParkingPeriod {
	var periods []models.ParkingPeriod

	add := func(start, end time.Time, loc *models.Location) {
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if !end.After(start) {
			return
		}
		p := models.ParkingPeriod{
			VehicleID:       vehicleID,
			StartTime:       start,
			EndTime:         end,
			DurationMinutes: end.Sub(start).Minutes(),
			Source:          models.ParkingSourceGap,
		}
		if loc != nil {
			l := *loc
			p.Location = &l
		}
		for _, n := range noise {
			if n.IgnitionOnTime.Before(end) && n.EndTime().After(start) {
				p.Source = models.ParkingSourceNoise
				break
			}
		}
		periods = append(periods, p)
	}

	if len(consolidated) == 0 {
		add(from, to, nil)
		return periods
	}

	first := consolidated[0]
	start := first.StartLocation
	add(from, first.IgnitionOnTime, &start)

	for i := 1; i < len(consolidated); i++ {
		prev := consolidated[i-1]
		if prev.IgnitionOffTime == nil {
			continue
		}
		add(*prev.IgnitionOffTime, consolidated[i].IgnitionOnTime, prev.EndLocation)
	}

	last := consolidated[len(consolidated)-1]
	if last.IgnitionOffTime != nil {
		add(*last.IgnitionOffTime, to, last.EndLocation)
	}

	return periods
}

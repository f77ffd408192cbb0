package stats

import (
	"context"
	"sort"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis/behavior"
	"github.com/jengzang/fleet-records-go/internal/models"
	mathstats "github.com/jengzang/fleet-records-go/internal/stats"
)

// ClientResolver maps a coordinate to a client
type ClientResolver interface {
	Match(ctx context.Context, lat, lng float64) (models.ClientMatch, bool)
}

// ProductivityConfig holds the aggregation and report thresholds
type ProductivityConfig struct {
	Stop     behavior.StopConfig
	Location *time.Location // day boundaries for reports

	LowProductivityRatio   float64 // average ratio below this triggers a recommendation
	LowUniqueClientsPerDay float64
	HighIdleMinutes        float64 // a day with more idle minutes counts as a high idle day
	HighIdleDayShare       float64 // share of high idle days that triggers a recommendation
}

// DefaultProductivityConfig returns the reference thresholds
func DefaultProductivityConfig() ProductivityConfig {
	return ProductivityConfig{
		Stop:                   behavior.DefaultStopConfig(),
		Location:               time.UTC,
		LowProductivityRatio:   0.6,
		LowUniqueClientsPerDay: 3,
		HighIdleMinutes:        60,
		HighIdleDayShare:       0.3,
	}
}

// ProductivityAggregator summarizes one vehicle-day of trips
type ProductivityAggregator struct {
	cfg      ProductivityConfig
	detector *behavior.StopDetector
	resolver ClientResolver
}

// NewProductivityAggregator creates a new productivity aggregator
func NewProductivityAggregator(cfg ProductivityConfig, resolver ClientResolver) *ProductivityAggregator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ProductivityAggregator{
		cfg:      cfg,
		detector: behavior.NewStopDetector(cfg.Stop),
		resolver: resolver,
	}
}

// Config returns the aggregator settings
func (a *ProductivityAggregator) Config() ProductivityConfig {
	return a.cfg
}

// Aggregate builds the productivity period of vehicleID on date (YYYY-MM-DD)
// from its finalized or consolidated trips. All times are minutes. Trips and
// stops crossing a day boundary only count their part inside the day, and a
// trip is counted on the day it started.
func (a *ProductivityAggregator) Aggregate(ctx context.Context, vehicleID, date string, trips []models.Trip) models.ProductivityPeriod {
	period := models.ProductivityPeriod{
		VehicleID:   vehicleID,
		Date:        date,
		JobSites:    []models.JobSiteVisit{},
		OtherStops:  []models.StopSummary{},
		ClientHours: []models.ClientBreakdown{},
		ComputedAt:  time.Now().UTC(),
	}
	day := a.dayWindow(date)

	for _, trip := range trips {
		if trip.UpdatedAt.After(period.SourceUpdatedAt) {
			period.SourceUpdatedAt = trip.UpdatedAt
		}
		if day.contains(trip.IgnitionOnTime) {
			period.TripCount++
		}

		on, end, ok := day.clip(trip.IgnitionOnTime, tripEnd(trip))
		if !ok {
			continue
		}
		minutes := end.Sub(on).Minutes()
		if len(trip.RoutePoints) == 0 {
			a.classifyWholeTrip(ctx, &period, trip, on, end)
			continue
		}

		points := append([]models.RoutePoint(nil), trip.RoutePoints...)
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].Timestamp.Before(points[j].Timestamp)
		})

		stopped := 0.0
		for _, stop := range a.detector.DetectStops(points) {
			start, stopEnd, ok := day.clip(stop.StartTime, stop.EndTime)
			if !ok {
				continue
			}
			dur := stopEnd.Sub(start).Minutes()
			stopped += dur
			idle := stop.EngineOnMinutes
			if full := stop.DurationMinutes(); dur < full {
				idle *= mathstats.SafeRatio(dur, full)
			}
			period.TotalIdleTime += idle

			match, ok := a.match(ctx, stop.Location)
			if ok {
				period.TotalOnJobTime += dur
				period.JobSites = append(period.JobSites, models.JobSiteVisit{
					ClientName:      match.ClientName,
					Address:         match.Address,
					Location:        stop.Location,
					StartTime:       start,
					EndTime:         stopEnd,
					DurationMinutes: dur,
					WorkType:        models.WorkTypeService,
					TripID:          trip.ID,
				})
				continue
			}

			period.TotalOffJobTime += dur
			period.OtherStops = append(period.OtherStops, models.StopSummary{
				Location:        stop.Location,
				StartTime:       start,
				EndTime:         stopEnd,
				DurationMinutes: dur,
				TripID:          trip.ID,
			})
		}

		if driving := minutes - stopped; driving > 0 {
			period.TotalDrivingTime += driving
		}
	}

	worked := period.TotalOnJobTime + period.TotalOffJobTime
	period.ProductivityRatio = mathstats.SafeRatio(period.TotalOnJobTime, worked)
	period.Efficiency = mathstats.SafeRatio(period.TotalOnJobTime+period.TotalDrivingTime, worked)
	period.ClientHours = BreakdownByClient(period.JobSites)

	return period
}

// classifyWholeTrip handles trips without route points: the trip's part in
// [start, end) is on job when its start or end resolves to a client
func (a *ProductivityAggregator) classifyWholeTrip(ctx context.Context, period *models.ProductivityPeriod, trip models.Trip, start, end time.Time) {
	minutes := end.Sub(start).Minutes()
	loc := trip.StartLocation
	match, ok := a.match(ctx, loc)
	if !ok && trip.EndLocation != nil {
		loc = *trip.EndLocation
		match, ok = a.match(ctx, loc)
	}

	if ok {
		period.TotalOnJobTime += minutes
		period.JobSites = append(period.JobSites, models.JobSiteVisit{
			ClientName:      match.ClientName,
			Address:         match.Address,
			Location:        loc,
			StartTime:       start,
			EndTime:         end,
			DurationMinutes: minutes,
			WorkType:        models.WorkTypeFullTrip,
			TripID:          trip.ID,
		})
		return
	}

	period.TotalOffJobTime += minutes
	period.OtherStops = append(period.OtherStops, models.StopSummary{
		Location:        trip.StartLocation,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: minutes,
		TripID:          trip.ID,
	})
}

func (a *ProductivityAggregator) match(ctx context.Context, loc models.Location) (models.ClientMatch, bool) {
	if a.resolver == nil {
		return models.ClientMatch{}, false
	}
	return a.resolver.Match(ctx, loc.Latitude, loc.Longitude)
}

// timeWindow is a half-open [start, end) range. The zero window is unbounded.
type timeWindow struct {
	start, end time.Time
}

// dayWindow returns the report day of date, or the unbounded window when date
// does not parse
func (a *ProductivityAggregator) dayWindow(date string) timeWindow {
	day, err := time.ParseInLocation(DateLayout, date, a.cfg.Location)
	if err != nil {
		return timeWindow{}
	}
	return timeWindow{start: day, end: day.AddDate(0, 0, 1)}
}

func (w timeWindow) contains(t time.Time) bool {
	if w.start.IsZero() {
		return true
	}
	return !t.Before(w.start) && t.Before(w.end)
}

// clip intersects [from, to) with the window and reports whether anything is left
func (w timeWindow) clip(from, to time.Time) (time.Time, time.Time, bool) {
	if !w.start.IsZero() {
		if from.Before(w.start) {
			from = w.start
		}
		if to.After(w.end) {
			to = w.end
		}
	}
	return from, to, to.After(from)
}

// tripEnd is the ignition-off time; open trips run up to their last route point
func tripEnd(t models.Trip) time.Time {
	end := t.EndTime()
	if t.IgnitionOffTime == nil {
		for _, p := range t.RoutePoints {
			if p.Timestamp.After(end) {
				end = p.Timestamp
			}
		}
	}
	return end
}

// BreakdownByClient groups visits by client name, ordered by total minutes
// descending and then by name
func BreakdownByClient(visits []models.JobSiteVisit) []models.ClientBreakdown {
	byClient := make(map[string]*models.ClientBreakdown)
	for _, v := range visits {
		b, ok := byClient[v.ClientName]
		if !ok {
			b = &models.ClientBreakdown{ClientName: v.ClientName}
			byClient[v.ClientName] = b
		}
		b.TotalMinutes += v.DurationMinutes
		b.Visits++
		b.Addresses = appendUnique(b.Addresses, v.Address)
	}
	return sortedBreakdown(byClient)
}

// MergeBreakdowns combines per-client breakdowns, summing minutes and visits
// and taking the union of addresses
func MergeBreakdowns(groups ...[]models.ClientBreakdown) []models.ClientBreakdown {
	byClient := make(map[string]*models.ClientBreakdown)
	for _, group := range groups {
		for _, g := range group {
			b, ok := byClient[g.ClientName]
			if !ok {
				b = &models.ClientBreakdown{ClientName: g.ClientName}
				byClient[g.ClientName] = b
			}
			b.TotalMinutes += g.TotalMinutes
			b.Visits += g.Visits
			for _, addr := range g.Addresses {
				b.Addresses = appendUnique(b.Addresses, addr)
			}
		}
	}
	return sortedBreakdown(byClient)
}

func sortedBreakdown(byClient map[string]*models.ClientBreakdown) []models.ClientBreakdown {
	out := make([]models.ClientBreakdown, 0, len(byClient))
	for _, b := range byClient {
		if b.Addresses == nil {
			b.Addresses = []string{}
		}
		sort.Strings(b.Addresses)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalMinutes != out[j].TotalMinutes {
			return out[i].TotalMinutes > out[j].TotalMinutes
		}
		return out[i].ClientName < out[j].ClientName
	})
	return out
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

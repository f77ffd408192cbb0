package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis/stats"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/observability"
	"github.com/jengzang/fleet-records-go/internal/repository"
)

// ProductivityService computes and caches daily productivity periods and
// composes them into reports
type ProductivityService struct {
	aggregator *stats.ProductivityAggregator
	tripSvc    *TripService
	trips      *repository.TripRepository
	periods    *repository.ProductivityRepository
	freshness  time.Duration
	now        func() time.Time
}

// NewProductivityService creates a new productivity service. A stored period
// is reused while younger than freshness and its source trips are unchanged.
func NewProductivityService(aggregator *stats.ProductivityAggregator, tripSvc *TripService,
	trips *repository.TripRepository, periods *repository.ProductivityRepository, freshness time.Duration) *ProductivityService {
	return &ProductivityService{
		aggregator: aggregator,
		tripSvc:    tripSvc,
		trips:      trips,
		periods:    periods,
		freshness:  freshness,
		now:        time.Now,
	}
}

// ParseDate parses a YYYY-MM-DD date as midnight in the report time zone
func (s *ProductivityService) ParseDate(date string) (time.Time, error) {
	day, err := time.ParseInLocation(stats.DateLayout, date, s.aggregator.Config().Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return day, nil
}

// Today returns the current date in the report time zone
func (s *ProductivityService) Today() string {
	return s.now().In(s.aggregator.Config().Location).Format(stats.DateLayout)
}

// GetDaily returns the productivity period of a vehicle-day. refresh forces a
// recomputation.
func (s *ProductivityService) GetDaily(ctx context.Context, vehicleID, date string, refresh bool) (*models.ProductivityPeriod, error) {
	day, err := s.ParseDate(date)
	if err != nil {
		return nil, err
	}
	from, to := day, day.AddDate(0, 0, 1)

	sourceUpdated, err := s.trips.LatestUpdate(ctx, vehicleID, from, to)
	if err != nil {
		return nil, err
	}

	if !refresh {
		stored, err := s.periods.Get(ctx, vehicleID, date)
		if err != nil {
			return nil, err
		}
		if stored != nil && s.fresh(stored, sourceUpdated) {
			observability.ProductivityComputations.WithLabelValues("cached").Inc()
			return stored, nil
		}
	}

	trips, err := s.tripSvc.ConsolidatedTrips(ctx, vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load trips: %w", err)
	}

	period := s.aggregator.Aggregate(ctx, vehicleID, date, trips)
	period.ComputedAt = s.now().UTC()
	period.SourceUpdatedAt = sourceUpdated

	if err := s.periods.Upsert(ctx, &period); err != nil {
		observability.ProductivityComputations.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.ProductivityComputations.WithLabelValues("computed").Inc()
	log.Printf("[ProductivityService] Computed %s %s: %d trips, ratio %.2f",
		vehicleID, date, period.TripCount, period.ProductivityRatio)

	return &period, nil
}

func (s *ProductivityService) fresh(p *models.ProductivityPeriod, sourceUpdated time.Time) bool {
	if s.now().Sub(p.ComputedAt) >= s.freshness {
		return false
	}
	return !sourceUpdated.After(p.SourceUpdatedAt)
}

// GetReport composes the daily periods of a weekly, monthly or custom range.
// Weekly and monthly reports cover the period containing startDate, which
// defaults to today.
func (s *ProductivityService) GetReport(ctx context.Context, vehicleID string, filter models.ReportFilter) (*models.ProductivityReport, error) {
	kind := filter.Kind
	if kind == "" {
		kind = models.ReportWeekly
	}
	anchorDate := filter.StartDate
	if anchorDate == "" {
		anchorDate = s.Today()
	}
	anchor, err := s.ParseDate(anchorDate)
	if err != nil {
		return nil, err
	}

	var start, end time.Time
	if kind == models.ReportCustom {
		if filter.EndDate == "" {
			return nil, fmt.Errorf("custom reports need an end date")
		}
		if end, err = s.ParseDate(filter.EndDate); err != nil {
			return nil, err
		}
		if end.Before(anchor) {
			return nil, fmt.Errorf("end date %s is before start date %s", filter.EndDate, anchorDate)
		}
		start = anchor
	} else if start, end, err = stats.ReportRange(kind, anchor); err != nil {
		return nil, err
	}

	var periods []models.ProductivityPeriod
	for _, date := range stats.Dates(start, end) {
		p, err := s.GetDaily(ctx, vehicleID, date, false)
		if err != nil {
			return nil, fmt.Errorf("failed to compute %s: %w", date, err)
		}
		periods = append(periods, *p)
	}

	report := s.aggregator.BuildReport(vehicleID, kind, start.Format(stats.DateLayout), end.Format(stats.DateLayout), periods)
	return &report, nil
}

// ListStored returns the periods already computed for a vehicle between two
// dates inclusive. Missing days are not computed.
func (s *ProductivityService) ListStored(ctx context.Context, vehicleID, startDate, endDate string) ([]models.ProductivityPeriod, error) {
	start, err := s.ParseDate(startDate)
	if err != nil {
		return nil, err
	}
	end, err := s.ParseDate(endDate)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s", endDate, startDate)
	}

	periods, err := s.periods.ListRange(ctx, vehicleID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	if periods == nil {
		periods = []models.ProductivityPeriod{}
	}
	return periods, nil
}

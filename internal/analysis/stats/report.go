package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/jengzang/fleet-records-go/internal/models"
	mathstats "github.com/jengzang/fleet-records-go/internal/stats"
)

// DateLayout is the layout of productivity period dates
const DateLayout = "2006-01-02"

// ReportRange returns the first and last day of the weekly or monthly report
// containing anchor. Weeks start on Monday.
func ReportRange(kind string, anchor time.Time) (time.Time, time.Time, error) {
	day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, anchor.Location())

	switch kind {
	case models.ReportWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 6), nil
	case models.ReportMonthly:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		return start, start.AddDate(0, 1, -1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unsupported report kind: %s", kind)
	}
}

// Dates lists every day from start to end inclusive
func Dates(start, end time.Time) []string {
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(DateLayout))
	}
	return out
}

// BuildReport composes daily periods into a weekly or monthly report
func (a *ProductivityAggregator) BuildReport(vehicleID, kind, startDate, endDate string, periods []models.ProductivityPeriod) models.ProductivityReport {
	daily := append([]models.ProductivityPeriod(nil), periods...)
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })

	report := models.ProductivityReport{
		VehicleID:       vehicleID,
		Kind:            kind,
		StartDate:       startDate,
		EndDate:         endDate,
		Days:            len(daily),
		ClientBreakdown: []models.ClientBreakdown{},
		Recommendations: []string{},
		DailyPeriods:    daily,
	}
	if len(daily) == 0 {
		return report
	}

	ratios := make([]float64, 0, len(daily))
	uniqueClients := make([]float64, 0, len(daily))
	breakdowns := make([][]models.ClientBreakdown, 0, len(daily))
	bestRatio := -1.0

	for _, p := range daily {
		report.OnJobHours += p.TotalOnJobTime / 60
		report.OffJobHours += p.TotalOffJobTime / 60
		report.IdleHours += p.TotalIdleTime / 60
		report.DrivingHours += p.TotalDrivingTime / 60

		ratios = append(ratios, p.ProductivityRatio)
		uniqueClients = append(uniqueClients, float64(p.UniqueClients()))
		breakdowns = append(breakdowns, p.ClientHours)

		// strict > keeps the earliest day on ties
		if p.ProductivityRatio > bestRatio {
			bestRatio = p.ProductivityRatio
			report.MostProductiveDay = p.Date
		}
		if p.TotalIdleTime > a.cfg.HighIdleMinutes {
			report.HighIdleDays++
		}
	}

	report.OnJobHours = mathstats.Round(report.OnJobHours, 2)
	report.OffJobHours = mathstats.Round(report.OffJobHours, 2)
	report.IdleHours = mathstats.Round(report.IdleHours, 2)
	report.DrivingHours = mathstats.Round(report.DrivingHours, 2)
	report.AverageProductivity = mathstats.Mean(ratios)
	report.AverageUniqueClients = mathstats.Mean(uniqueClients)
	report.ClientBreakdown = MergeBreakdowns(breakdowns...)
	report.Recommendations = a.recommend(report)

	return report
}

func (a *ProductivityAggregator) recommend(r models.ProductivityReport) []string {
	recs := []string{}

	if r.AverageProductivity < a.cfg.LowProductivityRatio {
		recs = append(recs, fmt.Sprintf(
			"Average productivity is %.0f%%, below the %.0f%% target; review time spent at non-client stops",
			r.AverageProductivity*100, a.cfg.LowProductivityRatio*100))
	}
	if r.AverageUniqueClients < a.cfg.LowUniqueClientsPerDay {
		recs = append(recs, fmt.Sprintf(
			"Only %.1f unique clients per day on average; consider grouping nearby jobs to fit more visits",
			r.AverageUniqueClients))
	}
	if share := mathstats.SafeRatio(float64(r.HighIdleDays), float64(r.Days)); share > a.cfg.HighIdleDayShare {
		recs = append(recs, fmt.Sprintf(
			"%d of %d days had more than %.0f idle minutes; reduce engine-on time while parked",
			r.HighIdleDays, r.Days, a.cfg.HighIdleMinutes))
	}

	return recs
}

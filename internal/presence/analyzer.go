package presence

import "math"

// Anomaly type codes. The thresholds behind them are business constants:
// they are exposed as configuration for visibility, but the defaults are
// load-bearing for compatibility and must not drift.
const (
	AnomalyLongDay         = "LONG_DAY"
	AnomalyShortDay        = "SHORT_DAY"
	AnomalyIncompleteBadge = "INCOMPLETE_BADGE"
	AnomalyTooManyBadges   = "TOO_MANY_BADGES"
)

type Thresholds struct {
	LongDayHours  float64
	ShortDayHours float64
	MaxDailyScans int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LongDayHours:  12,
		ShortDayHours: 2,
		MaxDailyScans: 10,
	}
}

type Anomaly struct {
	Date         string  `json:"date"`
	Type         string  `json:"type"`
	TotalHours   float64 `json:"total_hours"`
	EntriesCount int     `json:"entries_count"`
}

// DetectAnomalies runs every per-day heuristic independently; one day can
// raise several flags.
func DetectAnomalies(days []DailyWorkingTime, thresholds Thresholds) []Anomaly {
	var anomalies []Anomaly
	flag := func(day DailyWorkingTime, anomalyType string) {
		anomalies = append(anomalies, Anomaly{
			Date:         day.Date,
			Type:         anomalyType,
			TotalHours:   day.TotalHours,
			EntriesCount: day.EntriesCount,
		})
	}

	for _, day := range days {
		if day.TotalHours > thresholds.LongDayHours {
			flag(day, AnomalyLongDay)
		}
		if day.TotalHours > 0 && day.TotalHours < thresholds.ShortDayHours {
			flag(day, AnomalyShortDay)
		}
		if day.EntriesCount%2 != 0 {
			flag(day, AnomalyIncompleteBadge)
		}
		if day.EntriesCount > thresholds.MaxDailyScans {
			flag(day, AnomalyTooManyBadges)
		}
	}
	return anomalies
}

type Summary struct {
	TotalMinutes       int     `json:"total_minutes"`
	TotalHours         float64 `json:"total_hours"`
	AverageHoursPerDay float64 `json:"average_hours_per_day"`
	TotalWorkingDays   int     `json:"total_working_days"`
	DayCount           int     `json:"day_count"`
}

// Summarize aggregates a calculated period. The average is over days
// actually worked; eventless days widen DayCount but never dilute it.
func Summarize(period WorkingPeriod) Summary {
	summary := Summary{
		TotalMinutes: period.TotalMinutes,
		TotalHours:   period.TotalHours,
		DayCount:     len(period.Days),
	}
	for _, day := range period.Days {
		if day.TotalMinutes > 0 {
			summary.TotalWorkingDays++
		}
	}
	if summary.TotalWorkingDays > 0 {
		hoursPerDay := float64(period.TotalMinutes) / 60.0 / float64(summary.TotalWorkingDays)
		summary.AverageHoursPerDay = math.Round(hoursPerDay*100) / 100
	}
	return summary
}

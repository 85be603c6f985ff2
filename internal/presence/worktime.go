package presence

import (
	"errors"
	"math"
	"time"

	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/models"
)

var (
	ErrInvalidDateFormat = errors.New("invalid date format")
	ErrInvalidDateRange  = errors.New("invalid date range")
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// ParseDate parses a calendar date in YYYY-MM-DD, UTC midnight.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, ErrInvalidDateFormat
	}
	return parsed, nil
}

// MonthRange resolves YYYY-MM to the first and last day of that month.
func MonthRange(value string) (time.Time, time.Time, error) {
	first, err := time.Parse(monthLayout, value)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidDateFormat
	}
	last := first.AddDate(0, 1, -1)
	return first, last, nil
}

// WeekRange resolves a week start date to its inclusive end, six days on.
func WeekRange(start time.Time) time.Time {
	return start.AddDate(0, 0, 6)
}

type DailyWorkingTime struct {
	Date         string               `json:"date"`
	Status       string               `json:"status"`
	Entries      []models.Pointage    `json:"entries"`
	EntriesCount int                  `json:"entries_count"`
	Sessions     []models.WorkSession `json:"sessions,omitempty"`
	TotalMinutes int                  `json:"total_minutes"`
	TotalHours   float64              `json:"total_hours"`
	IsComplete   bool                 `json:"is_complete"`
}

type WorkingPeriod struct {
	Days         []DailyWorkingTime `json:"days"`
	TotalMinutes int                `json:"total_minutes"`
	TotalHours   float64            `json:"total_hours"`
}

// CalculatorOptions controls the one deliberately open policy: what an
// unmatched trailing entree is worth. The default counts it as zero
// minutes and marks the day incomplete; CountOpenSessionsToNow instead
// counts it up to Now when the open session is still today.
type CalculatorOptions struct {
	CountOpenSessionsToNow bool
	Now                    time.Time
}

// Calculate replays the user's events over [start, end] and rebuilds the
// daily working sessions. Every calendar day of the range appears in the
// result, eventless days included. Minutes are summed exactly; hours are
// rounded to two decimals only at the daily and period aggregates.
func Calculate(events []models.Pointage, start, end time.Time, opts CalculatorOptions) (WorkingPeriod, error) {
	start = truncateToDay(start)
	end = truncateToDay(end)
	if end.Before(start) {
		return WorkingPeriod{}, ErrInvalidDateRange
	}

	byDay := make(map[string][]models.Pointage)
	for _, event := range events {
		key := event.RecordedAt.UTC().Format(dateLayout)
		byDay[key] = append(byDay[key], event)
	}

	var period WorkingPeriod
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format(dateLayout)
		daily := calculateDay(key, byDay[key], opts)
		period.Days = append(period.Days, daily)
		period.TotalMinutes += daily.TotalMinutes
	}
	period.TotalHours = RoundHours(period.TotalMinutes)
	return period, nil
}

func calculateDay(date string, events []models.Pointage, opts CalculatorOptions) DailyWorkingTime {
	daily := DailyWorkingTime{
		Date:       date,
		Status:     models.StatusAbsent,
		Entries:    []models.Pointage{},
		IsComplete: true,
	}
	if len(events) > 0 {
		daily.Status = models.StatusPresent
		daily.Entries = events
	}

	var openStart *time.Time
	for _, event := range events {
		switch event.Type {
		case models.TypeEntree:
			daily.EntriesCount++
			start := event.RecordedAt
			openStart = &start
		case models.TypeSortie:
			daily.EntriesCount++
			if openStart == nil {
				// Exit without a matching entry: nothing to pair.
				daily.IsComplete = false
				continue
			}
			session := models.WorkSession{
				Start:           *openStart,
				End:             event.RecordedAt,
				DurationMinutes: int(event.RecordedAt.Sub(*openStart).Minutes()),
			}
			daily.Sessions = append(daily.Sessions, session)
			daily.TotalMinutes += session.DurationMinutes
			openStart = nil
		case models.TypeAcces:
			// Recorded in Entries but never contributes duration.
		}
	}

	if openStart != nil {
		daily.IsComplete = false
		if opts.CountOpenSessionsToNow && !opts.Now.IsZero() &&
			opts.Now.UTC().Format(dateLayout) == date && opts.Now.After(*openStart) {
			daily.TotalMinutes += int(opts.Now.Sub(*openStart).Minutes())
		}
	}

	daily.TotalHours = RoundHours(daily.TotalMinutes)
	return daily
}

// RoundHours converts minutes to hours with two-decimal rounding. This is
// the only place hours are rounded; intermediate arithmetic stays in
// whole minutes to avoid cumulative drift.
func RoundHours(minutes int) float64 {
	return math.Round(float64(minutes)/60.0*100) / 100
}

func truncateToDay(value time.Time) time.Time {
	value = value.UTC()
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

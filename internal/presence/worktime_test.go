package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/models"
)

func event(eventType string, at time.Time) models.Pointage {
	return models.Pointage{
		PointageID:      "p-" + at.Format("20060102150405"),
		UserID:          "u1",
		BadgeReference:  "B-100",
		ReaderReference: "R-1",
		Type:            eventType,
		ZoneKind:        models.ReaderTypePrincipal,
		RecordedAt:      at,
	}
}

func TestParseDate(t *testing.T) {
	parsed, err := ParseDate("2026-03-09")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %v", parsed)
	}

	if _, err := ParseDate("09/03/2026"); !errors.Is(err, ErrInvalidDateFormat) {
		t.Fatalf("expected ErrInvalidDateFormat, got %v", err)
	}
}

func TestMonthRange(t *testing.T) {
	first, last, err := MonthRange("2026-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Day() != 1 || first.Month() != time.February {
		t.Fatalf("unexpected first day: %v", first)
	}
	if last.Day() != 28 || last.Month() != time.February {
		t.Fatalf("unexpected last day: %v", last)
	}

	if _, _, err := MonthRange("February 2026"); !errors.Is(err, ErrInvalidDateFormat) {
		t.Fatalf("expected ErrInvalidDateFormat, got %v", err)
	}
}

func TestWeekRange(t *testing.T) {
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if end := WeekRange(start); !end.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected week end: %v", end)
	}
}

func TestCalculateRejectsInvertedRange(t *testing.T) {
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if _, err := Calculate(nil, start, start.AddDate(0, 0, -1), CalculatorOptions{}); !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
}

func TestCalculateEmptyDayStillListed(t *testing.T) {
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	period, err := Calculate(nil, start, start.AddDate(0, 0, 2), CalculatorOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(period.Days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(period.Days))
	}
	for _, day := range period.Days {
		if day.Status != models.StatusAbsent || day.TotalHours != 0 || len(day.Entries) != 0 {
			t.Fatalf("eventless day should be absent and empty: %+v", day)
		}
		if !day.IsComplete {
			t.Fatalf("eventless day is trivially complete: %+v", day)
		}
	}
}

func TestCalculatePairsSessions(t *testing.T) {
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	events := []models.Pointage{
		event(models.TypeEntree, day.Add(8*time.Hour)),
		event(models.TypeSortie, day.Add(12*time.Hour)),
		event(models.TypeEntree, day.Add(13*time.Hour)),
		event(models.TypeSortie, day.Add(17*time.Hour+30*time.Minute)),
	}

	period, err := Calculate(events, day, day, CalculatorOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	daily := period.Days[0]
	if daily.TotalMinutes != 510 {
		t.Fatalf("expected 510 minutes, got %d", daily.TotalMinutes)
	}
	if daily.TotalHours != 8.5 {
		t.Fatalf("expected 8.5 hours, got %v", daily.TotalHours)
	}
	if !daily.IsComplete {
		t.Fatal("all entries matched, day must be complete")
	}
	if len(daily.Sessions) != 2 || daily.EntriesCount != 4 {
		t.Fatalf("unexpected sessions: %+v", daily)
	}
	if period.TotalHours != 8.5 {
		t.Fatalf("unexpected period total: %v", period.TotalHours)
	}
}

func TestCalculateAccesIgnoredForDuration(t *testing.T) {
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	events := []models.Pointage{
		event(models.TypeEntree, day.Add(8*time.Hour)),
		event(models.TypeAcces, day.Add(10*time.Hour)),
		event(models.TypeSortie, day.Add(12*time.Hour)),
	}

	period, err := Calculate(events, day, day, CalculatorOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	daily := period.Days[0]
	if daily.TotalMinutes != 240 {
		t.Fatalf("acces must not affect duration, got %d minutes", daily.TotalMinutes)
	}
	if len(daily.Entries) != 3 {
		t.Fatalf("acces must still be recorded, got %d entries", len(daily.Entries))
	}
	if daily.EntriesCount != 2 {
		t.Fatalf("acces does not count as an entry/exit, got %d", daily.EntriesCount)
	}
}

func TestCalculateOpenSessionDefaultsToZero(t *testing.T) {
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	events := []models.Pointage{
		event(models.TypeEntree, day.Add(8*time.Hour)),
	}

	period, err := Calculate(events, day, day, CalculatorOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	daily := period.Days[0]
	if daily.TotalMinutes != 0 {
		t.Fatalf("open session counts zero by default, got %d", daily.TotalMinutes)
	}
	if daily.IsComplete {
		t.Fatal("open session leaves the day incomplete")
	}
}

func TestCalculateOpenSessionCountedToNow(t *testing.T) {
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	events := []models.Pointage{
		event(models.TypeEntree, day.Add(8*time.Hour)),
	}

	period, err := Calculate(events, day, day, CalculatorOptions{
		CountOpenSessionsToNow: true,
		Now:                    day.Add(10*time.Hour + 30*time.Minute),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	daily := period.Days[0]
	if daily.TotalMinutes != 150 {
		t.Fatalf("expected 150 minutes up to now, got %d", daily.TotalMinutes)
	}
	if daily.IsComplete {
		t.Fatal("counted-to-now session is still incomplete")
	}
}

func TestCalculateStraySortieMarksIncomplete(t *testing.T) {
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	events := []models.Pointage{
		event(models.TypeSortie, day.Add(9*time.Hour)),
	}

	period, err := Calculate(events, day, day, CalculatorOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	daily := period.Days[0]
	if daily.IsComplete || daily.TotalMinutes != 0 {
		t.Fatalf("stray sortie: %+v", daily)
	}
}

func TestCalculateReplayIsIdempotent(t *testing.T) {
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	events := []models.Pointage{
		event(models.TypeEntree, day.Add(8*time.Hour)),
		event(models.TypeSortie, day.Add(16*time.Hour+13*time.Minute)),
	}

	first, err := Calculate(events, day, day, CalculatorOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Calculate(events, day, day, CalculatorOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.TotalMinutes != second.TotalMinutes || first.TotalHours != second.TotalHours {
		t.Fatalf("replay diverged: %+v vs %+v", first, second)
	}
	if first.Days[0].TotalMinutes != 493 {
		t.Fatalf("expected 493 minutes, got %d", first.Days[0].TotalMinutes)
	}
}

func TestRoundHoursOnlyAtAggregate(t *testing.T) {
	// 100 minutes = 1.6667h; rounding must happen once, not per-minute.
	if got := RoundHours(100); got != 1.67 {
		t.Fatalf("expected 1.67, got %v", got)
	}
	if got := RoundHours(0); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

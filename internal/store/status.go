package store

import (
	"time"

	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/models"
)

// DeriveStatus replays one day of events, in ascending order, into the
// user's working status. The status is a pure projection of the log:
// calling it twice over the same events yields the same result.
func DeriveStatus(userID string, day time.Time, events []models.Pointage, now time.Time) models.WorkingStatus {
	status := models.WorkingStatus{
		UserID: userID,
		Date:   day.Format("2006-01-02"),
		Status: models.StatusAbsent,
	}

	var openStart *time.Time
	var openKind string
	workedMinutes := 0
	for i := range events {
		event := events[i]
		status.LastAction = &events[i]
		switch event.Type {
		case models.TypeEntree:
			start := event.RecordedAt
			openStart = &start
			openKind = event.ZoneKind
			if event.ZoneKind == models.ReaderTypePrincipal {
				// Sticky for the day: one principal entry opens
				// secondary access until midnight.
				status.CanAccessSecondary = true
			}
		case models.TypeSortie:
			if openStart != nil {
				workedMinutes += int(event.RecordedAt.Sub(*openStart).Minutes())
				openStart = nil
				openKind = ""
			}
		case models.TypeAcces:
			// Pass-through doors never toggle presence.
		}
	}

	if openStart != nil {
		status.Status = models.StatusPresent
		status.CurrentWorkStart = openStart
		status.IsInPrincipalZone = openKind == models.ReaderTypePrincipal
		if now.After(*openStart) {
			workedMinutes += int(now.Sub(*openStart).Minutes())
		}
	}
	status.WorkingTimeToday = workedMinutes
	return status
}

// Decision is the validated outcome of a clock attempt, before anything
// is written.
type Decision struct {
	EventType string
	Warning   string
}

// DecideAction applies the clock business rules to the current derived
// status. minGap is the debounce window between two scans of the same
// badge; force downgrades the soft violations (debounce, secondary before
// principal) to warnings on an otherwise recorded event.
func DecideAction(status models.WorkingStatus, readerType string, force bool, now time.Time, minGap time.Duration) (Decision, error) {
	switch readerType {
	case models.ReaderTypePrincipal, models.ReaderTypeSecondary, models.ReaderTypeMixed:
	default:
		return Decision{}, ErrInvalidType
	}

	var decision Decision
	if status.LastAction != nil && minGap > 0 && now.Sub(status.LastAction.RecordedAt) < minGap {
		if !force {
			return Decision{}, ErrDuplicateScan
		}
		decision.Warning = "duplicate scan within the minimum interval, recorded anyway"
	}

	if readerType == models.ReaderTypeMixed {
		decision.EventType = models.TypeAcces
		return decision, nil
	}

	if status.Status == models.StatusPresent {
		decision.EventType = models.TypeSortie
		return decision, nil
	}

	decision.EventType = models.TypeEntree
	if readerType == models.ReaderTypeSecondary && !status.CanAccessSecondary {
		if !force {
			return Decision{}, ErrSecondaryAccessDenied
		}
		if decision.Warning != "" {
			decision.Warning += "; "
		}
		decision.Warning += "secondary entry without an open principal session"
	}
	return decision, nil
}

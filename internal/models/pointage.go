package models

import "time"

// Pointage is one immutable clock/access event. Rows are append-only:
// every presence or status view is rebuilt by replaying them in order.
type Pointage struct {
	PointageID      string    `json:"pointage_id"`
	UserID          string    `json:"user_id"`
	BadgeReference  string    `json:"badge_reference"`
	ReaderReference string    `json:"reader_reference"`
	Type            string    `json:"type"`
	// ZoneKind snapshots the reader classification at record time so
	// replay does not depend on later zone/service edits.
	ZoneKind   string    `json:"zone_kind"`
	RecordedAt time.Time `json:"recorded_at"`
}

const (
	TypeEntree = "entree"
	TypeSortie = "sortie"
	TypeAcces  = "acces"
)

const (
	StatusAbsent  = "absent"
	StatusPresent = "present"
)

// WorkingStatus is the derived presence view for one user on one day.
// It is recomputed from the day's event log on every query and never
// persisted.
type WorkingStatus struct {
	UserID             string     `json:"user_id"`
	Date               string     `json:"date"`
	Status             string     `json:"status"`
	IsInPrincipalZone  bool       `json:"is_in_principal_zone"`
	CanAccessSecondary bool       `json:"can_access_secondary"`
	CurrentWorkStart   *time.Time `json:"current_work_start,omitempty"`
	WorkingTimeToday   int        `json:"working_time_today"`
	LastAction         *Pointage  `json:"last_action,omitempty"`
}

// WorkSession is the entry/exit pair closed by a sortie event.
type WorkSession struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

// PointageResult is what a successful clock action returns.
type PointageResult struct {
	Pointage    Pointage      `json:"pointage"`
	NewStatus   WorkingStatus `json:"new_status"`
	WorkSession *WorkSession  `json:"work_session,omitempty"`
	Warning     string        `json:"warning,omitempty"`
}

package models

import "time"

type User struct {
	UserID         string `json:"user_id"`
	OrganisationID string `json:"organisation_id"`
	Nom            string `json:"nom"`
	Prenom         string `json:"prenom"`
	Email          string `json:"email"`
}

type Badge struct {
	BadgeID        string     `json:"badge_id"`
	Reference      string     `json:"reference"`
	Technology     string     `json:"technology,omitempty"`
	UserID         *string    `json:"user_id,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	DateExpiration *time.Time `json:"date_expiration,omitempty"`
}

// Expired reports whether the badge carries an expiration date in the past.
// Technology is informational only and never enters access decisions.
func (b Badge) Expired(now time.Time) bool {
	return b.DateExpiration != nil && b.DateExpiration.Before(now)
}

type Service struct {
	ServiceID      string `json:"service_id"`
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
	Level          int    `json:"level"`
	IsPrincipal    bool   `json:"is_principal"`
}

type Zone struct {
	ZoneID   string `json:"zone_id"`
	Name     string `json:"name"`
	Capacity *int   `json:"capacity,omitempty"`
}

type BadgeReader struct {
	ReaderID    string    `json:"reader_id"`
	Reference   string    `json:"reference"`
	InstalledAt time.Time `json:"installed_at"`
	// ServiceType is derived from the reader's zones on every read,
	// never stored.
	ServiceType string   `json:"service_type,omitempty"`
	ZoneIDs     []string `json:"zone_ids,omitempty"`
}

// Reader service types, derived from the services owning the reader's zones.
const (
	ReaderTypePrincipal = "principal"
	ReaderTypeSecondary = "secondary"
	ReaderTypeMixed     = "mixed"
)

type WorkAssignment struct {
	AssignmentID string     `json:"assignment_id"`
	UserID       string     `json:"user_id"`
	ServiceID    string     `json:"service_id"`
	DateDebut    time.Time  `json:"date_debut"`
	DateFin      *time.Time `json:"date_fin,omitempty"`
}

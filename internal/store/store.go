package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/models"
)

type RecordPointageInput struct {
	BadgeReference  string
	ReaderReference string
	Force           bool
	RecordedAt      time.Time
}

type PointageStore interface {
	RecordPointage(ctx context.Context, input RecordPointageInput) (models.PointageResult, error)
	GetWorkingStatus(ctx context.Context, userID string, day time.Time) (models.WorkingStatus, error)
	ListUserPointages(ctx context.Context, userID string, from, to time.Time) ([]models.Pointage, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	ListOrganisationUsers(ctx context.Context, organisationID string) ([]models.User, error)
	ListReaders(ctx context.Context) ([]models.BadgeReader, error)
	VerifyDeviceKey(ctx context.Context, readerReference, key string) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListOutboxEvents(ctx context.Context, organisationID string, after time.Time, limit int) ([]OutboxEvent, error)
}

type Session struct {
	SessionID      string
	UserID         string
	OrganisationID string
	Role           string
	ExpiresAt      time.Time
}

type OutboxEvent struct {
	EventID        string          `json:"event_id"`
	OrganisationID string          `json:"organisation_id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

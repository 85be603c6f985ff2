package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/models"
	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type Store struct {
	pool            *pgxpool.Pool
	minScanInterval time.Duration
}

type Options struct {
	MinScanInterval time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	return &Store{
		pool:            pool,
		minScanInterval: options.MinScanInterval,
	}
}

func (s *Store) RecordPointage(ctx context.Context, input store.RecordPointageInput) (models.PointageResult, error) {
	recordedAt := input.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	recordedAt = recordedAt.UTC()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.PointageResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	badge, err := findBadgeByReference(ctx, tx, input.BadgeReference)
	if err != nil {
		return models.PointageResult{}, err
	}
	if !badge.Active {
		err = store.ErrNoActiveBadge
		return models.PointageResult{}, err
	}
	if badge.Expired(recordedAt) {
		err = store.ErrBadgeExpired
		return models.PointageResult{}, err
	}
	if badge.UserID == nil || *badge.UserID == "" {
		err = store.ErrUserNotFound
		return models.PointageResult{}, err
	}
	userID := *badge.UserID

	// Serialize clock actions per user so two readers scanning the same
	// badge cannot both observe the pre-scan status.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID); err != nil {
		return models.PointageResult{}, err
	}

	user, err := findUser(ctx, tx, userID)
	if err != nil {
		return models.PointageResult{}, err
	}

	readerID, err := findReaderID(ctx, tx, input.ReaderReference)
	if err != nil {
		return models.PointageResult{}, err
	}

	zones, err := loadReaderZones(ctx, tx, readerID)
	if err != nil {
		return models.PointageResult{}, err
	}
	userServices, err := loadActiveServices(ctx, tx, userID, recordedAt)
	if err != nil {
		return models.PointageResult{}, err
	}

	decision, err := store.ResolveAccess(zones, userServices)
	if err != nil {
		return models.PointageResult{}, err
	}

	dayStart := time.Date(recordedAt.Year(), recordedAt.Month(), recordedAt.Day(), 0, 0, 0, 0, time.UTC)
	events, err := loadDayEvents(ctx, tx, userID, dayStart)
	if err != nil {
		return models.PointageResult{}, err
	}

	status := store.DeriveStatus(userID, dayStart, events, recordedAt)
	action, err := store.DecideAction(status, decision.ServiceType, input.Force, recordedAt, s.minScanInterval)
	if err != nil {
		return models.PointageResult{}, err
	}

	pointage := models.Pointage{
		PointageID:      uuid.NewString(),
		UserID:          userID,
		BadgeReference:  input.BadgeReference,
		ReaderReference: input.ReaderReference,
		Type:            action.EventType,
		ZoneKind:        decision.ServiceType,
		RecordedAt:      recordedAt,
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO pointages (pointage_id, user_id, badge_reference, reader_reference, type, zone_kind, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, pointage.PointageID, pointage.UserID, pointage.BadgeReference, pointage.ReaderReference, pointage.Type, pointage.ZoneKind, pointage.RecordedAt); err != nil {
		return models.PointageResult{}, err
	}

	if err = insertOutboxEvent(ctx, tx, user.OrganisationID, pointage); err != nil {
		return models.PointageResult{}, err
	}

	result := models.PointageResult{
		Pointage: pointage,
		Warning:  action.Warning,
	}
	if action.EventType == models.TypeSortie {
		result.WorkSession = closeSession(events, recordedAt)
	}
	result.NewStatus = store.DeriveStatus(userID, dayStart, append(events, pointage), recordedAt)

	if err = tx.Commit(ctx); err != nil {
		return models.PointageResult{}, err
	}
	return result, nil
}

// closeSession pairs the sortie being recorded with the still open entree
// of the replayed day.
func closeSession(events []models.Pointage, end time.Time) *models.WorkSession {
	var openStart *time.Time
	for i := range events {
		switch events[i].Type {
		case models.TypeEntree:
			start := events[i].RecordedAt
			openStart = &start
		case models.TypeSortie:
			openStart = nil
		}
	}
	if openStart == nil {
		return nil
	}
	return &models.WorkSession{
		Start:           *openStart,
		End:             end,
		DurationMinutes: int(end.Sub(*openStart).Minutes()),
	}
}

func (s *Store) GetWorkingStatus(ctx context.Context, userID string, day time.Time) (models.WorkingStatus, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return models.WorkingStatus{}, err
	}

	day = day.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.pool.Query(ctx, `
		SELECT pointage_id, user_id, badge_reference, reader_reference, type, zone_kind, recorded_at
		FROM pointages
		WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at ASC
	`, userID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return models.WorkingStatus{}, err
	}
	events, err := scanPointages(rows)
	if err != nil {
		return models.WorkingStatus{}, err
	}

	// Open sessions on past days stop accruing at midnight.
	now := time.Now().UTC()
	if dayEnd := dayStart.AddDate(0, 0, 1); dayEnd.Before(now) {
		now = dayEnd
	}
	return store.DeriveStatus(userID, dayStart, events, now), nil
}

func (s *Store) ListUserPointages(ctx context.Context, userID string, from, to time.Time) ([]models.Pointage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pointage_id, user_id, badge_reference, reader_reference, type, zone_kind, recorded_at
		FROM pointages
		WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at ASC
	`, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return scanPointages(rows)
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, organisation_id, nom, prenom, email
		FROM users
		WHERE user_id = $1
	`, userID)
	if err := row.Scan(&user.UserID, &user.OrganisationID, &user.Nom, &user.Prenom, &user.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) ListOrganisationUsers(ctx context.Context, organisationID string) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, organisation_id, nom, prenom, email
		FROM users
		WHERE organisation_id = $1
		ORDER BY nom ASC, prenom ASC
	`, organisationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.UserID, &user.OrganisationID, &user.Nom, &user.Prenom, &user.Email); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) ListReaders(ctx context.Context) ([]models.BadgeReader, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT reader_id, reference, installed_at
		FROM readers
		ORDER BY reference ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readers []models.BadgeReader
	byID := make(map[string]int)
	for rows.Next() {
		var reader models.BadgeReader
		if err := rows.Scan(&reader.ReaderID, &reader.Reference, &reader.InstalledAt); err != nil {
			return nil, err
		}
		byID[reader.ReaderID] = len(readers)
		readers = append(readers, reader)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	zoneRows, err := s.pool.Query(ctx, `
		SELECT rz.reader_id, rz.zone_id, COALESCE(zs.service_id::text, ''), COALESCE(sv.is_principal, FALSE)
		FROM reader_zones rz
		LEFT JOIN zone_services zs ON zs.zone_id = rz.zone_id
		LEFT JOIN services sv ON sv.service_id = zs.service_id
	`)
	if err != nil {
		return nil, err
	}
	defer zoneRows.Close()

	zonesByReader := make(map[string][]store.ZoneService)
	seenZones := make(map[string]map[string]bool)
	for zoneRows.Next() {
		var readerID string
		var zs store.ZoneService
		if err := zoneRows.Scan(&readerID, &zs.ZoneID, &zs.ServiceID, &zs.IsPrincipal); err != nil {
			return nil, err
		}
		zonesByReader[readerID] = append(zonesByReader[readerID], zs)
		if seenZones[readerID] == nil {
			seenZones[readerID] = make(map[string]bool)
		}
		seenZones[readerID][zs.ZoneID] = true
	}
	if err := zoneRows.Err(); err != nil {
		return nil, err
	}

	for readerID, idx := range byID {
		for zoneID := range seenZones[readerID] {
			readers[idx].ZoneIDs = append(readers[idx].ZoneIDs, zoneID)
		}
		if serviceType, err := store.ClassifyReader(zonesByReader[readerID]); err == nil {
			readers[idx].ServiceType = serviceType
		}
	}
	return readers, nil
}

func (s *Store) VerifyDeviceKey(ctx context.Context, readerReference, key string) error {
	var hash string
	row := s.pool.QueryRow(ctx, `SELECT device_key_hash FROM readers WHERE reference = $1`, readerReference)
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrReaderNotFound
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return store.ErrDeviceKeyInvalid
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, organisation_id, role, expires_at
		FROM sessions
		WHERE session_id = $1
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.OrganisationID, &session.Role, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	if session.ExpiresAt.Before(time.Now()) {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, organisationID string, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, organisation_id, event_type, payload, created_at
		FROM outbox_events
		WHERE organisation_id = $1 AND created_at > $2
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, organisationID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.OrganisationID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListAllOutboxEvents feeds the realtime poller across organisations.
// The (created_at, event_id) keyset keeps events sharing a timestamp
// from being skipped across batch boundaries.
func (s *Store) ListAllOutboxEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, organisation_id, event_type, payload, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, after, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.OrganisationID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func findBadgeByReference(ctx context.Context, tx pgx.Tx, reference string) (models.Badge, error) {
	var badge models.Badge
	var userID sql.NullString
	var expiration sql.NullTime
	row := tx.QueryRow(ctx, `
		SELECT badge_id, reference, user_id, active, created_at, date_expiration
		FROM badges
		WHERE reference = $1
	`, reference)
	if err := row.Scan(&badge.BadgeID, &badge.Reference, &userID, &badge.Active, &badge.CreatedAt, &expiration); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Badge{}, store.ErrBadgeNotFound
		}
		return models.Badge{}, err
	}
	if userID.Valid {
		badge.UserID = &userID.String
	}
	if expiration.Valid {
		when := expiration.Time
		badge.DateExpiration = &when
	}
	return badge, nil
}

func findUser(ctx context.Context, tx pgx.Tx, userID string) (models.User, error) {
	var user models.User
	row := tx.QueryRow(ctx, `
		SELECT user_id, organisation_id, nom, prenom, email
		FROM users
		WHERE user_id = $1
	`, userID)
	if err := row.Scan(&user.UserID, &user.OrganisationID, &user.Nom, &user.Prenom, &user.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func findReaderID(ctx context.Context, tx pgx.Tx, reference string) (string, error) {
	var readerID string
	row := tx.QueryRow(ctx, `SELECT reader_id FROM readers WHERE reference = $1`, reference)
	if err := row.Scan(&readerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrReaderNotFound
		}
		return "", err
	}
	return readerID, nil
}

func loadReaderZones(ctx context.Context, tx pgx.Tx, readerID string) ([]store.ZoneService, error) {
	rows, err := tx.Query(ctx, `
		SELECT rz.zone_id, COALESCE(zs.service_id::text, ''), COALESCE(sv.is_principal, FALSE)
		FROM reader_zones rz
		LEFT JOIN zone_services zs ON zs.zone_id = rz.zone_id
		LEFT JOIN services sv ON sv.service_id = zs.service_id
		WHERE rz.reader_id = $1
	`, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []store.ZoneService
	for rows.Next() {
		var zs store.ZoneService
		if err := rows.Scan(&zs.ZoneID, &zs.ServiceID, &zs.IsPrincipal); err != nil {
			return nil, err
		}
		zones = append(zones, zs)
	}
	return zones, rows.Err()
}

func loadActiveServices(ctx context.Context, tx pgx.Tx, userID string, at time.Time) ([]store.UserService, error) {
	rows, err := tx.Query(ctx, `
		SELECT wa.service_id, sv.is_principal
		FROM work_assignments wa
		JOIN services sv ON sv.service_id = wa.service_id
		WHERE wa.user_id = $1 AND wa.date_debut <= $2 AND (wa.date_fin IS NULL OR wa.date_fin >= $2)
	`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []store.UserService
	for rows.Next() {
		var us store.UserService
		if err := rows.Scan(&us.ServiceID, &us.IsPrincipal); err != nil {
			return nil, err
		}
		services = append(services, us)
	}
	return services, rows.Err()
}

func loadDayEvents(ctx context.Context, tx pgx.Tx, userID string, dayStart time.Time) ([]models.Pointage, error) {
	rows, err := tx.Query(ctx, `
		SELECT pointage_id, user_id, badge_reference, reader_reference, type, zone_kind, recorded_at
		FROM pointages
		WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at ASC
	`, userID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return scanPointages(rows)
}

func scanPointages(rows pgx.Rows) ([]models.Pointage, error) {
	defer rows.Close()
	var events []models.Pointage
	for rows.Next() {
		var event models.Pointage
		if err := rows.Scan(&event.PointageID, &event.UserID, &event.BadgeReference, &event.ReaderReference, &event.Type, &event.ZoneKind, &event.RecordedAt); err != nil {
			return nil, err
		}
		event.RecordedAt = event.RecordedAt.UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, organisationID string, pointage models.Pointage) error {
	payload, err := json.Marshal(map[string]interface{}{
		"pointage_id":      pointage.PointageID,
		"organisation_id":  organisationID,
		"user_id":          pointage.UserID,
		"badge_reference":  pointage.BadgeReference,
		"reader_reference": pointage.ReaderReference,
		"type":             pointage.Type,
		"zone_kind":        pointage.ZoneKind,
		"recorded_at":      pointage.RecordedAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, organisation_id, event_type, payload, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, uuid.NewString(), organisationID, "pointage.recorded", payload, time.Now().UTC())
	return err
}

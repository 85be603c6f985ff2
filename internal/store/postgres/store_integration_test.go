package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/models"
	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

func TestRecordPointageLifecycle(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, 0)
	t.Cleanup(cleanup)

	seed := seedAccessData(t, ctx, pool)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	entree, err := st.RecordPointage(ctx, store.RecordPointageInput{
		BadgeReference:  seed.badgeRef,
		ReaderReference: seed.principalReaderRef,
		RecordedAt:      day.Add(9 * time.Hour),
	})
	if err != nil {
		t.Fatalf("record entree: %v", err)
	}
	if entree.Pointage.Type != models.TypeEntree {
		t.Fatalf("expected entree, got %q", entree.Pointage.Type)
	}
	if entree.NewStatus.Status != models.StatusPresent || !entree.NewStatus.CanAccessSecondary {
		t.Fatalf("unexpected status after entree: %+v", entree.NewStatus)
	}

	sortie, err := st.RecordPointage(ctx, store.RecordPointageInput{
		BadgeReference:  seed.badgeRef,
		ReaderReference: seed.principalReaderRef,
		RecordedAt:      day.Add(17 * time.Hour),
	})
	if err != nil {
		t.Fatalf("record sortie: %v", err)
	}
	if sortie.Pointage.Type != models.TypeSortie {
		t.Fatalf("expected sortie, got %q", sortie.Pointage.Type)
	}
	if sortie.WorkSession == nil || sortie.WorkSession.DurationMinutes != 480 {
		t.Fatalf("expected 480 minute session, got %+v", sortie.WorkSession)
	}
	if sortie.NewStatus.Status != models.StatusAbsent || sortie.NewStatus.WorkingTimeToday != 480 {
		t.Fatalf("unexpected status after sortie: %+v", sortie.NewStatus)
	}

	status, err := st.GetWorkingStatus(ctx, seed.userID, day)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.WorkingTimeToday != 480 {
		t.Fatalf("expected 480 worked minutes on replay, got %d", status.WorkingTimeToday)
	}

	var eventCount int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox_events WHERE event_type = 'pointage.recorded'
	`).Scan(&eventCount); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if eventCount != 2 {
		t.Fatalf("expected 2 outbox events, got %d", eventCount)
	}
}

func TestSecondaryRequiresPrincipalSession(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, 0)
	t.Cleanup(cleanup)

	seed := seedAccessData(t, ctx, pool)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := st.RecordPointage(ctx, store.RecordPointageInput{
		BadgeReference:  seed.badgeRef,
		ReaderReference: seed.secondaryReaderRef,
		RecordedAt:      day.Add(8 * time.Hour),
	})
	if !errors.Is(err, store.ErrSecondaryAccessDenied) {
		t.Fatalf("expected ErrSecondaryAccessDenied, got %v", err)
	}

	forced, err := st.RecordPointage(ctx, store.RecordPointageInput{
		BadgeReference:  seed.badgeRef,
		ReaderReference: seed.secondaryReaderRef,
		Force:           true,
		RecordedAt:      day.Add(8 * time.Hour),
	})
	if err != nil {
		t.Fatalf("forced record: %v", err)
	}
	if forced.Warning == "" {
		t.Fatal("forced secondary entry should carry a warning")
	}
}

func TestDuplicateScanDebounce(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, 30*time.Second)
	t.Cleanup(cleanup)

	seed := seedAccessData(t, ctx, pool)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	if _, err := st.RecordPointage(ctx, store.RecordPointageInput{
		BadgeReference:  seed.badgeRef,
		ReaderReference: seed.principalReaderRef,
		RecordedAt:      day.Add(9 * time.Hour),
	}); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	_, err := st.RecordPointage(ctx, store.RecordPointageInput{
		BadgeReference:  seed.badgeRef,
		ReaderReference: seed.principalReaderRef,
		RecordedAt:      day.Add(9*time.Hour + 10*time.Second),
	})
	if !errors.Is(err, store.ErrDuplicateScan) {
		t.Fatalf("expected ErrDuplicateScan, got %v", err)
	}

	second, err := st.RecordPointage(ctx, store.RecordPointageInput{
		BadgeReference:  seed.badgeRef,
		ReaderReference: seed.principalReaderRef,
		RecordedAt:      day.Add(9*time.Hour + 45*time.Second),
	})
	if err != nil {
		t.Fatalf("scan after debounce window: %v", err)
	}
	if second.Pointage.Type != models.TypeSortie {
		t.Fatalf("expected sortie after open session, got %q", second.Pointage.Type)
	}
}

func TestConcurrentScansSerialize(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, 0)
	t.Cleanup(cleanup)

	seed := seedAccessData(t, ctx, pool)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	results := make(chan models.PointageResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(offset time.Duration) {
			defer wg.Done()
			result, err := st.RecordPointage(ctx, store.RecordPointageInput{
				BadgeReference:  seed.badgeRef,
				ReaderReference: seed.principalReaderRef,
				RecordedAt:      day.Add(9*time.Hour + offset),
			})
			if err != nil {
				t.Errorf("concurrent record: %v", err)
				return
			}
			results <- result
		}(time.Duration(i) * time.Minute)
	}
	wg.Wait()
	close(results)

	types := map[string]int{}
	for result := range results {
		types[result.Pointage.Type]++
	}
	if types[models.TypeEntree] != 1 || types[models.TypeSortie] != 1 {
		t.Fatalf("expected one entree and one sortie, got %v", types)
	}
}

func TestExpiredAndInactiveBadges(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, 0)
	t.Cleanup(cleanup)

	seed := seedAccessData(t, ctx, pool)
	expired := day(2020, 1, 1)
	if _, err := pool.Exec(ctx, `
		UPDATE badges SET date_expiration = $1 WHERE reference = $2
	`, expired, seed.badgeRef); err != nil {
		t.Fatalf("expire badge: %v", err)
	}

	_, err := st.RecordPointage(ctx, store.RecordPointageInput{
		BadgeReference:  seed.badgeRef,
		ReaderReference: seed.principalReaderRef,
		RecordedAt:      time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrBadgeExpired) {
		t.Fatalf("expected ErrBadgeExpired, got %v", err)
	}

	if _, err := pool.Exec(ctx, `
		UPDATE badges SET date_expiration = NULL, active = FALSE WHERE reference = $1
	`, seed.badgeRef); err != nil {
		t.Fatalf("deactivate badge: %v", err)
	}
	_, err = st.RecordPointage(ctx, store.RecordPointageInput{
		BadgeReference:  seed.badgeRef,
		ReaderReference: seed.principalReaderRef,
		RecordedAt:      time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrNoActiveBadge) {
		t.Fatalf("expected ErrNoActiveBadge, got %v", err)
	}

	_, err = st.RecordPointage(ctx, store.RecordPointageInput{
		BadgeReference:  "unknown-badge",
		ReaderReference: seed.principalReaderRef,
		RecordedAt:      time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrBadgeNotFound) {
		t.Fatalf("expected ErrBadgeNotFound, got %v", err)
	}
}

func TestOutboxFeedKeepsSameTimestampEvents(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, 0)
	t.Cleanup(cleanup)

	organisationID := uuid.NewString()
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ids := []string{"a-" + uuid.NewString(), "b-" + uuid.NewString(), "c-" + uuid.NewString()}
	for i, id := range ids {
		createdAt := at
		if i == 2 {
			createdAt = at.Add(time.Second)
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO outbox_events (event_id, organisation_id, event_type, payload, created_at)
			VALUES ($1, $2, 'pointage.recorded', '{}', $3)
		`, id, organisationID, createdAt); err != nil {
			t.Fatalf("insert outbox event: %v", err)
		}
	}

	cursor := at.Add(-time.Minute)
	cursorID := ""
	var seen []string
	for {
		events, err := st.ListAllOutboxEvents(ctx, cursor, cursorID, 1)
		if err != nil {
			t.Fatalf("list outbox events: %v", err)
		}
		if len(events) == 0 {
			break
		}
		for _, event := range events {
			seen = append(seen, event.EventID)
			cursor = event.CreatedAt
			cursorID = event.EventID
		}
	}

	if len(seen) != 3 {
		t.Fatalf("expected all 3 events across batches, got %d: %v", len(seen), seen)
	}
	// The two events sharing a timestamp must both survive the batch
	// boundary between them.
	if seen[0] >= seen[1] {
		t.Fatalf("same-timestamp events out of keyset order: %v", seen)
	}
}

func TestVerifyDeviceKey(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, 0)
	t.Cleanup(cleanup)

	seed := seedAccessData(t, ctx, pool)

	if err := st.VerifyDeviceKey(ctx, seed.principalReaderRef, "device-key"); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if err := st.VerifyDeviceKey(ctx, seed.principalReaderRef, "wrong-key"); !errors.Is(err, store.ErrDeviceKeyInvalid) {
		t.Fatalf("expected ErrDeviceKeyInvalid, got %v", err)
	}
	if err := st.VerifyDeviceKey(ctx, "unknown-reader", "device-key"); !errors.Is(err, store.ErrReaderNotFound) {
		t.Fatalf("expected ErrReaderNotFound, got %v", err)
	}
}

func TestListReadersClassification(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, 0)
	t.Cleanup(cleanup)

	seed := seedAccessData(t, ctx, pool)

	readers, err := st.ListReaders(ctx)
	if err != nil {
		t.Fatalf("list readers: %v", err)
	}
	byRef := map[string]models.BadgeReader{}
	for _, reader := range readers {
		byRef[reader.Reference] = reader
	}
	if byRef[seed.principalReaderRef].ServiceType != models.ReaderTypePrincipal {
		t.Fatalf("expected principal reader, got %+v", byRef[seed.principalReaderRef])
	}
	if byRef[seed.secondaryReaderRef].ServiceType != models.ReaderTypeSecondary {
		t.Fatalf("expected secondary reader, got %+v", byRef[seed.secondaryReaderRef])
	}
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

type seedData struct {
	organisationID     string
	userID             string
	badgeRef           string
	principalReaderRef string
	secondaryReaderRef string
}

func setupTestStore(t *testing.T, ctx context.Context, minScanInterval time.Duration) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{MinScanInterval: minScanInterval})
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedAccessData(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedData {
	t.Helper()
	seed := seedData{
		organisationID:     uuid.NewString(),
		userID:             uuid.NewString(),
		badgeRef:           "B-" + uuid.NewString()[:8],
		principalReaderRef: "R-P-" + uuid.NewString()[:8],
		secondaryReaderRef: "R-S-" + uuid.NewString()[:8],
	}
	principalServiceID := uuid.NewString()
	secondaryServiceID := uuid.NewString()
	principalZoneID := uuid.NewString()
	secondaryZoneID := uuid.NewString()
	principalReaderID := uuid.NewString()
	secondaryReaderID := uuid.NewString()

	keyHash, err := bcrypt.GenerateFromPassword([]byte("device-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash device key: %v", err)
	}

	exec := func(query string, args ...interface{}) {
		t.Helper()
		if _, err := pool.Exec(ctx, query, args...); err != nil {
			t.Fatalf("seed %q: %v", query[:40], err)
		}
	}

	exec(`INSERT INTO organisations (organisation_id, name) VALUES ($1, 'Org')`, seed.organisationID)
	exec(`INSERT INTO users (user_id, organisation_id, nom, prenom, email) VALUES ($1, $2, 'Dupont', 'Marie', 'marie@example.com')`,
		seed.userID, seed.organisationID)
	exec(`INSERT INTO badges (badge_id, reference, user_id, active, created_at) VALUES ($1, $2, $3, TRUE, now())`,
		uuid.NewString(), seed.badgeRef, seed.userID)
	exec(`INSERT INTO services (service_id, organisation_id, name, level, is_principal) VALUES ($1, $2, 'Principal', 1, TRUE)`,
		principalServiceID, seed.organisationID)
	exec(`INSERT INTO services (service_id, organisation_id, name, level, is_principal) VALUES ($1, $2, 'Secondary', 2, FALSE)`,
		secondaryServiceID, seed.organisationID)
	exec(`INSERT INTO zones (zone_id, name) VALUES ($1, 'Zone P')`, principalZoneID)
	exec(`INSERT INTO zones (zone_id, name) VALUES ($1, 'Zone S')`, secondaryZoneID)
	exec(`INSERT INTO zone_services (zone_id, service_id) VALUES ($1, $2)`, principalZoneID, principalServiceID)
	exec(`INSERT INTO zone_services (zone_id, service_id) VALUES ($1, $2)`, secondaryZoneID, secondaryServiceID)
	exec(`INSERT INTO readers (reader_id, reference, installed_at, device_key_hash) VALUES ($1, $2, now(), $3)`,
		principalReaderID, seed.principalReaderRef, string(keyHash))
	exec(`INSERT INTO readers (reader_id, reference, installed_at, device_key_hash) VALUES ($1, $2, now(), $3)`,
		secondaryReaderID, seed.secondaryReaderRef, string(keyHash))
	exec(`INSERT INTO reader_zones (reader_id, zone_id) VALUES ($1, $2)`, principalReaderID, principalZoneID)
	exec(`INSERT INTO reader_zones (reader_id, zone_id) VALUES ($1, $2)`, secondaryReaderID, secondaryZoneID)
	exec(`INSERT INTO work_assignments (assignment_id, user_id, service_id, date_debut) VALUES ($1, $2, $3, '2020-01-01')`,
		uuid.NewString(), seed.userID, principalServiceID)
	exec(`INSERT INTO work_assignments (assignment_id, user_id, service_id, date_debut) VALUES ($1, $2, $3, '2020-01-01')`,
		uuid.NewString(), seed.userID, secondaryServiceID)

	return seed
}

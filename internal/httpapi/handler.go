package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/presence"
	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.PointageStore
	opts  Options
}

type Options struct {
	CountOpenSessions bool
	Thresholds        presence.Thresholds
}

type recordPointageRequest struct {
	BadgeReference  string `json:"badge_reference"`
	ReaderReference string `json:"reader_reference"`
	Force           bool   `json:"force"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(store store.PointageStore, opts Options) *Handler {
	if opts.Thresholds == (presence.Thresholds{}) {
		opts.Thresholds = presence.DefaultThresholds()
	}
	return &Handler{store: store, opts: opts}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/pointages", h.handlePointages)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/readers", h.handleReaders)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/presence/daily", h.handleDailyPresence)
	mux.HandleFunc("/api/presence/weekly", h.handleWeeklyPresence)
	mux.HandleFunc("/api/presence/monthly", h.handleMonthlyPresence)
	mux.HandleFunc("/api/presence/organisation", h.handleOrganisationPresence)
	mux.HandleFunc("/api/presence/organisation/export", h.handleOrganisationExport)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handlePointages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleRecordPointage(w, r)
	case http.MethodGet:
		h.handleListPointages(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRecordPointage(w http.ResponseWriter, r *http.Request) {
	var req recordPointageRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON payload")
		return
	}

	req.BadgeReference = strings.TrimSpace(req.BadgeReference)
	req.ReaderReference = strings.TrimSpace(req.ReaderReference)
	if req.BadgeReference == "" || req.ReaderReference == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "badge_reference and reader_reference are required")
		return
	}

	deviceKey := strings.TrimSpace(r.Header.Get("X-Device-Key"))
	if deviceKey == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing device key")
		return
	}
	if err := h.store.VerifyDeviceKey(r.Context(), req.ReaderReference, deviceKey); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	result, err := h.store.RecordPointage(r.Context(), store.RecordPointageInput{
		BadgeReference:  req.BadgeReference,
		ReaderReference: req.ReaderReference,
		Force:           req.Force,
		RecordedAt:      time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListPointages(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if !isValidUUID(userID) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a UUID")
		return
	}
	if !requireUserAccess(w, r, userID) {
		return
	}

	from, to, ok := parseDateRange(w, r, "from", "to")
	if !ok {
		return
	}

	events, err := h.store.ListUserPointages(r.Context(), userID, from, to.AddDate(0, 0, 1))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if !isValidUUID(userID) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a UUID")
		return
	}
	if !requireUserAccess(w, r, userID) {
		return
	}

	day := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := presence.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DATE_FORMAT", "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	status, err := h.store.GetWorkingStatus(r.Context(), userID, day)
	if err != nil {
		status2, code, msg := mapError(err)
		writeError(w, status2, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleReaders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := sessionFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
		return
	}

	readers, err := h.store.ListReaders(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, readers)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
		return
	}

	var after time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), session.OrganisationID, after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func parseDateRange(w http.ResponseWriter, r *http.Request, fromKey, toKey string) (time.Time, time.Time, bool) {
	fromRaw := strings.TrimSpace(r.URL.Query().Get(fromKey))
	toRaw := strings.TrimSpace(r.URL.Query().Get(toKey))
	if fromRaw == "" || toRaw == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fromKey+" and "+toKey+" are required")
		return time.Time{}, time.Time{}, false
	}
	from, err := presence.ParseDate(fromRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE_FORMAT", fromKey+" must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	to, err := presence.ParseDate(toRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE_FORMAT", toKey+" must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "INVALID_DATE_RANGE", toKey+" must not precede "+fromKey)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrBadgeNotFound):
		return http.StatusNotFound, "BADGE_NOT_FOUND", "badge not found"
	case errors.Is(err, store.ErrBadgeExpired):
		return http.StatusForbidden, "BADGE_EXPIRED", "badge has expired"
	case errors.Is(err, store.ErrNoActiveBadge):
		return http.StatusForbidden, "NO_ACTIVE_BADGE", "badge is not active"
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND", "badge is not assigned to a user"
	case errors.Is(err, store.ErrReaderNotFound):
		return http.StatusNotFound, "BADGEUSE_NOT_FOUND", "badge reader not found"
	case errors.Is(err, store.ErrNoZonesConfigured):
		return http.StatusConflict, "NO_ZONES_CONFIGURED", "badge reader has no zones configured"
	case errors.Is(err, store.ErrZoneAccessDenied):
		return http.StatusForbidden, "ZONE_ACCESS_DENIED", "no service grants access to this reader"
	case errors.Is(err, store.ErrSecondaryAccessDenied):
		return http.StatusForbidden, "SECONDARY_ACCESS_DENIED", "open a principal session before entering a secondary zone"
	case errors.Is(err, store.ErrNoPrincipalService):
		return http.StatusConflict, "NO_PRINCIPAL_SERVICE", "user has no principal service assignment"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "ACCESS_DENIED", "access denied"
	case errors.Is(err, store.ErrInvalidType):
		return http.StatusBadRequest, "INVALID_TYPE", "invalid pointage type"
	case errors.Is(err, store.ErrDuplicateScan):
		return http.StatusConflict, "DUPLICATE_SCAN", "duplicate scan, wait before badging again"
	case errors.Is(err, store.ErrDeviceKeyInvalid):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid device key"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid session"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

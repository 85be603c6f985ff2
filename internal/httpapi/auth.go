package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/store"
)

type contextKey string

const sessionContextKey contextKey = "session"

// SessionMiddleware resolves the caller's session and stores it on the
// request context. Health, metrics, the realtime endpoint and the badge
// reader ingest path skip it; readers authenticate with a device key
// instead of a session.
func SessionMiddleware(s store.PointageStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicRoute(r) {
			next.ServeHTTP(w, r)
			return
		}

		sessionID := extractSessionID(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
			return
		}

		session, err := s.GetSession(r.Context(), sessionID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "session expired")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicRoute(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/pointages" {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/realtime")
}

func extractSessionID(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(store.Session)
	return session, ok
}

// requireUserAccess allows a user to read their own data and an admin to
// read anyone's.
func requireUserAccess(w http.ResponseWriter, r *http.Request, userID string) bool {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
		return false
	}
	if session.Role != "admin" && session.UserID != userID {
		status, code, _ := mapError(store.ErrAccessDenied)
		writeError(w, status, code, "cannot read another user's data")
		return false
	}
	return true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (store.Session, bool) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
		return store.Session{}, false
	}
	if session.Role != "admin" {
		status, code, _ := mapError(store.ErrAccessDenied)
		writeError(w, status, code, "organisation reports require the admin role")
		return store.Session{}, false
	}
	return session, true
}

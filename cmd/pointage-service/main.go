package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/config"
	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/httpapi"
	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/hub"
	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/presence"
	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/store/postgres"
	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("pointage-service", telemetry.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
		Site:        cfg.SiteName,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool, postgres.Options{
		MinScanInterval: cfg.MinScanInterval,
	})
	handler := httpapi.NewHandler(store, httpapi.Options{
		CountOpenSessions: cfg.CountOpenSessions,
		Thresholds: presence.Thresholds{
			LongDayHours:  cfg.LongDayHours,
			ShortDayHours: cfg.ShortDayHours,
			MaxDailyScans: cfg.MaxDailyScans,
		},
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		BadgePerMinute: cfg.BadgeRateLimitPerMinute,
		BadgeBurst:     cfg.BadgeRateLimitBurst,
	})
	h := hub.New()

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	sockjsHandler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		req := session.Request()
		sessionID := sessionIDFromRequest(req)
		if sessionID == "" {
			_ = session.Close(4001, "missing session")
			return
		}
		authSession, err := store.GetSession(context.Background(), sessionID)
		if err != nil {
			_ = session.Close(4002, "invalid session")
			return
		}

		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		// Default to the caller's whole organisation until they narrow it.
		h.UpdateSubscription(client, hub.Subscription{OrganisationID: authSession.OrganisationID})

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{OrganisationID: authSession.OrganisationID})
				continue
			}
			// Subscriptions never cross the caller's organisation.
			h.UpdateSubscription(client, hub.Subscription{
				OrganisationID:  authSession.OrganisationID,
				UserID:          parsed.UserID,
				ReaderReference: parsed.ReaderReference,
			})
		}
	})
	mux.Handle("/realtime/", sockjsHandler)

	chained := httpapi.LoggingMiddleware(limiter.Middleware(httpapi.SessionMiddleware(store, mux)))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(chained, "pointage-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("pointage-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Outbox poller: fans freshly recorded pointages out to the hub. The
	// cursor starts at boot; the feed is live, history goes through
	// GET /api/events.
	go func() {
		if cfg.FeedPollInterval <= 0 {
			cfg.FeedPollInterval = time.Second
		}
		cursor := time.Now().UTC()
		cursorID := ""
		var running int32
		ticker := time.NewTicker(cfg.FeedPollInterval)
		defer ticker.Stop()
		for range ticker.C {
			if !atomic.CompareAndSwapInt32(&running, 0, 1) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			events, err := store.ListAllOutboxEvents(ctx, cursor, cursorID, cfg.FeedBatchSize)
			cancel()
			if err != nil {
				log.Printf("outbox poll error: %v", err)
			} else {
				for _, event := range events {
					cursor = event.CreatedAt
					cursorID = event.EventID
					meta := extractMeta(event.Payload)
					meta.OrganisationID = event.OrganisationID
					env := eventEnvelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt}
					payload, _ := json.Marshal(env)
					h.Broadcast(payload, meta)
				}
			}
			atomic.StoreInt32(&running, 0)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func extractMeta(payload []byte) hub.Subscription {
	var data struct {
		UserID          string `json:"user_id"`
		ReaderReference string `json:"reader_reference"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return hub.Subscription{}
	}
	return hub.Subscription{
		UserID:          data.UserID,
		ReaderReference: data.ReaderReference,
	}
}

func sessionIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("session_id"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

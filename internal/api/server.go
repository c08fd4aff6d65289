// ABOUTME: HTTP server struct, constructor, and handler wiring for Speakr.
// ABOUTME: Mounts the job and recording APIs under /api/v1 behind JWT auth.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/murtaza-nasir/speakr-sub000/internal/blob"
	"github.com/murtaza-nasir/speakr-sub000/internal/config"
	"github.com/murtaza-nasir/speakr-sub000/internal/store"
)

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store       *store.Store
	blobs       *blob.Store
	cfg         *config.Config
	rateLimiter *ipRateLimiter
}

// NewServer creates a Server.
func NewServer(s *store.Store, blobs *blob.Store, cfg *config.Config) *Server {
	evictTTL := cfg.RateLimitEvictTTL
	if evictTTL == 0 {
		evictTTL = 15 * time.Minute
	}
	// 30 mutations per minute, burst of 10. Uploads and retries are
	// human-paced; anything faster is a runaway client.
	rl := newIPRateLimiter(rate.Limit(30.0/60), 10, evictTTL)
	return &Server{
		store:       s,
		blobs:       blobs,
		cfg:         cfg,
		rateLimiter: rl,
	}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	var db *pgxpool.Pool
	if srv.store != nil {
		db = srv.store.Pool()
	}
	r := chi.NewRouter()

	// ── Security headers ──────────────────────────────────────────────────────
	// Must be first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	// ── Standard chi middleware ───────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// Global cap at the upload limit; JSON bodies are further bounded by
	// huma's own read limit.
	r.Use(middleware.RequestSize(srv.cfg.MaxUploadMB << 20))
	r.Use(middleware.Recoverer)

	// ── Infrastructure endpoints ──────────────────────────────────────────────
	r.Get("/healthz", healthzHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	// ── API v1 sub-router: JWT auth, then per-IP limits on mutations ─────────
	apiRouter := chi.NewRouter()
	apiRouter.Use(srv.RequireAuthenticated())
	apiRouter.Use(srv.mutationRateLimit())

	humaConfig := huma.DefaultConfig("Speakr API", "0.1.0")
	humaConfig.Info.Description = "Recording transcription and summarization job API"
	api := humachi.New(apiRouter, humaConfig)
	registerJobRoutes(api, srv)
	registerRecordingRoutes(api, srv)

	// Upload is chi, not huma — multipart streaming, not a JSON API call.
	apiRouter.Post("/recordings", srv.uploadRecordingHandler)

	r.Mount("/api/v1", apiRouter)

	return r
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the DB is reachable,
// or 503 {"status":"degraded","db":"unavailable"} when it is not.
func healthzHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		statusCode := http.StatusOK

		if db == nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		} else if err := db.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "healthz: failed to encode response", "error", err)
		}
	}
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineStats is the slice of the match engine the HTTP layer reads. Kept
// minimal so tests can mock it without spinning up the tick loop.
type EngineStats interface {
	RoomCount() int
	QueueDepth() int
}

// TournamentStats is the slice of the tournament system the HTTP layer
// reads.
type TournamentStats interface {
	Count() int
}

// RouterConfig carries every dependency the router needs. Designed for
// injection and httptest use.
type RouterConfig struct {
	// Gateway serves the WebSocket endpoints (required).
	Gateway *Gateway

	// Engine and Tournaments feed the /api/stats endpoint (required).
	Engine      EngineStats
	Tournaments TournamentStats

	// RateLimiter is an optional pre-built limiter; if nil one is created
	// from RateLimitConfig (or the defaults).
	RateLimiter     *IPRateLimiter
	RateLimitConfig *RateLimitConfig

	// CORSOrigins overrides the allowed origins. Nil keeps the defaults.
	CORSOrigins []string

	// DisableLogging drops the request logger (useful for benchmarks).
	DisableLogging bool
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// No listeners or background workers are started here beyond the fallback
// rate limiter's sweeper (pass RateLimiter to avoid even that). Safe for
// httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rlCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rlCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rlCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"activeRooms":       cfg.Engine.RoomCount(),
				"queueDepth":        cfg.Engine.QueueDepth(),
				"activeTournaments": cfg.Tournaments.Count(),
				"connections":       cfg.Gateway.ConnectionCount(),
				"rateLimiter":       rateLimiter.GetStats(),
			})
		})
	})

	cfg.Gateway.Routes(r)

	return r
}

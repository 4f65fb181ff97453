package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pong-arena/internal/config"
	"pong-arena/internal/game"
	"pong-arena/internal/identity"
	"pong-arena/internal/tournament"
)

// Server ties the match engine, the tournament system and the HTTP/WS
// surface together.
type Server struct {
	engine      *game.Engine
	tourny      *tournament.System
	gateway     *Gateway
	router      *chi.Mux
	rateLimiter *IPRateLimiter

	stopMetrics chan struct{}
}

// NewServer builds the production server. Background workers do not start
// until Start() is called, so tests can construct a server and use Router()
// with httptest.
func NewServer(cfg *config.AppConfig, engine *game.Engine, tourny *tournament.System, resolver identity.Resolver, rater Rater) *Server {
	s := &Server{
		engine:      engine,
		tourny:      tourny,
		rateLimiter: NewIPRateLimiter(DefaultRateLimitConfig),
		stopMetrics: make(chan struct{}),
	}
	s.gateway = NewGateway(engine, tourny, resolver, rater, cfg.Limits, cfg.Server.AllowedOrigin)
	s.router = NewRouter(RouterConfig{
		Gateway:     s.gateway,
		Engine:      engine,
		Tournaments: tourny,
		RateLimiter: s.rateLimiter,
		CORSOrigins: []string{cfg.Server.AllowedOrigin},
	})
	engine.OnTick = RecordTick
	return s
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start launches the tick loop and the metrics poller, then serves HTTP.
// This is the only method that starts background workers.
func (s *Server) Start(addr string) error {
	s.engine.Start()
	go s.metricsLoop()

	log.Printf("match server listening on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

// Stop shuts down background workers.
func (s *Server) Stop() {
	close(s.stopMetrics)
	s.engine.Stop()
	s.rateLimiter.Stop()
}

// metricsLoop refreshes the engine gauges once a second.
func (s *Server) metricsLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopMetrics:
			return
		case <-ticker.C:
			UpdateGauges(s.engine.RoomCount(), s.engine.QueueDepth(), s.tourny.Count())
		}
	}
}

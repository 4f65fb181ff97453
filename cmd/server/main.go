package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pong-arena/internal/api"
	"pong-arena/internal/config"
	"pong-arena/internal/game"
	"pong-arena/internal/identity"
	"pong-arena/internal/store"
	"pong-arena/internal/tournament"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables only")
	}

	cfg := config.Load()

	// External collaborators: the auth service resolves session tokens, the
	// record store keeps match history and stats.
	resolver := identity.NewHTTPResolver(cfg.External.AuthURL)
	stats := store.NewStats(store.NewClient(cfg.External.StoreURL))

	engine := game.NewEngine(game.Config{
		TickRate:     cfg.Engine.TickRate,
		MapWidth:     cfg.Engine.MapWidth,
		MapHeight:    cfg.Engine.MapHeight,
		BallRadius:   cfg.Engine.BallRadius,
		BallSpeed:    cfg.Engine.BallSpeed,
		PaddleSpeed:  cfg.Engine.PaddleSpeed,
		PaddleWidth:  cfg.Engine.PaddleWidth,
		PaddleHeight: cfg.Engine.PaddleHeight,
		WinScore:     cfg.Engine.WinScore,
		MaxDelta:     cfg.Engine.MaxDelta,
		StaleAfter:   cfg.Engine.StaleAfter,
		RoomGrace:    cfg.Engine.RoomGrace,
	}, stats)

	tourny := tournament.New(engine, stats)
	engine.OnTournamentResult = tourny.ReportScore

	if err := api.StartDebugServer(api.DefaultObservabilityConfig()); err != nil {
		log.Printf("debug server failed to start: %v", err)
	}

	server := api.NewServer(&cfg, engine, tourny, resolver, stats)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("shutting down")
		server.Stop()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if err := server.Start(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

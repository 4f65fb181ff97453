// Package config provides centralized configuration management.
// This is the single source of truth for all engine and server settings.
//
// When changing defaults, only modify this file. Every other part of the
// codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"time"
)

// EngineConfig holds the match simulation settings. These values are shared
// between the physics step, the room state machine and the tick scheduler.
type EngineConfig struct {
	TickRate     int     // Physics ticks per second
	MapWidth     float64 // Arena width
	MapHeight    float64 // Arena height
	BallRadius   float64
	BallSpeed    float64 // Initial ball speed, units per second
	PaddleSpeed  float64 // Paddle travel speed, units per second
	PaddleWidth  float64
	PaddleHeight float64
	WinScore     int // First to this score wins

	MaxDelta   time.Duration // Per-tick delta clamp (tunneling guard)
	StaleAfter time.Duration // Rooms idle longer than this skip a step
	RoomGrace  time.Duration // How long a fully-disconnected room is retained
}

// DefaultEngine returns the default simulation configuration.
func DefaultEngine() EngineConfig {
	return EngineConfig{
		TickRate:     120,
		MapWidth:     640,
		MapHeight:    320,
		BallRadius:   2.5,
		BallSpeed:    200,
		PaddleSpeed:  300,
		PaddleWidth:  10,
		PaddleHeight: 60,
		WinScore:     7,
		MaxDelta:     50 * time.Millisecond,
		StaleAfter:   250 * time.Millisecond,
		RoomGrace:    5 * time.Minute,
	}
}

// EngineFromEnv returns the simulation configuration with environment
// variable overrides. Environment variables take precedence over defaults.
func EngineFromEnv() EngineConfig {
	cfg := DefaultEngine()

	if tr := getEnvInt("TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}
	if ws := getEnvInt("WIN_SCORE", 0); ws > 0 {
		cfg.WinScore = ws
	}
	if g := getEnvInt("ROOM_GRACE_SECONDS", 0); g > 0 {
		cfg.RoomGrace = time.Duration(g) * time.Second
	}

	return cfg
}

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Port          int
	AllowedOrigin string // Extra allowed origin besides localhost
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port: 3000,
	}
}

// ServerFromEnv returns server configuration with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	cfg.AllowedOrigin = os.Getenv("ALLOWED_ORIGIN")

	return cfg
}

// ExternalConfig holds the endpoints of the collaborating services. The
// engine does not own identity or persistence; it only talks to these.
type ExternalConfig struct {
	AuthURL  string // Identity resolver service
	StoreURL string // Record store service
}

// ExternalFromEnv returns external service endpoints from the environment.
func ExternalFromEnv() ExternalConfig {
	return ExternalConfig{
		AuthURL:  getEnvWithDefault("AUTH_URL", "http://auth:8080"),
		StoreURL: getEnvWithDefault("STORE_URL", "http://database:8080"),
	}
}

// LimitsConfig controls connection-level resource limits.
type LimitsConfig struct {
	MaxConnsTotal     int // Hard cap on concurrent WebSocket connections
	MaxConnsPerIP     int
	MaxTournamentSize int // Largest allowed bracket (power of two)
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() LimitsConfig {
	return LimitsConfig{
		MaxConnsTotal:     500,
		MaxConnsPerIP:     10,
		MaxTournamentSize: 32,
	}
}

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Engine   EngineConfig
	Server   ServerConfig
	External ExternalConfig
	Limits   LimitsConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Engine:   EngineFromEnv(),
		Server:   ServerFromEnv(),
		External: ExternalFromEnv(),
		Limits:   DefaultLimits(),
	}
}

func getEnvWithDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

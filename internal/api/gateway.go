package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"pong-arena/internal/config"
	"pong-arena/internal/game"
	"pong-arena/internal/identity"
	"pong-arena/internal/tournament"
)

// Application close codes, matched by the web client.
const (
	closeUnauthorized = 3000
	closeInvalidParam = 4000
	closeNotFound     = 4004
)

const resolveTimeout = 5 * time.Second

// connScope routes inbound envelopes and close events to the right
// subsystem: a connection belongs to either the match engine or the
// tournament system, never both.
type connScope int

const (
	scopeGame connScope = iota
	scopeTournament
)

// Rater reads a player's stored rating. Optional on the gateway.
type Rater interface {
	Rating(ctx context.Context, userID string) int
}

// Gateway owns the WebSocket endpoints: it authenticates the identity,
// upgrades the connection and hands the resulting handle to the match or
// tournament engine, then pumps inbound envelopes until close.
type Gateway struct {
	engine   *game.Engine
	tourny   *tournament.System
	resolver identity.Resolver
	rater    Rater // may be nil

	limits    config.LimitsConfig
	wsLimiter *WebSocketRateLimiter
	upgrader  websocket.Upgrader

	connCount int64 // atomic
}

func NewGateway(engine *game.Engine, tourny *tournament.System, resolver identity.Resolver, rater Rater, limits config.LimitsConfig, allowedOrigin string) *Gateway {
	g := &Gateway{
		engine:    engine,
		tourny:    tourny,
		resolver:  resolver,
		rater:     rater,
		limits:    limits,
		wsLimiter: NewWebSocketRateLimiter(limits.MaxConnsPerIP),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if originAllowed(origin, allowedOrigin) {
				return true
			}
			log.Printf("[ws] rejected origin %q", origin)
			RecordConnectionRejected("origin")
			return false
		},
	}
	return g
}

func originAllowed(origin, allowed string) bool {
	if origin == "" || allowed == "*" {
		return true
	}
	if origin == allowed {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1")
}

// Routes mounts the WebSocket endpoints on a chi router.
func (g *Gateway) Routes(r chi.Router) {
	r.Get("/ws", g.handleMatchmaking)
	r.Get("/ws/create", g.handleCreate)
	r.Get("/ws/join/{roomID}", g.handleJoin)
	r.Get("/ws/tourny/create/{size}", g.handleTournyCreate)
	r.Get("/ws/tourny/join/{roomID}", g.handleTournyJoin)
}

// accept enforces connection limits, upgrades the request and resolves the
// caller's identity. An unresolvable token closes the fresh socket with the
// unauthorized code.
func (g *Gateway) accept(w http.ResponseWriter, r *http.Request) (*wsConn, game.Identity, bool) {
	ip := GetClientIP(r)

	if int(atomic.LoadInt64(&g.connCount)) >= g.limits.MaxConnsTotal {
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return nil, game.Identity{}, false
	}
	if !g.wsLimiter.Allow(ip) {
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return nil, game.Identity{}, false
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		g.wsLimiter.Release(ip)
		return nil, game.Identity{}, false
	}
	conn := newWSConn(ws, ip)
	atomic.AddInt64(&g.connCount, 1)
	UpdateWSConnections(int(atomic.LoadInt64(&g.connCount)))

	ctx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
	defer cancel()
	id, err := g.resolver.Resolve(ctx, sessionToken(r))
	if err != nil {
		if !errors.Is(err, identity.ErrUnauthorized) {
			log.Printf("[ws] identity resolution failed: %v", err)
		}
		conn.Close(closeUnauthorized, "Unauthorized")
		g.release(conn)
		return nil, game.Identity{}, false
	}

	if g.rater != nil {
		id.Elo = g.rater.Rating(ctx, id.ID)
	}
	return conn, id, true
}

// sessionToken pulls the session token from the jwt-token cookie or the
// token query parameter.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie("jwt-token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

func (g *Gateway) release(conn *wsConn) {
	atomic.AddInt64(&g.connCount, -1)
	UpdateWSConnections(int(atomic.LoadInt64(&g.connCount)))
	g.wsLimiter.Release(conn.ip)
}

func (g *Gateway) handleMatchmaking(w http.ResponseWriter, r *http.Request) {
	conn, id, ok := g.accept(w, r)
	if !ok {
		return
	}
	g.engine.Connect(conn, id.ID)
	g.readLoop(conn, id, scopeGame)
}

func (g *Gateway) handleCreate(w http.ResponseWriter, r *http.Request) {
	conn, id, ok := g.accept(w, r)
	if !ok {
		return
	}
	roomID := g.engine.CreateRoom()
	conn.Send(map[string]any{
		"type":    "room_created",
		"message": "Created room successfully",
		"roomId":  roomID,
	})
	g.engine.JoinRoom(conn, id, roomID)
	conn.Send(map[string]any{"type": "connected"})
	g.readLoop(conn, id, scopeGame)
}

func (g *Gateway) handleJoin(w http.ResponseWriter, r *http.Request) {
	conn, id, ok := g.accept(w, r)
	if !ok {
		return
	}
	roomID := chi.URLParam(r, "roomID")
	if !g.engine.HasRoom(roomID) {
		conn.Send(map[string]any{
			"type":    "not_found",
			"message": "No game found with id " + roomID,
		})
		conn.Close(closeNotFound, "Not Found")
		g.release(conn)
		return
	}
	g.engine.JoinRoom(conn, id, roomID)
	conn.Send(map[string]any{"type": "connected"})
	g.readLoop(conn, id, scopeGame)
}

func (g *Gateway) handleTournyCreate(w http.ResponseWriter, r *http.Request) {
	conn, id, ok := g.accept(w, r)
	if !ok {
		return
	}
	size, err := strconv.Atoi(chi.URLParam(r, "size"))
	if err != nil || !tournament.ValidSize(size, g.limits.MaxTournamentSize) {
		conn.Close(closeInvalidParam, "Invalid Parameter")
		g.release(conn)
		return
	}
	g.tourny.Create(conn, id, size)
	g.readLoop(conn, id, scopeTournament)
}

func (g *Gateway) handleTournyJoin(w http.ResponseWriter, r *http.Request) {
	conn, id, ok := g.accept(w, r)
	if !ok {
		return
	}
	g.tourny.Join(conn, id, chi.URLParam(r, "roomID"))
	g.readLoop(conn, id, scopeTournament)
}

// envelope is the inbound message frame. Every message carries a type
// discriminator; extra fields depend on the type.
type envelope struct {
	Type            string `json:"type"`
	PaddleDirection string `json:"paddleDirection"`
}

// readLoop pumps inbound envelopes until the connection drops, then
// classifies the close: a normal close code is a voluntary leave, everything
// else an unexpected disconnect.
func (g *Gateway) readLoop(conn *wsConn, id game.Identity, scope connScope) {
	defer g.release(conn)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			voluntary := websocket.IsCloseError(err, websocket.CloseNormalClosure)
			g.handleClose(id, scope, voluntary)
			conn.Close(websocket.CloseNormalClosure, "")
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[ws] malformed message from %s: %v", id.ID, err)
			continue
		}
		g.dispatch(conn, id, scope, env)
	}
}

func (g *Gateway) handleClose(id game.Identity, scope connScope, voluntary bool) {
	switch scope {
	case scopeGame:
		if voluntary {
			g.engine.Leave(id.ID)
		} else {
			g.engine.Disconnect(id.ID)
		}
	case scopeTournament:
		g.tourny.Disconnect(id.ID, voluntary)
	}
}

// dispatch routes one envelope. Unknown types are logged and the connection
// stays open.
func (g *Gateway) dispatch(conn *wsConn, id game.Identity, scope connScope, env envelope) {
	if scope == scopeTournament {
		switch env.Type {
		case "start":
			g.tourny.Start(conn, id.ID)
		case "getRoomInfo":
			g.tourny.RoomInfo(conn, id.ID)
		default:
			log.Printf("[ws] unknown tourny message type %q from %s", env.Type, id.ID)
		}
		return
	}

	switch env.Type {
	case "join_queue":
		g.engine.JoinQueue(conn, id)
	case "ready":
		g.engine.Ready(conn, id.ID)
	case "reconnect":
		g.engine.Reconnect(conn, id.ID)
	case "getRoomInfo":
		g.engine.RoomInfo(conn, id.ID)
	case "paddle_move":
		g.engine.PaddleMove(id.ID, env.PaddleDirection)
	default:
		log.Printf("[ws] unknown message type %q from %s", env.Type, id.ID)
	}
}

// ConnectionCount returns the number of open WebSocket connections.
func (g *Gateway) ConnectionCount() int {
	return int(atomic.LoadInt64(&g.connCount))
}

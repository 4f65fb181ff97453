package game

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds the simulation settings the engine runs with. Values mirror
// internal/config defaults; tests construct it directly.
type Config struct {
	TickRate     int
	MapWidth     float64
	MapHeight    float64
	BallRadius   float64
	BallSpeed    float64
	PaddleSpeed  float64
	PaddleWidth  float64
	PaddleHeight float64
	WinScore     int

	MaxDelta   time.Duration
	StaleAfter time.Duration
	RoomGrace  time.Duration

	Seed int64 // RNG seed; 0 means time-based
}

// DefaultConfig returns the standard arena.
func DefaultConfig() Config {
	return Config{
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

const sweepInterval = 30 * time.Second

// Engine owns the process-wide mutable state of the match subsystem: the
// active rooms map and the matchmaking queue. It is constructed once at
// startup and injected into the transport handlers; nothing here is ambient.
//
// One RWMutex guards all of it. Every inbound mutation (join, ready, paddle
// input, leave) is applied atomically relative to the tick that may be
// running for the same room.
type Engine struct {
	mu      sync.RWMutex
	cfg     Config
	world   World
	rooms   map[string]*Room
	waiting []*Player
	rec     Recorder
	rng     *rand.Rand

	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}

	lastSweep time.Time

	// OnTournamentResult is invoked (on its own goroutine, never under the
	// engine lock) when a tournament-linked match finishes.
	OnTournamentResult func(tournamentID, roomID string, score [2]int, winnerID string)

	// OnTick observes tick durations for metrics. Optional.
	OnTick func(d time.Duration)
}

// NewEngine creates the engine. Background work does not start until Start()
// is called, so tests can construct an engine and drive it by hand.
func NewEngine(cfg Config, rec Recorder) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Engine{
		cfg:       cfg,
		world:     NewWorld(cfg.MapWidth, cfg.MapHeight, cfg.BallRadius, cfg.BallSpeed, cfg.PaddleSpeed, rng),
		rooms:     make(map[string]*Room),
		rec:       rec,
		rng:       rng,
		stopChan:  make(chan struct{}),
		lastSweep: time.Now(),
	}
}

// Start begins the global tick loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.ticker = time.NewTicker(time.Second / time.Duration(e.cfg.TickRate))

	go func() {
		for {
			select {
			case <-e.ticker.C:
				start := time.Now()
				e.tick(start)
				if e.OnTick != nil {
					e.OnTick(time.Since(start))
				}
			case <-e.stopChan:
				return
			}
		}
	}()

	log.Printf("[engine] tick loop started at %d Hz", e.cfg.TickRate)
}

// Stop stops the tick loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	if e.ticker != nil {
		e.ticker.Stop()
	}
	close(e.stopChan)
	log.Println("[engine] tick loop stopped")
}

// tick advances every in-play room by its own wall-clock delta and evicts
// abandoned rooms periodically.
func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, room := range e.rooms {
		e.tickRoom(room, now)
	}

	if now.Sub(e.lastSweep) > sweepInterval {
		e.lastSweep = now
		e.sweep(now)
	}
}

// tickRoom advances one room. A panic inside one room's step is isolated so
// the scheduler keeps serving every other room.
func (e *Engine) tickRoom(room *Room, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[engine] tick panic in room %s: %v", room.ID, rec)
		}
	}()

	if room.State != RoomPlay {
		return
	}

	// A stale room skips a step instead of applying an inflated delta.
	if room.LastUpdate.IsZero() || now.Sub(room.LastUpdate) > e.cfg.StaleAfter {
		room.LastUpdate = now
		return
	}

	dt := math.Min(now.Sub(room.LastUpdate).Seconds(), e.cfg.MaxDelta.Seconds())
	room.advance(dt)
	room.LastUpdate = now

	e.checkScore(room)

	if room.State == RoomPlay {
		room.broadcast(room.stateUpdate())
	}
}

// checkScore handles goals and the terminal transition to finished.
func (e *Engine) checkScore(room *Room) {
	switch e.world.Out(&room.Ball) {
	case 0:
		room.Score[0]++
		e.rec.MatchScore(room.ID, room.Score)
		room.Ball = e.world.ResetBall(-1)
	case 1:
		room.Score[1]++
		e.rec.MatchScore(room.ID, room.Score)
		room.Ball = e.world.ResetBall(1)
	}

	if room.Score[0] >= e.cfg.WinScore || room.Score[1] >= e.cfg.WinScore {
		e.finish(room)
	}
}

// finish concludes a match through the normal finished path: stats for
// casual matches, a result report for tournament matches, then removal of
// the room after the final broadcast.
func (e *Engine) finish(room *Room) {
	room.State = RoomFinished

	winIdx := 0
	if room.Score[1] >= e.cfg.WinScore {
		winIdx = 1
	}

	var winner, loser *Player
	if len(room.Players) == 2 {
		winner = room.Players[winIdx]
		loser = room.Players[1-winIdx]
	}

	if room.TournamentID == "" && winner != nil {
		newWin, newLose := eloExchange(winner.Elo, loser.Elo)
		winner.Elo, loser.Elo = newWin, newLose
		e.rec.MatchFinished(winner.ID, loser.ID, newWin, newLose)
	}

	for _, p := range room.Players {
		e.rec.MatchHistory(p.ID, room.ID)
		p.send(map[string]any{"type": "game_end", "score": room.Score})
		p.send(room.info())
	}

	if room.TournamentID != "" && winner != nil && e.OnTournamentResult != nil {
		// Never call back into the bracket engine under our lock: it will
		// re-enter the engine to create next-round rooms.
		cb := e.OnTournamentResult
		go cb(room.TournamentID, room.ID, room.Score, winner.ID)
	}

	delete(e.rooms, room.ID)
	log.Printf("[engine] match %s finished %d-%d", room.ID, room.Score[0], room.Score[1])
}

// eloExchange applies a standard K=32 rating exchange.
func eloExchange(winElo, loseElo int) (int, int) {
	const k = 32
	expected := 1 / (1 + math.Pow(10, float64(loseElo-winElo)/400))
	delta := int(math.Round(k * (1 - expected)))
	return winElo + delta, loseElo - delta
}

// CreateRoom allocates an empty casual room and returns its id.
func (e *Engine) CreateRoom() string {
	return e.CreateTournamentRoom("")
}

// CreateTournamentRoom allocates an empty room linked to a tournament.
func (e *Engine) CreateTournamentRoom(tournamentID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	e.rooms[id] = newRoom(id, &e.world, tournamentID)
	return id
}

// HasRoom reports whether a room id is live.
func (e *Engine) HasRoom(roomID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.rooms[roomID]
	return ok
}

// RoomCount returns the number of active rooms (for metrics).
func (e *Engine) RoomCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rooms)
}

// QueueDepth returns the number of waiting players (for metrics).
func (e *Engine) QueueDepth() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.waiting)
}

// Connect greets a fresh connection. If the identity already owns a live
// room the client is offered a reconnect instead of being treated as new.
func (e *Engine) Connect(conn Conn, userID string) {
	e.mu.RLock()
	room := e.roomFor(userID)
	e.mu.RUnlock()

	if room != nil {
		conn.Send(map[string]any{
			"type":    "reconnect_to_game",
			"message": "Rejoin ongoing game?",
			"roomId":  room.ID,
		})
		return
	}
	conn.Send(map[string]any{"type": "connected"})
}

// JoinQueue enqueues an identity for matchmaking. The two longest-waiting
// players are paired as soon as the queue holds two.
func (e *Engine) JoinQueue(conn Conn, id Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range e.waiting {
		if p.ID == id.ID {
			conn.Send(map[string]any{
				"type":    "already_in_queue",
				"message": "Already waiting for a match",
			})
			return
		}
	}

	e.waiting = append(e.waiting, newPlayer(id, conn))
	e.broadcastQueueCount()

	if len(e.waiting) >= 2 {
		e.pairFromQueue()
	} else {
		conn.Send(map[string]any{
			"type":    "in_queue",
			"message": "You are in queue! Waiting for another player...",
		})
	}
}

// pairFromQueue dequeues the two longest-waiting players into a new room.
func (e *Engine) pairFromQueue() {
	p1, p2 := e.waiting[0], e.waiting[1]
	e.waiting = e.waiting[2:]

	id := uuid.NewString()
	room := newRoom(id, &e.world, "")
	room.Players = []*Player{p1, p2}
	e.rooms[id] = room

	e.sendGameFound(room)
	e.broadcastQueueCount()
	log.Printf("[engine] matched %s vs %s in room %s", p1.ID, p2.ID, id)
}

func (e *Engine) sendGameFound(room *Room) {
	for i, p := range room.Players {
		p.send(map[string]any{
			"type":        "game_found",
			"roomId":      room.ID,
			"playerIndex": i,
			"opponent":    room.Players[1-i].ID,
		})
	}
}

func (e *Engine) broadcastQueueCount() {
	for _, p := range e.waiting {
		p.send(map[string]any{
			"type":           "updateQueueCount",
			"playersInQueue": len(e.waiting),
		})
	}
}

// JoinRoom seats an identity in an explicit room.
func (e *Engine) JoinRoom(conn Conn, id Identity, roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		conn.Send(map[string]any{
			"type":    "not_found",
			"message": "No game found with id " + roomID,
		})
		return
	}
	if room.playerIndex(id.ID) != -1 {
		conn.Send(map[string]any{
			"type":    "already_in_game",
			"message": "Already seated in this game",
		})
		return
	}
	if room.full() {
		conn.Send(map[string]any{"type": "game_full"})
		return
	}

	room.Players = append(room.Players, newPlayer(id, conn))
	if room.full() {
		e.sendGameFound(room)
	}
}

// Ready marks a player ready, allocates their paddle and starts play once
// both seats are ready.
func (e *Engine) Ready(conn Conn, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room := e.roomFor(userID)
	if room == nil {
		conn.Send(map[string]any{
			"type":    "not_in_game",
			"message": "Can't ready up if not in a game",
		})
		return
	}

	idx := room.playerIndex(userID)
	room.Players[idx].Ready = true
	room.allocPaddle(idx, e.cfg.PaddleWidth, e.cfg.PaddleHeight)
	for _, p := range room.Players {
		p.send(room.info())
	}

	e.maybeStart(room)
}

// maybeStart transitions idle -> play when both players are ready, and
// persists the match record.
func (e *Engine) maybeStart(room *Room) {
	if room.State != RoomIdle || !room.full() {
		return
	}
	if !room.Players[0].Ready || !room.Players[1].Ready {
		return
	}

	e.rec.MatchCreated(room.ID, []string{room.Players[0].ID, room.Players[1].ID}, room.TournamentID)
	room.State = RoomPlay
	room.LastUpdate = time.Now()
	log.Printf("[engine] room %s is now in play", room.ID)
}

// Reconnect swaps the connection handle onto an existing seat without
// resetting match state, and re-marks the player ready.
func (e *Engine) Reconnect(conn Conn, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room := e.roomFor(userID)
	if room == nil {
		conn.Send(map[string]any{
			"type":    "not_in_game",
			"message": "Not in any active games",
		})
		return
	}

	idx := room.playerIndex(userID)
	p := room.Players[idx]
	p.Conn = conn
	p.Ready = true
	if p.Paddle == nil {
		room.allocPaddle(idx, e.cfg.PaddleWidth, e.cfg.PaddleHeight)
	}
	e.maybeStart(room)
}

// PaddleMove applies a discrete input event. Inputs only take effect while
// the room is in play.
func (e *Engine) PaddleMove(userID, direction string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room := e.roomFor(userID)
	if room == nil || room.State != RoomPlay {
		return
	}
	p := room.activePlayer(userID)
	if p == nil || p.Paddle == nil {
		return
	}

	switch direction {
	case "up":
		p.Paddle.Direction = -1
	case "down":
		p.Paddle.Direction = 1
	case "stop":
		p.Paddle.Direction = 0
	}
}

// RoomInfo sends the caller a snapshot of their current room.
func (e *Engine) RoomInfo(conn Conn, userID string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	room := e.roomFor(userID)
	if room == nil {
		conn.Send(map[string]any{
			"type":    "not_in_game",
			"message": "Can't find room information",
		})
		return
	}
	conn.Send(room.info())
}

// Leave handles a voluntary departure (normal close code). Before play the
// room is aborted; after play has started the leaver forfeits and the match
// concludes through the normal finished path on the next tick.
func (e *Engine) Leave(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dropFromQueue(userID) {
		e.broadcastQueueCount()
		return
	}

	for _, room := range e.rooms {
		idx := room.playerIndex(userID)
		if idx == -1 || room.Players[idx].Left {
			continue
		}

		room.Players[idx].Left = true
		var other *Player
		if len(room.Players) == 2 {
			other = room.Players[1-idx]
		}
		if other != nil {
			other.send(map[string]any{
				"type":    "opponent_left",
				"message": "Opponent left the game",
			})
		}

		switch room.State {
		case RoomIdle:
			if other != nil {
				other.send(map[string]any{
					"type":    "game_aborted",
					"message": "Game was aborted before starting",
				})
			}
			delete(e.rooms, room.ID)
			log.Printf("[engine] room %s aborted", room.ID)
		case RoomPlay:
			room.Score[1-idx] = e.cfg.WinScore
			room.Score[idx] = 0
			room.Ball = Ball{X: e.world.Width / 2, Y: e.world.Height / 2}
			if other != nil {
				other.send(map[string]any{
					"type":    "game_forfeited",
					"message": "Opponent forfeited the game",
				})
			}
			log.Printf("[engine] %s forfeited room %s", userID, room.ID)
		}
		return
	}
}

// Disconnect handles an unexpected close: the room is kept for reconnection
// and the opponent is only notified. Score never changes here.
func (e *Engine) Disconnect(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dropFromQueue(userID) {
		e.broadcastQueueCount()
	}

	for _, room := range e.rooms {
		idx := room.playerIndex(userID)
		if idx == -1 || room.Players[idx].Left {
			continue
		}

		p := room.Players[idx]
		p.Ready = false
		p.Conn = nil

		if other := e.connectedOpponent(room, idx); other != nil {
			other.send(map[string]any{
				"type":    "opponent_lost",
				"message": "Opponent disconnected...",
			})
		}

		if e.allDetached(room) && room.emptySince.IsZero() {
			room.emptySince = time.Now()
		}
	}
	log.Printf("[engine] connection lost for %s", userID)
}

func (e *Engine) connectedOpponent(room *Room, idx int) *Player {
	if len(room.Players) != 2 {
		return nil
	}
	other := room.Players[1-idx]
	if other.Left || other.Conn == nil {
		return nil
	}
	return other
}

func (e *Engine) allDetached(room *Room) bool {
	for _, p := range room.Players {
		if !p.Left && p.Conn != nil {
			return false
		}
	}
	return true
}

// dropFromQueue removes an identity from the waiting queue if present.
func (e *Engine) dropFromQueue(userID string) bool {
	for i, p := range e.waiting {
		if p.ID == userID {
			e.waiting = append(e.waiting[:i], e.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// sweep evicts rooms whose every seat has left or lost its connection and
// stayed that way past the grace period. A reconnect clears emptySince.
func (e *Engine) sweep(now time.Time) {
	for id, room := range e.rooms {
		if !e.allDetached(room) {
			room.emptySince = time.Time{}
			continue
		}
		if room.emptySince.IsZero() {
			room.emptySince = now
			continue
		}
		if now.Sub(room.emptySince) > e.cfg.RoomGrace {
			delete(e.rooms, id)
			log.Printf("[engine] evicted abandoned room %s", id)
		}
	}
}

// roomFor returns the room in which the identity is an active (non-left)
// player, or nil. Callers hold the engine lock.
func (e *Engine) roomFor(userID string) *Room {
	for _, room := range e.rooms {
		if room.activePlayer(userID) != nil {
			return room
		}
	}
	return nil
}

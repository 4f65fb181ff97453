package game

import (
	"time"
)

// RoomState is the match lifecycle: idle until both players ready up, play
// until one side reaches the win score, finished is terminal.
type RoomState string

const (
	RoomIdle     RoomState = "idle"
	RoomPlay     RoomState = "play"
	RoomFinished RoomState = "finished"
)

// Room is the runtime record for one active 1v1 match. All mutation happens
// under the engine lock; Room itself carries no synchronization.
type Room struct {
	ID           string
	Players      []*Player // at most 2; index 0 defends the left goal
	Ball         Ball
	State        RoomState
	Score        [2]int
	LastUpdate   time.Time
	TournamentID string // empty for casual matches

	// emptySince marks when every seat lost its connection; the janitor
	// evicts the room once it stays that way past the grace period.
	emptySince time.Time

	world *World
}

func newRoom(id string, world *World, tournamentID string) *Room {
	r := &Room{
		ID:           id,
		State:        RoomIdle,
		LastUpdate:   time.Now(),
		TournamentID: tournamentID,
		world:        world,
	}
	r.Ball = world.NewBall()
	return r
}

// playerIndex returns the seat of the given identity, or -1.
func (r *Room) playerIndex(userID string) int {
	for i, p := range r.Players {
		if p.ID == userID {
			return i
		}
	}
	return -1
}

// activePlayer returns the seated player that has not left, or nil.
func (r *Room) activePlayer(userID string) *Player {
	for _, p := range r.Players {
		if p.ID == userID && !p.Left {
			return p
		}
	}
	return nil
}

func (r *Room) full() bool {
	return len(r.Players) == 2
}

func (r *Room) broadcast(v any) {
	for _, p := range r.Players {
		p.send(v)
	}
}

// allocPaddle places a paddle for the given seat: near side for seat 0, far
// side for seat 1, vertically centered.
func (r *Room) allocPaddle(idx int, width, height float64) {
	x := 10.0
	if idx == 1 {
		x = r.world.Width - 10 - width
	}
	r.Players[idx].Paddle = &Paddle{
		X:      x,
		Y:      r.world.Height / 2,
		Width:  width,
		Height: height,
	}
}

// advance integrates paddles then the ball by dt. Pure physics; scoring is
// checked by the engine afterwards.
func (r *Room) advance(dt float64) {
	for _, p := range r.Players {
		r.world.MovePaddle(p.Paddle, dt)
	}
	paddles := make([]*Paddle, len(r.Players))
	for i, p := range r.Players {
		paddles[i] = p.Paddle
	}
	r.world.Step(&r.Ball, paddles, dt)
}

type playerState struct {
	UserID string  `json:"userId"`
	Paddle *Paddle `json:"paddle"`
}

type matchState struct {
	Score   [2]int        `json:"score"`
	Ball    Ball          `json:"ball"`
	Players []playerState `json:"players"`
}

// stateUpdate builds the per-tick broadcast payload: a read-only projection,
// never the live player records.
func (r *Room) stateUpdate() map[string]any {
	players := make([]playerState, len(r.Players))
	for i, p := range r.Players {
		players[i] = playerState{UserID: p.ID, Paddle: p.Paddle}
	}
	return map[string]any{
		"type": "state_update",
		"state": matchState{
			Score:   r.Score,
			Ball:    r.Ball,
			Players: players,
		},
	}
}

// info builds the room_info payload.
func (r *Room) info() map[string]any {
	players := make([]PlayerInfo, len(r.Players))
	for i, p := range r.Players {
		players[i] = p.info()
	}
	return map[string]any{
		"type":    "room_info",
		"id":      r.ID,
		"players": players,
		"gameState": map[string]any{
			"type":  r.State,
			"score": r.Score,
		},
		"lastUpdate": r.LastUpdate.UnixMilli(),
		"tournyId":   r.TournamentID,
	}
}

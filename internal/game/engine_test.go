package game

import (
	"sync"
	"testing"
	"time"
)

// fakeConn records everything sent to it so tests can assert on the
// outbound message stream.
type fakeConn struct {
	mu     sync.Mutex
	msgs   []any
	closed bool
}

func (c *fakeConn) Send(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, v)
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// find returns the first message of the given type, or nil.
func (c *fakeConn) find(msgType string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.msgs {
		if m, ok := v.(map[string]any); ok && m["type"] == msgType {
			return m
		}
	}
	return nil
}

func testEngine() *Engine {
	cfg := DefaultConfig()
	cfg.Seed = 42
	return NewEngine(cfg, nil)
}

func ident(id string) Identity {
	return Identity{ID: id, Username: id, Elo: 1000}
}

// startedRoom builds an engine with one room already in play between p1 and
// p2 and returns the room.
func startedRoom(t *testing.T, e *Engine, c1, c2 *fakeConn) *Room {
	t.Helper()

	roomID := e.CreateRoom()
	e.JoinRoom(c1, ident("p1"), roomID)
	e.JoinRoom(c2, ident("p2"), roomID)
	e.Ready(c1, "p1")
	e.Ready(c2, "p2")

	e.mu.RLock()
	room := e.rooms[roomID]
	e.mu.RUnlock()
	if room == nil {
		t.Fatal("room vanished during setup")
	}
	if room.State != RoomPlay {
		t.Fatalf("room state = %s after both ready, want %s", room.State, RoomPlay)
	}
	return room
}

// TestJoinQueuePairsTwoPlayers verifies matchmaking pairs the two
// longest-waiting players and tells each their seat and opponent.
func TestJoinQueuePairsTwoPlayers(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}

	e.JoinQueue(c1, ident("p1"))
	if c1.find("in_queue") == nil {
		t.Fatal("first player did not receive in_queue")
	}
	if e.QueueDepth() != 1 {
		t.Fatalf("queue depth = %d, want 1", e.QueueDepth())
	}

	e.JoinQueue(c2, ident("p2"))

	m1 := c1.find("game_found")
	m2 := c2.find("game_found")
	if m1 == nil || m2 == nil {
		t.Fatal("players did not both receive game_found")
	}
	if m1["playerIndex"] != 0 || m2["playerIndex"] != 1 {
		t.Errorf("seats = %v, %v; want 0, 1", m1["playerIndex"], m2["playerIndex"])
	}
	if m1["opponent"] != "p2" || m2["opponent"] != "p1" {
		t.Errorf("opponents = %v, %v", m1["opponent"], m2["opponent"])
	}
	if m1["roomId"] != m2["roomId"] {
		t.Error("players were seated in different rooms")
	}
	if e.QueueDepth() != 0 {
		t.Errorf("queue depth = %d after pairing, want 0", e.QueueDepth())
	}
	if e.RoomCount() != 1 {
		t.Errorf("room count = %d after pairing, want 1", e.RoomCount())
	}
}

// TestJoinQueueDuplicateRejected verifies the same identity cannot queue
// twice.
func TestJoinQueueDuplicateRejected(t *testing.T) {
	e := testEngine()
	c := &fakeConn{}

	e.JoinQueue(c, ident("p1"))
	e.JoinQueue(c, ident("p1"))

	if c.find("already_in_queue") == nil {
		t.Error("duplicate enqueue was not rejected")
	}
	if e.QueueDepth() != 1 {
		t.Errorf("queue depth = %d, want 1", e.QueueDepth())
	}
}

// TestJoinRoomErrors verifies the explicit-join error replies.
func TestJoinRoomErrors(t *testing.T) {
	e := testEngine()
	c1, c2, c3 := &fakeConn{}, &fakeConn{}, &fakeConn{}

	e.JoinRoom(c1, ident("p1"), "nope")
	if c1.find("not_found") == nil {
		t.Error("joining a missing room did not reply not_found")
	}

	roomID := e.CreateRoom()
	e.JoinRoom(c1, ident("p1"), roomID)
	e.JoinRoom(c1, ident("p1"), roomID)
	if c1.find("already_in_game") == nil {
		t.Error("double join did not reply already_in_game")
	}

	e.JoinRoom(c2, ident("p2"), roomID)
	e.JoinRoom(c3, ident("p3"), roomID)
	if c3.find("game_full") == nil {
		t.Error("third join did not reply game_full")
	}
}

// TestReadyStartsPlay verifies the idle -> play transition requires both
// players ready, and allocates paddles on opposite sides.
func TestReadyStartsPlay(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}

	roomID := e.CreateRoom()
	e.JoinRoom(c1, ident("p1"), roomID)
	e.JoinRoom(c2, ident("p2"), roomID)

	e.Ready(c1, "p1")
	e.mu.RLock()
	state := e.rooms[roomID].State
	e.mu.RUnlock()
	if state != RoomIdle {
		t.Fatalf("room state = %s after one ready, want %s", state, RoomIdle)
	}

	e.Ready(c2, "p2")
	e.mu.RLock()
	room := e.rooms[roomID]
	left, right := room.Players[0].Paddle, room.Players[1].Paddle
	state = room.State
	e.mu.RUnlock()

	if state != RoomPlay {
		t.Fatalf("room state = %s after both ready, want %s", state, RoomPlay)
	}
	if left == nil || right == nil {
		t.Fatal("paddles were not allocated")
	}
	if left.X >= right.X {
		t.Errorf("paddle sides wrong: left at %v, right at %v", left.X, right.X)
	}
}

// TestReadyWithoutRoom verifies readying up outside a game is rejected.
func TestReadyWithoutRoom(t *testing.T) {
	e := testEngine()
	c := &fakeConn{}

	e.Ready(c, "p1")
	if c.find("not_in_game") == nil {
		t.Error("ready outside a game did not reply not_in_game")
	}
}

// TestWinScoreIsTerminal verifies reaching the win score finishes the match,
// exchanges ratings and removes the room.
func TestWinScoreIsTerminal(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}
	room := startedRoom(t, e, c1, c2)

	e.mu.Lock()
	room.Score[0] = e.cfg.WinScore - 1
	room.Ball = Ball{X: e.world.Width + 10, Y: 100, V: Vec2{X: 200}}
	winner, loser := room.Players[0], room.Players[1]
	e.mu.Unlock()

	e.tick(room.LastUpdate.Add(8 * time.Millisecond))

	if e.RoomCount() != 0 {
		t.Fatal("finished room was not removed")
	}
	end := c1.find("game_end")
	if end == nil {
		t.Fatal("winner did not receive game_end")
	}
	if c2.find("game_end") == nil {
		t.Fatal("loser did not receive game_end")
	}
	if winner.Elo <= 1000 || loser.Elo >= 1000 {
		t.Errorf("ratings not exchanged: winner %d, loser %d", winner.Elo, loser.Elo)
	}
}

// TestLeaveBeforePlayAborts verifies a voluntary leave in the idle state
// aborts the room instead of recording a result.
func TestLeaveBeforePlayAborts(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}

	roomID := e.CreateRoom()
	e.JoinRoom(c1, ident("p1"), roomID)
	e.JoinRoom(c2, ident("p2"), roomID)

	e.Leave("p1")

	if e.RoomCount() != 0 {
		t.Error("aborted room was not removed")
	}
	if c2.find("game_aborted") == nil {
		t.Error("remaining player did not receive game_aborted")
	}
}

// TestLeaveDuringPlayForfeits verifies a voluntary leave mid-match forces
// the score and concludes through the normal finished path on the next tick.
func TestLeaveDuringPlayForfeits(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}
	room := startedRoom(t, e, c1, c2)

	e.Leave("p1")

	e.mu.RLock()
	score := room.Score
	e.mu.RUnlock()
	if score[1] != e.cfg.WinScore || score[0] != 0 {
		t.Fatalf("forfeit score = %v, want [0 %d]", score, e.cfg.WinScore)
	}
	if c2.find("game_forfeited") == nil {
		t.Fatal("opponent did not receive game_forfeited")
	}

	e.tick(room.LastUpdate.Add(8 * time.Millisecond))
	if e.RoomCount() != 0 {
		t.Error("forfeited room was not concluded by the tick")
	}
	if c2.find("game_end") == nil {
		t.Error("opponent did not receive game_end")
	}
}

// TestDisconnectKeepsRoomForReconnect verifies an unexpected close keeps the
// room and the score, and that a reconnect swaps the connection back in.
func TestDisconnectKeepsRoomForReconnect(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}
	room := startedRoom(t, e, c1, c2)

	e.mu.Lock()
	room.Score = [2]int{3, 2}
	e.mu.Unlock()

	e.Disconnect("p1")

	if e.RoomCount() != 1 {
		t.Fatal("room was removed on unexpected disconnect")
	}
	if c2.find("opponent_lost") == nil {
		t.Fatal("opponent was not told about the disconnect")
	}
	e.mu.RLock()
	p1 := room.Players[0]
	ready, conn := p1.Ready, p1.Conn
	e.mu.RUnlock()
	if ready || conn != nil {
		t.Fatal("disconnected seat was not detached")
	}

	// The identity reconnecting is offered the same room.
	c3 := &fakeConn{}
	e.Connect(c3, "p1")
	offer := c3.find("reconnect_to_game")
	if offer == nil || offer["roomId"] != room.ID {
		t.Fatalf("reconnect offer = %v, want room %s", offer, room.ID)
	}

	e.Reconnect(c3, "p1")
	e.mu.RLock()
	score := room.Score
	swapped := room.Players[0].Conn == Conn(c3) && room.Players[0].Ready
	e.mu.RUnlock()
	if !swapped {
		t.Error("reconnect did not swap the connection handle")
	}
	if score != [2]int{3, 2} {
		t.Errorf("score reset by reconnect: %v", score)
	}
}

// TestConnectFreshIdentity verifies a plain greeting when nothing is owed.
func TestConnectFreshIdentity(t *testing.T) {
	e := testEngine()
	c := &fakeConn{}

	e.Connect(c, "p1")
	if c.find("connected") == nil {
		t.Error("fresh connection did not receive connected")
	}
}

// TestPaddleMoveOnlyInPlay verifies paddle input is ignored before play and
// applied during it.
func TestPaddleMoveOnlyInPlay(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}

	roomID := e.CreateRoom()
	e.JoinRoom(c1, ident("p1"), roomID)
	e.JoinRoom(c2, ident("p2"), roomID)
	e.Ready(c1, "p1")

	e.PaddleMove("p1", "up")
	e.mu.RLock()
	pad := e.rooms[roomID].Players[0].Paddle
	dir := pad.Direction
	e.mu.RUnlock()
	if dir != 0 {
		t.Fatalf("paddle moved before play: direction %d", dir)
	}

	e.Ready(c2, "p2")
	e.PaddleMove("p1", "up")
	e.PaddleMove("p2", "down")
	e.mu.RLock()
	up := e.rooms[roomID].Players[0].Paddle.Direction
	down := e.rooms[roomID].Players[1].Paddle.Direction
	e.mu.RUnlock()
	if up != -1 || down != 1 {
		t.Errorf("directions = %d, %d; want -1, 1", up, down)
	}
}

// TestTickBroadcastsState verifies an in-play room streams state_update to
// both players.
func TestTickBroadcastsState(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}
	room := startedRoom(t, e, c1, c2)

	e.tick(room.LastUpdate.Add(8 * time.Millisecond))

	if c1.find("state_update") == nil || c2.find("state_update") == nil {
		t.Error("players did not both receive state_update")
	}
}

// TestStaleRoomSkipsStep verifies a long gap resets the clock instead of
// applying an inflated delta.
func TestStaleRoomSkipsStep(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}
	room := startedRoom(t, e, c1, c2)

	e.mu.RLock()
	before := room.Ball
	e.mu.RUnlock()

	e.tick(room.LastUpdate.Add(2 * time.Second))

	e.mu.RLock()
	after := room.Ball
	e.mu.RUnlock()
	if before != after {
		t.Error("stale room was stepped")
	}
	if c1.find("state_update") != nil {
		t.Error("stale skip still broadcast a state_update")
	}
}

// TestSweepEvictsAbandonedRooms verifies the janitor removes rooms whose
// every seat stayed detached past the grace period.
func TestSweepEvictsAbandonedRooms(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}
	room := startedRoom(t, e, c1, c2)

	e.Disconnect("p1")
	e.Disconnect("p2")

	e.mu.Lock()
	room.emptySince = time.Now().Add(-e.cfg.RoomGrace - time.Minute)
	e.mu.Unlock()

	e.mu.Lock()
	e.sweep(time.Now())
	e.mu.Unlock()

	if e.RoomCount() != 0 {
		t.Error("abandoned room survived the sweep")
	}
}

// TestTournamentFinishReportsResult verifies a tournament-linked match
// reports its result instead of exchanging ratings.
func TestTournamentFinishReportsResult(t *testing.T) {
	e := testEngine()
	c1, c2 := &fakeConn{}, &fakeConn{}

	roomID := e.CreateTournamentRoom("tourny-1")
	e.JoinRoom(c1, ident("p1"), roomID)
	e.JoinRoom(c2, ident("p2"), roomID)
	e.Ready(c1, "p1")
	e.Ready(c2, "p2")

	results := make(chan string, 1)
	e.OnTournamentResult = func(tournamentID, rid string, score [2]int, winnerID string) {
		if tournamentID == "tourny-1" && rid == roomID {
			results <- winnerID
		}
	}

	e.mu.Lock()
	room := e.rooms[roomID]
	room.Score[0] = e.cfg.WinScore - 1
	room.Ball = Ball{X: e.world.Width + 10, Y: 100, V: Vec2{X: 200}}
	elo := room.Players[0].Elo
	e.mu.Unlock()

	e.tick(room.LastUpdate.Add(8 * time.Millisecond))

	select {
	case winner := <-results:
		if winner != "p1" {
			t.Errorf("reported winner = %s, want p1", winner)
		}
	case <-time.After(time.Second):
		t.Fatal("tournament result was never reported")
	}
	if room.Players[0].Elo != elo {
		t.Error("tournament match changed the rating")
	}
}

package tournament

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pong-arena/internal/game"
)

const closeNormal = 1000 // normal ws close status

// RoomCreator allocates match rooms linked to a tournament. The game engine
// satisfies it.
type RoomCreator interface {
	CreateTournamentRoom(tournamentID string) string
}

// Recorder persists tournament records and per-player tournament stats. All
// implementations must be non-blocking from the caller's perspective.
type Recorder interface {
	TournamentCreated(id, ownerID string, players []*PlayerInfo, rounds [][]*BracketInfo)
	TournamentUpdated(id string, rounds [][]*BracketInfo)
	TournamentFinished(id string, playerIDs []string, winnerID string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) TournamentCreated(string, string, []*PlayerInfo, [][]*BracketInfo) {}
func (NopRecorder) TournamentUpdated(string, [][]*BracketInfo)                        {}
func (NopRecorder) TournamentFinished(string, []string, string)                       {}

// Player is one tournament participant. The connection handle is swappable:
// a rejoin over a dead connection re-attaches without losing the seat.
type Player struct {
	ID            string
	Username      string
	Avatar        string
	Conn          game.Conn
	Elo           int
	TournamentElo int
	Left          bool
}

func newPlayer(id game.Identity, conn game.Conn) *Player {
	elo := id.Elo
	if elo == 0 {
		elo = 1000
	}
	return &Player{
		ID:            id.ID,
		Username:      id.Username,
		Avatar:        id.Avatar,
		Conn:          conn,
		Elo:           elo,
		TournamentElo: 1000,
	}
}

func (p *Player) send(v any) {
	if p.Conn != nil {
		p.Conn.Send(v)
	}
}

// Bracket is one slot in a round. Decided distinguishes "not played yet"
// from "resolved with no winner" (a double bye leaves Winner nil).
type Bracket struct {
	P1, P2     *Player
	RoomID     string // empty for byes
	FinalScore []int
	Winner     *Player
	Decided    bool
}

// Room is one tournament lobby and its bracket tree. Rounds are append-only.
type Room struct {
	ID        string
	OwnerID   string
	Size      int // power of two
	Locked    bool
	Players   []*Player
	Rounds    [][]*Bracket
	CreatedAt time.Time
}

// PlayerInfo is the serializable projection of a participant.
type PlayerInfo struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Avatar        string `json:"avatar"`
	Elo           int    `json:"currentElo"`
	TournamentElo int    `json:"currentTournamentElo"`
}

// BracketInfo is the serializable projection of a bracket; snapshots never
// carry live connections.
type BracketInfo struct {
	P1         *PlayerInfo `json:"p1,omitempty"`
	P2         *PlayerInfo `json:"p2,omitempty"`
	GameRoomID string      `json:"gameRoomId"`
	FinalScore []int       `json:"finalScore,omitempty"`
	Winner     *PlayerInfo `json:"winner,omitempty"`
	Decided    bool        `json:"decided"`
}

// System owns every tournament lobby. One mutex guards the map and all room
// state, mirroring the game engine's locking model.
type System struct {
	mu    sync.Mutex
	rooms map[string]*Room
	games RoomCreator
	rec   Recorder
}

func New(games RoomCreator, rec Recorder) *System {
	if rec == nil {
		rec = NopRecorder{}
	}
	return &System{
		rooms: make(map[string]*Room),
		games: games,
		rec:   rec,
	}
}

// ValidSize reports whether a requested tournament size is a power of two
// within [2, max].
func ValidSize(size, max int) bool {
	return size >= 2 && size <= max && size&(size-1) == 0
}

// Has reports whether a tournament id is live.
func (s *System) Has(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Count returns the number of live tournaments (for metrics).
func (s *System) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Create allocates a tournament lobby with the caller as owner and first
// participant.
func (s *System) Create(conn game.Conn, id game.Identity, size int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID := uuid.NewString()
	room := &Room{
		ID:        roomID,
		OwnerID:   id.ID,
		Size:      size,
		CreatedAt: time.Now(),
	}
	room.Players = append(room.Players, newPlayer(id, conn))
	s.rooms[roomID] = room

	conn.Send(map[string]any{
		"type":   "tourny_created",
		"roomId": roomID,
	})
	s.broadcastInfo(room)
	log.Printf("[tourny] %s created tournament %s for %d players", id.ID, roomID, size)
	return roomID
}

// Join seats an identity in a lobby. A participant whose connection died may
// rejoin: the seat is kept and only the connection handle is replaced. The
// lobby locks and starts automatically when the last seat fills.
func (s *System) Join(conn game.Conn, id game.Identity, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		conn.Send(map[string]any{
			"type":    "not_found",
			"message": "No tourny with id " + roomID,
		})
		return
	}

	for _, p := range room.Players {
		if p.ID != id.ID || p.Left {
			continue
		}
		if p.Conn != nil {
			conn.Send(map[string]any{
				"type":    "already_in_tourny",
				"message": "Already seated in this tournament",
			})
			return
		}
		p.Conn = conn
		conn.Send(map[string]any{
			"type":    "joined_tourny",
			"message": "Successfully rejoined tourny",
		})
		s.broadcastInfo(room)
		return
	}

	if room.Locked {
		conn.Send(map[string]any{
			"type":    "tourny_started",
			"message": "Tournament already started",
		})
		return
	}

	for _, p := range room.Players {
		p.send(map[string]any{
			"type":    "new_player",
			"message": "A player joined the tournament",
			"userId":  id.ID,
		})
	}
	room.Players = append(room.Players, newPlayer(id, conn))
	conn.Send(map[string]any{
		"type":    "joined_tourny",
		"message": "Successfully joined tourny",
	})
	s.broadcastInfo(room)

	if len(room.Players) == room.Size {
		s.start(room)
	}
}

// Start force-starts the caller's tournament. Only the owner may start, and
// only with at least two participants.
func (s *System) Start(conn game.Conn, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.findUserRoom(userID)
	if room == nil || room.OwnerID != userID {
		conn.Send(map[string]any{
			"type":    "missing_perms",
			"message": "Either not in a tourny or not owner of said tourny",
		})
		return
	}
	if len(room.Players) < 2 {
		conn.Send(map[string]any{
			"type":    "missing_perms",
			"message": "Need at least 2 players to start",
		})
		return
	}
	s.start(room)
}

// start locks the lobby, seeds the first round, persists the record and runs
// the advancement check (a partial lobby can cascade byes immediately).
func (s *System) start(room *Room) {
	if room.Locked {
		return
	}
	room.Locked = true
	log.Printf("[tourny] tournament %s locked with %d/%d players", room.ID, len(room.Players), room.Size)

	room.Rounds = append(room.Rounds, s.seedRound(room))

	players := make([]*PlayerInfo, len(room.Players))
	for i, p := range room.Players {
		players[i] = playerInfo(p)
	}
	s.rec.TournamentCreated(room.ID, room.OwnerID, players, snapshotRounds(room))
	s.broadcastInfo(room)
	s.advance(room)
}

// seedRound builds round 1: participants sorted by tournament rating
// descending, rank i paired against rank size-1-i. Outer slots (even i)
// first, interior slots (odd i) after, keeping top seeds apart until the
// final.
func (s *System) seedRound(room *Room) []*Bracket {
	sorted := make([]*Player, len(room.Players))
	copy(sorted, room.Players)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TournamentElo > sorted[j].TournamentElo
	})

	seedAt := func(i int) *Player {
		if i < len(sorted) {
			return sorted[i]
		}
		return nil
	}

	var round []*Bracket
	half := room.Size / 2
	for i := 0; i < half; i += 2 {
		round = append(round, s.pair(room, seedAt(i), seedAt(room.Size-1-i), false))
	}
	for i := 1; i < half; i += 2 {
		round = append(round, s.pair(room, seedAt(i), seedAt(room.Size-1-i), false))
	}
	return round
}

// pair builds one bracket. A missing side resolves as an instant bye with no
// match room; a filled bracket gets a linked match room and both players are
// routed into it.
func (s *System) pair(room *Room, p1, p2 *Player, advancing bool) *Bracket {
	b := &Bracket{P1: p1, P2: p2}
	if p1 == nil || p2 == nil {
		b.Decided = true
		b.FinalScore = []int{0, 0}
		if p1 != nil {
			b.Winner = p1
		} else {
			b.Winner = p2 // may stay nil: double bye
		}
		return b
	}

	b.RoomID = s.games.CreateTournamentRoom(room.ID)
	for _, p := range []*Player{p1, p2} {
		if advancing {
			p.send(map[string]any{
				"type":    "advancing",
				"message": "Advancing to next round",
			})
		}
		p.send(map[string]any{
			"type":    "join_game",
			"message": "Tourny started, joining game Room",
			"roomId":  b.RoomID,
		})
	}
	return b
}

// advance generates follow-up rounds as long as the newest round is fully
// decided, and concludes the tournament once it collapses to one decided
// bracket. The loop is bounded: every generated round halves the bracket
// count.
func (s *System) advance(room *Room) {
	for {
		last := room.Rounds[len(room.Rounds)-1]
		for _, b := range last {
			if !b.Decided {
				return
			}
		}
		if len(last) == 1 {
			s.conclude(room, last[0])
			return
		}

		next := make([]*Bracket, 0, len(last)/2)
		for i := 0; i+1 < len(last); i += 2 {
			next = append(next, s.pair(room, last[i].Winner, last[i+1].Winner, true))
		}
		room.Rounds = append(room.Rounds, next)
		s.broadcastInfo(room)
		s.rec.TournamentUpdated(room.ID, snapshotRounds(room))
	}
}

// ReportScore consumes a finished match result from the game engine. Locates
// the bracket by its linked match room in the newest round, resolves it,
// notifies spectating participants and re-runs advancement, which may
// cascade through bye rounds to the conclusion in one call. A second report
// for the same match is ignored.
func (s *System) ReportScore(tournamentID, matchRoomID string, score [2]int, winnerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[tournamentID]
	if !ok {
		return
	}

	last := room.Rounds[len(room.Rounds)-1]
	idx := -1
	var bracket *Bracket
	for i, b := range last {
		if b.RoomID == matchRoomID {
			idx, bracket = i, b
			break
		}
	}
	if bracket == nil || bracket.Decided {
		return
	}

	bracket.Winner = bracket.P1
	if bracket.P2 != nil && bracket.P2.ID == winnerID {
		bracket.Winner = bracket.P2
	}
	bracket.FinalScore = []int{score[0], score[1]}
	bracket.Decided = true

	for _, p := range room.Players {
		if p.ID == bracket.P1.ID || p.ID == bracket.P2.ID {
			continue
		}
		p.send(map[string]any{
			"type":      "match_end",
			"bracketId": idx,
			"winner":    playerInfo(bracket.Winner),
			"score":     bracket.FinalScore,
		})
	}

	s.rec.TournamentUpdated(room.ID, snapshotRounds(room))
	s.advance(room)
}

// conclude finishes the tournament: final broadcast, tournament-scoped stats
// for every participant, then a normal close of every connection and removal
// of the room.
func (s *System) conclude(room *Room, final *Bracket) {
	winner := final.Winner
	if winner != nil {
		winner.send(map[string]any{
			"type":    "tourny_won",
			"message": "Congrats, you won this tourny!",
		})
	}

	snapshot := snapshotRounds(room)
	ids := make([]string, len(room.Players))
	for i, p := range room.Players {
		ids[i] = p.ID
		p.send(map[string]any{
			"type":     "tourny_end",
			"message":  "Tourny has ended",
			"brackets": snapshot,
			"winner":   playerInfo(winner),
			"score":    final.FinalScore,
		})
	}

	winnerID := ""
	if winner != nil {
		winnerID = winner.ID
	}
	s.rec.TournamentUpdated(room.ID, snapshot)
	s.rec.TournamentFinished(room.ID, ids, winnerID)

	for _, p := range room.Players {
		if p.Conn != nil {
			p.Conn.Close(closeNormal, "tournament ended")
		}
	}
	delete(s.rooms, room.ID)
	log.Printf("[tourny] tournament %s concluded, winner %q", room.ID, winnerID)
}

// RoomInfo sends the caller a snapshot of their tournament.
func (s *System) RoomInfo(conn game.Conn, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.findUserRoom(userID)
	if room == nil {
		conn.Send(map[string]any{
			"type":    "not_in_tourny",
			"message": "You are not in any tournament",
		})
		return
	}
	conn.Send(s.info(room))
}

// Disconnect handles a participant's connection closing. Before lock the
// seat is released entirely (with ownership transfer if the owner left);
// after lock a voluntary close marks the seat left for good, while an
// unexpected close only detaches the connection so the player can rejoin.
func (s *System) Disconnect(userID string, voluntary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.findUserRoom(userID)
	if room == nil {
		return
	}

	if room.Locked {
		for _, p := range room.Players {
			if p.ID != userID || p.Left {
				continue
			}
			if voluntary {
				p.Left = true
				p.Conn = nil
				s.broadcastPlayerLeft(room, userID)
			} else {
				p.Conn = nil
			}
			break
		}
	} else {
		for i, p := range room.Players {
			if p.ID != userID {
				continue
			}
			room.Players = append(room.Players[:i], room.Players[i+1:]...)
			s.broadcastPlayerLeft(room, userID)
			if userID == room.OwnerID && len(room.Players) > 0 {
				room.Players[0].send(map[string]any{
					"type":    "ownership_transfer",
					"message": "You are now owner of this tournament",
				})
				room.OwnerID = room.Players[0].ID
			}
			break
		}
	}

	if s.allGone(room) {
		delete(s.rooms, room.ID)
		log.Printf("[tourny] deleted empty tournament %s", room.ID)
	}
}

func (s *System) broadcastPlayerLeft(room *Room, userID string) {
	for _, p := range room.Players {
		p.send(map[string]any{
			"type":    "player_left",
			"message": "A player left the tournament",
			"userId":  userID,
		})
	}
}

func (s *System) allGone(room *Room) bool {
	for _, p := range room.Players {
		if !p.Left {
			return false
		}
	}
	return true
}

func (s *System) findUserRoom(userID string) *Room {
	for _, room := range s.rooms {
		for _, p := range room.Players {
			if p.ID == userID {
				return room
			}
		}
	}
	return nil
}

func (s *System) broadcastInfo(room *Room) {
	info := s.info(room)
	for _, p := range room.Players {
		p.send(info)
	}
}

func (s *System) info(room *Room) map[string]any {
	players := make([]*PlayerInfo, len(room.Players))
	for i, p := range room.Players {
		players[i] = playerInfo(p)
	}
	return map[string]any{
		"type":            "tourny_info",
		"roomId":          room.ID,
		"ownerId":         room.OwnerID,
		"locked":          room.Locked,
		"num_players":     room.Size,
		"current_players": len(room.Players),
		"players":         players,
		"brackets":        snapshotRounds(room),
		"canStart":        len(room.Players) >= 2 && len(room.Players) <= room.Size && !room.Locked,
	}
}

func playerInfo(p *Player) *PlayerInfo {
	if p == nil {
		return nil
	}
	return &PlayerInfo{
		ID:            p.ID,
		Username:      p.Username,
		Avatar:        p.Avatar,
		Elo:           p.Elo,
		TournamentElo: p.TournamentElo,
	}
}

func snapshotRounds(room *Room) [][]*BracketInfo {
	rounds := make([][]*BracketInfo, len(room.Rounds))
	for i, round := range room.Rounds {
		rounds[i] = make([]*BracketInfo, len(round))
		for j, b := range round {
			rounds[i][j] = &BracketInfo{
				P1:         playerInfo(b.P1),
				P2:         playerInfo(b.P2),
				GameRoomID: b.RoomID,
				FinalScore: b.FinalScore,
				Winner:     playerInfo(b.Winner),
				Decided:    b.Decided,
			}
		}
	}
	return rounds
}

package game

// Conn is the transport handle attached to a player. The engine treats it as
// a weak, swappable reference: on reconnect the identity stays and only the
// handle is replaced. Send must never block the tick loop; implementations
// drop messages under backpressure instead.
type Conn interface {
	// Send marshals v and writes it asynchronously. Best effort.
	Send(v any)
	// Close closes the connection with a close code and reason.
	Close(code int, reason string)
}

// Identity is the resolved, engine-facing view of a user. Resolution itself
// is owned by the external auth service; the engine only consumes the result.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Elo      int    `json:"currentElo"`
}

// Player is one seat in a match room.
type Player struct {
	ID       string
	Username string
	Avatar   string
	Elo      int

	Conn   Conn
	Paddle *Paddle
	Ready  bool
	Left   bool // terminal within a room; never reset
}

// newPlayer seats an identity with a fresh connection handle.
func newPlayer(id Identity, conn Conn) *Player {
	elo := id.Elo
	if elo == 0 {
		elo = 1000
	}
	return &Player{
		ID:       id.ID,
		Username: id.Username,
		Avatar:   id.Avatar,
		Elo:      elo,
		Conn:     conn,
	}
}

func (p *Player) send(v any) {
	if p.Conn != nil {
		p.Conn.Send(v)
	}
}

// PlayerInfo is the read-only projection broadcast in room_info snapshots.
// Connections are never serialized.
type PlayerInfo struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Avatar   string  `json:"avatar"`
	Ready    bool    `json:"ready"`
	Elo      int     `json:"currentElo"`
	Paddle   *Paddle `json:"paddle,omitempty"`
}

func (p *Player) info() PlayerInfo {
	return PlayerInfo{
		ID:       p.ID,
		Username: p.Username,
		Avatar:   p.Avatar,
		Ready:    p.Ready,
		Elo:      p.Elo,
		Paddle:   p.Paddle,
	}
}

// Recorder receives completed-match facts for the external record store.
// Implementations must be fire-and-forget: calls happen on the engine's hot
// path and their failure must never affect in-memory match state.
type Recorder interface {
	// MatchCreated persists a new match record when play starts.
	MatchCreated(roomID string, playerIDs []string, tournamentID string)
	// MatchScore updates the running score of a match record.
	MatchScore(roomID string, score [2]int)
	// MatchFinished updates both players' win/loss/streak/elo counters for a
	// non-tournament match.
	MatchFinished(winnerID, loserID string, winnerElo, loserElo int)
	// MatchHistory appends the room id to a player's past games.
	MatchHistory(userID, roomID string)
}

// NopRecorder discards everything. Used in tests and as a safe default.
type NopRecorder struct{}

func (NopRecorder) MatchCreated(string, []string, string)   {}
func (NopRecorder) MatchScore(string, [2]int)               {}
func (NopRecorder) MatchFinished(string, string, int, int)  {}
func (NopRecorder) MatchHistory(string, string)             {}

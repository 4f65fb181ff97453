package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pong-arena/internal/tournament"
)

var storeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "record_store_failures_total",
	Help: "Failed record store operations by kind",
}, []string{"op"})

const writeTimeout = 5 * time.Second

// Stats persists match and tournament outcomes to the record store. Every
// write from the hot path runs fire-and-forget on its own goroutine:
// failures are counted and logged, never surfaced to match state.
//
// It satisfies both the game engine's and the bracket engine's Recorder
// interfaces.
type Stats struct {
	client *Client
}

func NewStats(client *Client) *Stats {
	return &Stats{client: client}
}

func (s *Stats) async(op string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			storeFailures.WithLabelValues(op).Inc()
			log.Printf("[store] %s failed: %v", op, err)
		}
	}()
}

// MatchCreated inserts the game record when play begins.
func (s *Stats) MatchCreated(roomID string, playerIDs []string, tournamentID string) {
	s.async("game_create", func(ctx context.Context) error {
		players, _ := json.Marshal(playerIDs)
		_, err := s.client.Create(ctx, "games", Record{
			"id":       roomID,
			"players":  string(players),
			"score":    "[0,0]",
			"tournyId": tournamentID,
		})
		return err
	})
}

// MatchScore updates the game record after each point.
func (s *Stats) MatchScore(roomID string, score [2]int) {
	s.async("game_score", func(ctx context.Context) error {
		raw, _ := json.Marshal(score)
		return s.client.Update(ctx, "games", roomID, Record{
			"score": string(raw),
		})
	})
}

// MatchFinished updates both players' casual game stats.
func (s *Stats) MatchFinished(winnerID, loserID string, winnerElo, loserElo int) {
	s.async("game_stats", func(ctx context.Context) error {
		if err := s.updateGameStats(ctx, winnerID, true, winnerElo); err != nil {
			return err
		}
		return s.updateGameStats(ctx, loserID, false, loserElo)
	})
}

// MatchHistory appends the match to a player's past games.
func (s *Stats) MatchHistory(userID, roomID string) {
	s.async("game_history", func(ctx context.Context) error {
		dataID, err := s.userDataID(ctx, userID)
		if err != nil {
			return err
		}
		return s.appendToArray(ctx, dataID, "pastGames", roomID)
	})
}

// TournamentCreated inserts the tournament record when the lobby locks.
func (s *Stats) TournamentCreated(id, ownerID string, players []*tournament.PlayerInfo, rounds [][]*tournament.BracketInfo) {
	s.async("tournament_create", func(ctx context.Context) error {
		rawPlayers, _ := json.Marshal(players)
		rawRounds, _ := json.Marshal(rounds)
		_, err := s.client.Create(ctx, "tournament", Record{
			"id":       id,
			"ownerId":  ownerID,
			"players":  string(rawPlayers),
			"brackets": string(rawRounds),
		})
		return err
	})
}

// TournamentUpdated rewrites the bracket snapshot after each advancement.
func (s *Stats) TournamentUpdated(id string, rounds [][]*tournament.BracketInfo) {
	s.async("tournament_update", func(ctx context.Context) error {
		raw, _ := json.Marshal(rounds)
		return s.client.Update(ctx, "tournament", id, Record{
			"brackets": string(raw),
		})
	})
}

// TournamentFinished persists tournament-scoped stats and history for every
// participant.
func (s *Stats) TournamentFinished(id string, playerIDs []string, winnerID string) {
	for _, pid := range playerIDs {
		pid := pid
		s.async("tournament_stats", func(ctx context.Context) error {
			dataID, err := s.userDataID(ctx, pid)
			if err != nil {
				return err
			}
			if err := s.updateTournamentStats(ctx, dataID, pid == winnerID); err != nil {
				return err
			}
			return s.appendToArray(ctx, dataID, "pastTournaments", id)
		})
	}
}

// Rating reads a player's current casual rating synchronously. Missing
// players or fields fall back to the base rating.
func (s *Stats) Rating(ctx context.Context, userID string) int {
	data, err := s.userData(ctx, userID)
	if err != nil || data == nil {
		return 1000
	}
	if elo := data.num("currentElo"); elo > 0 {
		return elo
	}
	return 1000
}

// userDataID resolves a user's stats row id, creating the row if the user
// has none yet.
func (s *Stats) userDataID(ctx context.Context, userID string) (string, error) {
	user, err := s.client.Get(ctx, "users", userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("user %s not found", userID)
	}
	if dataID := user.str("userData"); dataID != "" {
		return dataID, nil
	}

	created, err := s.client.Create(ctx, "userData", Record{})
	if err != nil {
		return "", err
	}
	dataID := created.str("id")
	if dataID == "" {
		return "", fmt.Errorf("userData create returned no id")
	}
	if err := s.client.Update(ctx, "users", userID, Record{"userData": dataID}); err != nil {
		return "", err
	}
	return dataID, nil
}

func (s *Stats) userData(ctx context.Context, userID string) (Record, error) {
	dataID, err := s.userDataID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.client.Get(ctx, "userData", dataID)
}

// updateGameStats applies the win/loss counters and streak rules: a win on a
// non-negative streak increments it, a loss runs the streak negative, and a
// result against the streak's direction resets it to zero.
func (s *Stats) updateGameStats(ctx context.Context, userID string, won bool, newElo int) error {
	dataID, err := s.userDataID(ctx, userID)
	if err != nil {
		return err
	}
	data, err := s.client.Get(ctx, "userData", dataID)
	if err != nil {
		return err
	}
	if data == nil {
		data = Record{}
	}

	prevStreak := data.num("currentStreak")
	var streak int
	if won {
		if prevStreak >= 0 {
			streak = prevStreak + 1
		}
	} else {
		if prevStreak <= 0 {
			streak = prevStreak - 1
		}
	}

	highestStreak := data.num("highestStreak")
	if streak > highestStreak {
		highestStreak = streak
	}
	highestElo := data.num("highestElo")
	if highestElo < 1000 {
		highestElo = 1000
	}
	if newElo > highestElo {
		highestElo = newElo
	}

	wins, losses := data.num("totalGameWin"), data.num("totalGameLoose")
	if won {
		wins++
	} else {
		losses++
	}

	return s.client.Update(ctx, "userData", dataID, Record{
		"totalGamePlayed": data.num("totalGamePlayed") + 1,
		"totalGameWin":    wins,
		"totalGameLoose":  losses,
		"currentStreak":   streak,
		"highestStreak":   highestStreak,
		"currentElo":      newElo,
		"highestElo":      highestElo,
	})
}

// updateTournamentStats mirrors the streak rules for tournament outcomes.
func (s *Stats) updateTournamentStats(ctx context.Context, dataID string, won bool) error {
	data, err := s.client.Get(ctx, "userData", dataID)
	if err != nil {
		return err
	}
	if data == nil {
		data = Record{}
	}

	prevStreak := data.num("currentTournamentStreak")
	fields := Record{
		"totalTournamentPlayed": data.num("totalTournamentPlayed") + 1,
	}
	if won {
		fields["totalTournamentWin"] = data.num("totalTournamentWin") + 1
		streak := 1
		if prevStreak >= 0 {
			streak = prevStreak + 1
		}
		fields["currentTournamentStreak"] = streak
		if streak > data.num("highestTournamentStreak") {
			fields["highestTournamentStreak"] = streak
		}
	} else {
		fields["totalTournamentLoose"] = data.num("totalTournamentLoose") + 1
		streak := -1
		if prevStreak <= 0 {
			streak = prevStreak - 1
		}
		fields["currentTournamentStreak"] = streak
	}

	return s.client.Update(ctx, "userData", dataID, fields)
}

// appendToArray appends a value to a JSON-array string field of a userData
// row.
func (s *Stats) appendToArray(ctx context.Context, dataID, field, value string) error {
	data, err := s.client.Get(ctx, "userData", dataID)
	if err != nil {
		return err
	}

	var arr []string
	if data != nil {
		if raw := data.str(field); raw != "" {
			if err := json.Unmarshal([]byte(raw), &arr); err != nil {
				log.Printf("[store] resetting malformed %s for %s: %v", field, dataID, err)
				arr = nil
			}
		}
	}
	arr = append(arr, value)

	raw, _ := json.Marshal(arr)
	return s.client.Update(ctx, "userData", dataID, Record{field: string(raw)})
}

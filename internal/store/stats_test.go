package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeStore is an in-memory stand-in for the record-store service speaking
// its collection routes.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]map[string]Record // collection -> id -> record
	updates []string                     // "collection/id" in arrival order
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]map[string]Record{}}
}

func (f *fakeStore) put(collection, id string, rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[collection] == nil {
		f.records[collection] = map[string]Record{}
	}
	f.records[collection][id] = rec
}

func (f *fakeStore) get(collection, id string) Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[collection][id]
}

func (f *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	collection, op := parts[0], parts[1]

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[collection] == nil {
		f.records[collection] = map[string]Record{}
	}

	switch {
	case op == "getOne" && len(parts) == 3:
		rec, ok := f.records[collection][parts[2]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(rec)
	case op == "create" && r.Method == http.MethodPost:
		var rec Record
		json.NewDecoder(r.Body).Decode(&rec)
		id, _ := rec["id"].(string)
		if id == "" {
			id = "generated-1"
			rec["id"] = id
		}
		f.records[collection][id] = rec
		json.NewEncoder(w).Encode(rec)
	case op == "update" && len(parts) == 3 && r.Method == http.MethodPatch:
		rec, ok := f.records[collection][parts[2]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		var fields Record
		json.NewDecoder(r.Body).Decode(&fields)
		for k, v := range fields {
			rec[k] = v
		}
		f.updates = append(f.updates, collection+"/"+parts[2])
		json.NewEncoder(w).Encode(rec)
	default:
		http.NotFound(w, r)
	}
}

func testStats(t *testing.T) (*Stats, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return NewStats(NewClient(srv.URL)), fs
}

// seedUser wires a user row to a userData row.
func seedUser(fs *fakeStore, userID, dataID string, data Record) {
	fs.put("users", userID, Record{"id": userID, "userData": dataID})
	if data == nil {
		data = Record{}
	}
	data["id"] = dataID
	fs.put("userData", dataID, data)
}

// TestGameStatsStreakRules checks the casual streak semantics: wins extend a
// non-negative streak, losses run it negative, and a result against the
// streak's direction resets it to zero.
func TestGameStatsStreakRules(t *testing.T) {
	tests := []struct {
		name       string
		prevStreak int
		won        bool
		want       int
	}{
		{"win extends positive streak", 3, true, 4},
		{"win from zero", 0, true, 1},
		{"win breaks losing streak to zero", -2, true, 0},
		{"loss extends negative streak", -2, false, -3},
		{"loss from zero", 0, false, -1},
		{"loss breaks winning streak to zero", 4, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fs := testStats(t)
			seedUser(fs, "u1", "d1", Record{"currentStreak": tt.prevStreak})

			if err := s.updateGameStats(context.Background(), "u1", tt.won, 1016); err != nil {
				t.Fatalf("updateGameStats: %v", err)
			}

			data := fs.get("userData", "d1")
			if got := data.num("currentStreak"); got != tt.want {
				t.Errorf("currentStreak = %d, want %d", got, tt.want)
			}
			if got := data.num("totalGamePlayed"); got != 1 {
				t.Errorf("totalGamePlayed = %d, want 1", got)
			}
		})
	}
}

// TestGameStatsHighWaterMarks checks highestStreak and highestElo only move
// up.
func TestGameStatsHighWaterMarks(t *testing.T) {
	s, fs := testStats(t)
	seedUser(fs, "u1", "d1", Record{
		"currentStreak": 5,
		"highestStreak": 6,
		"highestElo":    1200,
	})

	if err := s.updateGameStats(context.Background(), "u1", true, 1100); err != nil {
		t.Fatalf("updateGameStats: %v", err)
	}

	data := fs.get("userData", "d1")
	if got := data.num("highestStreak"); got != 6 {
		t.Errorf("highestStreak = %d, want 6", got)
	}
	if got := data.num("highestElo"); got != 1200 {
		t.Errorf("highestElo = %d, want 1200", got)
	}
	if got := data.num("currentElo"); got != 1100 {
		t.Errorf("currentElo = %d, want 1100", got)
	}
}

// TestTournamentStreakResetsToOne checks the tournament streak variant: a
// win against a losing streak restarts at 1, not 0.
func TestTournamentStreakResetsToOne(t *testing.T) {
	s, fs := testStats(t)
	seedUser(fs, "u1", "d1", Record{"currentTournamentStreak": -3})

	if err := s.updateTournamentStats(context.Background(), "d1", true); err != nil {
		t.Fatalf("updateTournamentStats: %v", err)
	}

	data := fs.get("userData", "d1")
	if got := data.num("currentTournamentStreak"); got != 1 {
		t.Errorf("currentTournamentStreak = %d, want 1", got)
	}
	if got := data.num("totalTournamentWin"); got != 1 {
		t.Errorf("totalTournamentWin = %d, want 1", got)
	}
}

// TestAppendToArrayHandlesMalformed checks history appends survive a
// corrupted stored array.
func TestAppendToArrayHandlesMalformed(t *testing.T) {
	s, fs := testStats(t)
	seedUser(fs, "u1", "d1", Record{"pastGames": "not-json"})

	if err := s.appendToArray(context.Background(), "d1", "pastGames", "room-9"); err != nil {
		t.Fatalf("appendToArray: %v", err)
	}

	var arr []string
	if err := json.Unmarshal([]byte(fs.get("userData", "d1").str("pastGames")), &arr); err != nil {
		t.Fatalf("stored pastGames is not valid JSON: %v", err)
	}
	if len(arr) != 1 || arr[0] != "room-9" {
		t.Errorf("pastGames = %v, want [room-9]", arr)
	}
}

// TestUserDataIDCreatesMissingRow checks a user with no stats row gets one
// allocated and linked.
func TestUserDataIDCreatesMissingRow(t *testing.T) {
	s, fs := testStats(t)
	fs.put("users", "u1", Record{"id": "u1"})

	dataID, err := s.userDataID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("userDataID: %v", err)
	}
	if dataID == "" {
		t.Fatal("userDataID returned empty id")
	}
	if got := fs.get("users", "u1").str("userData"); got != dataID {
		t.Errorf("user row links %q, want %q", got, dataID)
	}
}

// TestRatingFallsBack checks unknown players rate at the base 1000.
func TestRatingFallsBack(t *testing.T) {
	s, _ := testStats(t)
	if got := s.Rating(context.Background(), "nobody"); got != 1000 {
		t.Errorf("Rating = %d, want 1000", got)
	}

	s2, fs := testStats(t)
	seedUser(fs, "u1", "d1", Record{"currentElo": 1342})
	if got := s2.Rating(context.Background(), "u1"); got != 1342 {
		t.Errorf("Rating = %d, want 1342", got)
	}
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package stopthebus

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Phase is a room's position in the game lifecycle.
type Phase string

const (
	PhaseLobby         Phase = "Lobby"
	PhaseRoundActive   Phase = "RoundActive"
	PhaseRoundComplete Phase = "RoundComplete"
	PhaseFinished      Phase = "Finished"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseLobby, PhaseRoundActive, PhaseRoundComplete, PhaseFinished:
		return true
	}

	return false
}

// InRound reports whether a letter is in play.
func (p Phase) InRound() bool {
	return p == PhaseRoundActive || p == PhaseRoundComplete
}

// Answers maps category to answer text.
type Answers map[string]string

// Room is one game session. It is also the persisted record, so every field
// that matters after a restart is exported.
type Room struct {
	Code          string             `json:"code"`
	Host          string             `json:"host"`
	Players       []string           `json:"players"`
	Categories    []string           `json:"categories"`
	Phase         Phase              `json:"phase"`
	CurrentRound  int                `json:"currentRound"`
	CurrentLetter string             `json:"currentLetter,omitempty"`
	Submissions   map[string]Answers `json:"submissions"`
	Scores        map[string]int     `json:"scores"`
	MaxRounds     int                `json:"maxRounds"`
	Revision      uint64             `json:"revision"`
	CreatedAt     time.Time          `json:"createdAt"`
	LastActive    time.Time          `json:"lastActive"`
}

func newRoom(code, host string, maxRounds int, now time.Time) *Room {
	return &Room{
		Code:        code,
		Host:        host,
		Players:     []string{host},
		Categories:  []string{},
		Phase:       PhaseLobby,
		Submissions: make(map[string]Answers),
		Scores:      map[string]int{host: 0},
		MaxRounds:   maxRounds,
		CreatedAt:   now,
		LastActive:  now,
	}
}

// HasPlayer reports whether name has joined the room.
func (r *Room) HasPlayer(name string) bool {
	return slices.Contains(r.Players, name)
}

// GameStarted reports whether the room has left the lobby.
func (r *Room) GameStarted() bool {
	return r.Phase != PhaseLobby
}

// Clone returns a deep copy safe to hand out past the room lock.
func (r *Room) Clone() *Room {
	c := *r
	c.Players = slices.Clone(r.Players)
	c.Categories = slices.Clone(r.Categories)
	c.Scores = maps.Clone(r.Scores)
	c.Submissions = cloneSubmissions(r.Submissions)

	return &c
}

// validate rejects a snapshot record that cannot be repaired into a
// consistent room.
func (r *Room) validate() error {
	if r.Code == "" {
		return fmt.Errorf("room has no code")
	}
	if !r.Phase.Valid() {
		return fmt.Errorf("room %s: unknown phase %q", r.Code, r.Phase)
	}

	seen := make(map[string]struct{}, len(r.Players))
	for _, p := range r.Players {
		if p == "" {
			return fmt.Errorf("room %s: blank player name", r.Code)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("room %s: player %q listed twice", r.Code, p)
		}
		seen[p] = struct{}{}
	}
	if _, ok := seen[r.Host]; !ok {
		return fmt.Errorf("room %s: host %q is not a player", r.Code, r.Host)
	}

	if r.CurrentRound < 0 || r.MaxRounds < 0 {
		return fmt.Errorf("room %s: negative round counter", r.Code)
	}
	if r.Phase.InRound() {
		if len(r.CurrentLetter) != 1 || !strings.Contains(alphabet, r.CurrentLetter) {
			return fmt.Errorf("room %s: invalid round letter %q", r.Code, r.CurrentLetter)
		}
		if r.CurrentRound < 1 {
			return fmt.Errorf("room %s: in a round but round counter is %d", r.Code, r.CurrentRound)
		}
	}

	return nil
}

// normalize fills in nil collections and drops data left behind by players
// who are no longer in the room.
func (r *Room) normalize() {
	if r.Players == nil {
		r.Players = []string{}
	}
	if r.Categories == nil {
		r.Categories = []string{}
	}
	if r.Scores == nil {
		r.Scores = make(map[string]int)
	}
	if r.Submissions == nil {
		r.Submissions = make(map[string]Answers)
	}

	for _, p := range r.Players {
		if _, ok := r.Scores[p]; !ok {
			r.Scores[p] = 0
		}
	}
	for name := range r.Scores {
		if !r.HasPlayer(name) {
			delete(r.Scores, name)
		}
	}
	for name := range r.Submissions {
		if !r.HasPlayer(name) {
			delete(r.Submissions, name)
		}
	}

	if !r.Phase.InRound() {
		r.CurrentLetter = ""
	}
}

func cloneSubmissions(in map[string]Answers) map[string]Answers {
	out := make(map[string]Answers, len(in))
	for player, answers := range in {
		out[player] = maps.Clone(answers)
	}

	return out
}

// View is the read-only room snapshot sent to clients.
type View struct {
	Code          string             `json:"code"`
	Host          string             `json:"host"`
	Players       []string           `json:"players"`
	Categories    []string           `json:"categories"`
	Phase         Phase              `json:"phase"`
	GameStarted   bool               `json:"gameStarted"`
	CurrentRound  int                `json:"currentRound"`
	CurrentLetter string             `json:"currentLetter,omitempty"`
	MaxRounds     int                `json:"maxRounds"`
	Revision      uint64             `json:"revision"`
	Submitted     []string           `json:"submitted"`
	Submissions   map[string]Answers `json:"submissions"`
	Scores        map[string]int     `json:"scores"`
}

// View builds a client snapshot. Submitted lists players in join order.
func (r *Room) View() View {
	submitted := make([]string, 0, len(r.Submissions))
	for _, p := range r.Players {
		if _, ok := r.Submissions[p]; ok {
			submitted = append(submitted, p)
		}
	}

	return View{
		Code:          r.Code,
		Host:          r.Host,
		Players:       slices.Clone(r.Players),
		Categories:    slices.Clone(r.Categories),
		Phase:         r.Phase,
		GameStarted:   r.GameStarted(),
		CurrentRound:  r.CurrentRound,
		CurrentLetter: r.CurrentLetter,
		MaxRounds:     r.MaxRounds,
		Revision:      r.Revision,
		Submitted:     submitted,
		Submissions:   cloneSubmissions(r.Submissions),
		Scores:        maps.Clone(r.Scores),
	}
}

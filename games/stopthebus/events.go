/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package stopthebus

// EventType names a state change pushed to room subscribers.
type EventType string

const (
	EventPlayerJoined       EventType = "playerJoined"
	EventCategoriesUpdated  EventType = "categoriesUpdated"
	EventGameStarted        EventType = "gameStarted"
	EventRoundStarted       EventType = "roundStarted"
	EventSubmissionsUpdated EventType = "submissionsUpdated"
	EventRoundCompleted     EventType = "roundCompleted"
	EventScoreUpdated       EventType = "scoreUpdated"
	EventGameFinished       EventType = "gameFinished"
)

// Event is produced by a successful mutation. The engine never delivers
// events itself; callers hand them to whatever transport they use.
//
// Revision increases by one per event within a room, and a View carries the
// revision of the last event applied to it. Transports use it to discard
// events that arrive after newer state.
type Event struct {
	Type     EventType `json:"type"`
	Room     string    `json:"room"`
	Revision uint64    `json:"revision"`
	Payload  any       `json:"payload"`
}

type PlayerJoinedPayload struct {
	Player  string         `json:"player"`
	Players []string       `json:"players"`
	Scores  map[string]int `json:"scores"`
}

type CategoriesUpdatedPayload struct {
	Categories []string `json:"categories"`
}

type GameStartedPayload struct {
	Room View `json:"room"`
}

type RoundStartedPayload struct {
	Letter       string `json:"letter"`
	CurrentRound int    `json:"currentRound"`
}

type SubmissionsUpdatedPayload struct {
	Player      string             `json:"player"`
	Submissions map[string]Answers `json:"submissions"`
}

type RoundCompletedPayload struct {
	CurrentRound int    `json:"currentRound"`
	Forced       bool   `json:"forced"`
	Letter       string `json:"letter"`
}

type ScoreUpdatedPayload struct {
	Player string         `json:"player"`
	Delta  int            `json:"delta"`
	Scores map[string]int `json:"scores"`
}

type GameFinishedPayload struct {
	Room View `json:"room"`
}

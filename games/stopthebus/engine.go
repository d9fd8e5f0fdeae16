/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package stopthebus is the authoritative game engine for Stop the Bus rooms.
//
// Every mutating Engine method runs under the room's exclusive lock and returns
// the events it produced alongside its result. Delivering those events is the
// caller's job.
package stopthebus

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxNameLength     = 32
	maxCategoryLength = 48
	maxCategories     = 24
	maxAnswerLength   = 128
)

// Options tunes an Engine. Zero values pick sensible defaults.
type Options struct {
	// MaxRounds ends the game once exceeded. Zero means unlimited.
	MaxRounds int
	// CodeLength is ignored when Codes is set.
	CodeLength int
	Codes      CodeGenerator
	Letters    *LetterSource
	Now        func() time.Time
}

type Engine struct {
	store     *Store
	codes     CodeGenerator
	letters   *LetterSource
	maxRounds int
	now       func() time.Time
}

func NewEngine(store *Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.MaxRounds < 0 {
		return nil, fmt.Errorf("invalid max rounds: %d", opts.MaxRounds)
	}

	e := &Engine{
		store:     store,
		codes:     opts.Codes,
		letters:   opts.Letters,
		maxRounds: opts.MaxRounds,
		now:       opts.Now,
	}

	if e.codes == nil {
		e.codes = NewCodeGenerator(opts.CodeLength)
	}
	if e.letters == nil {
		letters, err := NewLetterSource()
		if err != nil {
			return nil, err
		}
		e.letters = letters
	}
	if e.now == nil {
		e.now = time.Now
	}

	return e, nil
}

// Store exposes the backing store for persistence and eviction.
func (e *Engine) Store() *Store {
	return e.store
}

// CreateRoom opens a lobby with hostName as its only player.
func (e *Engine) CreateRoom(hostName string) (View, error) {
	host, err := cleanName(hostName)
	if err != nil {
		return View{}, err
	}

	for range maxCodeAttempts {
		code, err := e.codes()
		if err != nil {
			return View{}, &Error{Code: CodeCodeGenerationFailed, Message: ErrCodeGenerationFailed.Message, Cause: err}
		}

		room := newRoom(code, host, e.maxRounds, e.now())
		if e.store.Insert(room) {
			return room.View(), nil
		}
	}

	return View{}, ErrCodeGenerationFailed
}

// JoinRoom adds a player to a room that is still in its lobby.
func (e *Engine) JoinRoom(code, playerName string) (View, []Event, error) {
	name, err := cleanName(playerName)
	if err != nil {
		return View{}, nil, err
	}

	return e.mutate(code, func(r *Room) ([]Event, error) {
		if r.Phase != PhaseLobby {
			return nil, ErrAlreadyStarted
		}
		if r.HasPlayer(name) {
			return nil, ErrDuplicatePlayer
		}

		r.Players = append(r.Players, name)
		r.Scores[name] = 0

		return []Event{{
			Type: EventPlayerJoined,
			Room: r.Code,
			Payload: PlayerJoinedPayload{
				Player:  name,
				Players: slices.Clone(r.Players),
				Scores:  maps.Clone(r.Scores),
			},
		}}, nil
	})
}

// SetCategories replaces the room's categories. Host only, lobby only.
func (e *Engine) SetCategories(code, requesterName string, categories []string) (View, []Event, error) {
	return e.mutate(code, func(r *Room) ([]Event, error) {
		if err := authorize(r, requesterName); err != nil {
			return nil, err
		}
		if r.Phase != PhaseLobby {
			return nil, ErrAlreadyStarted
		}

		cleaned, err := cleanCategories(categories)
		if err != nil {
			return nil, err
		}

		r.Categories = cleaned

		return []Event{{
			Type:    EventCategoriesUpdated,
			Room:    r.Code,
			Payload: CategoriesUpdatedPayload{Categories: slices.Clone(cleaned)},
		}}, nil
	})
}

// StartGame moves the room from its lobby into round one.
func (e *Engine) StartGame(code, requesterName string) (View, []Event, error) {
	return e.mutate(code, func(r *Room) ([]Event, error) {
		if err := authorize(r, requesterName); err != nil {
			return nil, err
		}
		if r.Phase != PhaseLobby {
			return nil, ErrAlreadyStarted
		}
		if len(r.Categories) == 0 {
			return nil, ErrNoCategories
		}
		if len(r.Players) == 0 {
			return nil, newError(CodeInvalidInput, "a game needs at least one player")
		}

		for _, p := range r.Players {
			r.Scores[p] = 0
		}
		r.CurrentRound = 0
		e.startRound(r)

		return []Event{
			{Type: EventGameStarted, Room: r.Code, Payload: GameStartedPayload{Room: r.View()}},
			roundStarted(r),
		}, nil
	})
}

// SubmitResult is returned from SubmitAnswers.
type SubmitResult struct {
	Room View `json:"room"`
	// LetterMismatches lists categories whose answer does not begin with the
	// round letter. It is informational; the answers were still accepted.
	LetterMismatches []string `json:"letterMismatches"`
	RoundComplete    bool     `json:"roundComplete"`
}

// SubmitAnswers records one player's answers for the active round. Either
// every category is stored or nothing is.
func (e *Engine) SubmitAnswers(code, playerName string, answers map[string]string) (SubmitResult, []Event, error) {
	name := strings.TrimSpace(playerName)

	var result SubmitResult

	view, events, err := e.mutate(code, func(r *Room) ([]Event, error) {
		switch r.Phase {
		case PhaseLobby:
			return nil, ErrGameNotStarted
		case PhaseFinished:
			return nil, ErrGameFinished
		}

		if !r.HasPlayer(name) {
			return nil, ErrUnknownPlayer
		}
		if _, ok := r.Submissions[name]; ok {
			return nil, ErrDuplicateSubmission
		}
		if r.Phase != PhaseRoundActive {
			return nil, newError(CodeGameNotStarted, "this round is closed to new answers")
		}

		accepted, err := cleanAnswers(r.Categories, answers)
		if err != nil {
			return nil, err
		}

		r.Submissions[name] = accepted
		result.LetterMismatches = CheckLetters(r.CurrentLetter, r.Categories, accepted)

		events := []Event{{
			Type: EventSubmissionsUpdated,
			Room: r.Code,
			Payload: SubmissionsUpdatedPayload{
				Player:      name,
				Submissions: cloneSubmissions(r.Submissions),
			},
		}}

		if len(r.Submissions) == len(r.Players) {
			r.Phase = PhaseRoundComplete
			result.RoundComplete = true
			events = append(events, roundCompleted(r, false))
		}

		return events, nil
	})
	if err != nil {
		return SubmitResult{}, nil, err
	}

	result.Room = view
	if result.LetterMismatches == nil {
		result.LetterMismatches = []string{}
	}

	return result, events, nil
}

// AdjustScore adds delta to target's score. Host only, once the game is running.
func (e *Engine) AdjustScore(code, requesterName, targetPlayer string, delta int) (map[string]int, []Event, error) {
	target := strings.TrimSpace(targetPlayer)

	view, events, err := e.mutate(code, func(r *Room) ([]Event, error) {
		if err := authorize(r, requesterName); err != nil {
			return nil, err
		}
		switch r.Phase {
		case PhaseLobby:
			return nil, ErrGameNotStarted
		case PhaseFinished:
			return nil, ErrGameFinished
		}
		if !r.HasPlayer(target) {
			return nil, ErrUnknownPlayer
		}

		score, ok := addScore(r.Scores[target], delta)
		if !ok {
			return nil, newError(CodeInvalidInput, "score adjustment is out of range")
		}
		r.Scores[target] = score

		return []Event{{
			Type: EventScoreUpdated,
			Room: r.Code,
			Payload: ScoreUpdatedPayload{
				Player: target,
				Delta:  delta,
				Scores: maps.Clone(r.Scores),
			},
		}}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return view.Scores, events, nil
}

// AdvanceRound closes the current round, forcing it if players are still
// answering, and starts the next one. Past the round limit the game ends instead.
func (e *Engine) AdvanceRound(code, requesterName string) (View, []Event, error) {
	return e.mutate(code, func(r *Room) ([]Event, error) {
		if err := authorize(r, requesterName); err != nil {
			return nil, err
		}
		switch r.Phase {
		case PhaseLobby:
			return nil, ErrGameNotStarted
		case PhaseFinished:
			return nil, ErrGameFinished
		}

		var events []Event
		if r.Phase == PhaseRoundActive {
			r.Phase = PhaseRoundComplete
			events = append(events, roundCompleted(r, true))
		}

		if r.MaxRounds > 0 && r.CurrentRound >= r.MaxRounds {
			finish(r)
			return append(events, gameFinished(r)), nil
		}

		e.startRound(r)

		return append(events, roundStarted(r)), nil
	})
}

// RevealRound closes the active round before everyone has answered.
func (e *Engine) RevealRound(code, requesterName string) (View, []Event, error) {
	return e.mutate(code, func(r *Room) ([]Event, error) {
		if err := authorize(r, requesterName); err != nil {
			return nil, err
		}
		switch r.Phase {
		case PhaseLobby:
			return nil, ErrGameNotStarted
		case PhaseFinished:
			return nil, ErrGameFinished
		case PhaseRoundComplete:
			return nil, newError(CodeGameNotStarted, "this round is already closed")
		}

		r.Phase = PhaseRoundComplete

		return []Event{roundCompleted(r, true)}, nil
	})
}

// EndGame finishes a running game early.
func (e *Engine) EndGame(code, requesterName string) (View, []Event, error) {
	return e.mutate(code, func(r *Room) ([]Event, error) {
		if err := authorize(r, requesterName); err != nil {
			return nil, err
		}
		switch r.Phase {
		case PhaseLobby:
			return nil, ErrGameNotStarted
		case PhaseFinished:
			return nil, ErrGameFinished
		}

		var events []Event
		if r.Phase == PhaseRoundActive {
			r.Phase = PhaseRoundComplete
			events = append(events, roundCompleted(r, true))
		}

		finish(r)

		return append(events, gameFinished(r)), nil
	})
}

// GetRoomView returns a snapshot of the room.
func (e *Engine) GetRoomView(code string) (View, error) {
	var view View

	err := e.store.View(code, func(r *Room) {
		view = r.View()
	})

	return view, err
}

// GetSubmissions returns the answers submitted so far this round.
func (e *Engine) GetSubmissions(code string) (map[string]Answers, error) {
	var subs map[string]Answers

	err := e.store.View(code, func(r *Room) {
		subs = cloneSubmissions(r.Submissions)
	})

	return subs, err
}

// CheckAnswers runs the advisory letter check against the room's current
// letter and categories without recording anything.
func (e *Engine) CheckAnswers(code string, answers map[string]string) ([]string, error) {
	var mismatches []string

	err := e.store.View(code, func(r *Room) {
		if r.Phase.InRound() {
			mismatches = CheckLetters(r.CurrentLetter, r.Categories, answers)
		}
	})
	if mismatches == nil {
		mismatches = []string{}
	}

	return mismatches, err
}

func (e *Engine) mutate(code string, fn func(r *Room) ([]Event, error)) (View, []Event, error) {
	var (
		view   View
		events []Event
	)

	err := e.store.Update(strings.TrimSpace(code), func(r *Room) error {
		evs, err := fn(r)
		if err != nil {
			return err
		}

		if len(evs) == 0 {
			r.Revision++
		}
		for i := range evs {
			r.Revision++
			evs[i].Revision = r.Revision
		}

		r.LastActive = e.now()
		view = r.View()
		events = evs

		return nil
	})
	if err != nil {
		return View{}, nil, err
	}

	return view, events, nil
}

func (e *Engine) startRound(r *Room) {
	r.CurrentRound++
	r.CurrentLetter = e.letters.Next()
	r.Submissions = make(map[string]Answers)
	r.Phase = PhaseRoundActive
}

func finish(r *Room) {
	r.Phase = PhaseFinished
	r.CurrentLetter = ""
}

// addScore reports false instead of wrapping around.
func addScore(score, delta int) (int, bool) {
	if (delta > 0 && score > math.MaxInt-delta) || (delta < 0 && score < math.MinInt-delta) {
		return score, false
	}

	return score + delta, true
}

func authorize(r *Room, requesterName string) error {
	if strings.TrimSpace(requesterName) != r.Host {
		return ErrForbidden
	}

	return nil
}

func roundStarted(r *Room) Event {
	return Event{
		Type:    EventRoundStarted,
		Room:    r.Code,
		Payload: RoundStartedPayload{Letter: r.CurrentLetter, CurrentRound: r.CurrentRound},
	}
}

func roundCompleted(r *Room, forced bool) Event {
	return Event{
		Type: EventRoundCompleted,
		Room: r.Code,
		Payload: RoundCompletedPayload{
			CurrentRound: r.CurrentRound,
			Forced:       forced,
			Letter:       r.CurrentLetter,
		},
	}
}

func gameFinished(r *Room) Event {
	return Event{Type: EventGameFinished, Room: r.Code, Payload: GameFinishedPayload{Room: r.View()}}
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)

	switch {
	case name == "":
		return "", newError(CodeInvalidInput, "a player name is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		return "", newError(CodeInvalidInput, fmt.Sprintf("player names are limited to %d characters", maxNameLength))
	}

	return name, nil
}

func cleanCategories(categories []string) ([]string, error) {
	if len(categories) == 0 {
		return nil, newError(CodeInvalidInput, "at least one category is required")
	}

	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)

		switch {
		case c == "":
			return nil, newError(CodeInvalidInput, "categories cannot be blank")
		case utf8.RuneCountInString(c) > maxCategoryLength:
			return nil, newError(CodeInvalidInput, fmt.Sprintf("categories are limited to %d characters", maxCategoryLength))
		}

		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}

	if len(out) > maxCategories {
		return nil, newError(CodeInvalidInput, fmt.Sprintf("at most %d categories are allowed", maxCategories))
	}

	return out, nil
}

func cleanAnswers(categories []string, answers map[string]string) (Answers, error) {
	accepted := make(Answers, len(categories))

	var missing []string
	for _, c := range categories {
		a := strings.TrimSpace(answers[c])
		if a == "" {
			missing = append(missing, c)
			continue
		}
		if utf8.RuneCountInString(a) > maxAnswerLength {
			return nil, newError(CodeInvalidInput, fmt.Sprintf("answers are limited to %d characters", maxAnswerLength))
		}

		accepted[c] = a
	}

	if len(missing) > 0 {
		return nil, newError(CodeIncompleteAnswers, "missing answers for: "+strings.Join(missing, ", "))
	}

	return accepted, nil
}

package stopthebus

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()

	if opts.Letters == nil {
		opts.Letters = NewSeededLetterSource(1, 2)
	}

	e, err := NewEngine(NewStore(), opts)
	require.NoError(t, err)

	return e
}

// setupRunningGame creates Ann's room, joins Bob, sets Food and Car, and starts.
func setupRunningGame(t *testing.T, e *Engine) string {
	t.Helper()

	room, err := e.CreateRoom("Ann")
	require.NoError(t, err)

	_, _, err = e.JoinRoom(room.Code, "Bob")
	require.NoError(t, err)

	_, _, err = e.SetCategories(room.Code, "Ann", []string{"Food", "Car"})
	require.NoError(t, err)

	_, _, err = e.StartGame(room.Code, "Ann")
	require.NoError(t, err)

	return room.Code
}

// setupLobby creates host's room and joins the players to it.
func setupLobby(t *testing.T, e *Engine, host string, players ...string) string {
	t.Helper()

	room, err := e.CreateRoom(host)
	require.NoError(t, err)

	for _, p := range players {
		_, _, err := e.JoinRoom(room.Code, p)
		require.NoError(t, err)
	}

	return room.Code
}

func requireView(t *testing.T, e *Engine, code string) View {
	t.Helper()

	view, err := e.GetRoomView(code)
	require.NoError(t, err)

	return view
}

func requireCode(t *testing.T, err error, want Code) {
	t.Helper()

	require.Error(t, err)
	require.Equal(t, want, CodeOf(err), "error: %v", err)
}

func assertScoresMatchPlayers(t *testing.T, v View) {
	t.Helper()

	assert.Len(t, v.Scores, len(v.Players), "scores %v do not match players %v", v.Scores, v.Players)
	for _, p := range v.Players {
		assert.Contains(t, v.Scores, p)
	}
}

func TestCreateRoom(t *testing.T) {
	e := newTestEngine(t, Options{})

	room, err := e.CreateRoom("  Ann ")
	require.NoError(t, err)

	assert.Equal(t, "Ann", room.Host)
	assert.Equal(t, []string{"Ann"}, room.Players)
	assert.Equal(t, PhaseLobby, room.Phase)
	assert.Zero(t, room.CurrentRound)
	assert.Empty(t, room.CurrentLetter)
	assert.Len(t, room.Code, DefaultCodeLength)
	assertScoresMatchPlayers(t, room)

	_, err = e.CreateRoom("   ")
	requireCode(t, err, CodeInvalidInput)

	_, err = e.CreateRoom(strings.Repeat("x", maxNameLength+1))
	requireCode(t, err, CodeInvalidInput)
}

func TestCreateRoomRetriesCollisions(t *testing.T) {
	codes := []string{"AAAA", "AAAA", "BBBB"}
	var i int
	e := newTestEngine(t, Options{Codes: func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	}})

	first, err := e.CreateRoom("Ann")
	require.NoError(t, err)

	second, err := e.CreateRoom("Bob")
	require.NoError(t, err)

	assert.Equal(t, "AAAA", first.Code)
	assert.Equal(t, "BBBB", second.Code)
}

func TestCreateRoomGivesUpAfterRepeatedCollisions(t *testing.T) {
	e := newTestEngine(t, Options{Codes: func() (string, error) { return "SAME", nil }})

	_, err := e.CreateRoom("Ann")
	require.NoError(t, err)

	_, err = e.CreateRoom("Bob")
	requireCode(t, err, CodeCodeGenerationFailed)
	assert.Equal(t, 1, e.Store().Len())
}

func TestJoinRoom(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupLobby(t, e, "Ann")

	view, events, err := e.JoinRoom(code, "Bob")
	require.NoError(t, err)

	assert.Equal(t, []string{"Ann", "Bob"}, view.Players)
	require.Len(t, events, 1)
	assert.Equal(t, EventPlayerJoined, events[0].Type)

	got := requireView(t, e, code)
	assert.Equal(t, 0, got.Scores["Bob"])
	assertScoresMatchPlayers(t, got)

	_, _, err = e.JoinRoom(code, "Bob")
	requireCode(t, err, CodeDuplicatePlayer)

	_, _, err = e.JoinRoom("NOPE", "Cat")
	requireCode(t, err, CodeRoomNotFound)

	_, _, err = e.JoinRoom(code, "")
	requireCode(t, err, CodeInvalidInput)
}

func TestJoinRoomAfterStart(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupRunningGame(t, e)

	_, _, err := e.JoinRoom(code, "Cat")
	requireCode(t, err, CodeAlreadyStarted)
}

func TestSetCategories(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupLobby(t, e, "Ann", "Bob")

	view, events, err := e.SetCategories(code, "Ann", []string{" Food ", "Car", "Food"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Food", "Car"}, view.Categories)
	require.Len(t, events, 1)
	assert.Equal(t, EventCategoriesUpdated, events[0].Type)

	_, _, err = e.SetCategories(code, "Bob", []string{"Country"})
	requireCode(t, err, CodeForbidden)

	after := requireView(t, e, code)
	assert.Equal(t, []string{"Food", "Car"}, after.Categories, "categories changed by non-host")

	_, _, err = e.SetCategories(code, "Ann", nil)
	requireCode(t, err, CodeInvalidInput)

	_, _, err = e.SetCategories(code, "Ann", []string{"Food", "  "})
	requireCode(t, err, CodeInvalidInput)
}

func TestSetCategoriesChecksRoomAndHostFirst(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupLobby(t, e, "Ann", "Bob")

	_, _, err := e.SetCategories(code, "Bob", nil)
	requireCode(t, err, CodeForbidden)

	_, _, err = e.SetCategories("NOPE", "Ann", []string{})
	requireCode(t, err, CodeRoomNotFound)

	code = setupRunningGame(t, e)
	_, _, err = e.SetCategories(code, "Ann", nil)
	requireCode(t, err, CodeAlreadyStarted)
}

func TestSetCategoriesAfterStart(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupRunningGame(t, e)

	_, _, err := e.SetCategories(code, "Ann", []string{"Country"})
	requireCode(t, err, CodeAlreadyStarted)
}

func TestStartGame(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupLobby(t, e, "Ann", "Bob")

	_, _, err := e.StartGame(code, "Ann")
	requireCode(t, err, CodeNoCategories)

	_, _, err = e.SetCategories(code, "Ann", []string{"Food"})
	require.NoError(t, err)

	_, _, err = e.StartGame(code, "Bob")
	requireCode(t, err, CodeForbidden)

	before := requireView(t, e, code)
	assert.Equal(t, PhaseLobby, before.Phase, "non-host start changed phase")

	view, events, err := e.StartGame(code, "Ann")
	require.NoError(t, err)

	assert.Equal(t, PhaseRoundActive, view.Phase)
	assert.Equal(t, 1, view.CurrentRound)
	require.Len(t, view.CurrentLetter, 1)
	assert.Contains(t, alphabet, view.CurrentLetter)
	assert.Empty(t, view.Submissions)
	assertScoresMatchPlayers(t, view)

	require.Len(t, events, 2)
	assert.Equal(t, EventGameStarted, events[0].Type)
	assert.Equal(t, EventRoundStarted, events[1].Type)

	_, _, err = e.StartGame(code, "Ann")
	requireCode(t, err, CodeAlreadyStarted)
}

func TestSubmitAnswers(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupRunningGame(t, e)

	res, events, err := e.SubmitAnswers(code, "Ann", map[string]string{"Food": " Apple ", "Car": "Audi"})
	require.NoError(t, err)

	assert.False(t, res.RoundComplete, "round should stay open until Bob submits")
	assert.Equal(t, "Apple", res.Room.Submissions["Ann"]["Food"])
	require.Len(t, events, 1)
	assert.Equal(t, EventSubmissionsUpdated, events[0].Type)

	_, _, err = e.SubmitAnswers(code, "Ann", map[string]string{"Food": "Apple", "Car": "Audi"})
	requireCode(t, err, CodeDuplicateSubmission)

	_, _, err = e.SubmitAnswers(code, "Zed", map[string]string{"Food": "Apple", "Car": "Audi"})
	requireCode(t, err, CodeUnknownPlayer)

	res, events, err = e.SubmitAnswers(code, "Bob", map[string]string{"Food": "Bread", "Car": "BMW"})
	require.NoError(t, err)

	assert.True(t, res.RoundComplete)
	assert.Equal(t, PhaseRoundComplete, res.Room.Phase)
	require.Len(t, events, 2)
	assert.Equal(t, EventRoundCompleted, events[1].Type)
	assert.False(t, events[1].Payload.(RoundCompletedPayload).Forced)
}

func TestSubmitAnswersIncompleteWritesNothing(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupRunningGame(t, e)

	_, _, err := e.SubmitAnswers(code, "Ann", map[string]string{"Food": "Apple", "Car": "   "})
	requireCode(t, err, CodeIncompleteAnswers)

	_, _, err = e.SubmitAnswers(code, "Ann", map[string]string{"Food": "Apple"})
	requireCode(t, err, CodeIncompleteAnswers)

	subs, err := e.GetSubmissions(code)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubmitAnswersPhaseErrors(t *testing.T) {
	e := newTestEngine(t, Options{})
	lobby := setupLobby(t, e, "Ann")

	_, _, err := e.SubmitAnswers(lobby, "Ann", map[string]string{})
	requireCode(t, err, CodeGameNotStarted)

	code := setupRunningGame(t, e)
	_, _, err = e.RevealRound(code, "Ann")
	require.NoError(t, err)

	_, _, err = e.SubmitAnswers(code, "Bob", map[string]string{"Food": "Bread", "Car": "BMW"})
	requireCode(t, err, CodeGameNotStarted)

	_, _, err = e.EndGame(code, "Ann")
	require.NoError(t, err)

	_, _, err = e.SubmitAnswers(code, "Bob", map[string]string{"Food": "Bread", "Car": "BMW"})
	requireCode(t, err, CodeGameFinished)

	_, _, err = e.SubmitAnswers("NOPE", "Bob", nil)
	requireCode(t, err, CodeRoomNotFound)
}

func TestSubmitAnswersLetterCheckIsAdvisory(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupRunningGame(t, e)

	view := requireView(t, e, code)
	wrong := "A"
	if view.CurrentLetter == "A" {
		wrong = "B"
	}

	res, _, err := e.SubmitAnswers(code, "Ann", map[string]string{
		"Food": wrong + "anana",
		"Car":  strings.ToLower(view.CurrentLetter) + "ar",
	})
	require.NoError(t, err, "letter mismatch must not reject")

	assert.Equal(t, []string{"Food"}, res.LetterMismatches)
	assert.Contains(t, res.Room.Submissions, "Ann", "answers were not stored")

	mismatches, err := e.CheckAnswers(code, map[string]string{"Food": wrong + "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Food", "Car"}, mismatches)
}

func TestCheckAnswersOutsideRound(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupLobby(t, e, "Ann")

	mismatches, err := e.CheckAnswers(code, map[string]string{"Food": "x"})
	require.NoError(t, err)
	assert.Empty(t, mismatches)
	assert.NotNil(t, mismatches)

	_, err = e.CheckAnswers("NOPE", nil)
	requireCode(t, err, CodeRoomNotFound)
}

func TestAdvanceRoundScenario(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupRunningGame(t, e)

	_, _, err := e.SubmitAnswers(code, "Ann", map[string]string{"Food": "Apple", "Car": "Audi"})
	require.NoError(t, err)
	_, _, err = e.SubmitAnswers(code, "Bob", map[string]string{"Food": "Avocado", "Car": "Alfa"})
	require.NoError(t, err)

	view, events, err := e.AdvanceRound(code, "Ann")
	require.NoError(t, err)

	assert.Equal(t, 2, view.CurrentRound)
	assert.Equal(t, PhaseRoundActive, view.Phase)
	require.Len(t, view.CurrentLetter, 1)
	assert.Contains(t, alphabet, view.CurrentLetter)
	assert.Empty(t, view.Submissions)

	require.Len(t, events, 1, "expected only roundStarted")
	assert.Equal(t, EventRoundStarted, events[0].Type)
	assert.Equal(t, RoundStartedPayload{Letter: view.CurrentLetter, CurrentRound: 2}, events[0].Payload)
}

func TestAdvanceRoundForcesActiveRound(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupRunningGame(t, e)

	_, _, err := e.SubmitAnswers(code, "Ann", map[string]string{"Food": "Apple", "Car": "Audi"})
	require.NoError(t, err)

	view, events, err := e.AdvanceRound(code, "Ann")
	require.NoError(t, err)

	assert.Equal(t, 2, view.CurrentRound)
	assert.Empty(t, view.Submissions)

	require.Len(t, events, 2)
	assert.Equal(t, EventRoundCompleted, events[0].Type)
	assert.Equal(t, EventRoundStarted, events[1].Type)
	assert.True(t, events[0].Payload.(RoundCompletedPayload).Forced)
}

func TestAdvanceRoundErrors(t *testing.T) {
	e := newTestEngine(t, Options{})
	lobby := setupLobby(t, e, "Ann", "Bob")

	_, _, err := e.AdvanceRound(lobby, "Ann")
	requireCode(t, err, CodeGameNotStarted)

	code := setupRunningGame(t, e)

	_, _, err = e.AdvanceRound(code, "Bob")
	requireCode(t, err, CodeForbidden)

	_, _, err = e.EndGame(code, "Ann")
	require.NoError(t, err)

	_, _, err = e.AdvanceRound(code, "Ann")
	requireCode(t, err, CodeGameFinished)

	_, _, err = e.AdvanceRound("NOPE", "Ann")
	requireCode(t, err, CodeRoomNotFound)
}

func TestMaxRoundsFinishesGame(t *testing.T) {
	e := newTestEngine(t, Options{MaxRounds: 2})
	code := setupRunningGame(t, e)

	_, _, err := e.AdvanceRound(code, "Ann")
	require.NoError(t, err)

	view, events, err := e.AdvanceRound(code, "Ann")
	require.NoError(t, err)

	assert.Equal(t, PhaseFinished, view.Phase)
	assert.Empty(t, view.CurrentLetter)
	assert.Equal(t, 2, view.CurrentRound, "round counter should stay at the limit")
	require.NotEmpty(t, events)
	assert.Equal(t, EventGameFinished, events[len(events)-1].Type)
}

func TestAdjustScore(t *testing.T) {
	e := newTestEngine(t, Options{})
	lobby := setupLobby(t, e, "Ann", "Bob")

	_, _, err := e.AdjustScore(lobby, "Ann", "Bob", 5)
	requireCode(t, err, CodeGameNotStarted)

	code := setupRunningGame(t, e)

	scores, events, err := e.AdjustScore(code, "Ann", "Bob", 10)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Ann": 0, "Bob": 10}, scores)
	require.Len(t, events, 1)
	assert.Equal(t, EventScoreUpdated, events[0].Type)

	scores, _, err = e.AdjustScore(code, "Ann", "Bob", -3)
	require.NoError(t, err)
	assert.Equal(t, 7, scores["Bob"])

	_, _, err = e.AdjustScore(code, "Bob", "Bob", 100)
	requireCode(t, err, CodeForbidden)

	_, _, err = e.AdjustScore(code, "Ann", "Zed", 1)
	requireCode(t, err, CodeUnknownPlayer)
}

func TestStartGameResetsScores(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupLobby(t, e, "Ann")

	_, _, err := e.SetCategories(code, "Ann", []string{"Food"})
	require.NoError(t, err)

	// A restored room may carry stale scores into its lobby.
	require.NoError(t, e.Store().Update(code, func(r *Room) error {
		r.Scores["Ann"] = 42
		return nil
	}))

	view, _, err := e.StartGame(code, "Ann")
	require.NoError(t, err)
	assert.Equal(t, 0, view.Scores["Ann"])
}

func TestEndGameIsTerminal(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupRunningGame(t, e)

	_, _, err := e.EndGame(code, "Bob")
	requireCode(t, err, CodeForbidden)

	view, _, err := e.EndGame(code, "Ann")
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, view.Phase)
	assert.Empty(t, view.CurrentLetter)

	_, _, err = e.EndGame(code, "Ann")
	requireCode(t, err, CodeGameFinished)

	_, _, err = e.AdjustScore(code, "Ann", "Bob", 1)
	requireCode(t, err, CodeGameFinished)

	_, _, err = e.RevealRound(code, "Ann")
	requireCode(t, err, CodeGameFinished)
}

func TestRevealRound(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupRunningGame(t, e)

	view, events, err := e.RevealRound(code, "Ann")
	require.NoError(t, err)
	assert.Equal(t, PhaseRoundComplete, view.Phase)
	assert.NotEmpty(t, view.CurrentLetter)
	require.Len(t, events, 1)
	assert.True(t, events[0].Payload.(RoundCompletedPayload).Forced)

	_, _, err = e.RevealRound(code, "Ann")
	requireCode(t, err, CodeGameNotStarted)
}

func TestConcurrentSubmissions(t *testing.T) {
	e := newTestEngine(t, Options{})

	const n = 20
	players := make([]string, 0, n)
	for i := range n {
		players = append(players, fmt.Sprintf("p%02d", i))
	}
	code := setupLobby(t, e, "Host", players...)

	_, _, err := e.SetCategories(code, "Host", []string{"Food"})
	require.NoError(t, err)
	_, _, err = e.StartGame(code, "Host")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for i := range n {
		name := fmt.Sprintf("p%02d", i)
		for range 2 {
			wg.Go(func() {
				_, _, err := e.SubmitAnswers(code, name, map[string]string{"Food": "Apple"})
				errs <- err
			})
		}
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case CodeOf(err) == CodeDuplicateSubmission:
			dup++
		default:
			require.NoError(t, err)
		}
	}
	assert.Equal(t, n, ok)
	assert.Equal(t, n, dup)

	view := requireView(t, e, code)
	assert.Len(t, view.Submissions, n)
	assert.Equal(t, PhaseRoundActive, view.Phase, "host has not submitted, round stays open")
}

func TestAdjustScoreRejectsOverflow(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupRunningGame(t, e)

	_, _, err := e.AdjustScore(code, "Ann", "Bob", math.MaxInt)
	require.NoError(t, err)

	_, _, err = e.AdjustScore(code, "Ann", "Bob", 1)
	requireCode(t, err, CodeInvalidInput)

	_, _, err = e.AdjustScore(code, "Ann", "Ann", math.MinInt)
	require.NoError(t, err)

	_, _, err = e.AdjustScore(code, "Ann", "Ann", -1)
	requireCode(t, err, CodeInvalidInput)

	view := requireView(t, e, code)
	assert.Equal(t, math.MaxInt, view.Scores["Bob"])
	assert.Equal(t, math.MinInt, view.Scores["Ann"])
}

func TestMutationsAdvanceRevision(t *testing.T) {
	e := newTestEngine(t, Options{})
	code := setupLobby(t, e, "Ann")
	assert.Zero(t, requireView(t, e, code).Revision)

	_, events, err := e.JoinRoom(code, "Bob")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Revision)

	_, _, err = e.SetCategories(code, "Ann", []string{"Food"})
	require.NoError(t, err)

	view, events, err := e.StartGame(code, "Ann")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(3), events[0].Revision)
	assert.Equal(t, uint64(4), events[1].Revision)
	assert.Equal(t, events[1].Revision, view.Revision, "view should match its last event")

	// Rejected mutations leave the revision alone.
	_, _, err = e.StartGame(code, "Ann")
	requireCode(t, err, CodeAlreadyStarted)
	assert.Equal(t, uint64(4), requireView(t, e, code).Revision)
}

// Stop the Bus
//
// Players join a room by code, the host picks categories and starts the game,
// and each round every player races to fill in one answer per category that
// starts with the round's letter.
//
// Features:
// - JSON endpoints under /stopthebus/rooms/:code for every game action
// - Per-room websocket at /stopthebus/rooms/:code/ws pushing game events
// - Room view on connect, so late joiners and reconnects can catch up
// - Host-only actions checked by the engine, not per endpoint
// - Letter check is advisory: mismatches are reported back, never rejected
// - Idle rooms with no listeners are reaped after a configurable timeout
// - Rooms survive restarts through a SQLite or JSON snapshot
// - Room creation is rate limited per client address
// - QR code for sharing the room link, backed by go-qrcode

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/PsEHAmfxXNKzrgwT/StopTheBus/games/stopthebus"
)

const maxRequestSize = 64 << 10

// GameManager ties the engine to its subscribers and owns idle eviction.
type GameManager struct {
	engine      *stopthebus.Engine
	hub         *Hub
	creates     *addressLimiter
	idleTimeout time.Duration
}

func newGameManager(engine *stopthebus.Engine, idleTimeout time.Duration, createLimit int) *GameManager {
	return &GameManager{
		engine:      engine,
		hub:         newHub(),
		creates:     newAddressLimiter(createLimit),
		idleTimeout: idleTimeout,
	}
}

// reaperLoop periodically removes rooms that have no subscribers and have
// been idle longer than idleTimeout. A zero timeout keeps rooms forever.
func (gm *GameManager) reaperLoop(ctx context.Context, cfg *Config) {
	interval := gm.idleTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, code := range gm.reap(now) {
				logf(cfg, "GAMES: Reaped idle room %s", code)
			}
		}
	}
}

func (gm *GameManager) reap(now time.Time) []string {
	// Buckets untouched for a minute have refilled.
	gm.creates.prune(now.Add(-time.Minute))

	if gm.idleTimeout <= 0 {
		return nil
	}

	cutoff := now.Add(-gm.idleTimeout)
	store := gm.engine.Store()

	var reaped []string
	for _, code := range store.AllCodes() {
		if gm.hub.subscribers(code) > 0 {
			continue
		}

		room, ok := store.Get(code)
		if !ok {
			continue
		}

		last := room.LastActive
		if seen := gm.hub.seen(code); seen.After(last) {
			last = seen
		}

		if last.Before(cutoff) {
			store.Delete(code)
			gm.hub.closeRoom(code)
			reaped = append(reaped, code)
		}
	}

	return reaped
}

type errorBody struct {
	Code    stopthebus.Code `json:"code"`
	Message string          `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}

// writeError reports engine errors by code. Anything else is logged and
// hidden behind a generic message.
func writeError(cfg *Config, w http.ResponseWriter, r *http.Request, err error) {
	var e *stopthebus.Error
	if !errors.As(err, &e) {
		errorf("%s %s from %s: %v", r.Method, r.URL.Path, realIP(r), err)

		writeJSON(cfg, w, http.StatusInternalServerError, errorResponse{Error: errorBody{
			Code:    stopthebus.CodeUnknown,
			Message: "An error has occurred. Please try again.",
		}})

		return
	}

	writeJSON(cfg, w, e.Code.HTTPStatus(), errorResponse{Error: errorBody{
		Code:    e.Code,
		Message: e.Message,
	}})
}

func invalid(message string) error {
	return &stopthebus.Error{Code: stopthebus.CodeInvalidInput, Message: message}
}

// decodeRequest parses a JSON body into dst, rejecting unknown fields.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return invalid(fmt.Sprintf("field %q has the wrong type", typeErr.Field))
		}
		return invalid("request body must be a JSON object")
	}

	return nil
}

func required(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field + " is required")
	}
	return nil
}

func roomCode(ps httprouter.Params) string {
	return strings.ToUpper(strings.TrimSpace(ps.ByName("code")))
}

type createRoomRequest struct {
	HostName string `json:"hostName"`
}

type createRoomResponse struct {
	Code string          `json:"code"`
	Host string          `json:"host"`
	Room stopthebus.View `json:"room"`
}

func serveCreateRoom(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req createRoomRequest
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(cfg, w, r, err)
			return
		}
		if err := required(req.HostName, "hostName"); err != nil {
			writeError(cfg, w, r, err)
			return
		}
		if !gm.creates.allow(clientAddress(r), time.Now()) {
			logf(cfg, "GAMES: Rate limited room creation from %s", realIP(r))
			writeError(cfg, w, r, stopthebus.ErrRateLimited)
			return
		}

		view, err := gm.engine.CreateRoom(req.HostName)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		logf(cfg, "GAMES: %q created room %s", view.Host, view.Code)

		writeJSON(cfg, w, http.StatusCreated, createRoomResponse{Code: view.Code, Host: view.Host, Room: view})
	}
}

type joinRoomRequest struct {
	PlayerName string `json:"playerName"`
}

type joinRoomResponse struct {
	Players     []string       `json:"players"`
	Scores      map[string]int `json:"scores"`
	Host        string         `json:"host"`
	GameStarted bool           `json:"gameStarted"`
}

func serveJoinRoom(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req joinRoomRequest
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(cfg, w, r, err)
			return
		}
		if err := required(req.PlayerName, "playerName"); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		code := roomCode(ps)

		view, events, err := gm.engine.JoinRoom(code, req.PlayerName)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}
		gm.hub.publish(events)

		logf(cfg, "GAMES: Player %q joined %s", strings.TrimSpace(req.PlayerName), code)

		writeJSON(cfg, w, http.StatusOK, joinRoomResponse{
			Players:     view.Players,
			Scores:      view.Scores,
			Host:        view.Host,
			GameStarted: view.GameStarted,
		})
	}
}

type setCategoriesRequest struct {
	RequesterName string   `json:"requesterName"`
	Categories    []string `json:"categories"`
}

type ackResponse struct {
	OK   bool             `json:"ok"`
	Room *stopthebus.View `json:"room,omitempty"`
}

func serveSetCategories(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req setCategoriesRequest
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(cfg, w, r, err)
			return
		}
		if err := required(req.RequesterName, "requesterName"); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		view, events, err := gm.engine.SetCategories(roomCode(ps), req.RequesterName, req.Categories)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}
		gm.hub.publish(events)

		writeJSON(cfg, w, http.StatusOK, ackResponse{OK: true, Room: &view})
	}
}

type hostRequest struct {
	RequesterName string `json:"requesterName"`
}

// serveHostAction handles the host-only transitions that take nothing but
// the requester's name.
func serveHostAction(cfg *Config, gm *GameManager, name string, action func(code, requester string) (stopthebus.View, []stopthebus.Event, error)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req hostRequest
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(cfg, w, r, err)
			return
		}
		if err := required(req.RequesterName, "requesterName"); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		code := roomCode(ps)

		view, events, err := action(code, req.RequesterName)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}
		gm.hub.publish(events)

		logf(cfg, "GAMES: %s in %s (round %d, letter %q, phase %s)", name, code, view.CurrentRound, view.CurrentLetter, view.Phase)

		writeJSON(cfg, w, http.StatusOK, ackResponse{OK: true, Room: &view})
	}
}

type advanceRoundResponse struct {
	CurrentRound  int              `json:"currentRound"`
	CurrentLetter string           `json:"currentLetter"`
	Phase         stopthebus.Phase `json:"phase"`
}

func serveAdvanceRound(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req hostRequest
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(cfg, w, r, err)
			return
		}
		if err := required(req.RequesterName, "requesterName"); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		code := roomCode(ps)

		view, events, err := gm.engine.AdvanceRound(code, req.RequesterName)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}
		gm.hub.publish(events)

		logf(cfg, "GAMES: Round %d of %s is %q", view.CurrentRound, code, view.CurrentLetter)

		writeJSON(cfg, w, http.StatusOK, advanceRoundResponse{
			CurrentRound:  view.CurrentRound,
			CurrentLetter: view.CurrentLetter,
			Phase:         view.Phase,
		})
	}
}

type submitAnswersRequest struct {
	PlayerName string            `json:"playerName"`
	Answers    map[string]string `json:"answers"`
}

type submitAnswersResponse struct {
	OK               bool     `json:"ok"`
	LetterMismatches []string `json:"letterMismatches"`
	RoundComplete    bool     `json:"roundComplete"`
}

func serveSubmitAnswers(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req submitAnswersRequest
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(cfg, w, r, err)
			return
		}
		if err := required(req.PlayerName, "playerName"); err != nil {
			writeError(cfg, w, r, err)
			return
		}
		if req.Answers == nil {
			writeError(cfg, w, r, invalid("answers is required"))
			return
		}

		code := roomCode(ps)

		res, events, err := gm.engine.SubmitAnswers(code, req.PlayerName, req.Answers)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}
		gm.hub.publish(events)

		logf(cfg, "GAMES: %q submitted answers in %s (%d off-letter)", strings.TrimSpace(req.PlayerName), code, len(res.LetterMismatches))

		writeJSON(cfg, w, http.StatusOK, submitAnswersResponse{
			OK:               true,
			LetterMismatches: res.LetterMismatches,
			RoundComplete:    res.RoundComplete,
		})
	}
}

type checkAnswersRequest struct {
	Answers map[string]string `json:"answers"`
}

type checkAnswersResponse struct {
	LetterMismatches []string `json:"letterMismatches"`
}

func serveCheckAnswers(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req checkAnswersRequest
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		mismatches, err := gm.engine.CheckAnswers(roomCode(ps), req.Answers)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, checkAnswersResponse{LetterMismatches: mismatches})
	}
}

func serveSubmissions(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		subs, err := gm.engine.GetSubmissions(roomCode(ps))
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, subs)
	}
}

type adjustScoreRequest struct {
	RequesterName string `json:"requesterName"`
	TargetPlayer  string `json:"targetPlayer"`
	Delta         *int   `json:"delta"`
}

type adjustScoreResponse struct {
	Scores map[string]int `json:"scores"`
}

func serveAdjustScore(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req adjustScoreRequest
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(cfg, w, r, err)
			return
		}
		for _, err := range []error{
			required(req.RequesterName, "requesterName"),
			required(req.TargetPlayer, "targetPlayer"),
		} {
			if err != nil {
				writeError(cfg, w, r, err)
				return
			}
		}
		if req.Delta == nil {
			writeError(cfg, w, r, invalid("delta is required"))
			return
		}

		code := roomCode(ps)

		scores, events, err := gm.engine.AdjustScore(code, req.RequesterName, req.TargetPlayer, *req.Delta)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}
		gm.hub.publish(events)

		logf(cfg, "GAMES: %q adjusted %q by %d in %s", req.RequesterName, req.TargetPlayer, *req.Delta, code)

		writeJSON(cfg, w, http.StatusOK, adjustScoreResponse{Scores: scores})
	}
}

func serveRoomView(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		view, err := gm.engine.GetRoomView(roomCode(ps))
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, view)
	}
}

func serveCategories(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(cfg, w, http.StatusOK, map[string][]string{"categories": stopthebus.StockCategories})
	}
}

// WebSocket handler that subscribes to the room named by :code
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := roomCode(ps)

		if _, err := gm.engine.GetRoomView(code); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES: Upgrade error from %s: %v", realIP(r), err)
			return
		}

		client := newClient(code, conn)

		err = gm.hub.subscribe(client, func() (stopthebus.View, error) {
			return gm.engine.GetRoomView(code)
		})
		if err != nil {
			_ = conn.Close()
			return
		}

		logf(cfg, "GAMES: Subscriber %s connected to %s from %s", client.id, code, realIP(r))

		go client.writePump()
		client.readPump(gm.hub)

		logf(cfg, "GAMES: Subscriber %s left %s", client.id, code)
	}
}

// QR handler: generates a PNG QR code for the room URL using go-qrcode.
func serveQR(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if _, err := gm.engine.GetRoomView(roomCode(ps)); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../rooms/:code/qr; strip trailing "/qr" to get the room URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			writeError(cfg, w, r, fmt.Errorf("encode qr: %w", err))
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

// registerStopTheBus sets up routes so that, under $path:
//   - /categories              → stock category list
//   - /rooms                   → create a room
//   - /rooms/:code             → room view
//   - /rooms/:code/...         → game actions
//   - /rooms/:code/ws          → WebSocket event stream for that room
//   - /rooms/:code/qr          → PNG QR code for the room URL
func registerStopTheBus(cfg *Config, path string, mux *httprouter.Router, gm *GameManager) {
	base := cfg.prefix + path
	e := gm.engine

	mux.GET(base+"/categories", serveCategories(cfg))

	mux.POST(base+"/rooms", serveCreateRoom(cfg, gm))
	mux.GET(base+"/rooms/:code", serveRoomView(cfg, gm))
	mux.POST(base+"/rooms/:code/players", serveJoinRoom(cfg, gm))
	mux.PUT(base+"/rooms/:code/categories", serveSetCategories(cfg, gm))
	mux.POST(base+"/rooms/:code/start", serveHostAction(cfg, gm, "Game started", e.StartGame))
	mux.POST(base+"/rooms/:code/rounds", serveAdvanceRound(cfg, gm))
	mux.POST(base+"/rooms/:code/reveal", serveHostAction(cfg, gm, "Round revealed", e.RevealRound))
	mux.POST(base+"/rooms/:code/end", serveHostAction(cfg, gm, "Game ended", e.EndGame))
	mux.POST(base+"/rooms/:code/answers", serveSubmitAnswers(cfg, gm))
	mux.POST(base+"/rooms/:code/check", serveCheckAnswers(cfg, gm))
	mux.GET(base+"/rooms/:code/submissions", serveSubmissions(cfg, gm))
	mux.POST(base+"/rooms/:code/scores", serveAdjustScore(cfg, gm))

	mux.GET(base+"/rooms/:code/ws", serveWSForManager(cfg, gm))
	mux.GET(base+"/rooms/:code/qr", serveQR(cfg, gm))
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/PsEHAmfxXNKzrgwT/StopTheBus/games/stopthebus"
)

const (
	// Sent to a subscriber right after it connects, so it can reconcile.
	eventRoomView stopthebus.EventType = "roomView"

	clientBuffer = 16
	maxReadSize  = 4096

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	id   string
	room string
	conn *websocket.Conn
	send chan any

	// Newest room revision queued to send. Guarded by the hub lock.
	revision uint64
}

func newClient(room string, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		room: room,
		conn: conn,
		send: make(chan any, clientBuffer),
	}
}

// Hub fans engine events out to every subscriber of a room. Delivery is best
// effort: a subscriber that cannot keep up is dropped, and has to reconnect
// and fetch the room view to catch up.
type Hub struct {
	mu       sync.Mutex
	rooms    map[string]map[*Client]struct{}
	lastSeen map[string]time.Time
}

func newHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Client]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

// subscribe registers c and queues the room view as its first message. The
// view is read under the hub lock, so every event it does not already
// include is published after it. Events it does include are skipped by
// revision.
func (h *Hub) subscribe(c *Client, view func() (stopthebus.View, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, err := view()
	if err != nil {
		return err
	}

	clients, ok := h.rooms[c.room]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[c.room] = clients
	}
	clients[c] = struct{}{}
	h.lastSeen[c.room] = time.Now()

	c.revision = v.Revision
	c.send <- stopthebus.Event{Type: eventRoomView, Room: c.room, Revision: v.Revision, Payload: v}

	return nil
}

func (h *Hub) unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dropLocked(c) {
		h.lastSeen[c.room] = time.Now()
	}
}

// dropLocked assumes h.mu is already held. It reports whether c was subscribed.
func (h *Hub) dropLocked(c *Client) bool {
	clients, ok := h.rooms[c.room]
	if !ok {
		return false
	}
	if _, ok := clients[c]; !ok {
		return false
	}

	delete(clients, c)
	close(c.send)

	if len(clients) == 0 {
		delete(h.rooms, c.room)
	}

	return true
}

// publish delivers events to the subscribers of each event's room. Mutations
// publish after releasing the room lock, so batches can arrive out of order;
// a subscriber never receives an event older than one it already has.
func (h *Hub) publish(events []stopthebus.Event) {
	if len(events) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ev := range events {
		for c := range h.rooms[ev.Room] {
			if ev.Revision <= c.revision {
				continue
			}

			select {
			case c.send <- ev:
				c.revision = ev.Revision
			default:
				h.dropLocked(c)
			}
		}
	}
}

func (h *Hub) subscribers(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.rooms[room])
}

// seen returns when the room last gained or lost a subscriber.
func (h *Hub) seen(room string) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lastSeen[room]
}

// closeRoom disconnects every subscriber of room (used by the reaper).
func (h *Hub) closeRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[room] {
		h.dropLocked(c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
	delete(h.lastSeen, room)
}

// closeAll disconnects everyone, for shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	rooms := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		h.closeRoom(room)
	}
}

// readPump only watches for the client going away; subscribers do not send
// commands over the socket.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unsubscribe(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

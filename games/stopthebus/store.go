/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package stopthebus

import (
	"slices"
	"sync"
)

// entry guards a single room. Writers to one room never block readers or
// writers of another.
type entry struct {
	mu      sync.RWMutex
	room    *Room
	deleted bool
}

// Store holds live rooms keyed by code. The map lock only covers lookups,
// inserts and deletes; room contents are guarded by their entry lock.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	dirty chan struct{}
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		dirty:   make(chan struct{}, 1),
	}
}

// Changes fires at least once after any write. Signals coalesce.
func (s *Store) Changes() <-chan struct{} {
	return s.dirty
}

func (s *Store) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Store) lookup(code string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[code]

	return e, ok
}

// Get returns a copy of the room.
func (s *Store) Get(code string) (*Room, bool) {
	var room *Room

	err := s.View(code, func(r *Room) {
		room = r.Clone()
	})
	if err != nil {
		return nil, false
	}

	return room, true
}

// Insert adds room unless its code is already taken.
func (s *Store) Insert(room *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[room.Code]; exists {
		return false
	}

	s.entries[room.Code] = &entry{room: room.Clone()}
	s.markDirty()

	return true
}

// Upsert stores a copy of room, replacing any room with the same code.
func (s *Store) Upsert(room *Room) {
	s.mu.Lock()
	e, ok := s.entries[room.Code]
	if !ok {
		s.entries[room.Code] = &entry{room: room.Clone()}
		s.mu.Unlock()
		s.markDirty()

		return
	}
	s.mu.Unlock()

	e.mu.Lock()
	e.room = room.Clone()
	e.mu.Unlock()

	s.markDirty()
}

// Update runs fn with exclusive access to the room. The store is marked
// dirty only when fn succeeds.
func (s *Store) Update(code string, fn func(*Room) error) error {
	e, ok := s.lookup(code)
	if !ok {
		return ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return ErrRoomNotFound
	}

	if err := fn(e.room); err != nil {
		return err
	}

	s.markDirty()

	return nil
}

// View runs fn with shared access to the room. fn must not retain r.
func (s *Store) View(code string, fn func(r *Room)) error {
	e, ok := s.lookup(code)
	if !ok {
		return ErrRoomNotFound
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.deleted {
		return ErrRoomNotFound
	}

	fn(e.room)

	return nil
}

// Delete removes the room and reports whether it existed.
func (s *Store) Delete(code string) bool {
	s.mu.Lock()
	e, ok := s.entries[code]
	delete(s.entries, code)
	s.mu.Unlock()

	if !ok {
		return false
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()

	s.markDirty()

	return true
}

// AllCodes returns every live room code, sorted.
func (s *Store) AllCodes() []string {
	s.mu.RLock()
	codes := make([]string, 0, len(s.entries))
	for code := range s.entries {
		codes = append(codes, code)
	}
	s.mu.RUnlock()

	slices.Sort(codes)

	return codes
}

// Len returns the number of live rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Snapshot returns copies of every room, ordered by code.
func (s *Store) Snapshot() []*Room {
	codes := s.AllCodes()

	rooms := make([]*Room, 0, len(codes))
	for _, code := range codes {
		if room, ok := s.Get(code); ok {
			rooms = append(rooms, room)
		}
	}

	return rooms
}

// Load replaces the store contents with rooms. Records that break a room
// invariant are left out and returned as errors; the rest are repaired.
// It does not mark the store dirty.
func (s *Store) Load(rooms []*Room) []error {
	var discarded []error

	entries := make(map[string]*entry, len(rooms))
	for _, r := range rooms {
		if r == nil {
			continue
		}
		if err := r.validate(); err != nil {
			discarded = append(discarded, err)
			continue
		}

		room := r.Clone()
		room.normalize()
		entries[room.Code] = &entry{room: room}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	return discarded
}

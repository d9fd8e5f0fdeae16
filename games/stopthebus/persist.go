/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package stopthebus

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Snapshotter reads and writes the whole room table.
type Snapshotter interface {
	Load(ctx context.Context) ([]*Room, error)
	Save(ctx context.Context, rooms []*Room) error
	Close() error
}

// OpenSnapshotter picks a backend from the file extension: .db, .sqlite and
// .sqlite3 use SQLite, anything else a JSON file.
func OpenSnapshotter(path string) (Snapshotter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	default:
		return NewFileSnapshotter(path)
	}
}

const (
	saveDebounce = 250 * time.Millisecond
	finalTimeout = 5 * time.Second
)

// Persister copies the store to a Snapshotter in the background. Gameplay
// never waits on it; a failed save is retried on the next change or tick.
type Persister struct {
	store    *Store
	snap     Snapshotter
	interval time.Duration
	logf     func(format string, args ...any)
}

// NewPersister returns a persister. logf receives save and load failures.
func NewPersister(store *Store, snap Snapshotter, interval time.Duration, logf func(format string, args ...any)) *Persister {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}

	return &Persister{
		store:    store,
		snap:     snap,
		interval: interval,
		logf:     logf,
	}
}

// Restore loads the last snapshot into the store and returns how many rooms
// came back. A missing or unreadable snapshot leaves the store empty.
func (p *Persister) Restore(ctx context.Context) int {
	rooms, err := p.snap.Load(ctx)
	if err != nil {
		p.logf("SNAPSHOT: Discarding unreadable snapshot: %v", err)
		p.store.Load(nil)

		return 0
	}

	for _, err := range p.store.Load(rooms) {
		p.logf("SNAPSHOT: Discarding corrupt room: %v", err)
	}

	return p.store.Len()
}

// Flush writes the current room table.
func (p *Persister) Flush(ctx context.Context) error {
	if err := p.snap.Save(ctx, p.store.Snapshot()); err != nil {
		p.logf("SNAPSHOT: Save failed: %v", err)

		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

// Run saves shortly after each change and on every tick while a previous save
// is outstanding. It writes one final snapshot when ctx is cancelled.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var debounce <-chan time.Time
	pending := false

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), finalTimeout)
			defer cancel()

			return p.Flush(finalCtx)

		case <-p.store.Changes():
			pending = true
			if debounce == nil {
				debounce = time.After(saveDebounce)
			}

		case <-debounce:
			debounce = nil
			pending = p.Flush(ctx) != nil

		case <-ticker.C:
			if pending && debounce == nil {
				pending = p.Flush(ctx) != nil
			}
		}
	}
}

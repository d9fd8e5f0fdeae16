/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package stopthebus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSnapshotter keeps one row per room, holding the room as JSON.
type SQLiteSnapshotter struct {
	db *sql.DB
}

// OpenSQLite prepares a SQLite database at path and ensures the schema exists.
func OpenSQLite(path string) (*SQLiteSnapshotter, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteSnapshotter{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			code TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}

func (s *SQLiteSnapshotter) Load(ctx context.Context) ([]*Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, data FROM rooms ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		var code, data string
		if err := rows.Scan(&code, &data); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}

		var room Room
		if err := json.Unmarshal([]byte(data), &room); err != nil {
			return nil, fmt.Errorf("decode room %s: %w", code, err)
		}
		room.Code = code

		rooms = append(rooms, &room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rooms, nil
}

// Save replaces the table contents in a single transaction.
func (s *SQLiteSnapshotter) Save(ctx context.Context, rooms []*Room) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear rooms: %w", err)
	}

	now := time.Now().UTC()
	for _, room := range rooms {
		data, err := json.Marshal(room)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode room %s: %w", room.Code, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms(code, data, updated_at) VALUES (?, ?, ?)`,
			room.Code, string(data), now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert room %s: %w", room.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	return nil
}

func (s *SQLiteSnapshotter) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

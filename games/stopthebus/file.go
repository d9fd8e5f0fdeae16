/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package stopthebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const snapshotVersion = 1

type snapshotFile struct {
	Version int     `json:"version"`
	Rooms   []*Room `json:"rooms"`
}

// FileSnapshotter writes the room table to a single JSON file. Writes go to
// a temporary file first and are renamed into place.
type FileSnapshotter struct {
	path string
}

func NewFileSnapshotter(path string) (*FileSnapshotter, error) {
	if path == "" {
		return nil, errors.New("snapshot path is empty")
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure snapshot directory: %w", err)
		}
	}

	return &FileSnapshotter{path: path}, nil
}

// Load returns no rooms and no error when the file does not exist yet.
func (f *FileSnapshotter) Load(_ context.Context) ([]*Room, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	return snap.Rooms, nil
}

func (f *FileSnapshotter) Save(ctx context.Context, rooms []*Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if rooms == nil {
		rooms = []*Room{}
	}

	data, err := json.Marshal(snapshotFile{Version: snapshotVersion, Rooms: rooms})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}

func (f *FileSnapshotter) Close() error {
	return nil
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileBackend persists the snapshot as a JSON file readable only by its owner.
type FileBackend struct {
	path string
	now  func() time.Time
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, now: time.Now}
}

func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("session: read %s: %w", f.path, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Snapshot{}, fmt.Errorf("session: decode %s: %w", f.path, err)
	}
	if rec.expired(f.now()) {
		return Snapshot{}, nil
	}
	return rec.Snapshot, nil
}

func (f *FileBackend) Save(_ context.Context, snap Snapshot, ttl time.Duration) error {
	rec := record{Snapshot: snap}
	if ttl > 0 {
		rec.ExpiresAt = f.now().Add(ttl).UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("session: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*")
	if err != nil {
		return fmt.Errorf("session: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileBackend) Delete(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: remove %s: %w", f.path, err)
	}
	return nil
}

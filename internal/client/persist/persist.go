// Package persist stores the non-sensitive session snapshot used to
// rehydrate the controller on startup. The snapshot type intentionally has no
// field for tokens; credentials live only in the custody cell and cannot end
// up on disk by construction.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"beacon/internal/identity/models"
	"beacon/pkg/platform/sentinel"
)

// Snapshot is the durable subset of session state: enough to render the UI
// and decide whether a silent refresh is worth attempting, nothing that
// grants access on its own.
type Snapshot struct {
	User             *models.User `json:"user,omitempty"`
	Anonymous        bool         `json:"anonymous"`
	SessionExpiresAt time.Time    `json:"sessionExpiresAt"`
	SavedAt          time.Time    `json:"savedAt"`
}

// Usable reports whether the snapshot plausibly maps to a live session.
func (s *Snapshot) Usable(now time.Time) bool {
	return s != nil && s.User != nil && now.Before(s.SessionExpiresAt)
}

// Store persists snapshots. Load returns sentinel.ErrNotFound when no
// snapshot exists.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Clear(ctx context.Context) error
}

// FileStore keeps the snapshot as a single JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(_ context.Context) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot is treated as absent; startup falls back to a
		// fresh anonymous session.
		return nil, sentinel.ErrNotFound
	}
	return &snap, nil
}

func (f *FileStore) Save(_ context.Context, snap *Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryStore is the in-process implementation used in tests and when no
// snapshot path is configured.
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot

	// LoadDelay, when set, makes Load block for that long. Tests use it to
	// exercise the controller's bounded rehydration.
	LoadDelay time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	if m.LoadDelay > 0 {
		select {
		case <-time.After(m.LoadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *m.snap
	return &cp, nil
}

func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snap = &cp
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

// ErrNotFound is returned when no record exists for a session id
var ErrNotFound = errors.New("session not found")

// Patch is a top-level merge onto a stored record, keyed by JSON field
// name. A nil value removes the field. Nested objects are replaced whole.
type Patch map[string]any

// Manager persists session records as one JSON file per session
type Manager struct {
	storePath string     // Base path for all engine state
	locks     sync.Map   // sessionID -> *sync.Mutex
	mu        sync.Mutex // guards directory creation
}

// NewManager creates a store rooted at storePath
func NewManager(storePath string) (*Manager, error) {
	abs, err := filepath.Abs(storePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Manager{storePath: abs}, nil
}

// Dir returns the absolute storage root
func (m *Manager) Dir() string {
	return m.storePath
}

// SessionsDir returns the directory holding the per-session files
func (m *Manager) SessionsDir() string {
	return filepath.Join(m.storePath, "sessions")
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.SessionsDir(), id+".json")
}

func (m *Manager) lock(id string) func() {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create writes a new record. It fails if the id is already taken.
func (m *Manager) Create(rec *models.SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("session id is required")
	}
	unlock := m.lock(rec.ID)
	defer unlock()

	if _, err := os.Stat(m.path(rec.ID)); err == nil {
		return fmt.Errorf("session %s already exists", rec.ID)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return m.writeAtomic(rec.ID, data)
}

// Get reads a record by id
func (m *Manager) Get(id string) (*models.SessionRecord, error) {
	data, err := os.ReadFile(m.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	var rec models.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", id, err)
	}
	return &rec, nil
}

// List returns all records, newest first, optionally filtered by status
func (m *Manager) List(status models.SessionStatus) ([]*models.SessionRecord, error) {
	entries, err := os.ReadDir(m.SessionsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var out []*models.SessionRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := m.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Merge applies patch onto the stored record and returns the result. Only
// the keys present in patch change; every other top-level field is kept.
func (m *Manager) Merge(id string, patch Patch) (*models.SessionRecord, error) {
	unlock := m.lock(id)
	defer unlock()

	data, err := os.ReadFile(m.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", id, err)
	}

	for key, value := range patch {
		if key == "id" {
			continue
		}
		if value == nil {
			delete(fields, key)
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", key, err)
		}
		fields[key] = raw
	}

	merged, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode session %s: %w", id, err)
	}
	var rec models.SessionRecord
	if err := json.Unmarshal(merged, &rec); err != nil {
		return nil, fmt.Errorf("merged session %s is invalid: %w", id, err)
	}
	if err := m.writeAtomic(id, merged); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a record
func (m *Manager) Delete(id string) error {
	unlock := m.lock(id)
	defer unlock()

	if err := os.Remove(m.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Contains reports whether path resolves inside the storage root
func (m *Manager) Contains(path string) bool {
	return Within(m.storePath, path)
}

// Within reports whether target resolves inside root. Symlinks are
// resolved where the path exists.
func Within(root, target string) bool {
	r := resolve(root)
	t := resolve(target)
	rel, err := filepath.Rel(r, t)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func resolve(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	// The leaf may not exist yet; resolve its parent instead.
	if real, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(real, filepath.Base(abs))
	}
	return abs
}

// writeAtomic writes via a temp file and rename so readers never see a
// partial record
func (m *Manager) writeAtomic(id string, data []byte) (err error) {
	m.mu.Lock()
	mkErr := os.MkdirAll(m.SessionsDir(), 0o755)
	m.mu.Unlock()
	if mkErr != nil {
		return fmt.Errorf("failed to create sessions directory: %w", mkErr)
	}

	tmp, err := os.CreateTemp(m.SessionsDir(), id+"-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist session %s: %w", id, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist session %s: %w", id, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", id, err)
	}
	if err = os.Rename(tmpName, m.path(id)); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", id, err)
	}
	return nil
}

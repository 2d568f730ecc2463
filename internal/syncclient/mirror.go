package syncclient

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pmhub/hubsync/internal/hub"
)

// Mirror keeps the last-known-good document in one local JSON file. It is the
// read fallback while the store is unreachable and the source of truth for
// broadcast-sourced updates.
type Mirror struct {
	mu   sync.Mutex
	path string
}

func NewMirror(path string) *Mirror {
	return &Mirror{path: strings.TrimSpace(path)}
}

// Read returns the mirrored document, or nil when no mirror has been written.
func (m *Mirror) Read() (*hub.StateDocument, error) {
	if m == nil || m.path == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var doc hub.StateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Write replaces the mirror atomically via a temp file and rename.
func (m *Mirror) Write(doc *hub.StateDocument) error {
	if m == nil || m.path == "" || doc == nil {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dir := filepath.Dir(m.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
)

// FileStore keeps one JSON file per session under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

// Get loads a session by id.
func (fs *FileStore) Get(_ context.Context, id string) (*Session, error) {
	data, err := os.ReadFile(fs.path(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("session %q: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session %q: %v: %w", id, err, internalerr.ErrInvalidConfig)
	}
	if s.Embeddings == nil {
		s.Embeddings = make(map[string][]float64)
	}
	return &s, nil
}

// Save writes the session, bumping ModifiedAt.
func (fs *FileStore) Save(_ context.Context, s *Session) error {
	s.ModifiedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fs.path(s.ID), data, 0o644)
}

// List returns all session ids, sorted.
func (fs *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/chimerakang/dashauth"
)

// MemoryScript is an in-process script store. Tabs of one agent share a
// single instance the way browser tabs share localStorage.
type MemoryScript struct {
	mu sync.RWMutex
	m  map[string]string
}

var _ dashauth.ScriptStore = (*MemoryScript)(nil)

// NewMemoryScript creates an empty in-memory script store.
func NewMemoryScript() *MemoryScript {
	return &MemoryScript{m: make(map[string]string)}
}

func (s *MemoryScript) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemoryScript) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *MemoryScript) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// FileScript is a script store persisted as a JSON object in one file,
// used by CLI profiles. Writes replace the file atomically.
type FileScript struct {
	path string
	mu   sync.Mutex
}

var _ dashauth.ScriptStore = (*FileScript)(nil)

// NewFileScript returns a store backed by path. The file is created on
// first write with mode 0600.
func NewFileScript(path string) *FileScript {
	return &FileScript{path: path}
}

func (s *FileScript) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (s *FileScript) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = value
	return s.save(m)
}

func (s *FileScript) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.save(m)
}

func (s *FileScript) load() (map[string]string, error) {
	m := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dashauth/tokenstore: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dashauth/tokenstore: decode %s: %w", s.path, err)
	}
	return m, nil
}

func (s *FileScript) save(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("dashauth/tokenstore: encode: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("dashauth/tokenstore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".dashauth-*")
	if err != nil {
		return fmt.Errorf("dashauth/tokenstore: create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("dashauth/tokenstore: write temp: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("dashauth/tokenstore: chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dashauth/tokenstore: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("dashauth/tokenstore: replace %s: %w", path, err)
	}
	return nil
}

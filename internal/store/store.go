// Package store persists small key-value state across reboots. It
// stands in for the controller's non-volatile storage: encoder
// snapshots, the staged firmware version and the first-boot flag all
// live here.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a key has never been written.
var ErrNotFound = errors.New("store: key not found")

// KV is the key-value contract the rest of the application depends on.
type KV interface {
	GetI32(key string) (int32, error)
	SetI32(key string, v int32) error
	GetU32(key string) (uint32, error)
	SetU32(key string, v uint32) error
	GetU8(key string) (uint8, error)
	SetU8(key string, v uint8) error
	GetStr(key string) (string, error)
	SetStr(key string, v string) error
}

type fileData struct {
	Ints    map[string]int64  `yaml:"ints,omitempty"`
	Strings map[string]string `yaml:"strings,omitempty"`
}

// FileStore is a KV backed by a YAML file. Every write replaces the
// file atomically, so a power cut mid-write leaves the previous state
// intact. Safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	data fileData
}

// Open loads the store at path, starting empty when the file does not
// exist yet.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parsing store %s: %w", path, err)
	}
	return s, nil
}

// flush writes the whole store to a temp file and renames it over the
// target. Caller holds mu.
func (s *FileStore) flush() error {
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*")
	if err != nil {
		return fmt.Errorf("creating temp store: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing store: %w", err)
	}
	return nil
}

func (s *FileStore) getInt(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.Ints[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (s *FileStore) setInt(key string, v int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Ints == nil {
		s.data.Ints = make(map[string]int64)
	}
	s.data.Ints[key] = v
	return s.flush()
}

func (s *FileStore) GetI32(key string) (int32, error) {
	v, err := s.getInt(key)
	return int32(v), err
}

func (s *FileStore) SetI32(key string, v int32) error {
	return s.setInt(key, int64(v))
}

func (s *FileStore) GetU32(key string) (uint32, error) {
	v, err := s.getInt(key)
	return uint32(v), err
}

func (s *FileStore) SetU32(key string, v uint32) error {
	return s.setInt(key, int64(v))
}

func (s *FileStore) GetU8(key string) (uint8, error) {
	v, err := s.getInt(key)
	return uint8(v), err
}

func (s *FileStore) SetU8(key string, v uint8) error {
	return s.setInt(key, int64(v))
}

func (s *FileStore) GetStr(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.Strings[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (s *FileStore) SetStr(key string, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Strings == nil {
		s.data.Strings = make(map[string]string)
	}
	s.data.Strings[key] = v
	return s.flush()
}

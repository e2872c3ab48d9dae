package usage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryStore keeps state in process. The zero value is ready to use.
type MemoryStore struct {
	mu    sync.Mutex
	state State
	saves int
}

// Load implements [Store].
func (m *MemoryStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// Save implements [Store].
func (m *MemoryStore) Save(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.saves++
	return nil
}

// Saves returns the number of Save calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FileStore persists state as YAML at Path. Writes go through a temporary
// file and a rename so a crash never leaves a truncated record.
type FileStore struct {
	Path string
}

// Load implements [Store]. A missing file yields the zero State.
func (f FileStore) Load() (State, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("usage: read %q: %w", f.Path, err)
	}
	var st State
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&st); err != nil {
		return State{}, fmt.Errorf("usage: decode %q: %w", f.Path, err)
	}
	return st, nil
}

// Save implements [Store].
func (f FileStore) Save(s State) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("usage: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".usage-*.yaml")
	if err != nil {
		return fmt.Errorf("usage: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("usage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("usage: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("usage: rename: %w", err)
	}
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = FileStore{}
)

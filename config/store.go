package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store owns one JSON configuration file. Its in-memory view is the file's
// contents deep-merged over the supplied defaults. All mutation goes through
// Set, which persists immediately; writes are serialized by the store mutex.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]any
}

// Open loads the file at path and merges it over defaults. A missing file is
// not an error; the store then holds only the defaults.
func Open(path string, defaults any) (*Store, error) {
	base, err := toMap(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}

	s := &Store{path: path, data: base}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var overlay map[string]any
	if err := json.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	s.data = Merge(base, overlay)
	return s, nil
}

// Merge returns a new map with overlay applied over base. Nested objects
// merge key by key; scalars and arrays in the overlay overwrite.
func Merge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		ov, overlayIsMap := v.(map[string]any)
		bv, baseIsMap := out[k].(map[string]any)
		if overlayIsMap && baseIsMap {
			out[k] = Merge(bv, ov)
			continue
		}
		out[k] = v
	}
	return out
}

// Decode unmarshals the merged view into a typed structure.
func (s *Store) Decode(out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Get returns the value at a dotted path, e.g. "server.maxConnections".
func (s *Store) Get(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := any(s.data)
	for _, key := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// Set writes a value at a dotted path, creating intermediate objects as
// needed, and persists the result to disk.
func (s *Store) Set(path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := strings.Split(path, ".")
	node := s.data
	for _, key := range keys[:len(keys)-1] {
		next, ok := node[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[key] = next
		}
		node = next
	}
	node[keys[len(keys)-1]] = value
	return s.save()
}

// Save persists the merged view to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save backs up the prior file, then writes atomically via a temp file.
// Callers must hold s.mu.
func (s *Store) save() error {
	if prior, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".bak", prior, 0o600); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	}

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Snapshot returns a deep copy of the merged view.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.data)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if mv, ok := v.(map[string]any); ok {
			out[k] = copyMap(mv)
			continue
		}
		out[k] = v
	}
	return out
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

package repository

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileProcessedSet is a ProcessedSet backed by a newline-separated file.
type FileProcessedSet struct {
	path string

	mu      sync.RWMutex
	entries []string
	index   map[string]struct{}
}

// NewFileProcessedSet loads the set from path. A missing file yields an empty set.
func NewFileProcessedSet(path string) (*FileProcessedSet, error) {
	s := &FileProcessedSet{
		path:  path,
		index: make(map[string]struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileProcessedSet) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open processed set: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, ok := s.index[line]; ok {
			continue
		}
		s.index[line] = struct{}{}
		s.entries = append(s.entries, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read processed set: %w", err)
	}
	return nil
}

// Contains reports whether uri is in the set.
func (s *FileProcessedSet) Contains(uri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[uri]
	return ok
}

// Add appends uri and rewrites the file atomically.
func (s *FileProcessedSet) Add(uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[uri]; ok {
		return nil
	}

	entries := append(s.entries[:len(s.entries):len(s.entries)], uri)
	if err := s.write(entries); err != nil {
		return err
	}
	s.entries = entries
	s.index[uri] = struct{}{}
	return nil
}

func (s *FileProcessedSet) write(entries []string) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create processed set dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	data := strings.Join(entries, "\n") + "\n"
	if err := os.WriteFile(tmp, []byte(data), 0644); err != nil {
		return fmt.Errorf("write processed set: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace processed set: %w", err)
	}
	return nil
}

// List returns a copy of all entries in insertion order.
func (s *FileProcessedSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s *FileProcessedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

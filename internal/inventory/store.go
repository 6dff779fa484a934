// Package inventory implements the SharedInventory membership store and mention responder.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

// Store keeps members and inventory items in two JSON array files.
type Store struct {
	membersPath   string
	inventoryPath string

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// NewStore opens the store under dir, creating empty files as needed.
func NewStore(dir, membersFile, inventoryFile string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create inventory dir: %w", err)
	}
	s := &Store{
		membersPath:   filepath.Join(dir, membersFile),
		inventoryPath: filepath.Join(dir, inventoryFile),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
	for _, p := range []string{s.membersPath, s.inventoryPath} {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			if err := writeJSON(p, []any{}); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func readJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []T{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	out := []T{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Members returns all members.
func (s *Store) Members() ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readJSON[domain.Member](s.membersPath)
}

// Member returns the member with did, or ErrMemberNotFound.
func (s *Store) Member(did string) (*domain.Member, error) {
	members, err := s.Members()
	if err != nil {
		return nil, err
	}
	for i := range members {
		if members[i].DID == did {
			return &members[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrMemberNotFound, did)
}

// IsMember reports whether did belongs to a member.
func (s *Store) IsMember(did string) (bool, error) {
	_, err := s.Member(did)
	if errors.Is(err, domain.ErrMemberNotFound) {
		return false, nil
	}
	return err == nil, err
}

// AddMember inserts m or replaces the existing member with the same DID.
func (s *Store) AddMember(m domain.Member) error {
	if m.DID == "" {
		return fmt.Errorf("member DID is required: %w", domain.ErrValidation)
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = s.now()
	}
	if m.Locations == nil {
		m.Locations = []string{}
	}
	if m.Preferences == nil {
		m.Preferences = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	members, err := readJSON[domain.Member](s.membersPath)
	if err != nil {
		return err
	}
	replaced := false
	for i := range members {
		if members[i].DID == m.DID {
			members[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		members = append(members, m)
	}
	return writeJSON(s.membersPath, members)
}

// Items returns all inventory items.
func (s *Store) Items() ([]domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readJSON[domain.InventoryItem](s.inventoryPath)
}

// ItemsByMember returns the items added by did.
func (s *Store) ItemsByMember(did string) ([]domain.InventoryItem, error) {
	items, err := s.Items()
	if err != nil {
		return nil, err
	}
	out := make([]domain.InventoryItem, 0)
	for _, it := range items {
		if it.AddedBy == did {
			out = append(out, it)
		}
	}
	return out, nil
}

// AddItem appends item, filling in its ID, timestamp and default status.
func (s *Store) AddItem(item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Name == "" || item.AddedBy == "" {
		return nil, fmt.Errorf("item name and owner are required: %w", domain.ErrValidation)
	}
	if item.ID == "" {
		item.ID = s.newID()
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = s.now()
	}
	if item.Status == "" {
		item.Status = domain.ItemStatusAvailable
	}
	if item.ImageURLs == nil {
		item.ImageURLs = []string{}
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := readJSON[domain.InventoryItem](s.inventoryPath)
	if err != nil {
		return nil, err
	}
	items = append(items, item)
	if err := writeJSON(s.inventoryPath, items); err != nil {
		return nil, err
	}
	return &item, nil
}

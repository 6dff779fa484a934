package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := NewStore(dir, "members.json", "inventory.json")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, dir
}

func TestNewStore_CreatesEmptyFiles(t *testing.T) {
	_, dir := newTestStore(t)
	for _, name := range []string{"members.json", "inventory.json"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
		if string(data) != "[]" {
			t.Errorf("%s = %q, want []", name, data)
		}
	}
}

func TestStore_Members(t *testing.T) {
	s, _ := newTestStore(t)

	ok, err := s.IsMember("did:plc:alice")
	if err != nil || ok {
		t.Fatalf("IsMember on empty store = %v, %v", ok, err)
	}
	if _, err := s.Member("did:plc:alice"); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Errorf("Member() = %v, want ErrMemberNotFound", err)
	}

	if err := s.AddMember(domain.Member{DID: "did:plc:alice", Handle: "alice.test"}); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if err := s.AddMember(domain.Member{DID: "did:plc:alice", Handle: "alice.new", Locations: []string{"Malmö"}}); err != nil {
		t.Fatalf("AddMember (update) failed: %v", err)
	}

	members, err := s.Members()
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 {
		t.Fatalf("members = %d, want 1 (upsert by DID)", len(members))
	}
	m := members[0]
	if m.Handle != "alice.new" || len(m.Locations) != 1 || m.JoinedAt.IsZero() || m.Preferences == nil {
		t.Errorf("member = %+v", m)
	}

	if ok, _ := s.IsMember("did:plc:alice"); !ok {
		t.Error("alice should be a member")
	}
	if err := s.AddMember(domain.Member{Handle: "nodid"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("AddMember without DID = %v, want validation error", err)
	}
}

func TestStore_Items(t *testing.T) {
	s, _ := newTestStore(t)
	s.newID = func() string { return "item-1" }

	item, err := s.AddItem(domain.InventoryItem{Name: "Drill", AddedBy: "did:plc:alice", PostURI: "at://x/app.bsky.feed.post/1"})
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if item.ID != "item-1" || item.Status != domain.ItemStatusAvailable || item.AddedAt.IsZero() {
		t.Errorf("item = %+v", item)
	}
	if item.Tags == nil || item.ImageURLs == nil {
		t.Error("slices should be non-nil for stable JSON")
	}

	s.newID = func() string { return "item-2" }
	if _, err := s.AddItem(domain.InventoryItem{Name: "Ladder", AddedBy: "did:plc:bob"}); err != nil {
		t.Fatal(err)
	}

	all, err := s.Items()
	if err != nil || len(all) != 2 {
		t.Fatalf("Items() = %v, %v", all, err)
	}
	mine, err := s.ItemsByMember("did:plc:alice")
	if err != nil || len(mine) != 1 || mine[0].Name != "Drill" {
		t.Errorf("ItemsByMember = %+v, %v", mine, err)
	}

	tests := []struct {
		name string
		item domain.InventoryItem
	}{
		{"no name", domain.InventoryItem{AddedBy: "did:plc:alice"}},
		{"no owner", domain.InventoryItem{Name: "Saw"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.AddItem(tt.item); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("AddItem() = %v, want validation error", err)
			}
		})
	}
}

func TestStore_DefaultIDIsUUID(t *testing.T) {
	s, _ := newTestStore(t)
	item, err := s.AddItem(domain.InventoryItem{Name: "Tent", AddedBy: "did:plc:alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(item.ID) != 36 {
		t.Errorf("ID = %q, want uuid", item.ID)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	s, dir := newTestStore(t)
	if err := os.WriteFile(filepath.Join(dir, "members.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IsMember("did:plc:alice"); err == nil {
		t.Error("expected decode error")
	}
	if err := s.AddMember(domain.Member{DID: "did:plc:alice"}); err == nil {
		t.Error("AddMember must not overwrite an unreadable file")
	}
}

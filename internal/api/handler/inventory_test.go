package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

type fakeInventory struct {
	members []domain.Member
	items   []domain.InventoryItem
	err     error
}

func (f *fakeInventory) Members() ([]domain.Member, error) {
	return f.members, f.err
}

func (f *fakeInventory) Items() ([]domain.InventoryItem, error) {
	return f.items, f.err
}

func (f *fakeInventory) ItemsByMember(did string) ([]domain.InventoryItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []domain.InventoryItem{}
	for _, it := range f.items {
		if it.AddedBy == did {
			out = append(out, it)
		}
	}
	return out, nil
}

func testInventory() *fakeInventory {
	return &fakeInventory{
		members: []domain.Member{{DID: "did:plc:alice", Handle: "alice.test"}},
		items: []domain.InventoryItem{
			{ID: "1", Name: "Drill", AddedBy: "did:plc:alice"},
			{ID: "2", Name: "Ladder", AddedBy: "did:plc:bob"},
		},
	}
}

func TestInventoryHandler_Members(t *testing.T) {
	h := NewInventoryHandler(testInventory(), testLogger())

	w := httptest.NewRecorder()
	h.Members(w, httptest.NewRequest(http.MethodGet, "/api/v1/inventory/members", nil))

	var resp MembersResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 1 || resp.Members[0].Handle != "alice.test" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestInventoryHandler_Items(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantTotal int
	}{
		{"all items", "", 2},
		{"by member", "?member=did:plc:bob", 1},
		{"unknown member", "?member=did:plc:carol", 0},
	}

	h := NewInventoryHandler(testInventory(), testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Items(w, httptest.NewRequest(http.MethodGet, "/api/v1/inventory/items"+tt.query, nil))

			var resp ItemsResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Total != tt.wantTotal || len(resp.Items) != tt.wantTotal {
				t.Errorf("total = %d, items = %d, want %d", resp.Total, len(resp.Items), tt.wantTotal)
			}
		})
	}
}

func TestInventoryHandler_StoreError(t *testing.T) {
	h := NewInventoryHandler(&fakeInventory{err: errors.New("decode members.json")}, testLogger())

	for _, fn := range []http.HandlerFunc{h.Members, h.Items} {
		w := httptest.NewRecorder()
		fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	}
}

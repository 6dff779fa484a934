package handler

import (
	"log/slog"
	"net/http"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

// InventoryStore is the read side of the SharedInventory store.
type InventoryStore interface {
	Members() ([]domain.Member, error)
	Items() ([]domain.InventoryItem, error)
	ItemsByMember(did string) ([]domain.InventoryItem, error)
}

// InventoryHandler serves SharedInventory members and items.
type InventoryHandler struct {
	store  InventoryStore
	logger *slog.Logger
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(store InventoryStore, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{store: store, logger: logger}
}

// MembersResponse lists members.
type MembersResponse struct {
	Members []domain.Member `json:"members"`
	Total   int             `json:"total"`
}

// Members handles GET /api/v1/inventory/members.
func (h *InventoryHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.store.Members()
	if err != nil {
		h.logger.Error("failed to read members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read members")
		return
	}
	writeJSON(w, http.StatusOK, MembersResponse{Members: members, Total: len(members)})
}

// ItemsResponse lists inventory items.
type ItemsResponse struct {
	Items []domain.InventoryItem `json:"items"`
	Total int                    `json:"total"`
}

// Items handles GET /api/v1/inventory/items
// Query parameters:
//   - member: only items added by this DID
func (h *InventoryHandler) Items(w http.ResponseWriter, r *http.Request) {
	var (
		items []domain.InventoryItem
		err   error
	)
	if did := r.URL.Query().Get("member"); did != "" {
		items, err = h.store.ItemsByMember(did)
	} else {
		items, err = h.store.Items()
	}
	if err != nil {
		h.logger.Error("failed to read inventory", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read inventory")
		return
	}
	writeJSON(w, http.StatusOK, ItemsResponse{Items: items, Total: len(items)})
}

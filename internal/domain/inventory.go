package domain

import "time"

// Member is a SharedInventory participant.
type Member struct {
	DID         string         `json:"did"`
	Handle      string         `json:"handle"`
	DisplayName string         `json:"display_name,omitempty"`
	JoinedAt    time.Time      `json:"joined_at"`
	Profile     map[string]any `json:"profile,omitempty"`
	Locations   []string       `json:"locations"`
	Preferences map[string]any `json:"preferences"`
}

// ItemStatus is the availability of an inventory item.
type ItemStatus string

const (
	ItemStatusAvailable ItemStatus = "available"
	ItemStatusLent      ItemStatus = "lent"
	ItemStatusRemoved   ItemStatus = "removed"
)

// InventoryItem is something a member has offered to the shared inventory.
type InventoryItem struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Location    string     `json:"location,omitempty"`
	AddedBy     string     `json:"added_by"`
	AddedAt     time.Time  `json:"added_at"`
	PostURI     string     `json:"post_uri,omitempty"`
	ImageURLs   []string   `json:"image_urls"`
	Tags        []string   `json:"tags"`
	Status      ItemStatus `json:"status"`
}

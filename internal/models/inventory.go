package models

import "time"

// InventoryAction is the sub-type of an inventory update push event.
type InventoryAction string

const (
	InventoryCreated      InventoryAction = "created"
	InventoryUpdated      InventoryAction = "updated"
	InventoryDeleted      InventoryAction = "deleted"
	InventoryStockUpdated InventoryAction = "stock_updated"
)

// InventoryItem is the payload slice of an inventory item carried on push
// events and alert re-check responses.
type InventoryItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SKU      string `json:"sku,omitempty"`
	Category string `json:"category,omitempty"`
	Location string `json:"location,omitempty"`
	Stock    int    `json:"stock"`
	MinStock int    `json:"min_stock"`
}

// InventoryEvent is the server-to-client inventory:update payload.
type InventoryEvent struct {
	Action InventoryAction `json:"action"`
	Item   InventoryItem   `json:"item"`

	// Actor is the user id that caused the change. Used for
	// self-suppression: an actor is never notified of its own write.
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertEvent is the server-to-client alerts:new / alerts:update payload.
type AlertEvent struct {
	ID           string       `json:"id"`
	Kind         string       `json:"kind"`
	Severity     string       `json:"severity"`
	Title        string       `json:"title"`
	Message      string       `json:"message"`
	Subject      AlertSubject `json:"subject,omitempty"`
	Acknowledged bool         `json:"acknowledged"`
}

// SystemNotificationEvent is the server-to-client notification /
// system:notification payload.
type SystemNotificationEvent struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

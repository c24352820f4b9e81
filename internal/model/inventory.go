package model

import "time"

// Location is the stock on hand at one shop.
type Location struct {
	Location string `json:"location" bson:"location"`
	Stock    int    `json:"stock" bson:"stock"`
}

// InventoryRecord is the normalized, SKU-keyed inventory document shared by all downstream consumers.
type InventoryRecord struct {
	SKU       string     `json:"sku" bson:"sku"`
	Name      string     `json:"name" bson:"name"`
	Locations []Location `json:"locations" bson:"locations"`
	SyncedAt  time.Time  `json:"synced_at" bson:"synced_at"`
}

// TotalStock sums stock across all locations.
func (r *InventoryRecord) TotalStock() int {
	total := 0
	for _, loc := range r.Locations {
		total += loc.Stock
	}
	return total
}

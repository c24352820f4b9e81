package inventory

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"stocksync-api/internal/model"
)

// UnknownLocation names a stock row whose shop relation was not loaded.
const UnknownLocation = "Unknown"

// aggregateShopID is the all-shops total row the API appends to ItemShops.
// Summing it with the per-shop rows would count every unit twice.
const aggregateShopID = "0"

// Normalize maps a raw item to its canonical record. It never fails:
// malformed stock fields coerce to zero.
func Normalize(item model.RawItem) model.InventoryRecord {
	rec := model.InventoryRecord{
		SKU:       strings.TrimSpace(item.CustomSKU),
		Name:      item.Description,
		Locations: []model.Location{},
	}
	if item.ItemShops == nil {
		return rec
	}

	for _, shop := range item.ItemShops.ItemShop {
		if shop.ShopID == aggregateShopID {
			continue
		}
		name := UnknownLocation
		if shop.Shop != nil && strings.TrimSpace(shop.Shop.Name) != "" {
			name = shop.Shop.Name
		}
		rec.Locations = append(rec.Locations, model.Location{
			Location: name,
			Stock:    CoerceStock(shop.QOH),
		})
	}
	return rec
}

// Normalizer stamps records with a fixed sync time.
func Normalizer(syncedAt time.Time) func(model.RawItem) model.InventoryRecord {
	return func(item model.RawItem) model.InventoryRecord {
		rec := Normalize(item)
		rec.SyncedAt = syncedAt
		return rec
	}
}

// CoerceStock reads a quantity that may be a JSON number, a numeric string,
// null or absent. Decimals truncate; anything else, including negatives, is 0.
func CoerceStock(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
	} else {
		s = string(raw)
	}
	s = strings.TrimSpace(s)

	if n, err := strconv.Atoi(s); err == nil {
		return clamp(float64(n))
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return clamp(math.Trunc(f))
}

func clamp(f float64) int {
	if f <= 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

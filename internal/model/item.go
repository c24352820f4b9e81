package model

import (
	"bytes"
	"encoding/json"
)

// RawItem is an upstream Item record as returned by the point-of-sale API.
type RawItem struct {
	ItemID      string        `json:"itemID"`
	SystemSKU   string        `json:"systemSku"`
	CustomSKU   string        `json:"customSku"`
	Description string        `json:"description"`
	ItemShops   *RawItemShops `json:"ItemShops,omitempty"`
}

// RawItemShops wraps the per-shop stock relation.
type RawItemShops struct {
	ItemShop OneOrMany[RawItemShop] `json:"ItemShop"`
}

// RawItemShop is one shop's stock sub-record. QOH is kept raw because the
// upstream sends it as a string, a number, or not at all.
type RawItemShop struct {
	ItemShopID string          `json:"itemShopID"`
	ShopID     string          `json:"shopID"`
	QOH        json.RawMessage `json:"qoh,omitempty"`
	Shop       *RawShop        `json:"Shop,omitempty"`
}

// RawShop is the optional shop relation.
type RawShop struct {
	ShopID string `json:"shopID"`
	Name   string `json:"name"`
}

// OneOrMany decodes a JSON value that is either a single object or an array of objects.
type OneOrMany[T any] []T

// UnmarshalJSON implements json.Unmarshaler.
func (o *OneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if data[0] == '[' {
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = OneOrMany[T]{one}
	return nil
}

package inventory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksync-api/internal/model"
)

func TestCoerceStock(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"missing", "", 0},
		{"null", "null", 0},
		{"empty string", `""`, 0},
		{"text", `"abc"`, 0},
		{"numeric string", `"12"`, 12},
		{"padded string", `" 7 "`, 7},
		{"decimal string", `"3.7"`, 3},
		{"number", `5`, 5},
		{"decimal number", `9.99`, 9},
		{"negative", `-4`, 0},
		{"negative string", `"-4.5"`, 0},
		{"bool", `true`, 0},
		{"object", `{"v":1}`, 0},
		{"nan", `"NaN"`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoerceStock(json.RawMessage(tt.raw)))
		})
	}
}

func TestNormalize(t *testing.T) {
	var item model.RawItem
	require.NoError(t, json.Unmarshal([]byte(`{
		"itemID": "11",
		"customSku": "  JKT-24-M ",
		"description": "Jacket 2024",
		"ItemShops": {"ItemShop": [
			{"shopID": "0", "qoh": "9"},
			{"shopID": "1", "qoh": "4", "Shop": {"name": "Collingwood"}},
			{"shopID": "2", "qoh": "n/a", "Shop": {"name": "Corbetts"}},
			{"shopID": "3", "qoh": 5}
		]}
	}`), &item))

	rec := Normalize(item)

	assert.Equal(t, "JKT-24-M", rec.SKU)
	assert.Equal(t, "Jacket 2024", rec.Name)
	assert.Equal(t, []model.Location{
		{Location: "Collingwood", Stock: 4},
		{Location: "Corbetts", Stock: 0},
		{Location: UnknownLocation, Stock: 5},
	}, rec.Locations)
	assert.Equal(t, 9, rec.TotalStock())
}

func TestNormalize_NoShops(t *testing.T) {
	rec := Normalize(model.RawItem{CustomSKU: "X", Description: "Bare"})

	assert.Equal(t, "X", rec.SKU)
	assert.NotNil(t, rec.Locations)
	assert.Empty(t, rec.Locations)
}

func TestNormalizer_StampsSyncTime(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := Normalizer(at)(model.RawItem{CustomSKU: "X"})
	assert.Equal(t, at, rec.SyncedAt)
}

func TestFilter(t *testing.T) {
	f, err := NewFilter("2024|2025")
	require.NoError(t, err)

	items := []model.RawItem{
		{CustomSKU: "A", Description: "Jacket 2024"},
		{CustomSKU: "B", Description: "Jacket 2022"},
	}

	records := f.Apply(items, Normalize)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].SKU)

	assert.True(t, f.Include(model.RawItem{Description: "Board 2025"}))
	assert.False(t, f.Include(model.RawItem{}))
}

func TestFilter_EmptyPatternIncludesAll(t *testing.T) {
	f, err := NewFilter("")
	require.NoError(t, err)
	assert.True(t, f.Include(model.RawItem{Description: "anything"}))
	assert.True(t, f.Include(model.RawItem{}))
}

func TestNewFilter_InvalidPattern(t *testing.T) {
	_, err := NewFilter("(")
	assert.Error(t, err)
}

// Package inventory turns raw point-of-sale items into canonical inventory records.
package inventory

import (
	"fmt"
	"regexp"

	"stocksync-api/internal/model"
)

// Filter is the business inclusion predicate applied before normalization.
type Filter struct {
	re *regexp.Regexp
}

// NewFilter compiles pattern. An empty pattern includes every item.
func NewFilter(pattern string) (*Filter, error) {
	if pattern == "" {
		return &Filter{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
	}
	return &Filter{re: re}, nil
}

// Include reports whether the item's description matches.
func (f *Filter) Include(item model.RawItem) bool {
	if f == nil || f.re == nil {
		return true
	}
	return f.re.MatchString(item.Description)
}

// Apply keeps the included items and maps them through normalize.
func (f *Filter) Apply(items []model.RawItem, normalize func(model.RawItem) model.InventoryRecord) []model.InventoryRecord {
	out := make([]model.InventoryRecord, 0, len(items))
	for _, item := range items {
		if f.Include(item) {
			out = append(out, normalize(item))
		}
	}
	return out
}

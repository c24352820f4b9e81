// Package reconcile makes downstream targets match freshly fetched
// canonical records with the fewest writes.
package reconcile

import (
	"fmt"
	"strings"

	"stocksync-api/internal/model"
)

// WriteError is a single record's failed write. It never aborts a batch.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// KeyTransform maps a canonical SKU to the key used by a target platform.
// An empty result means the record has no counterpart.
type KeyTransform func(sku string) string

// SameKey matches on the trimmed SKU.
func SameKey(sku string) string {
	return strings.TrimSpace(sku)
}

// PrefixBefore matches on the part of the SKU before the first sep.
// An empty sep behaves like SameKey.
func PrefixBefore(sep string) KeyTransform {
	if sep == "" {
		return SameKey
	}
	return func(sku string) string {
		sku = strings.TrimSpace(sku)
		if i := strings.Index(sku, sep); i >= 0 {
			return strings.TrimSpace(sku[:i])
		}
		return sku
	}
}

func newResult() *model.ReconcileResult {
	return &model.ReconcileResult{Failed: []model.ReconcileFailure{}}
}

func (e *WriteError) failure() model.ReconcileFailure {
	return model.ReconcileFailure{Key: e.Key, Error: e.Err.Error()}
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/model"
	"stocksync-api/internal/service"
	"stocksync-api/pkg/apierror"
	"stocksync-api/pkg/response"
)

// InventoryReader looks up stored records.
type InventoryReader interface {
	GetBySKU(ctx context.Context, sku string) (*model.InventoryRecord, error)
}

// InventoryHandler handles inventory-related HTTP requests.
type InventoryHandler struct {
	inventory InventoryReader
	logger    *zap.Logger
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(inventory InventoryReader, log *zap.Logger) *InventoryHandler {
	return &InventoryHandler{
		inventory: inventory,
		logger:    logger.OrNop(log).Named("handler.inventory"),
	}
}

// InventoryResponse is the lookup view of a stored record.
type InventoryResponse struct {
	SKU       string           `json:"sku"`
	Name      string           `json:"name"`
	Locations []model.Location `json:"locations"`
	Total     int              `json:"total_stock"`
	SyncedAt  time.Time        `json:"synced_at"`
}

// GetBySKU handles GET /api/v1/inventory/{sku}
func (h *InventoryHandler) GetBySKU(w http.ResponseWriter, r *http.Request) {
	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	if sku == "" {
		response.Error(w, apierror.BadRequest("sku is required"))
		return
	}

	rec, err := h.inventory.GetBySKU(r.Context(), sku)
	if errors.Is(err, service.ErrSKUNotFound) {
		response.Error(w, apierror.NotFound("SKU not found"))
		return
	}
	if err != nil {
		h.logger.Error("inventory lookup failed", zap.String("sku", sku), zap.Error(err))
		response.Error(w, err)
		return
	}

	response.OK(w, InventoryResponse{
		SKU:       rec.SKU,
		Name:      rec.Name,
		Locations: rec.Locations,
		Total:     rec.TotalStock(),
		SyncedAt:  rec.SyncedAt,
	})
}

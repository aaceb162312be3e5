package handler

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/oshare-style/market/internal/domain/catalog"
)

type itemResponse struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Brand         string          `json:"brand,omitempty"`
	Category      string          `json:"category,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Available     bool            `json:"available"`
}

func toItemResponse(it catalog.Item) itemResponse {
	return itemResponse{
		ID:            it.ID,
		Name:          it.Name,
		Brand:         it.Brand,
		Category:      it.Category,
		Price:         it.Price,
		StockQuantity: it.StockQuantity,
		Available:     it.Available,
	}
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.List(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := make([]itemResponse, len(items))
	for i, it := range items {
		resp[i] = toItemResponse(it)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	it, err := h.items.GetByID(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toItemResponse(*it))
}

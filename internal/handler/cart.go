package handler

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/oshare-style/market/internal/domain/cart"
)

type cartLineResponse struct {
	ItemID    int64           `json:"item_id"`
	Name      string          `json:"name"`
	Brand     string          `json:"brand,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type cartResponse struct {
	Lines []cartLineResponse `json:"lines"`
}

func toCartResponse(lines []cart.Line) cartResponse {
	resp := cartResponse{Lines: make([]cartLineResponse, len(lines))}
	for i, l := range lines {
		resp.Lines[i] = cartLineResponse{
			ItemID:    l.Item.ID,
			Name:      l.Item.Name,
			Brand:     l.Item.Brand,
			UnitPrice: l.Item.Price,
			Quantity:  l.Entry.Quantity,
			LineTotal: l.Item.Price.Mul(decimal.NewFromInt(int64(l.Entry.Quantity))),
		}
	}
	return resp
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	lines, err := h.carts.List(r.Context(), identity(r).UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(lines))
}

type addCartItemRequest struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.carts.Add(r.Context(), identity(r).UserID, req.ItemID, req.Quantity); err != nil {
		respondDomainError(w, r, err)
		return
	}

	lines, err := h.carts.List(r.Context(), identity(r).UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartResponse(lines))
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(r.PathValue("itemID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req updateCartItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.carts.SetQuantity(r.Context(), identity(r).UserID, itemID, req.Quantity); err != nil {
		respondDomainError(w, r, err)
		return
	}

	lines, err := h.carts.List(r.Context(), identity(r).UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(lines))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(r.PathValue("itemID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if err := h.carts.Remove(r.Context(), identity(r).UserID, itemID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), identity(r).UserID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cartSummary prices the current cart, optionally with ?coupon=CODE. The
// figures are a preview; checkout recomputes them.
func (h *Handler) cartSummary(w http.ResponseWriter, r *http.Request) {
	po, err := h.carts.Summary(r.Context(), identity(r).UserID, r.URL.Query().Get("coupon"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPricingResponse(po))
}

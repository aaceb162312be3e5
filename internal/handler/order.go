package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oshare-style/market/internal/domain/order"
	"github.com/oshare-style/market/internal/domain/pricing"
)

type pricedLineResponse struct {
	ItemID     int64           `json:"item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type pricingResponse struct {
	Lines          []pricedLineResponse `json:"lines"`
	Subtotal       decimal.Decimal      `json:"subtotal"`
	DiscountAmount decimal.Decimal      `json:"discount_amount"`
	TaxAmount      decimal.Decimal      `json:"tax_amount"`
	ShippingFee    decimal.Decimal      `json:"shipping_fee"`
	TotalAmount    decimal.Decimal      `json:"total_amount"`
	CouponCode     string               `json:"coupon_code,omitempty"`
}

func toPricingResponse(po *pricing.PricedOrder) pricingResponse {
	resp := pricingResponse{
		Lines:          make([]pricedLineResponse, len(po.Lines)),
		Subtotal:       po.Subtotal,
		DiscountAmount: po.DiscountAmount,
		TaxAmount:      po.TaxAmount,
		ShippingFee:    po.ShippingFee,
		TotalAmount:    po.TotalAmount,
	}
	if po.Coupon != nil {
		resp.CouponCode = po.Coupon.Code
	}
	for i, l := range po.Lines {
		resp.Lines[i] = pricedLineResponse{
			ItemID:     l.ItemID,
			Name:       l.Name,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			TotalPrice: l.TotalPrice,
		}
	}
	return resp
}

type shippingRequest struct {
	Name       string `json:"name"`
	PostalCode string `json:"postal_code"`
	Address    string `json:"address"`
	Phone      string `json:"phone"`
}

type orderLineRequest struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type placeOrderRequest struct {
	Items           []orderLineRequest `json:"items"`
	CouponCode      string             `json:"coupon_code,omitempty"`
	Shipping        shippingRequest    `json:"shipping"`
	PaymentMethodID int64              `json:"payment_method_id"`
	// FromCart places the order from the stored cart instead of Items, and
	// clears the cart on success.
	FromCart bool `json:"from_cart,omitempty"`
}

type orderItemResponse struct {
	ItemID     int64           `json:"item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type orderResponse struct {
	OrderNumber     string              `json:"order_number"`
	Status          string              `json:"status"`
	PaymentStatus   string              `json:"payment_status"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	DiscountAmount  decimal.Decimal     `json:"discount_amount"`
	TaxAmount       decimal.Decimal     `json:"tax_amount"`
	ShippingFee     decimal.Decimal     `json:"shipping_fee"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	CouponCode      string              `json:"coupon_code,omitempty"`
	Items           []orderItemResponse `json:"items"`
	PaymentMethodID int64               `json:"payment_method_id"`
	CreatedAt       time.Time           `json:"created_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		OrderNumber:     o.OrderNumber,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		Subtotal:        o.Subtotal,
		DiscountAmount:  o.DiscountAmount,
		TaxAmount:       o.TaxAmount,
		ShippingFee:     o.ShippingFee,
		TotalAmount:     o.TotalAmount,
		CouponCode:      o.CouponCode,
		Items:           make([]orderItemResponse, len(o.Items)),
		PaymentMethodID: o.PaymentMethodID,
		CreatedAt:       o.CreatedAt,
	}
	for i, it := range o.Items {
		resp.Items[i] = orderItemResponse{
			ItemID:     it.ItemID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
		}
	}
	return resp
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := identity(r).UserID
	lines := make([]pricing.LineRequest, len(req.Items))
	for i, it := range req.Items {
		lines[i] = pricing.LineRequest{ItemID: it.ItemID, Quantity: it.Quantity}
	}
	if req.FromCart {
		var err error
		lines, err = h.carts.Lines(r.Context(), userID)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
	}

	o, err := h.orders.Checkout(r.Context(), userID, order.CheckoutRequest{
		Lines:      lines,
		CouponCode: req.CouponCode,
		Shipping: order.ShippingInfo{
			Name:       req.Shipping.Name,
			PostalCode: req.Shipping.PostalCode,
			Address:    req.Shipping.Address,
			Phone:      req.Shipping.Phone,
		},
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	if req.FromCart {
		// The order already exists; a failed cart clear must not turn the
		// checkout into an error.
		if err := h.carts.Clear(r.Context(), userID); err != nil {
			zctx.From(r.Context()).Warn("cart clear after checkout failed",
				zap.String("order_number", o.OrderNumber),
				zap.Error(err),
			)
		}
	}

	respondJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context(), identity(r).UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrderResponse(&orders[i])
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), identity(r).UserID, r.PathValue("orderNumber"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), identity(r).UserID, r.PathValue("orderNumber"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

type payOrderRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	var req payOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TransactionID == "" {
		respondError(w, http.StatusBadRequest, "transaction_id required")
		return
	}

	o, err := h.orders.Pay(r.Context(), identity(r).UserID, r.PathValue("orderNumber"), req.TransactionID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/oshare-style/market/internal/auth"
	"github.com/oshare-style/market/internal/domain/cart"
	"github.com/oshare-style/market/internal/domain/catalog"
	"github.com/oshare-style/market/internal/domain/coupon"
	"github.com/oshare-style/market/internal/domain/order"
	"github.com/oshare-style/market/internal/domain/payment"
	"github.com/oshare-style/market/internal/domain/pricing"
)

// Handler exposes the HTTP API, delegating business logic to the domain
// services and repositories.
type Handler struct {
	items    catalog.Repository
	coupons  coupon.Repository
	methods  payment.MethodRepository
	payments payment.Repository
	carts    *cart.Service
	orders   *order.Service
	pricer   cart.Pricer
	tokens   *auth.Tokens
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	items catalog.Repository,
	coupons coupon.Repository,
	methods payment.MethodRepository,
	payments payment.Repository,
	carts *cart.Service,
	orders *order.Service,
	pricer cart.Pricer,
	tokens *auth.Tokens,
) *Handler {
	return &Handler{
		items:    items,
		coupons:  coupons,
		methods:  methods,
		payments: payments,
		carts:    carts,
		orders:   orders,
		pricer:   pricer,
		tokens:   tokens,
	}
}

// Register attaches all API routes to the mux. Method-specific patterns keep
// routing in the standard mux; authentication runs per route group.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/items", h.listItems)
	mux.HandleFunc("GET /api/items/{id}", h.getItem)
	mux.HandleFunc("GET /api/payment-methods", h.listPaymentMethods)

	mux.Handle("POST /api/coupons/validate", h.requireAuth(h.validateCoupon))
	mux.Handle("GET /api/coupons", h.requireAdmin(h.listCoupons))

	mux.Handle("GET /api/cart", h.requireAuth(h.getCart))
	mux.Handle("POST /api/cart/items", h.requireAuth(h.addCartItem))
	mux.Handle("PUT /api/cart/items/{itemID}", h.requireAuth(h.updateCartItem))
	mux.Handle("DELETE /api/cart/items/{itemID}", h.requireAuth(h.removeCartItem))
	mux.Handle("DELETE /api/cart", h.requireAuth(h.clearCart))
	mux.Handle("GET /api/cart/summary", h.requireAuth(h.cartSummary))

	mux.Handle("POST /api/orders", h.requireAuth(h.placeOrder))
	mux.Handle("GET /api/orders", h.requireAuth(h.listOrders))
	mux.Handle("GET /api/orders/{orderNumber}", h.requireAuth(h.getOrder))
	mux.Handle("POST /api/orders/{orderNumber}/cancel", h.requireAuth(h.cancelOrder))
	mux.Handle("POST /api/orders/{orderNumber}/pay", h.requireAuth(h.payOrder))
	mux.Handle("GET /api/orders/{orderNumber}/payment", h.requireAuth(h.getOrderPayment))
	mux.Handle("GET /api/payments", h.requireAuth(h.listPayments))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Code: status, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondDomainError maps domain errors to HTTP status codes. Unrecognized
// errors are logged and returned as opaque 500s.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFoundErr    *pricing.ItemNotFoundError
		unavailableErr *pricing.ItemUnavailableError
		quantityErr    *pricing.InvalidQuantityError
		stockErr       *pricing.InsufficientStockError
		couponErr      *pricing.CouponRejectedError
	)
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, cart.ErrNotFound),
		errors.Is(err, payment.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, payment.ErrMethodNotFound):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pricing.ErrEmptyOrder):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &quantityErr),
		errors.As(err, &notFoundErr),
		errors.As(err, &unavailableErr),
		errors.As(err, &stockErr),
		errors.As(err, &couponErr):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrInsufficientStock):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrNotCancellable),
		errors.Is(err, order.ErrAlreadyPaid),
		errors.Is(err, order.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrCheckoutFailed),
		errors.Is(err, order.ErrCancellationFailed):
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		zctx.From(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

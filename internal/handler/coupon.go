package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/oshare-style/market/internal/domain/coupon"
)

type validateCouponRequest struct {
	Code        string          `json:"code"`
	OrderAmount decimal.Decimal `json:"order_amount"`
}

type validateCouponResponse struct {
	Valid          bool             `json:"valid"`
	Code           string           `json:"code"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	FinalAmount    *decimal.Decimal `json:"final_amount,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// validateCoupon previews a coupon against a hypothetical order amount. A
// denied coupon is a successful validation with valid=false, not an error;
// only lookup and infrastructure failures produce error statuses.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "coupon code required")
		return
	}

	c, err := h.coupons.FindByCode(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			respondJSON(w, http.StatusOK, validateCouponResponse{
				Code:   req.Code,
				Reason: coupon.ErrNotFound.Error(),
			})
			return
		}
		respondDomainError(w, r, err)
		return
	}

	uses, err := h.coupons.CountUserUsages(r.Context(), c.ID, identity(r).UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	discount, err := coupon.Evaluate(c, req.OrderAmount, uses, time.Now())
	if err != nil {
		respondJSON(w, http.StatusOK, validateCouponResponse{
			Code:   c.Code,
			Reason: err.Error(),
		})
		return
	}

	finalAmount := req.OrderAmount.Sub(discount)
	respondJSON(w, http.StatusOK, validateCouponResponse{
		Valid:          true,
		Code:           c.Code,
		DiscountAmount: discount,
		FinalAmount:    &finalAmount,
	})
}

type couponResponse struct {
	ID                    int64            `json:"id"`
	Code                  string           `json:"code"`
	Name                  string           `json:"name,omitempty"`
	Description           string           `json:"description,omitempty"`
	DiscountType          string           `json:"discount_type"`
	DiscountValue         decimal.Decimal  `json:"discount_value"`
	MinimumOrderAmount    decimal.Decimal  `json:"minimum_order_amount"`
	MaximumDiscountAmount *decimal.Decimal `json:"maximum_discount_amount,omitempty"`
	UsageLimit            int              `json:"usage_limit"`
	UsageCount            int              `json:"usage_count"`
	UserUsageLimit        int              `json:"user_usage_limit"`
	ValidFrom             time.Time        `json:"valid_from"`
	ValidUntil            time.Time        `json:"valid_until"`
	Active                bool             `json:"active"`
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := make([]couponResponse, len(coupons))
	for i, c := range coupons {
		resp[i] = couponResponse{
			ID:                    c.ID,
			Code:                  c.Code,
			Name:                  c.Name,
			Description:           c.Description,
			DiscountType:          string(c.DiscountType),
			DiscountValue:         c.DiscountValue,
			MinimumOrderAmount:    c.MinimumOrderAmount,
			MaximumDiscountAmount: c.MaximumDiscountAmount,
			UsageLimit:            c.UsageLimit,
			UsageCount:            c.UsageCount,
			UserUsageLimit:        c.UserUsageLimit,
			ValidFrom:             c.ValidFrom,
			ValidUntil:            c.ValidUntil,
			Active:                c.Active,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

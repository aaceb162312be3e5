package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/oshare-style/market/internal/domain/payment"
)

type paymentMethodResponse struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	PaymentType       string          `json:"payment_type"`
	ProcessingFeeRate decimal.Decimal `json:"processing_fee_rate"`
	Description       string          `json:"description,omitempty"`
}

func (h *Handler) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.methods.List(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := make([]paymentMethodResponse, len(methods))
	for i, m := range methods {
		resp[i] = paymentMethodResponse{
			ID:                m.ID,
			Name:              m.Name,
			PaymentType:       m.PaymentType,
			ProcessingFeeRate: m.ProcessingFeeRate,
			Description:       m.Description,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

type paymentResponse struct {
	ID                    int64           `json:"id"`
	OrderID               int64           `json:"order_id"`
	PaymentMethodID       int64           `json:"payment_method_id"`
	Amount                decimal.Decimal `json:"amount"`
	ProcessingFee         decimal.Decimal `json:"processing_fee"`
	ExternalTransactionID string          `json:"external_transaction_id,omitempty"`
	Status                payment.Status  `json:"status"`
}

func toPaymentResponse(p *payment.Payment) paymentResponse {
	return paymentResponse{
		ID:                    p.ID,
		OrderID:               p.OrderID,
		PaymentMethodID:       p.PaymentMethodID,
		Amount:                p.Amount,
		ProcessingFee:         p.ProcessingFee,
		ExternalTransactionID: p.ExternalTransactionID,
		Status:                p.Status,
	}
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.ListByUser(r.Context(), identity(r).UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := make([]paymentResponse, len(payments))
	for i := range payments {
		resp[i] = toPaymentResponse(&payments[i])
	}
	respondJSON(w, http.StatusOK, resp)
}

// getOrderPayment returns the payment captured for one of the user's orders.
// The order lookup enforces ownership; an unpaid order yields 404.
func (h *Handler) getOrderPayment(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), identity(r).UserID, r.PathValue("orderNumber"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	p, err := h.payments.GetByOrderID(r.Context(), o.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentResponse(p))
}

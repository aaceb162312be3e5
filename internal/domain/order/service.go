package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oshare-style/market/internal/domain/payment"
	"github.com/oshare-style/market/internal/domain/pricing"
)

// Pricer computes the monetary breakdown for a set of line requests.
// Implemented by pricing.Engine.
type Pricer interface {
	Price(ctx context.Context, userID string, lines []pricing.LineRequest, couponCode string) (*pricing.PricedOrder, error)
}

// CheckoutRequest holds the input for placing an order.
type CheckoutRequest struct {
	Lines           []pricing.LineRequest
	CouponCode      string
	Shipping        ShippingInfo
	PaymentMethodID int64
}

// Service orchestrates checkout, cancellation, and payment capture.
type Service struct {
	pricer  Pricer
	orders  Repository
	methods payment.MethodRepository
	now     func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(pricer Pricer, orders Repository, methods payment.MethodRepository) *Service {
	return &Service{
		pricer:  pricer,
		orders:  orders,
		methods: methods,
		now:     time.Now,
	}
}

// Checkout prices the requested lines, then persists the order, its items,
// the stock decrements, and the coupon usage in one transaction. Pricing
// errors propagate unchanged; transaction failures beyond the stock and
// coupon guards are logged and surfaced as ErrCheckoutFailed.
func (s *Service) Checkout(ctx context.Context, userID string, req CheckoutRequest) (*Order, error) {
	if userID == "" {
		return nil, errors.New("authenticated user required")
	}

	if _, err := s.methods.GetByID(ctx, req.PaymentMethodID); err != nil {
		return nil, errors.Wrap(err, "payment method")
	}

	po, err := s.pricer.Price(ctx, userID, req.Lines, req.CouponCode)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(po.Lines))
	for i, line := range po.Lines {
		items[i] = Item{
			ItemID:     line.ItemID,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: line.TotalPrice,
		}
	}

	o := &Order{
		OrderNumber:     s.newOrderNumber(),
		UserID:          userID,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		Subtotal:        po.Subtotal,
		DiscountAmount:  po.DiscountAmount,
		TaxAmount:       po.TaxAmount,
		ShippingFee:     po.ShippingFee,
		TotalAmount:     po.TotalAmount,
		CouponCode:      req.CouponCode,
		Shipping:        req.Shipping,
		PaymentMethodID: req.PaymentMethodID,
		Items:           items,
	}
	if po.Coupon != nil {
		o.CouponID = &po.Coupon.ID
		o.CouponCode = po.Coupon.Code
	}

	if err := s.orders.CreateCheckout(ctx, o); err != nil {
		// Guard failures carry a specific reason; everything else is an
		// opaque consistency failure.
		if errors.Is(err, ErrInsufficientStock) {
			return nil, err
		}
		var rejected *pricing.CouponRejectedError
		if errors.As(err, &rejected) {
			return nil, err
		}
		zctx.From(ctx).Error("checkout transaction failed",
			zap.String("order_number", o.OrderNumber),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, ErrCheckoutFailed
	}

	return o, nil
}

// Cancel cancels an order owned by userID, restoring each line's quantity to
// item stock. Only pending and confirmed orders can be cancelled; a second
// cancel fails ErrNotCancellable because the status guard no longer matches.
func (s *Service) Cancel(ctx context.Context, userID, orderNumber string) (*Order, error) {
	o, err := s.orders.GetByNumber(ctx, userID, orderNumber)
	if err != nil {
		return nil, err
	}
	if !o.Cancellable() {
		return nil, ErrNotCancellable
	}

	if err := s.orders.Cancel(ctx, userID, orderNumber); err != nil {
		if errors.Is(err, ErrNotCancellable) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		zctx.From(ctx).Error("cancellation transaction failed",
			zap.String("order_number", orderNumber),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, ErrCancellationFailed
	}

	o.Status = StatusCancelled
	return o, nil
}

// Pay captures payment for a pending order: it records a Payment row with
// the method's processing fee, sets payment_status to completed, and
// confirms the order. Fulfillment beyond confirmation is driven elsewhere.
func (s *Service) Pay(ctx context.Context, userID, orderNumber, externalTransactionID string) (*Order, error) {
	if externalTransactionID == "" {
		return nil, errors.New("transaction id required")
	}

	o, err := s.orders.GetByNumber(ctx, userID, orderNumber)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending || o.PaymentStatus != PaymentPending {
		return nil, ErrAlreadyPaid
	}

	method, err := s.methods.GetByID(ctx, o.PaymentMethodID)
	if err != nil {
		return nil, errors.Wrap(err, "payment method")
	}
	fee := o.TotalAmount.Mul(method.ProcessingFeeRate).Round(2)

	if err := s.orders.MarkPaid(ctx, o, externalTransactionID, fee); err != nil {
		if errors.Is(err, ErrAlreadyPaid) {
			return nil, err
		}
		return nil, errors.Wrap(err, "mark paid")
	}

	o.PaymentStatus = PaymentCompleted
	o.Status = StatusConfirmed
	return o, nil
}

// Refund marks an order refunded (administrative, allowed from any state the
// transition table permits). The payment sub-status moves to refunded only
// when a payment was actually captured.
func (s *Service) Refund(ctx context.Context, userID, orderNumber string) (*Order, error) {
	o, err := s.orders.GetByNumber(ctx, userID, orderNumber)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransitionTo(StatusRefunded) {
		return nil, ErrInvalidTransition
	}

	if err := s.orders.MarkRefunded(ctx, orderNumber); err != nil {
		return nil, errors.Wrap(err, "mark refunded")
	}

	o.Status = StatusRefunded
	if o.PaymentStatus == PaymentCompleted {
		o.PaymentStatus = PaymentRefunded
	}
	return o, nil
}

// Get returns one of the user's orders by order number.
func (s *Service) Get(ctx context.Context, userID, orderNumber string) (*Order, error) {
	return s.orders.GetByNumber(ctx, userID, orderNumber)
}

// List returns the user's orders, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// newOrderNumber generates a date-stamped order number with a random suffix,
// e.g. ORD-20250615-3F2A9C1B. Numbers are never reused; the unique index on
// orders.order_number backs that up.
func (s *Service) newOrderNumber() string {
	date := s.now().Format("20060102")
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return "ORD-" + date + "-" + suffix
}

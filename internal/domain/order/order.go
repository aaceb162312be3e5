package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the fulfillment state of an order. Orders advance forward only;
// the allowed transitions are encoded in the transitions table.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus tracks whether money has been captured for an order,
// independently of fulfillment progress.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

var (
	// ErrNotFound is returned when an order does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("order not found")
	// ErrNotCancellable is returned when an order's status no longer permits
	// cancellation.
	ErrNotCancellable = errors.New("order is not cancellable")
	// ErrAlreadyPaid is returned when payment has already been captured.
	ErrAlreadyPaid = errors.New("order is already paid")
	// ErrInvalidTransition is returned for a status change the state machine
	// does not allow.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrInsufficientStock is returned when a conditional stock decrement
	// affects no rows: another checkout consumed the stock between pricing
	// and commit.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCheckoutFailed is the opaque error surfaced when the checkout
	// transaction could not commit. Details are logged, never returned.
	ErrCheckoutFailed = errors.New("checkout failed")
	// ErrCancellationFailed is the opaque error surfaced when the
	// cancellation transaction could not commit.
	ErrCancellationFailed = errors.New("cancellation failed")
)

// transitions is the forward-only state machine. Refunds are administrative
// and allowed from any non-terminal state except cancelled.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusRefunded},
	StatusConfirmed:  {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
}

// CanTransitionTo reports whether the state machine allows moving from s
// to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ShippingInfo holds the delivery address captured at checkout.
type ShippingInfo struct {
	Name       string
	PostalCode string
	Address    string
	Phone      string
}

// Item is one line of an order. UnitPrice is snapshotted from the catalog at
// order time and never changes afterwards.
type Item struct {
	ItemID     int64
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

// Order is a persisted customer order. All monetary figures are frozen at
// creation time; editing the coupon later never changes TotalAmount.
type Order struct {
	ID              int64
	OrderNumber     string
	UserID          string
	Status          Status
	PaymentStatus   PaymentStatus
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxAmount       decimal.Decimal
	ShippingFee     decimal.Decimal
	TotalAmount     decimal.Decimal
	CouponID        *int64
	CouponCode      string
	Shipping        ShippingInfo
	PaymentMethodID int64
	Items           []Item
	CreatedAt       time.Time
}

// Cancellable reports whether the order may still be cancelled.
func (o *Order) Cancellable() bool {
	return o.Status == StatusPending || o.Status == StatusConfirmed
}

// Repository defines persistence operations for orders. CreateCheckout,
// Cancel, MarkPaid, and MarkRefunded each run as a single transaction:
// partial state is never visible.
type Repository interface {
	// CreateCheckout persists the order with its items, decrements item
	// stock with a quantity guard, and records coupon usage with a guarded
	// usage_count increment. Returns ErrInsufficientStock or a coupon
	// denial error when a guard fails under concurrency.
	CreateCheckout(ctx context.Context, o *Order) error
	GetByNumber(ctx context.Context, userID, orderNumber string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// Cancel sets the order cancelled and restores item stock. The status
	// guard runs inside the transaction; ErrNotCancellable when it fails.
	Cancel(ctx context.Context, userID, orderNumber string) error
	// MarkPaid records the payment row and flips payment_status to
	// completed and status to confirmed. ErrAlreadyPaid when the
	// payment-status guard fails.
	MarkPaid(ctx context.Context, o *Order, externalTransactionID string, processingFee decimal.Decimal) error
	// MarkRefunded sets the order status to refunded; the payment sub-status
	// follows only when a payment was captured (administrative).
	MarkRefunded(ctx context.Context, orderNumber string) error
}

package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrMethodNotFound is returned when a payment method does not exist or
	// is inactive.
	ErrMethodNotFound = errors.New("payment method not found")
	// ErrNotFound is returned when no payment has been recorded for an order.
	ErrNotFound = errors.New("payment not found")
)

// Status of a recorded payment. Mirrors the order's payment sub-status with
// the additional cancelled state for gateway-side aborts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Method is a way to pay: credit card, bank transfer, cash on delivery and
// so on. ProcessingFeeRate is a fraction (0.0360 = 3.6%) applied to the
// order total when a payment is recorded.
type Method struct {
	ID                int64
	Name              string
	PaymentType       string
	ProcessingFeeRate decimal.Decimal
	Description       string
	Active            bool
}

// Payment records one captured charge, one-to-one with its order. The
// gateway integration is external; only its opaque transaction id is kept.
type Payment struct {
	ID                    int64
	OrderID               int64
	PaymentMethodID       int64
	Amount                decimal.Decimal
	ProcessingFee         decimal.Decimal
	ExternalTransactionID string
	Status                Status
	ProcessedAt           *time.Time
	CreatedAt             time.Time
}

// MethodRepository provides read access to active payment methods.
type MethodRepository interface {
	List(ctx context.Context) ([]Method, error)
	GetByID(ctx context.Context, id int64) (*Method, error)
}

// Repository provides read access to recorded payments. Writes happen inside
// the order MarkPaid transaction.
type Repository interface {
	GetByOrderID(ctx context.Context, orderID int64) (*Payment, error)
	ListByUser(ctx context.Context, userID string) ([]Payment, error)
}

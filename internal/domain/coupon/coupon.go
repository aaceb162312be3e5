package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the order amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount applies a flat monetary discount capped at the order amount.
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// Denial reasons returned by Evaluate. Each names the specific rule the
// coupon failed, so callers can report it instead of a generic failure.
var (
	// ErrNotFound is returned when a coupon code does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned when a coupon has been deactivated.
	ErrInactive = errors.New("coupon inactive")
	// ErrExpired is returned when the current time is outside the coupon's
	// validity window.
	ErrExpired = errors.New("coupon expired")
	// ErrBelowMinimum is returned when the order amount does not reach the
	// coupon's minimum order amount.
	ErrBelowMinimum = errors.New("order amount below coupon minimum")
	// ErrUsageLimitReached is returned when the coupon has exhausted its
	// global usage limit.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrUserLimitReached is returned when the requesting user has already
	// used the coupon as many times as the per-user limit allows.
	ErrUserLimitReached = errors.New("coupon per-user usage limit reached")
)

// Coupon defines a discount code's behaviour and eligibility constraints.
// UsageLimit == 0 means unlimited global uses. MaximumDiscountAmount == nil
// means the discount is uncapped.
type Coupon struct {
	ID                    int64
	Code                  string
	Name                  string
	Description           string
	DiscountType          DiscountType
	DiscountValue         decimal.Decimal
	MinimumOrderAmount    decimal.Decimal
	MaximumDiscountAmount *decimal.Decimal
	UsageLimit            int
	UsageCount            int
	UserUsageLimit        int
	ValidFrom             time.Time
	ValidUntil            time.Time
	Active                bool
}

// Usage records one application of a coupon to an order. At most one usage
// row exists per (coupon, order) pair.
type Usage struct {
	CouponID       int64
	UserID         string
	OrderID        int64
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
}

// Repository provides read access to coupon rules and per-user usage history.
// Usage bookkeeping (the usage row insert and the guarded usage_count
// increment) happens inside the checkout transaction at the storage layer.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	CountUserUsages(ctx context.Context, couponID int64, userID string) (int, error)
	List(ctx context.Context) ([]Coupon, error)
}

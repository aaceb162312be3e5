package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate decides whether a coupon applies to an order amount and computes
// the discount. priorUserUses is the number of usage records the requesting
// user already has for this coupon. Evaluate never mutates the coupon;
// the usage increment happens only as part of a committed checkout.
//
// Checks run in a fixed order: active flag, validity window, minimum order
// amount, global usage limit, per-user usage limit. The raw discount is
// clamped to MaximumDiscountAmount (when set) and then to the order amount,
// so a coupon can never make an order negative.
func Evaluate(c *Coupon, orderAmount decimal.Decimal, priorUserUses int, now time.Time) (decimal.Decimal, error) {
	if !c.Active {
		return decimal.Zero, ErrInactive
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return decimal.Zero, ErrExpired
	}
	if orderAmount.LessThan(c.MinimumOrderAmount) {
		return decimal.Zero, ErrBelowMinimum
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return decimal.Zero, ErrUsageLimitReached
	}
	if c.UserUsageLimit > 0 && priorUserUses >= c.UserUsageLimit {
		return decimal.Zero, ErrUserLimitReached
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = orderAmount.Mul(c.DiscountValue).Div(hundred)
	case DiscountFixedAmount:
		discount = c.DiscountValue
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	if c.MaximumDiscountAmount != nil {
		discount = decimal.Min(discount, *c.MaximumDiscountAmount)
	}
	discount = decimal.Min(discount, orderAmount)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return discount.Round(2), nil
}

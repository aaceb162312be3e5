package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/oshare-style/market/internal/domain/catalog"
	"github.com/oshare-style/market/internal/domain/coupon"
)

// ErrEmptyOrder is returned when a pricing request contains no lines.
var ErrEmptyOrder = errors.New("order must contain at least one item")

// ItemNotFoundError indicates a requested item does not exist.
type ItemNotFoundError struct {
	ItemID int64
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %d not found", e.ItemID)
}

// ItemUnavailableError indicates an item exists but is not for sale.
type ItemUnavailableError struct {
	ItemID int64
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("item %d is not available", e.ItemID)
}

// InvalidQuantityError indicates a line request has a non-positive quantity.
type InvalidQuantityError struct {
	ItemID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for item %d", e.ItemID)
}

// InsufficientStockError indicates the requested quantity exceeds stock.
type InsufficientStockError struct {
	ItemID    int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d: requested %d, available %d",
		e.ItemID, e.Requested, e.Available)
}

// CouponRejectedError wraps the specific denial reason when a supplied coupon
// fails evaluation. A rejected coupon is never silently ignored.
type CouponRejectedError struct {
	Code   string
	Reason error
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

func (e *CouponRejectedError) Unwrap() error {
	return e.Reason
}

// LineRequest is one (item, quantity) pair of a pricing or checkout request.
type LineRequest struct {
	ItemID   int64
	Quantity int
}

// PricedLine is a line with the item's price snapshotted at pricing time.
type PricedLine struct {
	ItemID     int64
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

// PricedOrder holds every monetary figure for an order before persistence.
type PricedOrder struct {
	Lines          []PricedLine
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingFee    decimal.Decimal
	TotalAmount    decimal.Decimal
	Coupon         *coupon.Coupon
}

// Charges configures the tax and shipping applied to every order.
// Zero values mean no tax and free shipping.
type Charges struct {
	TaxRate          decimal.Decimal
	ShippingFee      decimal.Decimal
	FreeShippingOver decimal.Decimal
}

// Engine computes order pricing. It only reads from its repositories;
// Price has no side effects and is safe to call repeatedly, e.g. for a
// cart-summary preview.
type Engine struct {
	items   catalog.Repository
	coupons coupon.Repository
	charges Charges
	now     func() time.Time
}

// NewEngine creates a pricing Engine with the given catalog and coupon
// sources and checkout charges.
func NewEngine(items catalog.Repository, coupons coupon.Repository, charges Charges) *Engine {
	return &Engine{
		items:   items,
		coupons: coupons,
		charges: charges,
		now:     time.Now,
	}
}

// Price validates the line requests against the catalog, computes the
// subtotal from current item prices, evaluates the optional coupon, and
// returns the complete monetary breakdown.
func (e *Engine) Price(ctx context.Context, userID string, lines []LineRequest, couponCode string) (*PricedOrder, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}

	// Repeated lines for the same item collapse into one, so stock checks
	// and the persisted order items see the combined quantity.
	merged := make([]LineRequest, 0, len(lines))
	index := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, &InvalidQuantityError{ItemID: line.ItemID}
		}
		if i, ok := index[line.ItemID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ItemID] = len(merged)
		merged = append(merged, line)
	}
	lines = merged

	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ItemID
	}

	// Batch fetch all items in a single query.
	fetched, err := e.items.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get items")
	}

	itemMap := make(map[int64]catalog.Item, len(fetched))
	for _, it := range fetched {
		itemMap[it.ID] = it
	}

	priced := make([]PricedLine, len(lines))
	subtotal := decimal.Zero
	for i, line := range lines {
		it, ok := itemMap[line.ItemID]
		if !ok {
			return nil, &ItemNotFoundError{ItemID: line.ItemID}
		}
		if !it.Available {
			return nil, &ItemUnavailableError{ItemID: line.ItemID}
		}
		if line.Quantity > it.StockQuantity {
			return nil, &InsufficientStockError{
				ItemID:    line.ItemID,
				Requested: line.Quantity,
				Available: it.StockQuantity,
			}
		}

		lineTotal := it.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		priced[i] = PricedLine{
			ItemID:     it.ID,
			Name:       it.Name,
			Quantity:   line.Quantity,
			UnitPrice:  it.Price,
			TotalPrice: lineTotal,
		}
		subtotal = subtotal.Add(lineTotal)
	}

	// Evaluate the coupon against the subtotal when a code is provided.
	discount := decimal.Zero
	var applied *coupon.Coupon
	if couponCode != "" {
		c, err := e.coupons.FindByCode(ctx, couponCode)
		if err != nil {
			if errors.Is(err, coupon.ErrNotFound) {
				return nil, &CouponRejectedError{Code: couponCode, Reason: coupon.ErrNotFound}
			}
			return nil, errors.Wrap(err, "find coupon")
		}

		priorUses, err := e.coupons.CountUserUsages(ctx, c.ID, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count coupon usages")
		}

		discount, err = coupon.Evaluate(c, subtotal, priorUses, e.now())
		if err != nil {
			return nil, &CouponRejectedError{Code: couponCode, Reason: err}
		}
		applied = c
	}

	tax := subtotal.Sub(discount).Mul(e.charges.TaxRate).Round(2)
	shipping := e.shippingFor(subtotal)

	total := subtotal.Sub(discount).Add(tax).Add(shipping)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return &PricedOrder{
		Lines:          priced,
		Subtotal:       subtotal.Round(2),
		DiscountAmount: discount.Round(2),
		TaxAmount:      tax,
		ShippingFee:    shipping,
		TotalAmount:    total.Round(2),
		Coupon:         applied,
	}, nil
}

// shippingFor returns the flat shipping fee, waived for subtotals at or over
// the free-shipping threshold (when one is configured).
func (e *Engine) shippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if e.charges.FreeShippingOver.IsPositive() && subtotal.GreaterThanOrEqual(e.charges.FreeShippingOver) {
		return decimal.Zero
	}
	return e.charges.ShippingFee
}

package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oshare-style/market/internal/domain/coupon"
	"github.com/oshare-style/market/internal/domain/order"
	"github.com/oshare-style/market/internal/domain/pricing"
)

const (
	insertOrderSQL = `INSERT INTO orders (order_number, user_id, status, payment_status,
		subtotal, discount_amount, tax_amount, shipping_fee, total_amount,
		coupon_id, coupon_code, shipping_name, shipping_postal, shipping_address,
		shipping_phone, payment_method_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, item_id, item_name, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6)`

	// The stock guard: zero rows means another checkout consumed the stock
	// after pricing read it.
	decrementStockSQL = `UPDATE items SET stock_quantity = stock_quantity - $2
		WHERE id = $1 AND stock_quantity >= $2`

	// Quantities are summed per item before the join: UPDATE ... FROM applies
	// only one source row per target, so an item spread across several order
	// lines would otherwise be restored partially.
	restoreStockSQL = `UPDATE items SET stock_quantity = items.stock_quantity + oi.quantity
		FROM (SELECT item_id, SUM(quantity) AS quantity
			FROM order_items WHERE order_id = $1 GROUP BY item_id) oi
		WHERE items.id = oi.item_id`

	// The usage guard: zero rows means the global redemption limit was hit
	// concurrently.
	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	insertCouponUsageSQL = `INSERT INTO coupon_usages (coupon_id, user_id, order_id, discount_amount)
		VALUES ($1, $2, $3, $4)`

	getOrderByNumberSQL = `SELECT id, order_number, user_id, status, payment_status,
		subtotal, discount_amount, tax_amount, shipping_fee, total_amount,
		coupon_id, coupon_code, shipping_name, shipping_postal, shipping_address,
		shipping_phone, payment_method_id, created_at
		FROM orders WHERE order_number = $1 AND user_id = $2`

	listOrdersByUserSQL = `SELECT id, order_number, user_id, status, payment_status,
		subtotal, discount_amount, tax_amount, shipping_fee, total_amount,
		coupon_id, coupon_code, shipping_name, shipping_postal, shipping_address,
		shipping_phone, payment_method_id, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	listOrderItemsSQL = `SELECT order_id, item_id, item_name, quantity, unit_price, total_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`

	cancelOrderSQL = `UPDATE orders SET status = 'cancelled'
		WHERE order_number = $1 AND user_id = $2 AND status IN ('pending', 'confirmed')
		RETURNING id`

	markPaidSQL = `UPDATE orders SET payment_status = 'completed', status = 'confirmed'
		WHERE id = $1 AND status = 'pending' AND payment_status = 'pending'`

	insertPaymentSQL = `INSERT INTO payments (order_id, payment_method_id, amount,
		processing_fee, external_transaction_id, status, processed_at)
		VALUES ($1, $2, $3, $4, $5, 'completed', now())`

	// Only a captured payment can move to refunded; unpaid orders keep their
	// payment sub-status.
	markRefundedSQL = `UPDATE orders SET status = 'refunded',
		payment_status = CASE WHEN payment_status = 'completed' THEN 'refunded' ELSE payment_status END
		WHERE order_number = $1 AND status NOT IN ('cancelled', 'refunded')
		RETURNING id`

	refundPaymentSQL = `UPDATE payments SET status = 'refunded'
		WHERE order_id = $1 AND status = 'completed'`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Every
// multi-statement operation runs in one transaction so partial checkout or
// cancellation state is never visible.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateCheckout persists the order, its items, the stock decrements, and the
// coupon usage in a single transaction. A failed stock guard rolls everything
// back with order.ErrInsufficientStock; a failed coupon usage guard rolls
// back with a coupon denial wrapped in pricing.CouponRejectedError.
func (r *OrderRepository) CreateCheckout(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning checkout: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, insertOrderSQL,
		o.OrderNumber, o.UserID, string(o.Status), string(o.PaymentStatus),
		o.Subtotal, o.DiscountAmount, o.TaxAmount, o.ShippingFee, o.TotalAmount,
		o.CouponID, o.CouponCode, o.Shipping.Name, o.Shipping.PostalCode,
		o.Shipping.Address, o.Shipping.Phone, o.PaymentMethodID,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.OrderNumber, err)
	}

	for _, item := range o.Items {
		_, err = tx.Exec(ctx, insertOrderItemSQL,
			o.ID, item.ItemID, item.Name, item.Quantity, item.UnitPrice, item.TotalPrice,
		)
		if err != nil {
			return fmt.Errorf("inserting order item %d: %w", item.ItemID, err)
		}

		tag, err := tx.Exec(ctx, decrementStockSQL, item.ItemID, item.Quantity)
		if err != nil {
			return fmt.Errorf("decrementing stock for item %d: %w", item.ItemID, err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrInsufficientStock
		}
	}

	if o.CouponID != nil {
		tag, err := tx.Exec(ctx, incrementCouponUsageSQL, *o.CouponID)
		if err != nil {
			return fmt.Errorf("incrementing usage for coupon %d: %w", *o.CouponID, err)
		}
		if tag.RowsAffected() == 0 {
			return &pricing.CouponRejectedError{Code: o.CouponCode, Reason: coupon.ErrUsageLimitReached}
		}
		_, err = tx.Exec(ctx, insertCouponUsageSQL, *o.CouponID, o.UserID, o.ID, o.DiscountAmount)
		if err != nil {
			return fmt.Errorf("recording usage for coupon %d: %w", *o.CouponID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing checkout %q: %w", o.OrderNumber, err)
	}
	return nil
}

// GetByNumber returns the user's order with its items. order.ErrNotFound
// covers both missing orders and orders owned by someone else.
func (r *OrderRepository) GetByNumber(ctx context.Context, userID, orderNumber string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByNumberSQL, orderNumber, userID)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", orderNumber, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", orderNumber, err)
	}

	if err := r.loadItems(ctx, []*order.Order{&o}); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByUser returns the user's orders with their items, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}

	refs := make([]*order.Order, len(orders))
	for i := range orders {
		refs[i] = &orders[i]
	}
	if err := r.loadItems(ctx, refs); err != nil {
		return nil, err
	}
	return orders, nil
}

// Cancel flips the order to cancelled and restores each line's quantity to
// item stock, in one transaction. The status guard runs in SQL so concurrent
// cancels cannot restore stock twice.
func (r *OrderRepository) Cancel(ctx context.Context, userID, orderNumber string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning cancellation: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID int64
	err = tx.QueryRow(ctx, cancelOrderSQL, orderNumber, userID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotCancellable
		}
		return fmt.Errorf("cancelling order %q: %w", orderNumber, err)
	}

	if _, err := tx.Exec(ctx, restoreStockSQL, orderID); err != nil {
		return fmt.Errorf("restoring stock for order %q: %w", orderNumber, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing cancellation %q: %w", orderNumber, err)
	}
	return nil
}

// MarkPaid records the payment row and confirms the order in one transaction.
// The payment-status guard runs in SQL; order.ErrAlreadyPaid when it fails.
func (r *OrderRepository) MarkPaid(ctx context.Context, o *order.Order, externalTransactionID string, processingFee decimal.Decimal) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning payment: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, markPaidSQL, o.ID)
	if err != nil {
		return fmt.Errorf("marking order %q paid: %w", o.OrderNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrAlreadyPaid
	}

	_, err = tx.Exec(ctx, insertPaymentSQL,
		o.ID, o.PaymentMethodID, o.TotalAmount, processingFee, externalTransactionID,
	)
	if err != nil {
		return fmt.Errorf("recording payment for order %q: %w", o.OrderNumber, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing payment %q: %w", o.OrderNumber, err)
	}
	return nil
}

// MarkRefunded sets both statuses to refunded and flips the payment row, if
// any, in one transaction.
func (r *OrderRepository) MarkRefunded(ctx context.Context, orderNumber string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning refund: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID int64
	err = tx.QueryRow(ctx, markRefundedSQL, orderNumber).Scan(&orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrInvalidTransition
		}
		return fmt.Errorf("refunding order %q: %w", orderNumber, err)
	}

	if _, err := tx.Exec(ctx, refundPaymentSQL, orderID); err != nil {
		return fmt.Errorf("refunding payment for order %q: %w", orderNumber, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing refund %q: %w", orderNumber, err)
	}
	return nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*order.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("loading order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID  int64
			item     order.Item
			quantity int32
		)
		err := rows.Scan(&orderID, &item.ItemID, &item.Name, &quantity, &item.UnitPrice, &item.TotalPrice)
		if err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		item.Quantity = int(quantity)
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &status, &paymentStatus,
		&o.Subtotal, &o.DiscountAmount, &o.TaxAmount, &o.ShippingFee, &o.TotalAmount,
		&o.CouponID, &o.CouponCode, &o.Shipping.Name, &o.Shipping.PostalCode,
		&o.Shipping.Address, &o.Shipping.Phone, &o.PaymentMethodID, &o.CreatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, err
}

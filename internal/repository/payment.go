package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oshare-style/market/internal/domain/payment"
)

const (
	listMethodsSQL = `SELECT id, name, payment_type, processing_fee_rate, description, active
		FROM payment_methods WHERE active = TRUE ORDER BY id`

	getMethodByIDSQL = `SELECT id, name, payment_type, processing_fee_rate, description, active
		FROM payment_methods WHERE id = $1 AND active = TRUE`

	getPaymentByOrderSQL = `SELECT id, order_id, payment_method_id, amount, processing_fee,
		external_transaction_id, status, processed_at, created_at
		FROM payments WHERE order_id = $1`

	listPaymentsByUserSQL = `SELECT p.id, p.order_id, p.payment_method_id, p.amount, p.processing_fee,
		p.external_transaction_id, p.status, p.processed_at, p.created_at
		FROM payments p JOIN orders o ON o.id = p.order_id
		WHERE o.user_id = $1 ORDER BY p.created_at DESC`
)

var (
	_ payment.MethodRepository = (*PaymentMethodRepository)(nil)
	_ payment.Repository       = (*PaymentRepository)(nil)
)

// PaymentMethodRepository implements payment.MethodRepository backed by
// PostgreSQL. Inactive methods are invisible.
type PaymentMethodRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentMethodRepository returns a PaymentMethodRepository that uses the
// given pool.
func NewPaymentMethodRepository(pool *pgxpool.Pool) *PaymentMethodRepository {
	return &PaymentMethodRepository{pool: pool}
}

// List returns all active payment methods ordered by ID.
func (r *PaymentMethodRepository) List(ctx context.Context) ([]payment.Method, error) {
	rows, err := r.pool.Query(ctx, listMethodsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing payment methods: %w", err)
	}
	return pgx.CollectRows(rows, scanMethod)
}

// GetByID returns a single active payment method.
func (r *PaymentMethodRepository) GetByID(ctx context.Context, id int64) (*payment.Method, error) {
	rows, err := r.pool.Query(ctx, getMethodByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting payment method %d: %w", id, err)
	}

	m, err := pgx.CollectExactlyOneRow(rows, scanMethod)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrMethodNotFound
		}
		return nil, fmt.Errorf("getting payment method %d: %w", id, err)
	}
	return &m, nil
}

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// GetByOrderID returns the payment recorded for an order, if any.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID int64) (*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, getPaymentByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting payment for order %d: %w", orderID, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment for order %d: %w", orderID, err)
	}
	return &p, nil
}

// ListByUser returns the user's payments, newest first.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID string) ([]payment.Payment, error) {
	rows, err := r.pool.Query(ctx, listPaymentsByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing payments for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanPayment)
}

func scanMethod(row pgx.CollectableRow) (payment.Method, error) {
	var m payment.Method
	err := row.Scan(&m.ID, &m.Name, &m.PaymentType, &m.ProcessingFeeRate, &m.Description, &m.Active)
	return m, err
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.PaymentMethodID, &p.Amount, &p.ProcessingFee,
		&p.ExternalTransactionID, &status, &p.ProcessedAt, &p.CreatedAt,
	)
	p.Status = payment.Status(status)
	return p, err
}

package order

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oshare-style/market/internal/domain/coupon"
	"github.com/oshare-style/market/internal/domain/payment"
	"github.com/oshare-style/market/internal/domain/pricing"
)

// --- Mock implementations ---

type mockPricer struct {
	priced *pricing.PricedOrder
	err    error
}

func (m *mockPricer) Price(_ context.Context, _ string, _ []pricing.LineRequest, _ string) (*pricing.PricedOrder, error) {
	return m.priced, m.err
}

type mockOrderRepo struct {
	created     *Order
	createErr   error
	byNumber    *Order
	getErr      error
	cancelErr   error
	cancelCalls int
	paidFee     decimal.Decimal
	paidTxnID   string
	paidErr     error
	refunded    bool
}

func (m *mockOrderRepo) CreateCheckout(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = o
	return nil
}

func (m *mockOrderRepo) GetByNumber(_ context.Context, _, _ string) (*Order, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.byNumber, nil
}

func (m *mockOrderRepo) ListByUser(_ context.Context, _ string) ([]Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) Cancel(_ context.Context, _, _ string) error {
	m.cancelCalls++
	return m.cancelErr
}

func (m *mockOrderRepo) MarkPaid(_ context.Context, _ *Order, txnID string, fee decimal.Decimal) error {
	if m.paidErr != nil {
		return m.paidErr
	}
	m.paidTxnID = txnID
	m.paidFee = fee
	return nil
}

func (m *mockOrderRepo) MarkRefunded(_ context.Context, _ string) error {
	m.refunded = true
	return nil
}

type mockMethodRepo struct {
	method *payment.Method
	err    error
}

func (m *mockMethodRepo) List(_ context.Context) ([]payment.Method, error) {
	return nil, nil
}

func (m *mockMethodRepo) GetByID(_ context.Context, _ int64) (*payment.Method, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.method, nil
}

// --- Helpers ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func pricedOrder() *pricing.PricedOrder {
	return &pricing.PricedOrder{
		Lines: []pricing.PricedLine{
			{ItemID: 1, Name: "Denim Jacket", Quantity: 2, UnitPrice: d("4500"), TotalPrice: d("9000")},
			{ItemID: 2, Name: "Wool Scarf", Quantity: 1, UnitPrice: d("3000"), TotalPrice: d("3000")},
		},
		Subtotal:       d("12000"),
		DiscountAmount: d("1000"),
		TaxAmount:      d("0"),
		ShippingFee:    d("0"),
		TotalAmount:    d("11000"),
		Coupon:         &coupon.Coupon{ID: 7, Code: "WELCOME10"},
	}
}

func cardMethod() *payment.Method {
	return &payment.Method{
		ID:                1,
		Name:              "Credit Card",
		PaymentType:       "credit_card",
		ProcessingFeeRate: d("0.036"),
		Active:            true,
	}
}

func checkoutReq() CheckoutRequest {
	return CheckoutRequest{
		Lines: []pricing.LineRequest{
			{ItemID: 1, Quantity: 2},
			{ItemID: 2, Quantity: 1},
		},
		CouponCode:      "WELCOME10",
		Shipping:        ShippingInfo{Name: "Hanako", PostalCode: "150-0001", Address: "Tokyo", Phone: "090"},
		PaymentMethodID: 1,
	}
}

// --- Checkout ---

func TestCheckout_FreezesPricing(t *testing.T) {
	repo := &mockOrderRepo{}
	svc := NewService(&mockPricer{priced: pricedOrder()}, repo, &mockMethodRepo{method: cardMethod()})

	o, err := svc.Checkout(context.Background(), "u1", checkoutReq())

	require.NoError(t, err)
	assert.True(t, d("12000").Equal(o.Subtotal))
	assert.True(t, d("1000").Equal(o.DiscountAmount))
	assert.True(t, d("11000").Equal(o.TotalAmount))
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	require.NotNil(t, o.CouponID)
	assert.Equal(t, int64(7), *o.CouponID)
	require.Len(t, o.Items, 2)
	assert.True(t, d("4500").Equal(o.Items[0].UnitPrice))
	assert.Same(t, o, repo.created)
}

func TestCheckout_TotalIdentity(t *testing.T) {
	svc := NewService(&mockPricer{priced: pricedOrder()}, &mockOrderRepo{}, &mockMethodRepo{method: cardMethod()})

	o, err := svc.Checkout(context.Background(), "u1", checkoutReq())

	require.NoError(t, err)
	want := o.Subtotal.Sub(o.DiscountAmount).Add(o.TaxAmount).Add(o.ShippingFee)
	assert.True(t, want.Equal(o.TotalAmount))
}

func TestCheckout_RequiresUser(t *testing.T) {
	svc := NewService(&mockPricer{priced: pricedOrder()}, &mockOrderRepo{}, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Checkout(context.Background(), "", checkoutReq())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authenticated user required")
}

func TestCheckout_PricingErrorPropagates(t *testing.T) {
	svc := NewService(&mockPricer{err: pricing.ErrEmptyOrder}, &mockOrderRepo{}, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Checkout(context.Background(), "u1", checkoutReq())
	require.ErrorIs(t, err, pricing.ErrEmptyOrder)
}

func TestCheckout_UnknownPaymentMethod(t *testing.T) {
	svc := NewService(&mockPricer{priced: pricedOrder()}, &mockOrderRepo{}, &mockMethodRepo{err: payment.ErrMethodNotFound})

	_, err := svc.Checkout(context.Background(), "u1", checkoutReq())
	require.ErrorIs(t, err, payment.ErrMethodNotFound)
}

func TestCheckout_StockGuardSurfacesInsufficientStock(t *testing.T) {
	repo := &mockOrderRepo{createErr: ErrInsufficientStock}
	svc := NewService(&mockPricer{priced: pricedOrder()}, repo, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Checkout(context.Background(), "u1", checkoutReq())
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestCheckout_CouponGuardSurfacesRejection(t *testing.T) {
	repo := &mockOrderRepo{createErr: &pricing.CouponRejectedError{
		Code:   "WELCOME10",
		Reason: coupon.ErrUsageLimitReached,
	}}
	svc := NewService(&mockPricer{priced: pricedOrder()}, repo, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Checkout(context.Background(), "u1", checkoutReq())
	require.ErrorIs(t, err, coupon.ErrUsageLimitReached)
}

func TestCheckout_TxFailureIsOpaque(t *testing.T) {
	repo := &mockOrderRepo{createErr: errors.New("pq: deadlock detected")}
	svc := NewService(&mockPricer{priced: pricedOrder()}, repo, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Checkout(context.Background(), "u1", checkoutReq())
	require.ErrorIs(t, err, ErrCheckoutFailed)
	assert.NotContains(t, err.Error(), "deadlock")
}

func TestOrderNumberFormat(t *testing.T) {
	svc := NewService(&mockPricer{priced: pricedOrder()}, &mockOrderRepo{}, &mockMethodRepo{method: cardMethod()})
	svc.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }

	o, err := svc.Checkout(context.Background(), "u1", checkoutReq())

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(o.OrderNumber, "ORD-20250615-"), "got %s", o.OrderNumber)
	assert.Len(t, o.OrderNumber, len("ORD-20250615-")+8)
	assert.Equal(t, strings.ToUpper(o.OrderNumber), o.OrderNumber)
}

func TestOrderNumbersAreUnique(t *testing.T) {
	svc := NewService(&mockPricer{priced: pricedOrder()}, &mockOrderRepo{}, &mockMethodRepo{method: cardMethod()})

	seen := make(map[string]bool)
	for range 100 {
		n := svc.newOrderNumber()
		assert.False(t, seen[n], "duplicate order number %s", n)
		seen[n] = true
	}
}

// --- Cancel ---

func pendingOrder() *Order {
	return &Order{
		ID:            10,
		OrderNumber:   "ORD-20250615-AAAA1111",
		UserID:        "u1",
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		TotalAmount:   d("11000"),
		Items: []Item{
			{ItemID: 1, Quantity: 3, UnitPrice: d("2000"), TotalPrice: d("6000")},
			{ItemID: 2, Quantity: 1, UnitPrice: d("5000"), TotalPrice: d("5000")},
		},
		PaymentMethodID: 1,
	}
}

func TestCancel_PendingOrder(t *testing.T) {
	repo := &mockOrderRepo{byNumber: pendingOrder()}
	svc := NewService(&mockPricer{}, repo, &mockMethodRepo{method: cardMethod()})

	o, err := svc.Cancel(context.Background(), "u1", "ORD-20250615-AAAA1111")

	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, 1, repo.cancelCalls)
}

func TestCancel_ShippedOrderNotCancellable(t *testing.T) {
	shipped := pendingOrder()
	shipped.Status = StatusShipped
	repo := &mockOrderRepo{byNumber: shipped}
	svc := NewService(&mockPricer{}, repo, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Cancel(context.Background(), "u1", shipped.OrderNumber)

	require.ErrorIs(t, err, ErrNotCancellable)
	assert.Equal(t, 0, repo.cancelCalls, "stock restore must not run")
}

func TestCancel_SecondCancelFails(t *testing.T) {
	cancelled := pendingOrder()
	cancelled.Status = StatusCancelled
	repo := &mockOrderRepo{byNumber: cancelled}
	svc := NewService(&mockPricer{}, repo, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Cancel(context.Background(), "u1", cancelled.OrderNumber)

	require.ErrorIs(t, err, ErrNotCancellable)
	assert.Equal(t, 0, repo.cancelCalls, "stock must be restored exactly once")
}

func TestCancel_TxFailureIsOpaque(t *testing.T) {
	repo := &mockOrderRepo{byNumber: pendingOrder(), cancelErr: errors.New("io timeout")}
	svc := NewService(&mockPricer{}, repo, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Cancel(context.Background(), "u1", "ORD-20250615-AAAA1111")
	require.ErrorIs(t, err, ErrCancellationFailed)
}

// --- Pay ---

func TestPay_RecordsPaymentWithFee(t *testing.T) {
	repo := &mockOrderRepo{byNumber: pendingOrder()}
	svc := NewService(&mockPricer{}, repo, &mockMethodRepo{method: cardMethod()})

	o, err := svc.Pay(context.Background(), "u1", "ORD-20250615-AAAA1111", "txn_abc123")

	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, "txn_abc123", repo.paidTxnID)
	// 11000 * 0.036 = 396
	assert.True(t, d("396").Equal(repo.paidFee), "got fee %s", repo.paidFee)
}

func TestPay_RequiresTransactionID(t *testing.T) {
	svc := NewService(&mockPricer{}, &mockOrderRepo{byNumber: pendingOrder()}, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Pay(context.Background(), "u1", "ORD-20250615-AAAA1111", "")
	require.Error(t, err)
}

func TestPay_AlreadyPaid(t *testing.T) {
	paid := pendingOrder()
	paid.Status = StatusConfirmed
	paid.PaymentStatus = PaymentCompleted
	svc := NewService(&mockPricer{}, &mockOrderRepo{byNumber: paid}, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Pay(context.Background(), "u1", paid.OrderNumber, "txn_x")
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestPay_GuardRace(t *testing.T) {
	repo := &mockOrderRepo{byNumber: pendingOrder(), paidErr: ErrAlreadyPaid}
	svc := NewService(&mockPricer{}, repo, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Pay(context.Background(), "u1", "ORD-20250615-AAAA1111", "txn_x")
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

// --- Refund ---

func TestRefund_FromDelivered(t *testing.T) {
	delivered := pendingOrder()
	delivered.Status = StatusDelivered
	delivered.PaymentStatus = PaymentCompleted
	repo := &mockOrderRepo{byNumber: delivered}
	svc := NewService(&mockPricer{}, repo, &mockMethodRepo{method: cardMethod()})

	o, err := svc.Refund(context.Background(), "u1", delivered.OrderNumber)

	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, o.Status)
	assert.Equal(t, PaymentRefunded, o.PaymentStatus)
	assert.True(t, repo.refunded)
}

func TestRefund_UnpaidOrderKeepsPaymentStatus(t *testing.T) {
	unpaid := pendingOrder()
	repo := &mockOrderRepo{byNumber: unpaid}
	svc := NewService(&mockPricer{}, repo, &mockMethodRepo{method: cardMethod()})

	o, err := svc.Refund(context.Background(), "u1", unpaid.OrderNumber)

	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus, "no payment was captured")
	assert.True(t, repo.refunded)
}

func TestRefund_CancelledOrderRejected(t *testing.T) {
	cancelled := pendingOrder()
	cancelled.Status = StatusCancelled
	svc := NewService(&mockPricer{}, &mockOrderRepo{byNumber: cancelled}, &mockMethodRepo{method: cardMethod()})

	_, err := svc.Refund(context.Background(), "u1", cancelled.OrderNumber)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

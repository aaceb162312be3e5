package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oshare-style/market/internal/auth"
	"github.com/oshare-style/market/internal/domain/cart"
	"github.com/oshare-style/market/internal/domain/catalog"
	"github.com/oshare-style/market/internal/domain/coupon"
	"github.com/oshare-style/market/internal/domain/order"
	"github.com/oshare-style/market/internal/domain/payment"
	"github.com/oshare-style/market/internal/domain/pricing"
)

// --- In-memory repositories ---

type memItemRepo struct {
	items map[int64]catalog.Item
}

func (m *memItemRepo) List(_ context.Context) ([]catalog.Item, error) {
	var out []catalog.Item
	for _, it := range m.items {
		out = append(out, it)
	}
	return out, nil
}

func (m *memItemRepo) GetByID(_ context.Context, id int64) (*catalog.Item, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &it, nil
}

func (m *memItemRepo) GetByIDs(_ context.Context, ids []int64) ([]catalog.Item, error) {
	var out []catalog.Item
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

type memCouponRepo struct {
	coupons map[string]*coupon.Coupon
}

func (m *memCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := m.coupons[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (m *memCouponRepo) CountUserUsages(_ context.Context, _ int64, _ string) (int, error) {
	return 0, nil
}

func (m *memCouponRepo) List(_ context.Context) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	for _, c := range m.coupons {
		out = append(out, *c)
	}
	return out, nil
}

type memMethodRepo struct {
	methods map[int64]payment.Method
}

func (m *memMethodRepo) List(_ context.Context) ([]payment.Method, error) {
	var out []payment.Method
	for _, mt := range m.methods {
		out = append(out, mt)
	}
	return out, nil
}

func (m *memMethodRepo) GetByID(_ context.Context, id int64) (*payment.Method, error) {
	mt, ok := m.methods[id]
	if !ok {
		return nil, payment.ErrMethodNotFound
	}
	return &mt, nil
}

type memPaymentRepo struct {
	byOrder map[int64]payment.Payment
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{byOrder: make(map[int64]payment.Payment)}
}

func (m *memPaymentRepo) GetByOrderID(_ context.Context, orderID int64) (*payment.Payment, error) {
	p, ok := m.byOrder[orderID]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return &p, nil
}

func (m *memPaymentRepo) ListByUser(_ context.Context, _ string) ([]payment.Payment, error) {
	return nil, nil
}

type memCartRepo struct {
	entries  map[string]map[int64]cart.Entry
	clearErr error
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{entries: make(map[string]map[int64]cart.Entry)}
}

func (m *memCartRepo) List(_ context.Context, userID string) ([]cart.Entry, error) {
	var out []cart.Entry
	for _, e := range m.entries[userID] {
		out = append(out, e)
	}
	return out, nil
}

func (m *memCartRepo) Add(_ context.Context, userID string, itemID int64, quantity int) error {
	if m.entries[userID] == nil {
		m.entries[userID] = make(map[int64]cart.Entry)
	}
	e := m.entries[userID][itemID]
	e.UserID, e.ItemID = userID, itemID
	e.Quantity += quantity
	m.entries[userID][itemID] = e
	return nil
}

func (m *memCartRepo) SetQuantity(_ context.Context, userID string, itemID int64, quantity int) error {
	e, ok := m.entries[userID][itemID]
	if !ok {
		return cart.ErrNotFound
	}
	e.Quantity = quantity
	m.entries[userID][itemID] = e
	return nil
}

func (m *memCartRepo) Remove(_ context.Context, userID string, itemID int64) error {
	delete(m.entries[userID], itemID)
	return nil
}

func (m *memCartRepo) Clear(_ context.Context, userID string) error {
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.entries, userID)
	return nil
}

type memOrderRepo struct {
	orders   map[string]*order.Order
	payments *memPaymentRepo
	nextID   int64
}

func newMemOrderRepo(payments *memPaymentRepo) *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*order.Order), payments: payments}
}

func (m *memOrderRepo) CreateCheckout(_ context.Context, o *order.Order) error {
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	cp := *o
	m.orders[o.OrderNumber] = &cp
	return nil
}

func (m *memOrderRepo) GetByNumber(_ context.Context, userID, orderNumber string) (*order.Order, error) {
	o, ok := m.orders[orderNumber]
	if !ok || o.UserID != userID {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) Cancel(_ context.Context, userID, orderNumber string) error {
	o, ok := m.orders[orderNumber]
	if !ok || o.UserID != userID {
		return order.ErrNotFound
	}
	if !o.Cancellable() {
		return order.ErrNotCancellable
	}
	o.Status = order.StatusCancelled
	return nil
}

func (m *memOrderRepo) MarkPaid(_ context.Context, o *order.Order, txnID string, fee decimal.Decimal) error {
	stored, ok := m.orders[o.OrderNumber]
	if !ok {
		return order.ErrNotFound
	}
	if stored.Status != order.StatusPending || stored.PaymentStatus != order.PaymentPending {
		return order.ErrAlreadyPaid
	}
	stored.Status = order.StatusConfirmed
	stored.PaymentStatus = order.PaymentCompleted
	if m.payments != nil {
		m.payments.byOrder[stored.ID] = payment.Payment{
			ID:                    stored.ID,
			OrderID:               stored.ID,
			PaymentMethodID:       stored.PaymentMethodID,
			Amount:                stored.TotalAmount,
			ProcessingFee:         fee,
			ExternalTransactionID: txnID,
			Status:                payment.StatusCompleted,
		}
	}
	return nil
}

func (m *memOrderRepo) MarkRefunded(_ context.Context, orderNumber string) error {
	o, ok := m.orders[orderNumber]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = order.StatusRefunded
	if o.PaymentStatus == order.PaymentCompleted {
		o.PaymentStatus = order.PaymentRefunded
	}
	return nil
}

// --- Test server setup ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type testServer struct {
	srv      *httptest.Server
	tokens   *auth.Tokens
	cartRepo *memCartRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	now := time.Now()
	items := &memItemRepo{items: map[int64]catalog.Item{
		1: {ID: 1, Name: "Denim Jacket", Brand: "Oshare", Category: "outer", Price: d("8500"), StockQuantity: 10, Available: true},
		2: {ID: 2, Name: "Wool Scarf", Brand: "Oshare", Category: "accessory", Price: d("3000"), StockQuantity: 5, Available: true},
	}}
	coupons := &memCouponRepo{coupons: map[string]*coupon.Coupon{
		"WELCOME10": {
			ID: 1, Code: "WELCOME10",
			DiscountType: coupon.DiscountPercentage, DiscountValue: d("10"),
			MinimumOrderAmount: d("3000"), UserUsageLimit: 1,
			ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour),
			Active: true,
		},
	}}
	methods := &memMethodRepo{methods: map[int64]payment.Method{
		1: {ID: 1, Name: "Credit Card", PaymentType: "credit_card", ProcessingFeeRate: d("0.036"), Active: true},
	}}

	engine := pricing.NewEngine(items, coupons, pricing.Charges{
		TaxRate:          d("0.10"),
		ShippingFee:      d("500"),
		FreeShippingOver: d("10000"),
	})
	cartRepo := newMemCartRepo()
	payments := newMemPaymentRepo()
	carts := cart.NewService(cartRepo, items, engine)
	orders := order.NewService(engine, newMemOrderRepo(payments), methods)

	tokens, err := auth.NewTokens([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	h := NewHandler(items, coupons, methods, payments, carts, orders, engine, tokens)
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, tokens: tokens, cartRepo: cartRepo}
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func userToken(t *testing.T, ts *testServer) string {
	t.Helper()
	token, err := ts.tokens.Issue("u1", false)
	require.NoError(t, err)
	return token
}

// --- Tests ---

func TestListItems(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/api/items", "", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := decode[[]itemResponse](t, resp)
	assert.Len(t, items, 2)
}

func TestGetItem_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/api/items/99", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrdersRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.request(t, http.MethodGet, "/api/orders", "bogus-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminCouponsForbiddenForUser(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/api/coupons", userToken(t, ts), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminCouponsList(t *testing.T) {
	ts := newTestServer(t)
	token, err := ts.tokens.Issue("admin-1", true)
	require.NoError(t, err)

	resp := ts.request(t, http.MethodGet, "/api/coupons", token, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	coupons := decode[[]couponResponse](t, resp)
	require.Len(t, coupons, 1)
	assert.Equal(t, "WELCOME10", coupons[0].Code)
}

func TestValidateCoupon(t *testing.T) {
	ts := newTestServer(t)
	token := userToken(t, ts)

	resp := ts.request(t, http.MethodPost, "/api/coupons/validate", token, map[string]any{
		"code":         "WELCOME10",
		"order_amount": "8500",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[validateCouponResponse](t, resp)
	assert.True(t, v.Valid)
	assert.True(t, d("850").Equal(v.DiscountAmount))
	require.NotNil(t, v.FinalAmount)
	assert.True(t, d("7650").Equal(*v.FinalAmount))
}

func TestValidateCoupon_BelowMinimumIsNotAnError(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/api/coupons/validate", userToken(t, ts), map[string]any{
		"code":         "WELCOME10",
		"order_amount": "1000",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[validateCouponResponse](t, resp)
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.Reason)
}

func TestPlaceOrder(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/api/orders", userToken(t, ts), placeOrderRequest{
		Items:           []orderLineRequest{{ItemID: 1, Quantity: 1}},
		CouponCode:      "WELCOME10",
		Shipping:        shippingRequest{Name: "Hanako", PostalCode: "150-0001", Address: "Tokyo", Phone: "090"},
		PaymentMethodID: 1,
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	o := decode[orderResponse](t, resp)
	assert.Equal(t, "pending", o.Status)
	assert.True(t, d("8500").Equal(o.Subtotal))
	assert.True(t, d("850").Equal(o.DiscountAmount))
	// tax on 7650 plus 500 shipping (below free threshold)
	assert.True(t, d("765").Equal(o.TaxAmount))
	assert.True(t, d("500").Equal(o.ShippingFee))
	assert.True(t, d("8915").Equal(o.TotalAmount))
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/api/orders", userToken(t, ts), placeOrderRequest{
		Items:           []orderLineRequest{{ItemID: 2, Quantity: 50}},
		Shipping:        shippingRequest{Name: "Hanako"},
		PaymentMethodID: 1,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCancelOrderLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := userToken(t, ts)

	resp := ts.request(t, http.MethodPost, "/api/orders", token, placeOrderRequest{
		Items:           []orderLineRequest{{ItemID: 1, Quantity: 1}},
		Shipping:        shippingRequest{Name: "Hanako"},
		PaymentMethodID: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[orderResponse](t, resp)

	resp = ts.request(t, http.MethodPost, "/api/orders/"+placed.OrderNumber+"/cancel", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[orderResponse](t, resp)
	assert.Equal(t, "cancelled", cancelled.Status)

	// Second cancel conflicts.
	resp = ts.request(t, http.MethodPost, "/api/orders/"+placed.OrderNumber+"/cancel", token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPayOrder(t *testing.T) {
	ts := newTestServer(t)
	token := userToken(t, ts)

	resp := ts.request(t, http.MethodPost, "/api/orders", token, placeOrderRequest{
		Items:           []orderLineRequest{{ItemID: 1, Quantity: 1}},
		Shipping:        shippingRequest{Name: "Hanako"},
		PaymentMethodID: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[orderResponse](t, resp)

	resp = ts.request(t, http.MethodPost, "/api/orders/"+placed.OrderNumber+"/pay", token, payOrderRequest{TransactionID: "txn_1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	paid := decode[orderResponse](t, resp)
	assert.Equal(t, "confirmed", paid.Status)
	assert.Equal(t, "completed", paid.PaymentStatus)

	// Paying twice conflicts.
	resp = ts.request(t, http.MethodPost, "/api/orders/"+placed.OrderNumber+"/pay", token, payOrderRequest{TransactionID: "txn_2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Paid orders are no longer cancellable via the confirmed path once shipped,
	// but confirmed itself still is.
	resp = ts.request(t, http.MethodPost, "/api/orders/"+placed.OrderNumber+"/cancel", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetOrderPayment(t *testing.T) {
	ts := newTestServer(t)
	token := userToken(t, ts)

	resp := ts.request(t, http.MethodPost, "/api/orders", token, placeOrderRequest{
		Items:           []orderLineRequest{{ItemID: 1, Quantity: 1}},
		Shipping:        shippingRequest{Name: "Hanako"},
		PaymentMethodID: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[orderResponse](t, resp)

	// Unpaid orders have no payment record yet.
	resp = ts.request(t, http.MethodGet, "/api/orders/"+placed.OrderNumber+"/payment", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.request(t, http.MethodPost, "/api/orders/"+placed.OrderNumber+"/pay", token, payOrderRequest{TransactionID: "txn_detail"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.request(t, http.MethodGet, "/api/orders/"+placed.OrderNumber+"/payment", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode[paymentResponse](t, resp)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.Equal(t, "txn_detail", p.ExternalTransactionID)
	assert.True(t, placed.TotalAmount.Equal(p.Amount))
	// 9850 * 0.036
	assert.True(t, d("354.6").Equal(p.ProcessingFee), "got fee %s", p.ProcessingFee)

	// Ownership applies through the order lookup.
	otherToken, err := ts.tokens.Issue("u2", false)
	require.NoError(t, err)
	resp = ts.request(t, http.MethodGet, "/api/orders/"+placed.OrderNumber+"/payment", otherToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrderOwnership(t *testing.T) {
	ts := newTestServer(t)
	token := userToken(t, ts)

	resp := ts.request(t, http.MethodPost, "/api/orders", token, placeOrderRequest{
		Items:           []orderLineRequest{{ItemID: 1, Quantity: 1}},
		Shipping:        shippingRequest{Name: "Hanako"},
		PaymentMethodID: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[orderResponse](t, resp)

	otherToken, err := ts.tokens.Issue("u2", false)
	require.NoError(t, err)
	resp = ts.request(t, http.MethodGet, "/api/orders/"+placed.OrderNumber, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCartFlow(t *testing.T) {
	ts := newTestServer(t)
	token := userToken(t, ts)

	resp := ts.request(t, http.MethodPost, "/api/cart/items", token, addCartItemRequest{ItemID: 1, Quantity: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Adding again merges quantities.
	resp = ts.request(t, http.MethodPost, "/api/cart/items", token, addCartItemRequest{ItemID: 1, Quantity: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decode[cartResponse](t, resp)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, 3, c.Lines[0].Quantity)

	resp = ts.request(t, http.MethodGet, "/api/cart/summary?coupon=WELCOME10", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[pricingResponse](t, resp)
	assert.True(t, d("25500").Equal(sum.Subtotal))
	assert.Equal(t, "WELCOME10", sum.CouponCode)

	resp = ts.request(t, http.MethodDelete, "/api/cart", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPlaceOrderFromCartClearsCart(t *testing.T) {
	ts := newTestServer(t)
	token := userToken(t, ts)

	resp := ts.request(t, http.MethodPost, "/api/cart/items", token, addCartItemRequest{ItemID: 2, Quantity: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.request(t, http.MethodPost, "/api/orders", token, placeOrderRequest{
		FromCart:        true,
		Shipping:        shippingRequest{Name: "Hanako"},
		PaymentMethodID: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	o := decode[orderResponse](t, resp)
	assert.True(t, d("6000").Equal(o.Subtotal))

	resp = ts.request(t, http.MethodGet, "/api/cart", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := decode[cartResponse](t, resp)
	assert.Empty(t, c.Lines)
}

func TestPlaceOrderFromCart_ClearFailureStillCreatesOrder(t *testing.T) {
	ts := newTestServer(t)
	token := userToken(t, ts)

	resp := ts.request(t, http.MethodPost, "/api/cart/items", token, addCartItemRequest{ItemID: 2, Quantity: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ts.cartRepo.clearErr = errors.New("connection reset")

	resp = ts.request(t, http.MethodPost, "/api/orders", token, placeOrderRequest{
		FromCart:        true,
		Shipping:        shippingRequest{Name: "Hanako"},
		PaymentMethodID: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	o := decode[orderResponse](t, resp)
	assert.True(t, d("3000").Equal(o.Subtotal))
}

package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oshare-style/market/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, code, name, description, discount_type, discount_value,
		minimum_order_amount, maximum_discount_amount, usage_limit, usage_count,
		user_usage_limit, valid_from, valid_until, active
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	listCouponsSQL = `SELECT id, code, name, description, discount_type, discount_value,
		minimum_order_amount, maximum_discount_amount, usage_limit, usage_count,
		user_usage_limit, valid_from, valid_until, active
		FROM coupons ORDER BY id`

	countUserUsagesSQL = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	upsertCouponSQL = `INSERT INTO coupons (code, name, description, discount_type, discount_value,
		minimum_order_amount, maximum_discount_amount, usage_limit, user_usage_limit,
		valid_from, valid_until, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			minimum_order_amount = EXCLUDED.minimum_order_amount,
			maximum_discount_amount = EXCLUDED.maximum_discount_amount,
			usage_limit = EXCLUDED.usage_limit,
			user_usage_limit = EXCLUDED.user_usage_limit,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			active = EXCLUDED.active`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive). Returns
// coupon.ErrNotFound when no such coupon exists; inactive coupons are
// returned and rejected by evaluation so the caller can distinguish the two.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// CountUserUsages returns how many times the user has redeemed the coupon.
func (r *CouponRepository) CountUserUsages(ctx context.Context, couponID int64, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, countUserUsagesSQL, couponID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting usages for coupon %d: %w", couponID, err)
	}
	return count, nil
}

// List returns all coupons ordered by ID.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Upsert inserts the coupon or updates all of its rule fields by code. The
// usage counter is never overwritten.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, c.Name, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinimumOrderAmount, c.MaximumDiscountAmount, c.UsageLimit, c.UserUsageLimit,
		c.ValidFrom, c.ValidUntil, c.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c              coupon.Coupon
		discountType   string
		usageLimit     int32
		usageCount     int32
		userUsageLimit int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &c.Description, &discountType, &c.DiscountValue,
		&c.MinimumOrderAmount, &c.MaximumDiscountAmount, &usageLimit, &usageCount,
		&userUsageLimit, &c.ValidFrom, &c.ValidUntil, &c.Active,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.UsageLimit = int(usageLimit)
	c.UsageCount = int(usageCount)
	c.UserUsageLimit = int(userUsageLimit)
	return c, err
}

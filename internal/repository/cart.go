package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oshare-style/market/internal/domain/cart"
)

const (
	listCartSQL = `SELECT id, user_id, item_id, quantity, created_at, updated_at
		FROM cart_items WHERE user_id = $1 ORDER BY created_at`

	addCartSQL = `INSERT INTO cart_items (user_id, item_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, item_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = now()`

	setCartQuantitySQL = `UPDATE cart_items SET quantity = $3, updated_at = now()
		WHERE user_id = $1 AND item_id = $2`

	removeCartSQL = `DELETE FROM cart_items WHERE user_id = $1 AND item_id = $2`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// List returns the user's cart entries, oldest first.
func (r *CartRepository) List(ctx context.Context, userID string) ([]cart.Entry, error) {
	rows, err := r.pool.Query(ctx, listCartSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanCartEntry)
}

// Add inserts the entry or merges the quantity into an existing row.
func (r *CartRepository) Add(ctx context.Context, userID string, itemID int64, quantity int) error {
	_, err := r.pool.Exec(ctx, addCartSQL, userID, itemID, quantity)
	if err != nil {
		return fmt.Errorf("adding item %d to cart: %w", itemID, err)
	}
	return nil
}

// SetQuantity replaces the entry's quantity. cart.ErrNotFound when the user
// has no such entry.
func (r *CartRepository) SetQuantity(ctx context.Context, userID string, itemID int64, quantity int) error {
	tag, err := r.pool.Exec(ctx, setCartQuantitySQL, userID, itemID, quantity)
	if err != nil {
		return fmt.Errorf("updating cart item %d: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// Remove deletes one item from the user's cart.
func (r *CartRepository) Remove(ctx context.Context, userID string, itemID int64) error {
	_, err := r.pool.Exec(ctx, removeCartSQL, userID, itemID)
	if err != nil {
		return fmt.Errorf("removing cart item %d: %w", itemID, err)
	}
	return nil
}

// Clear empties the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, clearCartSQL, userID)
	if err != nil {
		return fmt.Errorf("clearing cart for user %q: %w", userID, err)
	}
	return nil
}

func scanCartEntry(row pgx.CollectableRow) (cart.Entry, error) {
	var (
		e        cart.Entry
		quantity int32
	)
	err := row.Scan(&e.ID, &e.UserID, &e.ItemID, &quantity, &e.CreatedAt, &e.UpdatedAt)
	e.Quantity = int(quantity)
	return e, err
}

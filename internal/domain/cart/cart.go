package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a cart entry does not exist for the user.
var ErrNotFound = errors.New("cart item not found")

// Entry is one item in a user's cart. The cart holds no prices; the catalog
// is the source of truth until checkout freezes the figures.
type Entry struct {
	ID        int64
	UserID    string
	ItemID    int64
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository defines persistence operations for cart entries. One row per
// (user, item); Add merges into the existing row when present.
type Repository interface {
	List(ctx context.Context, userID string) ([]Entry, error)
	// Add inserts the entry or, when the user already carries the item,
	// increments its quantity by the given amount.
	Add(ctx context.Context, userID string, itemID int64, quantity int) error
	// SetQuantity replaces the entry's quantity. ErrNotFound when the user
	// has no such entry.
	SetQuantity(ctx context.Context, userID string, itemID int64, quantity int) error
	Remove(ctx context.Context, userID string, itemID int64) error
	Clear(ctx context.Context, userID string) error
}

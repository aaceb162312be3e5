package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested item does not exist.
var ErrNotFound = errors.New("item not found")

// Item is a marketplace listing available for purchase. Price and stock are
// read at order-creation time and snapshotted into the order; later changes
// never affect existing orders.
type Item struct {
	ID            int64
	Name          string
	Brand         string
	Category      string
	Price         decimal.Decimal
	StockQuantity int
	Available     bool
}

// Repository defines read operations for the item catalog. Stock mutation
// happens inside checkout/cancellation transactions at the storage layer,
// never through this interface.
type Repository interface {
	List(ctx context.Context) ([]Item, error)
	GetByID(ctx context.Context, id int64) (*Item, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Item, error)
}

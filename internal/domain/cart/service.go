package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/oshare-style/market/internal/domain/catalog"
	"github.com/oshare-style/market/internal/domain/pricing"
)

// Pricer previews the monetary breakdown for a set of line requests without
// writing anything. Implemented by pricing.Engine.
type Pricer interface {
	Price(ctx context.Context, userID string, lines []pricing.LineRequest, couponCode string) (*pricing.PricedOrder, error)
}

// Line is a cart entry joined with its catalog item for display.
type Line struct {
	Entry Entry
	Item  catalog.Item
}

// Service validates cart mutations against the catalog and prices cart
// summaries.
type Service struct {
	entries Repository
	items   catalog.Repository
	pricer  Pricer
}

// NewService creates a cart Service.
func NewService(entries Repository, items catalog.Repository, pricer Pricer) *Service {
	return &Service{
		entries: entries,
		items:   items,
		pricer:  pricer,
	}
}

// Add puts quantity units of an item into the user's cart, merging with an
// existing entry. The item must exist, be available, and have enough stock to
// cover the merged quantity.
func (s *Service) Add(ctx context.Context, userID string, itemID int64, quantity int) error {
	if quantity <= 0 {
		return errors.New("quantity must be positive")
	}

	it, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if !it.Available {
		return &pricing.ItemUnavailableError{ItemID: itemID}
	}

	current := 0
	entries, err := s.entries.List(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "list cart")
	}
	for _, e := range entries {
		if e.ItemID == itemID {
			current = e.Quantity
			break
		}
	}
	if current+quantity > it.StockQuantity {
		return &pricing.InsufficientStockError{
			ItemID:    itemID,
			Requested: current + quantity,
			Available: it.StockQuantity,
		}
	}

	return s.entries.Add(ctx, userID, itemID, quantity)
}

// SetQuantity replaces the quantity of an existing cart entry. Zero removes
// the entry.
func (s *Service) SetQuantity(ctx context.Context, userID string, itemID int64, quantity int) error {
	if quantity < 0 {
		return errors.New("quantity must not be negative")
	}
	if quantity == 0 {
		return s.entries.Remove(ctx, userID, itemID)
	}

	it, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if quantity > it.StockQuantity {
		return &pricing.InsufficientStockError{
			ItemID:    itemID,
			Requested: quantity,
			Available: it.StockQuantity,
		}
	}

	return s.entries.SetQuantity(ctx, userID, itemID, quantity)
}

// Remove deletes one item from the user's cart.
func (s *Service) Remove(ctx context.Context, userID string, itemID int64) error {
	return s.entries.Remove(ctx, userID, itemID)
}

// Clear empties the user's cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.entries.Clear(ctx, userID)
}

// List returns the user's cart entries joined with their catalog items.
// Entries whose item has since disappeared from the catalog are skipped.
func (s *Service) List(ctx context.Context, userID string) ([]Line, error) {
	entries, err := s.entries.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ItemID
	}
	items, err := s.items.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load items")
	}
	byID := make(map[int64]catalog.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	lines := make([]Line, 0, len(entries))
	for _, e := range entries {
		it, ok := byID[e.ItemID]
		if !ok {
			continue
		}
		lines = append(lines, Line{Entry: e, Item: it})
	}
	return lines, nil
}

// Summary prices the current cart contents, optionally with a coupon,
// without writing anything. Checkout performs the same computation again
// inside its transaction, so a summary is never authoritative.
func (s *Service) Summary(ctx context.Context, userID, couponCode string) (*pricing.PricedOrder, error) {
	entries, err := s.entries.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}

	lines := make([]pricing.LineRequest, len(entries))
	for i, e := range entries {
		lines[i] = pricing.LineRequest{ItemID: e.ItemID, Quantity: e.Quantity}
	}
	return s.pricer.Price(ctx, userID, lines, couponCode)
}

// Lines converts the user's cart entries into checkout line requests.
func (s *Service) Lines(ctx context.Context, userID string) ([]pricing.LineRequest, error) {
	entries, err := s.entries.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	lines := make([]pricing.LineRequest, len(entries))
	for i, e := range entries {
		lines[i] = pricing.LineRequest{ItemID: e.ItemID, Quantity: e.Quantity}
	}
	return lines, nil
}

// Package cart resolves what is being purchased into normalized line items.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"storefront/internal/model"
	"storefront/internal/reconcile"
)

// Backend is the subset of the API client the resolver needs.
type Backend interface {
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	GetCartItems(ctx context.Context) ([]model.CartEntry, error)
}

// Mode says where the line items came from.
type Mode string

const (
	ModeSingleProduct Mode = "single_product"
	ModeCart          Mode = "cart"
)

// Resolution is a non-empty, ordered set of line items with their sums.
type Resolution struct {
	Mode       Mode             `json:"mode"`
	Items      []model.LineItem `json:"items"`
	Subtotal   float64          `json:"subtotal"`
	TotalSaved float64          `json:"total_saved"`
}

// Resolver turns a product id (buy now) or the server cart into line items.
// It is read-only against the backend.
type Resolver struct {
	backend Backend
	logger  *slog.Logger

	mu   sync.Mutex
	last map[Mode][]model.LineItem // previous resolution per mode, for Refresh
}

// NewResolver creates a resolver.
func NewResolver(backend Backend, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		backend: backend,
		logger:  logger,
		last:    make(map[Mode][]model.LineItem),
	}
}

// Resolve returns the line items to purchase. A non-empty productID selects
// single product mode with quantity 1; an empty one reads the server cart.
//
// Errors:
//   - EmptyCart when the cart has no entries (or was never created)
//   - FetchFailed for network, backend and authentication failures; an
//     authentication cause stays matchable with errors.Is(err, model.ErrUnauthenticated)
func (r *Resolver) Resolve(ctx context.Context, productID string) (*Resolution, error) {
	var (
		mode  Mode
		items []model.LineItem
	)

	if productID != "" {
		mode = ModeSingleProduct
		product, err := r.backend.GetProduct(ctx, productID)
		if err != nil {
			return nil, model.NewFetchError("product", err)
		}
		items = []model.LineItem{model.LineItemFromProduct(*product)}
	} else {
		mode = ModeCart
		entries, err := r.backend.GetCartItems(ctx)
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewEmptyCartError()
		}
		if err != nil {
			return nil, model.NewFetchError("cart", err)
		}
		items = make([]model.LineItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, model.LineItemFromCartEntry(e))
		}
	}

	if len(items) == 0 {
		return nil, model.NewEmptyCartError()
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return nil, model.NewFetchError(string(mode), err)
		}
	}

	totals := model.ComputeTotals(items, 0)
	res := &Resolution{
		Mode:       mode,
		Items:      items,
		Subtotal:   totals.Subtotal,
		TotalSaved: totals.TotalSaved,
	}

	r.mu.Lock()
	r.last[mode] = items
	r.mu.Unlock()

	return res, nil
}

// Refresh re-resolves and reports what changed since the previous
// resolution in the same mode. The diff is empty on the first call.
func (r *Resolver) Refresh(ctx context.Context, productID string) (*Resolution, *reconcile.LineItemDiff, error) {
	mode := ModeCart
	if productID != "" {
		mode = ModeSingleProduct
	}

	r.mu.Lock()
	previous, seen := r.last[mode]
	r.mu.Unlock()

	res, err := r.Resolve(ctx, productID)
	if err != nil {
		return nil, nil, err
	}

	if !seen {
		return res, &reconcile.LineItemDiff{}, nil
	}

	diff := reconcile.DiffLineItems(previous, res.Items)
	if !diff.IsEmpty() {
		r.logger.Info("cart changed since last load",
			slog.String("mode", string(mode)),
			slog.Int("added", len(diff.Added)),
			slog.Int("removed", len(diff.Removed)),
			slog.Int("changed", len(diff.Changed)),
		)
	}
	return res, diff, nil
}

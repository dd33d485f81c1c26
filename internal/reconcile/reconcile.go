// Package reconcile keeps client-side checkout state consistent with the backend.
//
// It provides two pieces: a generation counter that lets a component discard
// responses belonging to a superseded load, and a line item diff used when a
// cart is refreshed to report what changed since the previous resolution.
package reconcile

import (
	"sort"
	"sync/atomic"

	"storefront/internal/model"
)

// =============================================================================
// GENERATIONS
// =============================================================================
//
// Every fetch is tagged with the generation current when it started. A new
// load (or Close) advances the counter, so results that arrive late compare
// unequal and are dropped instead of overwriting fresher state:
//
//   gen := g.Begin()          // start a load
//   ... await responses ...
//   if !g.IsCurrent(gen) {    // someone started another load or closed
//       return                // discard
//   }
//
// =============================================================================

// Generation is a monotonically increasing load counter. Safe for concurrent use.
type Generation struct {
	n atomic.Uint64
}

// Begin starts a new generation and returns its tag.
func (g *Generation) Begin() uint64 {
	return g.n.Add(1)
}

// Invalidate supersedes the current generation without starting a load.
func (g *Generation) Invalidate() {
	g.n.Add(1)
}

// IsCurrent reports whether tag is still the latest generation.
func (g *Generation) IsCurrent(tag uint64) bool {
	return g.n.Load() == tag
}

// =============================================================================
// LINE ITEM DIFF
// =============================================================================

// LineItemDiff describes how a refreshed cart differs from the previous one.
type LineItemDiff struct {
	Added   []model.LineItem // In refreshed but not previous
	Removed []model.LineItem // In previous but not refreshed
	Changed []ItemChange     // In both with different quantity or price
}

// ItemChange records a line item whose quantity or price moved.
type ItemChange struct {
	ProductRef  string
	OldQuantity int
	NewQuantity int
	OldNet      float64 // per-unit price after discount
	NewNet      float64
}

// IsEmpty returns true if the carts are equivalent.
func (d *LineItemDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffLineItems computes the delta between previous and refreshed line items.
// Matching is by ProductRef. Results are sorted by ProductRef so logs and
// tests are deterministic.
func DiffLineItems(previous, refreshed []model.LineItem) *LineItemDiff {
	diff := &LineItemDiff{}

	prevByRef := make(map[string]model.LineItem, len(previous))
	for _, item := range previous {
		prevByRef[item.ProductRef] = item
	}

	nextByRef := make(map[string]model.LineItem, len(refreshed))
	for _, item := range refreshed {
		nextByRef[item.ProductRef] = item
	}

	for ref, next := range nextByRef {
		prev, exists := prevByRef[ref]
		if !exists {
			diff.Added = append(diff.Added, next)
			continue
		}
		oldNet, newNet := model.NetUnitPrice(prev), model.NetUnitPrice(next)
		if prev.Quantity != next.Quantity || oldNet != newNet {
			diff.Changed = append(diff.Changed, ItemChange{
				ProductRef:  ref,
				OldQuantity: prev.Quantity,
				NewQuantity: next.Quantity,
				OldNet:      oldNet,
				NewNet:      newNet,
			})
		}
	}

	for ref, prev := range prevByRef {
		if _, exists := nextByRef[ref]; !exists {
			diff.Removed = append(diff.Removed, prev)
		}
	}

	sort.Slice(diff.Added, func(i, j int) bool { return diff.Added[i].ProductRef < diff.Added[j].ProductRef })
	sort.Slice(diff.Removed, func(i, j int) bool { return diff.Removed[i].ProductRef < diff.Removed[j].ProductRef })
	sort.Slice(diff.Changed, func(i, j int) bool { return diff.Changed[i].ProductRef < diff.Changed[j].ProductRef })

	return diff
}

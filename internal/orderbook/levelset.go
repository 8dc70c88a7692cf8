package orderbook

import (
	"bookrecorder/internal/types"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

const treeDegree = 32

// LevelSet is the in-memory replica: at most one level per (side, price).
// Bids are kept in descending price order and asks ascending, so ranking is a
// bounded walk from the front of each tree. Not safe for concurrent use.
type LevelSet struct {
	bids *btree.BTreeG[types.PriceLevel]
	asks *btree.BTreeG[types.PriceLevel]
}

// NewLevelSet creates an empty replica
func NewLevelSet() *LevelSet {
	return &LevelSet{
		bids: newSide(types.Bid),
		asks: newSide(types.Ask),
	}
}

func newSide(side types.Side) *btree.BTreeG[types.PriceLevel] {
	if side == types.Bid {
		return btree.NewG(treeDegree, func(a, b types.PriceLevel) bool {
			return a.Price.GreaterThan(b.Price)
		})
	}
	return btree.NewG(treeDegree, func(a, b types.PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
}

func (s *LevelSet) tree(side types.Side) *btree.BTreeG[types.PriceLevel] {
	if side == types.Bid {
		return s.bids
	}
	return s.asks
}

// Seed discards all current levels and inserts the given ones.
// Zero quantities are skipped.
func (s *LevelSet) Seed(levels []types.PriceLevel) {
	s.bids.Clear(false)
	s.asks.Clear(false)
	for _, level := range levels {
		if level.Quantity.IsZero() {
			continue
		}
		s.tree(level.Side).ReplaceOrInsert(level)
	}
}

// Apply upserts a level, or removes it when quantity is zero.
// Removing an absent level is a no-op.
func (s *LevelSet) Apply(side types.Side, price, quantity decimal.Decimal) {
	tree := s.tree(side)
	level := types.PriceLevel{Side: side, Price: price, Quantity: quantity}
	if quantity.IsZero() {
		tree.Delete(level)
		return
	}
	tree.ReplaceOrInsert(level)
}

// Get returns the level resting at price on side
func (s *LevelSet) Get(side types.Side, price decimal.Decimal) (types.PriceLevel, bool) {
	return s.tree(side).Get(types.PriceLevel{Side: side, Price: price})
}

// Best returns the top level of a side
func (s *LevelSet) Best(side types.Side) (types.PriceLevel, bool) {
	return s.tree(side).Min()
}

// Len returns the number of levels on a side
func (s *LevelSet) Len(side types.Side) int {
	return s.tree(side).Len()
}

// Ranked returns up to depth bids (descending) and asks (ascending)
func (s *LevelSet) Ranked(depth int) (bids, asks []types.PriceLevel) {
	return s.head(s.bids, depth), s.head(s.asks, depth)
}

func (s *LevelSet) head(tree *btree.BTreeG[types.PriceLevel], depth int) []types.PriceLevel {
	n := min(depth, tree.Len())
	if n <= 0 {
		return []types.PriceLevel{}
	}
	out := make([]types.PriceLevel, 0, n)
	tree.Ascend(func(level types.PriceLevel) bool {
		out = append(out, level)
		return len(out) < n
	})
	return out
}

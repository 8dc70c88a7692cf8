package orderbook

import (
	"fmt"

	"bookrecorder/internal/exchange"
	"bookrecorder/internal/types"

	"github.com/shopspring/decimal"
)

// Reconciler translates canonical snapshots and depth updates into LevelSet
// mutations. Every entry of a payload is parsed before anything is applied.
type Reconciler struct {
	book *LevelSet
}

// NewReconciler creates a reconciler over book
func NewReconciler(book *LevelSet) *Reconciler {
	return &Reconciler{book: book}
}

// Book returns the replica the reconciler mutates
func (r *Reconciler) Book() *LevelSet {
	return r.book
}

// Seed replaces the replica with the contents of snapshot. On error the
// replica is left untouched.
func (r *Reconciler) Seed(snapshot *exchange.Snapshot) error {
	bids, err := parseLevels(types.Bid, snapshot.Bids)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	asks, err := parseLevels(types.Ask, snapshot.Asks)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	r.book.Seed(append(bids, asks...))
	return nil
}

// Apply applies one depth update, bids first then asks, in listed order
func (r *Reconciler) Apply(update *exchange.DepthUpdate) error {
	bids, err := parseLevels(types.Bid, update.Bids)
	if err != nil {
		return fmt.Errorf("update %d: %w", update.FinalUpdateID, err)
	}
	asks, err := parseLevels(types.Ask, update.Asks)
	if err != nil {
		return fmt.Errorf("update %d: %w", update.FinalUpdateID, err)
	}
	for _, level := range bids {
		r.book.Apply(level.Side, level.Price, level.Quantity)
	}
	for _, level := range asks {
		r.book.Apply(level.Side, level.Price, level.Quantity)
	}
	return nil
}

func parseLevels(side types.Side, raw []exchange.PriceLevel) ([]types.PriceLevel, error) {
	levels := make([]types.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		level, err := parseLevel(side, entry)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func parseLevel(side types.Side, entry exchange.PriceLevel) (types.PriceLevel, error) {
	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return types.PriceLevel{}, fmt.Errorf("%w: invalid %s price %q", exchange.ErrMalformed, side, entry.Price)
	}
	qty, err := decimal.NewFromString(entry.Quantity)
	if err != nil {
		return types.PriceLevel{}, fmt.Errorf("%w: invalid %s quantity %q", exchange.ErrMalformed, side, entry.Quantity)
	}
	if !price.IsPositive() || qty.IsNegative() {
		return types.PriceLevel{}, fmt.Errorf("%w: %s level %s@%s out of range", exchange.ErrMalformed, side, entry.Quantity, entry.Price)
	}
	return types.PriceLevel{Side: side, Price: price, Quantity: qty}, nil
}

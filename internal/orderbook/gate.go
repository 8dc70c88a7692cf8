package orderbook

import (
	"bookrecorder/internal/types"

	"github.com/shopspring/decimal"
)

// ChangeGate remembers the last emitted top of book and reports whether a
// candidate moved it. Prices are exchange ticks, so comparison is exact.
type ChangeGate struct {
	topBid decimal.Decimal
	topAsk decimal.Decimal
	seen   bool
}

// NewChangeGate creates a gate that has emitted nothing yet
func NewChangeGate() *ChangeGate {
	return &ChangeGate{}
}

// Check returns true when candidate should be emitted and records its top of
// book. A candidate with an empty side is never emitted and leaves the gate as is.
func (g *ChangeGate) Check(candidate types.RankedSnapshot) bool {
	bid, ok := candidate.TopBid()
	if !ok {
		return false
	}
	ask, ok := candidate.TopAsk()
	if !ok {
		return false
	}
	if g.seen && bid.Price.Equal(g.topBid) && ask.Price.Equal(g.topAsk) {
		return false
	}
	g.topBid = bid.Price
	g.topAsk = ask.Price
	g.seen = true
	return true
}

// Last returns the last emitted top bid and ask prices
func (g *ChangeGate) Last() (bid, ask decimal.Decimal, ok bool) {
	return g.topBid, g.topAsk, g.seen
}

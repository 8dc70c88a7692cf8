package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book a level rests on
type Side string

const (
	Bid Side = "Bid"
	Ask Side = "Ask"
)

// VolumeConvention selects how a persisted row's volume is derived
type VolumeConvention string

const (
	// VolumeBase records the raw level quantity (base asset units)
	VolumeBase VolumeConvention = "base"
	// VolumeQuote records price * quantity (quote asset notional)
	VolumeQuote VolumeConvention = "quote"
)

// ParseVolumeConvention maps a configuration value to a VolumeConvention
func ParseVolumeConvention(s string) (VolumeConvention, error) {
	switch VolumeConvention(strings.ToLower(strings.TrimSpace(s))) {
	case VolumeBase:
		return VolumeBase, nil
	case VolumeQuote:
		return VolumeQuote, nil
	default:
		return "", fmt.Errorf("unknown volume convention %q", s)
	}
}

// Volume returns the volume of a level under the convention
func (c VolumeConvention) Volume(price, quantity decimal.Decimal) decimal.Decimal {
	if c == VolumeQuote {
		return price.Mul(quantity)
	}
	return quantity
}

// PriceLevel represents a single price level in the order book
type PriceLevel struct {
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// RankedSnapshot is the top-N view derived from the replica at one instant.
// Bids are ordered by price descending, asks ascending.
type RankedSnapshot struct {
	Timestamp time.Time
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// TopBid returns the best bid level, if any
func (s RankedSnapshot) TopBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// TopAsk returns the best ask level, if any
func (s RankedSnapshot) TopAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Row is one persisted ranked level
type Row struct {
	Level  int             `json:"level"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// Record is the unit handed to persistence sinks
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Platform  string    `json:"platform"`
	Symbol    string    `json:"symbol"`
	Bids      []Row     `json:"bids"`
	Asks      []Row     `json:"asks"`
}

// Rows returns bids followed by asks
func (r Record) Rows() []Row {
	rows := make([]Row, 0, len(r.Bids)+len(r.Asks))
	rows = append(rows, r.Bids...)
	rows = append(rows, r.Asks...)
	return rows
}

// Spread returns best ask minus best bid, zero when a side is missing
func (r Record) Spread() decimal.Decimal {
	if len(r.Bids) == 0 || len(r.Asks) == 0 {
		return decimal.Zero
	}
	return r.Asks[0].Price.Sub(r.Bids[0].Price)
}

// Stats holds counters describing the recorder's progress
type Stats struct {
	UpdatesApplied int64
	Emissions      int64
	Suppressed     int64
	BidLevels      int
	AskLevels      int
	TopBid         decimal.Decimal // zero when the side is empty
	TopAsk         decimal.Decimal
	LastUpdateTime time.Time
	LastEmitTime   time.Time
	Pending        bool
}

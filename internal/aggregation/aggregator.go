package aggregation

import (
	"time"

	"bookrecorder/internal/types"
)

// Options configures how ranked snapshots become persisted records
type Options struct {
	Convention types.VolumeConvention
	Platform   string
	Symbol     string
	Location   *time.Location
}

// Aggregator turns ranked snapshots into level-numbered rows with volumes
// computed under one convention for the whole record
type Aggregator struct {
	convention types.VolumeConvention
	platform   string
	symbol     string
	location   *time.Location
}

// New creates a new Aggregator instance
func New(opts Options) *Aggregator {
	convention := opts.Convention
	if convention == "" {
		convention = types.VolumeBase
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		convention: convention,
		platform:   opts.Platform,
		symbol:     opts.Symbol,
		location:   loc,
	}
}

// Convention returns the volume convention in use
func (a *Aggregator) Convention() types.VolumeConvention {
	return a.convention
}

// Rows numbers levels 1..n in the order given and computes their volume
func (a *Aggregator) Rows(side types.Side, levels []types.PriceLevel) []types.Row {
	rows := make([]types.Row, len(levels))
	for i, level := range levels {
		rows[i] = types.Row{
			Level:  i + 1,
			Side:   side,
			Price:  level.Price,
			Volume: a.convention.Volume(level.Price, level.Quantity),
		}
	}
	return rows
}

// Record builds the persisted form of snapshot. The timestamp is truncated to
// milliseconds and expressed in the configured zone.
func (a *Aggregator) Record(snapshot types.RankedSnapshot) types.Record {
	return types.Record{
		Timestamp: snapshot.Timestamp.In(a.location).Truncate(time.Millisecond),
		Platform:  a.platform,
		Symbol:    a.symbol,
		Bids:      a.Rows(types.Bid, snapshot.Bids),
		Asks:      a.Rows(types.Ask, snapshot.Asks),
	}
}

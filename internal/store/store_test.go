package store

import (
	"time"

	"bookrecorder/internal/types"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleRecord(ts time.Time) types.Record {
	return types.Record{
		Timestamp: ts,
		Platform:  "Binance",
		Symbol:    "BTCUSDT",
		Bids: []types.Row{
			{Level: 1, Side: types.Bid, Price: d("100"), Volume: d("1")},
			{Level: 2, Side: types.Bid, Price: d("99"), Volume: d("2")},
		},
		Asks: []types.Row{
			{Level: 1, Side: types.Ask, Price: d("101"), Volume: d("0.5")},
			{Level: 2, Side: types.Ask, Price: d("102"), Volume: d("2")},
		},
	}
}

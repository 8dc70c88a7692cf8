package aggregation

import (
	"testing"
	"time"

	"bookrecorder/internal/types"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewDefaults(t *testing.T) {
	agg := New(Options{})

	if agg == nil {
		t.Fatal("New() returned nil")
	}
	if agg.Convention() != types.VolumeBase {
		t.Errorf("Expected base convention, got %s", agg.Convention())
	}
}

func TestRows(t *testing.T) {
	levels := []types.PriceLevel{
		{Side: types.Bid, Price: d("100"), Quantity: d("1.5")},
		{Side: types.Bid, Price: d("99"), Quantity: d("2")},
	}

	tests := []struct {
		name       string
		convention types.VolumeConvention
		want       []string
	}{
		{name: "base", convention: types.VolumeBase, want: []string{"1.5", "2"}},
		{name: "quote", convention: types.VolumeQuote, want: []string{"150", "198"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := New(Options{Convention: tt.convention}).Rows(types.Bid, levels)
			if len(rows) != len(tt.want) {
				t.Fatalf("Expected %d rows, got %d", len(tt.want), len(rows))
			}
			for i, row := range rows {
				if row.Level != i+1 {
					t.Errorf("Expected level %d, got %d", i+1, row.Level)
				}
				if row.Side != types.Bid {
					t.Errorf("Expected Bid side, got %s", row.Side)
				}
				if !row.Price.Equal(levels[i].Price) {
					t.Errorf("Expected price %s, got %s", levels[i].Price, row.Price)
				}
				if !row.Volume.Equal(d(tt.want[i])) {
					t.Errorf("Expected volume %s, got %s", tt.want[i], row.Volume)
				}
			}
		})
	}
}

func TestRowsEmpty(t *testing.T) {
	rows := New(Options{}).Rows(types.Ask, nil)
	if rows == nil || len(rows) != 0 {
		t.Errorf("Expected empty non-nil rows, got %v", rows)
	}
}

func TestRecord(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	agg := New(Options{Platform: "Binance", Symbol: "BTCUSDT", Location: london})

	ts := time.Date(2024, 7, 1, 12, 0, 0, 123456789, time.UTC)
	rec := agg.Record(types.RankedSnapshot{
		Timestamp: ts,
		Bids:      []types.PriceLevel{{Side: types.Bid, Price: d("99"), Quantity: d("2")}},
		Asks:      []types.PriceLevel{{Side: types.Ask, Price: d("101"), Quantity: d("0.5")}},
	})

	if rec.Platform != "Binance" || rec.Symbol != "BTCUSDT" {
		t.Errorf("Unexpected platform/symbol %s/%s", rec.Platform, rec.Symbol)
	}
	if rec.Timestamp.Location() != london {
		t.Errorf("Expected Europe/London location, got %s", rec.Timestamp.Location())
	}
	if rec.Timestamp.Nanosecond() != 123000000 {
		t.Errorf("Expected millisecond truncation, got %d ns", rec.Timestamp.Nanosecond())
	}
	// BST is UTC+1 in July
	if rec.Timestamp.Hour() != 13 {
		t.Errorf("Expected 13:00 local, got %d", rec.Timestamp.Hour())
	}
	if !rec.Timestamp.Equal(ts.Truncate(time.Millisecond)) {
		t.Errorf("Expected same instant, got %s", rec.Timestamp)
	}
	if len(rec.Bids) != 1 || len(rec.Asks) != 1 {
		t.Fatalf("Expected one row per side, got %d/%d", len(rec.Bids), len(rec.Asks))
	}
	if rec.Asks[0].Side != types.Ask || !rec.Asks[0].Volume.Equal(d("0.5")) {
		t.Errorf("Unexpected ask row %+v", rec.Asks[0])
	}
}

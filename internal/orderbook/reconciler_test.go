package orderbook

import (
	"errors"
	"testing"

	"bookrecorder/internal/exchange"
	"bookrecorder/internal/types"
)

func raw(pairs ...string) []exchange.PriceLevel {
	levels := make([]exchange.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		levels = append(levels, exchange.PriceLevel{Price: pairs[i], Quantity: pairs[i+1]})
	}
	return levels
}

func seededReconciler(t *testing.T) *Reconciler {
	t.Helper()
	r := NewReconciler(NewLevelSet())
	err := r.Seed(&exchange.Snapshot{
		Bids: raw("100", "1", "99", "2"),
		Asks: raw("101", "1", "102", "2"),
	})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	return r
}

func TestReconcilerApply(t *testing.T) {
	r := seededReconciler(t)

	err := r.Apply(&exchange.DepthUpdate{
		Bids: raw("100", "0"),
		Asks: raw("101", "0.5"),
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	bids, asks := r.Book().Ranked(10)
	assertPrices(t, "bids", bids, []string{"99"})
	assertPrices(t, "asks", asks, []string{"101", "102"})
	if !asks[0].Quantity.Equal(d("0.5")) {
		t.Errorf("Expected ask 101 quantity 0.5, got %s", asks[0].Quantity)
	}
}

func TestReconcilerLastListedWins(t *testing.T) {
	r := seededReconciler(t)
	if err := r.Apply(&exchange.DepthUpdate{Bids: raw("98", "1", "98", "4")}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	got, ok := r.Book().Get(types.Bid, d("98"))
	if !ok || !got.Quantity.Equal(d("4")) {
		t.Errorf("Expected 98 with quantity 4, got %+v (ok=%v)", got, ok)
	}
}

func TestReconcilerRejectsMalformedWithoutPartialApply(t *testing.T) {
	tests := []struct {
		name   string
		update *exchange.DepthUpdate
	}{
		{name: "bad price", update: &exchange.DepthUpdate{Bids: raw("98", "1", "abc", "1")}},
		{name: "bad quantity in asks", update: &exchange.DepthUpdate{Bids: raw("98", "1"), Asks: raw("103", "x")}},
		{name: "negative quantity", update: &exchange.DepthUpdate{Bids: raw("98", "-1")}},
		{name: "zero price", update: &exchange.DepthUpdate{Asks: raw("0", "1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := seededReconciler(t)
			before := dump(r.Book())

			err := r.Apply(tt.update)
			if !errors.Is(err, exchange.ErrMalformed) {
				t.Fatalf("Expected ErrMalformed, got %v", err)
			}
			if dump(r.Book()) != before {
				t.Errorf("Expected replica untouched, got %s want %s", dump(r.Book()), before)
			}
		})
	}
}

func TestReconcilerSeedFailureKeepsReplica(t *testing.T) {
	r := seededReconciler(t)
	before := dump(r.Book())

	err := r.Seed(&exchange.Snapshot{Bids: raw("100", "1"), Asks: raw("nope", "1")})
	if !errors.Is(err, exchange.ErrMalformed) {
		t.Fatalf("Expected ErrMalformed, got %v", err)
	}
	if dump(r.Book()) != before {
		t.Errorf("Expected replica untouched after failed seed")
	}
}

package orderbook

import (
	"testing"

	"bookrecorder/internal/types"
)

func candidate(bids, asks []string) types.RankedSnapshot {
	snap := types.RankedSnapshot{}
	for _, p := range bids {
		snap.Bids = append(snap.Bids, level(types.Bid, p, "1"))
	}
	for _, p := range asks {
		snap.Asks = append(snap.Asks, level(types.Ask, p, "1"))
	}
	return snap
}

func TestChangeGate(t *testing.T) {
	steps := []struct {
		name string
		bids []string
		asks []string
		emit bool
	}{
		{name: "empty bids never emit", bids: nil, asks: []string{"101"}, emit: false},
		{name: "empty asks never emit", bids: []string{"100"}, asks: nil, emit: false},
		{name: "first full book emits", bids: []string{"100", "99"}, asks: []string{"101"}, emit: true},
		{name: "unchanged top does not emit", bids: []string{"100"}, asks: []string{"101", "102"}, emit: false},
		{name: "same price different scale does not emit", bids: []string{"100.00"}, asks: []string{"101.0"}, emit: false},
		{name: "bid move emits", bids: []string{"99"}, asks: []string{"101"}, emit: true},
		{name: "ask move emits", bids: []string{"99"}, asks: []string{"100.5"}, emit: true},
		{name: "transiently empty side keeps state", bids: nil, asks: []string{"100.5"}, emit: false},
		{name: "return to last emitted does not emit", bids: []string{"99"}, asks: []string{"100.5"}, emit: false},
	}

	g := NewChangeGate()
	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			if got := g.Check(candidate(step.bids, step.asks)); got != step.emit {
				t.Errorf("Expected emit=%v, got %v", step.emit, got)
			}
		})
	}

	bid, ask, ok := g.Last()
	if !ok || !bid.Equal(d("99")) || !ask.Equal(d("100.5")) {
		t.Errorf("Expected last top 99/100.5, got %s/%s (ok=%v)", bid, ask, ok)
	}
}

func TestChangeGateRepeatedCallsNeverReemit(t *testing.T) {
	g := NewChangeGate()
	snap := candidate([]string{"100"}, []string{"101"})
	if !g.Check(snap) {
		t.Fatal("Expected first check to emit")
	}
	for i := 0; i < 10; i++ {
		if g.Check(snap) {
			t.Fatalf("Expected no re-emission on call %d", i)
		}
	}
}

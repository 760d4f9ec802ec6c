package bot

import (
	"testing"

	"tradecore/internal/models"
	"tradecore/internal/signal"
)

func TestCandidatePairsGeneratesAllCombinationsCappedAtMax(t *testing.T) {
	symbols := []string{"BTC/JPY", "ETH/JPY", "XRP/JPY"}

	all := candidatePairs(symbols, 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 combinations of 3 symbols, got %d: %+v", len(all), all)
	}

	capped := candidatePairs(symbols, 2)
	if len(capped) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(capped))
	}
}

func TestCandidatePairsIDMatchesPairIDFor(t *testing.T) {
	pairs := candidatePairs([]string{"BTC/JPY", "ETH/JPY"}, 0)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	want := models.PairIDFor("BTC/JPY", "ETH/JPY")
	if pairs[0].ID != want {
		t.Errorf("expected ID %s, got %s", want, pairs[0].ID)
	}
}

func TestCandidatePairsEmptyForSingleSymbol(t *testing.T) {
	if pairs := candidatePairs([]string{"BTC/JPY"}, 0); len(pairs) != 0 {
		t.Errorf("expected no pairs from a single symbol, got %+v", pairs)
	}
}

func TestStopLossPriceForLongIsBelowEntry(t *testing.T) {
	price := stopLossPriceFor(models.SideLong, 1_000_000, 10)
	if price != 900_000 {
		t.Errorf("expected 900000, got %.2f", price)
	}
}

func TestStopLossPriceForShortIsAboveEntry(t *testing.T) {
	price := stopLossPriceFor(models.SideShort, 1_000_000, 10)
	if price != 1_100_000 {
		t.Errorf("expected 1100000, got %.2f", price)
	}
}

func TestPairUnrealizedPnlLongSpread(t *testing.T) {
	pp := &models.PairPosition{
		Direction:   models.DirectionLongSpread,
		EntryPrice1: 100, EntryPrice2: 50,
		Size1: 2, Size2: 4,
	}
	// leg1 gains 10*2=20, leg2 gains 5*4=20, long_spread pnl = leg1 - leg2 = 0
	pnl := pairUnrealizedPnl(pp, 110, 55)
	if pnl != 0 {
		t.Errorf("expected 0 pnl on a flat spread move, got %.4f", pnl)
	}

	// leg1 moves up, leg2 flat: pnl should be positive for long_spread
	pnl2 := pairUnrealizedPnl(pp, 110, 50)
	if pnl2 <= 0 {
		t.Errorf("expected positive pnl when leg1 rallies, got %.4f", pnl2)
	}
}

func TestPairUnrealizedPnlShortSpreadIsMirrored(t *testing.T) {
	pp := &models.PairPosition{
		Direction:   models.DirectionShortSpread,
		EntryPrice1: 100, EntryPrice2: 50,
		Size1: 2, Size2: 4,
	}
	// leg1 rallies: hurts a short_spread position (short leg1).
	pnl := pairUnrealizedPnl(pp, 110, 50)
	if pnl >= 0 {
		t.Errorf("expected negative pnl for short_spread when leg1 rallies, got %.4f", pnl)
	}
}

func TestPushPriceHistoryTracksLastPriceAndTrimsHistory(t *testing.T) {
	tl := &TradeLoop{
		priceHistory: make(map[string][]signal.PricePoint),
		pairHistory:  make(map[string][]float64),
		lastPrice:    make(map[string]float64),
	}

	for i := 0; i < maxHistoryLength+10; i++ {
		tl.pushPriceHistory("BTC/JPY", float64(i))
	}

	if got := tl.lastPrice["BTC/JPY"]; got != float64(maxHistoryLength+9) {
		t.Errorf("expected last price %d, got %.0f", maxHistoryLength+9, got)
	}
	if len(tl.priceHistory["BTC/JPY"]) != maxHistoryLength {
		t.Errorf("expected price history capped at %d, got %d", maxHistoryLength, len(tl.priceHistory["BTC/JPY"]))
	}
	if len(tl.pairHistory["BTC/JPY"]) != maxHistoryLength {
		t.Errorf("expected pair history capped at %d, got %d", maxHistoryLength, len(tl.pairHistory["BTC/JPY"]))
	}
}

func TestBoolToFloat(t *testing.T) {
	if boolToFloat(true) != 1 {
		t.Error("expected true to map to 1")
	}
	if boolToFloat(false) != 0 {
		t.Error("expected false to map to 0")
	}
}

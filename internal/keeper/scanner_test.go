package keeper

import (
	"testing"

	"github.com/google/uuid"

	"veilperp/internal/query"
)

const priceScale = 100_000_000

func quotedInstrument(key string, price int64) query.InstrumentResponse {
	return query.InstrumentResponse{Key: key, Active: true, Price: price, HasQuote: true}
}

func openLong(instrument string, liqLong int64) query.PositionResponse {
	return query.PositionResponse{
		PositionID:    uuid.New(),
		Instrument:    instrument,
		Side:          "long",
		LiqPriceLong:  liqLong,
		LiqPriceShort: 2 * liqLong,
		Status:        "open",
	}
}

func findAction(actions []Action, kind ActionKind, target uuid.UUID) bool {
	for _, a := range actions {
		if a.Kind == kind && a.Target == target {
			return true
		}
	}
	return false
}

func TestScanLiquidatesCrossedThreshold(t *testing.T) {
	s := NewScanner()
	p := openLong("BTC-PERP", 30_000*priceScale)

	insts := []query.InstrumentResponse{quotedInstrument("BTC-PERP", 31_000*priceScale)}
	if got := s.Scan(1, insts, []query.PositionResponse{p}, nil); len(got) != 0 {
		t.Fatalf("above threshold produced %v, want nothing", got)
	}

	insts[0].Price = 29_000 * priceScale
	got := s.Scan(2, insts, []query.PositionResponse{p}, nil)
	if !findAction(got, ActionLiquidate, p.PositionID) {
		t.Fatalf("below threshold produced %v, want liquidate", got)
	}
}

func TestScanShortLiquidatesAbove(t *testing.T) {
	s := NewScanner()
	p := query.PositionResponse{
		PositionID:    uuid.New(),
		Instrument:    "BTC-PERP",
		Side:          "short",
		LiqPriceLong:  30_000 * priceScale,
		LiqPriceShort: 70_000 * priceScale,
		Status:        "open",
	}

	insts := []query.InstrumentResponse{quotedInstrument("BTC-PERP", 71_000*priceScale)}
	got := s.Scan(1, insts, []query.PositionResponse{p}, nil)
	if !findAction(got, ActionLiquidate, p.PositionID) {
		t.Fatalf("short above threshold produced %v, want liquidate", got)
	}
}

func TestScanAttemptsStopLossWhileUnderWater(t *testing.T) {
	s := NewScanner()
	p := openLong("BTC-PERP", 30_000*priceScale)
	p.StopLossSet = true
	loss := int64(-1_000_000)
	p.UnrealizedPnL = &loss

	// 44,000 is far above the margin threshold; only the stop makes this
	// worth attempting
	insts := []query.InstrumentResponse{quotedInstrument("BTC-PERP", 44_000*priceScale)}
	got := s.Scan(1, insts, []query.PositionResponse{p}, nil)
	if !findAction(got, ActionLiquidate, p.PositionID) {
		t.Fatalf("under-water stop produced %v, want liquidate attempt", got)
	}

	gain := int64(500_000)
	p.UnrealizedPnL = &gain
	if got := s.Scan(2, insts, []query.PositionResponse{p}, nil); len(got) != 0 {
		t.Fatalf("profitable stop position produced %v, want nothing", got)
	}
}

func TestScanExecutesOnLimitCrossing(t *testing.T) {
	s := NewScanner()
	o := query.OrderResponse{
		OrderID:    uuid.New(),
		Instrument: "BTC-PERP",
		LimitPrice: 49_000 * priceScale,
		Status:     "pending",
	}

	// First sighting is always attempted: the scanner has no crossing
	// history yet and the direction is encrypted
	insts := []query.InstrumentResponse{quotedInstrument("BTC-PERP", 50_000*priceScale)}
	got := s.Scan(1, insts, nil, []query.OrderResponse{o})
	if !findAction(got, ActionExecute, o.OrderID) {
		t.Fatalf("first sighting produced %v, want execute", got)
	}

	// No movement across the limit: nothing to do
	insts[0].Price = 50_500 * priceScale
	if got := s.Scan(2, insts, nil, []query.OrderResponse{o}); len(got) != 0 {
		t.Fatalf("no crossing produced %v, want nothing", got)
	}

	insts[0].Price = 48_500 * priceScale
	got = s.Scan(3, insts, nil, []query.OrderResponse{o})
	if !findAction(got, ActionExecute, o.OrderID) {
		t.Fatalf("crossing produced %v, want execute", got)
	}
}

func TestScanRetiresExpiredOrders(t *testing.T) {
	s := NewScanner()
	o := query.OrderResponse{
		OrderID:    uuid.New(),
		Instrument: "ETH-PERP", // No quote for this instrument
		LimitPrice: 3_000 * priceScale,
		ExpiresAt:  100,
		Status:     "pending",
	}

	got := s.Scan(101, nil, nil, []query.OrderResponse{o})
	if !findAction(got, ActionExecute, o.OrderID) {
		t.Fatalf("expired order produced %v, want execute attempt", got)
	}
}

func TestScanSkipsUnquotedInstruments(t *testing.T) {
	s := NewScanner()
	p := openLong("ETH-PERP", 2_000*priceScale)

	if got := s.Scan(1, nil, []query.PositionResponse{p}, nil); len(got) != 0 {
		t.Fatalf("position without a quote produced %v, want nothing", got)
	}
}

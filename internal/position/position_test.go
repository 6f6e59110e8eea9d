package position

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"veilperp/internal/event"
	fpmath "veilperp/internal/math"
	"veilperp/internal/order"
)

const priceScale = 100_000_000

func openPosition(side event.Side) *Position {
	entry := int64(50_000 * priceScale)
	long, short := fpmath.ComputeLiquidationPrices(entry, 2, 2000)
	return &Position{
		ID:            uuid.New(),
		Trader:        uuid.New(),
		InstrumentKey: "BTC-PERP",
		Collateral:    10_000_000, // 10 USD post-fee
		Leverage:      2,
		Size:          20_000_000,
		EntryPrice:    entry,
		LiqPriceLong:  long,
		LiqPriceShort: short,
		Side:          side,
		Params: order.ParamSnapshot{
			OpenFeeBP:           10,
			CloseFeeBP:          10,
			MaintenanceMarginBP: 2000,
			LiquidationBonusBP:  500,
		},
		Status:   StatusOpen,
		OpenedAt: 1_000_000,
		Version:  1,
	}
}

func TestSizeInvariant(t *testing.T) {
	p := openPosition(event.SideLong)
	if p.Size != p.Collateral*p.Leverage {
		t.Errorf("size %d != collateral %d * leverage %d", p.Size, p.Collateral, p.Leverage)
	}
}

func TestSettleCloseLongProfit(t *testing.T) {
	p := openPosition(event.SideLong)

	// 50,000 -> 52,000 on a 2x long with 20 notional
	res, err := p.SettleClose(52_000*priceScale, 2_000_000)
	if err != nil {
		t.Fatalf("SettleClose: %v", err)
	}

	if res.PnL != 800_000 {
		t.Errorf("PnL = %d, want 800000", res.PnL)
	}
	// 10bp of the 10 recorded collateral, not of notional
	if res.CloseFee != 10_000 {
		t.Errorf("CloseFee = %d, want 10000", res.CloseFee)
	}
	if res.Payout != 10_790_000 {
		t.Errorf("Payout = %d, want 10790000", res.Payout)
	}
	if p.Status != StatusClosed {
		t.Errorf("Status = %s, want closed", p.Status)
	}
}

func TestSettleCloseFeeScalesWithCollateral(t *testing.T) {
	// At high leverage the fee base matters: 100bp on 1 collateral is
	// 0.01 regardless of the 10 notional riding on it.
	p := openPosition(event.SideLong)
	p.Collateral = 1_000_000
	p.Leverage = 10
	p.Size = 10_000_000
	p.Params.CloseFeeBP = 100

	res, err := p.SettleClose(p.EntryPrice, 2_000_000)
	if err != nil {
		t.Fatalf("SettleClose: %v", err)
	}
	if res.CloseFee != 10_000 {
		t.Errorf("CloseFee = %d, want 10000", res.CloseFee)
	}
	if res.Payout != 990_000 {
		t.Errorf("Payout = %d, want 990000", res.Payout)
	}
}

func TestSettleCloseShortProfit(t *testing.T) {
	p := openPosition(event.SideShort)

	res, err := p.SettleClose(48_000*priceScale, 2_000_000)
	if err != nil {
		t.Fatalf("SettleClose: %v", err)
	}
	if res.PnL != 800_000 {
		t.Errorf("short PnL = %d, want 800000", res.PnL)
	}
}

func TestSettleClosePayoutClamped(t *testing.T) {
	p := openPosition(event.SideLong)

	// 60% drop on a 2x long wipes collateral; payout clamps at zero
	res, err := p.SettleClose(20_000*priceScale, 2_000_000)
	if err != nil {
		t.Fatalf("SettleClose: %v", err)
	}
	if res.PnL != -12_000_000 {
		t.Errorf("PnL = %d, want -12000000", res.PnL)
	}
	if res.Payout != 0 {
		t.Errorf("Payout = %d, want 0", res.Payout)
	}
}

func TestSettleCloseDoubleCloseRejected(t *testing.T) {
	p := openPosition(event.SideLong)

	if _, err := p.SettleClose(52_000*priceScale, 2_000_000); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if _, err := p.SettleClose(53_000*priceScale, 3_000_000); !errors.Is(err, ErrPositionClosed) {
		t.Errorf("second close error = %v, want ErrPositionClosed", err)
	}
}

func TestSettleCloseUnattributedRejected(t *testing.T) {
	p := openPosition(event.SideUnknown)

	if _, err := p.SettleClose(52_000*priceScale, 2_000_000); !errors.Is(err, ErrDirectionUnresolved) {
		t.Errorf("error = %v, want ErrDirectionUnresolved", err)
	}
	if p.Status != StatusOpen {
		t.Errorf("rejected close changed status to %s", p.Status)
	}
}

func TestLiquidationThresholdOrientation(t *testing.T) {
	p := openPosition(event.SideLong)
	entry := p.EntryPrice

	if p.LiqPriceLong >= entry {
		t.Errorf("long threshold %d not below entry %d", p.LiqPriceLong, entry)
	}
	if p.LiqPriceShort <= entry {
		t.Errorf("short threshold %d not above entry %d", p.LiqPriceShort, entry)
	}

	// 2x with 20% maintenance margin: thresholds at 30,000 and 70,000
	if p.LiqPriceLong != 30_000*priceScale {
		t.Errorf("long threshold = %d, want %d", p.LiqPriceLong, int64(30_000*priceScale))
	}
	if p.LiqPriceShort != 70_000*priceScale {
		t.Errorf("short threshold = %d, want %d", p.LiqPriceShort, int64(70_000*priceScale))
	}
}

func TestLiquidatableAt(t *testing.T) {
	long := openPosition(event.SideLong)
	short := openPosition(event.SideShort)

	tests := []struct {
		name  string
		p     *Position
		price int64
		want  bool
	}{
		{"long above threshold", long, 30_001 * priceScale, false},
		{"long at threshold", long, 30_000 * priceScale, true},
		{"long below threshold", long, 29_000 * priceScale, true},
		{"short below threshold", short, 69_999 * priceScale, false},
		{"short at threshold", short, 70_000 * priceScale, true},
		{"short above threshold", short, 71_000 * priceScale, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.p.LiquidatableAt(tt.price)
			if err != nil {
				t.Fatalf("LiquidatableAt: %v", err)
			}
			if got != tt.want {
				t.Errorf("LiquidatableAt(%d) = %v, want %v", tt.price, got, tt.want)
			}
		})
	}
}

func TestLiquidatableAtUnattributed(t *testing.T) {
	p := openPosition(event.SideUnknown)
	if _, err := p.LiquidatableAt(30_000 * priceScale); !errors.Is(err, ErrDirectionUnresolved) {
		t.Errorf("error = %v, want ErrDirectionUnresolved", err)
	}
}

func TestSettleLiquidation(t *testing.T) {
	p := openPosition(event.SideLong)

	// At the 30,000 threshold the long lost 40% of notional:
	// pnl = -20000/50000 * 20 = -8, remaining = 10 - 8 = 2
	res, err := p.SettleLiquidation(30_000*priceScale, 2_000_000)
	if err != nil {
		t.Fatalf("SettleLiquidation: %v", err)
	}

	if res.PnL != -8_000_000 {
		t.Errorf("PnL = %d, want -8000000", res.PnL)
	}
	if res.Remaining != 2_000_000 {
		t.Errorf("Remaining = %d, want 2000000", res.Remaining)
	}
	// 5% bonus of remaining
	if res.KeeperBonus != 100_000 {
		t.Errorf("KeeperBonus = %d, want 100000", res.KeeperBonus)
	}
	if res.ToPool != 1_900_000 {
		t.Errorf("ToPool = %d, want 1900000", res.ToPool)
	}
	if res.KeeperBonus+res.ToPool != res.Remaining {
		t.Error("bonus + pool != remaining")
	}

	if p.Status != StatusLiquidated {
		t.Errorf("Status = %s, want liquidated", p.Status)
	}
	if p.Payout != 0 {
		t.Errorf("trader payout = %d, want 0", p.Payout)
	}
}

func TestSettleLiquidationUnderwater(t *testing.T) {
	p := openPosition(event.SideLong)

	// Deep past the threshold: remaining clamps at zero, nothing to split
	res, err := p.SettleLiquidation(20_000*priceScale, 2_000_000)
	if err != nil {
		t.Fatalf("SettleLiquidation: %v", err)
	}
	if res.Remaining != 0 || res.KeeperBonus != 0 || res.ToPool != 0 {
		t.Errorf("underwater split = %+v, want all zero", res)
	}
}

func TestManagerAttribute(t *testing.T) {
	m := NewManager()
	p := openPosition(event.SideUnknown)
	if err := m.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, applied, err := m.Attribute(p.ID, event.SideLong)
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if !applied {
		t.Error("first attribution reported not applied")
	}
	if got.Side != event.SideLong {
		t.Errorf("Side = %v, want long", got.Side)
	}

	// Idempotent re-delivery
	_, applied, err = m.Attribute(p.ID, event.SideLong)
	if err != nil {
		t.Errorf("re-attribution: %v", err)
	}
	if applied {
		t.Error("re-attribution reported applied")
	}

	// Conflicting side
	if _, _, err := m.Attribute(p.ID, event.SideShort); !errors.Is(err, ErrDirectionMismatch) {
		t.Errorf("conflict error = %v, want ErrDirectionMismatch", err)
	}

	if _, _, err := m.Attribute(p.ID, event.SideUnknown); !errors.Is(err, ErrDirectionMismatch) {
		t.Errorf("unknown side error = %v, want ErrDirectionMismatch", err)
	}
}

func TestManagerGetOpen(t *testing.T) {
	m := NewManager()
	p := openPosition(event.SideLong)
	if err := m.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := m.GetOpen(p.ID); err != nil {
		t.Errorf("GetOpen(open) = %v", err)
	}
	if _, err := p.SettleClose(52_000*priceScale, 2_000_000); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m.GetOpen(p.ID); !errors.Is(err, ErrPositionClosed) {
		t.Errorf("GetOpen(closed) error = %v, want ErrPositionClosed", err)
	}
	if _, err := m.GetOpen(uuid.New()); !errors.Is(err, ErrUnknownPosition) {
		t.Errorf("GetOpen(missing) error = %v, want ErrUnknownPosition", err)
	}
}

func TestGlobalParamsValidate(t *testing.T) {
	if err := DefaultGlobalParams().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}

	bad := []GlobalParams{
		{MaintenanceMarginBP: 0, LiquidationBonusBP: 500},
		{MaintenanceMarginBP: 10_000, LiquidationBonusBP: 500},
		{MaintenanceMarginBP: 2000, LiquidationBonusBP: -1},
		{MaintenanceMarginBP: 2000, LiquidationBonusBP: 2001},
	}
	for _, g := range bad {
		if err := g.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", g)
		}
	}
}

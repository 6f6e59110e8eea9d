package position

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"veilperp/internal/event"
	fpmath "veilperp/internal/math"
	"veilperp/internal/order"
)

var (
	ErrUnknownPosition     = errors.New("unknown position")
	ErrPositionClosed      = errors.New("position not open")
	ErrNotPositionOwner    = errors.New("caller does not own position")
	ErrNotLiquidatable     = errors.New("position not liquidatable")
	ErrDirectionUnresolved = errors.New("direction not yet attributed")
	ErrDirectionMismatch   = errors.New("attribution conflicts with recorded direction")
)

// Status is the position lifecycle state.
type Status int32

const (
	StatusUnknown Status = iota
	StatusOpen
	StatusClosed
	StatusLiquidated
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Position is a leveraged perpetual position. Collateral is recorded after
// the opening fee, and Size == Collateral * Leverage holds exactly for the
// position's lifetime. Direction starts encrypted: both liquidation
// candidates are carried until attribution selects one.
type Position struct {
	ID            uuid.UUID
	Trader        uuid.UUID
	InstrumentKey string

	Collateral int64 // Quote scale, post-open-fee
	Leverage   int64
	Size       int64 // Collateral * Leverage, immutable
	EntryPrice int64
	OpenFee    int64

	// Liquidation thresholds for both direction candidates, fixed at open
	LiqPriceLong  int64
	LiqPriceShort int64

	Side            event.Side // SideUnknown until the direction resolves
	DirectionHandle uuid.UUID
	StopLossHandle  uuid.UUID // uuid.Nil when unset

	Params order.ParamSnapshot

	Status      Status
	OpenedAt    int64 // Epoch microseconds, versioned input
	ClosedAt    int64
	ExitPrice   int64
	RealizedPnL int64
	Payout      int64

	Version int64
}

// Attributed reports whether the direction has been resolved and applied.
func (p *Position) Attributed() bool {
	return p.Side == event.SideLong || p.Side == event.SideShort
}

// LiquidationPrice returns the active threshold once attributed.
func (p *Position) LiquidationPrice() (int64, error) {
	switch p.Side {
	case event.SideLong:
		return p.LiqPriceLong, nil
	case event.SideShort:
		return p.LiqPriceShort, nil
	default:
		return 0, fmt.Errorf("%w: position %s", ErrDirectionUnresolved, p.ID)
	}
}

// LiquidatableAt reports whether the quote has crossed the active threshold.
// Long positions liquidate at or below their threshold, shorts at or above.
func (p *Position) LiquidatableAt(price int64) (bool, error) {
	threshold, err := p.LiquidationPrice()
	if err != nil {
		return false, err
	}
	switch p.Side {
	case event.SideLong:
		return price <= threshold, nil
	default:
		return price >= threshold, nil
	}
}

// CloseResult is the settlement of a voluntary close.
type CloseResult struct {
	PnL      int64
	CloseFee int64
	Payout   int64 // max(0, collateral + pnl - fee), paid to the trader
}

// SettleClose computes and applies the close settlement. Requires an open,
// attributed position; the caller has already gated price freshness.
func (p *Position) SettleClose(exitPrice, nowMicros int64) (CloseResult, error) {
	if p.Status != StatusOpen {
		return CloseResult{}, fmt.Errorf("%w: %s is %s", ErrPositionClosed, p.ID, p.Status)
	}
	if !p.Attributed() {
		return CloseResult{}, fmt.Errorf("%w: position %s", ErrDirectionUnresolved, p.ID)
	}

	pnl := fpmath.ComputeClosePnL(p.Side.Sign(), p.EntryPrice, exitPrice, p.Size)
	fee := fpmath.ComputeFee(p.Collateral, p.Params.CloseFeeBP)
	payout := fpmath.ClampPayout(p.Collateral, pnl, fee)

	p.Status = StatusClosed
	p.ClosedAt = nowMicros
	p.ExitPrice = exitPrice
	p.RealizedPnL = pnl
	p.Payout = payout
	p.Version++

	return CloseResult{PnL: pnl, CloseFee: fee, Payout: payout}, nil
}

// LiquidationResult is the settlement of a forced close. The trader gets
// nothing; remaining collateral splits between the keeper bonus and the pool.
type LiquidationResult struct {
	PnL         int64
	Remaining   int64 // max(0, collateral + pnl)
	KeeperBonus int64
	ToPool      int64
}

// SettleLiquidation computes and applies a liquidation. The caller has
// already verified LiquidatableAt against a fresh quote.
func (p *Position) SettleLiquidation(exitPrice, nowMicros int64) (LiquidationResult, error) {
	if p.Status != StatusOpen {
		return LiquidationResult{}, fmt.Errorf("%w: %s is %s", ErrPositionClosed, p.ID, p.Status)
	}
	if !p.Attributed() {
		return LiquidationResult{}, fmt.Errorf("%w: position %s", ErrDirectionUnresolved, p.ID)
	}

	pnl := fpmath.ComputeClosePnL(p.Side.Sign(), p.EntryPrice, exitPrice, p.Size)
	remaining := fpmath.ClampPayout(p.Collateral, pnl, 0)
	bonus := fpmath.ComputeFee(remaining, p.Params.LiquidationBonusBP)

	p.Status = StatusLiquidated
	p.ClosedAt = nowMicros
	p.ExitPrice = exitPrice
	p.RealizedPnL = pnl
	p.Payout = 0
	p.Version++

	return LiquidationResult{
		PnL:         pnl,
		Remaining:   remaining,
		KeeperBonus: bonus,
		ToPool:      remaining - bonus,
	}, nil
}

// CanonicalBytes returns a deterministic encoding for state hashing.
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, p.ID[:]...)
	buf = append(buf, p.Trader[:]...)
	buf = append(buf, p.InstrumentKey...)
	buf = append(buf, 0)
	buf = appendInt64LE(buf, p.Collateral)
	buf = appendInt64LE(buf, p.Leverage)
	buf = appendInt64LE(buf, p.Size)
	buf = appendInt64LE(buf, p.EntryPrice)
	buf = appendInt64LE(buf, p.OpenFee)
	buf = appendInt64LE(buf, p.LiqPriceLong)
	buf = appendInt64LE(buf, p.LiqPriceShort)
	buf = appendInt64LE(buf, int64(p.Side))
	buf = append(buf, p.DirectionHandle[:]...)
	buf = append(buf, p.StopLossHandle[:]...)
	buf = appendInt64LE(buf, p.Params.OpenFeeBP)
	buf = appendInt64LE(buf, p.Params.CloseFeeBP)
	buf = appendInt64LE(buf, p.Params.MaintenanceMarginBP)
	buf = appendInt64LE(buf, p.Params.LiquidationBonusBP)
	buf = appendInt64LE(buf, int64(p.Status))
	buf = appendInt64LE(buf, p.OpenedAt)
	buf = appendInt64LE(buf, p.ClosedAt)
	buf = appendInt64LE(buf, p.ExitPrice)
	buf = appendInt64LE(buf, p.RealizedPnL)
	buf = appendInt64LE(buf, p.Payout)
	buf = appendInt64LE(buf, p.Version)
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

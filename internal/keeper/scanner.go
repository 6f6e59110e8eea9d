// Package keeper implements the reference keeper daemon: it watches the
// ledger's read API and submits execute and liquidate commands over NATS.
// Keeping is permissionless; the engine is the arbiter, so every attempt
// here is a suggestion that may lose a race or be rejected outright.
package keeper

import (
	"github.com/google/uuid"

	"veilperp/internal/query"
)

// ActionKind says which command a scan decided to attempt.
type ActionKind int

const (
	ActionExecute ActionKind = iota
	ActionLiquidate
)

func (k ActionKind) String() string {
	if k == ActionExecute {
		return "execute"
	}
	return "liquidate"
}

// Action is one command attempt produced by a scan.
type Action struct {
	Kind   ActionKind
	Target uuid.UUID // Order or position id
}

// Scanner turns projection reads into command attempts. It remembers the
// quote seen on the previous scan per instrument, so pending limit orders
// are only attempted when the price crosses their limit instead of on every
// tick. Not safe for concurrent use.
type Scanner struct {
	lastQuote map[string]int64
}

func NewScanner() *Scanner {
	return &Scanner{lastQuote: make(map[string]int64)}
}

// Scan inspects the current open positions and pending orders against the
// latest quotes and returns the commands worth attempting.
//
// Liquidations fire when the quote crosses the attributed side's threshold.
// Positions carrying a stop-loss are also attempted while under water: the
// trigger itself is encrypted, so the engine is the only party that can tell
// whether the stop has been hit.
func (s *Scanner) Scan(
	nowMicros int64,
	instruments []query.InstrumentResponse,
	positions []query.PositionResponse,
	orders []query.OrderResponse,
) []Action {
	quotes := make(map[string]int64, len(instruments))
	for _, inst := range instruments {
		if inst.HasQuote {
			quotes[inst.Key] = inst.Price
		}
	}

	var actions []Action

	for _, o := range orders {
		if o.ExpiresAt != 0 && o.ExpiresAt <= nowMicros {
			// The engine retires expired orders lazily on the next attempt
			actions = append(actions, Action{Kind: ActionExecute, Target: o.OrderID})
			continue
		}
		price, ok := quotes[o.Instrument]
		if !ok {
			continue
		}
		last, seen := s.lastQuote[o.Instrument]
		if !seen || crossed(last, price, o.LimitPrice) {
			actions = append(actions, Action{Kind: ActionExecute, Target: o.OrderID})
		}
	}

	for _, p := range positions {
		price, ok := quotes[p.Instrument]
		if !ok {
			continue
		}
		switch {
		case p.Side == "long" && price <= p.LiqPriceLong,
			p.Side == "short" && price >= p.LiqPriceShort:
			actions = append(actions, Action{Kind: ActionLiquidate, Target: p.PositionID})
		case p.StopLossSet && p.UnrealizedPnL != nil && *p.UnrealizedPnL < 0:
			actions = append(actions, Action{Kind: ActionLiquidate, Target: p.PositionID})
		}
	}

	for key, price := range quotes {
		s.lastQuote[key] = price
	}
	return actions
}

// crossed reports whether the quote moved to the other side of the limit
// (or onto it) since the last scan. The order's direction is encrypted, so
// a crossing in either direction is worth an attempt.
func crossed(last, current, limit int64) bool {
	if current == limit {
		return true
	}
	return (last < limit) != (current < limit)
}

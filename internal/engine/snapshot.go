package engine

import (
	"fmt"

	"github.com/google/uuid"

	"veilperp/internal/confidential"
	"veilperp/internal/event"
	"veilperp/internal/instrument"
	"veilperp/internal/ledger"
	fpmath "veilperp/internal/math"
	"veilperp/internal/order"
	"veilperp/internal/position"
	"veilperp/internal/risk"
)

// BalanceEntry is one account balance in a snapshot. Map keys cannot be
// structs in JSON, so balances serialize as a list.
type BalanceEntry struct {
	Account ledger.AccountKey `json:"account"`
	Balance int64             `json:"balance"`
}

// SnapshotState is the full engine state at a sequence boundary. Open
// interest is not captured: it is recomputed from orders and positions,
// which are the source of truth for every exposure.
type SnapshotState struct {
	Sequence  int64    `json:"sequence"`
	StateHash [32]byte `json:"state_hash"`

	Balances    []BalanceEntry           `json:"balances"`
	Instruments []*instrument.Instrument `json:"instruments"`
	Orders      []*order.Order           `json:"orders"`
	Positions   []*position.Position     `json:"positions"`
	Handles     []*confidential.Handle   `json:"handles"`

	Params position.GlobalParams `json:"params"`
	Owner  uuid.UUID             `json:"owner"`
	Paused bool                  `json:"paused"`

	SequenceCursors map[string]int64 `json:"sequence_cursors"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
}

// SnapshotState captures the engine for persistence. Call between events
// only; the engine goroutine owns all referenced state.
func (e *Engine) SnapshotState() *SnapshotState {
	balances := e.balances.Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for key, bal := range balances {
		entries = append(entries, BalanceEntry{Account: key, Balance: bal})
	}

	return &SnapshotState{
		Sequence:        e.sequence,
		StateHash:       e.hasher.GetPrevHash(),
		Balances:        entries,
		Instruments:     e.registry.List(),
		Orders:          e.orders.All(),
		Positions:       e.positions.All(),
		Handles:         e.handles.List(),
		Params:          e.params,
		Owner:           e.owner,
		Paused:          e.paused,
		SequenceCursors: e.seqValid.Cursors(),
		IdempotencyKeys: e.idem.RecentKeys(),
	}
}

// RestoreFromSnapshot rebuilds the engine from a snapshot. Open interest
// and handle ownership are rederived from orders and positions so the
// aggregator never disagrees with the records it summarizes.
func (e *Engine) RestoreFromSnapshot(s *SnapshotState) {
	e.sequence = s.Sequence
	e.hasher.SetPrevHash(s.StateHash)

	balances := make(map[ledger.AccountKey]int64, len(s.Balances))
	for _, entry := range s.Balances {
		balances[entry.Account] = entry.Balance
	}
	e.balances.Restore(balances)
	e.journals.SetSequence(s.Sequence + 1)

	e.registry.Restore(s.Instruments)
	e.handles.Restore(s.Handles)

	// A snapshot that cannot load cleanly is corrupt; continuing would
	// diverge the hash chain, so abort like replay does
	e.orders = order.NewBook()
	for _, o := range s.Orders {
		if err := e.orders.Add(o); err != nil {
			panic(fmt.Sprintf("restore order %s: %v", o.ID, err))
		}
	}
	e.positions = position.NewManager()
	for _, p := range s.Positions {
		if err := e.positions.Add(p); err != nil {
			panic(fmt.Sprintf("restore position %s: %v", p.ID, err))
		}
	}

	e.restoreDerivedState(s)

	e.params = s.Params
	e.owner = s.Owner
	e.paused = s.Paused

	for partition, cursor := range s.SequenceCursors {
		e.seqValid.SetExpected(partition, cursor)
	}
	e.idem.WarmFromKeys(s.IdempotencyKeys)
}

func (e *Engine) restoreDerivedState(s *SnapshotState) {
	e.oi = risk.NewAggregator()
	e.handleRefs = make(map[uuid.UUID]handleRef, len(s.Orders))
	for _, o := range s.Orders {
		if o.DirectionHandle == uuid.Nil {
			continue
		}
		if o.Status == order.StatusExecuted {
			e.handleRefs[o.DirectionHandle] = handleRef{target: o.PositionID, isPosition: true}
		} else {
			e.handleRefs[o.DirectionHandle] = handleRef{target: o.ID}
		}
	}
	// Market opens key the order row by the position id
	for _, p := range s.Positions {
		if p.DirectionHandle != uuid.Nil {
			e.handleRefs[p.DirectionHandle] = handleRef{target: p.ID, isPosition: true}
		}
	}

	for _, o := range s.Orders {
		if o.Status == order.StatusPending {
			e.oi.RestoreExposure(o.InstrumentKey, o.ID, fpmath.ComputeSize(o.Collateral, o.Leverage), event.SideUnknown)
		}
	}
	for _, p := range s.Positions {
		if p.Status == position.StatusOpen {
			e.oi.RestoreExposure(p.InstrumentKey, p.ID, p.Size, p.Side)
		}
	}
}

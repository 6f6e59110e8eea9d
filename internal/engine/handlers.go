package engine

import (
	"crypto/ed25519"
	"errors"
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

// Deterministic handle and position ids, derived so replay mints the same
// ids without any randomness in the engine.
var (
	directionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("veilperp:direction"))
	stopLossNamespace  = uuid.NewSHA1(uuid.NameSpaceOID, []byte("veilperp:stop_loss"))
	positionNamespace  = uuid.NewSHA1(uuid.NameSpaceOID, []byte("veilperp:position"))
)

func directionHandleID(owner uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(directionNamespace, owner[:])
}

func stopLossHandleID(seed uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(stopLossNamespace, seed[:])
}

func executedPositionID(orderID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(positionNamespace, orderID[:])
}

const (
	audiencePublic = "public"
	audienceLedger = "ledger"
)

func (e *Engine) handlePriceUpdate(ev *event.PriceUpdate) (dispatchResult, error) {
	if ev.Caller != e.owner {
		return dispatchResult{}, fmt.Errorf("%w: trusted price from %s", ErrNotOwner, ev.Caller)
	}

	inst, err := e.gateway.ApplyTrusted(ev.InstrumentKey, ev.Price, ev.PriceSequence, ev.PriceTimestamp)
	if err != nil {
		return dispatchResult{}, err
	}
	return dispatchResult{
		touched:     [][]byte{inst.CanonicalBytes()},
		instruments: []instrument.Instrument{*inst},
	}, nil
}

func (e *Engine) handlePriceProofUpdate(ev *event.PriceProofUpdate) (dispatchResult, error) {
	inst, err := e.gateway.ApplyWithProof(ev.InstrumentKey, ev.Price, ev.PriceSequence, ev.PriceTimestamp, ev.FeedID, ev.Signature)
	if err != nil {
		return dispatchResult{}, err
	}
	return dispatchResult{
		touched:     [][]byte{inst.CanonicalBytes()},
		instruments: []instrument.Instrument{*inst},
	}, nil
}

func (e *Engine) handleOpenPosition(ev *event.OpenPosition) (dispatchResult, error) {
	if e.paused {
		return dispatchResult{}, ErrPaused
	}
	ts := ev.Timestamp.UnixMicro()

	quote, inst, err := e.gateway.FreshQuote(ev.InstrumentKey, ts)
	if err != nil {
		return dispatchResult{}, err
	}
	if ev.Collateral < inst.MinCollateral || ev.Collateral > inst.MaxCollateral {
		return dispatchResult{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidCollateral, ev.Collateral, inst.MinCollateral, inst.MaxCollateral)
	}
	if ev.Leverage < 1 || ev.Leverage > inst.MaxLeverage {
		return dispatchResult{}, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidLeverage, ev.Leverage, inst.MaxLeverage)
	}

	openFee := fpmath.ComputeFee(ev.Collateral, inst.OpenFeeBP)
	recorded := ev.Collateral - openFee
	if recorded <= 0 {
		return dispatchResult{}, fmt.Errorf("%w: %d does not cover the opening fee %d", ErrInvalidCollateral, ev.Collateral, openFee)
	}
	size := fpmath.ComputeSize(recorded, ev.Leverage)

	// Validate everything fallible before the first mutation
	dirID := directionHandleID(ev.PositionID)
	dirCtx := fmt.Sprintf("position:%s:direction", ev.PositionID)
	if e.handles.Has(dirID) {
		return dispatchResult{}, fmt.Errorf("direction handle %s already ingested", dirID)
	}
	if err := confidential.VerifyPayload(ev.Direction, ev.Trader, ed25519.PublicKey(ev.SubmitterKey), dirCtx); err != nil {
		return dispatchResult{}, err
	}

	var slID uuid.UUID
	var slCtx string
	if ev.StopLoss != nil {
		slID = stopLossHandleID(ev.PositionID)
		slCtx = fmt.Sprintf("position:%s:stop_loss", ev.PositionID)
		if e.handles.Has(slID) {
			return dispatchResult{}, fmt.Errorf("stop-loss handle %s already ingested", slID)
		}
		if err := confidential.VerifyPayload(*ev.StopLoss, ev.Trader, ed25519.PublicKey(ev.SubmitterKey), slCtx); err != nil {
			return dispatchResult{}, err
		}
	}

	totals := e.oi.TotalsFor(ev.InstrumentKey)
	if totals.Total()+size > inst.MaxOpenInterest {
		return dispatchResult{}, fmt.Errorf("%w: %s open interest %d + %d > cap %d",
			risk.ErrInsufficientLiquidity, ev.InstrumentKey, totals.Total(), size, inst.MaxOpenInterest)
	}

	batch, err := e.journals.GenerateMarketOpen(ev.Trader, ev.PositionID, recorded, openFee, ts)
	if err != nil {
		return dispatchResult{}, err
	}

	dirHandle, err := e.handles.Ingest(dirID, confidential.KindDirection, ev.Direction, ev.Trader, ed25519.PublicKey(ev.SubmitterKey), dirCtx)
	if err != nil {
		return dispatchResult{}, err
	}
	if _, err := e.handles.GrantLedger(dirID); err != nil {
		return dispatchResult{}, err
	}
	// Market positions publish immediately: the resolver answers in public
	// and the position attributes when the answer lands
	if _, err := e.handles.Publish(dirID); err != nil {
		return dispatchResult{}, err
	}

	reveals := []RevealRequest{{
		HandleID:   dirID,
		Kind:       confidential.KindDirection,
		Audience:   audiencePublic,
		Context:    dirCtx,
		Ciphertext: dirHandle.Ciphertext,
		Commitment: dirHandle.Commitment[:],
	}}

	params := e.snapshotParams(inst)
	liqLong, liqShort := fpmath.ComputeLiquidationPrices(quote.Price, ev.Leverage, params.MaintenanceMarginBP)

	pos := &position.Position{
		ID:              ev.PositionID,
		Trader:          ev.Trader,
		InstrumentKey:   ev.InstrumentKey,
		Collateral:      recorded,
		Leverage:        ev.Leverage,
		Size:            size,
		EntryPrice:      quote.Price,
		OpenFee:         openFee,
		LiqPriceLong:    liqLong,
		LiqPriceShort:   liqShort,
		Side:            event.SideUnknown,
		DirectionHandle: dirID,
		Params:          params,
		Status:          position.StatusOpen,
		OpenedAt:        ts,
		Version:         1,
	}

	touched := make([][]byte, 0, 4)
	if ev.StopLoss != nil {
		slHandle, err := e.handles.Ingest(slID, confidential.KindStopLoss, *ev.StopLoss, ev.Trader, ed25519.PublicKey(ev.SubmitterKey), slCtx)
		if err != nil {
			return dispatchResult{}, err
		}
		if _, err := e.handles.GrantLedger(slID); err != nil {
			return dispatchResult{}, err
		}
		pos.StopLossHandle = slID
		reveals = append(reveals, RevealRequest{
			HandleID:   slID,
			Kind:       confidential.KindStopLoss,
			Audience:   audienceLedger,
			Context:    slCtx,
			Ciphertext: slHandle.Ciphertext,
			Commitment: slHandle.Commitment[:],
		})
		touched = append(touched, slHandle.CanonicalBytes())
	}

	if err := e.oi.Reserve(ev.InstrumentKey, ev.PositionID, size, inst.MaxOpenInterest); err != nil {
		return dispatchResult{}, err
	}
	if err := e.positions.Add(pos); err != nil {
		return dispatchResult{}, err
	}
	e.handleRefs[dirID] = handleRef{target: ev.PositionID, isPosition: true}

	// Every position traces back to an order row; market opens record an
	// already-executed one
	rec := &order.Order{
		ID:              ev.PositionID,
		Trader:          ev.Trader,
		InstrumentKey:   ev.InstrumentKey,
		Collateral:      ev.Collateral,
		Leverage:        ev.Leverage,
		DirectionHandle: dirID,
		Params:          params,
		Status:          order.StatusExecuted,
		PositionID:      ev.PositionID,
		CreatedAt:       ts,
		ClosedAt:        ts,
		Version:         1,
	}
	if err := e.orders.Add(rec); err != nil {
		return dispatchResult{}, err
	}

	touched = append(touched, dirHandle.CanonicalBytes(), pos.CanonicalBytes(), rec.CanonicalBytes(), e.oi.CanonicalBytes())
	return dispatchResult{
		batch:     batch,
		touched:   touched,
		reveals:   reveals,
		orders:    []order.Order{*rec},
		positions: []position.Position{*pos},
	}, nil
}

func (e *Engine) handleCreateLimitOrder(ev *event.CreateLimitOrder) (dispatchResult, error) {
	if e.paused {
		return dispatchResult{}, ErrPaused
	}
	ts := ev.Timestamp.UnixMicro()

	inst, err := e.registry.GetActive(ev.InstrumentKey)
	if err != nil {
		return dispatchResult{}, err
	}
	if ev.Collateral < inst.MinCollateral || ev.Collateral > inst.MaxCollateral {
		return dispatchResult{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidCollateral, ev.Collateral, inst.MinCollateral, inst.MaxCollateral)
	}
	if ev.Leverage < 1 || ev.Leverage > inst.MaxLeverage {
		return dispatchResult{}, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidLeverage, ev.Leverage, inst.MaxLeverage)
	}
	if ev.LimitPrice <= 0 {
		return dispatchResult{}, fmt.Errorf("limit price must be positive, got %d", ev.LimitPrice)
	}
	if ev.ExpiresAt != 0 && ev.ExpiresAt <= ts {
		return dispatchResult{}, fmt.Errorf("%w: expires_at %d <= now %d", ErrOrderNotExpirable, ev.ExpiresAt, ts)
	}

	dirID := directionHandleID(ev.OrderID)
	dirCtx := fmt.Sprintf("order:%s:direction", ev.OrderID)
	if e.handles.Has(dirID) {
		return dispatchResult{}, fmt.Errorf("direction handle %s already ingested", dirID)
	}
	if err := confidential.VerifyPayload(ev.Direction, ev.Trader, ed25519.PublicKey(ev.SubmitterKey), dirCtx); err != nil {
		return dispatchResult{}, err
	}

	// The escrowed (pre-fee) notional counts against the cap; execution
	// resizes it down to the post-fee size
	size := fpmath.ComputeSize(ev.Collateral, ev.Leverage)
	totals := e.oi.TotalsFor(ev.InstrumentKey)
	if totals.Total()+size > inst.MaxOpenInterest {
		return dispatchResult{}, fmt.Errorf("%w: %s open interest %d + %d > cap %d",
			risk.ErrInsufficientLiquidity, ev.InstrumentKey, totals.Total(), size, inst.MaxOpenInterest)
	}

	batch, err := e.journals.GenerateOrderEscrow(ev.Trader, ev.OrderID, ev.Collateral, ts)
	if err != nil {
		return dispatchResult{}, err
	}

	dirHandle, err := e.handles.Ingest(dirID, confidential.KindDirection, ev.Direction, ev.Trader, ed25519.PublicKey(ev.SubmitterKey), dirCtx)
	if err != nil {
		return dispatchResult{}, err
	}
	// The ledger needs the side at execution time; the public does not
	if _, err := e.handles.GrantLedger(dirID); err != nil {
		return dispatchResult{}, err
	}

	if err := e.oi.Reserve(ev.InstrumentKey, ev.OrderID, size, inst.MaxOpenInterest); err != nil {
		return dispatchResult{}, err
	}

	o := &order.Order{
		ID:              ev.OrderID,
		Trader:          ev.Trader,
		InstrumentKey:   ev.InstrumentKey,
		Collateral:      ev.Collateral,
		Leverage:        ev.Leverage,
		LimitPrice:      ev.LimitPrice,
		ExpiresAt:       ev.ExpiresAt,
		DirectionHandle: dirID,
		Params:          e.snapshotParams(inst),
		Status:          order.StatusPending,
		CreatedAt:       ts,
		Version:         1,
	}
	if err := e.orders.Add(o); err != nil {
		return dispatchResult{}, err
	}
	e.handleRefs[dirID] = handleRef{target: ev.OrderID}

	reveals := []RevealRequest{{
		HandleID:   dirID,
		Kind:       confidential.KindDirection,
		Audience:   audienceLedger,
		Context:    dirCtx,
		Ciphertext: dirHandle.Ciphertext,
		Commitment: dirHandle.Commitment[:],
	}}

	return dispatchResult{
		batch:   batch,
		touched: [][]byte{dirHandle.CanonicalBytes(), o.CanonicalBytes(), e.oi.CanonicalBytes()},
		reveals: reveals,
		orders:  []order.Order{*o},
	}, nil
}

func (e *Engine) handleCancelOrder(ev *event.CancelOrder) (dispatchResult, error) {
	o, err := e.orders.Get(ev.OrderID)
	if err != nil {
		return dispatchResult{}, err
	}
	if ev.Caller != o.Trader {
		return dispatchResult{}, fmt.Errorf("%w: %s", order.ErrNotOrderOwner, ev.Caller)
	}
	if o.Status != order.StatusPending {
		return dispatchResult{}, fmt.Errorf("%w: %s is %s", order.ErrOrderNotPending, o.ID, o.Status)
	}

	ts := ev.Timestamp.UnixMicro()
	return e.retireOrder(o, ts, o.ExpiredAt(ts))
}

// retireOrder flips a pending order to its terminal refunded state and
// releases its escrow and reserved open interest.
func (e *Engine) retireOrder(o *order.Order, ts int64, expired bool) (dispatchResult, error) {
	batch, err := e.journals.GenerateOrderRefund(o.Trader, o.ID, o.Collateral, ts)
	if err != nil {
		return dispatchResult{}, err
	}

	to := order.StatusCancelled
	if expired {
		to = order.StatusExpired
	}
	if err := o.Transition(to, ts); err != nil {
		return dispatchResult{}, err
	}
	if err := e.oi.Release(o.ID); err != nil {
		return dispatchResult{}, err
	}

	return dispatchResult{
		batch:   batch,
		touched: [][]byte{o.CanonicalBytes(), e.oi.CanonicalBytes()},
		orders:  []order.Order{*o},
	}, nil
}

func (e *Engine) handleExecuteOrder(ev *event.ExecuteOrder) (dispatchResult, error) {
	o, err := e.orders.Get(ev.OrderID)
	if err != nil {
		return dispatchResult{}, err
	}
	if o.Status != order.StatusPending {
		return dispatchResult{}, fmt.Errorf("%w: %s is %s", order.ErrOrderNotPending, o.ID, o.Status)
	}

	ts := ev.Timestamp.UnixMicro()
	// Expiry is lazy: the first attempt past the deadline flips and refunds
	// instead of filling. This applies even while paused, like a cancel.
	if o.ExpiredAt(ts) {
		return e.retireOrder(o, ts, true)
	}

	if e.paused {
		return dispatchResult{}, ErrPaused
	}

	side, err := e.handles.LedgerDirection(o.DirectionHandle)
	if err != nil {
		if errors.Is(err, confidential.ErrUnresolved) || errors.Is(err, confidential.ErrUnauthorized) {
			return dispatchResult{}, fmt.Errorf("%w: order %s", position.ErrDirectionUnresolved, o.ID)
		}
		return dispatchResult{}, err
	}

	quote, _, err := e.gateway.FreshQuote(o.InstrumentKey, ts)
	if err != nil {
		return dispatchResult{}, err
	}
	if !o.SatisfiesLimit(side.Sign(), quote.Price) {
		return dispatchResult{}, fmt.Errorf("%w: order %s at %d", order.ErrLimitNotReached, o.ID, quote.Price)
	}

	// Fees come from the snapshot pinned at creation, not current config
	openFee := fpmath.ComputeFee(o.Collateral, o.Params.OpenFeeBP)
	recorded := o.Collateral - openFee
	if recorded <= 0 {
		return dispatchResult{}, fmt.Errorf("%w: escrow %d does not cover the opening fee %d", ErrInvalidCollateral, o.Collateral, openFee)
	}
	size := fpmath.ComputeSize(recorded, o.Leverage)

	posID := executedPositionID(o.ID)
	batch, err := e.journals.GenerateExecutedOpen(o.Trader, posID, recorded, openFee, ts)
	if err != nil {
		return dispatchResult{}, err
	}

	if err := e.oi.Rekey(o.ID, posID); err != nil {
		return dispatchResult{}, err
	}
	if err := e.oi.Resize(posID, size); err != nil {
		return dispatchResult{}, err
	}
	if err := e.oi.Attribute(posID, side); err != nil {
		return dispatchResult{}, err
	}

	// Execution makes the direction public: open interest now carries it
	dirHandle, err := e.handles.Publish(o.DirectionHandle)
	if err != nil {
		return dispatchResult{}, err
	}

	liqLong, liqShort := fpmath.ComputeLiquidationPrices(quote.Price, o.Leverage, o.Params.MaintenanceMarginBP)
	pos := &position.Position{
		ID:              posID,
		Trader:          o.Trader,
		InstrumentKey:   o.InstrumentKey,
		Collateral:      recorded,
		Leverage:        o.Leverage,
		Size:            size,
		EntryPrice:      quote.Price,
		OpenFee:         openFee,
		LiqPriceLong:    liqLong,
		LiqPriceShort:   liqShort,
		Side:            side,
		DirectionHandle: o.DirectionHandle,
		Params:          o.Params,
		Status:          position.StatusOpen,
		OpenedAt:        ts,
		Version:         1,
	}
	if err := e.positions.Add(pos); err != nil {
		return dispatchResult{}, err
	}
	e.handleRefs[o.DirectionHandle] = handleRef{target: posID, isPosition: true}

	if err := o.Transition(order.StatusExecuted, ts); err != nil {
		return dispatchResult{}, err
	}
	o.PositionID = posID

	return dispatchResult{
		batch:     batch,
		touched:   [][]byte{o.CanonicalBytes(), pos.CanonicalBytes(), dirHandle.CanonicalBytes(), e.oi.CanonicalBytes()},
		orders:    []order.Order{*o},
		positions: []position.Position{*pos},
	}, nil
}

func (e *Engine) handleClosePosition(ev *event.ClosePosition) (dispatchResult, error) {
	p, err := e.positions.GetOpen(ev.PositionID)
	if err != nil {
		return dispatchResult{}, err
	}
	if ev.Caller != p.Trader {
		return dispatchResult{}, fmt.Errorf("%w: %s", position.ErrNotPositionOwner, ev.Caller)
	}
	if !p.Attributed() {
		return dispatchResult{}, fmt.Errorf("%w: position %s", position.ErrDirectionUnresolved, p.ID)
	}
	if ev.Direction != p.Side {
		return dispatchResult{}, fmt.Errorf("%w: close asserts %s, position is %s",
			position.ErrDirectionMismatch, ev.Direction, p.Side)
	}

	ts := ev.Timestamp.UnixMicro()
	quote, _, err := e.gateway.FreshQuote(p.InstrumentKey, ts)
	if err != nil {
		return dispatchResult{}, err
	}

	res, err := p.SettleClose(quote.Price, ts)
	if err != nil {
		return dispatchResult{}, err
	}

	batch, err := e.journals.GenerateClose(p.Trader, p.ID, p.Collateral, res.PnL, res.CloseFee, res.Payout, ts)
	if err != nil {
		// Settlement and journal arithmetic disagree: a defect, not input
		panic(fmt.Sprintf("close %s: %v", p.ID, err))
	}
	if err := e.oi.Release(p.ID); err != nil {
		return dispatchResult{}, err
	}

	return dispatchResult{
		batch:     batch,
		touched:   [][]byte{p.CanonicalBytes(), e.oi.CanonicalBytes()},
		positions: []position.Position{*p},
	}, nil
}

func (e *Engine) handleLiquidate(ev *event.Liquidate) (dispatchResult, error) {
	p, err := e.positions.GetOpen(ev.PositionID)
	if err != nil {
		return dispatchResult{}, err
	}
	if !p.Attributed() {
		return dispatchResult{}, fmt.Errorf("%w: position %s", position.ErrDirectionUnresolved, p.ID)
	}

	ts := ev.Timestamp.UnixMicro()
	quote, _, err := e.gateway.FreshQuote(p.InstrumentKey, ts)
	if err != nil {
		return dispatchResult{}, err
	}

	liquidatable, err := p.LiquidatableAt(quote.Price)
	if err != nil {
		return dispatchResult{}, err
	}
	if liquidatable {
		res, err := p.SettleLiquidation(quote.Price, ts)
		if err != nil {
			return dispatchResult{}, err
		}
		batch, err := e.journals.GenerateLiquidation(p.Trader, ev.Keeper, p.ID, p.Collateral, res.PnL, res.KeeperBonus, res.ToPool, ts)
		if err != nil {
			panic(fmt.Sprintf("liquidate %s: %v", p.ID, err))
		}
		if err := e.oi.Release(p.ID); err != nil {
			return dispatchResult{}, err
		}
		return dispatchResult{
			batch:     batch,
			touched:   [][]byte{p.CanonicalBytes(), e.oi.CanonicalBytes()},
			positions: []position.Position{*p},
		}, nil
	}

	// Not at the margin threshold: the attempt may still trigger a revealed
	// stop-loss, settling as a protective close with a keeper cut
	return e.tryStopClose(p, ev.Keeper, quote.Price, ts)
}

func (e *Engine) tryStopClose(p *position.Position, keeper uuid.UUID, price, ts int64) (dispatchResult, error) {
	if p.StopLossHandle == uuid.Nil {
		return dispatchResult{}, fmt.Errorf("%w: position %s", position.ErrNotLiquidatable, p.ID)
	}
	plaintext, err := e.handles.Resolve(p.StopLossHandle, uuid.Nil, true)
	if err != nil {
		return dispatchResult{}, fmt.Errorf("%w: stop-loss for %s not readable", position.ErrNotLiquidatable, p.ID)
	}
	stop, err := confidential.ParseStopLoss(plaintext)
	if err != nil {
		return dispatchResult{}, err
	}

	triggered := (p.Side == event.SideLong && price <= stop) ||
		(p.Side == event.SideShort && price >= stop)
	if !triggered {
		return dispatchResult{}, fmt.Errorf("%w: position %s, stop %d, price %d", position.ErrNotLiquidatable, p.ID, stop, price)
	}

	res, err := p.SettleClose(price, ts)
	if err != nil {
		return dispatchResult{}, err
	}
	bonus := fpmath.ComputeFee(res.Payout, p.Params.LiquidationBonusBP)
	traderPayout := res.Payout - bonus
	p.Payout = traderPayout

	batch, err := e.journals.GenerateStopClose(p.Trader, keeper, p.ID, p.Collateral, res.PnL, res.CloseFee, bonus, traderPayout, ts)
	if err != nil {
		panic(fmt.Sprintf("stop close %s: %v", p.ID, err))
	}
	if err := e.oi.Release(p.ID); err != nil {
		return dispatchResult{}, err
	}

	return dispatchResult{
		batch:     batch,
		touched:   [][]byte{p.CanonicalBytes(), e.oi.CanonicalBytes()},
		positions: []position.Position{*p},
	}, nil
}

func (e *Engine) handleSetStopLoss(ev *event.SetStopLoss) (dispatchResult, error) {
	p, err := e.positions.GetOpen(ev.PositionID)
	if err != nil {
		return dispatchResult{}, err
	}
	if ev.Caller != p.Trader {
		return dispatchResult{}, fmt.Errorf("%w: %s", position.ErrNotPositionOwner, ev.Caller)
	}

	slID := stopLossHandleID(ev.RequestID)
	slCtx := fmt.Sprintf("position:%s:stop_loss", p.ID)
	if e.handles.Has(slID) {
		return dispatchResult{}, fmt.Errorf("stop-loss handle %s already ingested", slID)
	}

	slHandle, err := e.handles.Ingest(slID, confidential.KindStopLoss, ev.StopLoss, p.Trader, ed25519.PublicKey(ev.SubmitterKey), slCtx)
	if err != nil {
		return dispatchResult{}, err
	}
	if _, err := e.handles.GrantLedger(slID); err != nil {
		return dispatchResult{}, err
	}

	// Replaces any earlier trigger; the old handle stays resolved but inert
	p.StopLossHandle = slID
	p.Version++

	reveals := []RevealRequest{{
		HandleID:   slID,
		Kind:       confidential.KindStopLoss,
		Audience:   audienceLedger,
		Context:    slCtx,
		Ciphertext: slHandle.Ciphertext,
		Commitment: slHandle.Commitment[:],
	}}

	return dispatchResult{
		touched:   [][]byte{slHandle.CanonicalBytes(), p.CanonicalBytes()},
		reveals:   reveals,
		positions: []position.Position{*p},
	}, nil
}

func (e *Engine) handleDirectionResolved(ev *event.DirectionResolved) (dispatchResult, error) {
	h, err := e.handles.ApplyResolution(ev.HandleID, ev.Plaintext, ev.Nonce)
	if err != nil {
		return dispatchResult{}, err
	}

	touched := [][]byte{h.CanonicalBytes()}
	var positions []position.Position

	if h.Kind == confidential.KindDirection {
		if ref, ok := e.handleRefs[ev.HandleID]; ok && ref.isPosition {
			side, err := confidential.ParseDirection(h.Plaintext)
			if err != nil {
				return dispatchResult{}, err
			}
			p, applied, err := e.positions.Attribute(ref.target, side)
			if err != nil {
				return dispatchResult{}, err
			}
			if applied {
				if err := e.oi.Attribute(ref.target, side); err != nil {
					return dispatchResult{}, err
				}
				touched = append(touched, p.CanonicalBytes(), e.oi.CanonicalBytes())
				positions = append(positions, *p)
			}
		}
	}

	return dispatchResult{touched: touched, positions: positions}, nil
}

func (e *Engine) handleInstrumentUpdate(ev *event.InstrumentUpdate) (dispatchResult, error) {
	if ev.Caller != e.owner {
		return dispatchResult{}, fmt.Errorf("%w: %s", ErrNotOwner, ev.Caller)
	}

	inst, err := e.registry.Apply(instrument.Config{
		Key:                ev.InstrumentKey,
		Active:             ev.Active,
		MaxLeverage:        ev.MaxLeverage,
		MaxDeviationBP:     ev.MaxDeviationBP,
		MaxStalenessMicros: ev.MaxStalenessMicros,
		MaxOpenInterest:    ev.MaxOpenInterest,
		MinCollateral:      ev.MinCollateral,
		MaxCollateral:      ev.MaxCollateral,
		OpenFeeBP:          ev.OpenFeeBP,
		CloseFeeBP:         ev.CloseFeeBP,
	})
	if err != nil {
		return dispatchResult{}, err
	}
	return dispatchResult{
		touched:     [][]byte{inst.CanonicalBytes()},
		instruments: []instrument.Instrument{*inst},
	}, nil
}

func (e *Engine) handleFeeParamUpdate(ev *event.FeeParamUpdate) (dispatchResult, error) {
	if ev.Caller != e.owner {
		return dispatchResult{}, fmt.Errorf("%w: %s", ErrNotOwner, ev.Caller)
	}

	params := position.GlobalParams{
		MaintenanceMarginBP: ev.MaintenanceMarginBP,
		LiquidationBonusBP:  ev.LiquidationBonusBP,
	}
	if err := params.Validate(); err != nil {
		return dispatchResult{}, err
	}
	e.params = params

	buf := make([]byte, 0, 17)
	buf = append(buf, 'G')
	buf = appendInt64LE(buf, params.MaintenanceMarginBP)
	buf = appendInt64LE(buf, params.LiquidationBonusBP)
	return dispatchResult{touched: [][]byte{buf}}, nil
}

func (e *Engine) handlePauseUpdate(ev *event.PauseUpdate) (dispatchResult, error) {
	if ev.Caller != e.owner {
		return dispatchResult{}, fmt.Errorf("%w: %s", ErrNotOwner, ev.Caller)
	}
	e.paused = ev.Paused

	flag := byte(0)
	if e.paused {
		flag = 1
	}
	return dispatchResult{touched: [][]byte{{'P', flag}}}, nil
}

func (e *Engine) handleOwnershipTransfer(ev *event.OwnershipTransfer) (dispatchResult, error) {
	if ev.Caller != e.owner {
		return dispatchResult{}, fmt.Errorf("%w: %s", ErrNotOwner, ev.Caller)
	}
	if ev.NewOwner == uuid.Nil {
		return dispatchResult{}, fmt.Errorf("new owner must not be nil")
	}
	e.owner = ev.NewOwner

	buf := make([]byte, 0, 17)
	buf = append(buf, 'O')
	buf = append(buf, ev.NewOwner[:]...)
	return dispatchResult{touched: [][]byte{buf}}, nil
}

// snapshotParams pins the fee and margin parameters in force right now.
func (e *Engine) snapshotParams(inst *instrument.Instrument) order.ParamSnapshot {
	return order.ParamSnapshot{
		OpenFeeBP:           inst.OpenFeeBP,
		CloseFeeBP:          inst.CloseFeeBP,
		MaintenanceMarginBP: e.params.MaintenanceMarginBP,
		LiquidationBonusBP:  e.params.LiquidationBonusBP,
	}
}

// Registry exposes read access for the query service.
func (e *Engine) Registry() *instrument.Registry { return e.registry }

// Orders exposes read access for the query service.
func (e *Engine) Orders() *order.Book { return e.orders }

// Positions exposes read access for the query service.
func (e *Engine) Positions() *position.Manager { return e.positions }

// Balances exposes read access for the query service.
func (e *Engine) Balances() *ledger.BalanceTracker { return e.balances }

// OpenInterest exposes read access for the query service.
func (e *Engine) OpenInterest() *risk.Aggregator { return e.oi }

// Handles exposes read access for the query service.
func (e *Engine) Handles() *confidential.Store { return e.handles }

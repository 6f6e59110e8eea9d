package ingestion

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"veilperp/internal/event"
)

// AdminInjector provides manual event injection for the operator surface.
// It is for admin operations and incident recovery, not for high-throughput
// ingestion (use NATS for that). Injected commands draw from a local
// sequence counter, so the injector and the NATS command stream must not be
// mixed on a live engine.
type AdminInjector struct {
	eventChan chan<- event.Event
	caller    uuid.UUID
	cmdSeq    atomic.Int64
}

func NewAdminInjector(eventChan chan<- event.Event, caller uuid.UUID, startSeq int64) *AdminInjector {
	inj := &AdminInjector{
		eventChan: eventChan,
		caller:    caller,
	}
	inj.cmdSeq.Store(startSeq)
	return inj
}

func (s *AdminInjector) nextSeq() int64 {
	return s.cmdSeq.Add(1) - 1
}

func (s *AdminInjector) send(ctx context.Context, evt event.Event) error {
	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectTrustedPrice injects a trusted price on the privileged bypass path.
func (s *AdminInjector) InjectTrustedPrice(
	ctx context.Context,
	instrument string,
	price int64,
	priceSequence int64,
) error {
	if price <= 0 {
		return fmt.Errorf("price must be positive")
	}

	return s.send(ctx, &event.PriceUpdate{
		InstrumentKey:  instrument,
		Price:          price,
		PriceSequence:  priceSequence,
		PriceTimestamp: time.Now().UnixMicro(),
		Caller:         s.caller,
	})
}

// InjectInstrumentUpdate registers or reconfigures an instrument.
func (s *AdminInjector) InjectInstrumentUpdate(
	ctx context.Context,
	instrument string,
	active bool,
	maxLeverage int64,
	maxDeviationBP int64,
	maxStalenessMicros int64,
	maxOpenInterest int64,
	minCollateral int64,
	maxCollateral int64,
	openFeeBP int64,
	closeFeeBP int64,
) error {
	if maxLeverage < 1 {
		return fmt.Errorf("max leverage must be at least 1")
	}

	return s.send(ctx, &event.InstrumentUpdate{
		RequestID:          uuid.New(),
		Caller:             s.caller,
		InstrumentKey:      instrument,
		Active:             active,
		MaxLeverage:        maxLeverage,
		MaxDeviationBP:     maxDeviationBP,
		MaxStalenessMicros: maxStalenessMicros,
		MaxOpenInterest:    maxOpenInterest,
		MinCollateral:      minCollateral,
		MaxCollateral:      maxCollateral,
		OpenFeeBP:          openFeeBP,
		CloseFeeBP:         closeFeeBP,
		CmdSequence:        s.nextSeq(),
		Timestamp:          time.Now(),
	})
}

// InjectFeeParams updates the global margin parameters.
func (s *AdminInjector) InjectFeeParams(
	ctx context.Context,
	maintenanceMarginBP int64,
	liquidationBonusBP int64,
) error {
	return s.send(ctx, &event.FeeParamUpdate{
		RequestID:           uuid.New(),
		Caller:              s.caller,
		MaintenanceMarginBP: maintenanceMarginBP,
		LiquidationBonusBP:  liquidationBonusBP,
		CmdSequence:         s.nextSeq(),
		Timestamp:           time.Now(),
	})
}

// InjectPause flips the circuit breaker.
func (s *AdminInjector) InjectPause(ctx context.Context, paused bool) error {
	return s.send(ctx, &event.PauseUpdate{
		RequestID:   uuid.New(),
		Caller:      s.caller,
		Paused:      paused,
		CmdSequence: s.nextSeq(),
		Timestamp:   time.Now(),
	})
}

// InjectOwnershipTransfer hands admin control to a new owner. Subsequent
// injections from this injector will be rejected by the engine.
func (s *AdminInjector) InjectOwnershipTransfer(ctx context.Context, newOwner uuid.UUID) error {
	if newOwner == uuid.Nil {
		return fmt.Errorf("new owner must be set")
	}

	return s.send(ctx, &event.OwnershipTransfer{
		RequestID:   uuid.New(),
		Caller:      s.caller,
		NewOwner:    newOwner,
		CmdSequence: s.nextSeq(),
		Timestamp:   time.Now(),
	})
}

package event

import (
	"time"

	"github.com/google/uuid"
)

// InstrumentUpdate registers a new instrument or reconfigures an existing
// one. The registry is append-only: instruments are deactivated, never
// removed. Owner-only.
type InstrumentUpdate struct {
	RequestID          uuid.UUID // Idempotency key
	Caller             uuid.UUID
	InstrumentKey      string
	Active             bool
	MaxLeverage        int64
	MaxDeviationBP     int64 // Proofed-path price move bound, basis points
	MaxStalenessMicros int64 // Quote age bound for mutating consumers
	MaxOpenInterest    int64 // Fixed-point: quote scale; creation-time gate
	MinCollateral      int64 // Fixed-point: quote scale; posted collateral bounds
	MaxCollateral      int64
	OpenFeeBP          int64
	CloseFeeBP         int64
	CmdSequence        int64
	Timestamp          time.Time
}

func (i *InstrumentUpdate) IdempotencyKey() string {
	return i.RequestID.String()
}

func (i *InstrumentUpdate) EventType() EventType {
	return EventTypeInstrumentUpdate
}

func (i *InstrumentUpdate) Instrument() *string {
	return &i.InstrumentKey
}

func (i *InstrumentUpdate) SourceSequence() int64 {
	return i.CmdSequence
}

// FeeParamUpdate changes the global margin parameters. Applies only to
// positions and orders created after this event. Owner-only.
type FeeParamUpdate struct {
	RequestID           uuid.UUID // Idempotency key
	Caller              uuid.UUID
	MaintenanceMarginBP int64
	LiquidationBonusBP  int64
	CmdSequence         int64
	Timestamp           time.Time
}

func (f *FeeParamUpdate) IdempotencyKey() string {
	return f.RequestID.String()
}

func (f *FeeParamUpdate) EventType() EventType {
	return EventTypeFeeParamUpdate
}

func (f *FeeParamUpdate) Instrument() *string {
	return nil
}

func (f *FeeParamUpdate) SourceSequence() int64 {
	return f.CmdSequence
}

// PauseUpdate flips the circuit breaker. While paused, position and order
// creation are rejected; close, cancel, and liquidation always pass.
type PauseUpdate struct {
	RequestID   uuid.UUID // Idempotency key
	Caller      uuid.UUID
	Paused      bool
	CmdSequence int64
	Timestamp   time.Time
}

func (p *PauseUpdate) IdempotencyKey() string {
	return p.RequestID.String()
}

func (p *PauseUpdate) EventType() EventType {
	return EventTypePauseUpdate
}

func (p *PauseUpdate) Instrument() *string {
	return nil
}

func (p *PauseUpdate) SourceSequence() int64 {
	return p.CmdSequence
}

// OwnershipTransfer hands admin control to a new owner. Owner-only.
type OwnershipTransfer struct {
	RequestID   uuid.UUID // Idempotency key
	Caller      uuid.UUID
	NewOwner    uuid.UUID
	CmdSequence int64
	Timestamp   time.Time
}

func (o *OwnershipTransfer) IdempotencyKey() string {
	return o.RequestID.String()
}

func (o *OwnershipTransfer) EventType() EventType {
	return EventTypeOwnershipTransfer
}

func (o *OwnershipTransfer) Instrument() *string {
	return nil
}

func (o *OwnershipTransfer) SourceSequence() int64 {
	return o.CmdSequence
}

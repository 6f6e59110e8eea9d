package event

import (
	"time"

	"github.com/google/uuid"
)

// OpenPosition opens a market position immediately at the current quote.
// Direction arrives encrypted; the position stays unattributed in the
// open-interest aggregator until the direction resolves.
// Idempotency key: position_id (UUID minted by the submitter).
type OpenPosition struct {
	PositionID    uuid.UUID // Idempotency key
	Trader        uuid.UUID
	InstrumentKey string
	Collateral    int64 // Fixed-point: quote scale, posted before fees
	Leverage      int64 // Plain integer
	Direction     CipherPayload
	StopLoss      *CipherPayload // Optional encrypted stop-loss trigger
	SubmitterKey  []byte         // ed25519 public key the proof verifies against
	CmdSequence   int64          // Source sequence from the command stream
	Timestamp     time.Time      // Versioned input timestamp (NOT wall-clock)
}

func (o *OpenPosition) IdempotencyKey() string {
	return o.PositionID.String()
}

func (o *OpenPosition) EventType() EventType {
	return EventTypeOpenPosition
}

func (o *OpenPosition) Instrument() *string {
	return &o.InstrumentKey
}

func (o *OpenPosition) SourceSequence() int64 {
	return o.CmdSequence
}

// ClosePosition closes an open position at the current quote. Owner-only.
// The caller asserts the direction it believes it holds; a close whose
// asserted side disagrees with the attributed one is rejected.
type ClosePosition struct {
	RequestID   uuid.UUID // Idempotency key
	PositionID  uuid.UUID
	Caller      uuid.UUID
	Direction   Side
	CmdSequence int64
	Timestamp   time.Time
}

func (c *ClosePosition) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *ClosePosition) EventType() EventType {
	return EventTypeClosePosition
}

func (c *ClosePosition) Instrument() *string {
	return nil
}

func (c *ClosePosition) SourceSequence() int64 {
	return c.CmdSequence
}

// SetStopLoss attaches or replaces an encrypted stop-loss trigger on an open
// position. The handle is readable by the ledger and the owner only; it is
// never publishable.
type SetStopLoss struct {
	RequestID    uuid.UUID // Idempotency key
	PositionID   uuid.UUID
	Caller       uuid.UUID
	StopLoss     CipherPayload
	SubmitterKey []byte
	CmdSequence  int64
	Timestamp    time.Time
}

func (s *SetStopLoss) IdempotencyKey() string {
	return s.RequestID.String()
}

func (s *SetStopLoss) EventType() EventType {
	return EventTypeSetStopLoss
}

func (s *SetStopLoss) Instrument() *string {
	return nil
}

func (s *SetStopLoss) SourceSequence() int64 {
	return s.CmdSequence
}

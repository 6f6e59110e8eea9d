package event

import (
	"time"

	"github.com/google/uuid"
)

// CreateLimitOrder records a limit order that opens a position when a keeper
// executes it at a satisfying price. Fee and margin parameters in force now
// are snapshotted onto the order; later parameter changes never touch it.
// Idempotency key: order_id (UUID minted by the submitter).
type CreateLimitOrder struct {
	OrderID       uuid.UUID // Idempotency key
	Trader        uuid.UUID
	InstrumentKey string
	Collateral    int64 // Fixed-point: quote scale, escrowed at creation
	Leverage      int64 // Plain integer
	LimitPrice    int64 // Fixed-point: price scale
	ExpiresAt     int64 // Epoch microseconds; 0 means no expiry
	Direction     CipherPayload
	SubmitterKey  []byte
	CmdSequence   int64
	Timestamp     time.Time
}

func (c *CreateLimitOrder) IdempotencyKey() string {
	return c.OrderID.String()
}

func (c *CreateLimitOrder) EventType() EventType {
	return EventTypeCreateLimitOrder
}

func (c *CreateLimitOrder) Instrument() *string {
	return &c.InstrumentKey
}

func (c *CreateLimitOrder) SourceSequence() int64 {
	return c.CmdSequence
}

// CancelOrder cancels a pending order and refunds its escrow. Owner-only.
type CancelOrder struct {
	RequestID   uuid.UUID // Idempotency key
	OrderID     uuid.UUID
	Caller      uuid.UUID
	CmdSequence int64
	Timestamp   time.Time
}

func (c *CancelOrder) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *CancelOrder) EventType() EventType {
	return EventTypeCancelOrder
}

func (c *CancelOrder) Instrument() *string {
	return nil
}

func (c *CancelOrder) SourceSequence() int64 {
	return c.CmdSequence
}

// ExecuteOrder is a permissionless keeper attempt to fill a pending order.
// Many keepers may race; at most one attempt per order succeeds.
type ExecuteOrder struct {
	RequestID   uuid.UUID // Idempotency key
	OrderID     uuid.UUID
	Keeper      uuid.UUID
	CmdSequence int64
	Timestamp   time.Time
}

func (e *ExecuteOrder) IdempotencyKey() string {
	return e.RequestID.String()
}

func (e *ExecuteOrder) EventType() EventType {
	return EventTypeExecuteOrder
}

func (e *ExecuteOrder) Instrument() *string {
	return nil
}

func (e *ExecuteOrder) SourceSequence() int64 {
	return e.CmdSequence
}

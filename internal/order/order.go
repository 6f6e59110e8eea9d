package order

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUnknownOrder      = errors.New("unknown order")
	ErrOrderNotPending   = errors.New("order not pending")
	ErrOrderExpired      = errors.New("order expired")
	ErrNotOrderOwner     = errors.New("caller does not own order")
	ErrLimitNotReached   = errors.New("price does not satisfy limit")
	ErrInvalidTransition = errors.New("invalid order transition")
)

// Status is the order lifecycle state. Pending is the only non-terminal
// state; every transition out of it is final.
type Status int32

const (
	StatusUnknown Status = iota
	StatusPending
	StatusExecuted
	StatusCancelled
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuted:
		return "executed"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// validTransitions defines the lifecycle state machine
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusExecuted, StatusCancelled, StatusExpired},
	StatusExecuted:  {}, // Terminal
	StatusCancelled: {}, // Terminal
	StatusExpired:   {}, // Terminal
}

// CanTransitionTo checks if a transition is valid
func (s Status) CanTransitionTo(to Status) bool {
	for _, valid := range validTransitions[s] {
		if valid == to {
			return true
		}
	}
	return false
}

// ParamSnapshot pins the fee and margin parameters in force when an order or
// position was created. Later parameter changes never touch it.
type ParamSnapshot struct {
	OpenFeeBP           int64
	CloseFeeBP          int64
	MaintenanceMarginBP int64
	LiquidationBonusBP  int64
}

// Order is a limit order awaiting keeper execution, or the terminal record
// of one. Market opens are recorded as already-executed orders so every
// position traces back to an order row.
type Order struct {
	ID            uuid.UUID
	Trader        uuid.UUID
	InstrumentKey string
	Collateral    int64 // Quote scale, escrowed at creation, pre-fee
	Leverage      int64
	LimitPrice    int64 // Price scale; 0 for market records
	ExpiresAt     int64 // Epoch microseconds; 0 means no expiry

	DirectionHandle uuid.UUID
	Params          ParamSnapshot

	Status     Status
	PositionID uuid.UUID // Set when executed
	CreatedAt  int64     // Epoch microseconds, versioned input
	ClosedAt   int64     // Versioned time of the terminal transition

	Version int64
}

// ExpiredAt reports whether the order's deadline has passed at the given
// versioned time. Expiry is lazy: nothing flips the status until an execute
// or cancel attempt observes it.
func (o *Order) ExpiredAt(nowMicros int64) bool {
	return o.ExpiresAt > 0 && nowMicros > o.ExpiresAt
}

// Transition moves the order to a terminal status.
func (o *Order) Transition(to Status, nowMicros int64) error {
	if !o.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.ClosedAt = nowMicros
	o.Version++
	return nil
}

// SatisfiesLimit reports whether the quote fills the order for the given
// direction sign: long fills at or below the limit, short at or above.
func (o *Order) SatisfiesLimit(sideSign int64, price int64) bool {
	if o.LimitPrice == 0 {
		return true
	}
	switch sideSign {
	case 1:
		return price <= o.LimitPrice
	case -1:
		return price >= o.LimitPrice
	default:
		return false
	}
}

// CanonicalBytes returns a deterministic encoding for state hashing.
func (o *Order) CanonicalBytes() []byte {
	buf := make([]byte, 0, 192)
	buf = append(buf, o.ID[:]...)
	buf = append(buf, o.Trader[:]...)
	buf = append(buf, o.InstrumentKey...)
	buf = append(buf, 0)
	buf = appendInt64LE(buf, o.Collateral)
	buf = appendInt64LE(buf, o.Leverage)
	buf = appendInt64LE(buf, o.LimitPrice)
	buf = appendInt64LE(buf, o.ExpiresAt)
	buf = append(buf, o.DirectionHandle[:]...)
	buf = appendInt64LE(buf, o.Params.OpenFeeBP)
	buf = appendInt64LE(buf, o.Params.CloseFeeBP)
	buf = appendInt64LE(buf, o.Params.MaintenanceMarginBP)
	buf = appendInt64LE(buf, o.Params.LiquidationBonusBP)
	buf = appendInt64LE(buf, int64(o.Status))
	buf = append(buf, o.PositionID[:]...)
	buf = appendInt64LE(buf, o.CreatedAt)
	buf = appendInt64LE(buf, o.ClosedAt)
	buf = appendInt64LE(buf, o.Version)
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

package event

import (
	"time"

	"github.com/google/uuid"
)

// Liquidate is a permissionless keeper attempt to liquidate a position whose
// quote has crossed its liquidation threshold. The keeper earns a bonus from
// remaining collateral; the rest goes to the pool.
type Liquidate struct {
	RequestID   uuid.UUID // Idempotency key
	PositionID  uuid.UUID
	Keeper      uuid.UUID
	CmdSequence int64
	Timestamp   time.Time
}

func (l *Liquidate) IdempotencyKey() string {
	return l.RequestID.String()
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

func (l *Liquidate) Instrument() *string {
	return nil
}

func (l *Liquidate) SourceSequence() int64 {
	return l.CmdSequence
}

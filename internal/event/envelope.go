package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePriceUpdate
	EventTypePriceProofUpdate
	EventTypeOpenPosition
	EventTypeCreateLimitOrder
	EventTypeCancelOrder
	EventTypeExecuteOrder
	EventTypeClosePosition
	EventTypeLiquidate
	EventTypeSetStopLoss
	EventTypeDirectionResolved
	EventTypeInstrumentUpdate
	EventTypeFeeParamUpdate
	EventTypePauseUpdate
	EventTypeOwnershipTransfer
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Instrument context (nullable for global events)
	Instrument *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Instrument returns the instrument context (nil for global events)
	Instrument() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypePriceUpdate:
		return "PriceUpdate"
	case EventTypePriceProofUpdate:
		return "PriceProofUpdate"
	case EventTypeOpenPosition:
		return "OpenPosition"
	case EventTypeCreateLimitOrder:
		return "CreateLimitOrder"
	case EventTypeCancelOrder:
		return "CancelOrder"
	case EventTypeExecuteOrder:
		return "ExecuteOrder"
	case EventTypeClosePosition:
		return "ClosePosition"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypeSetStopLoss:
		return "SetStopLoss"
	case EventTypeDirectionResolved:
		return "DirectionResolved"
	case EventTypeInstrumentUpdate:
		return "InstrumentUpdate"
	case EventTypeFeeParamUpdate:
		return "FeeParamUpdate"
	case EventTypePauseUpdate:
		return "PauseUpdate"
	case EventTypeOwnershipTransfer:
		return "OwnershipTransfer"
	default:
		return "Unknown"
	}
}

// DecodePayload reconstructs the typed event stored in an envelope. Payloads
// in the log are the engine's own json.Marshal of the event struct, not the
// ingestion wire form, so replay decodes them here rather than through the
// wire parser.
func DecodePayload(eventType string, payload []byte) (Event, error) {
	var evt Event
	switch eventType {
	case "PriceUpdate":
		evt = &PriceUpdate{}
	case "PriceProofUpdate":
		evt = &PriceProofUpdate{}
	case "OpenPosition":
		evt = &OpenPosition{}
	case "CreateLimitOrder":
		evt = &CreateLimitOrder{}
	case "CancelOrder":
		evt = &CancelOrder{}
	case "ExecuteOrder":
		evt = &ExecuteOrder{}
	case "ClosePosition":
		evt = &ClosePosition{}
	case "Liquidate":
		evt = &Liquidate{}
	case "SetStopLoss":
		evt = &SetStopLoss{}
	case "DirectionResolved":
		evt = &DirectionResolved{}
	case "InstrumentUpdate":
		evt = &InstrumentUpdate{}
	case "FeeParamUpdate":
		evt = &FeeParamUpdate{}
	case "PauseUpdate":
		evt = &PauseUpdate{}
	case "OwnershipTransfer":
		evt = &OwnershipTransfer{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}

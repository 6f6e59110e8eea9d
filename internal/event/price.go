package event

import (
	"fmt"

	"github.com/google/uuid"
)

// PriceUpdate is the privileged bypass path: a trusted price accepted
// without proof or deviation checks. Only the contract owner may submit it.
type PriceUpdate struct {
	InstrumentKey  string
	Price          int64 // Fixed-point: price scale (decimal_precision=8)
	PriceSequence  int64 // Monotonic per instrument
	PriceTimestamp int64 // Epoch microseconds (versioned input)
	Caller         uuid.UUID
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.InstrumentKey, p.PriceSequence)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) Instrument() *string {
	return &p.InstrumentKey
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}

// PriceProofUpdate is the standard feed path: the quote carries an ed25519
// signature from one of the configured feed sources and is subject to the
// instrument's deviation bound.
type PriceProofUpdate struct {
	InstrumentKey  string
	Price          int64 // Fixed-point: price scale
	PriceSequence  int64 // Monotonic per instrument per feed
	PriceTimestamp int64 // Epoch microseconds (versioned input)
	FeedID         int32 // Index into the configured feed source keys
	Signature      []byte
}

func (p *PriceProofUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:feed%d:%d", p.InstrumentKey, p.FeedID, p.PriceSequence)
}

func (p *PriceProofUpdate) EventType() EventType {
	return EventTypePriceProofUpdate
}

func (p *PriceProofUpdate) Instrument() *string {
	return &p.InstrumentKey
}

func (p *PriceProofUpdate) SourceSequence() int64 {
	return p.PriceSequence
}

package event

import (
	"time"

	"github.com/google/uuid"
)

// DirectionResolved delivers a commit-reveal answer from the resolver for a
// previously published (or ledger-audience) handle. The plaintext is accepted
// only if SHA3-256(plaintext || nonce) matches the ingested commitment.
// Re-delivery with the same plaintext is a no-op.
type DirectionResolved struct {
	RequestID        uuid.UUID // Idempotency key
	HandleID         uuid.UUID
	Plaintext        []byte
	Nonce            []byte
	ResolverSequence int64
	Timestamp        time.Time
}

func (d *DirectionResolved) IdempotencyKey() string {
	return d.RequestID.String()
}

func (d *DirectionResolved) EventType() EventType {
	return EventTypeDirectionResolved
}

func (d *DirectionResolved) Instrument() *string {
	return nil
}

func (d *DirectionResolved) SourceSequence() int64 {
	return d.ResolverSequence
}

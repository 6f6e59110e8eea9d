package instrument

import (
	"crypto/ed25519"
	"fmt"

	fpmath "veilperp/internal/math"
)

// Quote is a read-only view of an instrument's latest price.
type Quote struct {
	Price     int64
	Sequence  int64
	Timestamp int64
	Active    bool
}

// Gateway applies price updates against the registry. Two paths exist:
// a proofed path requiring a feed signature and bounded deviation, and a
// trusted bypass path whose authorization the engine enforces.
type Gateway struct {
	registry *Registry
	feedKeys []ed25519.PublicKey
}

func NewGateway(registry *Registry, feedKeys []ed25519.PublicKey) *Gateway {
	return &Gateway{
		registry: registry,
		feedKeys: feedKeys,
	}
}

// FeedMessage returns the canonical byte string a feed source signs for a
// quote. Any change here is a breaking feed protocol change.
func FeedMessage(key string, price, sequence, timestamp int64) []byte {
	return []byte(fmt.Sprintf("veil:price:v1|%s|%d|%d|%d", key, price, sequence, timestamp))
}

// ApplyTrusted accepts a quote without proof or deviation checks.
// Caller authorization is the engine's concern; this validates only the
// quote itself.
func (g *Gateway) ApplyTrusted(key string, price, sequence, timestamp int64) (*Instrument, error) {
	inst, err := g.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}

	g.setQuote(inst, price, sequence, timestamp)
	return inst, nil
}

// ApplyWithProof verifies the feed signature and the deviation bound, then
// accepts the quote. The first quote for an instrument has no reference to
// deviate from and is accepted on signature alone.
func (g *Gateway) ApplyWithProof(key string, price, sequence, timestamp int64, feedID int32, sig []byte) (*Instrument, error) {
	inst, err := g.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}
	if feedID < 0 || int(feedID) >= len(g.feedKeys) {
		return nil, fmt.Errorf("%w: feed %d not configured", ErrInvalidFeedProof, feedID)
	}

	msg := FeedMessage(key, price, sequence, timestamp)
	if !ed25519.Verify(g.feedKeys[feedID], msg, sig) {
		return nil, fmt.Errorf("%w: feed %d", ErrInvalidFeedProof, feedID)
	}

	if inst.HasQuote {
		dev := fpmath.ComputeDeviationBP(inst.Price, price)
		if dev > inst.MaxDeviationBP {
			return nil, fmt.Errorf("%w: %d bp > bound %d bp", ErrDeviationExceeded, dev, inst.MaxDeviationBP)
		}
	}

	g.setQuote(inst, price, sequence, timestamp)
	return inst, nil
}

// FreshQuote returns the current quote of an active instrument, or
// ErrPriceStale if it is absent or older than the staleness bound at the
// given versioned time. Every mutating consumer goes through this gate.
func (g *Gateway) FreshQuote(key string, nowMicros int64) (Quote, *Instrument, error) {
	inst, err := g.registry.GetActive(key)
	if err != nil {
		return Quote{}, nil, err
	}
	if !inst.Fresh(nowMicros) {
		return Quote{}, nil, fmt.Errorf("%w: %s", ErrPriceStale, key)
	}
	return Quote{
		Price:     inst.Price,
		Sequence:  inst.PriceSequence,
		Timestamp: inst.PriceTimestamp,
		Active:    inst.Active,
	}, inst, nil
}

func (g *Gateway) setQuote(inst *Instrument, price, sequence, timestamp int64) {
	inst.Price = price
	inst.PriceSequence = sequence
	inst.PriceTimestamp = timestamp
	inst.HasQuote = true
	inst.Version++
}

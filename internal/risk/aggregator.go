package risk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"veilperp/internal/event"
)

var (
	ErrInsufficientLiquidity = errors.New("open interest cap exceeded")
	ErrUnknownExposure       = errors.New("unknown exposure")
	ErrExposureConflict      = errors.New("exposure attribution conflict")
)

// Totals is per-instrument open interest, split by attribution phase.
// Unattributed size is exposure whose direction is still ciphertext; it
// counts fully against the cap.
type Totals struct {
	Unattributed int64
	Long         int64
	Short        int64
}

func (t Totals) Total() int64 {
	return t.Unattributed + t.Long + t.Short
}

type exposure struct {
	instrument string
	size       int64
	side       event.Side // SideUnknown while unattributed
}

// Aggregator tracks open interest per instrument in two phases:
// size is reserved unattributed when an order or position is created, moved
// to a direction bucket when the direction resolves, and released when the
// exposure ends. Attribution is idempotent per exposure id.
type Aggregator struct {
	byInstrument map[string]*Totals
	exposures    map[uuid.UUID]*exposure
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byInstrument: make(map[string]*Totals),
		exposures:    make(map[uuid.UUID]*exposure),
	}
}

// Reserve adds unattributed exposure, gated by the instrument cap. The cap
// applies at creation only; later price moves never force anything out.
func (a *Aggregator) Reserve(instrumentKey string, id uuid.UUID, size, maxOpenInterest int64) error {
	if _, exists := a.exposures[id]; exists {
		return fmt.Errorf("exposure %s already reserved", id)
	}
	if size <= 0 {
		return fmt.Errorf("exposure size must be positive, got %d", size)
	}

	totals := a.totals(instrumentKey)
	if totals.Total()+size > maxOpenInterest {
		return fmt.Errorf("%w: %s open interest %d + %d > cap %d",
			ErrInsufficientLiquidity, instrumentKey, totals.Total(), size, maxOpenInterest)
	}

	totals.Unattributed += size
	a.exposures[id] = &exposure{instrument: instrumentKey, size: size}
	return nil
}

// RestoreExposure re-adds an exposure during snapshot recovery, bypassing
// the cap: it was admitted when first reserved.
func (a *Aggregator) RestoreExposure(instrumentKey string, id uuid.UUID, size int64, side event.Side) {
	totals := a.totals(instrumentKey)
	switch side {
	case event.SideLong:
		totals.Long += size
	case event.SideShort:
		totals.Short += size
	default:
		totals.Unattributed += size
	}
	a.exposures[id] = &exposure{instrument: instrumentKey, size: size, side: side}
}

// Rekey moves an exposure to a new id, keeping its bucket. Used when an
// executed order's escrow becomes a position.
func (a *Aggregator) Rekey(oldID, newID uuid.UUID) error {
	exp, ok := a.exposures[oldID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExposure, oldID)
	}
	if _, exists := a.exposures[newID]; exists {
		return fmt.Errorf("exposure %s already reserved", newID)
	}
	delete(a.exposures, oldID)
	a.exposures[newID] = exp
	return nil
}

// Resize adjusts an exposure's size in place, bypassing the cap. Used when
// an order's escrowed size becomes the position's exact post-fee size.
func (a *Aggregator) Resize(id uuid.UUID, size int64) error {
	exp, ok := a.exposures[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExposure, id)
	}
	if size <= 0 {
		return fmt.Errorf("exposure size must be positive, got %d", size)
	}

	totals := a.totals(exp.instrument)
	switch exp.side {
	case event.SideLong:
		totals.Long += size - exp.size
	case event.SideShort:
		totals.Short += size - exp.size
	default:
		totals.Unattributed += size - exp.size
	}
	exp.size = size
	return nil
}

// Attribute moves an exposure from the unattributed bucket to its direction
// bucket. Idempotent for the same side; a different side is a conflict.
func (a *Aggregator) Attribute(id uuid.UUID, side event.Side) error {
	exp, ok := a.exposures[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExposure, id)
	}
	if side != event.SideLong && side != event.SideShort {
		return fmt.Errorf("%w: side %v", ErrExposureConflict, side)
	}
	if exp.side != event.SideUnknown {
		if exp.side != side {
			return fmt.Errorf("%w: %s already %s", ErrExposureConflict, id, exp.side)
		}
		return nil
	}

	totals := a.totals(exp.instrument)
	totals.Unattributed -= exp.size
	if side == event.SideLong {
		totals.Long += exp.size
	} else {
		totals.Short += exp.size
	}
	exp.side = side
	return nil
}

// Release removes an exposure from whichever bucket holds it.
func (a *Aggregator) Release(id uuid.UUID) error {
	exp, ok := a.exposures[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExposure, id)
	}

	totals := a.totals(exp.instrument)
	switch exp.side {
	case event.SideLong:
		totals.Long -= exp.size
	case event.SideShort:
		totals.Short -= exp.size
	default:
		totals.Unattributed -= exp.size
	}
	delete(a.exposures, id)
	return nil
}

// TotalsFor returns the current open interest split for an instrument.
func (a *Aggregator) TotalsFor(instrumentKey string) Totals {
	if t, ok := a.byInstrument[instrumentKey]; ok {
		return *t
	}
	return Totals{}
}

// CanonicalBytes returns a deterministic encoding of all per-instrument
// totals for state hashing.
func (a *Aggregator) CanonicalBytes() []byte {
	keys := make([]string, 0, len(a.byInstrument))
	for k := range a.byInstrument {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, len(keys)*40)
	for _, k := range keys {
		t := a.byInstrument[k]
		buf = append(buf, k...)
		buf = append(buf, 0)
		buf = appendInt64LE(buf, t.Unattributed)
		buf = appendInt64LE(buf, t.Long)
		buf = appendInt64LE(buf, t.Short)
	}
	return buf
}

func (a *Aggregator) totals(instrumentKey string) *Totals {
	t, ok := a.byInstrument[instrumentKey]
	if !ok {
		t = &Totals{}
		a.byInstrument[instrumentKey] = t
	}
	return t
}

func appendInt64LE(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

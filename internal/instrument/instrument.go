package instrument

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrUnknownInstrument  = errors.New("unknown instrument")
	ErrInstrumentInactive = errors.New("instrument inactive")
	ErrPriceStale         = errors.New("price stale")
	ErrDeviationExceeded  = errors.New("price deviation exceeded")
	ErrInvalidFeedProof   = errors.New("invalid feed signature")
	ErrInvalidPrice       = errors.New("price must be positive")
)

// Config is the admin-settable part of an instrument.
type Config struct {
	Key                string
	Active             bool
	MaxLeverage        int64
	MaxDeviationBP     int64 // Proofed-path move bound, basis points
	MaxStalenessMicros int64 // Quote age bound for mutating consumers
	MaxOpenInterest    int64 // Quote scale; gate at creation only
	MinCollateral      int64 // Quote scale; posted collateral bounds
	MaxCollateral      int64
	OpenFeeBP          int64
	CloseFeeBP         int64
}

// Validate checks config bounds before an update is applied.
func (c *Config) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("instrument key must not be empty")
	}
	if c.MaxLeverage < 1 {
		return fmt.Errorf("max leverage must be >= 1, got %d", c.MaxLeverage)
	}
	if c.MaxDeviationBP <= 0 || c.MaxDeviationBP >= 10_000 {
		return fmt.Errorf("max deviation must be in (0, 10000) bp, got %d", c.MaxDeviationBP)
	}
	if c.MaxStalenessMicros <= 0 {
		return fmt.Errorf("max staleness must be positive, got %d", c.MaxStalenessMicros)
	}
	if c.MaxOpenInterest <= 0 {
		return fmt.Errorf("max open interest must be positive, got %d", c.MaxOpenInterest)
	}
	if c.MinCollateral <= 0 {
		return fmt.Errorf("min collateral must be positive, got %d", c.MinCollateral)
	}
	if c.MaxCollateral < c.MinCollateral {
		return fmt.Errorf("max collateral %d below min %d", c.MaxCollateral, c.MinCollateral)
	}
	if c.OpenFeeBP < 0 || c.OpenFeeBP > 1000 {
		return fmt.Errorf("open fee must be in [0, 1000] bp, got %d", c.OpenFeeBP)
	}
	if c.CloseFeeBP < 0 || c.CloseFeeBP > 1000 {
		return fmt.Errorf("close fee must be in [0, 1000] bp, got %d", c.CloseFeeBP)
	}
	return nil
}

// Instrument is a tradable perpetual market plus its latest quote.
type Instrument struct {
	Config

	// Latest accepted quote. HasQuote distinguishes "no quote yet" from a
	// zero price, which is never accepted.
	Price          int64
	PriceSequence  int64
	PriceTimestamp int64 // Epoch microseconds, versioned input
	HasQuote       bool

	Version int64
}

// Fresh reports whether the quote is usable at the given versioned time.
func (i *Instrument) Fresh(nowMicros int64) bool {
	if !i.HasQuote {
		return false
	}
	return nowMicros-i.PriceTimestamp <= i.MaxStalenessMicros
}

// CanonicalBytes returns a deterministic encoding for state hashing.
func (i *Instrument) CanonicalBytes() []byte {
	buf := make([]byte, 0, len(i.Key)+112)
	buf = append(buf, i.Key...)
	buf = append(buf, 0)
	if i.Active {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendInt64LE(buf, i.MaxLeverage)
	buf = appendInt64LE(buf, i.MaxDeviationBP)
	buf = appendInt64LE(buf, i.MaxStalenessMicros)
	buf = appendInt64LE(buf, i.MaxOpenInterest)
	buf = appendInt64LE(buf, i.MinCollateral)
	buf = appendInt64LE(buf, i.MaxCollateral)
	buf = appendInt64LE(buf, i.OpenFeeBP)
	buf = appendInt64LE(buf, i.CloseFeeBP)
	buf = appendInt64LE(buf, i.Price)
	buf = appendInt64LE(buf, i.PriceSequence)
	buf = appendInt64LE(buf, i.PriceTimestamp)
	buf = appendInt64LE(buf, i.Version)
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

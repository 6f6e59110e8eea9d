package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	PriceConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000} // 0.00000001 quote per base
	QuoteConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // 0.000001 quote (collateral, size, fees)
)

// BasisPointScale is the denominator for fee / margin / deviation parameters.
const BasisPointScale = 10_000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// DivideInt128 performs numerator / denominator with rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		// Banker's rounding: round half to even
		remainder.Abs(remainder)
		doubled := remainder.Lsh(remainder, 1)
		absDenom := new(big.Int).Abs(denom)
		cmp := doubled.Cmp(absDenom)

		if cmp > 0 || (cmp == 0 && result%2 != 0) {
			if numerator.Sign() >= 0 {
				result++
			} else {
				result--
			}
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			if numerator.Sign() >= 0 {
				result++
			} else {
				result--
			}
		}
	case RoundDown:
		// Truncation, QuoRem already did it
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// ComputeSize returns collateral * leverage in quote units.
// Leverage is a plain integer, so the product is exact. Everything downstream
// (PnL, liquidation thresholds, open interest) relies on this identity holding
// for the lifetime of the position.
func ComputeSize(collateral, leverage int64) int64 {
	return collateral * leverage
}

// ComputeFee returns amount * feeBP / 10_000 with banker's rounding.
func ComputeFee(amount, feeBP int64) int64 {
	raw := MultiplyInt128(amount, feeBP)
	result := DivideInt128(raw, BasisPointScale, RoundHalfEven)
	putInt128(raw)
	return result
}

// ComputeLiquidationPrices returns the long and short liquidation thresholds
// for an entry price, integer leverage, and maintenance-margin ratio in basis
// points:
//
//	delta = entry * (10000 - mmBP) / (10000 * leverage)
//	long  = entry - delta   (below entry)
//	short = entry + delta   (above entry)
//
// Both candidates are computed because direction may still be ciphertext when
// a position opens; the ledger selects one at attribution time.
func ComputeLiquidationPrices(entryPrice, leverage, maintenanceMarginBP int64) (long, short int64) {
	raw := MultiplyInt128(entryPrice, BasisPointScale-maintenanceMarginBP)
	delta := DivideInt128(raw, BasisPointScale*leverage, RoundHalfEven)
	putInt128(raw)

	return entryPrice - delta, entryPrice + delta
}

// ComputeClosePnL returns the realized PnL in quote units for closing a
// position of the given size at exitPrice.
//
//	long:  (exit - entry) * size / entry
//	short: (entry - exit) * size / entry
//
// sideSign is +1 for long, -1 for short.
func ComputeClosePnL(sideSign, entryPrice, exitPrice, size int64) int64 {
	if entryPrice == 0 {
		return 0
	}

	raw := MultiplyInt128(sideSign*(exitPrice-entryPrice), size)
	result := DivideInt128(raw, entryPrice, RoundHalfEven)
	putInt128(raw)

	return result
}

// ComputeDeviationBP returns |newPrice - current| / current in basis points,
// rounded up so a bound check never under-reports the move.
func ComputeDeviationBP(currentPrice, newPrice int64) int64 {
	if currentPrice == 0 {
		return 0
	}

	diff := newPrice - currentPrice
	if diff < 0 {
		diff = -diff
	}

	raw := MultiplyInt128(diff, BasisPointScale)
	result := DivideInt128(raw, currentPrice, RoundUp)
	putInt128(raw)
	return result
}

// ClampPayout returns max(0, collateral + pnl - fee). Losses never exceed
// posted collateral, so the trader can never owe the pool.
func ClampPayout(collateral, pnl, fee int64) int64 {
	payout := collateral + pnl - fee
	if payout < 0 {
		return 0
	}
	return payout
}

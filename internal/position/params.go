package position

import "fmt"

// GlobalParams are the operator-settable margin parameters. Changes apply
// only to positions and orders created afterwards; existing ones keep the
// snapshot taken at creation.
type GlobalParams struct {
	MaintenanceMarginBP int64
	LiquidationBonusBP  int64
}

// DefaultGlobalParams returns the genesis parameters: 20% maintenance
// margin, 5% liquidation bonus.
func DefaultGlobalParams() GlobalParams {
	return GlobalParams{
		MaintenanceMarginBP: 2000,
		LiquidationBonusBP:  500,
	}
}

// Validate checks parameter bounds before an update is applied.
func (g GlobalParams) Validate() error {
	if g.MaintenanceMarginBP <= 0 || g.MaintenanceMarginBP >= 10_000 {
		return fmt.Errorf("maintenance margin must be in (0, 10000) bp, got %d", g.MaintenanceMarginBP)
	}
	if g.LiquidationBonusBP < 0 || g.LiquidationBonusBP > 2_000 {
		return fmt.Errorf("liquidation bonus must be in [0, 2000] bp, got %d", g.LiquidationBonusBP)
	}
	return nil
}

package query

import "github.com/google/uuid"

// PositionResponse is a position row for API queries. Side is "unknown"
// until the direction resolves; unrealized PnL is only derivable after.
type PositionResponse struct {
	PositionID     uuid.UUID `json:"position_id"`
	Trader         uuid.UUID `json:"trader"`
	Instrument     string    `json:"instrument"`
	Collateral     int64     `json:"collateral"`
	Leverage       int64     `json:"leverage"`
	Size           int64     `json:"size"`
	EntryPrice     int64     `json:"entry_price"`
	OpenFee        int64     `json:"open_fee"`
	LiqPriceLong   int64     `json:"liq_price_long"`
	LiqPriceShort  int64     `json:"liq_price_short"`
	Side           string    `json:"side"`
	StopLossSet    bool      `json:"stop_loss_set"`
	Status         string    `json:"status"`
	OpenedAt       int64     `json:"opened_at_us"`
	ClosedAt       int64     `json:"closed_at_us,omitempty"`
	ExitPrice      int64     `json:"exit_price,omitempty"`
	RealizedPnL    int64     `json:"realized_pnl,omitempty"`
	Payout         int64     `json:"payout,omitempty"`
	UnrealizedPnL  *int64    `json:"unrealized_pnl,omitempty"` // Derived at query time, attributed positions only
	Version        int64     `json:"version"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// OrderResponse is an order row for API queries.
type OrderResponse struct {
	OrderID      uuid.UUID  `json:"order_id"`
	Trader       uuid.UUID  `json:"trader"`
	Instrument   string     `json:"instrument"`
	Collateral   int64      `json:"collateral"`
	Leverage     int64      `json:"leverage"`
	LimitPrice   int64      `json:"limit_price"`
	ExpiresAt    int64      `json:"expires_at_us,omitempty"`
	Status       string     `json:"status"`
	PositionID   *uuid.UUID `json:"position_id,omitempty"`
	CreatedAt    int64      `json:"created_at_us"`
	ClosedAt     int64      `json:"closed_at_us,omitempty"`
	Version      int64      `json:"version"`
	AsOfSequence int64      `json:"as_of_sequence"`
}

// InstrumentResponse is an instrument row with its latest quote.
type InstrumentResponse struct {
	Key                string `json:"key"`
	Active             bool   `json:"active"`
	MaxLeverage        int64  `json:"max_leverage"`
	MaxDeviationBP     int64  `json:"max_deviation_bp"`
	MaxStalenessMicros int64  `json:"max_staleness_us"`
	MaxOpenInterest    int64  `json:"max_open_interest"`
	MinCollateral      int64  `json:"min_collateral"`
	MaxCollateral      int64  `json:"max_collateral"`
	OpenFeeBP          int64  `json:"open_fee_bp"`
	CloseFeeBP         int64  `json:"close_fee_bp"`
	Price              int64  `json:"price,omitempty"`
	PriceSequence      int64  `json:"price_sequence,omitempty"`
	PriceTimestamp     int64  `json:"price_timestamp_us,omitempty"`
	HasQuote           bool   `json:"has_quote"`
	AsOfSequence       int64  `json:"as_of_sequence"`
}

// BalanceResponse is a trader's account balances.
type BalanceResponse struct {
	Trader       uuid.UUID `json:"trader"`
	Asset        string    `json:"asset"`
	Margin       int64     `json:"margin"`  // Locked in open positions
	Escrow       int64     `json:"escrow"`  // Held by pending orders
	Rewards      int64     `json:"rewards"` // Keeper bonuses earned
	AsOfSequence int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry is a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       int16  `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp_us"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset is an asset whose global balance does not sum to zero.
type UnbalancedAsset struct {
	AssetID   int16 `json:"asset_id"`
	Imbalance int64 `json:"imbalance"`
}

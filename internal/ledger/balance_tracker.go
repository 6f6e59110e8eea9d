package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// GetTraderMargin returns collateral locked in the trader's open positions
func (bt *BalanceTracker) GetTraderMargin(trader uuid.UUID) int64 {
	return bt.GetBalance(NewTraderAccountKey(trader, SubTypeMargin, QuoteAssetID))
}

// GetTraderEscrow returns collateral escrowed by the trader's pending orders
func (bt *BalanceTracker) GetTraderEscrow(trader uuid.UUID) int64 {
	return bt.GetBalance(NewTraderAccountKey(trader, SubTypeEscrow, QuoteAssetID))
}

// GetTraderRewards returns keeper bonuses accumulated by the trader
func (bt *BalanceTracker) GetTraderRewards(trader uuid.UUID) int64 {
	return bt.GetBalance(NewTraderAccountKey(trader, SubTypeRewards, QuoteAssetID))
}

// GetPoolBalance returns the counterparty pool balance
func (bt *BalanceTracker) GetPoolBalance() int64 {
	return bt.GetBalance(NewSystemAccountKey("pool", SubTypeSystemPool, QuoteAssetID))
}

// GetFeesBalance returns accumulated protocol fees
func (bt *BalanceTracker) GetFeesBalance() int64 {
	return bt.GetBalance(NewSystemAccountKey("fees", SubTypeSystemFees, QuoteAssetID))
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing and recovery)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances from a snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}

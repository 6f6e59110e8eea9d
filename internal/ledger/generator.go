package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from settlement results.
// Amounts arrive pre-computed and clamped by the position layer; the
// generator only turns them into balanced transfers and enforces that no
// custody account is overdrawn.
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence aligns the generator with the engine sequence after recovery.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, legs int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, legs),
	}
}

func (jg *JournalGenerator) addJournal(b *Batch, debit, credit AccountKey, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       QuoteAssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateOrderEscrow locks order collateral:
// external:wallet -> trader:escrow.
func (jg *JournalGenerator) GenerateOrderEscrow(trader, orderID uuid.UUID, amount, timestamp int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("escrow amount must be positive, got %d", amount)
	}

	batch := jg.newBatch(orderID.String(), timestamp, 1)
	jg.addJournal(batch,
		NewTraderAccountKey(trader, SubTypeEscrow, QuoteAssetID),
		NewExternalAccountKey(SubTypeExternalWallet, QuoteAssetID),
		amount, JournalTypeOrderEscrow)

	jg.sequence++
	return batch, nil
}

// GenerateOrderRefund releases escrow on cancel or expiry:
// trader:escrow -> external:wallet.
func (jg *JournalGenerator) GenerateOrderRefund(trader, orderID uuid.UUID, amount, timestamp int64) (*Batch, error) {
	if have := jg.balanceTracker.GetTraderEscrow(trader); have < amount {
		return nil, fmt.Errorf("refund pre-check failed: escrow has %d, need %d", have, amount)
	}

	batch := jg.newBatch(orderID.String(), timestamp, 1)
	jg.addJournal(batch,
		NewExternalAccountKey(SubTypeExternalWallet, QuoteAssetID),
		NewTraderAccountKey(trader, SubTypeEscrow, QuoteAssetID),
		amount, JournalTypeOrderRefund)

	jg.sequence++
	return batch, nil
}

// GenerateMarketOpen funds a position opened directly at market:
// external:wallet -> trader:margin (recorded collateral) and
// external:wallet -> system:fees (opening fee).
func (jg *JournalGenerator) GenerateMarketOpen(trader, positionID uuid.UUID, recorded, openFee, timestamp int64) (*Batch, error) {
	if recorded <= 0 {
		return nil, fmt.Errorf("recorded collateral must be positive, got %d", recorded)
	}

	batch := jg.newBatch(positionID.String(), timestamp, 2)
	jg.addJournal(batch,
		NewTraderAccountKey(trader, SubTypeMargin, QuoteAssetID),
		NewExternalAccountKey(SubTypeExternalWallet, QuoteAssetID),
		recorded, JournalTypeMarginIn)
	if openFee > 0 {
		jg.addJournal(batch,
			NewSystemAccountKey("fees", SubTypeSystemFees, QuoteAssetID),
			NewExternalAccountKey(SubTypeExternalWallet, QuoteAssetID),
			openFee, JournalTypeOpenFee)
	}

	jg.sequence++
	return batch, nil
}

// GenerateExecutedOpen converts order escrow into a funded position:
// trader:escrow -> trader:margin (recorded collateral) and
// trader:escrow -> system:fees (opening fee).
func (jg *JournalGenerator) GenerateExecutedOpen(trader, positionID uuid.UUID, recorded, openFee, timestamp int64) (*Batch, error) {
	if have := jg.balanceTracker.GetTraderEscrow(trader); have < recorded+openFee {
		return nil, fmt.Errorf("execute pre-check failed: escrow has %d, need %d", have, recorded+openFee)
	}

	batch := jg.newBatch(positionID.String(), timestamp, 2)
	jg.addJournal(batch,
		NewTraderAccountKey(trader, SubTypeMargin, QuoteAssetID),
		NewTraderAccountKey(trader, SubTypeEscrow, QuoteAssetID),
		recorded, JournalTypeMarginIn)
	if openFee > 0 {
		jg.addJournal(batch,
			NewSystemAccountKey("fees", SubTypeSystemFees, QuoteAssetID),
			NewTraderAccountKey(trader, SubTypeEscrow, QuoteAssetID),
			openFee, JournalTypeOpenFee)
	}

	jg.sequence++
	return batch, nil
}

// GenerateClose settles a voluntary close. PnL moves between the pool and
// the trader's margin, the close fee moves to system:fees, and the payout
// leaves for the trader's wallet. Losses and fees are capped at what the
// margin account holds, mirroring the clamped payout.
func (jg *JournalGenerator) GenerateClose(trader, positionID uuid.UUID, collateral, pnl, closeFee, payout, timestamp int64) (*Batch, error) {
	margin := NewTraderAccountKey(trader, SubTypeMargin, QuoteAssetID)
	pool := NewSystemAccountKey("pool", SubTypeSystemPool, QuoteAssetID)
	fees := NewSystemAccountKey("fees", SubTypeSystemFees, QuoteAssetID)
	wallet := NewExternalAccountKey(SubTypeExternalWallet, QuoteAssetID)

	batch := jg.newBatch(positionID.String(), timestamp, 3)

	remaining := collateral
	if pnl > 0 {
		jg.addJournal(batch, margin, pool, pnl, JournalTypeRealizedPnL)
		remaining += pnl
	} else if pnl < 0 {
		loss := -pnl
		if loss > remaining {
			loss = remaining
		}
		if loss > 0 {
			jg.addJournal(batch, pool, margin, loss, JournalTypeRealizedPnL)
			remaining -= loss
		}
	}

	fee := closeFee
	if fee > remaining {
		fee = remaining
	}
	if fee > 0 {
		jg.addJournal(batch, fees, margin, fee, JournalTypeCloseFee)
		remaining -= fee
	}

	if payout != remaining {
		return nil, fmt.Errorf("close settlement mismatch: payout %d, margin remainder %d", payout, remaining)
	}
	if payout > 0 {
		jg.addJournal(batch, wallet, margin, payout, JournalTypePayout)
	}

	jg.sequence++
	if len(batch.Journals) == 0 {
		// Total loss with zero fee and zero payout: nothing to move
		return nil, nil
	}
	return batch, nil
}

// GenerateStopClose settles a keeper-triggered protective close. It moves
// the same legs as a voluntary close, plus a keeper bonus carved out of the
// margin remainder before the payout leaves for the trader's wallet.
func (jg *JournalGenerator) GenerateStopClose(trader, keeper, positionID uuid.UUID, collateral, pnl, closeFee, keeperBonus, payout, timestamp int64) (*Batch, error) {
	margin := NewTraderAccountKey(trader, SubTypeMargin, QuoteAssetID)
	pool := NewSystemAccountKey("pool", SubTypeSystemPool, QuoteAssetID)
	fees := NewSystemAccountKey("fees", SubTypeSystemFees, QuoteAssetID)
	rewards := NewTraderAccountKey(keeper, SubTypeRewards, QuoteAssetID)
	wallet := NewExternalAccountKey(SubTypeExternalWallet, QuoteAssetID)

	batch := jg.newBatch(positionID.String(), timestamp, 4)

	remaining := collateral
	if pnl > 0 {
		jg.addJournal(batch, margin, pool, pnl, JournalTypeRealizedPnL)
		remaining += pnl
	} else if pnl < 0 {
		loss := -pnl
		if loss > remaining {
			loss = remaining
		}
		if loss > 0 {
			jg.addJournal(batch, pool, margin, loss, JournalTypeRealizedPnL)
			remaining -= loss
		}
	}

	fee := closeFee
	if fee > remaining {
		fee = remaining
	}
	if fee > 0 {
		jg.addJournal(batch, fees, margin, fee, JournalTypeCloseFee)
		remaining -= fee
	}

	if keeperBonus+payout != remaining {
		return nil, fmt.Errorf("stop close settlement mismatch: bonus %d + payout %d != margin remainder %d",
			keeperBonus, payout, remaining)
	}

	if keeperBonus > 0 {
		jg.addJournal(batch, rewards, margin, keeperBonus, JournalTypeLiquidationBonus)
	}
	if payout > 0 {
		jg.addJournal(batch, wallet, margin, payout, JournalTypePayout)
	}

	jg.sequence++
	if len(batch.Journals) == 0 {
		return nil, nil
	}
	return batch, nil
}

// GenerateLiquidation settles a forced close. The realized loss goes to the
// pool, the keeper bonus to the keeper's rewards account, and the remainder
// of the margin to the pool. The trader receives nothing.
func (jg *JournalGenerator) GenerateLiquidation(trader, keeper, positionID uuid.UUID, collateral, pnl, keeperBonus, toPool, timestamp int64) (*Batch, error) {
	margin := NewTraderAccountKey(trader, SubTypeMargin, QuoteAssetID)
	pool := NewSystemAccountKey("pool", SubTypeSystemPool, QuoteAssetID)
	rewards := NewTraderAccountKey(keeper, SubTypeRewards, QuoteAssetID)

	batch := jg.newBatch(positionID.String(), timestamp, 3)

	remaining := collateral
	if pnl > 0 {
		jg.addJournal(batch, margin, pool, pnl, JournalTypeRealizedPnL)
		remaining += pnl
	} else if pnl < 0 {
		loss := -pnl
		if loss > remaining {
			loss = remaining
		}
		if loss > 0 {
			jg.addJournal(batch, pool, margin, loss, JournalTypeLiquidationLoss)
			remaining -= loss
		}
	}

	if keeperBonus+toPool != remaining {
		return nil, fmt.Errorf("liquidation settlement mismatch: bonus %d + pool %d != margin remainder %d",
			keeperBonus, toPool, remaining)
	}

	if keeperBonus > 0 {
		jg.addJournal(batch, rewards, margin, keeperBonus, JournalTypeLiquidationBonus)
	}
	if toPool > 0 {
		jg.addJournal(batch, pool, margin, toPool, JournalTypeLiquidationPool)
	}

	jg.sequence++
	return batch, nil
}

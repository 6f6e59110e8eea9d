package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"veilperp/internal/engine"
	"veilperp/internal/observability"
)

// Worker maintains the read-model tables from processed events. The engine
// feeds it over a non-blocking channel, so updates may be dropped under
// load; projections are eventually consistent and rebuildable from the
// event log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan *engine.ProjectionUpdate
	metrics   *observability.Metrics
}

func NewWorker(db *sql.DB, inputChan <-chan *engine.ProjectionUpdate, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run applies updates until ctx is cancelled or the channel closes. A failed
// update is logged and skipped; the rebuild path repairs any divergence.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case update, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.apply(ctx, update); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", update.Envelope.Sequence, err)
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdates.WithLabelValues("main").Inc()
				pw.metrics.ProjectionDuration.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}
		}
	}
}

func (pw *Worker) apply(ctx context.Context, update *engine.ProjectionUpdate) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := update.Envelope.Sequence

	if update.Batch != nil {
		for _, j := range update.Batch.Journals {
			if err := pw.applyJournal(ctx, tx, seq, j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath(), int16(j.AssetID), j.Amount); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	for _, inst := range update.Instruments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.instruments
				(instrument_key, active, max_leverage, max_deviation_bp, max_staleness_us,
				 max_open_interest, min_collateral, max_collateral, open_fee_bp, close_fee_bp,
				 price, price_sequence, price_timestamp_us, has_quote, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (instrument_key) DO UPDATE SET
				active = $2, max_leverage = $3, max_deviation_bp = $4, max_staleness_us = $5,
				max_open_interest = $6, min_collateral = $7, max_collateral = $8,
				open_fee_bp = $9, close_fee_bp = $10,
				price = $11, price_sequence = $12, price_timestamp_us = $13, has_quote = $14,
				last_sequence = $15
		`, inst.Key, inst.Active, inst.MaxLeverage, inst.MaxDeviationBP, inst.MaxStalenessMicros,
			inst.MaxOpenInterest, inst.MinCollateral, inst.MaxCollateral, inst.OpenFeeBP, inst.CloseFeeBP,
			inst.Price, inst.PriceSequence, inst.PriceTimestamp, inst.HasQuote, seq); err != nil {
			return fmt.Errorf("instrument projection: %w", err)
		}
	}

	for _, o := range update.Orders {
		var positionID interface{}
		if o.PositionID != uuid.Nil {
			positionID = o.PositionID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.orders
				(order_id, trader, instrument_key, collateral, leverage, limit_price,
				 expires_at_us, direction_handle, status, position_id,
				 created_at_us, closed_at_us, version, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (order_id) DO UPDATE SET
				status = $9, position_id = $10, closed_at_us = $12, version = $13, last_sequence = $14
		`, o.ID, o.Trader, o.InstrumentKey, o.Collateral, o.Leverage, o.LimitPrice,
			o.ExpiresAt, o.DirectionHandle, o.Status.String(), positionID,
			o.CreatedAt, o.ClosedAt, o.Version, seq); err != nil {
			return fmt.Errorf("order projection: %w", err)
		}
	}

	for _, p := range update.Positions {
		var stopLossHandle interface{}
		if p.StopLossHandle != uuid.Nil {
			stopLossHandle = p.StopLossHandle
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions
				(position_id, trader, instrument_key, collateral, leverage, size,
				 entry_price, open_fee, liq_price_long, liq_price_short,
				 side, direction_handle, stop_loss_handle, status,
				 opened_at_us, closed_at_us, exit_price, realized_pnl, payout,
				 version, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			ON CONFLICT (position_id) DO UPDATE SET
				side = $11, stop_loss_handle = $13, status = $14,
				closed_at_us = $16, exit_price = $17, realized_pnl = $18, payout = $19,
				version = $20, last_sequence = $21
		`, p.ID, p.Trader, p.InstrumentKey, p.Collateral, p.Leverage, p.Size,
			p.EntryPrice, p.OpenFee, p.LiqPriceLong, p.LiqPriceShort,
			p.Side.String(), p.DirectionHandle, stopLossHandle, p.Status.String(),
			p.OpenedAt, p.ClosedAt, p.ExitPrice, p.RealizedPnL, p.Payout,
			p.Version, seq); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyJournal mirrors the engine's sign convention: a journal debits into
// the debit account and credits out of the credit account.
func (pw *Worker) applyJournal(ctx context.Context, tx *sql.Tx, seq int64, debit, credit string, assetID int16, amount int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, debit, assetID, amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, credit, assetID, amount, seq); err != nil {
		return err
	}

	return nil
}

// RebuildBalances recomputes the balance projection from the journal table.
// Record projections (orders, positions, instruments) rebuild by replaying
// the event log through the engine instead.
func RebuildBalances(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits add, credits subtract
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, asset_id, -amount AS delta, sequence
			FROM event_log.journal
		) flows
		GROUP BY account_path, asset_id
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	log.Println("INFO: balance projection rebuild complete")
	return nil
}

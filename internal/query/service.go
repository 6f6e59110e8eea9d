package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"veilperp/internal/event"
	"veilperp/internal/ledger"
	fpmath "veilperp/internal/math"
)

// Service provides read-only access to the projection tables. Every
// response carries as_of_sequence, the projection watermark at read time,
// so callers can reason about freshness.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetTraderPositions returns a trader's positions, newest first. Unrealized
// PnL is derived from the instrument's latest quote for open attributed
// positions; unattributed positions report none because the side is still
// encrypted.
func (qs *Service) GetTraderPositions(ctx context.Context, trader uuid.UUID, limit int) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.position_id, p.instrument_key, p.collateral, p.leverage, p.size,
		       p.entry_price, p.open_fee, p.liq_price_long, p.liq_price_short,
		       p.side, p.stop_loss_handle IS NOT NULL, p.status,
		       p.opened_at_us, p.closed_at_us, p.exit_price, p.realized_pnl, p.payout,
		       p.version, COALESCE(i.price, 0), COALESCE(i.has_quote, FALSE)
		FROM projections.positions p
		LEFT JOIN projections.instruments i ON i.instrument_key = p.instrument_key
		WHERE p.trader = $1
		ORDER BY p.opened_at_us DESC
		LIMIT $2
	`, trader, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		var quotePrice int64
		var hasQuote bool
		p.Trader = trader
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.PositionID, &p.Instrument, &p.Collateral, &p.Leverage, &p.Size,
			&p.EntryPrice, &p.OpenFee, &p.LiqPriceLong, &p.LiqPriceShort,
			&p.Side, &p.StopLossSet, &p.Status,
			&p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.RealizedPnL, &p.Payout,
			&p.Version, &quotePrice, &hasQuote,
		); err != nil {
			return nil, err
		}

		if p.Status == "open" && hasQuote {
			if sign := sideSign(p.Side); sign != 0 {
				pnl := fpmath.ComputeClosePnL(sign, p.EntryPrice, quotePrice, p.Size)
				p.UnrealizedPnL = &pnl
			}
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// ListOpenPositions returns every open position with the latest quote for
// its instrument. Keeper daemons scan this to find liquidation candidates.
func (qs *Service) ListOpenPositions(ctx context.Context, limit int) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.position_id, p.trader, p.instrument_key, p.collateral, p.leverage, p.size,
		       p.entry_price, p.open_fee, p.liq_price_long, p.liq_price_short,
		       p.side, p.stop_loss_handle IS NOT NULL, p.status,
		       p.opened_at_us, p.closed_at_us, p.exit_price, p.realized_pnl, p.payout,
		       p.version, COALESCE(i.price, 0), COALESCE(i.has_quote, FALSE)
		FROM projections.positions p
		LEFT JOIN projections.instruments i ON i.instrument_key = p.instrument_key
		WHERE p.status = 'open'
		ORDER BY p.opened_at_us
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		var quotePrice int64
		var hasQuote bool
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.PositionID, &p.Trader, &p.Instrument, &p.Collateral, &p.Leverage, &p.Size,
			&p.EntryPrice, &p.OpenFee, &p.LiqPriceLong, &p.LiqPriceShort,
			&p.Side, &p.StopLossSet, &p.Status,
			&p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.RealizedPnL, &p.Payout,
			&p.Version, &quotePrice, &hasQuote,
		); err != nil {
			return nil, err
		}
		if hasQuote {
			if sign := sideSign(p.Side); sign != 0 {
				pnl := fpmath.ComputeClosePnL(sign, p.EntryPrice, quotePrice, p.Size)
				p.UnrealizedPnL = &pnl
			}
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// ListPendingOrders returns every pending limit order, oldest first. Keeper
// daemons scan this to find fillable and expired orders.
func (qs *Service) ListPendingOrders(ctx context.Context, limit int) ([]OrderResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT order_id, trader, instrument_key, collateral, leverage, limit_price,
		       expires_at_us, status, position_id, created_at_us, closed_at_us, version
		FROM projections.orders
		WHERE status = 'pending'
		ORDER BY created_at_us
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OrderResponse
	for rows.Next() {
		var o OrderResponse
		var positionID uuid.NullUUID
		o.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&o.OrderID, &o.Trader, &o.Instrument, &o.Collateral, &o.Leverage, &o.LimitPrice,
			&o.ExpiresAt, &o.Status, &positionID, &o.CreatedAt, &o.ClosedAt, &o.Version,
		); err != nil {
			return nil, err
		}
		if positionID.Valid {
			id := positionID.UUID
			o.PositionID = &id
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

// GetTraderOrders returns a trader's orders, newest first.
func (qs *Service) GetTraderOrders(ctx context.Context, trader uuid.UUID, limit int) ([]OrderResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT order_id, instrument_key, collateral, leverage, limit_price,
		       expires_at_us, status, position_id, created_at_us, closed_at_us, version
		FROM projections.orders
		WHERE trader = $1
		ORDER BY created_at_us DESC
		LIMIT $2
	`, trader, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OrderResponse
	for rows.Next() {
		var o OrderResponse
		var positionID uuid.NullUUID
		o.Trader = trader
		o.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&o.OrderID, &o.Instrument, &o.Collateral, &o.Leverage, &o.LimitPrice,
			&o.ExpiresAt, &o.Status, &positionID, &o.CreatedAt, &o.ClosedAt, &o.Version,
		); err != nil {
			return nil, err
		}
		if positionID.Valid {
			id := positionID.UUID
			o.PositionID = &id
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

// GetTraderBalance returns the trader's margin, escrow, and rewards
// balances in the settlement asset.
func (qs *Service) GetTraderBalance(ctx context.Context, trader uuid.UUID) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	margin, err := qs.getProjectedBalance(ctx, ledger.NewTraderAccountKey(trader, ledger.SubTypeMargin, ledger.QuoteAssetID).AccountPath())
	if err != nil {
		return nil, err
	}
	escrow, err := qs.getProjectedBalance(ctx, ledger.NewTraderAccountKey(trader, ledger.SubTypeEscrow, ledger.QuoteAssetID).AccountPath())
	if err != nil {
		return nil, err
	}
	rewards, err := qs.getProjectedBalance(ctx, ledger.NewTraderAccountKey(trader, ledger.SubTypeRewards, ledger.QuoteAssetID).AccountPath())
	if err != nil {
		return nil, err
	}

	asset, _ := ledger.GetAssetName(ledger.QuoteAssetID)
	return &BalanceResponse{
		Trader:       trader,
		Asset:        asset,
		Margin:       margin,
		Escrow:       escrow,
		Rewards:      rewards,
		AsOfSequence: asOfSeq,
	}, nil
}

// ListInstruments returns all registered instruments with latest quotes.
func (qs *Service) ListInstruments(ctx context.Context) ([]InstrumentResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT instrument_key, active, max_leverage, max_deviation_bp, max_staleness_us,
		       max_open_interest, min_collateral, max_collateral, open_fee_bp, close_fee_bp,
		       price, price_sequence, price_timestamp_us, has_quote
		FROM projections.instruments
		ORDER BY instrument_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []InstrumentResponse
	for rows.Next() {
		var r InstrumentResponse
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&r.Key, &r.Active, &r.MaxLeverage, &r.MaxDeviationBP, &r.MaxStalenessMicros,
			&r.MaxOpenInterest, &r.MinCollateral, &r.MaxCollateral, &r.OpenFeeBP, &r.CloseFeeBP,
			&r.Price, &r.PriceSequence, &r.PriceTimestamp, &r.HasQuote,
		); err != nil {
			return nil, err
		}
		instruments = append(instruments, r)
	}

	return instruments, rows.Err()
}

// GetInstrument returns one instrument by key.
func (qs *Service) GetInstrument(ctx context.Context, key string) (*InstrumentResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var r InstrumentResponse
	r.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT instrument_key, active, max_leverage, max_deviation_bp, max_staleness_us,
		       max_open_interest, min_collateral, max_collateral, open_fee_bp, close_fee_bp,
		       price, price_sequence, price_timestamp_us, has_quote
		FROM projections.instruments
		WHERE instrument_key = $1
	`, key).Scan(
		&r.Key, &r.Active, &r.MaxLeverage, &r.MaxDeviationBP, &r.MaxStalenessMicros,
		&r.MaxOpenInterest, &r.MinCollateral, &r.MaxCollateral, &r.OpenFeeBP, &r.CloseFeeBP,
		&r.Price, &r.PriceSequence, &r.PriceTimestamp, &r.HasQuote,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetJournalHistory returns journal entries touching a trader's accounts,
// with cursor pagination on sequence.
func (qs *Service) GetJournalHistory(ctx context.Context, trader uuid.UUID, limit int, afterSequence *int64) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("trader:%s:%%", trader)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp_us
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity checks hash chain continuity in the event log and the
// zero-sum invariant over the balance projection.
func (qs *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID int16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

func (qs *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *Service) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances
		WHERE account_path = $1 AND asset_id = $2
	`, accountPath, int16(ledger.QuoteAssetID)).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func sideSign(side string) int64 {
	switch side {
	case event.SideLong.String():
		return 1
	case event.SideShort.String():
		return -1
	default:
		return 0
	}
}

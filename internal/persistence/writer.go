package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"veilperp/internal/engine"
	"veilperp/internal/ledger"
)

// EventLogWriter writes events and journals to Postgres using multi-row
// INSERT. ON CONFLICT DO NOTHING makes redelivered batches idempotent, so a
// crash between flush and ACK never corrupts the log.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row in event_log.events.
type EventRow struct {
	Sequence        int64
	EventType       string
	IdempotencyKey  string
	Instrument      *string
	Payload         []byte // JSON-encoded event payload
	StateHash       []byte
	PrevHash        []byte
	TimestampMicros int64
	SourceSequence  int64
}

// JournalRow is a row in event_log.journal.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       int16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromRequest flattens an engine persist request into storage rows.
// Requests without a journal batch (rejected or skipped events still enter
// the log) produce zero journal rows.
func RowsFromRequest(req *engine.PersistRequest) (EventRow, []JournalRow) {
	env := req.Envelope
	row := EventRow{
		Sequence:        env.Sequence,
		EventType:       env.EventType.String(),
		IdempotencyKey:  env.IdempotencyKey,
		Instrument:      env.Instrument,
		Payload:         env.Payload,
		StateHash:       env.StateHash[:],
		PrevHash:        env.PrevHash[:],
		TimestampMicros: env.Timestamp.UnixMicro(),
		SourceSequence:  env.SourceSequence,
	}

	var journals []JournalRow
	if req.Batch != nil {
		journals = make([]JournalRow, 0, len(req.Batch.Journals))
		for _, j := range req.Batch.Journals {
			journals = append(journals, journalRow(j))
		}
	}
	return row, journals
}

func journalRow(j ledger.Journal) JournalRow {
	return JournalRow{
		JournalID:     j.JournalID.String(),
		BatchID:       j.BatchID.String(),
		EventRef:      j.EventRef,
		Sequence:      j.Sequence,
		DebitAccount:  j.DebitAccount.AccountPath(),
		CreditAccount: j.CreditAccount.AccountPath(),
		AssetID:       int16(j.AssetID),
		Amount:        j.Amount,
		JournalType:   int32(j.JournalType),
		Timestamp:     j.Timestamp,
	}
}

// WriteEventBatch writes events inside the given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, instrument, payload, state_hash, prev_hash, timestamp_us, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Instrument,
			e.Payload, e.StateHash, e.PrevHash, e.TimestampMicros, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes journal entries inside the given transaction.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp_us)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

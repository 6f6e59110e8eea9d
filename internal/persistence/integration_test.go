package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"veilperp/internal/engine"
	"veilperp/internal/event"
	"veilperp/internal/ledger"
	"veilperp/internal/observability"
	"veilperp/internal/persistence"
	"veilperp/internal/testutil"
)

func testPersistRequest(seq int64, key string) *engine.PersistRequest {
	instrument := "BTC-PERP"
	trader := uuid.New()
	batchID := uuid.New()

	env := &event.Envelope{
		Sequence:       seq,
		IdempotencyKey: key,
		EventType:      event.EventTypeOpenPosition,
		Instrument:     &instrument,
		Timestamp:      time.UnixMicro(1_700_000_000_000_000),
		SourceSequence: seq,
		Payload:        []byte(`{"test":true}`),
	}
	env.StateHash[0] = byte(seq)
	env.PrevHash[0] = byte(seq - 1)

	batch := &ledger.Batch{
		BatchID:  batchID,
		EventRef: key,
		Sequence: seq,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				EventRef:      key,
				Sequence:      seq,
				DebitAccount:  ledger.NewTraderAccountKey(trader, ledger.SubTypeMargin, ledger.QuoteAssetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalWallet, ledger.QuoteAssetID),
				AssetID:       ledger.QuoteAssetID,
				Amount:        5_000_000,
				JournalType:   ledger.JournalTypeMarginIn,
				Timestamp:     1_700_000_000_000_000,
			},
		},
	}

	return &engine.PersistRequest{Envelope: env, Batch: batch}
}

func TestWriteAndReloadEvents(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewEventLogWriter(db)

	var events []persistence.EventRow
	var journals []persistence.JournalRow
	for seq := int64(1); seq <= 3; seq++ {
		row, jrows := persistence.RowsFromRequest(testPersistRequest(seq, uuid.NewString()))
		events = append(events, row)
		journals = append(journals, jrows...)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, tx, events); err != nil {
		t.Fatalf("write events: %v", err)
	}
	if err := writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		t.Fatalf("write journals: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snapMgr := persistence.NewSnapshotManager(db, observability.NewMetrics())
	loaded, err := snapMgr.LoadEventsFrom(ctx, 1, 100)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d events, want 3", len(loaded))
	}
	if loaded[0].Sequence != 1 || loaded[2].Sequence != 3 {
		t.Errorf("unexpected sequence range: %d..%d", loaded[0].Sequence, loaded[2].Sequence)
	}
	if loaded[0].EventType != "OpenPosition" {
		t.Errorf("event type = %q", loaded[0].EventType)
	}

	latest, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != 3 {
		t.Errorf("latest sequence = %d, want 3", latest)
	}
}

func TestDuplicateWritesAreIgnored(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewEventLogWriter(db)
	row, jrows := persistence.RowsFromRequest(testPersistRequest(1, "dup-key"))

	for i := 0; i < 2; i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		if err := writer.WriteEventBatch(ctx, tx, []persistence.EventRow{row}); err != nil {
			t.Fatalf("write events (attempt %d): %v", i, err)
		}
		if err := writer.WriteJournalBatch(ctx, tx, jrows); err != nil {
			t.Fatalf("write journals (attempt %d): %v", i, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit (attempt %d): %v", i, err)
		}
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Errorf("event count = %d, want 1", count)
	}
}

func TestPostgresIdempotencyChecker(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	checker := persistence.NewPostgresIdempotencyChecker(db)

	seen, err := checker.IsProcessed(ctx, "never-seen")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if seen {
		t.Error("unknown key reported as processed")
	}

	writer := persistence.NewEventLogWriter(db)
	row, _ := persistence.RowsFromRequest(testPersistRequest(1, "known-key"))
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, tx, []persistence.EventRow{row}); err != nil {
		t.Fatalf("write events: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	seen, err = checker.IsProcessed(ctx, "known-key")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !seen {
		t.Error("persisted key not reported as processed")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	snapMgr := persistence.NewSnapshotManager(db, observability.NewMetrics())

	snap := &engine.SnapshotState{
		Sequence:        42,
		Owner:           uuid.New(),
		SequenceCursors: map[string]int64{"commands": 7},
		IdempotencyKeys: []string{"a", "b"},
	}
	snap.StateHash[0] = 0xAB

	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots are not restore candidates.
	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded != nil {
		t.Fatal("unverified snapshot should not load")
	}

	if err := snapMgr.MarkVerified(ctx, 42); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	loaded, err = snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("verified snapshot should load")
	}
	if loaded.Sequence != 42 || loaded.StateHash != snap.StateHash || loaded.Owner != snap.Owner {
		t.Errorf("snapshot mismatch: seq=%d owner=%s", loaded.Sequence, loaded.Owner)
	}
	if loaded.SequenceCursors["commands"] != 7 {
		t.Errorf("sequence cursors not preserved: %v", loaded.SequenceCursors)
	}
}

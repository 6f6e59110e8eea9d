package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"veilperp/internal/config"
	"veilperp/internal/engine"
	"veilperp/internal/event"
	"veilperp/internal/ingestion"
	"veilperp/internal/observability"
	"veilperp/internal/persistence"
	"veilperp/internal/projection"
	"veilperp/internal/query"
	"veilperp/internal/server"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	configPath := flag.String("config", "", "path to YAML config file (empty = defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}

	log.Println("INFO: veilperp starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	snapMgr := persistence.NewSnapshotManager(db, metrics)

	// --- Channels ---
	// The persist channel blocks when full; projection and publish drop.
	persistChan := make(chan *engine.PersistRequest, cfg.Channels.Persist)
	projectionEngineChan := make(chan *engine.ProjectionUpdate, cfg.Channels.Projection)
	projectionWorkerChan := make(chan *engine.ProjectionUpdate, cfg.Channels.Projection)
	publishEventChan := make(chan ingestion.PublishableEvent, cfg.Channels.Publish)
	publishRevealChan := make(chan ingestion.PublishableReveal, cfg.Channels.Publish)

	// --- Engine ---
	eng := engine.New(engine.Config{
		Owner:              cfg.OwnerUUID(),
		FeedKeys:           cfg.FeedPublicKeys(),
		IdempotencyLRUSize: cfg.Engine.IdempotencyLRUSize,
		IdempotencyDB:      persistence.NewPostgresIdempotencyChecker(db),
		PersistChan:        persistChan,
		ProjectionChan:     projectionEngineChan,
		Metrics:            metrics,
		Logger:             observability.NewLogger("engine"),
	})

	// --- Recovery: snapshot restore + event replay ---
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Printf("WARN: load snapshot: %v", err)
	}
	startSequence := int64(0)
	if snap != nil {
		eng.RestoreFromSnapshot(snap)
		startSequence = snap.Sequence
		log.Printf("INFO: restored snapshot at sequence %d", snap.Sequence)
	} else {
		log.Println("INFO: no verified snapshot, cold start from sequence 0")
	}

	errChan := make(chan error, 10)

	// Workers start before replay: re-persisting a replayed event is a no-op
	// (the event log inserts are conflict-free), and the projection tables
	// converge to the replayed state.
	persistWorker := persistence.NewWorker(db, persistChan, cfg.Persistence.BatchSize, cfg.FlushTimeoutDuration(), metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	projWorker := projection.NewWorker(db, projectionWorkerChan, metrics)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	// Fan-out bridge: every engine update goes to the projection worker and,
	// best-effort, to the outbound publisher.
	go runProjectionBridge(ctx, projectionEngineChan, projectionWorkerChan, publishEventChan, publishRevealChan, metrics)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: nats connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure inbound streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure outbound streams: %v", err)
	}

	publisher := ingestion.NewOutboundPublisher(js, publishEventChan, publishRevealChan)
	go func() {
		errChan <- publisher.Run(ctx)
	}()

	replayed, err := replayEvents(ctx, snapMgr, eng, startSequence+1, cfg.Persistence.ReplayPageSize, metrics)
	if err != nil {
		log.Fatalf("FATAL: event replay: %v", err)
	}
	if replayed > 0 {
		log.Printf("INFO: replayed %d events (sequence now %d)", replayed, eng.GetSequence())
	}

	if snap != nil && replayed == 0 {
		if got := eng.GetStateHash(); got != snap.StateHash {
			log.Fatalf("FATAL: state hash mismatch after restore: snapshot %x, engine %x", snap.StateHash, got)
		}
		log.Println("INFO: state hash verified after snapshot restore")
	}

	// Subscribing after replay keeps live traffic out of the recovery path;
	// rawEventChan buffers anything that arrives before the loops start.
	rawEventChan := make(chan ingestion.RawEvent, cfg.Channels.RawEvents)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	// --- Admin injection (HTTP surface) ---
	// The injector keeps its own command counter; deployments use either the
	// HTTP admin endpoints or the veil.admin.* subjects, not both at once.
	adminEventChan := make(chan event.Event, 64)
	injector := ingestion.NewAdminInjector(adminEventChan, cfg.OwnerUUID(), eng.GetSequence())

	// --- Engine loop ---
	// All ProcessEvent calls happen on this one goroutine; snapshot requests
	// are serviced between events for a consistent capture.
	typedEventChan := make(chan event.Event, cfg.Channels.RawEvents)
	go runParseLoop(ctx, rawEventChan, typedEventChan, metrics)

	snapshotReqChan := make(chan chan *engine.SnapshotState)
	go runEngineLoop(ctx, eng, typedEventChan, adminEventChan, snapshotReqChan)

	go runPeriodicSnapshots(ctx, snapMgr, snapshotReqChan, cfg.Engine.SnapshotInterval, startSequence)

	// --- Servers ---
	srv := server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.Deps{
		QueryService:  query.NewService(db),
		Injector:      injector,
		SnapshotMgr:   snapMgr,
		HealthChecker: healthChecker,
		Metrics:       metrics,
	})
	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()
	go func() {
		errChan <- srv.StartHTTP(ctx)
	}()

	healthChecker.SetReady(true)
	log.Printf("INFO: veilperp ready (sequence=%d, grpc=%s, http=%s)",
		eng.GetSequence(), cfg.Server.GRPCAddr, cfg.Server.HTTPAddr)

	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	subscriber.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// The engine loop has stopped; its state is quiescent and safe to read.
	finalSnap := eng.SnapshotState()
	if err := snapMgr.SaveSnapshot(shutdownCtx, finalSnap); err != nil {
		log.Printf("ERROR: final snapshot failed: %v", err)
	} else if err := snapMgr.MarkVerified(shutdownCtx, finalSnap.Sequence); err != nil {
		log.Printf("WARN: mark final snapshot verified: %v", err)
	} else {
		log.Printf("INFO: final snapshot saved at sequence %d", finalSnap.Sequence)
	}

	log.Println("INFO: veilperp shutdown complete")
}

// runParseLoop validates and parses raw NATS messages into typed events.
// Invalid messages are acked and dropped so they never redeliver; valid
// ones are acked after the channel send, which propagates backpressure to
// JetStream when the engine falls behind.
func runParseLoop(ctx context.Context, rawChan <-chan ingestion.RawEvent, out chan<- event.Event, metrics *observability.Metrics) {
	subjectToType := make(map[string]string)
	for _, sc := range ingestion.DefaultSubjects() {
		prefix := sc.Subject
		if len(prefix) > 2 && prefix[len(prefix)-2:] == ".>" {
			prefix = prefix[:len(prefix)-2]
		}
		subjectToType[prefix] = sc.EventType
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				close(out)
				return
			}

			eventType := resolveEventType(raw.Subject, subjectToType)
			if eventType == "" {
				log.Printf("WARN: unknown subject %s, dropping", raw.Subject)
				metrics.IngestParseErrs.WithLabelValues("unknown").Inc()
				raw.AckFunc()
				continue
			}
			metrics.IngestMessages.WithLabelValues(eventType).Inc()

			evt, err := ingestion.ParseRawEvent(raw, eventType)
			if err != nil {
				log.Printf("WARN: parse failed (subject=%s): %v", raw.Subject, err)
				metrics.IngestParseErrs.WithLabelValues(eventType).Inc()
				raw.AckFunc()
				continue
			}

			select {
			case out <- evt:
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

// resolveEventType matches a NATS subject to an event type by longest
// configured prefix.
func resolveEventType(subject string, prefixMap map[string]string) string {
	bestLen := -1
	bestType := ""
	for prefix, evtType := range prefixMap {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix && len(prefix) > bestLen {
			bestLen = len(prefix)
			bestType = evtType
		}
	}
	return bestType
}

// runEngineLoop is the single goroutine that mutates engine state. NATS
// events, injected admin events, and snapshot captures all serialize here.
func runEngineLoop(
	ctx context.Context,
	eng *engine.Engine,
	typedChan <-chan event.Event,
	adminChan <-chan event.Event,
	snapshotReqChan <-chan chan *engine.SnapshotState,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-typedChan:
			if !ok {
				return
			}
			if err := eng.ProcessEvent(ctx, evt); err != nil {
				// Rejections are deterministic; redelivery cannot change the outcome.
				log.Printf("WARN: event rejected (type=%s, key=%s): %v",
					evt.EventType(), evt.IdempotencyKey(), err)
			}

		case evt, ok := <-adminChan:
			if !ok {
				return
			}
			if err := eng.ProcessEvent(ctx, evt); err != nil {
				log.Printf("WARN: injected event rejected (type=%s, key=%s): %v",
					evt.EventType(), evt.IdempotencyKey(), err)
			}

		case reply := <-snapshotReqChan:
			reply <- eng.SnapshotState()
		}
	}
}

// runProjectionBridge fans engine updates out to the projection worker and
// the outbound publisher. Both sends are non-blocking: projections and
// outbound consumers catch up from the persisted log.
func runProjectionBridge(
	ctx context.Context,
	in <-chan *engine.ProjectionUpdate,
	projectionOut chan<- *engine.ProjectionUpdate,
	eventOut chan<- ingestion.PublishableEvent,
	revealOut chan<- ingestion.PublishableReveal,
	metrics *observability.Metrics,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-in:
			if !ok {
				return
			}

			select {
			case projectionOut <- update:
			default:
				metrics.ProjectionDropped()
			}

			env := update.Envelope
			select {
			case eventOut <- ingestion.PublishableEvent{
				Sequence:       env.Sequence,
				EventType:      env.EventType.String(),
				IdempotencyKey: env.IdempotencyKey,
				Instrument:     env.Instrument,
				Payload:        update.Batch,
				StateHash:      env.StateHash[:],
				Timestamp:      env.Timestamp,
			}:
			default:
			}

			for _, reveal := range update.Reveals {
				select {
				case revealOut <- ingestion.PublishableReveal{
					Sequence:   env.Sequence,
					HandleID:   reveal.HandleID.String(),
					Kind:       reveal.Kind.String(),
					Audience:   reveal.Audience,
					Context:    reveal.Context,
					Ciphertext: reveal.Ciphertext,
					Commitment: reveal.Commitment,
					Timestamp:  env.Timestamp,
				}:
					metrics.RevealRequested(reveal.Audience)
				default:
				}
			}
		}
	}
}

// replayEvents replays the persisted log through the engine starting at
// fromSequence. Duplicates and stale sources are skipped by the engine's
// own checks.
func replayEvents(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	eng *engine.Engine,
	fromSequence int64,
	pageSize int,
	metrics *observability.Metrics,
) (int64, error) {
	var total int64

	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, pageSize)
		if err != nil {
			return total, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		for _, row := range rows {
			evt, err := event.DecodePayload(row.EventType, row.Payload)
			if err != nil {
				return total, fmt.Errorf("decode logged event seq=%d type=%s: %w", row.Sequence, row.EventType, err)
			}
			if err := eng.ProcessEvent(ctx, evt); err != nil {
				// A logged event was applied once already; a replay rejection
				// means the log and engine disagree.
				return total, fmt.Errorf("replay seq=%d: %w", row.Sequence, err)
			}
			metrics.ReplayEvents.Inc()
			total++
		}

		fromSequence = rows[len(rows)-1].Sequence + 1
	}
}

// runPeriodicSnapshots captures engine state every interval events. The
// capture itself runs on the engine goroutine via snapshotReqChan.
func runPeriodicSnapshots(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	snapshotReqChan chan<- chan *engine.SnapshotState,
	interval int64,
	lastSequence int64,
) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reply := make(chan *engine.SnapshotState, 1)
			select {
			case snapshotReqChan <- reply:
			case <-ctx.Done():
				return
			}

			var snap *engine.SnapshotState
			select {
			case snap = <-reply:
			case <-ctx.Done():
				return
			}

			if snap.Sequence-lastSequence < interval {
				continue
			}

			if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
				log.Printf("WARN: periodic snapshot failed: %v", err)
				continue
			}
			// Captured from live state, safe to restore from immediately.
			if err := snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
				log.Printf("WARN: mark snapshot verified: %v", err)
			}
			lastSequence = snap.Sequence
			log.Printf("INFO: snapshot saved at sequence %d", snap.Sequence)
		}
	}
}

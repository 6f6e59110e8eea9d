package engine

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"veilperp/internal/confidential"
	"veilperp/internal/event"
	"veilperp/internal/instrument"
	"veilperp/internal/ledger"
	"veilperp/internal/observability"
	"veilperp/internal/order"
	"veilperp/internal/position"
	"veilperp/internal/risk"
)

// PersistRequest carries a processed event to the durability worker.
// The send is blocking: the engine never outruns the write-ahead log.
type PersistRequest struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
}

// ProjectionUpdate carries a processed event to the projection workers.
// The send is non-blocking: a slow reader drops updates, and the
// projections catch up from the persisted log.
type ProjectionUpdate struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
	Reveals  []RevealRequest

	// Value copies of the records the event touched, safe to read off the
	// engine goroutine.
	Orders      []order.Order
	Positions   []position.Position
	Instruments []instrument.Instrument
}

// RevealRequest asks the off-ledger resolver to answer a commit-reveal for
// a handle. The resolver replies with a DirectionResolved event.
type RevealRequest struct {
	HandleID   uuid.UUID
	Kind       confidential.Kind
	Audience   string // "public" or "ledger"
	Context    string
	Ciphertext []byte
	Commitment []byte
}

// handleRef ties an encrypted handle back to the order or position that
// owns it, so a resolution can attribute open interest.
type handleRef struct {
	target     uuid.UUID
	isPosition bool
}

const (
	outcomeApplied  = "applied"
	outcomeSkipped  = "skipped"
	outcomeRejected = "rejected"
)

// Config wires an Engine. Channels may be nil in tests.
type Config struct {
	Owner              uuid.UUID
	FeedKeys           []ed25519.PublicKey
	IdempotencyLRUSize int
	IdempotencyDB      DBIdempotencyChecker
	PersistChan        chan<- *PersistRequest
	ProjectionChan     chan<- *ProjectionUpdate
	Metrics            *observability.Metrics
	Logger             zerolog.Logger
}

// Engine is the deterministic core. All state mutation happens on a single
// goroutine via ProcessEvent; the engine never reads the wall clock, only
// versioned event timestamps.
type Engine struct {
	sequence  int64
	hasher    *StateHasher
	idem      *IdempotencyChecker
	seqValid  *SequenceValidator
	registry  *instrument.Registry
	gateway   *instrument.Gateway
	handles   *confidential.Store
	orders    *order.Book
	positions *position.Manager
	oi        *risk.Aggregator
	balances  *ledger.BalanceTracker
	journals  *ledger.JournalGenerator

	params position.GlobalParams
	owner  uuid.UUID
	paused bool

	handleRefs map[uuid.UUID]handleRef

	persistChan    chan<- *PersistRequest
	projectionChan chan<- *ProjectionUpdate

	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(cfg Config) *Engine {
	registry := instrument.NewRegistry()
	balances := ledger.NewBalanceTracker()

	lruSize := cfg.IdempotencyLRUSize
	if lruSize <= 0 {
		lruSize = 10_000
	}

	return &Engine{
		hasher:         NewStateHasher(),
		idem:           NewIdempotencyChecker(lruSize, cfg.IdempotencyDB),
		seqValid:       NewSequenceValidator(),
		registry:       registry,
		gateway:        instrument.NewGateway(registry, cfg.FeedKeys),
		handles:        confidential.NewStore(),
		orders:         order.NewBook(),
		positions:      position.NewManager(),
		oi:             risk.NewAggregator(),
		balances:       balances,
		journals:       ledger.NewJournalGenerator(1, balances),
		params:         position.DefaultGlobalParams(),
		owner:          cfg.Owner,
		handleRefs:     make(map[uuid.UUID]handleRef),
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
		metrics:        cfg.Metrics,
		log:            cfg.Logger,
	}
}

// dispatchResult is what a handler returns: the balanced batch to apply
// (nil when the event moves no money), canonical encodings of every domain
// record the event touched, and any reveal requests to forward.
type dispatchResult struct {
	batch   *ledger.Batch
	touched [][]byte
	reveals []RevealRequest

	orders      []order.Order
	positions   []position.Position
	instruments []instrument.Instrument
}

// ProcessEvent runs the full pipeline for one event:
// idempotency -> source ordering -> dispatch -> journal apply ->
// state digest -> hash chain -> persist -> projections -> mark processed.
func (e *Engine) ProcessEvent(ctx context.Context, evt event.Event) error {
	start := time.Now()
	key := evt.IdempotencyKey()
	eventType := evt.EventType()

	if e.idem.IsDuplicate(ctx, key) {
		e.observe(eventType, outcomeSkipped, start)
		return nil
	}

	partition := getPartition(evt)
	if isPriceEvent(eventType) {
		if !e.seqValid.ValidatePrice(partition, evt.SourceSequence()) {
			e.observe(eventType, outcomeSkipped, start)
			return nil
		}
	} else {
		stale, err := e.seqValid.ValidateCommand(partition, evt.SourceSequence())
		if stale {
			e.observe(eventType, outcomeSkipped, start)
			return nil
		}
		if err != nil {
			e.observe(eventType, outcomeRejected, start)
			return err
		}
	}

	result, err := e.dispatchEvent(evt)
	if err != nil {
		e.observe(eventType, outcomeRejected, start)
		e.log.Debug().
			Str("event_type", eventType.String()).
			Str("idempotency_key", key).
			Err(err).
			Msg("event rejected")
		return fmt.Errorf("%s %s: %w", eventType, key, err)
	}

	e.sequence++

	if result.batch != nil {
		result.batch.EventRef = key
		result.batch.Sequence = e.sequence
		for i := range result.batch.Journals {
			result.batch.Journals[i].EventRef = key
			result.batch.Journals[i].Sequence = e.sequence
		}
		if err := e.balances.ApplyBatch(result.batch); err != nil {
			// An unbalanced batch from a handler is a defect, not an input error
			panic(fmt.Sprintf("sequence %d: unbalanced batch: %v", e.sequence, err))
		}
	}

	digest := e.computeStateDigest(result.batch, result.touched)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("sequence %d: marshal %s: %v", e.sequence, eventType, err))
	}

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: key,
		EventType:      eventType,
		Instrument:     evt.Instrument(),
		Timestamp:      getEventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	if e.persistChan != nil {
		e.persistChan <- &PersistRequest{Envelope: envelope, Batch: result.batch}
	}

	if e.projectionChan != nil {
		update := &ProjectionUpdate{
			Envelope:    envelope,
			Batch:       result.batch,
			Reveals:     result.reveals,
			Orders:      result.orders,
			Positions:   result.positions,
			Instruments: result.instruments,
		}
		select {
		case e.projectionChan <- update:
		default:
			e.metrics.ProjectionDropped()
		}
	}

	e.idem.MarkProcessed(key)
	e.postCheckInvariants()
	e.metrics.SetSequence(e.sequence)
	if inst := evt.Instrument(); inst != nil {
		totals := e.oi.TotalsFor(*inst)
		e.metrics.SetOpenInterest(*inst, totals.Unattributed, totals.Long, totals.Short)
	}
	e.observe(eventType, outcomeApplied, start)
	return nil
}

func (e *Engine) dispatchEvent(evt event.Event) (dispatchResult, error) {
	switch ev := evt.(type) {
	case *event.PriceUpdate:
		return e.handlePriceUpdate(ev)
	case *event.PriceProofUpdate:
		return e.handlePriceProofUpdate(ev)
	case *event.OpenPosition:
		return e.handleOpenPosition(ev)
	case *event.CreateLimitOrder:
		return e.handleCreateLimitOrder(ev)
	case *event.CancelOrder:
		return e.handleCancelOrder(ev)
	case *event.ExecuteOrder:
		return e.handleExecuteOrder(ev)
	case *event.ClosePosition:
		return e.handleClosePosition(ev)
	case *event.Liquidate:
		return e.handleLiquidate(ev)
	case *event.SetStopLoss:
		return e.handleSetStopLoss(ev)
	case *event.DirectionResolved:
		return e.handleDirectionResolved(ev)
	case *event.InstrumentUpdate:
		return e.handleInstrumentUpdate(ev)
	case *event.FeeParamUpdate:
		return e.handleFeeParamUpdate(ev)
	case *event.PauseUpdate:
		return e.handlePauseUpdate(ev)
	case *event.OwnershipTransfer:
		return e.handleOwnershipTransfer(ev)
	default:
		return dispatchResult{}, fmt.Errorf("unhandled event type %T", evt)
	}
}

// computeStateDigest encodes the balances the batch touched, sorted by
// account path, followed by the canonical bytes of every domain record the
// handler reported.
func (e *Engine) computeStateDigest(batch *ledger.Batch, touched [][]byte) []byte {
	affected := make(map[ledger.AccountKey]struct{})
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = struct{}{}
			affected[j.CreditAccount] = struct{}{}
		}
	}

	type entry struct {
		path    string
		balance int64
	}
	entries := make([]entry, 0, len(affected))
	for key := range affected {
		entries = append(entries, entry{path: key.AccountPath(), balance: e.balances.GetBalance(key)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	buf := make([]byte, 0, len(entries)*48)
	for _, en := range entries {
		buf = appendLenPrefixed(buf, []byte(en.path))
		buf = appendInt64LE(buf, en.balance)
	}
	for _, blob := range touched {
		buf = appendLenPrefixed(buf, blob)
	}
	return buf
}

// postCheckInvariants spot-checks the global zero-sum invariant. Every
// journal is balanced by construction; this catches tracker corruption.
func (e *Engine) postCheckInvariants() {
	if e.sequence%1000 != 0 {
		return
	}
	for assetID, total := range e.balances.ComputeGlobalBalance() {
		if total != 0 {
			panic(fmt.Sprintf("sequence %d: global balance for asset %d is %d, want 0", e.sequence, assetID, total))
		}
	}
}

func (e *Engine) observe(et event.EventType, outcome string, start time.Time) {
	e.metrics.ObserveEvent(et.String(), outcome, time.Since(start))
}

// GetSequence returns the last applied global sequence.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current chain tip.
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// Paused reports the circuit breaker state.
func (e *Engine) Paused() bool {
	return e.paused
}

// Owner returns the current admin owner.
func (e *Engine) Owner() uuid.UUID {
	return e.owner
}

func isPriceEvent(et event.EventType) bool {
	return et == event.EventTypePriceUpdate || et == event.EventTypePriceProofUpdate
}

// getPartition maps an event to its source-ordering partition. Price feeds
// are ordered per instrument; commands and resolver answers each arrive on
// one ordered stream.
func getPartition(evt event.Event) string {
	switch evt.EventType() {
	case event.EventTypePriceUpdate, event.EventTypePriceProofUpdate:
		return fmt.Sprintf("price:%s", *evt.Instrument())
	case event.EventTypeDirectionResolved:
		return "resolver"
	default:
		return "commands"
	}
}

// getEventTimestamp extracts the versioned input timestamp. Unknown types
// panic: silently substituting a timestamp would corrupt determinism.
func getEventTimestamp(evt event.Event) time.Time {
	switch ev := evt.(type) {
	case *event.PriceUpdate:
		return time.UnixMicro(ev.PriceTimestamp)
	case *event.PriceProofUpdate:
		return time.UnixMicro(ev.PriceTimestamp)
	case *event.OpenPosition:
		return ev.Timestamp
	case *event.CreateLimitOrder:
		return ev.Timestamp
	case *event.CancelOrder:
		return ev.Timestamp
	case *event.ExecuteOrder:
		return ev.Timestamp
	case *event.ClosePosition:
		return ev.Timestamp
	case *event.Liquidate:
		return ev.Timestamp
	case *event.SetStopLoss:
		return ev.Timestamp
	case *event.DirectionResolved:
		return ev.Timestamp
	case *event.InstrumentUpdate:
		return ev.Timestamp
	case *event.FeeParamUpdate:
		return ev.Timestamp
	case *event.PauseUpdate:
		return ev.Timestamp
	case *event.OwnershipTransfer:
		return ev.Timestamp
	default:
		panic(fmt.Sprintf("no timestamp accessor for event type %T", evt))
	}
}

func appendInt64LE(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func appendLenPrefixed(buf, blob []byte) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(blob)))
	buf = append(buf, b[:]...)
	return append(buf, blob...)
}

package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes processed events and reveal requests to NATS
// for downstream consumers. Ledger events go out after persistence is
// confirmed; reveal requests notify the resolver that a handle needs a
// commit-reveal answer.
// Subjects: veil.ledger.events.{event_type}[.{instrument}] and
// veil.reveal.requested.{audience}.
type OutboundPublisher struct {
	js         jetstream.JetStream
	eventChan  <-chan PublishableEvent
	revealChan <-chan PublishableReveal
}

// PublishableEvent is a processed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64       `json:"sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Instrument     *string     `json:"instrument,omitempty"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

// PublishableReveal asks the resolver to answer a handle. The ciphertext and
// commitment travel with the request so the resolver needs no ledger lookup.
type PublishableReveal struct {
	Sequence   int64     `json:"sequence"`
	HandleID   string    `json:"handle_id"`
	Kind       string    `json:"kind"`
	Audience   string    `json:"audience"` // "public" or "ledger"
	Context    string    `json:"context"`
	Ciphertext []byte    `json:"ciphertext"`
	Commitment []byte    `json:"commitment"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, eventChan <-chan PublishableEvent, revealChan <-chan PublishableReveal) *OutboundPublisher {
	return &OutboundPublisher{
		js:         js,
		eventChan:  eventChan,
		revealChan: revealChan,
	}
}

// Run starts the outbound publisher loop. Publish failures are non-fatal:
// downstream consumers can query the event log directly, and the resolver
// rereads pending handles on its own schedule.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.eventChan:
			if !ok {
				return nil
			}
			if err := op.publishEvent(ctx, evt); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", evt.Sequence, err)
			}

		case rv, ok := <-op.revealChan:
			if !ok {
				return nil
			}
			if err := op.publishReveal(ctx, rv); err != nil {
				log.Printf("WARN: reveal publish failed handle=%s: %v", rv.HandleID, err)
			}
		}
	}
}

func (op *OutboundPublisher) publishEvent(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("veil.ledger.events.%s", evt.EventType)
	if evt.Instrument != nil {
		subject = fmt.Sprintf("%s.%s", subject, *evt.Instrument)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

func (op *OutboundPublisher) publishReveal(ctx context.Context, rv PublishableReveal) error {
	data, err := json.Marshal(rv)
	if err != nil {
		return fmt.Errorf("marshal reveal: %w", err)
	}

	subject := fmt.Sprintf("veil.reveal.requested.%s", rv.Audience)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStreams creates the outbound event and reveal streams.
func EnsureOutboundStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "VEIL_LEDGER_EVENTS",
			Subjects:  []string{"veil.ledger.events.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VEIL_REVEAL_REQUESTS",
			Subjects:  []string{"veil.reveal.requested.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create outbound stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured outbound stream %s", cfg.Name)
	}
	return nil
}

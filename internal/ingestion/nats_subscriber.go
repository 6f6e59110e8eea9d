package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw events
// into the shell, which parses and forwards them to the deterministic engine.
// NATS JetStream is the primary ingestion surface; each subject class maps
// to a family of event types.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
}

// RawEvent is an unparsed message from NATS, ready for the shell to
// validate and convert into a typed event.Event.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps a NATS subject to an event type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
// Commands share one stream so source sequencing stays strict; price feeds
// and resolver answers each have their own.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "veil.prices.trusted.>", EventType: "PriceUpdate", ConsumerName: "ledger-prices-trusted", StreamName: "VEIL_PRICES"},
		{Subject: "veil.prices.feed.>", EventType: "PriceProofUpdate", ConsumerName: "ledger-prices-feed", StreamName: "VEIL_PRICES"},
		{Subject: "veil.orders.open", EventType: "OpenPosition", ConsumerName: "ledger-open", StreamName: "VEIL_COMMANDS"},
		{Subject: "veil.orders.create", EventType: "CreateLimitOrder", ConsumerName: "ledger-create", StreamName: "VEIL_COMMANDS"},
		{Subject: "veil.orders.cancel", EventType: "CancelOrder", ConsumerName: "ledger-cancel", StreamName: "VEIL_COMMANDS"},
		{Subject: "veil.orders.close", EventType: "ClosePosition", ConsumerName: "ledger-close", StreamName: "VEIL_COMMANDS"},
		{Subject: "veil.orders.stoploss", EventType: "SetStopLoss", ConsumerName: "ledger-stoploss", StreamName: "VEIL_COMMANDS"},
		{Subject: "veil.keeper.execute", EventType: "ExecuteOrder", ConsumerName: "ledger-execute", StreamName: "VEIL_COMMANDS"},
		{Subject: "veil.keeper.liquidate", EventType: "Liquidate", ConsumerName: "ledger-liquidate", StreamName: "VEIL_COMMANDS"},
		{Subject: "veil.reveal.resolved", EventType: "DirectionResolved", ConsumerName: "ledger-resolved", StreamName: "VEIL_RESOLVER"},
		{Subject: "veil.admin.instrument", EventType: "InstrumentUpdate", ConsumerName: "ledger-admin-inst", StreamName: "VEIL_COMMANDS"},
		{Subject: "veil.admin.fees", EventType: "FeeParamUpdate", ConsumerName: "ledger-admin-fees", StreamName: "VEIL_COMMANDS"},
		{Subject: "veil.admin.pause", EventType: "PauseUpdate", ConsumerName: "ledger-admin-pause", StreamName: "VEIL_COMMANDS"},
		{Subject: "veil.admin.owner", EventType: "OwnershipTransfer", ConsumerName: "ledger-admin-owner", StreamName: "VEIL_COMMANDS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
				// Queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "VEIL_PRICES",
			Subjects:  []string{"veil.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VEIL_COMMANDS",
			Subjects:  []string{"veil.orders.>", "veil.keeper.>", "veil.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VEIL_RESOLVER",
			Subjects:  []string{"veil.reveal.resolved"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

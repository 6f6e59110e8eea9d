// The reference keeper daemon. It polls the ledger's query API for open
// positions and pending limit orders, and submits execute and liquidate
// commands over NATS whenever a quote crosses a threshold worth acting on.
// Keeping is permissionless: the engine validates every attempt, and a
// rejected or raced command costs nothing but the message.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"veilperp/internal/ingestion"
	"veilperp/internal/keeper"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	var (
		apiURL   = flag.String("api", "http://localhost:8080", "ledger query API base URL")
		natsURL  = flag.String("nats", "nats://localhost:4222", "NATS server URL")
		keeperID = flag.String("keeper-id", "", "keeper UUID credited with bonuses (required)")
		startSeq = flag.Int64("start-seq", 0, "first command sequence to use")
		interval = flag.Duration("interval", 2*time.Second, "scan interval")
		scanSize = flag.Int("scan-limit", 1000, "max positions/orders fetched per scan")
	)
	flag.Parse()

	id, err := uuid.Parse(*keeperID)
	if err != nil {
		log.Fatalf("FATAL: -keeper-id must be a UUID: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("INFO: received %v, shutting down", sig)
		cancel()
	}()

	nc, js, err := ingestion.ConnectNATS(*natsURL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Printf("INFO: keeper %s connected to %s", id, *natsURL)

	client := keeper.NewClient(*apiURL, *scanSize)
	scanner := keeper.NewScanner()
	commander := keeper.NewCommander(js, id, *startSeq)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("INFO: keeper stopped")
			return
		case <-ticker.C:
			if err := scanOnce(ctx, client, scanner, commander); err != nil {
				log.Printf("WARN: scan: %v", err)
			}
		}
	}
}

func scanOnce(ctx context.Context, client *keeper.Client, scanner *keeper.Scanner, commander *keeper.Commander) error {
	instruments, err := client.Instruments(ctx)
	if err != nil {
		return err
	}
	positions, err := client.OpenPositions(ctx)
	if err != nil {
		return err
	}
	orders, err := client.PendingOrders(ctx)
	if err != nil {
		return err
	}

	actions := scanner.Scan(time.Now().UnixMicro(), instruments, positions, orders)
	for _, a := range actions {
		if err := commander.Attempt(ctx, a); err != nil {
			log.Printf("WARN: %s %s: %v", a.Kind, a.Target, err)
			continue
		}
		log.Printf("INFO: attempted %s %s", a.Kind, a.Target)
	}
	return nil
}

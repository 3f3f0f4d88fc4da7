package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/chatwave/relay/internal/archive"
	"github.com/chatwave/relay/internal/config"
	"github.com/chatwave/relay/internal/messaging"
)

const queueGroup = "archiver"

func main() {
	log.Println("Starting chat archiver...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is required")
	}

	// PostgreSQL setup.
	db, err := archive.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	if err := archive.Migrate(db); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	store := archive.NewStore(db)

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "relay-archiver"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	var saved, failed atomic.Int64

	// Queue group subscription: several archivers share the load and each
	// record is stored once.
	err = natsClient.SubscribeArchive(queueGroup, func(kind string, data []byte) {
		var rec archive.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			failed.Add(1)
			log.Printf("[archiver] failed to unmarshal %s record: %v", kind, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Save(ctx, rec); err != nil {
			failed.Add(1)
			log.Printf("[archiver] save %s instance=%s id=%s: %v", kind, rec.Instance, rec.Message.ID, err)
			return
		}
		saved.Add(1)
		if cfg.Debug() {
			log.Printf("[archiver] stored %s instance=%s id=%s", kind, rec.Instance, rec.Message.ID)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to archive records: %v", err)
	}

	log.Printf("chat archiver running")
	log.Printf("  nats_url: %s", natsConfig.URL)
	log.Printf("  queue:    %s", queueGroup)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	if err := natsClient.UnsubscribeArchive(queueGroup); err != nil {
		log.Printf("unsubscribe error: %v", err)
	}
	natsClient.Close()
	if err := db.Close(); err != nil {
		log.Printf("database close error: %v", err)
	}
	log.Printf("archiver stopped (saved=%d failed=%d)", saved.Load(), failed.Load())
}

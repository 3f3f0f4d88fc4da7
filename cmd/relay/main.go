package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chatwave/relay/internal/archive"
	"github.com/chatwave/relay/internal/chat"
	"github.com/chatwave/relay/internal/config"
	"github.com/chatwave/relay/internal/messaging"
	"github.com/chatwave/relay/internal/presence"
	"github.com/chatwave/relay/internal/ratelimit"
	"github.com/chatwave/relay/internal/relay"
	"github.com/chatwave/relay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.WorkerPoolSize = cfg.WorkerPoolSize
	serverConfig.MaxConnections = cfg.MaxConnections
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout
	serverConfig.SendQueueSize = cfg.SendQueueSize
	serverConfig.MaxFrameBytes = cfg.MaxFrameBytes
	serverConfig.AllowedOrigins = cfg.Origins()
	serverConfig.ReleaseMode = cfg.IsProduction()

	instance := uuid.New().String()

	log.Printf("chat relay starting")
	log.Printf("  instance:        %s", instance)
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  send_queue:      %d", serverConfig.SendQueueSize)
	log.Printf("  offline_timeout: %s", cfg.OfflineTimeout)
	log.Printf("  history_limit:   %d", cfg.HistoryLimit)

	opts := relay.Options{Debug: cfg.Debug()}

	// --- Rate limiting: Redis when configured, in-process otherwise ---
	var rdb *redis.Client
	if cfg.RateMessages > 0 {
		rule := ratelimit.RuleMessage
		rule.Limit = cfg.RateMessages
		rule.Window = cfg.RateWindow

		if cfg.RedisAddr != "" {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := rdb.Ping(ctx).Err()
			cancel()
			if err != nil {
				log.Fatalf("failed to connect to Redis: %v", err)
			}
			opts.Limiter = ratelimit.NewLimiter(rdb, rule)
			log.Printf("  rate_limit:      %d/%s (redis %s)", rule.Limit, rule.Window, cfg.RedisAddr)
		} else {
			opts.Limiter = ratelimit.NewMemoryLimiter(rule)
			log.Printf("  rate_limit:      %d/%s (in-process)", rule.Limit, rule.Window)
		}
	}

	// --- Archival over NATS ---
	var (
		natsClient *messaging.NATSClient
		publisher  *archive.Publisher
	)
	if cfg.ArchiveEnabled {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "relay-" + instance[:8]

		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		publisher = archive.NewPublisher(natsClient, instance, 4096)
		publisher.Start()
		opts.Archive = publisher
		log.Printf("  archive:         %s", natsConfig.URL)
	}

	messages := chat.NewStore(cfg.HistoryLimit)
	private := chat.NewPrivateStore(cfg.PrivateHistoryLimit)
	users := presence.NewRegistry(nil)

	// The dispatcher is created before the server since NewServer needs
	// its Dispatch callback.
	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(serverConfig, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	router := relay.NewRouter(users, messages, private, server, opts)
	relay.RegisterHandlers(dispatcher, router)
	server.SetOnDisconnect(relay.OnDisconnect(router))
	server.Route(relay.APIRoutes(router))

	ctx, stop := context.WithCancel(context.Background())
	relay.StartSweeper(ctx, router, cfg.SweepInterval, cfg.OfflineTimeout)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		stop()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if publisher != nil {
			publisher.Close()
		}
		if natsClient != nil {
			if err := natsClient.Flush(2 * time.Second); err != nil {
				log.Printf("nats flush error: %v", err)
			}
			natsClient.Close()
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

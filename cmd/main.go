/**
 * @description
 * This is the main entry point for the wallet-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, payment provider gateways, message brokers, repositories, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/providers: Payment provider gateways.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/vaultpay/wallet-service/internal/api"
	"github.com/vaultpay/wallet-service/internal/app"
	"github.com/vaultpay/wallet-service/internal/config"
	"github.com/vaultpay/wallet-service/internal/store"
	"github.com/vaultpay/wallet-service/pkg/providers"
	rmrabbit "github.com/vaultpay/wallet-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting wallet-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer used to enqueue webhook jobs. A broker
	// outage at startup degrades to the fallback publisher; events stay
	// PENDING and can be replayed once the broker is back.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the payment provider gateways.
	gateways := providers.NewRegistry(
		providers.NewPaystackClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey),
		providers.NewFlutterwaveClient(cfg.FlutterwaveBaseURL, cfg.FlutterwaveSecretKey),
		providers.NewStripeClient(cfg.StripeBaseURL, cfg.StripeSecretKey),
	)
	log.Printf("level=info component=bootstrap msg=\"provider gateways registered\" providers=%v", gateways.Names())

	// Redis backs distributed rate limiting; a missing or unreachable Redis
	// only disables throttling.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	metrics := app.NewMetrics()
	walletService := app.NewService(
		repository,
		gateways,
		producer,
		metrics,
		cfg.WebhookExchange,
		cfg.TransactionListLimit,
	)

	var limiter *app.RedisRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the API handlers and routes.
	handlers := api.NewWalletHandlers(walletService)
	router := api.WalletRoutes(handlers, repository, limiter, api.RouterConfig{
		JWTSecret:              cfg.JWTSecret,
		APIRateLimitPerMin:     cfg.APIRateLimitPerMin,
		WebhookRateLimitPerMin: cfg.WebhookRateLimitPerMin,
	})

	// Wire up the webhook consumer: bind the process and replay routing keys
	// to the reconciliation handler.
	webhookConsumer := app.NewWebhookConsumer(walletService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	webhookBindings := map[string]func([]byte) bool{
		rmrabbit.WebhookProcessRoutingKey: webhookConsumer.HandleMessage,
		rmrabbit.WebhookReplayRoutingKey:  webhookConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(cfg.WebhookExchange, cfg.WebhookQueue, webhookBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook consumer start failed\" err=%v", err)
	}

	// Background reaper fails idempotency keys stuck in PENDING.
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	reaper := app.NewIdempotencyReaper(
		repository,
		metrics,
		time.Duration(cfg.IdempotencyReaperIntervalMin)*time.Minute,
		time.Duration(cfg.IdempotencyPendingTTLMin)*time.Minute,
	)
	go reaper.Run(reaperCtx)

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	stopReaper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

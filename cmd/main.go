/**
 * @description
 * This is the main entry point for the bank service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the signing key store, the central bank client, message brokers,
 * repositories, the core application service, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/keystore,
 *   internal/store: Internal packages for the service.
 * - pkg/centralbank: Client for the central bank registry.
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

	"github.com/JoonasMagi/jmbpank/internal/api"
	"github.com/JoonasMagi/jmbpank/internal/app"
	"github.com/JoonasMagi/jmbpank/internal/config"
	"github.com/JoonasMagi/jmbpank/internal/keystore"
	"github.com/JoonasMagi/jmbpank/internal/store"
	"github.com/JoonasMagi/jmbpank/pkg/centralbank"
	rmrabbit "github.com/JoonasMagi/jmbpank/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"session secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting bank service\" bank_prefix=%s port=%s test_mode=%t", cfg.BankPrefix, cfg.ServerPort, cfg.TestMode)

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

	// Initialize the data access layer (repository) and make sure the
	// schema exists.
	repository := store.NewPostgresRepository(dbpool)
	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := repository.InitSchema(schemaCtx); err != nil {
		cancelSchema()
		log.Fatalf("level=fatal component=bootstrap msg=\"schema bootstrap failed\" err=%v", err)
	}
	cancelSchema()

	// Initialize the signing key store and make sure an active key exists
	// before the first transfer needs one.
	keys := keystore.New(repository)
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := keys.Rotate(bootCtx, cfg.KeyRotateOnStart); err != nil {
		cancelBoot()
		log.Fatalf("level=fatal component=bootstrap msg=\"signing key initialization failed\" err=%v", err)
	}
	cancelBoot()
	log.Printf("level=info component=bootstrap msg=\"signing key ready\" rotated_on_start=%t", cfg.KeyRotateOnStart)

	// Initialize the RabbitMQ producer to publish transfer status events.
	// The broker is optional; without it events are dropped with a log line.
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

	// Initialize the central bank client.
	directory := centralbank.NewClient(
		cfg.CentralBankURL,
		cfg.CentralBankAPIKey,
		cfg.TestMode,
		time.Duration(cfg.TransferDeliveryTimeoutSecs)*time.Second,
		cfg.TransferDeliveryMaxAttempts,
	)
	directory.LocalJWKS = keys.PublicKeySet

	// Optional Redis for bank-to-bank rate limiting.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; b2b rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; b2b rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; b2b rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	sessions := app.NewSessionManager(cfg.JWTSecret, time.Duration(cfg.SessionTTLHours)*time.Hour)

	// Initialize the core application service with its dependencies.
	bankService := app.NewService(
		repository,
		keys,
		directory,
		producer,
		sessions,
		cfg.BankPrefix,
	)
	if redisClient != nil {
		bankService.SetB2BRateLimit(
			app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.B2BRateLimitPerMinute,
		)
	}

	// Initialize the API handlers and routes.
	handlers := api.NewBankHandlers(bankService)
	handlers.SetTrustProxyHeader(cfg.TrustProxyHeader)
	router := api.BankRoutes(handlers, sessions)

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

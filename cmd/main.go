/**
 * @description
 * This is the main entry point for the usage-service. It is responsible for
 * initializing all components of the service: configuration, the PostgreSQL
 * connection pool backing the subscription store and durable usage ledger, the
 * Redis client backing the fast gating counter, the message broker producer
 * and consumer, the admission engine, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * Availability policy: the database is required to boot; Redis and RabbitMQ
 * are not. With Redis down the engine fails open (degraded admission); with
 * RabbitMQ down telemetry events and billing updates over the broker are
 * disabled, and plan changes still arrive over the internal HTTP API.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for the fast counter.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tutorhub/usage-service/internal/api"
	"github.com/tutorhub/usage-service/internal/app"
	"github.com/tutorhub/usage-service/internal/config"
	"github.com/tutorhub/usage-service/internal/domain"
	"github.com/tutorhub/usage-service/internal/store"
	rmrabbit "github.com/tutorhub/usage-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting usage-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Admission checks read subscriptions and reporting reads the ledger on
	// every request; size the pool accordingly.
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind pgbouncer.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Connect to Redis for the fast gating counter. A failed connection at
	// boot is a warning, not a fatal: admission control fails open while the
	// counter store is unreachable and recovers when it returns.
	// redisClient stays a nil interface unless a client is actually built, so
	// the counter's no-client guard fires instead of a typed-nil dereference.
	var redisClient redis.UniversalClient
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; admission will run fail-open\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; admission will run fail-open\" err=%v", parseErr)
		} else {
			client := redis.NewClient(redisOptions)
			defer client.Close()
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; admission degraded until it recovers\" err=%v", pingErr)
			} else {
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
			cancelPing()
			redisClient = client
		}
	}

	// Initialize the RabbitMQ producer for usage telemetry events.
	var eventProducer *rmrabbit.EventProducer
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; usage events disabled\" env=RABBITMQ_URL")
	} else {
		eventProducer, err = rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.UsageEventExchange)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; usage events disabled\" err=%v", err)
			eventProducer = nil
		} else {
			defer eventProducer.Close()
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	// Initialize the data access layer and the application components.
	repository := store.NewPostgresRepository(dbpool)
	quotas := app.NewPlanQuotas(cfg.FreeAIQueriesPerDay, cfg.FreeTestsPerDay)
	resolver := app.NewEntitlementResolver(repository, quotas)
	counter := app.NewRedisUsageCounter(redisClient, cfg.RedisUsagePrefix, cfg.CounterTimeout())

	var events app.EventPublisher
	if eventProducer != nil {
		events = eventProducer
	}
	admission := app.NewAdmissionController(resolver, counter, repository, events, quotas, cfg.LedgerTimeout(), cfg.LedgerMaxRetries)
	reader := app.NewUsageReader(counter, repository)

	// Consume subscription lifecycle events from the billing service.
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		billingConsumer := app.NewBillingEventConsumer(resolver)
		rabbitConsumer, consumeErr := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if consumeErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; billing events disabled\" err=%v", consumeErr)
		} else {
			defer rabbitConsumer.Close()
			bindings := map[string]func([]byte) bool{
				domain.RoutingKeyBillingSubscriptionUpdated: billingConsumer.HandleMessage,
			}
			if consumeErr := rabbitConsumer.ConsumeWithBindings(cfg.UsageEventExchange, cfg.BillingEventQueue, bindings); consumeErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"billing consumer start failed; billing events disabled\" err=%v", consumeErr)
			} else {
				log.Println("level=info component=bootstrap msg=\"billing event consumer started\"")
			}
		}
	}

	// Initialize the API handlers and the router.
	usageHandlers := api.NewUsageHandlers(admission, resolver, reader)
	router := chi.NewRouter()
	router.Mount("/", api.UsageRoutes(usageHandlers, cfg.JWKSURL, cfg.InternalAPIKey))

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

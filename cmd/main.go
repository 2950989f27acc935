/**
 * @description
 * This is the main entry point for the subscription-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the payment gateway client, message brokers,
 * repositories, the core application service, the expiry sweeper, and the
 * HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/daraja: Client for the M-Pesa Daraja API.
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

	"github.com/lipia/subscription-service/internal/api"
	"github.com/lipia/subscription-service/internal/app"
	"github.com/lipia/subscription-service/internal/config"
	"github.com/lipia/subscription-service/internal/store"
	"github.com/lipia/subscription-service/pkg/daraja"
	lipiarabbit "github.com/lipia/subscription-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DarajaConsumerKey) == "" || strings.TrimSpace(cfg.DarajaConsumerSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway credentials must be configured\" env=DARAJA_CONSUMER_KEY,DARAJA_CONSUMER_SECRET")
	}
	if strings.TrimSpace(cfg.CallbackBaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"callback base url must be configured\" env=CALLBACK_BASE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting subscription-service\" port=%s", cfg.ServerPort)

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

	// Initialize the RabbitMQ producer to publish lifecycle events. The broker
	// being down must not keep payments from flowing, so fall back to a no-op
	// publisher instead of failing the boot.
	var producer lipiarabbit.Publisher
	rabbitProducer, err := lipiarabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &lipiarabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the Daraja gateway client with its token cache.
	tokens := daraja.NewTokenCache(cfg.DarajaBaseURL, cfg.DarajaConsumerKey, cfg.DarajaConsumerSecret)
	gateway := daraja.NewClient(cfg.DarajaBaseURL, cfg.DarajaShortCode, cfg.DarajaPasskey, tokens)

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
	callbackURL := cfg.CallbackBaseURL + "/subscriptions/payments/callback"
	subscriptionService := app.NewService(repository, gateway, producer, callbackURL)
	subscriptionService.ConfigureRateLimits(cfg.SubscribeRateLimitPerMinute, cfg.StatusRateLimitPerMinute)
	if redisClient != nil {
		subscriptionService.SetRateLimiter(
			app.NewRedisPushRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
		)
	}

	// Start the scheduled expiry sweep.
	sweeper := app.NewSweeper(subscriptionService, cfg.ExpirySweepSchedule)
	sweeper.Start()
	defer func() {
		<-sweeper.Stop().Done()
	}()

	// Initialize the API handlers.
	subscriptionHandlers := api.NewSubscriptionHandlers(subscriptionService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/subscriptions", api.SubscriptionRoutes(subscriptionHandlers, cfg.JWKSURL))

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

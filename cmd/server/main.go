/**
 * @description
 * This is the main entry point for the ledger server. It is responsible for
 * initializing all components of the service, including configuration,
 * database connection, external API clients, message brokers, repositories,
 * the core application service, the settlement re-scan job, and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Balance cache client.
 * - github.com/robfig/cron/v3: Settlement re-scan scheduling.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/chainwallet, pkg/keystore, pkg/notifyclient, pkg/rabbitmq: Supporting clients.
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
	"github.com/robfig/cron/v3"

	"github.com/opencredit/ledger-service/internal/api"
	"github.com/opencredit/ledger-service/internal/app"
	"github.com/opencredit/ledger-service/internal/config"
	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/internal/store"
	"github.com/opencredit/ledger-service/pkg/chainwallet"
	"github.com/opencredit/ledger-service/pkg/keystore"
	"github.com/opencredit/ledger-service/pkg/notifyclient"
	rmrabbit "github.com/opencredit/ledger-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"secret key must be configured\" env=SECRET_KEY")
	}
	if cfg.InternalAPIUsername == "" || cfg.InternalAPIPassword == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api credentials must be configured\" env=INTERNAL_API_USERNAME,INTERNAL_API_PASSWORD")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger server\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for settlement requests. Missing
	// RabbitMQ degrades to the fallback: transfers still decide, settlement
	// waits for the re-scan once the broker is back.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.FallbackPublisher{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the advisory balance cache. Redis being down only costs
	// cache hits; the transfer log remains authoritative.
	var redisClient *redis.Client
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; balance cache disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; balance cache disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; balance cache disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}
	balanceCache := app.NewBalanceCache(redisClient, cfg.RedisBalanceCachePrefix)

	// Initialize the private key encryption keystore.
	keys, err := keystore.New(cfg.SecretKey)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"keystore init failed\" err=%v", err)
	}

	// The wallet service derives public addresses for platform-managed keys.
	walletClient := chainwallet.NewClient(cfg.WalletAPIBaseURL, cfg.WalletAPIKey)

	// Fire-and-forget settlement update callbacks to the front-end layer.
	var notifier app.SettlementNotifier
	if cfg.SettlementCallbackURL != "" {
		notifier = notifyclient.NewClient(cfg.SettlementCallbackURL)
	} else {
		log.Println("level=info component=bootstrap msg=\"settlement callbacks disabled\" env=SETTLEMENT_CALLBACK_URL")
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	dispatcher := app.NewDispatcher(repository, producer, app.DispatcherConfig{
		Exchange:      cfg.SettlementExchange,
		Tasks:         domainTaskConfig(cfg),
		MasterAddress: cfg.MasterAddress,
	})

	// Initialize the core application service with its dependencies.
	ledgerService := app.NewService(repository, balanceCache, dispatcher, keys, walletClient, notifier, app.ServiceConfig{
		Tasks:           domainTaskConfig(cfg),
		StartingBalance: cfg.StartingBalance,
		MasterAddress:   cfg.MasterAddress,
	})

	// Schedule the settlement re-scan job. The grace doubles the worker's
	// polling budget so a re-dispatch never races an in-flight broadcast or
	// active confirmation polling.
	rescanGrace := 2 * cfg.PollInterval() * time.Duration(cfg.PollMaxAttempts)
	rescanJob := app.NewRescanJob(repository, ledgerService, dispatcher, time.Duration(cfg.RescanWindowHours)*time.Hour, rescanGrace)
	cronLogger := cron.PrintfLogger(log.New(os.Stdout, "", log.LstdFlags))
	scheduler := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	if _, err := scheduler.AddFunc(cfg.RescanSchedule, rescanJob.Run); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rescan job schedule invalid\" schedule=%s err=%v", cfg.RescanSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Printf("level=info component=bootstrap msg=\"rescan job scheduled\" schedule=%s window_hours=%d", cfg.RescanSchedule, cfg.RescanWindowHours)

	// Initialize the API handlers and router.
	ledgerHandlers := api.NewLedgerHandlers(ledgerService)
	router := api.LedgerRoutes(ledgerHandlers, cfg.InternalAPIUsername, cfg.InternalAPIPassword)

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

// domainTaskConfig maps the chain configuration into the task resolver's
// settings.
func domainTaskConfig(cfg config.Config) domain.TaskConfig {
	return domain.TaskConfig{
		UsesExternalToken: cfg.UsesExternalToken,
		ForceLoadAmount:   cfg.ForceLoadAmount,
	}
}

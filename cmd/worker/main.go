/**
 * @description
 * This is the main entry point for the settlement worker. The worker owns no
 * database: it consumes settlement requests from RabbitMQ, broadcasts chain
 * transactions through the wallet service, polls the explorer for
 * confirmations, and reports every receipt back to the ledger server over
 * the basic-auth internal API. A cron scheduler drives the periodic
 * inbound-spend discovery sweep.
 *
 * @dependencies
 * - log/slog, os/signal: Standard Go libraries.
 * - github.com/redis/go-redis/v9: The shared batch accumulator.
 * - internal/config, internal/worker: Internal packages for the worker.
 * - pkg/chainwallet, pkg/explorer, pkg/ledgerclient, pkg/rabbitmq: Supporting clients.
 */

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opencredit/ledger-service/internal/config"
	"github.com/opencredit/ledger-service/internal/worker"
	"github.com/opencredit/ledger-service/pkg/chainwallet"
	"github.com/opencredit/ledger-service/pkg/explorer"
	"github.com/opencredit/ledger-service/pkg/ledgerclient"
	rmrabbit "github.com/opencredit/ledger-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.LedgerAPIBaseURL == "" || cfg.InternalAPIUsername == "" || cfg.InternalAPIPassword == "" {
		logger.Error("ledger internal api configuration missing", "env", "LEDGER_API_BASE_URL,INTERNAL_API_USERNAME,INTERNAL_API_PASSWORD")
		os.Exit(1)
	}

	logger.Info("starting settlement worker", "queue", cfg.SettlementRequestQueue, "batching_enabled", cfg.BatchingEnabled)

	walletClient := chainwallet.NewClient(cfg.WalletAPIBaseURL, cfg.WalletAPIKey)
	explorerClient := explorer.NewClient(cfg.ExplorerBaseURL)
	ledgerAPI := ledgerclient.NewClient(cfg.LedgerAPIBaseURL, cfg.InternalAPIUsername, cfg.InternalAPIPassword)

	submitter := worker.NewSubmitter(walletClient, explorerClient, ledgerAPI, logger, worker.SubmitterConfig{
		PollInterval:    cfg.PollInterval(),
		PollMaxAttempts: cfg.PollMaxAttempts,
		ChainDecimals:   cfg.ChainDecimals,
		Currency:        cfg.ChainCurrency,
		ForceLoadAmount: cfg.ForceLoadAmount,
	})

	// The batch accumulator lives in Redis so a worker restart mid-window
	// never loses accepted disbursements.
	var batcher *worker.Batcher
	if cfg.BatchingEnabled {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Error("redis url parse failed; batching requires redis", "error", parseErr)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOptions)
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
			cancelPing()
			logger.Error("redis ping failed; batching requires redis", "error", pingErr)
			os.Exit(1)
		}
		cancelPing()
		defer redisClient.Close()

		accumulator := worker.NewRedisAccumulator(redisClient, cfg.RedisBatchKey)
		batcher = worker.NewBatcher(accumulator, submitter, logger, cfg.BatchHold())
		logger.Info("disbursement batching enabled", "hold", cfg.BatchHold().String(), "key", cfg.RedisBatchKey)

		// The accumulator outlives the process but the flush timer does not.
		// Drain anything a previous run left behind, otherwise those entries
		// wait forever: later appends find the list already created and never
		// arm a timer of their own.
		go batcher.Flush()
	}

	var requestBatcher worker.RequestBatcher
	if batcher != nil {
		requestBatcher = batcher
	}
	engine := worker.NewEngine(submitter, requestBatcher, logger, worker.EngineConfig{
		Exchange:        cfg.SettlementExchange,
		Queue:           cfg.SettlementRequestQueue,
		BatchingEnabled: cfg.BatchingEnabled && batcher != nil,
	})

	consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("rabbitmq consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := engine.Start(consumer); err != nil {
		logger.Error("settlement engine start failed", "error", err)
		os.Exit(1)
	}
	logger.Info("settlement engine consuming", "exchange", cfg.SettlementExchange)

	discovery := worker.NewDiscovery(ledgerAPI, explorerClient, logger, cfg.ChainDecimals)
	scheduler := worker.NewScheduler(discovery, logger, cfg.DiscoverySchedule)
	scheduler.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	// Let the running cron jobs and any open batch window drain.
	<-scheduler.Stop().Done()
	if batcher != nil {
		batcher.Flush()
	}
	logger.Info("shutdown complete")
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/speedrun-hq/speedrun-resolver/pkg/approval"
	"github.com/speedrun-hq/speedrun-resolver/pkg/blockchain"
	"github.com/speedrun-hq/speedrun-resolver/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/events"
	"github.com/speedrun-hq/speedrun-resolver/pkg/executor"
	"github.com/speedrun-hq/speedrun-resolver/pkg/health"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/okxclient"
	"github.com/speedrun-hq/speedrun-resolver/pkg/processor"
	"github.com/speedrun-hq/speedrun-resolver/pkg/quote"
	"github.com/speedrun-hq/speedrun-resolver/pkg/resolver"
	"github.com/speedrun-hq/speedrun-resolver/pkg/store"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		appLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	nonces := blockchain.NewNonceManager(appLogger)
	// a record outliving every confirmation wait belongs to a transaction the pool dropped
	nonces.SetTransactionTimeout(2 * cfg.Networks.MaxConfirmationTimeout())
	executors, err := executor.NewRegistry(cfg.Networks.All(), executorFactories(ctx, cfg.Signers, nonces, appLogger), appLogger)
	if err != nil {
		log.Fatalf("Failed to create executors: %v", err)
	}

	quotes := quote.NewService(okxclient.New(cfg.Credentials, appLogger), cfg.Networks, appLogger)

	var spenderCache approval.SpenderCache = approval.NewMemoryCache(cfg.SpenderCacheTTL)
	if cfg.RedisURL != "" {
		redisCache, err := approval.NewRedisCache(ctx, cfg.RedisURL, cfg.SpenderCacheTTL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()
		spenderCache = redisCache
	}
	approvals := approval.NewManager(approval.FromRegistry(executors), quotes, spenderCache, appLogger)

	deps := processor.Deps{
		Quotes:     quotes,
		Approvals:  approvals,
		Executors:  executors,
		Networks:   cfg.Networks,
		FeeRateBps: cfg.FeeRateBps,
		Logger:     appLogger,
	}
	dispatcher := processor.NewDispatcher(processor.NewSameChain(deps), processor.NewCrossChain(deps, nil))

	var orders store.Store = store.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		gormStore, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open order store: %v", err)
		}
		defer gormStore.Close()
		orders = gormStore
	} else {
		appLogger.Notice("DATABASE_URL not set, using in-memory order store")
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NatsURL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NatsURL, cfg.Credentials.Timeout, appLogger)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	breakers := circuitbreaker.NewSet(cfg.CircuitBreaker, executors.ChainIDs(), appLogger)

	res, err := resolver.New(resolver.Config{
		ResolverID:      cfg.ResolverID,
		MaxRetries:      cfg.MaxRetries,
		WorkerCount:     cfg.WorkerCount,
		BatchTimeout:    cfg.BatchTimeout,
		PollingInterval: cfg.PollingInterval,
		RunOnce:         cfg.RunOnce,
	}, orders, dispatcher, publisher, breakers, appLogger)
	if err != nil {
		log.Fatalf("Failed to create resolver: %v", err)
	}

	if !cfg.RunOnce {
		go health.NewServer(cfg.MetricsPort, executors, breakers, res, appLogger).Start(ctx)
	}

	appLogger.Info("Starting the resolver service...")
	if err := res.Run(ctx); err != nil {
		appLogger.Error("Resolver stopped with error: %v", err)
		os.Exit(1)
	}
}

// executorFactories builds one factory per chain family with a configured signer
func executorFactories(ctx context.Context, signers config.Signers, nonces *blockchain.NonceManager, log logger.Logger) map[models.ChainType]executor.Factory {
	factories := make(map[models.ChainType]executor.Factory)

	if signers.EVMPrivateKey != "" {
		factories[models.ChainTypeEVM] = func(network config.NetworkConfig) (executor.Executor, error) {
			key, _, err := blockchain.ParseEVMKey(signers.EVMPrivateKey)
			if err != nil {
				return nil, err
			}
			client, err := blockchain.DialEVM(ctx, network.RPCURL, network.ChainID)
			if err != nil {
				return nil, err
			}
			return executor.NewEVMExecutor(network, client, key, nonces, log), nil
		}
	}

	if signers.SUIPrivateKey != "" {
		factories[models.ChainTypeSUI] = func(network config.NetworkConfig) (executor.Executor, error) {
			signer, err := executor.ParseSuiKey(signers.SUIPrivateKey)
			if err != nil {
				return nil, err
			}
			client, err := executor.DialSui(ctx, network.RPCURL)
			if err != nil {
				return nil, err
			}
			return executor.NewSuiExecutor(network, client, signer, nonces, log), nil
		}
	}

	return factories
}

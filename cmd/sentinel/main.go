// Command sentinel watches Raydium for new pools, resolves the listed token,
// scores its risk and stores it. It also serves the read API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"solana-pool-sentinel/internal/api"
	"solana-pool-sentinel/internal/config"
	"solana-pool-sentinel/internal/discovery"
	"solana-pool-sentinel/internal/events"
	"solana-pool-sentinel/internal/ingestion"
	"solana-pool-sentinel/internal/observability"
	"solana-pool-sentinel/internal/queue"
	"solana-pool-sentinel/internal/queue/memq"
	"solana-pool-sentinel/internal/queue/redisq"
	"solana-pool-sentinel/internal/solana"
	"solana-pool-sentinel/internal/storage"
	chstore "solana-pool-sentinel/internal/storage/clickhouse"
	"solana-pool-sentinel/internal/storage/memory"
	"solana-pool-sentinel/internal/storage/migrations"
	pgstore "solana-pool-sentinel/internal/storage/postgres"
	"solana-pool-sentinel/internal/supervisor"
	"solana-pool-sentinel/internal/worker"
)

const depthInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env-file", ".env", "Optional .env file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory queue and storage instead of Redis and a database")
	migrate := flag.Bool("migrate", false, "Apply storage migrations before starting")
	flag.Parse()

	cfg, err := config.Load(*envFile, func(c *config.Config) {
		if *useMemory {
			c.Queue.Backend = "memory"
			c.Storage.Backend = "memory"
		}
	})
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, reg)

	store, closeStore, err := openStore(ctx, cfg.Storage, *migrate, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	instrumented := storage.NewInstrumented(store, cfg.Storage.Backend, metrics.RecordDBQuery)

	registry, closeQueues, err := openQueues(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueues()

	rpcOpts := []solana.ClientOption{
		solana.WithCommitment(cfg.Solana.Commitment),
		solana.WithCallObserver(metrics.RecordRPCCall),
	}
	if cfg.Solana.RPCRateLimit > 0 {
		rpcOpts = append(rpcOpts, solana.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.Solana.RPCRateLimit), cfg.Solana.RPCBurst)))
	}
	rpc := solana.NewHTTPClient(cfg.Solana.RPCURL, rpcOpts...)

	resolver := ingestion.NewResolver(ingestion.ResolverOptions{
		RPC:              rpc,
		URIFetcher:       ingestion.NewHTTPURIFetcher(),
		ProgramID:        cfg.Solana.ProgramID,
		ExcludedAccounts: cfg.Solana.ExcludedAccounts,
		Logger:           logger,
	})

	dispatcher, err := newDispatcher(cfg, metrics, logger)
	if err != nil {
		return err
	}

	processor := ingestion.NewProcessor(ingestion.ProcessorOptions{
		Resolver: resolver,
		Store:    instrumented,
		Notifier: dispatcher,
		Metrics:  metrics,
		Logger:   logger,
	})

	var workers worker.Manager
	var results <-chan worker.JobResult
	if cfg.WorkersEnabled {
		pool, err := workers.Init(worker.ManagerOptions{
			Pool: worker.PoolOptions{
				Registry: registry,
				OnDrop:   func(worker.JobResult) { metrics.RecordResultDropped() },
				Logger:   logger,
			},
			Queues: []worker.QueueSpec{{
				Name:        cfg.Queue.Name,
				Process:     processor.Process,
				Concurrency: cfg.Queue.Concurrency,
				Lease:       cfg.Queue.Lease,
			}},
		})
		if err != nil {
			return err
		}
		results = pool.Results()
	} else {
		logger.Info("workers disabled, detections are only enqueued")
	}
	if err := dispatcher.Run(results); err != nil {
		return err
	}

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Commitment = cfg.Solana.Commitment
	subscriber := discovery.NewSubscriber(discovery.SubscriberOptions{
		Dial: func(ctx context.Context) (solana.WSClient, error) {
			client, err := solana.NewWSClient(ctx, cfg.Solana.WSURL, &wsCfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		ProgramID: cfg.Solana.ProgramID,
		Detector:  discovery.NewInstructionDetector(cfg.Solana.Instruction),
		Enqueuer:  registry,
		QueueName: cfg.Queue.Name,
		JobOptions: queue.Options{
			Delay:       cfg.Queue.Delay,
			MaxAttempts: cfg.Queue.MaxAttempts,
			Backoff:     cfg.Queue.Backoff,
		},
		Metrics: metrics,
		Logger:  logger,
	})

	sup := supervisor.New(supervisor.Options{
		Runner: subscriber,
		Config: supervisor.Config{
			MaxRetries: cfg.Reconnect.SupervisorRetries(),
			BaseDelay:  cfg.Reconnect.BaseDelay,
			MaxDelay:   cfg.Reconnect.MaxDelay,
		},
		OnFatal: func(err error) {
			logger.Error("subscription supervisor is fatal, shutting down", zap.Error(err))
		},
		OnStateChange: func(s supervisor.State) {
			logger.Debug("subscription state", zap.Stringer("state", s))
		},
		Metrics: metrics,
		Logger:  logger,
	})

	go registry.WatchDepth(ctx, depthInterval, func(name string, c queue.Counts, err error) {
		if err != nil {
			logger.Warn("queue depth unavailable", zap.String("queue", name), zap.Error(err))
			return
		}
		metrics.SetQueueDepth(name, c.Waiting, c.Active, c.Failed)
	})

	apiDone := make(chan error, 1)
	apiCtx, stopAPI := context.WithCancel(context.Background())
	defer stopAPI()
	if cfg.Server.Enabled {
		router := api.NewRouter(api.RouterOptions{
			Store:   instrumented,
			Metrics: observability.HandlerFor(reg),
			Logger:  logger,
		})
		go func() {
			apiDone <- api.ServeAndWait(apiCtx, router, api.ServerConfig{
				Host:            cfg.Server.Host,
				Port:            cfg.Server.Port,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, logger)
		}()
	} else {
		apiDone <- nil
	}

	logger.Info("sentinel started",
		zap.String("program", cfg.Solana.ProgramID),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("workers", cfg.WorkersEnabled))

	runErr := sup.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// Shutdown order: stop detections, drain workers, flush events, stop the
	// API. Queues and store close in the deferred calls above.
	logger.Info("shutting down")
	stop()
	if err := subscriber.Stop(); err != nil {
		logger.Warn("stop subscriber", zap.Error(err))
	}
	if err := workers.Close(); err != nil {
		logger.Warn("close workers", zap.Error(err))
	}
	if err := dispatcher.Close(); err != nil {
		logger.Warn("close events", zap.Error(err))
	}
	stopAPI()
	if err := <-apiDone; err != nil {
		logger.Warn("api server", zap.Error(err))
	}

	return runErr
}

func openStore(ctx context.Context, cfg config.StorageConfig, migrate bool, logger *zap.Logger) (storage.TokenStore, func(), error) {
	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory token store")
		return memory.NewTokenStore(), func() {}, nil

	case "postgres":
		if migrate {
			if err := migrations.RunPostgresMigrations(cfg.PostgresDSN); err != nil {
				return nil, nil, err
			}
		}
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, 10)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return pgstore.NewTokenStore(pool), pool.Close, nil

	case "clickhouse":
		conn, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		if migrate {
			if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
				_ = conn.Close()
				return nil, nil, err
			}
		}
		logger.Info("connected to clickhouse")
		return chstore.NewTokenStore(conn), func() { _ = conn.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func openQueues(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*queue.Registry, func(), error) {
	registry := queue.NewRegistry()
	q := cfg.Queue

	var backend queue.Backend
	cleanup := func() {
		if err := registry.Close(); err != nil {
			logger.Warn("close queues", zap.Error(err))
		}
	}

	switch q.Backend {
	case "memory":
		backend = memq.New(q.Name, memq.Options{DedupTTL: q.DedupTTL, MaxStalls: q.MaxStalls})
	case "redis":
		client, err := redisq.NewClient(ctx, redisq.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, nil, err
		}
		backend = redisq.New(client, q.Name, redisq.Options{
			PollInterval: q.PollInterval,
			DedupTTL:     q.DedupTTL,
			MaxStalls:    q.MaxStalls,
			Logger:       logger,
		})
		closeQueues := cleanup
		cleanup = func() {
			closeQueues()
			_ = client.Close()
		}
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", q.Backend)
	}

	if err := registry.Register(q.Name, backend); err != nil {
		cleanup()
		return nil, nil, err
	}
	return registry, cleanup, nil
}

func newDispatcher(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (*events.Dispatcher, error) {
	sinks := []events.Sink{events.NewLogSink(logger), events.NewMetricsSink(metrics)}

	if cfg.Kafka.Enabled {
		producer, err := events.NewKafkaProducer(events.KafkaConfig{
			Brokers:  events.SplitBrokers(cfg.Kafka.Brokers),
			Topic:    cfg.Kafka.Topic,
			ClientID: "pool-sentinel",
		})
		if err != nil {
			return nil, err
		}
		sink, err := events.NewKafkaSink(producer, cfg.Kafka.Topic)
		if err != nil {
			_ = producer.Close()
			return nil, err
		}
		sinks = append(sinks, sink)
		logger.Info("publishing events to kafka", zap.String("topic", cfg.Kafka.Topic))
	}

	return events.NewDispatcher(events.DispatcherOptions{Sinks: sinks, Logger: logger}), nil
}

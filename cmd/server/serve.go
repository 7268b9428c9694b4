package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Shoto0095/rafiki/config"
	"github.com/Shoto0095/rafiki/internal/cache"
	"github.com/Shoto0095/rafiki/internal/handler"
	"github.com/Shoto0095/rafiki/internal/lease"
	"github.com/Shoto0095/rafiki/internal/observability"
	"github.com/Shoto0095/rafiki/internal/pkg/quote"
	"github.com/Shoto0095/rafiki/internal/provider"
	"github.com/Shoto0095/rafiki/internal/provider/connector"
	"github.com/Shoto0095/rafiki/internal/pub"
	"github.com/Shoto0095/rafiki/internal/repository"
	"github.com/Shoto0095/rafiki/internal/router"
	paymentsignal "github.com/Shoto0095/rafiki/internal/signal"
	"github.com/Shoto0095/rafiki/internal/usecase"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the payment worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			cfg, err := config.Load(logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting outgoing payments service", zap.String("version", Version))

	shutdownTracing := observability.InitOTel(ctx, logger, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.Otel.ServiceName,
		Environment: cfg.Server.Env,
		Version:     Version,
		SampleRatio: cfg.Otel.SampleRatio,
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// storage
	var (
		paymentRepo repository.PaymentRepository
		ledger      repository.LedgerRepository
		db          *pgxpool.Pool
	)
	switch cfg.Server.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, state is lost on restart")
		paymentRepo = repository.NewMemoryPaymentRepository()
		ledger = repository.NewMemoryLedger()
	default:
		var err error
		db, err = config.ConnectDB(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := repository.Migrate(ctx, db); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		paymentRepo = repository.NewPaymentRepository(db)
		ledger = repository.NewLedgerRepository(db)
	}

	// rates and transmission
	static, err := provider.ParseRateTable(cfg.Rates)
	if err != nil {
		return fmt.Errorf("invalid RATES: %w", err)
	}
	var (
		probe       provider.RateProbe   = static
		transmitter provider.Transmitter = provider.LoopbackTransmitter{}
	)
	if cfg.Connector.BaseURL != "" {
		client := connector.NewClient(connector.Config{
			BaseURL: cfg.Connector.BaseURL,
			APIKey:  cfg.Connector.APIKey,
			Timeout: cfg.Connector.Timeout,
		}, logger)
		probe, transmitter = client, client
	} else {
		logger.Warn("no connector configured, using static rates and loopback transmission")
	}

	// coordination
	var (
		bus         paymentsignal.Bus = paymentsignal.NewLocalBus()
		redisBus    *paymentsignal.RedisBus
		redisClient redis.UniversalClient
	)
	if cfg.Redis.Enabled() {
		redisClient = cache.NewClient(cfg.Redis.Addrs, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.UseCluster)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisBus = paymentsignal.NewRedisBus(redisClient, logger)
		bus = redisBus
		probe = provider.NewCachedRateProbe(probe, cache.New(redisClient), cfg.Redis.RateTTL, logger)
	} else {
		logger.Warn("redis not configured, cancel signals only wake workers in this process")
	}
	leases := newLeaseManager(cfg, db, redisClient)
	logger.Info("payment lease backend selected", zap.String("backend", fmt.Sprintf("%T", leases)))

	// events
	var publisher pub.Publisher = pub.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = pub.NewKafkaPublisher(pub.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Async:   cfg.Kafka.Async,
		}, logger)
	}
	defer publisher.Close()

	paymentUC := usecase.NewPaymentUsecase(
		paymentRepo,
		ledger,
		quote.NewEngine(cfg.Quote.Slippage, cfg.Quote.Lifespan),
		probe,
		transmitter,
		publisher,
		bus,
		usecase.Config{Policy: cfg.Lifecycle, MaxPacketAmount: cfg.Quote.MaxPacketAmount},
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRoutes(handler.NewPaymentHandler(paymentUC, logger), logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	if cfg.Server.Env == "development" {
		reflection.Register(grpcServer)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen on grpc port: %w", err)
		}
		logger.Info("grpc health server starting", zap.String("port", cfg.Server.GRPCPort))
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return grpcServer.Serve(lis)
	})

	if redisBus != nil {
		g.Go(func() error { return redisBus.Run(gctx) })
	}

	if cfg.Worker.Enabled {
		worker := usecase.NewWorker(paymentUC, leases, bus, usecase.WorkerConfig{
			Concurrency:   cfg.Worker.Concurrency,
			PollInterval:  cfg.Worker.PollInterval,
			LeaseTTL:      cfg.Worker.LeaseTTL,
			BatchSize:     cfg.Worker.BatchSize,
			MaxInlineWait: cfg.Worker.MaxInlineWait,
		}, logger)
		g.Go(func() error { return worker.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("server forced to shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	logger.Info("outgoing payments service started",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("service stopped")
	return nil
}

// newLeaseManager picks the lease backend shared by every instance: Redis when configured,
// otherwise the payment database. Only the memory store keeps leases in process.
func newLeaseManager(cfg *config.Config, db *pgxpool.Pool, redisClient redis.UniversalClient) lease.Manager {
	switch {
	case redisClient != nil:
		return lease.NewRedisManager(redisClient)
	case cfg.Server.StoreDriver == "postgres" && db != nil:
		return lease.NewPostgresManager(db)
	}
	return lease.NewMemoryManager()
}

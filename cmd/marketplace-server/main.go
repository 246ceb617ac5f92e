package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"marketplace/backend/internal/cache"
	"marketplace/backend/internal/config"
	"marketplace/backend/internal/events"
	"marketplace/backend/internal/jobs"
	"marketplace/backend/internal/service/availability"
	"marketplace/backend/internal/service/bookings"
	"marketplace/backend/internal/service/slots"
	"marketplace/backend/internal/store"
	"marketplace/backend/internal/store/memory"
	"marketplace/backend/internal/store/postgres"
	"marketplace/backend/internal/telemetry"
	grpcTransport "marketplace/backend/internal/transport/grpc"
	"marketplace/backend/internal/transport/ops"
)

const serviceName = "marketplace-server"

type repositories interface {
	store.AvailabilityRepository
	store.CatalogRepository
	store.BookingRepository
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env load failed", slog.Any("err", err))
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Error("timezone load failed", slog.Any("err", err), slog.String("timezone", cfg.Timezone))
		os.Exit(1)
	}

	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("ops_addr", cfg.OpsAddr),
		slog.String("storage", cfg.StorageDriver),
		slog.String("timezone", loc.String()),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		log.Error("telemetry setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("telemetry shutdown failed", slog.Any("err", err))
		}
	}()

	checks := map[string]ops.Check{}

	var repo repositories
	switch cfg.StorageDriver {
	case "memory":
		log.Warn("using in-memory storage; data is lost on exit")
		mem := memory.New()
		if cfg.StorageSeedFile == "" {
			log.Warn("in-memory catalog is empty; set MARKETPLACE_STORAGE_SEED_FILE to load services")
		} else {
			services, variations, err := mem.LoadCatalogFile(cfg.StorageSeedFile)
			if err != nil {
				log.Error("catalog seed failed", slog.Any("err", err), slog.String("path", cfg.StorageSeedFile))
				os.Exit(1)
			}
			log.Info("catalog seeded", slog.String("path", cfg.StorageSeedFile), slog.Int("services", services), slog.Int("variations", variations))
		}
		repo = mem
	default:
		log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
		db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
			log.Error("database connection failed", args...)
			os.Exit(1)
		}
		defer func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		}()
		repo = postgres.NewSchedulingRepo(db)
		checks["postgres"] = postgres.Ping(db)
	}

	var slotCache cache.SlotCache = cache.Noop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close failed", slog.Any("err", err))
			}
		}()
		slotCache = cache.NewRedisSlotCache(rdb, cfg.SlotCacheTTL)
		checks["redis"] = cache.Ping(rdb)
		log.Info("slot cache enabled", slog.String("redis_addr", cfg.RedisAddr), slog.Duration("ttl", cfg.SlotCacheTTL))
	}

	var sink events.Sink = events.NewLogSink(log)
	if brokers := events.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		publisher := events.NewKafkaPublisher(brokers, events.Topics{
			Created:   cfg.KafkaTopicCreated,
			Cancelled: cfg.KafkaTopicCancelled,
		}, log)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("kafka publisher close failed", slog.Any("err", err))
			}
		}()
		sink = publisher
		log.Info("kafka events enabled", slog.Int("brokers", len(brokers)))
	}

	generator := slots.NewGenerator(repo, repo, repo, slotCache, loc, log)
	scheduler := bookings.NewScheduler(repo, repo, slotCache, sink, loc, log)
	availabilitySvc := availability.NewService(repo, log, availability.WithSlotCache(slotCache))

	sweeper, err := jobs.NewCompletionSweeper(scheduler, cfg.CompletionSchedule, log)
	if err != nil {
		log.Error("completion schedule invalid", slog.Any("err", err), slog.String("schedule", cfg.CompletionSchedule))
		os.Exit(1)
	}
	sweeper.Start()

	auth := grpcTransport.NewAuthenticator(cfg.JWTSecret, "GenerateSlots")
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcTransport.RequestTimeoutInterceptor(cfg.GRPCRequestTimeout),
			auth.UnaryInterceptor(),
		),
	)
	grpcTransport.RegisterSchedulingServiceServer(grpcServer, grpcTransport.NewSchedulingServer(generator, scheduler, availabilitySvc, log))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(grpcTransport.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		os.Exit(1)
	}

	opsServer := ops.NewServer(cfg.OpsAddr, ops.NewHandler(checks, log))

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))
	log.Info("ops server started", slog.String("ops_addr", cfg.OpsAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
		}
	}

	healthServer.Shutdown()
	shutdown(log, grpcServer, opsServer, sweeper, cfg.ShutdownTimeout)
}

func shutdown(log *slog.Logger, s *grpc.Server, opsServer *http.Server, sweeper *jobs.CompletionSweeper, timeout time.Duration) {
	log.Info("shutting down", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := opsServer.Shutdown(ctx); err != nil {
		log.Warn("ops server shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}

	sweeper.Stop(ctx)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}

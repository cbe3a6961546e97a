package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/messaging"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/platform/logging"
	"github.com/rl1809/stock-ledger/internal/platform/observability"
	"github.com/rl1809/stock-ledger/internal/port"
	"github.com/rl1809/stock-ledger/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// the logger depends on config, so this one goes to stderr
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	// Initialize MySQL
	if cfg.RunMigrations {
		if err := migrations.Up(cfg.MySQLDSN); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	logger.Info("connected to mysql")

	mysqlAdapter := storage.NewMySQLAdapter(db)
	items := mysqlAdapter.Items()

	opts := []service.DeductionOption{service.WithLogger(logger)}

	// Initialize Redis
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, ledger cache will recover through its breaker", zap.Error(err))
		} else {
			logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		}
		opts = append(opts, service.WithLedgerCache(storage.NewRedisAdapter(rdb, cfg.LedgerCacheTTL, logger)))
	}

	// Initialize event publishing
	var events port.EventPublisher = messaging.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		sink := messaging.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher := messaging.NewAsyncPublisher(sink, cfg.EventWorkers, cfg.EventQueueSize, logger)
		defer func() {
			publisher.Close()
			if err := sink.Close(); err != nil {
				logger.Warn("failed to close kafka writer", zap.Error(err))
			}
			logger.Info("event workers stopped")
		}()
		events = publisher
		logger.Info("publishing events to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}
	opts = append(opts, service.WithEventPublisher(events))

	// Initialize services
	executor := service.NewTxExecutor(mysqlAdapter, service.ExecutorConfig{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}, logger)
	deductions := service.NewDeductionService(items, mysqlAdapter.Ledger(), executor, opts...)
	itemService := service.NewItemService(items, logger)

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLoggingInterceptor(logger)))
	handler.RegisterStockServiceServer(grpcServer, handler.NewGRPCHandler(itemService, deductions, logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Start HTTP server
	app := handler.NewApp(handler.NewHTTPHandler(itemService, deductions, logger))
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	return nil
}

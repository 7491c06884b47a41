package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/simaogato/obligations-backend/internal/adapter/events"
	grpcadapter "github.com/simaogato/obligations-backend/internal/adapter/grpc"
	"github.com/simaogato/obligations-backend/internal/adapter/lock"
	"github.com/simaogato/obligations-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/obligations-backend/internal/app"
	"github.com/simaogato/obligations-backend/internal/config"
	"github.com/simaogato/obligations-backend/internal/domain"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	// 1. Setup Database
	// Add 2-second delay to ensure Postgres is up (Simple retry)
	time.Sleep(2 * time.Second)

	db, err := postgres.NewDB(cfg.DBConnStr)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// 2. Locks and events
	var locker domain.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, "obligations:")
		logger.WithField("addr", cfg.RedisAddr).Info("Using redis locks")
	}

	var publisher domain.EventPublisher
	if len(cfg.KafkaBroker) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		defer kafka.Close()
		publisher = kafka
		logger.WithField("topic", cfg.KafkaTopic).Info("Publishing events to kafka")
	}

	// 3. Initialize Services (Use Cases)
	svc := app.New(app.PostgresRepositories(db), locker, publisher, cfg.Tuning, logger)

	// 4. Start gRPC Server
	grpcServer := grpclib.NewServer(
		grpclib.ChainUnaryInterceptor(
			grpcadapter.LoggingInterceptor(logger),
			grpcadapter.AuthInterceptor(cfg.APIToken),
			grpcadapter.WorkspaceInterceptor(),
		),
	)

	grpcAdapter := grpcadapter.NewServer(
		svc.Scheduler, svc.Obligations, svc.Reconciliation, svc.Documents,
		svc.Ledger, svc.Cashflow, svc.Alerts, logger,
	)
	grpcadapter.RegisterObligationServiceServer(grpcServer, grpcAdapter)

	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatalf("Failed to listen on %s: %v", cfg.GRPCAddr, err)
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatalf("Failed to serve gRPC server: %v", err)
		}
	}()

	// Graceful shutdown
	waitForShutdown(grpcServer, logger)
}

// waitForShutdown waits for SIGTERM or SIGINT and gracefully shuts down the server
func waitForShutdown(grpcServer *grpclib.Server, logger *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Infof("Received signal: %v. Shutting down gracefully...", sig)

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
}

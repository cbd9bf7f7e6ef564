package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/petclassify/internal/auth"
	"github.com/example/petclassify/internal/config"
	"github.com/example/petclassify/internal/grpcserver"
	"github.com/example/petclassify/internal/handlers"
	"github.com/example/petclassify/internal/logging"
	"github.com/example/petclassify/internal/repository"
	"github.com/example/petclassify/internal/usecase"
)

func main() {
	cfg, err := config.Load(os.Getenv(config.PathEnv))
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	initCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(initCtx, cfg.DatabaseDSN, logger)
	repo := repository.NewClassificationRepository(db, logger)
	if err := repo.AutoMigrate(initCtx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(initCtx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)

	cache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewClassificationUseCase(repo, cache, logger, usecase.Options{
		FallbackOnDecodeError: cfg.FallbackOnDecodeError,
		MaxPixels:             cfg.MaxPixels,
	})

	validator := auth.NewValidator(cfg.JWTSecret, cfg.JWTAudience)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(validator), cfg.MaxUploadBytes)
	httpServer := &http.Server{Handler: r}

	grpcServer, healthServer := grpcserver.NewGRPCServer(uc, validator, cfg.MaxUploadBytes, logger)

	httpLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err), zap.String("addr", cfg.HTTPAddr))
	}
	grpcLn, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err), zap.String("addr", cfg.GRPCAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("petclassify listening",
		zap.String("http_addr", httpLn.Addr().String()),
		zap.String("grpc_addr", grpcLn.Addr().String()),
		zap.Bool("fallback_on_decode_error", cfg.FallbackOnDecodeError))
	if err := serveAll(ctx, logger, cfg.ShutdownTimeout, httpServer, httpLn, grpcServer, grpcLn, healthServer); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// serveAll runs the HTTP and gRPC servers until ctx is done or one of them
// fails, then shuts both down within shutdownTimeout. In-flight HTTP
// requests and RPCs are drained.
func serveAll(
	ctx context.Context,
	logger *zap.Logger,
	shutdownTimeout time.Duration,
	httpServer *http.Server,
	httpLn net.Listener,
	grpcServer *grpc.Server,
	grpcLn net.Listener,
	healthServer *health.Server,
) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return grpcServer.Serve(grpcLn)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		if healthServer != nil {
			healthServer.Shutdown()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		err := httpServer.Shutdown(shutdownCtx)
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return g.Wait()
}

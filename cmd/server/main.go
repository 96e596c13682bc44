package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/iudanet/gophchat/internal/config"
	"github.com/iudanet/gophchat/internal/crypto"
	"github.com/iudanet/gophchat/internal/server"
	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/internal/server/broker"
	"github.com/iudanet/gophchat/internal/server/jwt"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/internal/server/storage"
	"github.com/iudanet/gophchat/internal/server/storage/redis"
	"github.com/iudanet/gophchat/internal/server/storage/sqlite"
	"github.com/iudanet/gophchat/internal/server/ws"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// userStore хранилище пользователей, которое нужно серверу целиком
type userStore interface {
	storage.UserStorage
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	envFile := flag.String("env", ".env", "Path to optional .env file")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", slog.Any("error", err))
		}
	}()

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret, err = jwt.GenerateSecret()
		if err != nil {
			return err
		}
		logger.Warn("JWT_SECRET is not set, using a random key: tokens will not survive a restart")
	}

	tokens, err := jwt.NewService(jwt.Config{
		Secret: secret,
		TTL:    cfg.JWTTTL,
		Issuer: cfg.JWTIssuer,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	authService := auth.NewService(logger, store, crypto.NewBcryptHasher(cfg.BcryptCost), tokens)

	handler := server.NewHandler(ctx, server.Options{
		Logger:     logger,
		Auth:       authService,
		Storage:    store,
		Broker:     broker.New(),
		Metrics:    m,
		Gatherer:   reg,
		Version:    Version,
		Origins:    cfg.AllowedOrigins(),
		RateLimits: server.AuthRateLimits(cfg.AuthRateLimit, cfg.AuthRateWindow),
		WS: ws.Config{
			AllowAnonymous:   cfg.WSAllowAnonymous,
			SendQueue:        cfg.WSSendQueue,
			HandshakeTimeout: cfg.WSHandshakeTimeout,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("address", cfg.Address),
			slog.String("storage", cfg.StorageDriver),
			slog.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Shutdown не ждет websocket соединений, их закрываем сами
	sessionsClosed := make(chan struct{})
	srv.RegisterOnShutdown(func() {
		defer close(sessionsClosed)
		handler.CloseSessions(shutdownCtx)
	})

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	<-sessionsClosed

	logger.Info("server stopped")
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (userStore, error) {
	switch cfg.StorageDriver {
	case config.StorageRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store, err := redis.New(redis.Config{Client: client, KeyPrefix: cfg.RedisKeyPrefix})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("redis is unavailable at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("using redis storage", slog.String("addr", cfg.RedisAddr))
		return store, nil
	default:
		store, err := sqlite.New(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite storage", slog.String("path", cfg.DatabasePath))
		return store, nil
	}
}

func printVersion() {
	fmt.Printf("GophChat Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

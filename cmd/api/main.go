package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"officeflow.org/internal/auth"
	"officeflow.org/internal/config"
	"officeflow.org/internal/httpapi"
	"officeflow.org/internal/migrate"
	"officeflow.org/internal/obs"
	"officeflow.org/internal/store/pg"
	"officeflow.org/internal/throttle"
	"officeflow.org/migrations"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	restore := obs.SetLogger(logger)
	defer restore()
	defer func() { _ = logger.Sync() }()

	// Инициализация observability (регистрация метрик, build info)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("officeflow-api stopped with error", zap.Error(err))
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var (
		store auth.Store
		probe httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pgStore.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = pgStore.Ping(pingCtx)
		cancel()
		if err != nil {
			return err
		}
		if cfg.AutoMigrate {
			applied, err := migrate.NewManager(pgStore.DB(), migrations.FS).Up(ctx)
			if err != nil {
				return err
			}
			logger.Info("migrations up to date", zap.Int("applied", len(applied)))
		}
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore}
	} else {
		logger.Warn("OFFICEFLOW_PG_DSN not set, using in-memory credential store")
		store = auth.NewMemoryStore()
	}

	tokens, err := auth.NewTokenIssuer(cfg.AuthSecret, auth.WithTokenTTL(cfg.TokenTTL))
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, tokens,
		auth.WithTOTP(auth.NewTOTP(cfg.TOTPIssuer)),
		auth.WithNotifier(auth.NewLogNotifier(logger.Named("notifier"))),
		auth.WithLogger(logger.Named("auth")),
		auth.WithLockoutThreshold(cfg.LockoutThreshold),
		auth.WithResetTTL(cfg.ResetTokenTTL),
		auth.WithResetURLBase(cfg.ResetURLBase),
	)
	if err != nil {
		return err
	}

	var th *throttle.Throttle
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, throttle fails open until it recovers", zap.Error(err))
		}
		th = throttle.New(client, cfg.ThrottleMaxAttempts, cfg.ThrottleWindow)
	}

	if cfg.SeedAdminEmail != "" {
		created, err := svc.EnsureAdmin(ctx, "Administrator", cfg.SeedAdminEmail, cfg.SeedAdminPassword)
		if err != nil {
			return err
		}
		if created {
			logger.Info("default administrator created", zap.String("email", auth.NormalizeEmail(cfg.SeedAdminEmail)))
		}
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	api := httpapi.New(svc, probe, httpapi.Options{
		Version:        version,
		Throttle:       th,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSec,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Logger:         logger,
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var health *httpapi.GRPCHealth
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		health = httpapi.NewGRPCHealth(probe)
		grpcSrv := httpapi.NewGRPCServer(health)
		go health.Watch(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
		defer grpcSrv.GracefulStop()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	if health != nil {
		health.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return runErr
}

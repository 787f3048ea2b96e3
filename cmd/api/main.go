package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/tallybook/tallybook/internal/audit"
	"github.com/tallybook/tallybook/internal/config"
	"github.com/tallybook/tallybook/internal/infra"
	"github.com/tallybook/tallybook/internal/ledger"
	"github.com/tallybook/tallybook/internal/logging"
	"github.com/tallybook/tallybook/internal/notification"
	"github.com/tallybook/tallybook/internal/routes"
	"github.com/tallybook/tallybook/internal/server"
	"github.com/tallybook/tallybook/internal/wallet"
)

// backend bundles the repositories of one storage driver.
type backend struct {
	wallets wallet.Repository
	ledger  ledger.Store
	ping    func(context.Context) error
	close   func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.IsDevelopment())

	ctx := context.Background()
	guard := audit.NewGuard(nil)

	store, err := openBackend(ctx, cfg, guard)
	if err != nil {
		logger.Error("open storage", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer store.close()

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisTimeout)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		logger.Error("build notifier", "kind", cfg.Notifier, "error", err)
		os.Exit(1)
	}
	if closer, ok := notifier.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("close notifier", "error", err)
			}
		}()
	}

	wallets := wallet.NewService(store.wallets, logger)
	system, err := wallets.EnsureSystemWallets(ctx)
	if err != nil {
		logger.Error("ensure system wallets", "error", err)
		os.Exit(1)
	}
	for label, w := range system {
		logger.Info("system wallet ready", "label", string(label), "wallet_id", w.ID)
	}

	srv, err := server.New(routes.Deps{
		Cfg:     cfg,
		Logger:  logger,
		Cache:   cache,
		Wallets: wallets,
		Engine:  ledger.NewEngine(store.ledger, store.wallets, notifier, logger, ledger.WithNotifyTimeout(cfg.NotifyTimeout)),
		Ping:    store.ping,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}

func openBackend(ctx context.Context, cfg config.Config, guard *audit.Guard) (backend, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.LockTimeout)
		if err != nil {
			return backend{}, err
		}
		if err := infra.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return backend{}, err
		}
		return backend{
			wallets: wallet.NewPostgresRepository(pool, guard),
			ledger:  ledger.NewPostgresStore(pool, guard, cfg.LockTimeout),
			ping:    pool.Ping,
			close:   pool.Close,
		}, nil
	case config.StorageSQLite:
		db, err := infra.OpenSQLite(ctx, cfg.SQLitePath, cfg.SQLiteBusyTimeout)
		if err != nil {
			return backend{}, err
		}
		return backend{
			wallets: wallet.NewSQLiteRepository(db, guard),
			ledger:  ledger.NewSQLiteStore(db, guard),
			ping:    db.PingContext,
			close:   func() { _ = db.Close() },
		}, nil
	default:
		return backend{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func newNotifier(cfg config.Config, logger *slog.Logger) (notification.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierKafka:
		return notification.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.NotifierRabbitMQ:
		return notification.NewRabbitMQNotifier(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	default:
		return notification.NewLoggerNotifier(logger), nil
	}
}

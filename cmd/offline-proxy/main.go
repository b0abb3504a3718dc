// Command offline-proxy runs an offline cache manager in front of one origin.
// Pages browse the origin through the proxy; the /_sw routes deliver the
// message, sync, push and notification click events a browser would.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/webpro-offline/pkg/config"
	"github.com/Sternrassler/webpro-offline/pkg/logging"
	"github.com/Sternrassler/webpro-offline/pkg/network"
	"github.com/Sternrassler/webpro-offline/pkg/notify"
	"github.com/Sternrassler/webpro-offline/pkg/worker"
)

// installRetryInterval spaces install attempts while the origin is unreachable.
const installRetryInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "offline-proxy: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("offline-proxy failed")
	}
}

// app is everything run builds from a Config.
type app struct {
	server *server
	reg    *worker.Registration
	mgr    *worker.Manager
	close  func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	netCfg := network.DefaultConfig(cfg.Origin)
	netCfg.Timeout = cfg.FetchTimeout
	netCfg.Retry.MaxAttempts = cfg.FetchMaxAttempts
	client, err := network.New(netCfg)
	if err != nil {
		return nil, fmt.Errorf("network client: %w", err)
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		if rdb, err = newRedisClient(cfg.RedisURL); err != nil {
			return nil, err
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
	}

	storage, err := openStorage(ctx, cfg, rdb)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage, err)
	}

	cleanup := func() error {
		errs := []error{storage.Close()}
		if rdb != nil {
			errs = append(errs, rdb.Close())
		}
		return errors.Join(errs...)
	}

	mf, err := loadManifest(cfg.ManifestPath)
	if err != nil {
		cleanup()
		return nil, err
	}

	center := notify.NewCenter()
	box := openOutbox(cfg, rdb)

	wcfg := worker.DefaultConfig(cfg.Origin, mf)
	wcfg.Storage = storage
	wcfg.Fetcher = client
	wcfg.Outbox = box
	wcfg.Notifier = center
	wcfg.Batch.MaxConcurrency = cfg.MaxConcurrency
	wcfg.Batch.Timeout = cfg.FetchTimeout

	mgr, err := worker.New(wcfg)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("manager: %w", err)
	}

	reg := worker.NewRegistration(client)
	return &app{
		server: &server{
			reg:    reg,
			origin: client.Origin(),
			center: center,
			outbox: box,
			now:    time.Now,
		},
		reg:   reg,
		mgr:   mgr,
		close: cleanup,
	}, nil
}

// install retries Update until the manager controls the origin or ctx ends.
// Until then requests pass straight through to the origin.
func (a *app) install(ctx context.Context, interval time.Duration) {
	for {
		if err := a.reg.Update(ctx, a.mgr); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func run(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close backends")
		}
	}()

	logger := logging.NewLogger("offline-proxy")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.server.routes(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	installCtx, cancelInstall := context.WithCancel(ctx)
	defer cancelInstall()
	go a.install(installCtx, installRetryInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("origin", cfg.Origin).
			Str("storage", cfg.Storage).
			Msg("Starting offline proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("Shutting down")
	cancelInstall()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// The manager is not registered when install never succeeded.
	return errors.Join(srv.Shutdown(shutdownCtx), a.reg.Close(shutdownCtx), a.mgr.Close(shutdownCtx))
}

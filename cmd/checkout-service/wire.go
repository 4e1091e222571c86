package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/app"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/blob"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/gateway"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/notify"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/reservation"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/sqlstore"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/config"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/telemetry"
)

type loader func() (config.Config, error)

// runtime is the wired process: every adapter plus the use cases on top.
type runtime struct {
	cfg     config.Config
	store   *sqlstore.Store
	cache   cache.Cache
	svc     *app.Service
	sweeper *app.Sweeper
}

// bootstrap sets up logging and tracing. The returned function flushes
// spans and must run before exit.
func bootstrap(ctx context.Context, cfg config.Config) (func(), error) {
	telemetry.InitLogger(telemetry.LoggerOptions{
		Service: cfg.OTel.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
	})

	shutdown, err := telemetry.SetupTracer(ctx, telemetry.TracerOptions{
		ServiceName: cfg.OTel.ServiceName,
		Env:         cfg.Env,
		Endpoint:    cfg.OTel.Endpoint,
		Enabled:     cfg.OTel.Enabled,
		SampleRatio: cfg.OTel.SampleRatio,
	})
	if err != nil {
		return nil, err
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}, nil
}

func build(ctx context.Context, cfg config.Config, prune bool) (*runtime, error) {
	store, err := sqlstore.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, store: store}

	if cfg.UsesRedis() {
		rt.cache = cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "checkout")
		if err := rt.cache.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
	}

	var (
		reservations ports.ReservationStore
		purger       app.ReservationPurger
	)
	switch cfg.Reservation.Backend {
	case "redis":
		reservations = reservation.NewRedisStore(rt.cache)
	default:
		mem := reservation.NewMemoryStore()
		reservations, purger = mem, mem
		if cfg.Checkout.Flow == string(app.FlowReservation) {
			slog.Warn("in-memory reservations do not survive restarts and are not shared between replicas")
		}
	}

	var notifier ports.Notifier
	switch cfg.Notify.Backend {
	case "redis":
		notifier = notify.NewRedisQueue(rt.cache, cfg.Notify.Queue)
	default:
		notifier = notify.NewLogNotifier(slog.Default())
	}

	client, err := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Processor.BaseURL,
		SecretKey: cfg.Processor.SecretKey,
		Timeout:   cfg.Processor.Timeout,
	})
	if err != nil {
		_ = rt.close()
		return nil, err
	}

	rt.svc, err = app.NewService(app.Deps{
		Store:        store,
		Catalog:      store,
		Reservations: reservations,
		Gateway:      client,
		Verifier:     gateway.NewWebhookVerifier(cfg.Processor.WebhookSecret, cfg.Processor.SignatureTolerance),
		Notifier:     notifier,
		Blobs:        blob.NewFSWriter(cfg.Blob.Dir),
		SagaLog:      store.SagaLog(),
	}, app.Options{
		Flow:           app.Flow(cfg.Checkout.Flow),
		ReservationTTL: cfg.Reservation.TTL,
		SessionTTL:     cfg.Processor.SessionTTL,
		StoreTimeout:   cfg.Checkout.StoreTimeout,
		NotifyTimeout:  cfg.Checkout.NotifyTimeout,
		Currency:       cfg.Processor.Currency,
		SuccessURL:     cfg.Processor.SuccessURL,
		CancelURL:      cfg.Processor.CancelURL,
	})
	if err != nil {
		_ = rt.close()
		return nil, err
	}

	rt.sweeper = app.NewSweeper(rt.svc, app.SweeperOptions{
		Interval:  cfg.Checkout.SweepInterval,
		Horizon:   cfg.Checkout.PendingHorizon,
		BatchSize: cfg.Checkout.SweepBatch,
		Prune:     prune,
	}, store, purger)
	return rt, nil
}

// ready reports whether the database and Redis answer.
func (rt *runtime) ready(ctx context.Context) error {
	if err := rt.store.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if rt.cache != nil {
		if err := rt.cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (rt *runtime) close() error {
	var errs []error
	if closer, ok := rt.cache.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, rt.store.Close())
	return errors.Join(errs...)
}

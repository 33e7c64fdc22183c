// Command marketplace runs the marketplace client stores behind the local
// companion HTTP API.
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

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/localmart/marketplace-client/internal/api"
	"github.com/localmart/marketplace-client/internal/api/handler"
	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
	"github.com/localmart/marketplace-client/internal/core/pricing"
	"github.com/localmart/marketplace-client/internal/core/service"
	"github.com/localmart/marketplace-client/internal/infrastructure/db/mongo"
	"github.com/localmart/marketplace-client/internal/infrastructure/db/redis"
	"github.com/localmart/marketplace-client/internal/infrastructure/identity"
	"github.com/localmart/marketplace-client/internal/infrastructure/payout"
	"github.com/localmart/marketplace-client/internal/infrastructure/queue"
	"github.com/localmart/marketplace-client/internal/infrastructure/realtime"
	"github.com/localmart/marketplace-client/internal/pkg/config"
	"github.com/localmart/marketplace-client/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "marketplace: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.Load()
	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.Env == "development",
		Service: "marketplace-client",
	})

	// --- Storage ---
	mongoClient, db, err := mongo.Connect(ctx, mongo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = mongoClient.Disconnect(dctx)
	}()
	if err := mongo.EnsureIndexes(ctx, db); err != nil {
		log.Warn().Err(err).Msg("ensure indexes failed")
	}

	rdb, err := redis.Connect(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	kv := redis.NewKVStore(rdb, cfg.Redis.Namespace)
	data := mongo.NewDataService(db)

	// --- Change feed ---
	var (
		feed     ports.ChangeFeed
		wsClient *realtime.Client
	)
	switch cfg.Realtime.Driver {
	case config.RealtimeDriverWebsocket:
		wsClient, err = realtime.NewClient(realtime.Config{
			URL:    cfg.Realtime.URL,
			APIKey: cfg.Realtime.APIKey,
		}, logger.Component("realtime"))
		if err != nil {
			return fmt.Errorf("realtime client: %w", err)
		}
		feed = wsClient
	default:
		feed = mongo.NewChangeFeed(db, 0, 0, logger.Component("change_feed"))
	}

	// --- Identity ---
	provider := identity.NewProvider(mongo.NewAccountRepository(db), kv, identity.Config{
		Secret:        cfg.Auth.JWTSecret,
		TokenTTL:      cfg.Auth.TokenTTL,
		RefreshBefore: cfg.Auth.RefreshBefore,
	}, logger.Component("identity"))
	defer provider.Close()

	// --- Stores ---
	reconciler := service.NewReconciler(feed, data, logger.Component("reconciler"))
	dispatcher := queue.NewDispatcher(cfg.Realtime.Workers, reconciler, logger.Component("dispatcher"))
	reconciler.UseQueue(dispatcher)

	sessions := service.NewSessionStore(provider, data, kv, reconciler, logger.Component("session"))
	dashboards := service.NewDashboardStore(reconciler, logger.Component("dashboard"))
	mountDashboards(sessions, dashboards, log)

	cart := service.NewCartStore(kv, mongo.NewPromotionEvaluator(db), pricing.Config{
		TaxRateBps:            cfg.Pricing.TaxRateBps,
		FreeDeliveryThreshold: domain.Money(cfg.Pricing.FreeDeliveryThreshold),
		DeliveryFee:           domain.Money(cfg.Pricing.DeliveryFee),
	}, logger.Component("cart"))
	if err := cart.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("starting with an empty cart")
	}

	checkout := service.NewCheckoutService(cart, sessions, data, logger.Component("checkout"))
	payouts := service.NewPayoutService(sessions,
		payout.NewClient(cfg.Payout.URL, cfg.Payout.APIKey, cfg.Payout.Timeout),
		cfg.Payout.Timeout, logger.Component("payout"))

	// --- Background work ---
	g, gctx := errgroup.WithContext(ctx)
	dispatcher.Start(gctx)
	g.Go(func() error {
		sessions.Run(gctx)
		return nil
	})
	if wsClient != nil {
		g.Go(func() error { return wsClient.Run(gctx) })
	}

	if err := sessions.Initialize(ctx); err != nil {
		log.Warn().Err(err).Str("status", string(sessions.Session().Status)).Msg("session initialization failed")
	}

	// --- HTTP ---
	e := api.NewRouter(api.Dependencies{
		Sessions:   sessions,
		Cart:       cart,
		Checkout:   checkout,
		Dashboards: dashboards,
		Payouts:    payouts,
		JWTSecret:  cfg.Auth.JWTSecret,
		Checks: map[string]handler.DependencyCheck{
			"mongodb": func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) },
			"redis":   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}, logger.Component("http"))

	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("realtime_driver", cfg.Realtime.Driver).Msg("companion API listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})

	err = g.Wait()
	log.Info().Msg("shutdown complete")
	return err
}

// mountDashboards mounts every scope of each authenticated session under the
// session's scope context, so sign-out tears the dashboards down with it.
func mountDashboards(sessions *service.SessionStore, dashboards *service.DashboardStore, log zerolog.Logger) {
	sessions.Subscribe(func(s domain.Session) {
		if !s.IsAuthenticated() {
			return
		}
		scopeCtx := sessions.ScopeContext()
		for _, scope := range s.Scopes() {
			go func() {
				if err := dashboards.Mount(scopeCtx, scope); err != nil {
					log.Warn().Err(err).Str("scope", scope.String()).Msg("dashboard mount failed")
				}
			}()
		}
	})
}

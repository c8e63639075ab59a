package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"recipes/internal/bootstrap"
	"recipes/internal/gateway"
	"recipes/internal/http/handlers"
	httpapi "recipes/internal/http/httpapi"
	"recipes/internal/infra"
	"recipes/internal/infra/geoip"
	"recipes/internal/metrics"
	"recipes/internal/registry"
	"recipes/internal/relay"
	"recipes/internal/router"
	"recipes/internal/storage"
	"recipes/internal/workflow"
)

const sweepInterval = time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	gatewayID := bootstrap.GatewayID(cfg)
	logger = logger.With().Str("gateway_id", gatewayID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := bootstrap.Open(ctx, cfg, "recipes-api-"+gatewayID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: open backends")
	}
	defer res.Close()

	reg, err := bootstrap.Registry(cfg, res)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: configure registry")
	}
	if pg, ok := reg.(*registry.Postgres); ok {
		// Rows left behind by a previous run of this gateway point at sockets that no longer exist.
		if n, err := pg.PurgeGateway(ctx, gatewayID); err != nil {
			logger.Warn().Err(err).Msg("api: purge stale connections")
		} else if n > 0 {
			logger.Info().Int64("purged", n).Msg("api: purged stale connections")
		}
	}

	m := metrics.New()
	hub := gateway.NewHub()

	var transport relay.Transport = hub
	if res.NATS != nil {
		transport = &relay.Routed{
			LocalID: gatewayID,
			Local:   hub,
			Remote:  relay.NewNATSTransport(res.NATS, cfg.NATSSubjectPrefix),
		}
	}
	rel := relay.New(relay.Options{
		Registry:  reg,
		Transport: transport,
		Timeout:   cfg.RelayTimeout,
		Logger:    infra.Component(logger, "relay"),
		Metrics:   m,
	})

	var (
		starter   router.Starter
		async     *workflow.AsyncStarter
		fileStore *storage.FileStore
		listener  *gateway.PushListener
	)
	switch cfg.JobDispatch {
	case infra.DispatchNATS:
		starter = workflow.NewNATSStarter(res.NATS, cfg.NATSSubjectPrefix, cfg.RelayTimeout)
		listener = gateway.NewPushListener(res.NATS, cfg.NATSSubjectPrefix, gatewayID, hub, infra.Component(logger, "push"))
		if err := listener.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: start push listener")
		}
		if cfg.StorageBackend == infra.StorageFilesystem {
			// Workers write into the shared volume; the gateway only serves it.
			if _, fileStore, err = bootstrap.Store(ctx, cfg, &logger); err != nil {
				logger.Fatal().Err(err).Msg("api: configure storage")
			}
		}
	default:
		var eng *workflow.Engine
		eng, fileStore, err = bootstrap.Engine(ctx, cfg, res, rel, m, infra.Component(logger, "workflow"))
		if err != nil {
			logger.Fatal().Err(err).Msg("api: configure workflow")
		}
		async = workflow.NewAsyncStarter(eng, &logger)
		starter = async
	}

	rt := router.New(router.Options{
		Starter:            starter,
		Notifier:           rel,
		MaxIngredientChars: cfg.MaxIngredientChars,
		Logger:             infra.Component(logger, "router"),
		Metrics:            m,
	})

	ws := gateway.NewHandler(gateway.HandlerOptions{
		Hub:            hub,
		Registry:       reg,
		Acceptor:       rt,
		GatewayID:      gatewayID,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         infra.Component(logger, "gateway"),
		Metrics:        m,
	})

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	countryLookup := func(ip string) (string, error) {
		return geoip.CountryOf(resolver, ip), nil
	}

	deps := httpapi.Deps{
		App: &handlers.App{
			GatewayID:   gatewayID,
			Connections: hub.Len,
			Checks:      res.Checks(),
		},
		WebSocket:       ws,
		Metrics:         m.Handler(),
		Logger:          logger,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   countryLookup,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	}
	if fileStore != nil {
		deps.Static = fileStore.Handler()
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		return server.Start()
	})
	if fileStore != nil && async != nil {
		g.Go(func() error {
			fileStore.RunSweeper(gctx, cfg.StorageRetention, sweepInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: shutdown http server")
		}
		if listener != nil {
			if err := listener.Stop(); err != nil {
				logger.Warn().Err(err).Msg("api: stop push listener")
			}
		}
		if async != nil {
			if err := async.Wait(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("api: jobs still running at shutdown")
			}
		}
		hub.CloseAll()
		if resolver != nil {
			if closer, ok := resolver.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("api: stopped with error")
	}
	logger.Info().Msg("api: stopped")
}

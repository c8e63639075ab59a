package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"recipes/internal/bootstrap"
	"recipes/internal/http/handlers"
	"recipes/internal/infra"
	"recipes/internal/metrics"
	"recipes/internal/relay"
	"recipes/internal/workflow"
)

const (
	sweepInterval = time.Hour
	drainTimeout  = 2 * time.Minute
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if cfg.JobDispatch != infra.DispatchNATS {
		logger.Fatal().Str("job_dispatch", cfg.JobDispatch).Msg("worker: JOB_DISPATCH=nats is required; in-process jobs run inside the api")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, _ := os.Hostname()
	res, err := bootstrap.Open(ctx, cfg, "recipes-worker-"+host, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: open backends")
	}
	defer res.Close()

	reg, err := bootstrap.Registry(cfg, res)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: configure registry")
	}

	m := metrics.New()
	// The worker owns no sockets: every delivery goes to the owning gateway over NATS.
	rel := relay.New(relay.Options{
		Registry:  reg,
		Transport: relay.NewNATSTransport(res.NATS, cfg.NATSSubjectPrefix),
		Timeout:   cfg.RelayTimeout,
		Logger:    infra.Component(logger, "relay"),
		Metrics:   m,
	})
	eng, fileStore, err := bootstrap.Engine(ctx, cfg, res, rel, m, infra.Component(logger, "workflow"))
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: configure workflow")
	}

	consumer := workflow.NewConsumer(workflow.ConsumerOptions{
		Conn:               res.NATS,
		Prefix:             cfg.NATSSubjectPrefix,
		Runner:             eng,
		MaxJobs:            cfg.WorkerMaxJobs,
		MaxIngredientChars: cfg.MaxIngredientChars,
		Logger:             infra.Component(logger, "consumer"),
	})
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: start consumer")
	}

	app := &handlers.App{Checks: res.Checks()}
	mux := chi.NewRouter()
	mux.Get("/v1/healthz", app.Health)
	mux.Method("GET", "/metrics", m.Handler())
	ops := infra.NewHTTPServerOn(net.JoinHostPort("", cfg.MetricsPort), cfg, mux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", ops.Addr()).Msg("worker: metrics listening")
		return ops.Start()
	})
	if fileStore != nil {
		g.Go(func() error {
			fileStore.RunSweeper(gctx, cfg.StorageRetention, sweepInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := consumer.Stop(drainCtx); err != nil {
			logger.Warn().Err(err).Msg("worker: jobs still running at shutdown")
		}
		return ops.Shutdown(drainCtx)
	})

	logger.Info().Int("max_jobs", cfg.WorkerMaxJobs).Msg("worker: started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

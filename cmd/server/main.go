package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edgecast/internal/assignment"
	"edgecast/internal/jobs"
	"edgecast/internal/manifest"
	"edgecast/internal/orchestrator"
	"edgecast/internal/platform/config"
	"edgecast/internal/platform/logger"
	"edgecast/internal/platform/metrics"
	"edgecast/internal/push"
	"edgecast/internal/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	startupTimeout  = 5 * time.Second
)

func main() {
	_ = config.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.New("error", "json").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), startupTimeout)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		log.Error("registry unreachable", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	store := registry.NewRedisStore(rdb)
	boxes := registry.NewBoxReader(cfg.BoxKeyPrefix)

	// Local pool handler is bound once the worker exists; the rewriters the
	// worker runs submit their pushes back through the same backend.
	var worker *orchestrator.Worker
	pool := jobs.NewPool(jobs.HandlerFunc(func(ctx context.Context, job jobs.Job) error {
		return worker.Run(ctx, job)
	}), cfg.JobWorkers, cfg.JobBuffer, log)

	var (
		submit jobs.Submitter = pool
		queue  *jobs.Queue
		nc     *nats.Conn
	)
	if cfg.JobBackend == config.BackendNATS {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("edgecast-jobs"))
		if err != nil {
			log.Error("job queue unreachable", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		queue = jobs.NewQueue(nc, cfg.JobSubject, log)
		submit = queue
	}

	publisher := push.NewPublisher(cfg.NATSURL, cfg.PushSettleDelay, log, met)
	cache := assignment.NewCache(submit, log, met)
	dash := manifest.NewDASHRewriter(manifest.DASHConfig{
		WriteDir:  cfg.MPDWriteDir,
		GetDir:    cfg.MPDGetDir,
		ProxyURL:  cfg.ProxyURL,
		BoxAmount: cfg.GetBoxAmount,
	}, boxes, submit, log, met)
	hls := manifest.NewHLSRewriter(manifest.HLSConfig{
		WriteDir:   cfg.M3U8WriteDir,
		GetDir:     cfg.M3U8GetDir,
		OriginIP:   cfg.ServerIP,
		OriginPort: cfg.ServerPort,
		BoxAmount:  cfg.GetBoxAmount,
		LookAhead:  cfg.M3U8MediaAmount,
	}, boxes, cache, log, met)
	worker = orchestrator.NewWorker(store, dash, hls, publisher, log, met)

	svc := orchestrator.NewService(submit, met)
	h := orchestrator.NewHandler(svc, orchestrator.ServeDirs{
		Manifests: cfg.MPDWriteDir,
		Segments:  cfg.MPDSourceDir,
	}, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", h.Healthz)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetJobsQueued(pool.Queued()) }).ServeHTTP(w, r)
	})
	r.Post("/manifests", h.SubmitManifest)
	r.Post("/pushes", h.SubmitPush)
	r.Get(orchestrator.ManifestRoute(cfg.MPDGetDir), h.ServeManifest)

	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	defer stopConsuming()

	var bg errgroup.Group
	bg.Go(func() error { return pool.Run(context.Background()) })
	if queue != nil {
		bg.Go(func() error { return queue.Consume(consumeCtx, pool) })
	}

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"job_backend", cfg.JobBackend,
		"job_workers", cfg.JobWorkers,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	stopConsuming()
	pool.Close()

	done := make(chan error, 1)
	go func() { done <- bg.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			log.Error("job backend stopped with error", "error", err)
		}
	case <-ctx.Done():
		log.Warn("queued jobs abandoned at shutdown", "queued", pool.Queued())
	}

	log.Info("server stopped")
}

// monitorsd is the data-quality monitor daemon. It fetches Monitor
// entities from the catalog, schedules each contained assertion's cron
// job, evaluates freshness assertions against the warehouse they're
// attached to, and reports results back to the catalog.
//
// P10-39-style TODO carried out here (see the teacher's cmd/ratd/main.go
// for the original proposal): the manager's refresh loop and the health
// server are coordinated with golang.org/x/sync/errgroup, and the
// scheduler is stopped directly, instead of a manually maintained list of
// shutdown-hook closures.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/acryl-data/monitors/internal/catalog"
	"github.com/acryl-data/monitors/internal/config"
	"github.com/acryl-data/monitors/internal/connection"
	"github.com/acryl-data/monitors/internal/engine"
	"github.com/acryl-data/monitors/internal/evaluator"
	"github.com/acryl-data/monitors/internal/fetcher"
	"github.com/acryl-data/monitors/internal/manager"
	"github.com/acryl-data/monitors/internal/obslog"
	"github.com/acryl-data/monitors/internal/resulthandler"
	"github.com/acryl-data/monitors/internal/scheduler"
	"github.com/acryl-data/monitors/internal/secretstore"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		// Logging isn't wired yet at this point — env validation is the
		// very first thing that happens, matching the teacher's
		// validateEnv-before-wiring-anything ordering.
		os.Stderr.WriteString("monitorsd: " + err.Error() + "\n")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if env.Debug {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(obslog.NewContextHandler(base))
	slog.SetDefault(logger)

	if !env.HasSystemAuth() {
		slog.Warn("DATAHUB_SYSTEM_CLIENT_ID/SECRET not set — running unauthenticated against the catalog")
	}

	cfgPath := config.ResolvePath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load monitors.yaml", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if cfgPath != "" {
		slog.Info("config loaded", "path", cfgPath)
	}

	secrets, err := buildSecretChain(cfg)
	if err != nil {
		slog.Error("failed to build secret store chain", "error", err)
		os.Exit(1)
	}

	gms := catalog.NewClient(env.GMSBaseURL(), env.SystemClientID, env.SystemClientSecret)

	connProvider := connection.New(gms, secrets, env.IngestionSourcesBatch, 24*time.Hour)
	freshnessEvaluator := evaluator.New(connProvider, evaluator.DefaultSourceProvider{})

	eng := engine.New(
		[]evaluator.Evaluator{freshnessEvaluator},
		[]engine.ResultHandler{resulthandler.New(gms)},
	)

	sched := scheduler.New(eng, env.WorkerPoolCapacity)
	sched.Start()

	mgr := manager.New(fetcher.New(gms, env.ListMonitorsBatch), sched, env.RefreshInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		mgr.Run(gctx)
		return nil
	})

	healthServer := newHealthServer()
	g.Go(func() error {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	slog.Info("monitorsd started", "gms", env.GMSBaseURL(), "worker_pool_capacity", env.WorkerPoolCapacity, "refresh_interval", env.RefreshInterval)

	<-gctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}
	sched.Stop(shutdownCtx)

	if err := g.Wait(); err != nil {
		slog.Error("monitorsd exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("monitorsd shutdown complete")
}

// buildSecretChain wires every configured secret store backend into a
// Chain. A misconfigured optional backend (e.g. an S3 store whose client
// cannot be constructed) is logged
// and skipped rather than aborting startup, matching the teacher's
// swallow-and-log-on-optional-subsystem-failure pattern for S3 storage.
func buildSecretChain(cfg *config.Config) (*secretstore.Chain, error) {
	var stores []secretstore.Store
	for _, sc := range cfg.SecretStores {
		switch sc.Type {
		case "env":
			stores = append(stores, secretstore.NewEnvStore())
		case "s3":
			s3Cfg := secretstore.S3Config{
				Endpoint:  sc.Config["endpoint"],
				AccessKey: sc.Config["access_key"],
				SecretKey: sc.Config["secret_key"],
				Bucket:    sc.Config["bucket"],
				Prefix:    sc.Config["prefix"],
				UseSSL:    sc.Config["use_ssl"] == "true",
			}
			s3Store, err := secretstore.NewS3Store(s3Cfg)
			if err != nil {
				slog.Warn("s3 secret store unavailable, continuing without it", "error", err)
				continue
			}
			stores = append(stores, s3Store)
		}
	}
	return secretstore.NewChain(stores...), nil
}

// newHealthServer is the minimal liveness endpoint spec.md §1 carves out
// of scope beyond: no routing library, no auxiliary REST surface.
func newHealthServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              "127.0.0.1:8080",
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

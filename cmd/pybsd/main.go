package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thusser/pybs/config"
	"github.com/thusser/pybs/internal/capacity"
	"github.com/thusser/pybs/internal/daemon"
	"github.com/thusser/pybs/internal/health"
	"github.com/thusser/pybs/internal/infrastructure/postgres"
	ctxlog "github.com/thusser/pybs/internal/log"
	"github.com/thusser/pybs/internal/metrics"
	"github.com/thusser/pybs/internal/notify"
	"github.com/thusser/pybs/internal/registry"
	"github.com/thusser/pybs/internal/rpc"
	"github.com/thusser/pybs/internal/statusapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected", "node", cfg.NodeName)

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	store := postgres.NewJobRepository(pool)
	accountant := capacity.New(capacity.Mode(cfg.CapacityMode), cfg.NCPUs, cfg.NodeName, store)
	procRegistry := registry.NewRegistry()
	notifiers := newNotifiers(cfg, logger)

	d := daemon.New(daemon.Config{
		Node:         cfg.NodeName,
		RootDir:      cfg.RootDir,
		Store:        store,
		Accountant:   accountant,
		Registry:     procRegistry,
		Notifiers:    notifiers,
		WarmupDelay:  time.Duration(cfg.DispatchWarmupDelaySec) * time.Second,
		PollInterval: time.Duration(cfg.DispatchPollIntervalSec) * time.Second,
		Logger:       logger,
	})

	if err := d.Reconcile(ctx); err != nil {
		logger.Error("startup reconciliation", "error", err)
	}
	go d.Start(ctx)

	rpcSrv := rpc.NewServer(d, logger)
	if err := rpcSrv.Listen("127.0.0.1:" + cfg.RPCPort); err != nil {
		stop()
		log.Fatalf("rpc listen: %v", err)
	}
	go rpcSrv.Serve(ctx)

	statusSrv := &http.Server{
		Addr:    "127.0.0.1:" + cfg.StatusPort,
		Handler: statusapi.NewRouter(statusapi.NewHandler(d, logger), logger),
	}
	go func() {
		logger.Info("status server started", "port", cfg.StatusPort)
		if err := statusSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server", "error", err)
		}
	}()

	metricsSrv := newMetricsServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("pybsd shut down", "node", cfg.NodeName)
}

func newNotifiers(cfg *config.Config, logger *slog.Logger) *notify.Registry {
	reg := notify.NewRegistry(logger)
	reg.Register("email", notify.NewEmailSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger))
	if cfg.ChatWebhookURL != "" {
		reg.Register("chat", notify.NewChatWebhookSender(cfg.ChatWebhookURL))
	}
	return reg
}

func newMetricsServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}

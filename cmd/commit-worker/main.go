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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/providentiaww/taskflow/internal/app"
	"github.com/providentiaww/taskflow/internal/config"
	"github.com/providentiaww/taskflow/internal/metrics"
	"github.com/sirupsen/logrus"
)

const ServiceVersion = "v1.0.0"

// metricsAddr is where the worker exposes /metrics; empty disables it.
var metricsAddr = os.Getenv("WORKER_METRICS_ADDR")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.LoadEnv(ctx, "../../.env", logrus.StandardLogger())
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := config.InitLogs(cfg.LogConfig, "commit-worker")
	log.WithField("version", ServiceVersion).Info("starting commit worker")

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("worker stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	loc, err := cfg.AccessConfig.Location()
	if err != nil {
		return err
	}

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()
	if backends.InProcess() {
		log.Warn("no AMQP_URL configured, this worker only sees jobs scheduled by itself")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metricsManager := metrics.NewMetricsManager(registry)

	svc := app.NewApprovalService(cfg, backends, metricsManager, log)
	worker, err := app.StartWorker(ctx, cfg, backends, svc, metricsManager, loc, log)
	if err != nil {
		return err
	}
	defer worker.Stop()

	if metricsAddr != "" {
		server := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(registry), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics listener stopped")
			}
		}()
		defer server.Close()
	}

	select {
	case err := <-worker.Done():
		if err != nil {
			return fmt.Errorf("commit consumer stopped: %w", err)
		}
	case <-ctx.Done():
		<-worker.Done()
	}
	log.Info("shutting down")
	return nil
}

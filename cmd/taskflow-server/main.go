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
	"github.com/providentiaww/taskflow/cmd/taskflow-server/handlers"
	"github.com/providentiaww/taskflow/internal/app"
	"github.com/providentiaww/taskflow/internal/auth"
	"github.com/providentiaww/taskflow/internal/config"
	"github.com/providentiaww/taskflow/internal/metrics"
	"github.com/providentiaww/taskflow/internal/storage"
	"github.com/providentiaww/taskflow/internal/token"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

const ServiceVersion = "v1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.LoadEnv(ctx, "../../.env", logrus.StandardLogger())
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := config.InitLogs(cfg.LogConfig, "taskflow-server")
	log.WithField("version", ServiceVersion).Info("starting taskflow server")

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	loc, err := cfg.AccessConfig.Location()
	if err != nil {
		return err
	}
	policy, err := config.LoadAccessPolicy(cfg.AccessConfig.PolicyFile)
	if err != nil {
		return err
	}
	loginWindow, err := loginWindow(cfg.AccessConfig)
	if err != nil {
		return err
	}

	codec, err := newCodec(cfg.TokenConfig)
	if err != nil {
		return err
	}

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsManager := metrics.NewMetricsManager(registry)

	svc := app.NewApprovalService(cfg, backends, metricsManager, log)
	// stays nil, and never ready, when the consumer runs elsewhere
	var workerDone <-chan error
	if cfg.RunWorker || backends.InProcess() {
		worker, err := app.StartWorker(ctx, cfg, backends, svc, metricsManager, loc, log)
		if err != nil {
			return err
		}
		defer worker.Stop()
		workerDone = worker.Done()
	}

	revocations := storage.NewRevocationList(backends.Store, log.WithField("pkg", "revocations"))
	router := &handlers.Router{
		Approval: handlers.NewApprovalHandler(svc, log.WithField("pkg", "handlers")),
		Account: handlers.NewAccountHandler(backends.Store, codec, revocations, loginWindow, loc,
			log.WithField("pkg", "account")),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"backends": handlers.PingFunc(backends.Ping),
		}, log),
		Metrics: metrics.Handler(registry),
		Gate: auth.NewAccessGate(codec, revocations, log.WithField("pkg", "auth"),
			auth.WithUserDirectory(backends.Store),
			auth.WithPublicPrefixes(policy.PublicPrefixes)),
		Windows: auth.NewRoleWindowGate(policy.RoleWindows, policy.PublicPrefixes, loc, nil),
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AccessConfig.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           corsHandler.Handler(metrics.WithHTTPMetrics(registry)(router.Mux())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case err := <-workerDone:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		if err == nil {
			err = app.ErrConsumerExited
		}
		return fmt.Errorf("commit consumer stopped: %w", err)
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func newCodec(cfg config.TokenConfig) (*token.Codec, error) {
	key, err := token.LoadRSAKeyFromEnv()
	if err != nil {
		return nil, err
	}
	return token.NewCodec(token.Config{
		Secret:          cfg.Secret,
		PrivateKey:      key,
		Issuer:          cfg.Issuer,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})
}

func loginWindow(cfg config.AccessConfig) (token.Window, error) {
	start, err := token.ParseTimeOfDay(cfg.LoginStart)
	if err != nil {
		return token.Window{}, err
	}
	end, err := token.ParseTimeOfDay(cfg.LoginEnd)
	if err != nil {
		return token.Window{}, err
	}
	return token.Window{Start: start, End: end}, nil
}

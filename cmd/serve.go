package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/okian/runout/internal/adapters/http/api"
	"github.com/okian/runout/internal/adapters/http/swagger"
	service "github.com/okian/runout/internal/app"
	"github.com/okian/runout/pkg/logger"
	"github.com/okian/runout/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

var runtimeCollectors sync.Once

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API with a worker pool and optional schedule",
		Long: `Starts the queue, worker pool and cron schedule, and serves
POST/GET /runs, GET /runs/{id}, /stats, /healthz, /metrics and the
OpenAPI docs until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, ledger, err := newService(ctx, cfg, service.WithSchedule(cfg.Schedule, service.SweepFromConfig(cfg)))
			if err != nil {
				return err
			}
			defer closeLedger(ctx, ledger)

			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			return serve(ctx, svc, ln, cfg.MaxRunsLimit)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: addr)")
	return cmd
}

// serve runs svc behind the HTTP API on ln until ctx is done, then shuts
// the server down before stopping the service.
func serve(ctx context.Context, svc *service.Service, ln net.Listener, maxLimit int) error {
	log := logger.Get()
	registerRuntimeCollectors()

	if err := svc.Start(ctx); err != nil {
		ln.Close()
		return err
	}

	go startServiceMetricsUpdater(ctx, svc)

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, maxLimit).Register(ctx, mux)

	srv := &http.Server{
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service stop failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return serveErr
}

// registerRuntimeCollectors adds Go runtime and process metrics to the
// service registry once per process.
func registerRuntimeCollectors() {
	runtimeCollectors.Do(func() {
		reg := metrics.GetRegistry()
		_ = reg.Register(collectors.NewGoCollector())
		_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// startServiceMetricsUpdater refreshes queue gauges from service stats.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

func updateServiceMetrics(ctx context.Context, svc *service.Service) {
	stats, err := svc.GetStats(ctx)
	if err != nil {
		logger.Get().Debug(ctx, "service stats unavailable", logger.Error(err))
		return
	}
	metrics.UpdateQueueSize(stats.QueueLength)
	metrics.UpdateQueueCapacity(stats.QueueCapacity)
	metrics.UpdateWorkerCount(stats.Workers)
}

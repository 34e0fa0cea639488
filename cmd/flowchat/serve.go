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

	"github.com/aretw0/flowchat"
	httpadapter "github.com/aretw0/flowchat/pkg/adapters/http"
	"github.com/aretw0/flowchat/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat completions HTTP server",
	Long: `Serves the flows of the configured directory on POST /v1/chat/completions,
with flow and conversation inspection routes, conversation state events and
Prometheus metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return err
	}

	streams := httpadapter.NewStreamManager(logger)
	svc, stack, err := newService(cfg, logger,
		flowchat.WithMetrics(metrics),
		flowchat.WithStateObserver(streams.Publish),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn("Closing stores failed", "err", err)
		}
	}()

	handlerOpts := []httpadapter.Option{
		httpadapter.WithLogger(logger),
		httpadapter.WithStreams(streams),
		httpadapter.WithVersion(flowchat.Version),
		httpadapter.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if cfg.Server.Metrics {
		handlerOpts = append(handlerOpts, httpadapter.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpadapter.NewHandler(svc, handlerOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting flowchat server", "addr", srv.Addr, "flows", cfg.Flows.Dir, "store", cfg.Store.Driver)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Shutting down", "signal", sig.String())

		// Open SSE subscriptions hold their requests until the deadline.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "timeout", cfg.Server.ShutdownTimeout, "err", err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("close server: %w", err)
			}
		}
		logger.Info("Server stopped")
		return nil
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/ops-sentinel/internal/server"
	"github.com/ogulcanaydogan/ops-sentinel/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, refresh scheduler and notification workers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		cfg.Server.Listen = listen
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	apiServer := server.NewServer(server.Services{
		Alerts:        a.paginator,
		Cache:         a.cache,
		Notifications: a.queue,
		Refresh:       a.job,
	}, logger,
		server.WithAdminToken(cfg.Server.AdminToken),
		server.WithMetricsHandler(a.metricsHandler()),
		server.WithHealthCheck(a.store),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.queue.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.cache.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.job.Run(ctx, cfg.Refresh.Interval)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sentinel started", "listen", cfg.Server.Listen, "version", Version)
		fmt.Fprintf(os.Stderr, "Ops Sentinel listening on %s\n", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
		stop()
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("shutdown error: %w", err))
	}
	a.queue.Stop()
	wg.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}

	logger.Info("sentinel stopped", "queue", a.queue.Stats().String())
	return serveErr
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowpbx/gatebridge/internal/api"
	"github.com/flowpbx/gatebridge/internal/config"
	"github.com/flowpbx/gatebridge/internal/database"
	"github.com/flowpbx/gatebridge/internal/unifi"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting gatebridge",
		"listen", cfg.ListenAddr(),
		"public_base_url", cfg.PublicBaseURL,
		"unifi_host", cfg.UnifiHost,
		"door_name", cfg.DoorName,
		"ledger_driver", ledgerDriver(cfg.LedgerPath),
	)
	for _, w := range cfg.Warnings() {
		slog.Warn(w)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("gatebridge exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("gatebridge stopped")
}

// run serves until a shutdown signal or a listener failure.
func run(cfg *config.Config, logger *slog.Logger) error {
	// Open the activity ledger and run migrations.
	db, err := database.Open(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("opening activity ledger: %w", err)
	}
	defer db.Close()

	doors := unifi.NewClient(unifi.Options{
		Host:        cfg.UnifiHost,
		Port:        cfg.UnifiPort,
		Token:       cfg.UnifiToken,
		Timeout:     cfg.UnifiTimeout(),
		InsecureTLS: cfg.UnifiInsecureTLS,
		Logger:      logger,
	})

	handler := api.NewServer(cfg, database.NewActivityRepository(db), doors, logger)
	defer handler.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case serveErr = <-errCh:
		slog.Error("http server error", "error", serveErr)
	}

	// Graceful shutdown with timeout. In-flight unlocks finish first.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down http server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return serveErr
}

func ledgerDriver(location string) string {
	if database.IsPostgresDSN(location) {
		return "postgres"
	}
	return "sqlite"
}

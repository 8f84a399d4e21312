// Command oracled runs the sliding-window TWAP oracle service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/R3E-Network/twap_oracle/internal/app"
	"github.com/R3E-Network/twap_oracle/internal/app/httpapi"
	"github.com/R3E-Network/twap_oracle/internal/app/metrics"
	twapsvc "github.com/R3E-Network/twap_oracle/internal/app/services/twap"
	"github.com/R3E-Network/twap_oracle/internal/config"
	"github.com/R3E-Network/twap_oracle/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "oracled:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// A missing .env file is fine; environment overrides are optional.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging).WithField("component", "oracled")

	var source twapsvc.CumulativeSource
	if cfg.Source.URL != "" {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		source, err = twapsvc.NewHTTPSource(httpClient, cfg.Source.URL, cfg.Source.APIKey, log)
		if err != nil {
			return fmt.Errorf("configure cumulative source: %w", err)
		}
	}

	oracleCfg := twapsvc.Config{
		WindowSize:  time.Duration(cfg.Oracle.WindowSeconds) * time.Second,
		Granularity: cfg.Oracle.Granularity,
	}

	application, err := app.New(oracleCfg, app.Stores{}, source, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	root := http.NewServeMux()
	root.Handle("/metrics", metrics.Handler())
	root.Handle("/", httpapi.NewHandler(application))

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.InstrumentHandler(root),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http server listening")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = stopServices(application, log)
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	return stopServices(application, log)
}

func stopServices(application *app.Application, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Stop(ctx); err != nil {
		log.WithError(err).Error("stopping services")
		return err
	}
	log.Info("services stopped")
	return nil
}

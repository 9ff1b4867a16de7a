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

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"bus-depot-backend/internal/api"
	"bus-depot-backend/internal/db"
	"bus-depot-backend/internal/depot"
	"bus-depot-backend/internal/gate"
	"bus-depot-backend/internal/logger"
	"bus-depot-backend/internal/metrics"
	"bus-depot-backend/internal/notification"
	"bus-depot-backend/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the depot HTTP API",
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	log := logger.New("depotd")

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("configuration loaded")

	gormDB, err := db.Init(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	appStore := store.NewGormStore(gormDB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := []depot.Option{
		depot.WithLogger(logger.New("depot")),
		depot.WithMetrics(rec),
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, logger.New("notification"))
		pool.Start(ctx)
		opts = append(opts, depot.WithNotifier(pool))
	} else {
		log.Warn().Msg("VAPID keys not configured, override push alerts disabled")
	}

	svc := depot.NewService(appStore, cfg.Parking, opts...)

	report, err := svc.ReconcileOccupancy(ctx)
	if err != nil {
		return fmt.Errorf("reconcile occupancy: %w", err)
	}
	log.Info().
		Int64("availability_fixed", report.AvailabilityFixed).
		Int64("departed_freed", report.DepartedFreed).
		Msg("bay occupancy reconciled")

	proto := gate.NewProtocol(svc, gate.RealClock(), gate.Config{
		FallbackDelay: cfg.Gate.FallbackDelay,
		StartLevel:    cfg.Parking.MinLevel,
	}, logger.New("gate"), rec)
	defer proto.Close()

	handler := api.NewHandler(svc, proto, appStore, webpushOptions, logger.New("api"))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler, cfg.Server, reg),
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	log.Info().Msg("server gracefully stopped")
	return nil
}

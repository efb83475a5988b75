package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/campus-rides/internal/config"
	"github.com/example/campus-rides/internal/fare"
	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/geocode"
	httpapi "github.com/example/campus-rides/internal/http"
	"github.com/example/campus-rides/internal/ingest"
	"github.com/example/campus-rides/internal/lifecycle"
	"github.com/example/campus-rides/internal/logging"
	"github.com/example/campus-rides/internal/payments"
	"github.com/example/campus-rides/internal/profile"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	gw, err := selectGateway(cfg)
	if err != nil {
		logger.Error("gateway init failed", "error", err)
		os.Exit(1)
	}

	var cache profile.Cache
	if cfg.RedisAddr != "" {
		cache = profile.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, profile.DefaultTTL)
	}
	profiles := profile.NewService(gw, cache)

	var events lifecycle.EventSink
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		events = producer
	}

	var hooks lifecycle.PaymentHooks
	if cfg.StripeKey != "" {
		hooks = payments.NewStripeClient(cfg.StripeKey, cfg.StripeCurrency)
	}

	var geocoder *geocode.HTTPGeocoder
	if cfg.GeocoderURL != "" {
		geocoder = geocode.NewHTTPGeocoder(cfg.GeocoderURL)
	}

	api := httpapi.NewServer(httpapi.Options{
		Gateway:       gw,
		Logger:        logger,
		Policy:        fare.Policy{Base: cfg.FareBase, PerKm: cfg.FarePerKm, SpeedKmh: cfg.SpeedKmh},
		Geocoder:      geocoder,
		Profiles:      profiles,
		Events:        events,
		Payments:      hooks,
		PollInterval:  cfg.PollInterval,
		ToastCapacity: cfg.ToastCapacity,
		ToastDelay:    cfg.ToastDelay,
	})
	defer api.Close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dashboard listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

// selectGateway picks the sync backend: the hosted row API when SYNC_URL is
// set, direct Postgres when PG_DSN is set, in-memory otherwise.
func selectGateway(cfg config.ServerConfig) (gateway.Gateway, error) {
	switch {
	case cfg.SyncURL != "":
		return gateway.NewRESTGateway(cfg.SyncURL, cfg.SyncAPIKey), nil
	case cfg.PGDSN != "":
		return gateway.NewPostgresGateway(cfg.PGDSN)
	default:
		return gateway.NewMemoryGateway(), nil
	}
}

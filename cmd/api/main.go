package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/malaga-opendata-api/internal/adapter/aemet"
	"github.com/couchcryptid/malaga-opendata-api/internal/adapter/emt"
	httpadapter "github.com/couchcryptid/malaga-opendata-api/internal/adapter/http"
	"github.com/couchcryptid/malaga-opendata-api/internal/config"
	"github.com/couchcryptid/malaga-opendata-api/internal/observability"
	"github.com/couchcryptid/malaga-opendata-api/internal/service"
)

func main() {
	// A local .env may carry AEMET_API_KEY; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	transit := emt.NewClient(cfg.EMTBaseURL, cfg.EMTTimeout, metrics, logger)
	forecasts := aemet.NewClient(cfg, metrics, logger)
	svc := service.New(transit, forecasts, clockwork.NewRealClock(), cfg.ForecastLocation, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, svc, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	logger.Info("api ready",
		"emt_base_url", cfg.EMTBaseURL,
		"aemet_municipality", cfg.AEMETMunicipality,
		"forecast_timezone", cfg.ForecastLocation.String(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/malaga-opendata-api/internal/observability"
)

// Server exposes the transit and forecast API plus health, readiness, and
// metrics endpoints.
type Server struct {
	httpServer *http.Server
	queries    Queries
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewServer creates an HTTP server with every API route registered.
func NewServer(addr string, queries Queries, ready sharedobs.ReadinessChecker, metrics *observability.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		queries: queries,
		metrics: metrics,
		logger:  logger.With("component", "http"),
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.instrument(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mux.HandleFunc("GET /buses", s.handleAllBuses)
	mux.HandleFunc("GET /buses/search/nearby", s.handleNearbyBuses)
	mux.HandleFunc("GET /buses/search", s.handleBusesByLine)
	mux.HandleFunc("GET /buses/{bus_code}", s.handleBusByCode)

	mux.HandleFunc("GET /bus-stops", s.handleAllStops)
	mux.HandleFunc("GET /bus-stops/search/nearby", s.handleNearbyStops)
	mux.HandleFunc("GET /bus-stops/search", s.handleStopsByLine)
	mux.HandleFunc("GET /bus-stops/{stop_code}", s.handleStopByCode)

	mux.HandleFunc("GET /forecasts", s.handleAllForecasts)
	mux.HandleFunc("GET /forecasts/today", s.handleTodayForecast)
	mux.HandleFunc("GET /forecasts/{day}", s.handleForecastByDay)
	mux.HandleFunc("GET /forecasts/{day}/hours/{hour}", s.handleHourlyForecast)

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

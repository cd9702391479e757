package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/couchcryptid/malaga-opendata-api/internal/domain"
	"github.com/couchcryptid/malaga-opendata-api/internal/service"
)

// Queries answers the API's read operations.
type Queries interface {
	AllBuses(ctx context.Context) (json.RawMessage, error)
	NearbyBuses(ctx context.Context, q service.NearbyQuery) (domain.NearbyResponse[domain.BusLocation], error)
	BusesByLine(ctx context.Context, line float64) ([]domain.GroupedResult[float64], error)
	BusByCode(ctx context.Context, code int) ([]domain.GroupedResult[int], error)

	AllStops(ctx context.Context) (json.RawMessage, error)
	NearbyStops(ctx context.Context, q service.NearbyQuery) (domain.NearbyResponse[domain.StopRecord], error)
	StopsByLine(ctx context.Context, line string) ([]domain.GroupedResult[string], error)
	StopByCode(ctx context.Context, code int) ([]domain.GroupedResult[int], error)

	AllForecasts(ctx context.Context) ([]domain.ForecastDay, error)
	TodayForecast(ctx context.Context) (domain.ForecastDay, error)
	ForecastByDay(ctx context.Context, day string) (domain.ForecastDay, error)
	HourlyForecast(ctx context.Context, day string, hour int) (domain.ForecastDay, error)
}

// Error messages returned to clients.
const (
	msgCoordinatesOutOfRange = "Coordinates out of range."
	msgIncorrectDateFormat   = "Incorrect date format."
	msgUpstreamUnavailable   = "upstream unavailable"
	msgInternal              = "internal error"
)

// --- buses ---

func (s *Server) handleAllBuses(w http.ResponseWriter, r *http.Request) {
	doc, err := s.queries.AllBuses(r.Context())
	respond(s, w, r, doc, err)
}

func (s *Server) handleNearbyBuses(w http.ResponseWriter, r *http.Request) {
	q, err := parseNearby(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.queries.NearbyBuses(r.Context(), q)
	respond(s, w, r, resp, err)
}

func (s *Server) handleBusesByLine(w http.ResponseWriter, r *http.Request) {
	raw, err := requiredQuery(r, "line_code")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	line, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.writeError(w, r, invalidParam("line_code", raw))
		return
	}
	groups, err := s.queries.BusesByLine(r.Context(), line)
	respond(s, w, r, groups, err)
}

func (s *Server) handleBusByCode(w http.ResponseWriter, r *http.Request) {
	code, err := pathInt(r, "bus_code")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	groups, err := s.queries.BusByCode(r.Context(), code)
	respond(s, w, r, groups, err)
}

// --- stops ---

func (s *Server) handleAllStops(w http.ResponseWriter, r *http.Request) {
	doc, err := s.queries.AllStops(r.Context())
	respond(s, w, r, doc, err)
}

func (s *Server) handleNearbyStops(w http.ResponseWriter, r *http.Request) {
	q, err := parseNearby(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.queries.NearbyStops(r.Context(), q)
	respond(s, w, r, resp, err)
}

func (s *Server) handleStopsByLine(w http.ResponseWriter, r *http.Request) {
	line, err := requiredQuery(r, "line_code")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	groups, err := s.queries.StopsByLine(r.Context(), line)
	respond(s, w, r, groups, err)
}

func (s *Server) handleStopByCode(w http.ResponseWriter, r *http.Request) {
	code, err := pathInt(r, "stop_code")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	groups, err := s.queries.StopByCode(r.Context(), code)
	respond(s, w, r, groups, err)
}

// --- forecasts ---

func (s *Server) handleAllForecasts(w http.ResponseWriter, r *http.Request) {
	days, err := s.queries.AllForecasts(r.Context())
	respond(s, w, r, days, err)
}

func (s *Server) handleTodayForecast(w http.ResponseWriter, r *http.Request) {
	day, err := s.queries.TodayForecast(r.Context())
	respond(s, w, r, day, err)
}

func (s *Server) handleForecastByDay(w http.ResponseWriter, r *http.Request) {
	day, err := s.queries.ForecastByDay(r.Context(), r.PathValue("day"))
	respond(s, w, r, day, err)
}

func (s *Server) handleHourlyForecast(w http.ResponseWriter, r *http.Request) {
	day := r.PathValue("day")
	if err := domain.CheckTimeFormat(day); err != nil {
		s.writeError(w, r, err)
		return
	}
	hour, err := domain.ParseHour(r.PathValue("hour"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.queries.HourlyForecast(r.Context(), day, hour)
	respond(s, w, r, entry, err)
}

// --- request parsing ---

func parseNearby(r *http.Request) (service.NearbyQuery, error) {
	q := service.NearbyQuery{Radius: domain.DefaultRadius}

	var err error
	if q.Lat, err = requiredFloat(r, "lat"); err != nil {
		return q, err
	}
	if q.Lon, err = requiredFloat(r, "lon"); err != nil {
		return q, err
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("radius")); raw != "" {
		radius, err := strconv.Atoi(raw)
		if err != nil || radius < 0 {
			return q, domain.ErrInvalidRadius
		}
		q.Radius = radius
	}
	return q, nil
}

func requiredQuery(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
	}
	return v, nil
}

func requiredFloat(r *http.Request, name string) (float64, error) {
	raw, err := requiredQuery(r, name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, invalidParam(name, raw)
	}
	return f, nil
}

func pathInt(r *http.Request, name string) (int, error) {
	raw := r.PathValue(name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(name, raw)
	}
	return n, nil
}

func invalidParam(name, value string) error {
	return fmt.Errorf("%w: %s %q", domain.ErrInvalidInput, name, value)
}

// --- responses ---

// respond writes v as a 200 JSON body, or maps err to an error response.
func respond[T any](s *Server, w http.ResponseWriter, r *http.Request, v T, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, v)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", "path", r.URL.Path, "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, r, status, map[string]string{"detail": msg})
}

// classify maps an error to an HTTP status and client-facing message.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrCoordinatesOutOfRange):
		return http.StatusBadRequest, msgCoordinatesOutOfRange
	case errors.Is(err, domain.ErrInvalidDateFormat):
		return http.StatusBadRequest, msgIncorrectDateFormat
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadGateway, msgUpstreamUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, msgUpstreamUnavailable
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

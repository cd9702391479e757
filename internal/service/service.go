package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/malaga-opendata-api/internal/domain"
	"github.com/couchcryptid/malaga-opendata-api/internal/observability"
)

// TransitSource fetches the raw EMT feeds.
type TransitSource interface {
	StopsCSV(ctx context.Context) ([]byte, error)
	StopsGeoJSON(ctx context.Context) ([]byte, error)
	BusLocations(ctx context.Context) ([]byte, error)
	Ping(ctx context.Context) error
}

// ForecastSource fetches decoded AEMET forecast documents.
type ForecastSource interface {
	DailyForecast(ctx context.Context) (domain.ForecastPayload, error)
	HourlyForecast(ctx context.Context) (domain.ForecastPayload, error)
}

// Feed labels for skipped-record logging and metrics.
const (
	feedStops = "stops"
	feedBuses = "buses"
)

// NearbyQuery is a proximity search around a coordinate. Radius is in meters.
type NearbyQuery struct {
	Lat    float64
	Lon    float64
	Radius int
}

func (q NearbyQuery) validate() error {
	if !domain.IsCRS(q.Lat, q.Lon) {
		return domain.ErrCoordinatesOutOfRange
	}
	if q.Radius < 0 {
		return domain.ErrInvalidRadius
	}
	return nil
}

func (q NearbyQuery) center() domain.Point {
	return domain.Point{Lat: q.Lat, Lon: q.Lon}
}

// Service answers every API query. Each call fetches fresh upstream data and
// shares no state with concurrent calls.
type Service struct {
	transit   TransitSource
	forecasts ForecastSource
	clock     clockwork.Clock
	location  *time.Location
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Service. loc decides which calendar day is "today".
func New(transit TransitSource, forecasts ForecastSource, clock clockwork.Clock, loc *time.Location, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		transit:   transit,
		forecasts: forecasts,
		clock:     clock,
		location:  loc,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness reports whether the EMT portal is reachable.
func (s *Service) CheckReadiness(ctx context.Context) error {
	return s.transit.Ping(ctx)
}

// AllBuses returns the live bus positions document unchanged.
func (s *Service) AllBuses(ctx context.Context) (json.RawMessage, error) {
	return passThrough(ctx, s.transit.BusLocations, "bus locations")
}

// NearbyBuses returns the buses within the query radius, each with its distance.
func (s *Service) NearbyBuses(ctx context.Context, q NearbyQuery) (domain.NearbyResponse[domain.BusLocation], error) {
	if err := q.validate(); err != nil {
		return domain.NearbyResponse[domain.BusLocation]{}, err
	}
	buses, err := s.loadBuses(ctx)
	if err != nil {
		return domain.NearbyResponse[domain.BusLocation]{}, err
	}

	nearby, warnings := domain.NearbyBuses(buses, q.center(), float64(q.Radius))
	s.skipped(feedBuses, warnings)
	return domain.FormatNearby(nearby, q.Lat, q.Lon, q.Radius), nil
}

// BusesByLine groups the live buses of one line.
func (s *Service) BusesByLine(ctx context.Context, line float64) ([]domain.GroupedResult[float64], error) {
	buses, err := s.loadBuses(ctx)
	if err != nil {
		return nil, err
	}
	return domain.GroupByField(buses, domain.BusLineKey, line), nil
}

// BusByCode groups the positions reported for one bus.
func (s *Service) BusByCode(ctx context.Context, code int) ([]domain.GroupedResult[int], error) {
	buses, err := s.loadBuses(ctx)
	if err != nil {
		return nil, err
	}
	return domain.GroupByField(buses, domain.BusCodeKey, code), nil
}

// AllStops returns the line and stop topology document unchanged.
func (s *Service) AllStops(ctx context.Context) (json.RawMessage, error) {
	return passThrough(ctx, s.transit.StopsGeoJSON, "stops")
}

// NearbyStops returns the (line, stop) rows within the query radius.
func (s *Service) NearbyStops(ctx context.Context, q NearbyQuery) (domain.NearbyResponse[domain.StopRecord], error) {
	if err := q.validate(); err != nil {
		return domain.NearbyResponse[domain.StopRecord]{}, err
	}
	stops, err := s.loadStops(ctx)
	if err != nil {
		return domain.NearbyResponse[domain.StopRecord]{}, err
	}

	nearby, warnings := domain.NearbyStops(stops, q.center(), float64(q.Radius))
	s.skipped(feedStops, warnings)
	return domain.FormatNearby(nearby, q.Lat, q.Lon, q.Radius), nil
}

// StopsByLine groups the stops served by one line.
func (s *Service) StopsByLine(ctx context.Context, line string) ([]domain.GroupedResult[string], error) {
	stops, err := s.loadStops(ctx)
	if err != nil {
		return nil, err
	}
	return domain.GroupByField(stops, domain.StopLineKey, line), nil
}

// StopByCode groups every line row of one stop.
func (s *Service) StopByCode(ctx context.Context, code int) ([]domain.GroupedResult[int], error) {
	stops, err := s.loadStops(ctx)
	if err != nil {
		return nil, err
	}
	return domain.GroupByField(stops, domain.StopCodeKey, code), nil
}

// AllForecasts returns every day of the daily forecast.
func (s *Service) AllForecasts(ctx context.Context) ([]domain.ForecastDay, error) {
	payload, err := s.forecasts.DailyForecast(ctx)
	if err != nil {
		return nil, err
	}
	return domain.ForecastDays(payload), nil
}

// TodayForecast returns the daily forecast for the current date in the
// configured location, or nil when the document has no such day.
func (s *Service) TodayForecast(ctx context.Context) (domain.ForecastDay, error) {
	today := s.clock.Now().In(s.location).Format(time.DateOnly)
	return s.ForecastByDay(ctx, today)
}

// ForecastByDay returns the daily forecast for day (YYYY-MM-DD), or nil when absent.
func (s *Service) ForecastByDay(ctx context.Context, day string) (domain.ForecastDay, error) {
	if err := domain.CheckTimeFormat(day); err != nil {
		return nil, err
	}
	payload, err := s.forecasts.DailyForecast(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := domain.ExtractDay(payload, day)
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// HourlyForecast returns the hourly forecast for day narrowed to hour, or nil when absent.
func (s *Service) HourlyForecast(ctx context.Context, day string, hour int) (domain.ForecastDay, error) {
	if err := domain.CheckTimeFormat(day); err != nil {
		return nil, err
	}
	if err := domain.CheckHour(hour); err != nil {
		return nil, err
	}
	payload, err := s.forecasts.HourlyForecast(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := domain.ExtractDayHour(payload, day, hour)
	if !ok {
		return nil, nil
	}
	return entry, nil
}

func (s *Service) loadStops(ctx context.Context) ([]domain.StopRecord, error) {
	data, err := s.transit.StopsCSV(ctx)
	if err != nil {
		return nil, err
	}
	stops, warnings, err := domain.ParseStopsCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: stops csv: %w", domain.ErrUpstreamUnavailable, err)
	}
	s.skipped(feedStops, warnings)
	return stops, nil
}

func (s *Service) loadBuses(ctx context.Context) ([]domain.BusLocation, error) {
	data, err := s.transit.BusLocations(ctx)
	if err != nil {
		return nil, err
	}
	buses, warnings, err := domain.ParseBusLocations(data)
	if err != nil {
		return nil, fmt.Errorf("%w: bus locations: %w", domain.ErrUpstreamUnavailable, err)
	}
	s.skipped(feedBuses, warnings)
	return buses, nil
}

// skipped logs and counts records dropped for malformed fields.
func (s *Service) skipped(feed string, warnings []domain.Warning) {
	if len(warnings) == 0 {
		return
	}
	s.metrics.RecordsSkipped.WithLabelValues(feed).Add(float64(len(warnings)))
	s.logger.Warn("skipped malformed records",
		"feed", feed,
		"count", len(warnings),
		"first", warnings[0].String(),
	)
}

func passThrough(ctx context.Context, fetch func(context.Context) ([]byte, error), name string) (json.RawMessage, error) {
	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s: document is not valid JSON", domain.ErrUpstreamUnavailable, name)
	}
	return json.RawMessage(data), nil
}

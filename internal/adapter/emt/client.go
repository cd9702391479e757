package emt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/malaga-opendata-api/internal/domain"
	"github.com/couchcryptid/malaga-opendata-api/internal/observability"
)

// Feed paths relative to the EMT open-data base URL.
const (
	stopsCSVPath     = "/EMTLineasYParadas/lineasyparadas.csv"
	stopsGeoJSONPath = "/EMTLineasYParadas/lineasyparadas.geojson"
	busesGeoJSONPath = "/EMTlineasUbicaciones/lineasyubicaciones.geojson"
)

// maxBodyBytes caps a single feed download.
const maxBodyBytes = 32 << 20

// Client fetches the EMT Malaga stop and bus position feeds.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an EMT feed client.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		metrics: metrics,
		logger:  logger.With("component", "emt"),
	}
}

// StopsCSV returns the raw stops CSV, one row per (line, stop).
func (c *Client) StopsCSV(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, stopsCSVPath, "emt_stops_csv")
}

// StopsGeoJSON returns the raw line and stop topology document.
func (c *Client) StopsGeoJSON(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, stopsGeoJSONPath, "emt_stops_geojson")
}

// BusLocations returns the raw live bus positions document.
func (c *Client) BusLocations(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, busesGeoJSONPath, "emt_buses")
}

// Ping checks that the EMT portal answers.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+stopsCSVPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: emt: %w", domain.ErrUpstreamUnavailable, err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: emt: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, path, source string) ([]byte, error) {
	start := time.Now()
	body, err := c.doRequest(ctx, c.baseURL+path)
	c.metrics.UpstreamDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(source, "error").Inc()
		c.logger.Error("feed request failed", "source", source, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrUpstreamUnavailable, source, err)
	}

	c.metrics.UpstreamRequests.WithLabelValues(source, "success").Inc()
	c.logger.Debug("feed fetched", "source", source, "bytes", len(body))
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

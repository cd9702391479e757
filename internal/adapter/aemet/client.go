package aemet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/couchcryptid/malaga-opendata-api/internal/config"
	"github.com/couchcryptid/malaga-opendata-api/internal/domain"
	"github.com/couchcryptid/malaga-opendata-api/internal/observability"
)

// Forecast kinds, as named in the AEMET municipal prediction path.
const (
	kindDaily  = "diaria"
	kindHourly = "horaria"
)

const maxBodyBytes = 8 << 20

// Client fetches municipal forecasts from AEMET OpenData. Every query is a
// two-step exchange: the keyed request answers with an envelope whose datos
// field is the URL of the actual document.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	municipality string
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates an AEMET client from the service configuration.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.AEMETTimeout,
		},
		baseURL:      cfg.AEMETBaseURL,
		apiKey:       cfg.AEMETAPIKey,
		municipality: cfg.AEMETMunicipality,
		metrics:      metrics,
		logger:       logger.With("component", "aemet"),
	}
}

// envelope is the first-step response.
type envelope struct {
	Descripcion string `json:"descripcion"`
	Estado      int    `json:"estado"`
	Datos       string `json:"datos"`
	Metadatos   string `json:"metadatos"`
}

// DailyForecast returns the day-by-day forecast for the configured municipality.
func (c *Client) DailyForecast(ctx context.Context) (domain.ForecastPayload, error) {
	return c.forecast(ctx, kindDaily)
}

// HourlyForecast returns the hour-by-hour forecast for the configured municipality.
func (c *Client) HourlyForecast(ctx context.Context) (domain.ForecastPayload, error) {
	return c.forecast(ctx, kindHourly)
}

func (c *Client) forecast(ctx context.Context, kind string) (domain.ForecastPayload, error) {
	source := "aemet_" + kind

	start := time.Now()
	payload, err := c.fetchForecast(ctx, kind)
	c.metrics.UpstreamDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(source, "error").Inc()
		c.logger.Error("forecast request failed", "kind", kind, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrUpstreamUnavailable, source, err)
	}

	c.metrics.UpstreamRequests.WithLabelValues(source, "success").Inc()
	return payload, nil
}

func (c *Client) fetchForecast(ctx context.Context, kind string) (domain.ForecastPayload, error) {
	u := fmt.Sprintf("%s/prediccion/especifica/municipio/%s/%s", c.baseURL, kind, url.PathEscape(c.municipality))

	body, err := c.get(ctx, u, true)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Estado != http.StatusOK {
		return nil, fmt.Errorf("estado %d: %s", env.Estado, env.Descripcion)
	}
	if env.Datos == "" {
		return nil, errors.New("envelope has no datos url")
	}

	data, err := c.get(ctx, env.Datos, false)
	if err != nil {
		return nil, fmt.Errorf("datos: %w", err)
	}

	payload, err := domain.ParseForecast(data)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("forecast fetched", "kind", kind, "blocks", len(payload))
	return payload, nil
}

// get performs one GET and returns the body as UTF-8. The API key is only
// sent to the keyed endpoint, never to the datos URL.
func (c *Client) get(ctx context.Context, fullURL string, withKey bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if withKey {
		req.Header.Set("api_key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(raw) > maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}

	if resp.StatusCode != http.StatusOK {
		if len(raw) > 512 {
			raw = raw[:512]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, raw)
	}

	return toUTF8(raw, resp.Header.Get("Content-Type"))
}

// toUTF8 decodes body using the charset named in contentType. Bodies with no
// charset, or labelled UTF-8 but not valid UTF-8, are read as ISO-8859-15,
// which is what AEMET serves its documents in.
func toUTF8(body []byte, contentType string) ([]byte, error) {
	var enc encoding.Encoding
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if name := params["charset"]; name != "" {
			if e, err := htmlindex.Get(name); err == nil {
				enc = e
			}
		}
	}
	if enc == nil || isUTF8(enc) {
		if utf8.Valid(body) {
			return body, nil
		}
		enc = charmap.ISO8859_15
	}

	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	return out, nil
}

func isUTF8(enc encoding.Encoding) bool {
	name, err := htmlindex.Name(enc)
	return err == nil && name == "utf-8"
}

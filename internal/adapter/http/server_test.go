package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/malaga-opendata-api/internal/adapter/http"
	"github.com/couchcryptid/malaga-opendata-api/internal/domain"
	"github.com/couchcryptid/malaga-opendata-api/internal/observability"
	"github.com/couchcryptid/malaga-opendata-api/internal/service"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

// fakeQueries records the arguments it receives and fails with err when set.
type fakeQueries struct {
	err error

	nearby   service.NearbyQuery
	line     float64
	lineCode string
	code     int
	day      string
	hour     int

	stops []domain.StopRecord
	today domain.ForecastDay
}

func (f *fakeQueries) AllBuses(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[{"codBus":1}]`), f.err
}

func (f *fakeQueries) NearbyBuses(_ context.Context, q service.NearbyQuery) (domain.NearbyResponse[domain.BusLocation], error) {
	f.nearby = q
	return domain.FormatNearby[domain.BusLocation](nil, q.Lat, q.Lon, q.Radius), f.err
}

func (f *fakeQueries) BusesByLine(_ context.Context, line float64) ([]domain.GroupedResult[float64], error) {
	f.line = line
	return []domain.GroupedResult[float64]{}, f.err
}

func (f *fakeQueries) BusByCode(_ context.Context, code int) ([]domain.GroupedResult[int], error) {
	f.code = code
	return []domain.GroupedResult[int]{}, f.err
}

func (f *fakeQueries) AllStops(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"FeatureCollection","features":[]}`), f.err
}

func (f *fakeQueries) NearbyStops(_ context.Context, q service.NearbyQuery) (domain.NearbyResponse[domain.StopRecord], error) {
	f.nearby = q
	return domain.FormatNearby(f.stops, q.Lat, q.Lon, q.Radius), f.err
}

func (f *fakeQueries) StopsByLine(_ context.Context, line string) ([]domain.GroupedResult[string], error) {
	f.lineCode = line
	return []domain.GroupedResult[string]{}, f.err
}

func (f *fakeQueries) StopByCode(_ context.Context, code int) ([]domain.GroupedResult[int], error) {
	f.code = code
	return domain.GroupByField(f.stops, domain.StopCodeKey, code), f.err
}

func (f *fakeQueries) AllForecasts(context.Context) ([]domain.ForecastDay, error) {
	return []domain.ForecastDay{{"fecha": "2024-03-05T00:00:00"}}, f.err
}

func (f *fakeQueries) TodayForecast(context.Context) (domain.ForecastDay, error) {
	return f.today, f.err
}

func (f *fakeQueries) ForecastByDay(_ context.Context, day string) (domain.ForecastDay, error) {
	f.day = day
	return nil, f.err
}

func (f *fakeQueries) HourlyForecast(_ context.Context, day string, hour int) (domain.ForecastDay, error) {
	f.day = day
	f.hour = hour
	return domain.ForecastDay{"fecha": day + "T00:00:00"}, f.err
}

func newTestServer(q *fakeQueries, readyErr error) *httpadapter.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpadapter.NewServer(":0", q, &mockReadiness{err: readyErr}, observability.NewMetricsForTesting(), logger)
}

func get(t *testing.T, srv http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(&fakeQueries{}, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(t, newTestServer(&fakeQueries{}, nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(&fakeQueries{}, fmt.Errorf("emt unreachable")), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(&fakeQueries{}, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNearbyStops(t *testing.T) {
	lat, lon := 36.7190, -4.4210
	q := &fakeQueries{stops: []domain.StopRecord{{
		CodParada:    10,
		UserCodLinea: "1",
		Lat:          &lat,
		Lon:          &lon,
	}}}
	srv := newTestServer(q, nil)

	t.Run("default radius", func(t *testing.T) {
		rec := get(t, srv, "/bus-stops/search/nearby?lat=36.719&lon=-4.421")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, service.NearbyQuery{Lat: 36.719, Lon: -4.421, Radius: 500}, q.nearby)
		assert.JSONEq(t, `{
			"lat": 36.719, "lon": -4.421, "radius": 500, "total": 1,
			"datos": [{"codParada": 10, "userCodLinea": "1", "lat": 36.719, "lon": -4.421}]
		}`, rec.Body.String())
	})

	t.Run("explicit radius", func(t *testing.T) {
		rec := get(t, srv, "/bus-stops/search/nearby?lat=36.7&lon=-4.4&radius=1200")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1200, q.nearby.Radius)
	})
}

func TestNearbyBadParams(t *testing.T) {
	tests := []struct {
		name   string
		target string
		msg    string
	}{
		{"missing lat", "/buses/search/nearby?lon=-4.4", "lat is required"},
		{"non-numeric lon", "/bus-stops/search/nearby?lat=36.7&lon=west", "lon"},
		{"negative radius", "/buses/search/nearby?lat=36.7&lon=-4.4&radius=-5", "radius"},
		{"fractional radius", "/bus-stops/search/nearby?lat=36.7&lon=-4.4&radius=2.5", "radius"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newTestServer(&fakeQueries{}, nil), tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, errorBody(t, rec), tt.msg)
		})
	}
}

func TestCoordinatesOutOfRange(t *testing.T) {
	q := &fakeQueries{err: domain.ErrCoordinatesOutOfRange}
	rec := get(t, newTestServer(q, nil), "/buses/search/nearby?lat=91&lon=0")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Coordinates out of range."}`, rec.Body.String())
	assert.InDelta(t, 91.0, q.nearby.Lat, 0)
}

func TestGroupingRoutes(t *testing.T) {
	q := &fakeQueries{}
	srv := newTestServer(q, nil)

	rec := get(t, srv, "/buses/search?line_code=1.0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1.0, q.line, 0)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = get(t, srv, "/buses/501")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 501, q.code)

	rec = get(t, srv, "/bus-stops/search?line_code=C1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "C1", q.lineCode)

	rec = get(t, srv, "/bus-stops/10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, q.code)
}

func TestGroupingBadParams(t *testing.T) {
	srv := newTestServer(&fakeQueries{}, nil)

	for _, target := range []string{
		"/buses/abc",
		"/bus-stops/1.5",
		"/buses/search?line_code=uno",
		"/buses/search",
		"/bus-stops/search",
	} {
		rec := get(t, srv, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestStopByCodeBody(t *testing.T) {
	lat, lon := 36.7190, -4.4210
	q := &fakeQueries{stops: []domain.StopRecord{
		{CodParada: 10, UserCodLinea: "1", Lat: &lat, Lon: &lon},
		{CodParada: 10, UserCodLinea: "2", Lat: &lat, Lon: &lon},
	}}

	rec := get(t, newTestServer(q, nil), "/bus-stops/10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{
		"codParada": 10,
		"total": 2,
		"datos": [
			{"userCodLinea": "1", "lat": 36.719, "lon": -4.421},
			{"userCodLinea": "2", "lat": 36.719, "lon": -4.421}
		]
	}]`, rec.Body.String())
}

func TestPassThroughRoutes(t *testing.T) {
	srv := newTestServer(&fakeQueries{}, nil)

	rec := get(t, srv, "/buses")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"codBus":1}]`, rec.Body.String())

	rec = get(t, srv, "/bus-stops")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, rec.Body.String())
}

func TestForecastRoutes(t *testing.T) {
	q := &fakeQueries{}
	srv := newTestServer(q, nil)

	t.Run("all", func(t *testing.T) {
		rec := get(t, srv, "/forecasts")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[{"fecha":"2024-03-05T00:00:00"}]`, rec.Body.String())
	})

	t.Run("today without entry is null", func(t *testing.T) {
		rec := get(t, srv, "/forecasts/today")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `null`, rec.Body.String())
	})

	t.Run("by day", func(t *testing.T) {
		rec := get(t, srv, "/forecasts/2024-03-05")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2024-03-05", q.day)
	})

	t.Run("hourly", func(t *testing.T) {
		rec := get(t, srv, "/forecasts/2024-03-05/hours/08")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 8, q.hour)
		assert.JSONEq(t, `{"fecha":"2024-03-05T00:00:00"}`, rec.Body.String())
	})

	t.Run("hourly bad date", func(t *testing.T) {
		rec := get(t, srv, "/forecasts/05-03-2024/hours/8")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Incorrect date format.", errorBody(t, rec))
	})

	t.Run("hourly hour not a number", func(t *testing.T) {
		rec := get(t, srv, "/forecasts/2024-03-05/hours/noon")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorBody(t, rec), "hour")
	})
}

func TestHourlyForecastOutOfRange(t *testing.T) {
	q := &fakeQueries{err: fmt.Errorf("%w: %d", domain.ErrInvalidHour, 24)}
	rec := get(t, newTestServer(q, nil), "/forecasts/2024-03-05/hours/24")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 24, q.hour)
	assert.Contains(t, errorBody(t, rec), "hour")
}

func TestForecastBadDate(t *testing.T) {
	q := &fakeQueries{err: fmt.Errorf("%w: %q", domain.ErrInvalidDateFormat, "2024/03/05")}
	rec := get(t, newTestServer(q, nil), "/forecasts/2024-3-5")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Incorrect date format.", errorBody(t, rec))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"upstream", fmt.Errorf("%w: emt_buses: status 503", domain.ErrUpstreamUnavailable), http.StatusBadGateway, "upstream unavailable"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "upstream unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newTestServer(&fakeQueries{err: tt.err}, nil), "/buses/501")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, errorBody(t, rec))
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	rec := get(t, newTestServer(&fakeQueries{}, nil), "/trains")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moniteur/internal/domain"
	"moniteur/internal/query"
	"moniteur/internal/registry"
	"moniteur/internal/util"
)

type MockMetricStore struct {
	Points []domain.DataPoint
	Err    error
}

func (m *MockMetricStore) Init() error {
	return m.Err
}

func (m *MockMetricStore) Write(ctx context.Context, point domain.DataPoint) error {
	if m.Err != nil {
		return m.Err
	}
	m.Points = append(m.Points, point)
	return nil
}

func (m *MockMetricStore) Query(ctx context.Context, assetID string, from, to int64, maxPoints int) ([]domain.DataPoint, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filtered := []domain.DataPoint{}
	for _, p := range m.Points {
		if p.AssetID == assetID && p.Timestamp >= from && p.Timestamp <= to {
			filtered = append(filtered, p)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Timestamp < filtered[j].Timestamp })
	if maxPoints > 0 && len(filtered) > maxPoints {
		filtered = filtered[:maxPoints]
	}
	return filtered, nil
}

func (m *MockMetricStore) RetentionSweep(ctx context.Context, policy domain.Retention) (int, error) {
	return 0, m.Err
}

func (m *MockMetricStore) Close() error {
	return m.Err
}

func newTestService(t *testing.T, store domain.MetricStore) *query.Service {
	t.Helper()
	reg, err := registry.Load([]domain.Asset{
		{ID: "btc", Name: "Bitcoin", SourceType: "binance", Params: map[string]string{"symbol": "BTCUSDT"}},
		{ID: "eth", Name: "Ether", SourceType: "http_json"},
	})
	require.NoError(t, err)
	return query.NewService(registry.NewHolder(reg), store)
}

func doMetrics(t *testing.T, handler *Metrics, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	handler.GetMetricsHandler(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var apiResponse APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apiResponse))
	return apiResponse
}

func TestGetMetricsHandler(t *testing.T) {
	now := time.Now().UnixMilli()
	mockStore := &MockMetricStore{}
	for i := 0; i < 10; i++ {
		mockStore.Write(context.Background(), domain.DataPoint{AssetID: "btc", Timestamp: now - int64(9-i)*1000, Value: float64(i * 10)})
	}
	mockStore.Write(context.Background(), domain.DataPoint{AssetID: "eth", Timestamp: now, Value: 1})

	metricsHandler := &Metrics{}
	metricsHandler.Init(newTestService(t, mockStore), &util.MetricsLogger{})

	// case 1: full range returns a bare ascending array
	rr := doMetrics(t, metricsHandler, "GET", fmt.Sprintf("/metrics?assetId=btc&from=%d&to=%d", now-100000, now+1000))
	assert.Equal(t, http.StatusOK, rr.Code, "Expected status OK")
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"), "Expected Content-Type: application/json")

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	var series []SeriesPoint
	require.NoError(t, json.Unmarshal(body, &series))
	require.Len(t, series, 10, "Expected all btc points")
	assert.Equal(t, SeriesPoint{Timestamp: now - 9000, Value: 0}, series[0])
	assert.Equal(t, SeriesPoint{Timestamp: now, Value: 90}, series[9])
	assert.NotContains(t, string(body), "assetId", "series elements carry only timestamp and value")

	// case 2: maxPoints is passed through
	rr = doMetrics(t, metricsHandler, "GET", fmt.Sprintf("/metrics?assetId=btc&from=%d&to=%d&maxPoints=4", now-100000, now+1000))
	assert.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &series))
	assert.Len(t, series, 4)

	// case 3: RFC3339 bounds and an empty range give []
	from := time.UnixMilli(now + 10000).UTC().Format(time.RFC3339)
	to := time.UnixMilli(now + 20000).UTC().Format(time.RFC3339)
	rr = doMetrics(t, metricsHandler, "GET", "/metrics?assetId=btc&from="+from+"&to="+to)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	// case 4: default range is the last 24h
	rr = doMetrics(t, metricsHandler, "GET", "/metrics?assetId=btc")
	assert.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &series))
	assert.Len(t, series, 10)

	// case 5: from > to
	rr = doMetrics(t, metricsHandler, "GET", fmt.Sprintf("/metrics?assetId=btc&from=%d&to=%d", now, now-1000))
	assert.Equal(t, http.StatusBadRequest, rr.Code, "Expected Bad Request for from > to")
	apiResponse := decodeError(t, rr)
	assert.Equal(t, "InvalidRange", apiResponse.Error)
	assert.Equal(t, INVALID_TIME_RANGE, apiResponse.ErrorCode)

	// case 6: unknown asset
	rr = doMetrics(t, metricsHandler, "GET", "/metrics?assetId=doge")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	apiResponse = decodeError(t, rr)
	assert.Equal(t, "NotFound", apiResponse.Error)
	assert.Equal(t, ASSET_NOT_FOUND, apiResponse.ErrorCode)
	assert.Contains(t, apiResponse.Message, "doge")

	// case 7: malformed parameters
	for _, target := range []string{
		"/metrics",
		"/metrics?assetId=btc&from=yesterday",
		"/metrics?assetId=btc&to=12:00",
		"/metrics?assetId=btc&maxPoints=abc",
		"/metrics?assetId=btc&maxPoints=0",
		"/metrics?assetId=btc&maxPoints=-3",
	} {
		rr = doMetrics(t, metricsHandler, "GET", target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		apiResponse = decodeError(t, rr)
		assert.Equal(t, INVALID_PARAMETERS, apiResponse.ErrorCode, target)
		assert.Equal(t, KindInvalidParameters, apiResponse.Error, target)
	}

	// case 8: POST is rejected
	rr = doMetrics(t, metricsHandler, "POST", "/metrics?assetId=btc")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, "Expected Method Not Allowed for POST request")
	apiResponse = decodeError(t, rr)
	assert.Equal(t, API_FAILURE, apiResponse.ErrorCode)
	assert.Contains(t, apiResponse.Message, "method Not Allowed. Only GET requests are supported")
}

func TestGetMetricsHandler_StoreFailures(t *testing.T) {
	// case 1: context cancellation
	cancelledStore := &MockMetricStore{Err: context.Canceled}
	metricsHandler := &Metrics{}
	metricsHandler.Init(newTestService(t, cancelledStore), &util.MetricsLogger{})

	rr := doMetrics(t, metricsHandler, "GET", "/metrics?assetId=btc")
	assert.Equal(t, http.StatusRequestTimeout, rr.Code, "Expected Request Timeout for cancelled context")
	apiResponse := decodeError(t, rr)
	assert.Equal(t, REQUEST_CANCELLED, apiResponse.ErrorCode)
	assert.Contains(t, apiResponse.Message, ErrRequestCancelled.Error())

	// case 2: closed store
	closedStore := &MockMetricStore{Err: domain.ErrStoreClosed}
	metricsHandler = &Metrics{}
	metricsHandler.Init(newTestService(t, closedStore), &util.MetricsLogger{})

	rr = doMetrics(t, metricsHandler, "GET", "/metrics?assetId=btc")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	apiResponse = decodeError(t, rr)
	assert.Equal(t, STORE_UNAVAILABLE, apiResponse.ErrorCode)
	assert.Equal(t, KindStoreError, apiResponse.Error)
}

func TestGetAssetsHandler(t *testing.T) {
	assetsHandler := &Assets{}
	assetsHandler.Init(newTestService(t, &MockMetricStore{}), &util.MetricsLogger{})

	req, _ := http.NewRequest("GET", "/assets.json", nil)
	rr := httptest.NewRecorder()
	assetsHandler.GetAssetsHandler(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[
		{"id":"btc","name":"Bitcoin","sourceType":"binance"},
		{"id":"eth","name":"Ether","sourceType":"http_json"}
	]`, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "BTCUSDT", "params are not exposed")
}

func TestRobotsHandler(t *testing.T) {
	req, _ := http.NewRequest("GET", "/robots.txt", nil)
	rr := httptest.NewRecorder()
	RobotsHandler(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "User-agent: *\nDisallow: /\n", rr.Body.String())
}

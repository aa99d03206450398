package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"moniteur/internal/query"
	"moniteur/internal/util"
)

// SeriesPoint is one element of the /metrics response array.
type SeriesPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type Metrics struct {
	Response APIResponse
	logger   *util.MetricsLogger
	service  *query.Service
}

func (m *Metrics) Init(service *query.Service, webSlogger *util.MetricsLogger) {
	m.service = service
	m.logger = webSlogger
}

// GetMetricsHandler serves GET /metrics?assetId=&from=&to=&maxPoints=.
func (m *Metrics) GetMetricsHandler(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodGet {
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "Method Not Allowed. Only GET requests are supported", http.StatusMethodNotAllowed)
		m.Response.WriteErrorResponseWithStatusCode(w, errors.New("method Not Allowed. Only GET requests are supported"), http.StatusMethodNotAllowed)
		return
	}

	req, err := parseMetricsRequest(r)
	if err != nil {
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "While parsing /metrics query. Err - ", err)
		m.Response.WriteErrorResponseWithStatusCode(w, err, http.StatusBadRequest)
		return
	}

	points, err := m.service.Series(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.LogEvent(util.LOG_LEVEL_WARN, "Context cancelled")
			m.Response.WriteErrorResponseWithStatusCode(w, ErrRequestCancelled, http.StatusRequestTimeout)
			return
		}
		m.logger.LogFields(util.LOG_LEVEL_WARN, "series query failed", zap.String("asset_id", req.AssetID), zap.Error(err))
		m.Response.WriteErrorResponse(w, err)
		return
	}

	series := make([]SeriesPoint, 0, len(points))
	for _, p := range points {
		series = append(series, SeriesPoint{Timestamp: p.Timestamp, Value: p.Value})
	}
	m.Response.WriteResultResponse(w, series)
}

func parseMetricsRequest(r *http.Request) (query.Request, error) {
	params := r.URL.Query()

	req := query.Request{AssetID: strings.TrimSpace(params.Get("assetId"))}
	if req.AssetID == "" {
		return req, fmt.Errorf("%w: assetId is required", ErrInvalidParameters)
	}

	var err error
	if req.From, err = query.ParseInstant(params.Get("from")); err != nil {
		return req, fmt.Errorf("%w: from: %v", ErrInvalidParameters, err)
	}
	if req.To, err = query.ParseInstant(params.Get("to")); err != nil {
		return req, fmt.Errorf("%w: to: %v", ErrInvalidParameters, err)
	}

	if raw := params.Get("maxPoints"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return req, fmt.Errorf("%w: maxPoints must be a positive integer", ErrInvalidParameters)
		}
		req.MaxPoints = n
	}
	return req, nil
}

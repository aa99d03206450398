package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	"moniteur/internal/domain"
)

const maxBodyBytes = 1 << 20

// HTTPJSON fetches params["url"] and reads the number at the dotted params["path"].
// Numeric path segments index arrays, so "data.0.price" reads data[0].price.
type HTTPJSON struct {
	client *http.Client
}

func NewHTTPJSON(client *http.Client) *HTTPJSON {
	return &HTTPJSON{client: client}
}

func (h *HTTPJSON) Init(ctx context.Context, asset domain.Asset) error {
	raw := asset.Param("url")
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("asset %s: invalid url: %w", asset.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("asset %s: url %q must be absolute http(s)", asset.ID, raw)
	}
	if strings.TrimSpace(asset.Param("path")) == "" {
		return fmt.Errorf("asset %s: missing param \"path\"", asset.ID)
	}
	return nil
}

func (h *HTTPJSON) Fetch(ctx context.Context, asset domain.Asset, timeout time.Duration) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.Param("url"), nil)
	if err != nil {
		return 0, domain.NewAdapterError(domain.KindUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, transportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, domain.NewAdapterError(domain.KindRateLimited, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, domain.NewAdapterError(domain.KindInvalidResponse, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, transportError(ctx, err)
	}

	v, err := extractNumber(body, asset.Param("path"))
	if err != nil {
		return 0, domain.NewAdapterError(domain.KindInvalidResponse, err)
	}
	return v, nil
}

func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewAdapterError(domain.KindTimeout, err)
	}
	return domain.NewAdapterError(domain.KindUnreachable, err)
}

func jsonKeys(path string) []string {
	parts := strings.Split(path, ".")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err == nil {
			p = "[" + p + "]"
		}
		keys = append(keys, p)
	}
	return keys
}

// extractNumber accepts JSON numbers and numeric strings, as price APIs commonly quote both.
func extractNumber(body []byte, path string) (float64, error) {
	keys := jsonKeys(path)
	value, dataType, _, err := jsonparser.Get(body, keys...)
	if err != nil {
		return 0, fmt.Errorf("path %q: %w", path, err)
	}

	switch dataType {
	case jsonparser.Number:
		return jsonparser.ParseFloat(value)
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	default:
		return 0, fmt.Errorf("path %q holds %s, not a number", path, dataType)
	}
}

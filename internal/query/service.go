// Package query answers range requests for presentation layers.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"moniteur/internal/domain"
	"moniteur/internal/registry"
)

// DefaultWindow is the range served when a request names no start time.
const DefaultWindow = 24 * time.Hour

// Request selects part of one asset's series. Zero From or To means unspecified;
// MaxPoints <= 0 returns every point in range.
type Request struct {
	AssetID   string
	From      time.Time
	To        time.Time
	MaxPoints int
}

type Service struct {
	assets *registry.Holder
	store  domain.MetricStore
	now    func() time.Time
}

func NewService(assets *registry.Holder, store domain.MetricStore) *Service {
	return &Service{assets: assets, store: store, now: time.Now}
}

// Normalize fills in the default range. A missing To is now and a missing From is To minus DefaultWindow.
func (s *Service) Normalize(req Request) (from, to int64, err error) {
	end := req.To
	if end.IsZero() {
		end = s.now()
	}
	start := req.From
	if start.IsZero() {
		start = end.Add(-DefaultWindow)
	}
	if start.After(end) {
		return 0, 0, fmt.Errorf("%w: from %s is after to %s", domain.ErrInvalidRange,
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}
	return start.UnixMilli(), end.UnixMilli(), nil
}

// Series checks the asset against the current registry and returns its points in range.
func (s *Service) Series(ctx context.Context, req Request) ([]domain.DataPoint, error) {
	if _, err := s.assets.Current().Get(req.AssetID); err != nil {
		return nil, err
	}
	from, to, err := s.Normalize(req)
	if err != nil {
		return nil, err
	}
	return s.store.Query(ctx, req.AssetID, from, to, req.MaxPoints)
}

// Assets lists the currently registered assets in configuration order.
func (s *Service) Assets() []domain.Asset {
	return s.assets.Current().Assets()
}

// ParseInstant accepts unix milliseconds or RFC3339. Empty input yields the zero time.
func ParseInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither unix milliseconds nor RFC3339", raw)
	}
	return t, nil
}

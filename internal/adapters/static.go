package adapters

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"moniteur/internal/domain"
)

// Static returns the number stored in the asset's "value" param.
type Static struct{}

func NewStatic() *Static {
	return &Static{}
}

func (s *Static) Init(ctx context.Context, asset domain.Asset) error {
	_, err := staticValue(asset)
	return err
}

func (s *Static) Fetch(ctx context.Context, asset domain.Asset, timeout time.Duration) (float64, error) {
	v, err := staticValue(asset)
	if err != nil {
		return 0, domain.NewAdapterError(domain.KindInvalidResponse, err)
	}
	return v, nil
}

func staticValue(asset domain.Asset) (float64, error) {
	raw := asset.Param("value")
	if raw == "" {
		return 0, fmt.Errorf("asset %s: missing param \"value\"", asset.ID)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("asset %s: param \"value\": %w", asset.ID, err)
	}
	return v, nil
}

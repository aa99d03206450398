package domain

import (
	"context"
	"time"
)

// SourceType names the adapter family that knows how to fetch an asset's value.
type SourceType string

// Asset is one configured source of a numeric metric. Identity is ID.
type Asset struct {
	ID         string            `json:"id" yaml:"id" mapstructure:"id"`
	Name       string            `json:"name" yaml:"name" mapstructure:"name"`
	SourceType SourceType        `json:"sourceType" yaml:"sourceType" mapstructure:"sourcetype"`
	Params     map[string]string `json:"-" yaml:"params" mapstructure:"params"`
}

// Param returns the asset parameter stored under key, or "".
func (a Asset) Param(key string) string {
	if a.Params == nil {
		return ""
	}
	return a.Params[key]
}

// DataPoint is one (asset, timestamp, value) observation. Timestamp is unix milliseconds.
type DataPoint struct {
	AssetID   string  `json:"assetId"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Time returns the point's timestamp as a time.Time.
func (p DataPoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// RoundResult is the outcome of one recording round.
type RoundResult struct {
	RoundID   string               `json:"roundId"`
	AsOf      int64                `json:"asOf"`
	Succeeded []DataPoint          `json:"succeeded"`
	Failed    map[string]ErrorKind `json:"failed"`
}

// Retention selects which points a sweep removes. Zero fields are ignored.
type Retention struct {
	Horizon  time.Duration
	MaxCount int
}

// MetricStore is the durable time-series store.
type MetricStore interface {
	Init() error
	// Write inserts the point or overwrites the value stored at (AssetID, Timestamp).
	Write(ctx context.Context, point DataPoint) error
	// Query returns points with from <= timestamp <= to, ascending. maxPoints <= 0 disables downsampling.
	Query(ctx context.Context, assetID string, from, to int64, maxPoints int) ([]DataPoint, error)
	RetentionSweep(ctx context.Context, policy Retention) (int, error)
	Close() error
}

// Adapter fetches the current value of one asset. Implementations must return within timeout.
type Adapter interface {
	Fetch(ctx context.Context, asset Asset, timeout time.Duration) (float64, error)
}

// Initializer is implemented by adapters that need a warm-up step before fetching.
type Initializer interface {
	Init(ctx context.Context, asset Asset) error
}

// AdapterFactory resolves the adapter for a source type.
type AdapterFactory interface {
	Adapter(sourceType SourceType) (Adapter, bool)
}

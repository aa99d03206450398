// Package adapters holds the source adapters shipped with moniteur. Each one
// satisfies domain.Adapter; the recorder resolves them through a Factory.
package adapters

import (
	"net/http"
	"time"

	"moniteur/internal/domain"
)

const (
	SourceStatic   domain.SourceType = "static"
	SourceHTTPJSON domain.SourceType = "http_json"
	SourceBinance  domain.SourceType = "binance"
)

// Factory maps a source type onto its adapter.
type Factory map[domain.SourceType]domain.Adapter

func (f Factory) Adapter(sourceType domain.SourceType) (domain.Adapter, bool) {
	a, ok := f[sourceType]
	return a, ok
}

// Register adds or replaces the adapter for sourceType.
func (f Factory) Register(sourceType domain.SourceType, adapter domain.Adapter) {
	f[sourceType] = adapter
}

// NewHTTPClient returns the client shared by the HTTP-backed adapters.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewDefaultFactory registers every built-in adapter. A nil client gets NewHTTPClient.
func NewDefaultFactory(client *http.Client) Factory {
	if client == nil {
		client = NewHTTPClient()
	}
	return Factory{
		SourceStatic:   NewStatic(),
		SourceHTTPJSON: NewHTTPJSON(client),
		SourceBinance:  NewBinance(client, ""),
	}
}

// Package registry validates and indexes the configured assets.
package registry

import (
	"fmt"
	"strings"
	"sync/atomic"

	"moniteur/internal/domain"
)

// ConfigError reports an invalid asset entry.
type ConfigError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("asset[%d].%s: %s", e.Index, e.Field, e.Reason)
}

// Registry is an immutable, validated set of assets.
type Registry struct {
	assets []domain.Asset
	byID   map[string]int
}

// Load validates raw asset entries and builds a Registry. Entries are copied.
func Load(raw []domain.Asset) (*Registry, error) {
	r := &Registry{
		assets: make([]domain.Asset, 0, len(raw)),
		byID:   make(map[string]int, len(raw)),
	}

	for i, entry := range raw {
		id := strings.TrimSpace(entry.ID)
		switch {
		case id == "":
			return nil, &ConfigError{Index: i, Field: "id", Reason: "is required"}
		case strings.ContainsRune(id, 0):
			return nil, &ConfigError{Index: i, Field: "id", Reason: "must not contain NUL"}
		case strings.TrimSpace(entry.Name) == "":
			return nil, &ConfigError{Index: i, Field: "name", Reason: "is required"}
		case strings.TrimSpace(string(entry.SourceType)) == "":
			return nil, &ConfigError{Index: i, Field: "sourceType", Reason: "is required"}
		}
		if prev, dup := r.byID[id]; dup {
			return nil, &ConfigError{Index: i, Field: "id", Reason: fmt.Sprintf("duplicate of asset[%d] (%q)", prev, id)}
		}

		params := make(map[string]string, len(entry.Params))
		for k, v := range entry.Params {
			params[k] = v
		}

		r.byID[id] = len(r.assets)
		r.assets = append(r.assets, domain.Asset{
			ID:         id,
			Name:       entry.Name,
			SourceType: domain.SourceType(strings.TrimSpace(string(entry.SourceType))),
			Params:     params,
		})
	}

	return r, nil
}

// Get returns the asset with the given id or domain.ErrNotFound.
func (r *Registry) Get(id string) (domain.Asset, error) {
	idx, ok := r.byID[id]
	if !ok {
		return domain.Asset{}, fmt.Errorf("%w: %q", domain.ErrNotFound, id)
	}
	return r.assets[idx], nil
}

// Assets returns the assets in configuration order. The slice is a copy.
func (r *Registry) Assets() []domain.Asset {
	out := make([]domain.Asset, len(r.assets))
	copy(out, r.assets)
	return out
}

func (r *Registry) Len() int {
	return len(r.assets)
}

// Holder publishes the current Registry. Swaps are atomic, so a reader sees
// either the old set or the new one, never a mix.
type Holder struct {
	current atomic.Pointer[Registry]
}

func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.current.Store(r)
	return h
}

func (h *Holder) Current() *Registry {
	return h.current.Load()
}

// Reload validates raw and swaps it in. On error the current registry is kept.
func (h *Holder) Reload(raw []domain.Asset) error {
	r, err := Load(raw)
	if err != nil {
		return err
	}
	h.current.Store(r)
	return nil
}

package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a per-asset failure inside a round.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "Timeout"
	KindUnreachable     ErrorKind = "Unreachable"
	KindInvalidResponse ErrorKind = "InvalidResponse"
	KindRateLimited     ErrorKind = "RateLimited"
	KindInitError       ErrorKind = "InitError"
	KindStoreError      ErrorKind = "StoreError"
)

var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrStore        = errors.New("store operation failed")
	ErrInvalidRange = errors.New("from timestamp cannot be after to timestamp")
	ErrNotFound     = errors.New("asset not found")
	ErrInit         = errors.New("asset initialization failed")
)

// AdapterError is returned by source adapters.
type AdapterError struct {
	Kind ErrorKind
	Err  error
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return "adapter: " + string(e.Kind)
	}
	return fmt.Sprintf("adapter: %s: %v", e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError wraps err with the given kind.
func NewAdapterError(kind ErrorKind, err error) *AdapterError {
	return &AdapterError{Kind: kind, Err: err}
}

// KindOf maps any error produced during a round onto an ErrorKind.
func KindOf(err error) ErrorKind {
	var adapterErr *AdapterError
	switch {
	case errors.As(err, &adapterErr):
		return adapterErr.Kind
	case errors.Is(err, ErrInit):
		return KindInitError
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrStore), errors.Is(err, ErrStoreClosed):
		return KindStoreError
	default:
		return KindUnreachable
	}
}

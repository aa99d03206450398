package endpoints

import (
	"context"
	"errors"
	"net/http"

	"moniteur/internal/domain"
)

const (
	API_SUCCESS      = iota + 303000 // 303000
	API_FAILURE                      // 303001 - Generic API failure
	API_UNAUTHORIZED                 // 303002 - Authentication/Authorization failure
)

const (
	INVALID_PARAMETERS = iota + 101 // 101 - Missing or malformed query parameters
	INVALID_TIME_RANGE              // 102 - from is after to
	REQUEST_CANCELLED               // 103 - Request was cancelled by client or server timeout
	ASSET_NOT_FOUND                 // 104 - assetId is not in the current registry
	STORE_UNAVAILABLE               // 105 - The time-series store failed or is closed
)

// Error kinds carried in the "error" field of a failure payload.
const (
	KindInvalidRange      = "InvalidRange"
	KindNotFound          = "NotFound"
	KindInvalidParameters = "InvalidParameters"
	KindCancelled         = "Cancelled"
	KindStoreError        = "StoreError"
	KindUnauthorized      = "Unauthorized"
	KindInternal          = "InternalError"
)

var (
	ErrInvalidParameters = errors.New("invalid query parameters")
	ErrRequestCancelled  = errors.New("request cancelled by client or server timeout")
	ErrUnauthorized      = errors.New("authentication required")
)

func GetErrorCode(err error) int {
	if err == nil {
		return API_SUCCESS
	}

	switch {
	case errors.Is(err, ErrInvalidParameters):
		return INVALID_PARAMETERS
	case errors.Is(err, domain.ErrInvalidRange):
		return INVALID_TIME_RANGE
	case errors.Is(err, ErrRequestCancelled), errors.Is(err, context.Canceled):
		return REQUEST_CANCELLED
	case errors.Is(err, domain.ErrNotFound):
		return ASSET_NOT_FOUND
	case errors.Is(err, domain.ErrStore), errors.Is(err, domain.ErrStoreClosed):
		return STORE_UNAVAILABLE
	case errors.Is(err, ErrUnauthorized):
		return API_UNAUTHORIZED
	default:
		return API_FAILURE
	}
}

// GetErrorKind returns the string kind and HTTP status for err.
func GetErrorKind(err error) (string, int) {
	switch GetErrorCode(err) {
	case INVALID_PARAMETERS:
		return KindInvalidParameters, http.StatusBadRequest
	case INVALID_TIME_RANGE:
		return KindInvalidRange, http.StatusBadRequest
	case REQUEST_CANCELLED:
		return KindCancelled, http.StatusRequestTimeout
	case ASSET_NOT_FOUND:
		return KindNotFound, http.StatusNotFound
	case STORE_UNAVAILABLE:
		return KindStoreError, http.StatusServiceUnavailable
	case API_UNAUTHORIZED:
		return KindUnauthorized, http.StatusUnauthorized
	default:
		return KindInternal, http.StatusInternalServerError
	}
}

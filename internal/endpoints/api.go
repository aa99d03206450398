package endpoints

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the failure payload: {"error": kind, "message": ..., "error_code": n}.
type APIResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	ErrorCode int    `json:"error_code"`
}

func (res APIResponse) WriteErrorResponse(w http.ResponseWriter, err error) {
	_, status := GetErrorKind(err)
	res.WriteErrorResponseWithStatusCode(w, err, status)
}

func (res APIResponse) WriteErrorResponseWithStatusCode(w http.ResponseWriter, err error, StatusCode int) {
	res.Error, _ = GetErrorKind(err)
	res.Message = err.Error()
	if StatusCode == http.StatusUnauthorized {
		res.Error = KindUnauthorized
		res.ErrorCode = API_UNAUTHORIZED
	} else {
		res.ErrorCode = GetErrorCode(err)
	}

	errJson, _ := json.Marshal(res)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(StatusCode)
	w.Write(errJson)
}

// WriteResultResponse writes result as the bare JSON body.
func (res APIResponse) WriteResultResponse(w http.ResponseWriter, result interface{}) {
	resultJson, err := json.Marshal(result)
	if err != nil {
		res.WriteErrorResponseWithStatusCode(w, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(resultJson)
}

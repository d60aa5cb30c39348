package api

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in API responses
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeBlockedProtocol = "BLOCKED_PROTOCOL"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodePaused          = "PAUSED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// APIError is the structured error body every failing endpoint returns.
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

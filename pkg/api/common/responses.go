package common

// ErrorResponse represents a standard error response used across all services.
// Handlers return it on every non-2xx; clients decode the error field when a
// call fails.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`    // HTTP-like error code
	Service string `json:"service,omitempty"` // Which service generated the error
}

package envelope

import (
	"fmt"
	"net/http"
)

// Stable error codes shared by client and server.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeParse            = "PARSE_ERROR"
	CodeSecurity         = "SECURITY_VIOLATION"
	CodeCircuitOpen      = "CIRCUIT_OPEN"
	CodeTimeout          = "TIMEOUT"
	CodeNetworkTimeout   = "NETWORK_TIMEOUT"
	CodeNetworkConn      = "NETWORK_CONNECTION"
	CodeNetworkDNS       = "NETWORK_DNS"
	CodeNetworkServer    = "NETWORK_HTTP_5XX"
	CodeNetworkRateLimit = "NETWORK_RATE_LIMITED"
	CodeNetworkClient    = "NETWORK_HTTP_4XX"
	CodeAuth             = "AUTH_ERROR"
	CodeCancelled        = "CANCELLED"
	CodePipeline         = "PIPELINE_ERROR"
)

// ErrorResponse is the failure record surfaced to callers. It
// implements error so transport and pipeline APIs can return it through
// ordinary error values.
type ErrorResponse struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details"`
	RetryPossible bool           `json:"retry_possible"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode returns the stable taxonomy key.
func (e *ErrorResponse) ErrorCode() string { return e.Code }

// WithDetail returns e after recording one detail entry, allocating the
// map on first use.
func (e *ErrorResponse) WithDetail(key string, value any) *ErrorResponse {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError builds an ErrorResponse with an empty details map so the
// wire form always carries the details field.
func NewError(code, message string, retryPossible bool) *ErrorResponse {
	return &ErrorResponse{
		Code:          code,
		Message:       message,
		Details:       make(map[string]any),
		RetryPossible: retryPossible,
	}
}

// HTTPStatus maps a taxonomy code to the status the gateway writes.
func HTTPStatus(code string) int {
	switch code {
	case CodeValidation, CodeParse:
		return http.StatusBadRequest
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeSecurity:
		return http.StatusForbidden
	case CodeNetworkRateLimit:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RetryableCode reports whether a taxonomy code names a transient
// condition the caller may retry.
func RetryableCode(code string) bool {
	switch code {
	case CodeNetworkTimeout, CodeNetworkConn, CodeNetworkDNS,
		CodeNetworkServer, CodeNetworkRateLimit, CodeTimeout:
		return true
	}
	return false
}

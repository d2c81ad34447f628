package discord

import (
	"github.com/WelcomerTeam/Tether/tetherjson"
)

// http.go represents the structures of the REST interface we interpret.

// Rate limit response headers.
const (
	HeaderRateLimitBucket     = "X-RateLimit-Bucket"
	HeaderRateLimitLimit      = "X-RateLimit-Limit"
	HeaderRateLimitRemaining  = "X-RateLimit-Remaining"
	HeaderRateLimitResetAfter = "X-RateLimit-Reset-After"
	HeaderRateLimitGlobal     = "X-RateLimit-Global"
	HeaderRateLimitScope      = "X-RateLimit-Scope"
	HeaderRetryAfter          = "Retry-After"
	HeaderAuditLogReason      = "X-Audit-Log-Reason"
)

// TooManyRequests is the body of a 429 response.
type TooManyRequests struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// ErrorMessage represents a basic error message.
type ErrorMessage struct {
	Message string                `json:"message"`
	Errors  tetherjson.RawMessage `json:"errors,omitempty"`
	Code    int32                 `json:"code"`
}

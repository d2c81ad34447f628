package rest

import "net/http"

// Outcome classifies a response.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeTransient
	OutcomeUnauthorized
	OutcomeForbidden
	OutcomeNotFound
	OutcomeServerError
	OutcomeHTTPError
)

// statusCloudflareTimeout is returned when the origin took too long to answer.
const statusCloudflareTimeout = 524

func classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case status == http.StatusInternalServerError,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == statusCloudflareTimeout:
		return OutcomeTransient
	case status == http.StatusUnauthorized:
		return OutcomeUnauthorized
	case status == http.StatusForbidden:
		return OutcomeForbidden
	case status == http.StatusNotFound:
		return OutcomeNotFound
	case status >= 500:
		return OutcomeServerError
	default:
		return OutcomeHTTPError
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "ratelimited"
	case OutcomeTransient:
		return "transient"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeServerError:
		return "server_error"
	case OutcomeHTTPError:
		return "http_error"
	default:
		return "unknown"
	}
}

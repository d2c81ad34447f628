package rest

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/WelcomerTeam/Tether/tetherjson"
)

var (
	ErrMissingRouteParameter = errors.New("missing route parameter")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrServerError  = errors.New("server error")
)

// HTTPError is returned for every response that could not be retried.
type HTTPError struct {
	Kind    Outcome
	Status  int
	Code    int32
	Message string
	Body    []byte
}

// newHTTPError decodes the error body of a response. Bodies that are not
// JSON are kept as the message.
func newHTTPError(kind Outcome, status int, body []byte, isJSON bool) *HTTPError {
	httpErr := &HTTPError{
		Kind:   kind,
		Status: status,
		Body:   body,
	}

	if !isJSON {
		httpErr.Message = string(body)

		return httpErr
	}

	var message discord.ErrorMessage

	if err := tetherjson.Unmarshal(body, &message); err != nil {
		httpErr.Message = string(body)

		return httpErr
	}

	httpErr.Code = message.Code
	httpErr.Message = message.Message

	if len(message.Errors) > 0 {
		var tree map[string]any

		if err := tetherjson.Unmarshal(message.Errors, &tree); err == nil && len(tree) > 0 {
			lines := flattenErrors(tree, "", nil)
			httpErr.Message += "\n" + strings.Join(lines, "\n")
		}
	}

	return httpErr
}

// flattenErrors turns the nested errors object into "In field.path: message"
// lines, sorted by path.
func flattenErrors(tree map[string]any, prefix string, lines []string) []string {
	keys := make([]string, 0, len(tree))
	for key := range tree {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		switch value := tree[key].(type) {
		case map[string]any:
			if list, ok := value["_errors"].([]any); ok {
				messages := make([]string, 0, len(list))

				for _, entry := range list {
					if entry, ok := entry.(map[string]any); ok {
						message, _ := entry["message"].(string)
						messages = append(messages, message)
					}
				}

				lines = append(lines, "In "+path+": "+strings.Join(messages, " "))
			} else {
				lines = flattenErrors(value, path, lines)
			}
		default:
			lines = append(lines, fmt.Sprintf("In %s: %v", path, value))
		}
	}

	return lines
}

func (e *HTTPError) Error() string {
	text := fmt.Sprintf("%d %s (error code: %d)", e.Status, http.StatusText(e.Status), e.Code)
	if e.Message != "" {
		text += ": " + e.Message
	}

	return text
}

// Is lets errors.Is match the sentinel for the error kind.
func (e *HTTPError) Is(target error) bool {
	switch e.Kind {
	case OutcomeUnauthorized:
		return target == ErrUnauthorized
	case OutcomeForbidden:
		return target == ErrForbidden
	case OutcomeNotFound:
		return target == ErrNotFound
	case OutcomeServerError:
		return target == ErrServerError
	default:
		return false
	}
}

// RateLimitedError is returned when a 429 asks to wait longer than the
// client is configured to.
type RateLimitedError struct {
	RetryAfter time.Duration
	Global     bool
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many requests, retry in %.2f seconds", e.RetryAfter.Seconds())
}

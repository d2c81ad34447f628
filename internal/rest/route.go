package rest

import (
	"fmt"
	"net/url"
	"strings"
)

// majorParameters scope a bucket to a single resource, in key order.
var majorParameters = []string{"channel_id", "guild_id", "webhook_id", "webhook_token"}

// Route describes a single REST endpoint with its parameters resolved.
type Route struct {
	method   string
	path     string
	resolved string
	metadata string
	major    string
}

// NewRoute resolves the {name} placeholders of path with parameters.
// Every placeholder must have a parameter.
func NewRoute(method, path string, parameters map[string]string) (Route, error) {
	var resolved strings.Builder

	remainder := path

	for {
		start := strings.IndexByte(remainder, '{')
		if start == -1 {
			resolved.WriteString(remainder)

			break
		}

		end := strings.IndexByte(remainder[start:], '}')
		if end == -1 {
			return Route{}, fmt.Errorf("%w: unterminated placeholder in %s", ErrMissingRouteParameter, path)
		}

		name := remainder[start+1 : start+end]

		value, ok := parameters[name]
		if !ok {
			return Route{}, fmt.Errorf("%w: %s in %s", ErrMissingRouteParameter, name, path)
		}

		resolved.WriteString(remainder[:start])
		resolved.WriteString(url.PathEscape(value))

		remainder = remainder[start+end+1:]
	}

	major := make([]string, 0, len(majorParameters))

	for _, name := range majorParameters {
		if value, ok := parameters[name]; ok {
			major = append(major, value)
		}
	}

	return Route{
		method:   method,
		path:     path,
		resolved: resolved.String(),
		major:    strings.Join(major, "+"),
	}, nil
}

// MustNewRoute is like NewRoute but panics when a parameter is missing.
func MustNewRoute(method, path string, parameters map[string]string) Route {
	route, err := NewRoute(method, path, parameters)
	if err != nil {
		panic(err)
	}

	return route
}

// WithMetadata returns a copy of the route tagged with metadata. Routes that
// share a path but are limited separately differ by their metadata.
func (r Route) WithMetadata(metadata string) Route {
	r.metadata = metadata

	return r
}

func (r Route) Method() string {
	return r.method
}

// Path returns the unresolved path template.
func (r Route) Path() string {
	return r.path
}

// ResolvedPath returns the path with parameters substituted.
func (r Route) ResolvedPath() string {
	return r.resolved
}

func (r Route) Metadata() string {
	return r.metadata
}

// Key identifies the route independent of its parameters.
func (r Route) Key() string {
	if r.metadata != "" {
		return r.method + " " + r.path + ":" + r.metadata
	}

	return r.method + " " + r.path
}

// MajorParams returns the resource scoping parameters joined with "+".
func (r Route) MajorParams() string {
	return r.major
}

func (r Route) String() string {
	return r.method + " " + r.resolved
}

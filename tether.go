// Package tether keeps a gateway connection alive and performs REST
// requests within the server's ratelimits.
package tether

import (
	"fmt"

	"github.com/WelcomerTeam/Tether/internal/gateway"
	"github.com/WelcomerTeam/Tether/internal/rest"
)

const Version = "1.0.0"

var UserAgent = fmt.Sprintf("DiscordBot (https://github.com/WelcomerTeam/Tether, %s)", Version)

// REST types are aliased so requests can be built outside this module.
type (
	Route            = rest.Route
	Request          = rest.Request
	MultipartFile    = rest.MultipartFile
	HTTPError        = rest.HTTPError
	RateLimitedError = rest.RateLimitedError
)

var (
	NewRoute     = rest.NewRoute
	MustNewRoute = rest.MustNewRoute
)

// Gateway types.
type (
	Session        = gateway.Session
	CloseError     = gateway.CloseError
	ReconnectError = gateway.ReconnectError
	State          = gateway.State
)

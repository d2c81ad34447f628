package tether

import (
	"errors"

	"github.com/WelcomerTeam/Tether/internal/gateway"
	"github.com/WelcomerTeam/Tether/internal/rest"
)

var (
	ErrReadConfigurationFailure = errors.New("failed to read configuration")
	ErrLoadConfigurationFailure = errors.New("failed to load configuration")
	ErrMissingToken             = errors.New("configuration is missing a token")
	ErrUnknownCompression       = errors.New("unknown compression")

	ErrNotConnected              = gateway.ErrNotConnected
	ErrPrivilegedIntentsRequired = gateway.ErrPrivilegedIntentsRequired

	ErrMissingRouteParameter = rest.ErrMissingRouteParameter
	ErrUnauthorized          = rest.ErrUnauthorized
	ErrForbidden             = rest.ErrForbidden
	ErrNotFound              = rest.ErrNotFound
	ErrServerError           = rest.ErrServerError
)

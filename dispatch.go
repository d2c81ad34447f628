package tether

import (
	"context"

	"github.com/WelcomerTeam/Tether/tetherjson"
)

// Dispatcher receives every gateway event in the order it arrived and is
// told whenever the connection drops. Dispatch is called from the receive
// loop so slow dispatchers delay the following events.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, payload tetherjson.RawMessage) error
	Disconnect(ctx context.Context)
}

// DispatcherFunc adapts a function to a Dispatcher that ignores disconnects.
type DispatcherFunc func(ctx context.Context, event string, payload tetherjson.RawMessage) error

func (f DispatcherFunc) Dispatch(ctx context.Context, event string, payload tetherjson.RawMessage) error {
	return f(ctx, event, payload)
}

func (f DispatcherFunc) Disconnect(context.Context) {}

package gateway

import (
	"github.com/WelcomerTeam/Tether/discord"
	"nhooyr.io/websocket"
)

// Close codes sent by the client.
const (
	// CloseCodeReconnect keeps the session alive so it can be resumed.
	CloseCodeReconnect websocket.StatusCode = 4000

	// CloseCodeHeartbeatTimeout is used when the gateway stopped responding.
	CloseCodeHeartbeatTimeout websocket.StatusCode = 4000
)

// CloseAction is what should happen after a connection closed with a code.
type CloseAction uint8

const (
	CloseActionResume CloseAction = iota
	CloseActionStop
	CloseActionFatal
	CloseActionPrivilegedIntents
)

func (a CloseAction) String() string {
	switch a {
	case CloseActionResume:
		return "resume"
	case CloseActionStop:
		return "stop"
	case CloseActionFatal:
		return "fatal"
	case CloseActionPrivilegedIntents:
		return "privileged_intents"
	default:
		return "unknown"
	}
}

// ClassifyClose decides how to react to a close code. A normal closure only
// stops the client when it was requested; one sent by the gateway is resumed.
func ClassifyClose(code websocket.StatusCode, requested bool) CloseAction {
	switch code {
	case discord.CloseNormal:
		if requested {
			return CloseActionStop
		}

		return CloseActionResume
	case discord.CloseAuthenticationFailed,
		discord.CloseInvalidShard,
		discord.CloseShardingRequired,
		discord.CloseInvalidAPIVersion,
		discord.CloseInvalidIntents:
		return CloseActionFatal
	case discord.CloseDisallowedIntents:
		return CloseActionPrivilegedIntents
	default:
		if requested {
			return CloseActionStop
		}

		return CloseActionResume
	}
}

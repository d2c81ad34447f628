package discord

import (
	"github.com/WelcomerTeam/Tether/tetherjson"
)

// gateway.go contains all structures for interacting with the gateway and
// all control frames we send to it.

// GatewayOp represents the operation codes of a gateway message.
type GatewayOp uint8

const (
	GatewayOpDispatch GatewayOp = iota
	GatewayOpHeartbeat
	GatewayOpIdentify
	GatewayOpStatusUpdate
	GatewayOpVoiceStateUpdate
	_
	GatewayOpResume
	GatewayOpReconnect
	GatewayOpRequestGuildMembers
	GatewayOpInvalidSession
	GatewayOpHello
	GatewayOpHeartbeatACK
)

func (op GatewayOp) String() string {
	switch op {
	case GatewayOpDispatch:
		return "DISPATCH"
	case GatewayOpHeartbeat:
		return "HEARTBEAT"
	case GatewayOpIdentify:
		return "IDENTIFY"
	case GatewayOpStatusUpdate:
		return "PRESENCE_UPDATE"
	case GatewayOpVoiceStateUpdate:
		return "VOICE_STATE_UPDATE"
	case GatewayOpResume:
		return "RESUME"
	case GatewayOpReconnect:
		return "RECONNECT"
	case GatewayOpRequestGuildMembers:
		return "REQUEST_GUILD_MEMBERS"
	case GatewayOpInvalidSession:
		return "INVALID_SESSION"
	case GatewayOpHello:
		return "HELLO"
	case GatewayOpHeartbeatACK:
		return "HEARTBEAT_ACK"
	default:
		return "UNKNOWN"
	}
}

// GatewayIntent represents a bitflag for intents.
type GatewayIntent uint32

const (
	IntentGuilds GatewayIntent = 1 << iota
	IntentGuildMembers
	IntentGuildBans
	IntentGuildEmojis
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
)

// Privileged intents must be enabled for the application before use,
// otherwise the gateway closes with CloseDisallowedIntents.
const IntentsPrivileged = IntentGuildMembers | IntentGuildPresences | IntentMessageContent

// CloseNormal is the websocket close code for a clean, intentional closure.
const CloseNormal = 1000

// Gateway close codes.
const (
	CloseUnknownError = 4000 + iota
	CloseUnknownOpCode
	CloseDecodeError
	CloseNotAuthenticated
	CloseAuthenticationFailed
	CloseAlreadyAuthenticated
	_
	CloseInvalidSeq
	CloseRateLimited
	CloseSessionTimeout
	CloseInvalidShard
	CloseShardingRequired
	CloseInvalidAPIVersion
	CloseInvalidIntents
	CloseDisallowedIntents
)

// Dispatch event names the connection itself reacts to.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// GatewayPayload represents the base payload received from the gateway.
// Sequence is nil for every frame that is not a dispatch.
type GatewayPayload struct {
	Type     string                `json:"t,omitempty"`
	Data     tetherjson.RawMessage `json:"d"`
	Sequence *int64                `json:"s,omitempty"`
	Op       GatewayOp             `json:"op"`
}

// SentPayload represents the base payload we send to the gateway.
type SentPayload struct {
	Data any       `json:"d"`
	Op   GatewayOp `json:"op"`
}

// Gateway Commands

// Identify represents the initial handshake with the gateway.
type Identify struct {
	Properties     *IdentifyProperties `json:"properties"`
	Presence       *UpdateStatus       `json:"presence,omitempty"`
	Token          string              `json:"token"`
	LargeThreshold int32               `json:"large_threshold"`
	Intents        int32               `json:"intents,omitempty"`
	Compress       bool                `json:"compress"`
}

// IdentifyProperties are the extra properties sent in the identify packet.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Resume resumes a dropped gateway connection.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// RequestGuildMembers requests members for a guild.
type RequestGuildMembers struct {
	Query     *string     `json:"query,omitempty"`
	Nonce     string      `json:"nonce,omitempty"`
	UserIDs   []Snowflake `json:"user_ids,omitempty"`
	GuildID   Snowflake   `json:"guild_id"`
	Limit     int32       `json:"limit"`
	Presences bool        `json:"presences"`
}

// UpdateVoiceState joins, moves or leaves a voice channel.
type UpdateVoiceState struct {
	ChannelID *Snowflake `json:"channel_id"`
	GuildID   Snowflake  `json:"guild_id"`
	SelfMute  bool       `json:"self_mute"`
	SelfDeaf  bool       `json:"self_deaf"`
}

// UpdateStatus updates a client's presence.
type UpdateStatus struct {
	Status     string      `json:"status" yaml:"status"`
	Activities []*Activity `json:"activities" yaml:"activities"`
	Since      int64       `json:"since,omitempty" yaml:"since"`
	AFK        bool        `json:"afk" yaml:"afk"`
}

// ActivityType represents an activity's type.
type ActivityType int

// Activity types.
const (
	ActivityTypeGame ActivityType = iota
	ActivityTypeStreaming
	ActivityTypeListening
	ActivityTypeWatching
	ActivityTypeCustom
	ActivityTypeCompeting
)

// Activity represents an activity as sent as part of other packets.
type Activity struct {
	Name  string       `json:"name" yaml:"name"`
	URL   string       `json:"url,omitempty" yaml:"url"`
	State string       `json:"state,omitempty" yaml:"state"`
	Type  ActivityType `json:"type" yaml:"type"`
}

// Gateway Events

// Hello is sent when we connect to the gateway.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// Ready is the subset of the ready event the connection needs to resume.
// The rest of the payload is forwarded untouched to the dispatcher.
type Ready struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	Version          int32  `json:"v"`
}

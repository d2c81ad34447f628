package gateway

import (
	"context"
	"strings"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/google/uuid"
)

// UpdatePresence changes the presence shown for the client.
func (c *Connection) UpdatePresence(ctx context.Context, presence discord.UpdateStatus) error {
	if presence.Activities == nil {
		presence.Activities = []*discord.Activity{}
	}

	return c.Send(ctx, discord.GatewayOpStatusUpdate, presence)
}

// UpdateVoiceState joins, moves between or leaves voice channels. A nil
// channel leaves the current one.
func (c *Connection) UpdateVoiceState(ctx context.Context, state discord.UpdateVoiceState) error {
	return c.Send(ctx, discord.GatewayOpVoiceStateUpdate, state)
}

// RequestGuildMembers asks the gateway for guild members. The returned nonce
// is echoed in every GUILD_MEMBERS_CHUNK sent in response.
func (c *Connection) RequestGuildMembers(ctx context.Context, request discord.RequestGuildMembers) (string, error) {
	if request.Nonce == "" {
		// Nonces are limited to 32 bytes.
		request.Nonce = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	if request.Query == nil && len(request.UserIDs) == 0 {
		query := ""
		request.Query = &query
	}

	if err := c.Send(ctx, discord.GatewayOpRequestGuildMembers, request); err != nil {
		return "", err
	}

	return request.Nonce, nil
}

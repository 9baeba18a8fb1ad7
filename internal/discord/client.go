// Package discord connects the bot to Discord through discordgo.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/user/ticketbot/internal/platform"
)

// Client implements platform.Platform on a discordgo session.
type Client struct {
	session *discordgo.Session
}

// NewSession creates an unopened bot session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
	s.StateEnabled = true
	return s, nil
}

// NewClient wraps a session.
func NewClient(s *discordgo.Session) *Client {
	return &Client{session: s}
}

// Channel fetches a channel by id.
func (c *Client) Channel(ctx context.Context, channelID string) (*platform.Channel, error) {
	ch, err := c.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	return toChannel(ch), nil
}

// CreateChannel creates a text channel in a guild.
func (c *Client) CreateChannel(ctx context.Context, guildID string, spec platform.ChannelSpec) (*platform.Channel, error) {
	ch, err := c.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     spec.Name,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: spec.ParentID,
		Topic:    spec.Topic,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	return toChannel(ch), nil
}

// EditChannel renames or moves a channel. Empty fields are left unchanged.
func (c *Client) EditChannel(ctx context.Context, channelID string, edit platform.ChannelEdit) error {
	_, err := c.session.ChannelEdit(channelID, &discordgo.ChannelEdit{
		Name:     edit.Name,
		ParentID: edit.ParentID,
	}, discordgo.WithContext(ctx))
	return mapError(err)
}

// DeleteChannel deletes a channel.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := c.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return mapError(err)
}

// SetMemberPermissions sets a member's permission overwrite on a channel.
func (c *Client) SetMemberPermissions(ctx context.Context, channelID, userID string, allow, deny platform.Permission) error {
	err := c.session.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember,
		toPermissions(allow), toPermissions(deny), discordgo.WithContext(ctx))
	return mapError(err)
}

// RemoveMemberPermissions deletes a member's permission overwrite.
func (c *Client) RemoveMemberPermissions(ctx context.Context, channelID, userID string) error {
	return mapError(c.session.ChannelPermissionDelete(channelID, userID, discordgo.WithContext(ctx)))
}

// SendMessage posts a message to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg platform.MessageSend) (*platform.Message, error) {
	m, err := c.session.ChannelMessageSendComplex(channelID, toMessageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	return toMessage(m), nil
}

// EditMessage replaces a message's content, embeds and buttons.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, msg platform.MessageSend) error {
	_, err := c.session.ChannelMessageEditComplex(toMessageEdit(channelID, messageID, msg), discordgo.WithContext(ctx))
	return mapError(err)
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapError(c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

// PinMessage pins a message in its channel.
func (c *Client) PinMessage(ctx context.Context, channelID, messageID string) error {
	return mapError(c.session.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)))
}

// Message fetches one message.
func (c *Client) Message(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	m, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	return toMessage(m), nil
}

// Messages fetches up to limit messages older than beforeID, newest first.
func (c *Client) Messages(ctx context.Context, channelID, beforeID string, limit int) ([]*platform.Message, error) {
	msgs, err := c.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]*platform.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return out, nil
}

// PinnedMessages returns the pinned messages of a channel.
func (c *Client) PinnedMessages(ctx context.Context, channelID string) ([]*platform.Message, error) {
	msgs, err := c.session.ChannelMessagesPinned(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]*platform.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return out, nil
}

// Member fetches a guild member.
func (c *Client) Member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	m, err := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	member := toMember(m, guildID, nil)
	return &member, nil
}

var _ platform.Platform = (*Client)(nil)

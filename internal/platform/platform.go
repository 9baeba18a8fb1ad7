// Package platform describes the chat platform the bot drives.
// The discord package implements it; platformtest provides an in-memory fake.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a channel, message, member or user cannot be resolved.
var ErrNotFound = errors.New("platform: not found")

// Platform is the set of chat-platform operations the bot consumes.
type Platform interface {
	Channel(ctx context.Context, channelID string) (*Channel, error)
	CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (*Channel, error)
	EditChannel(ctx context.Context, channelID string, edit ChannelEdit) error
	DeleteChannel(ctx context.Context, channelID string) error

	SetMemberPermissions(ctx context.Context, channelID, userID string, allow, deny Permission) error
	RemoveMemberPermissions(ctx context.Context, channelID, userID string) error

	SendMessage(ctx context.Context, channelID string, msg MessageSend) (*Message, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg MessageSend) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	PinMessage(ctx context.Context, channelID, messageID string) error
	Message(ctx context.Context, channelID, messageID string) (*Message, error)
	// Messages returns up to limit messages strictly older than beforeID, newest first.
	Messages(ctx context.Context, channelID, beforeID string, limit int) ([]*Message, error)
	PinnedMessages(ctx context.Context, channelID string) ([]*Message, error)

	Member(ctx context.Context, guildID, userID string) (*Member, error)
}

// Channel is a text channel or category.
type Channel struct {
	ID            string
	GuildID       string
	Name          string
	ParentID      string
	Position      int
	LastMessageID string
}

// ChannelSpec describes a channel to create.
type ChannelSpec struct {
	Name     string
	ParentID string
	Topic    string
}

// ChannelEdit changes a channel. Empty fields are left untouched.
type ChannelEdit struct {
	Name     string
	ParentID string
}

// User is a platform account.
type User struct {
	ID         string
	Username   string
	GlobalName string
	Avatar     string
	Bot        bool
}

// Member is a user within a guild.
type Member struct {
	User    User
	GuildID string
	Nick    string
	Avatar  string
	Roles   []string
}

// HasAnyRole reports whether the member holds one of the given role ids.
// Empty ids never match.
func (m Member) HasAnyRole(roleIDs ...string) bool {
	for _, want := range roleIDs {
		if want == "" {
			continue
		}
		for _, have := range m.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Mention returns the platform mention syntax for the member.
func (m Member) Mention() string {
	return MentionUser(m.User.ID)
}

// MentionUser returns the platform mention syntax for a user id.
func MentionUser(id string) string {
	return "<@" + id + ">"
}

// MentionRole returns the platform mention syntax for a role id.
func MentionRole(id string) string {
	return "<@&" + id + ">"
}

// MentionChannel returns the platform mention syntax for a channel id.
func MentionChannel(id string) string {
	return "<#" + id + ">"
}

// Message is a posted message. Sub-payloads the bot does not interpret are kept as raw JSON.
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	Content     string
	Author      User
	Timestamp   time.Time
	EditedAt    *time.Time
	ReferenceID string
	Mentions    []User
	Pinned      bool

	RawAttachments json.RawMessage
	RawReactions   json.RawMessage
	RawEmbeds      json.RawMessage
	RawComponents  json.RawMessage
	RawMentions    json.RawMessage
	RawStickers    json.RawMessage
}

// MessageSend is the content of a message to post or an edit to apply.
type MessageSend struct {
	Content string
	Embeds  []Embed
	Buttons []Button
}

// Embed is a rich content block.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
}

// EmbedField is one titled section of an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// ButtonStyle selects a button's appearance.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota + 1
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

// Button is an interactive button whose CustomID is routed back to the bot.
type Button struct {
	Label    string
	CustomID string
	Style    ButtonStyle
}

// Permission is a set of channel permissions the bot manages.
type Permission uint8

const (
	PermView Permission = 1 << iota
	PermSend
	PermReadHistory
	PermAttachFiles
	PermManageMessages
)

// Has reports whether p includes every bit of other.
func (p Permission) Has(other Permission) bool {
	return p&other == other
}

// Package storage provides database operations and data models.
package storage

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	StatusOpen     TicketStatus = "OPEN"
	StatusClosed   TicketStatus = "CLOSED"
	StatusVerified TicketStatus = "VERIFIED"
	StatusDeleted  TicketStatus = "DELETED"
)

// Ticket is one managed channel.
type Ticket struct {
	ID               int64         `db:"id"`
	ChannelID        string        `db:"channel_id"`
	Name             string        `db:"name"`
	Type             string        `db:"type"`
	Status           TicketStatus  `db:"status"`
	CreatorID        string        `db:"creator_id"`
	ServerID         string        `db:"server_id"`
	TheoryhuntID     sql.NullInt64 `db:"theoryhunt_id"`
	CreatedAt        time.Time     `db:"created_at"`
	LastMessage      time.Time     `db:"last_message"`
	LastRename       sql.NullTime  `db:"last_rename"`
	LastVerifierPing sql.NullTime  `db:"last_verifier_ping"`
	Deleted          bool          `db:"deleted"`
}

// Verification is one verifier's approval of a ticket.
type Verification struct {
	ID          int64     `db:"id"`
	TicketID    int64     `db:"ticket_id"`
	VerifierID  string    `db:"verifier_id"`
	ChannelID   string    `db:"channel_id"`
	ChannelName string    `db:"channel_name"`
	CreatedAt   time.Time `db:"created_at"`
}

// TicketDirectory is a live summary message of all tickets of one type in one server.
type TicketDirectory struct {
	ID        int64  `db:"id"`
	ChannelID string `db:"channel_id"`
	MessageID string `db:"message_id"`
	ServerID  string `db:"server_id"`
	Type      string `db:"type"`
}

// TheoryhuntState is the open/closed state of a theoryhunt.
type TheoryhuntState string

const (
	TheoryhuntOpen   TheoryhuntState = "OPEN"
	TheoryhuntClosed TheoryhuntState = "CLOSED"
)

// Theoryhunt is a proposal record with a rendered summary message.
type Theoryhunt struct {
	ID               int64           `db:"id"`
	Name             string          `db:"name"`
	Difficulty       string          `db:"difficulty"`
	DifficultyReason string          `db:"difficulty_reason"`
	Requirements     string          `db:"requirements"`
	Details          string          `db:"details"`
	Description      string          `db:"description"`
	MessageID        string          `db:"message_id"`
	State            TheoryhuntState `db:"state"`
	ServerID         string          `db:"server_id"`
	CreatedAt        time.Time       `db:"created_at"`
}

// Transcript is the durable export of a channel's history.
type Transcript struct {
	ID            int64        `db:"id" json:"-"`
	Slug          string       `db:"slug" json:"slug"`
	ChannelID     string       `db:"channel_id" json:"channel_id"`
	ChannelName   string       `db:"channel_name" json:"channel_name"`
	ServerID      string       `db:"server_id" json:"server_id"`
	TranscriberID string       `db:"transcriber_id" json:"transcriber_id"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	CompletedAt   sql.NullTime `db:"completed_at" json:"-"`
	MessageCount  int          `db:"message_count" json:"message_count"`
}

// QueuedTranscript is the resumable cursor of an in-progress transcript.
type QueuedTranscript struct {
	ID            int64     `db:"id"`
	TranscriptID  int64     `db:"transcript_id"`
	ChannelID     string    `db:"channel_id"`
	Latest        string    `db:"latest"` // oldest message id fetched so far
	UpTo          string    `db:"up_to"`  // exclusive lower bound, "" for none
	Fetched       int       `db:"fetched"`
	BotReplyID    string    `db:"bot_reply_id"`
	BotChannelID  string    `db:"bot_channel_id"`
	DeleteChannel bool      `db:"delete_channel"`
	CreatedAt     time.Time `db:"created_at"`
}

// TranscriptMessage is one normalized message of a transcript.
// Sub-payloads are kept as the platform's raw JSON.
type TranscriptMessage struct {
	TranscriptID int64          `db:"transcript_id" json:"-"`
	MessageID    string         `db:"message_id" json:"id"`
	ChannelID    string         `db:"channel_id" json:"channel_id"`
	AuthorID     string         `db:"author_id" json:"author_id"`
	Content      string         `db:"content" json:"content"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	EditedAt     sql.NullTime   `db:"edited_at" json:"-"`
	ReplyTo      string         `db:"reply_to" json:"reply_to,omitempty"`
	Attachments  types.JSONText `db:"attachments" json:"attachments"`
	Reactions    types.JSONText `db:"reactions" json:"reactions"`
	Embeds       types.JSONText `db:"embeds" json:"embeds"`
	Components   types.JSONText `db:"components" json:"components"`
	Mentions     types.JSONText `db:"mentions" json:"mentions"`
	Stickers     types.JSONText `db:"stickers" json:"stickers"`
}

// User mirrors a platform member of one server.
type User struct {
	DiscordID  string    `db:"discord_id" json:"id"`
	ServerID   string    `db:"server_id" json:"-"`
	Username   string    `db:"username" json:"username"`
	GlobalName string    `db:"global_name" json:"global_name,omitempty"`
	Nickname   string    `db:"nickname" json:"nickname,omitempty"`
	Avatar     string    `db:"avatar" json:"avatar,omitempty"`
	Bot        bool      `db:"bot" json:"bot"`
	UpdatedAt  time.Time `db:"updated_at" json:"-"`
}

// DisplayName returns the most specific name the user is known by.
func (u User) DisplayName() string {
	switch {
	case u.Nickname != "":
		return u.Nickname
	case u.GlobalName != "":
		return u.GlobalName
	default:
		return u.Username
	}
}

// Role mirrors a platform role.
type Role struct {
	DiscordID string    `db:"discord_id"`
	ServerID  string    `db:"server_id"`
	Name      string    `db:"name"`
	Color     int       `db:"color"`
	Position  int       `db:"position"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Channel mirrors a platform channel.
type Channel struct {
	DiscordID string    `db:"discord_id"`
	ServerID  string    `db:"server_id"`
	Name      string    `db:"name"`
	ParentID  string    `db:"parent_id"`
	Position  int       `db:"position"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Server mirrors a platform guild.
type Server struct {
	DiscordID string    `db:"discord_id"`
	Name      string    `db:"name"`
	UpdatedAt time.Time `db:"updated_at"`
}

package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/user/ticketbot/internal/commands"
	"github.com/user/ticketbot/internal/housekeeping"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/tickets"
	"github.com/user/ticketbot/internal/transcript"
	"github.com/user/ticketbot/pkg/logger"
)

// eventTimeout bounds the work done for one gateway event.
const eventTimeout = 30 * time.Second

// MirrorStore is the persistence of the platform mirrors.
type MirrorStore interface {
	UpsertServer(ctx context.Context, srv storage.Server) error
	UpsertUser(ctx context.Context, u storage.User) error
	UpsertRole(ctx context.Context, r storage.Role) error
	DeleteRole(ctx context.Context, discordID, serverID string) error
	UpsertChannel(ctx context.Context, c storage.Channel) error
	DeleteChannel(ctx context.Context, discordID string) error
}

// Deps are the components gateway events are routed to.
type Deps struct {
	Router      *commands.Router
	Engine      *tickets.Engine
	Store       MirrorStore
	Housekeeper *housekeeping.Housekeeper
	Scheduler   *housekeeping.Scheduler
	Pipeline    *transcript.Pipeline
	Moves       *housekeeping.MoveLog
	// Prefix starts message commands such as "!transcript".
	Prefix string
}

// Bot receives gateway events and dispatches them.
type Bot struct {
	session *discordgo.Session
	client  *Client
	deps    Deps
	log     zerolog.Logger

	resumeOnce sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewBot wires event handlers onto an unopened session.
func NewBot(session *discordgo.Session, client *Client, deps Deps) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		session: session,
		client:  client,
		deps:    deps,
		log:     logger.Component("discord"),
		ctx:     ctx,
		cancel:  cancel,
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onGuildCreate)
	session.AddHandler(b.onInteraction)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onMessageDelete)
	session.AddHandler(b.onChannelUpdate)
	session.AddHandler(b.onChannelDelete)
	session.AddHandler(b.onRoleCreate)
	session.AddHandler(b.onRoleUpdate)
	session.AddHandler(b.onRoleDelete)
	session.AddHandler(b.onMemberUpdate)
	return b
}

// Start opens the gateway connection.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.log.Info().Msg("Discord session opened")
	return nil
}

// Stop closes the gateway connection and cancels in-flight event work.
func (b *Bot) Stop() {
	b.cancel()
	if err := b.session.Close(); err != nil {
		b.log.Warn().Err(err).Msg("Failed to close discord session")
	}
	b.log.Info().Msg("Discord session closed")
}

func (b *Bot) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, eventTimeout)
}

// onReady resumes persisted transcripts and starts housekeeping, once per process.
func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("Discord bot ready")

	b.resumeOnce.Do(func() {
		n, err := b.deps.Pipeline.Resume(b.ctx)
		if err != nil {
			b.log.Error().Err(err).Msg("Failed to resume transcripts")
		} else if n > 0 {
			b.log.Info().Int("count", n).Msg("Resumed transcripts")
		}
		b.deps.Scheduler.Start()
	})
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	ctx, cancel := b.eventContext()
	defer cancel()

	now := time.Now().UTC()
	if err := b.deps.Store.UpsertServer(ctx, storage.Server{DiscordID: g.ID, Name: g.Name, UpdatedAt: now}); err != nil {
		b.log.Error().Err(err).Str("guild_id", g.ID).Msg("Failed to mirror server")
	}
	for _, r := range g.Roles {
		if err := b.deps.Store.UpsertRole(ctx, toRole(r, g.ID, now)); err != nil {
			b.log.Error().Err(err).Str("role_id", r.ID).Msg("Failed to mirror role")
		}
	}
	for _, c := range g.Channels {
		mirror := toChannelMirror(c, now)
		mirror.ServerID = g.ID
		if err := b.deps.Store.UpsertChannel(ctx, mirror); err != nil {
			b.log.Error().Err(err).Str("channel_id", c.ID).Msg("Failed to mirror channel")
		}
	}
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	inv, ok := toInvocation(i.Interaction)
	if !ok {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.deps.Router.Dispatch(ctx, inv, &interactionResponder{session: s, interaction: i.Interaction})
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	name, args, ok := commands.ParsePrefix(b.deps.Prefix, m.Content)
	if !ok {
		return
	}
	d, found := b.deps.Router.Lookup(name)
	if !found || !d.Supports(commands.KindMessage) {
		return
	}

	ctx, cancel := b.eventContext()
	defer cancel()
	b.deps.Router.Dispatch(ctx, commands.Invocation{
		Kind:      commands.KindMessage,
		Name:      name,
		Args:      args,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Actor:     toMember(m.Member, m.GuildID, m.Author),
	}, &channelResponder{client: b.client, channelID: m.ChannelID})
}

func (b *Bot) onMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	ctx, cancel := b.eventContext()
	defer cancel()
	if _, err := b.deps.Housekeeper.RemoveDirectoryMessage(ctx, m.ID); err != nil {
		b.log.Error().Err(err).Str("message_id", m.ID).Msg("Failed to handle deleted message")
	}
}

func (b *Bot) onChannelUpdate(s *discordgo.Session, c *discordgo.ChannelUpdate) {
	ctx, cancel := b.eventContext()
	defer cancel()
	now := time.Now().UTC()

	if err := b.deps.Store.UpsertChannel(ctx, toChannelMirror(c.Channel, now)); err != nil {
		b.log.Error().Err(err).Str("channel_id", c.ID).Msg("Failed to mirror channel")
	}

	if before := c.BeforeUpdate; before != nil {
		if before.ParentID != c.ParentID || before.Position != c.Position {
			b.deps.Moves.Push(housekeeping.Move{
				ChannelID:    c.ID,
				Name:         c.Name,
				FromParentID: before.ParentID,
				ToParentID:   c.ParentID,
				FromPosition: before.Position,
				ToPosition:   c.Position,
				At:           now,
			})
		}
		if before.Name == c.Name {
			return
		}
	}
	if err := b.deps.Engine.HandleChannelRenamed(ctx, c.ID, c.Name); err != nil {
		b.log.Error().Err(err).Str("channel_id", c.ID).Msg("Failed to sync ticket name")
	}
}

func (b *Bot) onChannelDelete(s *discordgo.Session, c *discordgo.ChannelDelete) {
	ctx, cancel := b.eventContext()
	defer cancel()
	if err := b.deps.Store.DeleteChannel(ctx, c.ID); err != nil {
		b.log.Error().Err(err).Str("channel_id", c.ID).Msg("Failed to delete channel mirror")
	}
	if err := b.deps.Engine.HandleChannelDeleted(ctx, c.ID); err != nil {
		b.log.Error().Err(err).Str("channel_id", c.ID).Msg("Failed to handle deleted channel")
	}
}

func (b *Bot) onRoleCreate(s *discordgo.Session, r *discordgo.GuildRoleCreate) {
	b.upsertRole(r.GuildRole)
}

func (b *Bot) onRoleUpdate(s *discordgo.Session, r *discordgo.GuildRoleUpdate) {
	b.upsertRole(r.GuildRole)
}

func (b *Bot) upsertRole(r *discordgo.GuildRole) {
	if r == nil || r.Role == nil {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	if err := b.deps.Store.UpsertRole(ctx, toRole(r.Role, r.GuildID, time.Now().UTC())); err != nil {
		b.log.Error().Err(err).Str("role_id", r.Role.ID).Msg("Failed to mirror role")
	}
}

func (b *Bot) onRoleDelete(s *discordgo.Session, r *discordgo.GuildRoleDelete) {
	ctx, cancel := b.eventContext()
	defer cancel()
	if err := b.deps.Store.DeleteRole(ctx, r.RoleID, r.GuildID); err != nil {
		b.log.Error().Err(err).Str("role_id", r.RoleID).Msg("Failed to delete role mirror")
	}
}

func (b *Bot) onMemberUpdate(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.Member == nil || m.User == nil {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	member := toMember(m.Member, m.GuildID, nil)
	u := storage.User{
		DiscordID:  member.User.ID,
		ServerID:   member.GuildID,
		Username:   member.User.Username,
		GlobalName: member.User.GlobalName,
		Nickname:   member.Nick,
		Avatar:     member.User.Avatar,
		Bot:        member.User.Bot,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := b.deps.Store.UpsertUser(ctx, u); err != nil {
		b.log.Error().Err(err).Str("user_id", u.DiscordID).Msg("Failed to mirror user")
	}
}

func toRole(r *discordgo.Role, guildID string, now time.Time) storage.Role {
	return storage.Role{
		DiscordID: r.ID,
		ServerID:  guildID,
		Name:      r.Name,
		Color:     r.Color,
		Position:  r.Position,
		UpdatedAt: now,
	}
}

func toChannelMirror(c *discordgo.Channel, now time.Time) storage.Channel {
	return storage.Channel{
		DiscordID: c.ID,
		ServerID:  c.GuildID,
		Name:      c.Name,
		ParentID:  c.ParentID,
		Position:  c.Position,
		UpdatedAt: now,
	}
}
